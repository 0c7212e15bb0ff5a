package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/callwindow"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/config"
	"dialer-platform/internal/credit"
	"dialer-platform/internal/pricing"
	"dialer-platform/internal/telephony"
)

// Wednesday 10:00 in America/New_York.
var insideWindow = time.Date(2023, 11, 15, 15, 0, 0, 0, time.UTC)

// Saturday 10:00 in America/New_York.
var outsideWindow = time.Date(2023, 11, 18, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	svc       *Service
	campaigns *campaign.Service
	repo      *campaign.MemoryRepo
	attempts  *attempt.MemoryRepo
	store     *credit.MemoryStore
	credits   *credit.Service
	provider  *telephony.MockProvider
}

type flatEstimator struct{}

func (flatEstimator) CampaignEstimateMinor(contactCount int) int64 { return int64(contactCount) * 10 }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := campaign.NewMemoryRepo()
	store := credit.NewMemoryStore()
	credits := credit.NewService(store)
	campaigns := campaign.NewService(repo, credits, flatEstimator{}, nil)
	attempts := attempt.NewMemoryRepo()
	provider := telephony.NewMockProvider()
	rates, err := pricing.NewService(pricing.Rate{RatePerMinuteMinor: 15, BillingIncrementSeconds: 60, EstimatedMinutesPerContact: 2})
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}

	cfg := config.RunnerConfig{PollInterval: 10 * time.Millisecond, DialSlotTTL: time.Minute}
	svc := New(cfg, campaigns, repo, attempts, credits, rates, provider, rdb)
	svc.clock = func() time.Time { return insideWindow }
	attempts.Now = func() time.Time { return svc.clock() }

	return &testEnv{svc: svc, campaigns: campaigns, repo: repo, attempts: attempts, store: store, credits: credits, provider: provider}
}

func (e *testEnv) activeCampaign(t *testing.T, contacts []attempt.Contact) campaign.Campaign {
	t.Helper()
	c, err := e.campaigns.Create(context.Background(), "u1", campaign.CreateRequest{
		Name:            "outreach",
		AgentID:         "agent-1",
		ContactGroupID:  "group-1",
		ContactCount:    len(contacts),
		ConcurrentCalls: 2,
		Window: callwindow.Window{
			Timezone: "America/New_York",
			Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			Start:    callwindow.TimeOfDay{Hour: 9},
			End:      callwindow.TimeOfDay{Hour: 17},
		},
		MaxRetryDays: 7,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	e.attempts.SeedContacts(c.ID, contacts)
	if _, err := e.campaigns.RequestTransition(context.Background(), "u1", c.ID, campaign.StatusActive, ""); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return c
}

func contactPool(n int) []attempt.Contact {
	out := make([]attempt.Contact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, attempt.Contact{ID: string(rune('a' + i)), PhoneNumber: "+1555000000" + string(rune('0'+i))})
	}
	return out
}

func TestTick_PausesOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(3))

	env.svc.clock = func() time.Time { return outsideWindow }
	env.svc.Tick(context.Background())

	got, _ := env.repo.Get(context.Background(), "u1", c.ID)
	if got.Status != campaign.StatusPaused || got.PausedReason != campaign.PausedOutsideCallingHours {
		t.Fatalf("expected paused/outside_calling_hours, got %s/%q", got.Status, got.PausedReason)
	}
	if len(env.provider.Placed) != 0 {
		t.Fatalf("no calls may be placed outside the window")
	}
}

func TestTick_PausesWhenCreditsExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 0, 0)
	c := env.activeCampaign(t, contactPool(3))

	env.svc.Tick(context.Background())

	got, _ := env.repo.Get(context.Background(), "u1", c.ID)
	if got.Status != campaign.StatusPaused || got.PausedReason != campaign.PausedInsufficientCredits {
		t.Fatalf("expected paused/insufficient_credits, got %s/%q", got.Status, got.PausedReason)
	}
}

func TestTick_DialsWhenHoldConsumesWholeBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 20, 0)
	c := env.activeCampaign(t, contactPool(3)) // estimate 30 against balance 20

	// Pause and resume: the lenient admission clamps the hold to the
	// whole remaining balance, leaving account-level available at zero.
	if _, err := env.campaigns.RequestTransition(context.Background(), "u1", c.ID, campaign.StatusPaused, ""); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := env.campaigns.RequestTransition(context.Background(), "u1", c.ID, campaign.StatusActive, ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	acct, _ := env.credits.GetAccount(context.Background(), "u1")
	if acct.AvailableMinor() != 0 {
		t.Fatalf("expected the hold to take the whole balance, available %d", acct.AvailableMinor())
	}

	env.svc.Tick(context.Background())

	got, _ := env.repo.Get(context.Background(), "u1", c.ID)
	if got.Status != campaign.StatusActive {
		t.Fatalf("admitted campaign must keep dialing, got %s/%q", got.Status, got.PausedReason)
	}
	if len(env.provider.Placed) != 2 {
		t.Fatalf("expected dials up to the cap, got %d", len(env.provider.Placed))
	}
}

func TestTick_DialsUpToConcurrencyCap(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(5))

	env.svc.Tick(context.Background())

	if len(env.provider.Placed) != 2 {
		t.Fatalf("expected 2 dials (cap), got %d", len(env.provider.Placed))
	}
	inFlight, _ := env.attempts.CountInFlight(context.Background(), c.ID)
	if inFlight != 2 {
		t.Fatalf("expected 2 in-flight attempts, got %d", inFlight)
	}

	// A second tick at full capacity must not dial more.
	env.svc.Tick(context.Background())
	if len(env.provider.Placed) != 2 {
		t.Fatalf("expected no extra dials at capacity, got %d", len(env.provider.Placed))
	}
}

func TestTick_FailedDialDoesNotLeakCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(2))

	env.provider.Err = errors.New("platform down")
	env.svc.Tick(context.Background())

	inFlight, _ := env.attempts.CountInFlight(context.Background(), c.ID)
	if inFlight != 0 {
		t.Fatalf("failed dials must not stay in flight, got %d", inFlight)
	}

	env.provider.Err = nil
	env.svc.Tick(context.Background())
	if len(env.provider.Placed) == 0 {
		t.Fatal("expected dials to resume once the platform recovers")
	}
}

// dialedFailRepo fails MarkDialed while the flag is set.
type dialedFailRepo struct {
	*attempt.MemoryRepo
	fail bool
}

func (r *dialedFailRepo) MarkDialed(ctx context.Context, attemptID, externalCallID string) error {
	if r.fail {
		return errors.New("store down")
	}
	return r.MemoryRepo.MarkDialed(ctx, attemptID, externalCallID)
}

func TestTick_MarkDialedFailureDoesNotLeakCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(2))

	wrapped := &dialedFailRepo{MemoryRepo: env.attempts, fail: true}
	env.svc.attempts = wrapped

	env.svc.Tick(context.Background())
	if len(env.provider.Placed) != 2 {
		t.Fatalf("expected 2 dials, got %d", len(env.provider.Placed))
	}

	// Without a recorded external id the attempts can never be settled;
	// they must be closed, not counted in flight.
	inFlight, _ := env.attempts.CountInFlight(context.Background(), c.ID)
	if inFlight != 0 {
		t.Fatalf("unsettleable attempts must not stay in flight, got %d", inFlight)
	}

	wrapped.fail = false
	env.svc.Tick(context.Background())
	if len(env.provider.Placed) <= 2 {
		t.Fatalf("expected dialing to continue once the store recovers, got %d", len(env.provider.Placed))
	}
}

func TestTick_CompletesWhenPoolExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(1))

	env.svc.Tick(context.Background())
	if len(env.provider.Placed) != 1 {
		t.Fatalf("expected 1 dial, got %d", len(env.provider.Placed))
	}

	// Settle the only call, then the next tick finds nothing to do.
	a := findAttempt(t, env, c.ID)
	if err := env.svc.ConcludeCall(context.Background(), telephony.CallCompletedEvent{
		ExternalCallID:  a.ExternalCallID,
		Status:          "completed",
		DurationSeconds: 60,
		EndedAt:         insideWindow.Add(time.Minute),
	}); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	env.svc.Tick(context.Background())
	got, _ := env.repo.Get(context.Background(), "u1", c.ID)
	if got.Status != campaign.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at must be set")
	}
}

func TestConcludeCall_SettlesUsageOnce(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(1))
	env.svc.Tick(context.Background())

	a := findAttempt(t, env, c.ID)
	ev := telephony.CallCompletedEvent{
		ExternalCallID:  a.ExternalCallID,
		Status:          "completed",
		DurationSeconds: 90, // 2 billable minutes at 15/min
		EndedAt:         insideWindow.Add(2 * time.Minute),
	}
	if err := env.svc.ConcludeCall(context.Background(), ev); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	acct, err := env.credits.GetAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.BalanceMinor != 10000-30 {
		t.Fatalf("expected balance 9970, got %d", acct.BalanceMinor)
	}

	// Redelivered webhook: attempt already concluded, nothing re-charged.
	if err := env.svc.ConcludeCall(context.Background(), ev); !errors.Is(err, attempt.ErrAlreadyConcluded) {
		t.Fatalf("expected ErrAlreadyConcluded, got %v", err)
	}
	acct, _ = env.credits.GetAccount(context.Background(), "u1")
	if acct.BalanceMinor != 10000-30 {
		t.Fatalf("duplicate webhook must not charge twice, balance %d", acct.BalanceMinor)
	}
}

func TestConcludeCall_ZeroDurationCostsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.store.Seed("u1", 10000, 0)
	c := env.activeCampaign(t, contactPool(1))
	env.svc.Tick(context.Background())

	a := findAttempt(t, env, c.ID)
	if err := env.svc.ConcludeCall(context.Background(), telephony.CallCompletedEvent{
		ExternalCallID: a.ExternalCallID,
		Status:         "no_answer",
		EndedAt:        insideWindow.Add(time.Minute),
	}); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	acct, _ := env.credits.GetAccount(context.Background(), "u1")
	if acct.BalanceMinor != 10000 {
		t.Fatalf("no-answer must not cost, balance %d", acct.BalanceMinor)
	}
}

func findAttempt(t *testing.T, env *testEnv, campaignID string) attempt.Attempt {
	t.Helper()
	list, err := env.attempts.ListByCampaign(context.Background(), campaignID)
	if err != nil || len(list) == 0 {
		t.Fatalf("no attempts found: %v", err)
	}
	return list[0]
}
