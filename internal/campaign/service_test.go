package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"dialer-platform/internal/callwindow"
	"dialer-platform/internal/credit"
)

type flatEstimator struct{ perContactMinor int64 }

func (f flatEstimator) CampaignEstimateMinor(contactCount int) int64 {
	return int64(contactCount) * f.perContactMinor
}

type capturePublisher struct{ events []StatusChange }

func (p *capturePublisher) PublishStatusChange(_ context.Context, ev StatusChange) error {
	p.events = append(p.events, ev)
	return nil
}

func weekdayWindow() callwindow.Window {
	return callwindow.Window{
		Timezone: "America/New_York",
		Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Start:    callwindow.TimeOfDay{Hour: 9},
		End:      callwindow.TimeOfDay{Hour: 17},
	}
}

type testEnv struct {
	svc     *Service
	repo    *MemoryRepo
	store   *credit.MemoryStore
	pub     *capturePublisher
	credits *credit.Service
}

func newTestEnv() *testEnv {
	repo := NewMemoryRepo()
	store := credit.NewMemoryStore()
	credits := credit.NewService(store)
	pub := &capturePublisher{}
	svc := NewService(repo, credits, flatEstimator{perContactMinor: 10}, pub)
	svc.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return &testEnv{svc: svc, repo: repo, store: store, pub: pub, credits: credits}
}

func (e *testEnv) create(t *testing.T, req CreateRequest) Campaign {
	t.Helper()
	c, err := e.svc.Create(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func readyRequest() CreateRequest {
	return CreateRequest{
		Name:            "q4 outreach",
		AgentID:         "agent-1",
		ContactGroupID:  "group-1",
		ContactCount:    100,
		ConcurrentCalls: 3,
		Window:          weekdayWindow(),
		MaxRetryDays:    7,
	}
}

func TestRequestTransition_MissingAgent(t *testing.T) {
	env := newTestEnv()
	req := readyRequest()
	req.AgentID = ""
	c := env.create(t, req)

	_, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if !errors.Is(err, ErrMissingPrerequisite) {
		t.Fatalf("expected ErrMissingPrerequisite, got %v", err)
	}

	got, _ := env.repo.Get(context.Background(), "u1", c.ID)
	if got.Status != StatusDraft {
		t.Fatalf("failed transition must not change status, got %s", got.Status)
	}
}

func TestRequestTransition_MissingContacts(t *testing.T) {
	env := newTestEnv()
	req := readyRequest()
	req.ContactCount = 0
	c := env.create(t, req)

	_, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if !errors.Is(err, ErrMissingPrerequisite) {
		t.Fatalf("expected ErrMissingPrerequisite, got %v", err)
	}
}

func TestRequestTransition_NoActiveDays(t *testing.T) {
	env := newTestEnv()
	req := readyRequest()
	req.Window.Days = nil
	c := env.create(t, req)

	_, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if !errors.Is(err, callwindow.ErrNoEligibleWindow) {
		t.Fatalf("expected ErrNoEligibleWindow, got %v", err)
	}
}

func TestRequestTransition_StartedAtSetOnceAndIdempotent(t *testing.T) {
	env := newTestEnv()
	c := env.create(t, readyRequest())

	first, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if first.StartedAt == nil {
		t.Fatal("started_at must be set on first activation")
	}

	env.svc.clock = func() time.Time { return time.Unix(1700009999, 0).UTC() }
	second, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if err != nil {
		t.Fatalf("repeated activate: %v", err)
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Fatalf("repeated activate must not move started_at: %v vs %v", second.StartedAt, first.StartedAt)
	}
}

func TestRequestTransition_IllegalEdges(t *testing.T) {
	env := newTestEnv()
	c := env.create(t, readyRequest())

	// draft -> completed is not an edge.
	if _, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusCompleted, ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("draft -> completed: expected ErrIllegalTransition, got %v", err)
	}

	mustTransition(t, env, c.ID, StatusActive, "")
	mustTransition(t, env, c.ID, StatusCompleted, "")

	for _, target := range []Status{StatusDraft, StatusScheduled, StatusActive, StatusPaused} {
		if _, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, target, ""); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("completed -> %s: expected ErrIllegalTransition, got %v", target, err)
		}
	}
}

func TestRequestTransition_PauseSetsReasonResumeClears(t *testing.T) {
	env := newTestEnv()
	env.store.Seed("u1", 10000, 0)
	c := env.create(t, readyRequest())
	mustTransition(t, env, c.ID, StatusActive, "")

	paused := mustTransition(t, env, c.ID, StatusPaused, PausedOutsideCallingHours)
	if paused.PausedReason != PausedOutsideCallingHours {
		t.Fatalf("expected paused_reason set, got %q", paused.PausedReason)
	}

	resumed := mustTransition(t, env, c.ID, StatusActive, "")
	if resumed.PausedReason != "" {
		t.Fatalf("resume must clear paused_reason, got %q", resumed.PausedReason)
	}
}

func TestRequestTransition_PauseDefaultsToUserRequested(t *testing.T) {
	env := newTestEnv()
	c := env.create(t, readyRequest())
	mustTransition(t, env, c.ID, StatusActive, "")

	paused := mustTransition(t, env, c.ID, StatusPaused, "")
	if paused.PausedReason != PausedUserRequested {
		t.Fatalf("expected user_requested, got %q", paused.PausedReason)
	}
}

func TestRequestTransition_ResumeDeniedWithoutCredits(t *testing.T) {
	env := newTestEnv()
	env.store.Seed("u1", 0, 0)
	c := env.create(t, readyRequest())
	mustTransition(t, env, c.ID, StatusActive, "")
	mustTransition(t, env, c.ID, StatusPaused, PausedInsufficientCredits)

	_, err := env.svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if !errors.Is(err, ErrCreditAdmissionDenied) {
		t.Fatalf("expected ErrCreditAdmissionDenied, got %v", err)
	}

	got, _ := env.repo.Get(context.Background(), "u1", c.ID)
	if got.Status != StatusPaused || got.PausedReason != PausedInsufficientCredits {
		t.Fatalf("denied resume must leave campaign paused with reason, got %s/%q", got.Status, got.PausedReason)
	}
}

func TestRequestTransition_CompleteReleasesReservation(t *testing.T) {
	env := newTestEnv()
	env.store.Seed("u1", 10000, 0)
	c := env.create(t, readyRequest())
	mustTransition(t, env, c.ID, StatusActive, "")
	mustTransition(t, env, c.ID, StatusPaused, "")
	mustTransition(t, env, c.ID, StatusActive, "") // resume reserves 100 contacts * 10

	done := mustTransition(t, env, c.ID, StatusCompleted, "")
	if done.CompletedAt == nil {
		t.Fatal("completed_at must be set")
	}

	acct, err := env.credits.GetAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.ReservedMinor != 0 {
		t.Fatalf("completion must release the hold, reserved = %d", acct.ReservedMinor)
	}
}

func TestRequestTransition_PublishesStatusChanges(t *testing.T) {
	env := newTestEnv()
	c := env.create(t, readyRequest())
	mustTransition(t, env, c.ID, StatusActive, "")
	mustTransition(t, env, c.ID, StatusPaused, PausedOutsideCallingHours)

	if len(env.pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(env.pub.events))
	}
	last := env.pub.events[1]
	if last.From != StatusActive || last.To != StatusPaused || last.Reason != PausedOutsideCallingHours {
		t.Fatalf("unexpected event: %+v", last)
	}
}

// conflictRepo fails the first n Update calls with a version conflict.
type conflictRepo struct {
	*MemoryRepo
	remaining int
}

func (r *conflictRepo) Update(ctx context.Context, c Campaign) (Campaign, error) {
	if r.remaining > 0 {
		r.remaining--
		return Campaign{}, ErrVersionConflict
	}
	return r.MemoryRepo.Update(ctx, c)
}

func TestRequestTransition_RetriesThenSucceeds(t *testing.T) {
	env := newTestEnv()
	c := env.create(t, readyRequest())

	repo := &conflictRepo{MemoryRepo: env.repo, remaining: 2}
	svc := NewService(repo, env.credits, flatEstimator{perContactMinor: 10}, nil)

	got, err := svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
}

func TestRequestTransition_RetriesExhausted(t *testing.T) {
	env := newTestEnv()
	c := env.create(t, readyRequest())

	repo := &conflictRepo{MemoryRepo: env.repo, remaining: transitionRetries}
	svc := NewService(repo, env.credits, flatEstimator{perContactMinor: 10}, nil)

	_, err := svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, "")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

// brokenRepo fails every Update with a plain store error.
type brokenRepo struct {
	*MemoryRepo
}

func (r *brokenRepo) Update(ctx context.Context, c Campaign) (Campaign, error) {
	return Campaign{}, errors.New("store unavailable")
}

func TestRequestTransition_FailedResumeCommitReleasesHold(t *testing.T) {
	env := newTestEnv()
	env.store.Seed("u1", 10000, 0)
	c := env.create(t, readyRequest())
	mustTransition(t, env, c.ID, StatusActive, "")
	mustTransition(t, env, c.ID, StatusPaused, "")

	svc := NewService(&brokenRepo{MemoryRepo: env.repo}, env.credits, flatEstimator{perContactMinor: 10}, nil)

	if _, err := svc.RequestTransition(context.Background(), "u1", c.ID, StatusActive, ""); err == nil {
		t.Fatal("expected the resume commit to fail")
	}

	acct, err := env.credits.GetAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.ReservedMinor != 0 {
		t.Fatalf("failed resume must not leave a hold outstanding, reserved = %d", acct.ReservedMinor)
	}
}

// The full lifecycle: prerequisite failure, assignment, activation,
// credit exhaustion mid-run, top-up, resume.
func TestCampaignLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	req := readyRequest()
	req.AgentID = ""
	req.ContactGroupID = ""
	req.ContactCount = 0
	c := env.create(t, req)

	if _, err := env.svc.RequestTransition(ctx, "u1", c.ID, StatusActive, ""); !errors.Is(err, ErrMissingPrerequisite) {
		t.Fatalf("expected ErrMissingPrerequisite, got %v", err)
	}

	agent, group, count := "agent-1", "group-1", 100
	if _, err := env.svc.Update(ctx, "u1", c.ID, UpdateRequest{AgentID: &agent, ContactGroupID: &group, ContactCount: &count}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	active := mustTransition(t, env, c.ID, StatusActive, "")
	if active.StartedAt == nil {
		t.Fatal("started_at must be set")
	}

	// The execution loop detects exhaustion and pauses.
	paused := mustTransition(t, env, c.ID, StatusPaused, PausedInsufficientCredits)
	if paused.PausedReason != PausedInsufficientCredits {
		t.Fatalf("expected insufficient_credits, got %q", paused.PausedReason)
	}

	if _, err := env.svc.RequestTransition(ctx, "u1", c.ID, StatusActive, ""); !errors.Is(err, ErrCreditAdmissionDenied) {
		t.Fatalf("expected ErrCreditAdmissionDenied, got %v", err)
	}

	if _, _, err := env.credits.Purchase(ctx, "u1", credit.PurchaseRequest{AmountMinor: 5000, Description: "top up", IdempotencyKey: "purchase-1"}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	resumed := mustTransition(t, env, c.ID, StatusActive, "")
	if resumed.PausedReason != "" {
		t.Fatalf("paused_reason must be cleared, got %q", resumed.PausedReason)
	}
	if !resumed.StartedAt.Equal(*active.StartedAt) {
		t.Fatal("resume must not move started_at")
	}
}

func mustTransition(t *testing.T, env *testEnv, id string, target Status, reason PausedReason) Campaign {
	t.Helper()
	c, err := env.svc.RequestTransition(context.Background(), "u1", id, target, reason)
	if err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
	return c
}
