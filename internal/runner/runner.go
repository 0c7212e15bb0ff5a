// Package runner is the autonomous execution loop. It ticks on a
// timer, walks every active campaign, enforces the calling window and
// the credit balance through the same transition contract the UI uses,
// and dials eligible contacts up to each campaign's concurrency cap.
//
// The loop never decides legality itself: pausing, resuming and
// completing all go through campaign.RequestTransition.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/config"
	"dialer-platform/internal/credit"
	"dialer-platform/internal/pricing"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"
)

type Service struct {
	cfg       config.RunnerConfig
	campaigns *campaign.Service
	repo      campaign.Repository
	attempts  attempt.Repository
	credits   *credit.Service
	rates     *pricing.Service
	provider  telephony.Provider
	rdb       *redis.Client
	clock     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.RunnerConfig, campaigns *campaign.Service, repo campaign.Repository,
	attempts attempt.Repository, credits *credit.Service, rates *pricing.Service,
	provider telephony.Provider, rdb *redis.Client) *Service {
	return &Service{
		cfg:       cfg,
		campaigns: campaigns,
		repo:      repo,
		attempts:  attempts,
		credits:   credits,
		rates:     rates,
		provider:  provider,
		rdb:       rdb,
		clock:     time.Now,
	}
}

// Start launches the poll loop in the background. Stop blocks until
// the loop has drained.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	log := logger.From(ctx)
	log.Info("campaign runner started", "poll_interval", s.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			log.Info("campaign runner stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every active campaign once. Exported so tests and
// operational tooling can drive the loop without the timer.
func (s *Service) Tick(ctx context.Context) {
	log := logger.From(ctx)

	active, err := s.repo.ListByStatus(ctx, campaign.StatusActive)
	if err != nil {
		log.Error("listing active campaigns failed", "error", err)
		return
	}
	for _, c := range active {
		if ctx.Err() != nil {
			return
		}
		if err := s.processCampaign(ctx, c); err != nil {
			log.Error("campaign tick failed", "campaign_id", c.ID, "error", err)
		}
	}
}

func (s *Service) processCampaign(ctx context.Context, c campaign.Campaign) error {
	now := s.clock()

	open, err := c.Window.IsOpen(now)
	if err != nil {
		return err
	}
	if !open {
		_, err := s.campaigns.RequestTransition(ctx, c.UserID, c.ID, campaign.StatusPaused, campaign.PausedOutsideCallingHours)
		return err
	}

	// Exhaustion is judged from the campaign's own point of view: its
	// outstanding hold is spendable by it, so an admission whose hold was
	// clamped to the whole remaining balance keeps dialing instead of
	// bouncing straight back to paused.
	available, err := s.credits.AvailableToCampaign(ctx, c.UserID, c.ID)
	if err != nil && !errors.Is(err, credit.ErrNotFound) {
		return err
	}
	if available <= 0 {
		_, err := s.campaigns.RequestTransition(ctx, c.UserID, c.ID, campaign.StatusPaused, campaign.PausedInsufficientCredits)
		return err
	}

	inFlight, err := s.attempts.CountInFlight(ctx, c.ID)
	if err != nil {
		return err
	}
	capacity := c.ConcurrentCalls - inFlight
	if capacity <= 0 {
		return nil
	}

	contacts, err := s.attempts.EligibleContacts(ctx, c.ID, c.MaxRetryDays, capacity)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		if inFlight == 0 {
			// Every contact is either reached or past its retry
			// horizon and the last call has settled.
			_, err := s.campaigns.RequestTransition(ctx, c.UserID, c.ID, campaign.StatusCompleted, "")
			return err
		}
		return nil
	}

	for _, contact := range contacts {
		if err := s.dial(ctx, c, contact); err != nil {
			logger.From(ctx).Warn("dial failed",
				"campaign_id", c.ID, "contact_id", contact.ID, "error", err)
		}
	}
	return nil
}

// dial places one call, holding a redis slot so replicas of this loop
// cannot exceed the campaign's cap between ticks.
func (s *Service) dial(ctx context.Context, c campaign.Campaign, contact attempt.Contact) error {
	slotKey := dialSlotKey(c.ID)
	ok, err := utils.AcquireDialSlot(ctx, s.rdb, slotKey, c.ConcurrentCalls, s.cfg.DialSlotTTL)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	a := attempt.Attempt{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		ContactID:  contact.ID,
		UserID:     c.UserID,
		Status:     attempt.StatusInProgress,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.attempts.Create(ctx, a); err != nil {
		s.releaseSlot(ctx, slotKey)
		return err
	}

	res, err := s.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		UserID:      c.UserID,
		CampaignID:  c.ID,
		AttemptID:   a.ID,
		AgentID:     c.AgentID,
		PhoneNumber: contact.PhoneNumber,
		ContactName: contact.Name,
	})
	if err != nil {
		s.releaseSlot(ctx, slotKey)
		if markErr := s.attempts.MarkDialFailed(ctx, a.ID, s.clock().UTC()); markErr != nil {
			logger.From(ctx).Error("closing failed dial attempt", "attempt_id", a.ID, "error", markErr)
		}
		return err
	}
	if err := s.attempts.MarkDialed(ctx, a.ID, res.ExternalCallID); err != nil {
		// Without the external id on record the completion webhook can
		// never settle this attempt, so close it and free the slot rather
		// than count it in flight forever.
		s.releaseSlot(ctx, slotKey)
		if markErr := s.attempts.MarkDialFailed(ctx, a.ID, s.clock().UTC()); markErr != nil {
			logger.From(ctx).Error("closing unsettleable attempt", "attempt_id", a.ID, "error", markErr)
		}
		return err
	}
	return nil
}

// ConcludeCall settles a finished call reported by the completion
// webhook: the attempt row is finalized, real usage is deducted, and
// the campaign's dial slot is freed. Implements telephony.Concluder.
//
// The usage deduction is keyed by the external call id, so a
// redelivered webhook can never charge twice.
func (s *Service) ConcludeCall(ctx context.Context, ev telephony.CallCompletedEvent) error {
	status, err := ev.AttemptStatus()
	if err != nil {
		return err
	}

	a, err := s.attempts.ByExternalCallID(ctx, ev.ExternalCallID)
	if err != nil {
		return err
	}

	endedAt := ev.EndedAt
	if endedAt.IsZero() {
		endedAt = s.clock().UTC()
	}
	if err := s.attempts.Conclude(ctx, attempt.ConcludeRequest{
		ExternalCallID:  ev.ExternalCallID,
		Status:          status,
		DurationSeconds: ev.DurationSeconds,
		Appointment:     ev.Appointment,
		EndedAt:         endedAt,
	}); err != nil {
		return err
	}

	if cost := s.rates.CallCostMinor(ev.DurationSeconds); cost > 0 {
		_, _, err := s.credits.Deduct(ctx, a.UserID, credit.DeductRequest{
			AmountMinor:    cost,
			Description:    "outbound call usage",
			CampaignID:     a.CampaignID,
			CallID:         ev.ExternalCallID,
			IdempotencyKey: "call:" + ev.ExternalCallID,
		})
		if err != nil {
			return err
		}
	}

	s.releaseSlot(ctx, dialSlotKey(a.CampaignID))
	return nil
}

func (s *Service) releaseSlot(ctx context.Context, key string) {
	if err := utils.ReleaseDialSlot(ctx, s.rdb, key); err != nil {
		logger.From(ctx).Warn("dial slot release failed", "key", key, "error", err)
	}
}

func dialSlotKey(campaignID string) string {
	return "dialslots:" + campaignID
}
