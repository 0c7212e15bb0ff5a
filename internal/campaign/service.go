package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dialer-platform/internal/callwindow"
	"dialer-platform/internal/credit"
	"dialer-platform/pkg/logger"
)

var (
	ErrIllegalTransition      = errors.New("campaign: illegal transition")
	ErrMissingPrerequisite    = errors.New("campaign: missing prerequisite")
	ErrCreditAdmissionDenied  = errors.New("campaign: credit admission denied")
	ErrConcurrentModification = errors.New("campaign: concurrent modification")
	ErrInvalidArgument        = errors.New("campaign: invalid argument")
)

// transitionRetries bounds how many times a transition is replayed
// against fresh state after losing an optimistic concurrency race.
const transitionRetries = 3

// CostEstimator prices a campaign's expected spend for admission control.
type CostEstimator interface {
	CampaignEstimateMinor(contactCount int) int64
}

// StatusChange is emitted after every committed transition so observers
// (dashboards, the execution loop) can react without polling.
type StatusChange struct {
	CampaignID string       `json:"campaign_id"`
	UserID     string       `json:"user_id"`
	From       Status       `json:"from"`
	To         Status       `json:"to"`
	Reason     PausedReason `json:"reason,omitempty"`
	At         time.Time    `json:"at"`
}

// StatusPublisher delivers status changes to out-of-process observers.
// Publishing is best effort: a failed publish never rolls back the
// transition, it is only logged.
type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, ev StatusChange) error
}

type Service struct {
	repo      Repository
	credits   *credit.Service
	estimator CostEstimator
	publisher StatusPublisher
	clock     func() time.Time
}

func NewService(repo Repository, credits *credit.Service, estimator CostEstimator, publisher StatusPublisher) *Service {
	return &Service{
		repo:      repo,
		credits:   credits,
		estimator: estimator,
		publisher: publisher,
		clock:     time.Now,
	}
}

type CreateRequest struct {
	Name            string            `json:"name"`
	AgentID         string            `json:"agent_id"`
	ContactGroupID  string            `json:"contact_group_id"`
	ContactCount    int               `json:"contact_count"`
	ConcurrentCalls int               `json:"concurrent_calls"`
	Window          callwindow.Window `json:"calling_window"`
	MaxRetryDays    int               `json:"max_retry_days"`
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Campaign, error) {
	if userID == "" {
		return Campaign{}, fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}
	if req.Name == "" {
		return Campaign{}, fmt.Errorf("%w: name required", ErrInvalidArgument)
	}
	if req.ConcurrentCalls < 1 {
		return Campaign{}, fmt.Errorf("%w: concurrent_calls must be positive", ErrInvalidArgument)
	}
	if req.MaxRetryDays < 1 {
		return Campaign{}, fmt.Errorf("%w: max_retry_days must be positive", ErrInvalidArgument)
	}
	if err := req.Window.Validate(); err != nil && !errors.Is(err, callwindow.ErrNoEligibleWindow) {
		// A draft may be saved before active days are picked; the window
		// shape itself must still be sound.
		return Campaign{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	now := s.clock().UTC()
	c := Campaign{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            req.Name,
		AgentID:         req.AgentID,
		ContactGroupID:  req.ContactGroupID,
		ContactCount:    req.ContactCount,
		Status:          StatusDraft,
		ConcurrentCalls: req.ConcurrentCalls,
		Window:          req.Window,
		MaxRetryDays:    req.MaxRetryDays,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (Campaign, error) {
	return s.repo.Get(ctx, userID, id)
}

func (s *Service) List(ctx context.Context, userID string) ([]Campaign, error) {
	return s.repo.ListByUser(ctx, userID)
}

// UpdateRequest carries optional configuration changes. Nil fields are
// left untouched.
type UpdateRequest struct {
	Name            *string            `json:"name,omitempty"`
	AgentID         *string            `json:"agent_id,omitempty"`
	ContactGroupID  *string            `json:"contact_group_id,omitempty"`
	ContactCount    *int               `json:"contact_count,omitempty"`
	ConcurrentCalls *int               `json:"concurrent_calls,omitempty"`
	Window          *callwindow.Window `json:"calling_window,omitempty"`
	MaxRetryDays    *int               `json:"max_retry_days,omitempty"`
}

// Update patches campaign configuration. Completed campaigns are frozen.
func (s *Service) Update(ctx context.Context, userID, id string, req UpdateRequest) (Campaign, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		c, err := s.repo.Get(ctx, userID, id)
		if err != nil {
			return Campaign{}, err
		}
		if c.Status == StatusCompleted {
			return Campaign{}, fmt.Errorf("%w: completed campaigns cannot be modified", ErrIllegalTransition)
		}
		if req.Name != nil {
			if *req.Name == "" {
				return Campaign{}, fmt.Errorf("%w: name required", ErrInvalidArgument)
			}
			c.Name = *req.Name
		}
		if req.AgentID != nil {
			c.AgentID = *req.AgentID
		}
		if req.ContactGroupID != nil {
			c.ContactGroupID = *req.ContactGroupID
		}
		if req.ContactCount != nil {
			if *req.ContactCount < 0 {
				return Campaign{}, fmt.Errorf("%w: contact_count cannot be negative", ErrInvalidArgument)
			}
			c.ContactCount = *req.ContactCount
		}
		if req.ConcurrentCalls != nil {
			if *req.ConcurrentCalls < 1 {
				return Campaign{}, fmt.Errorf("%w: concurrent_calls must be positive", ErrInvalidArgument)
			}
			c.ConcurrentCalls = *req.ConcurrentCalls
		}
		if req.Window != nil {
			if err := req.Window.Validate(); err != nil && !errors.Is(err, callwindow.ErrNoEligibleWindow) {
				return Campaign{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			c.Window = *req.Window
		}
		if req.MaxRetryDays != nil {
			if *req.MaxRetryDays < 1 {
				return Campaign{}, fmt.Errorf("%w: max_retry_days must be positive", ErrInvalidArgument)
			}
			c.MaxRetryDays = *req.MaxRetryDays
		}
		c.UpdatedAt = s.clock().UTC()

		committed, err := s.repo.Update(ctx, c)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Campaign{}, err
		}
		return committed, nil
	}
	return Campaign{}, fmt.Errorf("%w: update lost %d races", ErrConcurrentModification, transitionRetries)
}

// Delete removes the campaign and returns any outstanding credit hold.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	if err := s.credits.Release(ctx, userID, id); err != nil {
		logger.From(ctx).Warn("release after campaign delete failed",
			"campaign_id", id, "error", err)
	}
	return nil
}

// RequestTransition is the single entry point for every status change,
// whether it comes from a user action or from the execution loop. Both
// callers race against each other, so the commit uses an optimistic
// version check and replays against fresh state on conflict.
//
// Requesting the status the campaign already has is a no-op success, so
// a repeated resume never resets started_at or rewrites paused_reason.
func (s *Service) RequestTransition(ctx context.Context, userID, id string, target Status, reason PausedReason) (Campaign, error) {
	if userID == "" || id == "" {
		return Campaign{}, fmt.Errorf("%w: user id and campaign id required", ErrInvalidArgument)
	}
	switch target {
	case StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusCompleted:
	default:
		return Campaign{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, target)
	}

	for attempt := 0; attempt < transitionRetries; attempt++ {
		c, err := s.repo.Get(ctx, userID, id)
		if err != nil {
			return Campaign{}, err
		}
		if c.Status == target {
			return c, nil
		}

		updated, err := s.applyTransition(ctx, c, target, reason)
		if err != nil {
			return Campaign{}, err
		}

		committed, err := s.repo.Update(ctx, updated)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			// A resume takes its admission hold before the commit. When
			// the commit fails outright the campaign is still paused and
			// cannot spend the hold, so give it back now instead of
			// waiting for a later pause or delete to reclaim it.
			if c.Status == StatusPaused && target == StatusActive {
				if relErr := s.credits.Release(ctx, userID, id); relErr != nil {
					logger.From(ctx).Warn("release after failed resume commit failed",
						"campaign_id", id, "error", relErr)
				}
			}
			return Campaign{}, err
		}

		s.afterTransition(ctx, c.Status, committed)
		return committed, nil
	}
	return Campaign{}, fmt.Errorf("%w: transition to %s lost %d races", ErrConcurrentModification, target, transitionRetries)
}

// applyTransition validates the edge and its checks, then returns the
// mutated campaign. The campaign is never written when a check fails,
// so a denied resume leaves the row paused with its reason intact.
func (s *Service) applyTransition(ctx context.Context, c Campaign, target Status, reason PausedReason) (Campaign, error) {
	checks, ok := legalEdge(c.Status, target)
	if !ok {
		return Campaign{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, target)
	}

	for _, chk := range checks {
		switch chk {
		case checkPrerequisites:
			if c.AgentID == "" {
				return Campaign{}, fmt.Errorf("%w: agent", ErrMissingPrerequisite)
			}
			if c.ContactGroupID == "" || c.ContactCount == 0 {
				return Campaign{}, fmt.Errorf("%w: contact group", ErrMissingPrerequisite)
			}
		case checkWindowConfigured:
			if len(c.Window.Days) == 0 {
				return Campaign{}, callwindow.ErrNoEligibleWindow
			}
		case checkCreditAdmission:
			estimate := s.estimator.CampaignEstimateMinor(c.ContactCount)
			adm, err := s.credits.CheckAndReserve(ctx, c.UserID, c.ID, estimate)
			if err != nil {
				return Campaign{}, err
			}
			if !adm.Admitted {
				return Campaign{}, fmt.Errorf("%w: %s", ErrCreditAdmissionDenied, adm.Message)
			}
		}
	}

	now := s.clock().UTC()
	if c.Status == StatusPaused {
		c.PausedReason = ""
	}
	switch target {
	case StatusActive:
		if c.StartedAt == nil {
			t := now
			c.StartedAt = &t
		}
	case StatusPaused:
		if reason == "" {
			reason = PausedUserRequested
		}
		if !reason.valid() {
			return Campaign{}, fmt.Errorf("%w: unknown pause reason %q", ErrInvalidArgument, reason)
		}
		c.PausedReason = reason
	case StatusCompleted:
		t := now
		c.CompletedAt = &t
	}
	c.Status = target
	c.UpdatedAt = now
	return c, nil
}

// afterTransition runs the best-effort side effects of a committed
// transition: returning the credit hold when dialing stops, and fanning
// the change out to observers.
func (s *Service) afterTransition(ctx context.Context, from Status, c Campaign) {
	log := logger.From(ctx)

	if c.Status == StatusPaused || c.Status == StatusCompleted {
		if err := s.credits.Release(ctx, c.UserID, c.ID); err != nil {
			log.Warn("release after transition failed",
				"campaign_id", c.ID, "status", string(c.Status), "error", err)
		}
	}

	if s.publisher != nil {
		ev := StatusChange{
			CampaignID: c.ID,
			UserID:     c.UserID,
			From:       from,
			To:         c.Status,
			Reason:     c.PausedReason,
			At:         c.UpdatedAt,
		}
		if err := s.publisher.PublishStatusChange(ctx, ev); err != nil {
			log.Warn("status change publish failed", "campaign_id", c.ID, "error", err)
		}
	}
}
