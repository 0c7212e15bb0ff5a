package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Audit is internal-only and
// best-effort: callers log failures, they never fail the user's action
// over them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records a committed campaign status change, whoever
// caused it (user action or the execution loop).
func (s *Service) LogTransition(ctx context.Context, userID, actorUserID, actorRole, ip, campaignID, from, to, reason string) error {
	msg := fmt.Sprintf("campaign %s -> %s", from, to)
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeCampaignTransition,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		Message:     msg,
	})
}

// LogCreditAdjustment records a manual balance correction.
func (s *Service) LogCreditAdjustment(ctx context.Context, userID, actorUserID, actorRole, ip string, amountMinor int64, reason string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeCreditAdjustment,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     fmt.Sprintf("balance adjusted by %d: %s", amountMinor, reason),
	})
}

// LogCampaignDeleted records a destructive campaign removal.
func (s *Service) LogCampaignDeleted(ctx context.Context, userID, actorUserID, actorRole, ip, campaignID string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeCampaignDeleted,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		Message:     "campaign deleted",
	})
}
