package attempt

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("attempt: not found")
	ErrAlreadyConcluded = errors.New("attempt: already concluded")
	ErrInvalidArgument  = errors.New("attempt: invalid argument")
)

// Repository is the persistence contract for call attempts.
//
// Append-only discipline: Create inserts, Conclude applies the single
// allowed mutation, and nothing here updates a concluded row twice or
// deletes rows.
type Repository interface {
	Create(ctx context.Context, a Attempt) error

	// MarkDialed records the platform's call id once the dial was actually
	// initiated.
	MarkDialed(ctx context.Context, attemptID, externalCallID string) error

	// MarkDialFailed closes an attempt whose dial never reached the
	// platform, so it stops counting as in flight.
	MarkDialFailed(ctx context.Context, attemptID string, endedAt time.Time) error

	// Conclude finalizes the attempt exactly once.
	Conclude(ctx context.Context, req ConcludeRequest) error

	ByExternalCallID(ctx context.Context, externalCallID string) (Attempt, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]Attempt, error)

	// CountInFlight reports attempts still in progress for a campaign.
	CountInFlight(ctx context.Context, campaignID string) (int, error)

	// EligibleContacts returns contacts from the campaign's group that have
	// no successful contact yet and were first attempted no longer than
	// maxRetryDays ago (zero attempts always qualify).
	EligibleContacts(ctx context.Context, campaignID string, maxRetryDays, limit int) ([]Contact, error)
}

type ConcludeRequest struct {
	ExternalCallID  string
	Status          Status
	DurationSeconds int
	Appointment     *Appointment
	EndedAt         time.Time
}

func (r ConcludeRequest) validate() error {
	if r.ExternalCallID == "" {
		return ErrInvalidArgument
	}
	switch r.Status {
	case StatusCompleted, StatusNoAnswer, StatusFailed:
	default:
		return ErrInvalidArgument
	}
	if r.EndedAt.IsZero() {
		return ErrInvalidArgument
	}
	return nil
}
