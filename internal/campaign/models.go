package campaign

import (
	"time"

	"dialer-platform/internal/callwindow"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// PausedReason records why a campaign is paused. It is set only through
// RequestTransition and cleared whenever the campaign leaves paused, so a
// non-empty reason and a paused status always travel together.
type PausedReason string

const (
	PausedInsufficientCredits PausedReason = "insufficient_credits"
	PausedOutsideCallingHours PausedReason = "outside_calling_hours"
	PausedNoEligibleContacts  PausedReason = "no_eligible_contacts"
	PausedUserRequested       PausedReason = "user_requested"
)

func (r PausedReason) valid() bool {
	switch r {
	case PausedInsufficientCredits, PausedOutsideCallingHours, PausedNoEligibleContacts, PausedUserRequested:
		return true
	}
	return false
}

type Campaign struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	AgentID        string            `json:"agent_id,omitempty"`
	ContactGroupID string            `json:"contact_group_id,omitempty"`
	ContactCount   int               `json:"contact_count"`
	Status         Status            `json:"status"`
	PausedReason   PausedReason      `json:"paused_reason,omitempty"`
	ConcurrentCalls int              `json:"concurrent_calls"`
	Window         callwindow.Window `json:"calling_window"`
	MaxRetryDays   int               `json:"max_retry_days"`
	Version        int64             `json:"version"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
