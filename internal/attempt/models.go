package attempt

import "time"

// Attempt is one record of trying to reach one contact. Rows are
// append-only: created when the external platform is asked to dial,
// mutated exactly once when the call concludes, never deleted except by
// cascading campaign deletion.
//
// ExternalCallID is empty until the calling platform has actually
// initiated the call. Its presence, not the row's existence, is what
// counts as "a call was made" everywhere downstream.
type Attempt struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	ContactID  string `json:"contact_id" db:"contact_id"`
	UserID     string `json:"user_id" db:"user_id"`

	Status Status `json:"call_status" db:"call_status"`

	ExternalCallID string `json:"external_call_id,omitempty" db:"external_call_id"`

	// DurationSeconds stays zero until the call has ended.
	DurationSeconds int `json:"call_duration" db:"call_duration"`

	// Appointment carries conversation outcome data when the call led to
	// a scheduled appointment.
	Appointment *Appointment `json:"appointment_data,omitempty" db:"appointment_data"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusNoAnswer   Status = "no_answer"
	StatusFailed     Status = "failed"
)

// Appointment is the structured payload attached when an agent booked a
// meeting during the call. Stored as JSONB.
type Appointment struct {
	Booked   bool      `json:"booked"`
	StartsAt time.Time `json:"starts_at,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Contact is the minimal slice of an externally managed contact the
// dialer needs: identity and a number to dial.
type Contact struct {
	ID          string `json:"id" db:"id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	Name        string `json:"name,omitempty" db:"name"`
}
