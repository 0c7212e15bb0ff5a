package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SQLRepo implements Repository on Postgres.
//
// Tables:
// - campaign_contact_attempts (append-only; cascade-deleted with campaigns)
// - campaign_contacts (contact group membership, externally imported)
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) Create(ctx context.Context, a Attempt) error {
	if a.ID == "" || a.CampaignID == "" || a.ContactID == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO campaign_contact_attempts (
  id, campaign_id, contact_id, user_id, call_status, external_call_id,
  call_duration, appointment_data, created_at, ended_at
) VALUES (
  $1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10
)
`
	appt, err := marshalAppointment(a.Appointment)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID,
		a.CampaignID,
		a.ContactID,
		a.UserID,
		a.Status,
		a.ExternalCallID,
		a.DurationSeconds,
		appt,
		a.CreatedAt,
		a.EndedAt,
	)
	return err
}

func (r *SQLRepo) MarkDialed(ctx context.Context, attemptID, externalCallID string) error {
	if attemptID == "" || externalCallID == "" {
		return ErrInvalidArgument
	}
	const q = `
UPDATE campaign_contact_attempts
SET external_call_id = $2
WHERE id = $1 AND external_call_id IS NULL
`
	res, err := r.db.ExecContext(ctx, q, attemptID, externalCallID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepo) MarkDialFailed(ctx context.Context, attemptID string, endedAt time.Time) error {
	if attemptID == "" || endedAt.IsZero() {
		return ErrInvalidArgument
	}
	const q = `
UPDATE campaign_contact_attempts
SET call_status = $2, ended_at = $3
WHERE id = $1 AND ended_at IS NULL
`
	res, err := r.db.ExecContext(ctx, q, attemptID, StatusFailed, endedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepo) Conclude(ctx context.Context, req ConcludeRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	appt, err := marshalAppointment(req.Appointment)
	if err != nil {
		return err
	}
	// ended_at IS NULL guards the conclude-once contract.
	const q = `
UPDATE campaign_contact_attempts
SET call_status = $2, call_duration = $3, appointment_data = $4, ended_at = $5
WHERE external_call_id = $1 AND ended_at IS NULL
`
	res, err := r.db.ExecContext(ctx, q, req.ExternalCallID, req.Status, req.DurationSeconds, appt, req.EndedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either unknown call id or a duplicate completion webhook.
		if _, err := r.ByExternalCallID(ctx, req.ExternalCallID); err == nil {
			return ErrAlreadyConcluded
		}
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepo) ByExternalCallID(ctx context.Context, externalCallID string) (Attempt, error) {
	if externalCallID == "" {
		return Attempt{}, ErrInvalidArgument
	}
	const q = `
SELECT id, campaign_id, contact_id, user_id, call_status, external_call_id,
       call_duration, appointment_data, created_at, ended_at
FROM campaign_contact_attempts
WHERE external_call_id = $1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, externalCallID))
}

func (r *SQLRepo) ListByCampaign(ctx context.Context, campaignID string) ([]Attempt, error) {
	const q = `
SELECT id, campaign_id, contact_id, user_id, call_status, external_call_id,
       call_duration, appointment_data, created_at, ended_at
FROM campaign_contact_attempts
WHERE campaign_id = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLRepo) CountInFlight(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT count(*)
FROM campaign_contact_attempts
WHERE campaign_id = $1 AND call_status = $2 AND ended_at IS NULL
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID, StatusInProgress).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLRepo) EligibleContacts(ctx context.Context, campaignID string, maxRetryDays, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 10
	}
	// A contact is eligible while it has no completed attempt and its first
	// attempt (if any) is within the campaign's retry horizon.
	const q = `
SELECT c.id, c.phone_number, c.name
FROM campaign_contacts c
WHERE c.campaign_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM campaign_contact_attempts a
    WHERE a.campaign_id = c.campaign_id
      AND a.contact_id = c.id
      AND (a.call_status = $2 OR a.ended_at IS NULL)
  )
  AND COALESCE((
    SELECT min(a.created_at) FROM campaign_contact_attempts a
    WHERE a.campaign_id = c.campaign_id AND a.contact_id = c.id
  ), now()) > now() - make_interval(days => $3)
ORDER BY c.id
LIMIT $4
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, StatusCompleted, maxRetryDays, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Contact, 0, limit)
	for rows.Next() {
		var c Contact
		var name sql.NullString
		if err := rows.Scan(&c.ID, &c.PhoneNumber, &name); err != nil {
			return nil, err
		}
		c.Name = name.String
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepo) scanOne(row rowScanner) (Attempt, error) {
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, err
	}
	return a, nil
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var externalID sql.NullString
	var appt sql.NullString
	var ended sql.NullTime
	if err := row.Scan(
		&a.ID,
		&a.CampaignID,
		&a.ContactID,
		&a.UserID,
		&a.Status,
		&externalID,
		&a.DurationSeconds,
		&appt,
		&a.CreatedAt,
		&ended,
	); err != nil {
		return Attempt{}, err
	}
	a.ExternalCallID = externalID.String
	if ended.Valid {
		t := ended.Time
		a.EndedAt = &t
	}
	if appt.Valid && appt.String != "" {
		var parsed Appointment
		if err := json.Unmarshal([]byte(appt.String), &parsed); err != nil {
			return Attempt{}, err
		}
		a.Appointment = &parsed
	}
	return a, nil
}

func marshalAppointment(a *Appointment) (any, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
