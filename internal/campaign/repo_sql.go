package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dialer-platform/internal/callwindow"
)

// SQLRepo stores campaigns in the campaigns table. The calling window is
// a single JSONB document; the rest of the row is flat columns.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

const campaignColumns = `id, user_id, name, agent_id, contact_group_id, contact_count,
	status, paused_reason, concurrent_calls, calling_window, max_retry_days,
	version, started_at, completed_at, created_at, updated_at`

func (r *SQLRepo) Create(ctx context.Context, c Campaign) error {
	window, err := json.Marshal(c.Window)
	if err != nil {
		return fmt.Errorf("marshal calling window: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.UserID, c.Name, nullString(c.AgentID), nullString(c.ContactGroupID), c.ContactCount,
		string(c.Status), nullString(string(c.PausedReason)), c.ConcurrentCalls, window, c.MaxRetryDays,
		c.Version, c.StartedAt, c.CompletedAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *SQLRepo) Get(ctx context.Context, userID, id string) (Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanCampaign(row)
}

func (r *SQLRepo) Update(ctx context.Context, c Campaign) (Campaign, error) {
	window, err := json.Marshal(c.Window)
	if err != nil {
		return Campaign{}, fmt.Errorf("marshal calling window: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $1, agent_id = $2, contact_group_id = $3, contact_count = $4,
			status = $5, paused_reason = $6, concurrent_calls = $7, calling_window = $8,
			max_retry_days = $9, version = version + 1, started_at = $10,
			completed_at = $11, updated_at = $12
		WHERE id = $13 AND user_id = $14 AND version = $15`,
		c.Name, nullString(c.AgentID), nullString(c.ContactGroupID), c.ContactCount,
		string(c.Status), nullString(string(c.PausedReason)), c.ConcurrentCalls, window,
		c.MaxRetryDays, c.StartedAt, c.CompletedAt, c.UpdatedAt,
		c.ID, c.UserID, c.Version)
	if err != nil {
		return Campaign{}, fmt.Errorf("update campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Campaign{}, fmt.Errorf("update campaign: %w", err)
	}
	if n == 0 {
		// Either the row moved on under us or it does not exist; the
		// retry loop re-reads and finds out which.
		if _, getErr := r.Get(ctx, c.UserID, c.ID); errors.Is(getErr, ErrNotFound) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, ErrVersionConflict
	}
	c.Version++
	return c, nil
}

func (r *SQLRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns WHERE id = $1 AND user_id = $2`,
		id, userID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepo) ListByUser(ctx context.Context, userID string) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE user_id = $1
		ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *SQLRepo) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = $1
		ORDER BY created_at`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var (
		c            Campaign
		agentID      sql.NullString
		groupID      sql.NullString
		pausedReason sql.NullString
		window       []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &agentID, &groupID, &c.ContactCount,
		&c.Status, &pausedReason, &c.ConcurrentCalls, &window, &c.MaxRetryDays,
		&c.Version, &startedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("scan campaign: %w", err)
	}
	c.AgentID = agentID.String
	c.ContactGroupID = groupID.String
	c.PausedReason = PausedReason(pausedReason.String)
	if len(window) > 0 {
		var w callwindow.Window
		if err := json.Unmarshal(window, &w); err != nil {
			return Campaign{}, fmt.Errorf("unmarshal calling window: %w", err)
		}
		c.Window = w
	}
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

func collectCampaigns(rows *sql.Rows) ([]Campaign, error) {
	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
