package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLRepo appends events to the audit_events table. The table carries
// no UPDATE or DELETE path in this codebase.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, user_id, type, actor_user_id, actor_role,
			ip_address, campaign_id, call_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.UserID, string(e.Type), e.ActorUserID, e.ActorRole,
		e.IPAddress, e.CampaignID, e.CallID, e.Message, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
