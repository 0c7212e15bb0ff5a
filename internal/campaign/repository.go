package campaign

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("campaign: not found")
	ErrVersionConflict = errors.New("campaign: version conflict")
)

// Repository persists campaigns. Update performs an optimistic
// concurrency check: the write succeeds only when the stored version
// matches the version the caller read, and the committed row carries
// the incremented version. A mismatch returns ErrVersionConflict and
// the caller re-reads before retrying.
type Repository interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, userID, id string) (Campaign, error)
	Update(ctx context.Context, c Campaign) (Campaign, error)
	Delete(ctx context.Context, userID, id string) error
	ListByUser(ctx context.Context, userID string) ([]Campaign, error)
	ListByStatus(ctx context.Context, status Status) ([]Campaign, error)
}
