package campaign

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository with the same version-check
// semantics as the SQL implementation. Used in tests.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: make(map[string]Campaign)}
}

func (r *MemoryRepo) Create(_ context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, userID, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.UserID != userID {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Update(_ context.Context, c Campaign) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[c.ID]
	if !ok || stored.UserID != c.UserID {
		return Campaign{}, ErrNotFound
	}
	if stored.Version != c.Version {
		return Campaign{}, ErrVersionConflict
	}
	c.Version++
	r.campaigns[c.ID] = c
	return c, nil
}

func (r *MemoryRepo) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(r.campaigns, id)
	return nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) ListByStatus(_ context.Context, status Status) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
