package attempt

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and early development.
type MemoryRepo struct {
	mu       sync.Mutex
	attempts map[string]Attempt // by attempt id

	// Contacts holds per-campaign contact pools the dialer may draw from.
	contacts map[string][]Contact

	// Now overrides the retry-horizon clock in tests.
	Now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		attempts: map[string]Attempt{},
		contacts: map[string][]Contact{},
	}
}

// SeedContacts installs the campaign's dialable contact pool. Test helper.
func (r *MemoryRepo) SeedContacts(campaignID string, contacts []Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[campaignID] = contacts
}

func (r *MemoryRepo) Create(ctx context.Context, a Attempt) error {
	if a.ID == "" || a.CampaignID == "" || a.ContactID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[a.ID] = a
	return nil
}

func (r *MemoryRepo) MarkDialed(ctx context.Context, attemptID, externalCallID string) error {
	if attemptID == "" || externalCallID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return ErrNotFound
	}
	a.ExternalCallID = externalCallID
	r.attempts[attemptID] = a
	return nil
}

func (r *MemoryRepo) MarkDialFailed(ctx context.Context, attemptID string, endedAt time.Time) error {
	if attemptID == "" || endedAt.IsZero() {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return ErrNotFound
	}
	if a.EndedAt != nil {
		return ErrAlreadyConcluded
	}
	ended := endedAt
	a.Status = StatusFailed
	a.EndedAt = &ended
	r.attempts[attemptID] = a
	return nil
}

func (r *MemoryRepo) Conclude(ctx context.Context, req ConcludeRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.attempts {
		if a.ExternalCallID != req.ExternalCallID {
			continue
		}
		if a.EndedAt != nil {
			return ErrAlreadyConcluded
		}
		ended := req.EndedAt
		a.Status = req.Status
		a.DurationSeconds = req.DurationSeconds
		a.Appointment = req.Appointment
		a.EndedAt = &ended
		r.attempts[id] = a
		return nil
	}
	return ErrNotFound
}

func (r *MemoryRepo) ByExternalCallID(ctx context.Context, externalCallID string) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ExternalCallID == externalCallID && externalCallID != "" {
			return a, nil
		}
	}
	return Attempt{}, ErrNotFound
}

func (r *MemoryRepo) ListByCampaign(ctx context.Context, campaignID string) ([]Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, 0)
	for _, a := range r.attempts {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountInFlight(ctx context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.CampaignID == campaignID && a.Status == StatusInProgress && a.EndedAt == nil {
			n++
		}
	}
	return n, nil
}

// EligibleContacts mirrors the SQL repo's rule: a contact is out of
// the pool once it has a completed attempt or an attempt still open,
// and drops out for good when its first attempt is older than the
// retry horizon.
func (r *MemoryRepo) EligibleContacts(ctx context.Context, campaignID string, maxRetryDays, limit int) ([]Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	excluded := map[string]bool{}
	firstAttempt := map[string]time.Time{}
	for _, a := range r.attempts {
		if a.CampaignID != campaignID {
			continue
		}
		if a.Status == StatusCompleted || a.EndedAt == nil {
			excluded[a.ContactID] = true
		}
		if first, ok := firstAttempt[a.ContactID]; !ok || a.CreatedAt.Before(first) {
			firstAttempt[a.ContactID] = a.CreatedAt
		}
	}
	horizon := now.AddDate(0, 0, -maxRetryDays)
	for contactID, first := range firstAttempt {
		if !first.After(horizon) {
			excluded[contactID] = true
		}
	}

	out := make([]Contact, 0, limit)
	for _, c := range r.contacts[campaignID] {
		if excluded[c.ID] {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
