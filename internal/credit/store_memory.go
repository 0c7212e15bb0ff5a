package credit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// Update holds a per-user mutex for the duration of fn, which gives the
// same per-user serialization the SQL store gets from row locking.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*memoryUser
}

type memoryUser struct {
	mu           sync.Mutex
	account      Account
	reservations map[string]Reservation
	transactions []Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]*memoryUser{}}
}

// Seed installs an account with the given balances. Test helper.
func (m *MemoryStore) Seed(userID string, balanceMinor, reservedMinor int64) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.account.BalanceMinor = balanceMinor
	u.account.ReservedMinor = reservedMinor
}

// Transactions returns a copy of the user's ledger. Test helper.
func (m *MemoryStore) Transactions(userID string) []Transaction {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Transaction, len(u.transactions))
	copy(out, u.transactions)
	return out
}

func (m *MemoryStore) user(userID string) *memoryUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = &memoryUser{
			account:      Account{UserID: userID, UpdatedAt: time.Now().UTC()},
			reservations: map[string]Reservation{},
		}
		m.users[userID] = u
	}
	return u
}

func (m *MemoryStore) GetAccount(ctx context.Context, userID string) (Account, error) {
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.account, nil
}

func (m *MemoryStore) ReservationFor(ctx context.Context, userID, campaignID string) (Reservation, bool, error) {
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return Reservation{}, false, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.reservations[campaignID]
	return r, ok, nil
}

func (m *MemoryStore) Update(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	// Work on copies; commit only when fn succeeds.
	tx := &memoryTx{
		account:      u.account,
		reservations: make(map[string]Reservation, len(u.reservations)),
	}
	for k, v := range u.reservations {
		tx.reservations[k] = v
	}
	tx.transactions = append(tx.transactions, u.transactions...)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	u.account = tx.account
	u.reservations = tx.reservations
	u.transactions = tx.transactions
	return nil
}

type memoryTx struct {
	account      Account
	reservations map[string]Reservation
	transactions []Transaction
}

func (t *memoryTx) Account(ctx context.Context) (Account, error) {
	return t.account, nil
}

func (t *memoryTx) SaveAccount(ctx context.Context, a Account) error {
	t.account = a
	return nil
}

func (t *memoryTx) Reservation(ctx context.Context, campaignID string) (Reservation, bool, error) {
	r, ok := t.reservations[campaignID]
	return r, ok, nil
}

func (t *memoryTx) SaveReservation(ctx context.Context, r Reservation) error {
	t.reservations[r.CampaignID] = r
	return nil
}

func (t *memoryTx) DeleteReservation(ctx context.Context, campaignID string) error {
	delete(t.reservations, campaignID)
	return nil
}

func (t *memoryTx) TransactionByKey(ctx context.Context, key string) (Transaction, bool, error) {
	for _, e := range t.transactions {
		if e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, e Transaction) error {
	t.transactions = append(t.transactions, e)
	return nil
}
