package credit

import "context"

// Store abstracts durable ledger state.
//
// Update must serialize concurrent money operations PER USER: two concurrent
// calls for the same user must not both observe a stale account row. The SQL
// implementation locks the account row FOR UPDATE; the in-memory
// implementation holds a per-user mutex for the duration of fn. Different
// users never contend.
type Store interface {
	// GetAccount is a plain read outside any money operation.
	GetAccount(ctx context.Context, userID string) (Account, error)

	// ReservationFor is a plain read of a campaign's outstanding hold.
	// A missing account or hold is (zero, false), not an error.
	ReservationFor(ctx context.Context, userID, campaignID string) (Reservation, bool, error)

	// Update ensures the user's account row exists, locks it, and runs fn.
	// All mutations inside fn are atomic: either everything commits or
	// nothing does.
	Update(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit-of-work surface available while the account row is locked.
type Tx interface {
	Account(ctx context.Context) (Account, error)
	SaveAccount(ctx context.Context, a Account) error

	Reservation(ctx context.Context, campaignID string) (Reservation, bool, error)
	SaveReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, campaignID string) error

	TransactionByKey(ctx context.Context, idempotencyKey string) (Transaction, bool, error)
	AppendTransaction(ctx context.Context, t Transaction) error
}
