package credit

import (
	"context"
	"database/sql"
	"errors"

	"dialer-platform/pkg/utils"
)

// SQLStore implements Store on Postgres.
//
// Tables:
// - credit_accounts (user_id PK, balance_minor, reserved_minor, updated_at)
// - credit_reservations (UNIQUE (user_id, campaign_id))
// - credit_transactions (immutable append-only; UNIQUE (user_id, idempotency_key))
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) GetAccount(ctx context.Context, userID string) (Account, error) {
	const q = `
SELECT user_id, balance_minor, reserved_minor, updated_at
FROM credit_accounts
WHERE user_id = $1
`
	var a Account
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.BalanceMinor,
		&a.ReservedMinor,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *SQLStore) ReservationFor(ctx context.Context, userID, campaignID string) (Reservation, bool, error) {
	const q = `
SELECT id, user_id, campaign_id, amount_minor, created_at
FROM credit_reservations
WHERE user_id = $1 AND campaign_id = $2
`
	var r Reservation
	err := s.db.QueryRowContext(ctx, q, userID, campaignID).Scan(
		&r.ID,
		&r.UserID,
		&r.CampaignID,
		&r.AmountMinor,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reservation{}, false, nil
		}
		return Reservation{}, false, err
	}
	return r, true, nil
}

func (s *SQLStore) Update(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Ensure the account row exists, then lock it to serialize all money
		// operations for this user.
		const ensure = `
INSERT INTO credit_accounts (user_id, balance_minor, reserved_minor, updated_at)
VALUES ($1, 0, 0, now())
ON CONFLICT (user_id) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, ensure, userID); err != nil {
			return err
		}
		const lock = `
SELECT user_id FROM credit_accounts WHERE user_id = $1 FOR UPDATE
`
		var locked string
		if err := tx.QueryRowContext(ctx, lock, userID).Scan(&locked); err != nil {
			return err
		}
		return fn(ctx, &sqlTx{tx: tx, userID: userID})
	})
}

type sqlTx struct {
	tx     *sql.Tx
	userID string
}

func (t *sqlTx) Account(ctx context.Context) (Account, error) {
	const q = `
SELECT user_id, balance_minor, reserved_minor, updated_at
FROM credit_accounts
WHERE user_id = $1
`
	var a Account
	if err := t.tx.QueryRowContext(ctx, q, t.userID).Scan(
		&a.UserID,
		&a.BalanceMinor,
		&a.ReservedMinor,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (t *sqlTx) SaveAccount(ctx context.Context, a Account) error {
	const q = `
UPDATE credit_accounts
SET balance_minor = $2, reserved_minor = $3, updated_at = $4
WHERE user_id = $1
`
	_, err := t.tx.ExecContext(ctx, q, t.userID, a.BalanceMinor, a.ReservedMinor, a.UpdatedAt)
	return err
}

func (t *sqlTx) Reservation(ctx context.Context, campaignID string) (Reservation, bool, error) {
	const q = `
SELECT id, user_id, campaign_id, amount_minor, created_at
FROM credit_reservations
WHERE user_id = $1 AND campaign_id = $2
`
	var r Reservation
	err := t.tx.QueryRowContext(ctx, q, t.userID, campaignID).Scan(
		&r.ID,
		&r.UserID,
		&r.CampaignID,
		&r.AmountMinor,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reservation{}, false, nil
		}
		return Reservation{}, false, err
	}
	return r, true, nil
}

func (t *sqlTx) SaveReservation(ctx context.Context, r Reservation) error {
	const q = `
INSERT INTO credit_reservations (id, user_id, campaign_id, amount_minor, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, campaign_id)
DO UPDATE SET amount_minor = EXCLUDED.amount_minor
`
	_, err := t.tx.ExecContext(ctx, q, r.ID, r.UserID, r.CampaignID, r.AmountMinor, r.CreatedAt)
	return err
}

func (t *sqlTx) DeleteReservation(ctx context.Context, campaignID string) error {
	const q = `
DELETE FROM credit_reservations WHERE user_id = $1 AND campaign_id = $2
`
	_, err := t.tx.ExecContext(ctx, q, t.userID, campaignID)
	return err
}

func (t *sqlTx) TransactionByKey(ctx context.Context, key string) (Transaction, bool, error) {
	const q = `
SELECT id, user_id, type, amount_minor, description, campaign_id, call_id, idempotency_key, created_at
FROM credit_transactions
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Transaction
	err := t.tx.QueryRowContext(ctx, q, t.userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.AmountMinor,
		&e.Description,
		&e.CampaignID,
		&e.CallID,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return e, true, nil
}

func (t *sqlTx) AppendTransaction(ctx context.Context, e Transaction) error {
	const q = `
INSERT INTO credit_transactions (
  id, user_id, type, amount_minor, description, campaign_id, call_id, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := t.tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.AmountMinor,
		e.Description,
		e.CampaignID,
		e.CallID,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	return err
}
