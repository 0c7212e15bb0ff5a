package credit

import "time"

// Account is a user's prepaid credit balance.
//
// Money invariants:
// - 0 <= ReservedMinor <= BalanceMinor at all times.
// - Available (balance - reserved) never goes negative.
// - No balance change without a corresponding ledger transaction.
//
// Balances are integer minor units (cents); no floating point anywhere.
type Account struct {
	UserID        string    `json:"user_id" db:"user_id"`
	BalanceMinor  int64     `json:"balance_minor" db:"balance_minor"`
	ReservedMinor int64     `json:"reserved_minor" db:"reserved_minor"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// AvailableMinor is the spendable balance: total minus outstanding reservations.
func (a Account) AvailableMinor() int64 { return a.BalanceMinor - a.ReservedMinor }

// Reservation is a provisional hold against a user's balance for one
// in-flight campaign. A reservation is either released or converted into
// deductions as usage lands; it is never both.
type Reservation struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	AmountMinor int64     `json:"amount_minor" db:"amount_minor"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Transaction is an immutable append-only ledger entry.
// Credits are positive, debits are negative.
type Transaction struct {
	ID     string          `json:"id" db:"id"`
	UserID string          `json:"user_id" db:"user_id"`
	Type   TransactionType `json:"type" db:"type"`

	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Description string `json:"description" db:"description"`

	// Optional references back to the spending unit of work.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeUsage      TransactionType = "usage"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// WarningLevel classifies the available balance so callers can surface a
// non-blocking warning even when admission succeeds.
type WarningLevel string

const (
	WarningLevelNormal   WarningLevel = "normal"
	WarningLevelWarning  WarningLevel = "warning"
	WarningLevelCritical WarningLevel = "critical"
)

// LowBalanceThresholdMinor is the available balance below which admission
// results carry WarningLevelWarning.
const LowBalanceThresholdMinor = 500

func warningFor(availableMinor int64) WarningLevel {
	switch {
	case availableMinor <= 0:
		return WarningLevelCritical
	case availableMinor < LowBalanceThresholdMinor:
		return WarningLevelWarning
	default:
		return WarningLevelNormal
	}
}
