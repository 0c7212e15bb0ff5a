package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the single mutation surface for credit balances. All campaign
// admission, pause and costing paths must go through these operations; no
// caller reads or writes balance fields directly.
type Service struct {
	store Store
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

var (
	ErrNotFound        = errors.New("credit: account not found")
	ErrInvalidArgument = errors.New("credit: invalid argument")
)

// Admission is the result of a check-and-reserve call. Denial is not an
// error: callers branch on Admitted and surface Message verbatim.
type Admission struct {
	Admitted       bool         `json:"admitted"`
	AvailableMinor int64        `json:"available_minor"`
	WarningLevel   WarningLevel `json:"warning_level"`
	Message        string       `json:"message"`
}

func (s *Service) GetAccount(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.store.GetAccount(ctx, userID)
}

// AvailableToCampaign reports the balance a campaign can still draw on.
// The campaign's own outstanding hold counts toward it, matching the view
// CheckAndReserve takes, so a hold clamped to the whole remaining balance
// does not read back as exhaustion for the campaign that owns it.
func (s *Service) AvailableToCampaign(ctx context.Context, userID, campaignID string) (int64, error) {
	if userID == "" || campaignID == "" {
		return 0, ErrInvalidArgument
	}
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	available := acct.AvailableMinor()
	res, ok, err := s.store.ReservationFor(ctx, userID, campaignID)
	if err != nil {
		return 0, err
	}
	if ok {
		available += res.AmountMinor
	}
	return available, nil
}

// CheckAndReserve gates a campaign's admission to dialing.
//
// Admission policy is LENIENT: any positive available balance admits, even
// when it is below the estimate. The trade-off is brief over-commitment at
// the tail of a balance instead of stranding campaigns whose estimate
// overshoots real usage. Callers still get a WarningLevel for display.
//
// On admission the campaign's reservation is set to the estimate, clamped
// to the available balance so that reserved never exceeds balance. An
// existing reservation for the same campaign is replaced, not stacked.
func (s *Service) CheckAndReserve(ctx context.Context, userID, campaignID string, estimatedMinor int64) (Admission, error) {
	if userID == "" || campaignID == "" {
		return Admission{}, ErrInvalidArgument
	}
	if estimatedMinor < 0 {
		return Admission{}, ErrInvalidArgument
	}

	var out Admission
	err := s.store.Update(ctx, userID, func(ctx context.Context, tx Tx) error {
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		existing, hasExisting, err := tx.Reservation(ctx, campaignID)
		if err != nil {
			return err
		}

		// Available as seen by this campaign: its own previous hold does not
		// count against it.
		available := acct.AvailableMinor()
		if hasExisting {
			available += existing.AmountMinor
		}

		if available <= 0 {
			out = Admission{
				Admitted:       false,
				AvailableMinor: available,
				WarningLevel:   WarningLevelCritical,
				Message:        "insufficient credits: add credits to resume calling",
			}
			return nil
		}

		hold := estimatedMinor
		if hold > available {
			hold = available
		}

		res := Reservation{
			ID:          uuid.NewString(),
			UserID:      userID,
			CampaignID:  campaignID,
			AmountMinor: hold,
			CreatedAt:   s.clock().UTC(),
		}
		if hasExisting {
			res.ID = existing.ID
			res.CreatedAt = existing.CreatedAt
		}
		if err := tx.SaveReservation(ctx, res); err != nil {
			return err
		}

		prevHold := int64(0)
		if hasExisting {
			prevHold = existing.AmountMinor
		}
		acct.ReservedMinor += hold - prevHold
		acct.UpdatedAt = s.clock().UTC()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		remaining := acct.AvailableMinor()
		level := warningFor(available)
		msg := "admitted"
		if level == WarningLevelWarning {
			msg = fmt.Sprintf("admitted: credit balance is low (%d minor units available)", available)
		}
		out = Admission{
			Admitted:       true,
			AvailableMinor: remaining,
			WarningLevel:   level,
			Message:        msg,
		}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}
	return out, nil
}

// Release returns a campaign's outstanding reservation to the available
// balance. Releasing a campaign with no reservation is a no-op, which makes
// pause/complete paths safe to call unconditionally.
func (s *Service) Release(ctx context.Context, userID, campaignID string) error {
	if userID == "" || campaignID == "" {
		return ErrInvalidArgument
	}
	return s.store.Update(ctx, userID, func(ctx context.Context, tx Tx) error {
		res, ok, err := tx.Reservation(ctx, campaignID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		acct.ReservedMinor -= res.AmountMinor
		if acct.ReservedMinor < 0 {
			acct.ReservedMinor = 0
		}
		acct.UpdatedAt = s.clock().UTC()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		return tx.DeleteReservation(ctx, campaignID)
	})
}

type DeductRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Description    string `json:"description"`
	CampaignID     string `json:"campaign_id,omitempty"`
	CallID         string `json:"call_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Deduct permanently lowers the balance by actual usage and writes an
// immutable usage transaction. When the usage belongs to a campaign with an
// outstanding reservation, that reservation is consumed by the same amount:
// the hold converts into spend instead of being released separately.
//
// Usage beyond the remaining balance is written down to zero rather than
// driving the balance negative; the lenient admission policy accepts this
// tail-end loss (see CheckAndReserve).
func (s *Service) Deduct(ctx context.Context, userID string, req DeductRequest) (Transaction, Account, error) {
	if userID == "" || req.AmountMinor <= 0 || req.Description == "" || req.IdempotencyKey == "" {
		return Transaction{}, Account{}, ErrInvalidArgument
	}

	var outTx Transaction
	var outAcct Account
	err := s.store.Update(ctx, userID, func(ctx context.Context, tx Tx) error {
		if existing, ok, err := tx.TransactionByKey(ctx, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outTx = existing
			a, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			outAcct = a
			return nil
		}

		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		applied := req.AmountMinor
		if applied > acct.BalanceMinor {
			applied = acct.BalanceMinor
		}
		acct.BalanceMinor -= applied

		// Convert the campaign's hold into spend.
		if req.CampaignID != "" {
			res, ok, err := tx.Reservation(ctx, req.CampaignID)
			if err != nil {
				return err
			}
			if ok {
				consumed := req.AmountMinor
				if consumed > res.AmountMinor {
					consumed = res.AmountMinor
				}
				res.AmountMinor -= consumed
				acct.ReservedMinor -= consumed
				if res.AmountMinor == 0 {
					if err := tx.DeleteReservation(ctx, req.CampaignID); err != nil {
						return err
					}
				} else if err := tx.SaveReservation(ctx, res); err != nil {
					return err
				}
			}
		}

		// reserved <= balance must hold even when unrelated reservations
		// outlive the balance they were taken against.
		if acct.ReservedMinor > acct.BalanceMinor {
			acct.ReservedMinor = acct.BalanceMinor
		}
		if acct.ReservedMinor < 0 {
			acct.ReservedMinor = 0
		}

		now := s.clock().UTC()
		entry := Transaction{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           TransactionTypeUsage,
			AmountMinor:    -applied,
			Description:    req.Description,
			CampaignID:     req.CampaignID,
			CallID:         req.CallID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		acct.UpdatedAt = now
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		outTx = entry
		outAcct = acct
		return nil
	})
	return outTx, outAcct, err
}

type PurchaseRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Purchase tops up the balance and writes an immutable purchase transaction.
func (s *Service) Purchase(ctx context.Context, userID string, req PurchaseRequest) (Transaction, Account, error) {
	if userID == "" || req.AmountMinor <= 0 || req.IdempotencyKey == "" {
		return Transaction{}, Account{}, ErrInvalidArgument
	}
	return s.post(ctx, userID, Transaction{
		Type:           TransactionTypePurchase,
		AmountMinor:    req.AmountMinor,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
}

type AdjustRequest struct {
	// AmountMinor is signed: positive credits, negative removes credits.
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Adjust is the admin-only manual correction path. Negative adjustments are
// rejected when they would push the balance below outstanding reservations.
func (s *Service) Adjust(ctx context.Context, userID string, req AdjustRequest) (Transaction, Account, error) {
	if userID == "" || req.AmountMinor == 0 || req.Reason == "" || req.IdempotencyKey == "" {
		return Transaction{}, Account{}, ErrInvalidArgument
	}
	return s.post(ctx, userID, Transaction{
		Type:           TransactionTypeAdjustment,
		AmountMinor:    req.AmountMinor,
		Description:    req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
}

type RefundRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Description    string `json:"description"`
	CampaignID     string `json:"campaign_id,omitempty"`
	CallID         string `json:"call_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Refund credits back previously deducted usage, referencing the original
// spending unit of work.
func (s *Service) Refund(ctx context.Context, userID string, req RefundRequest) (Transaction, Account, error) {
	if userID == "" || req.AmountMinor <= 0 || req.IdempotencyKey == "" {
		return Transaction{}, Account{}, ErrInvalidArgument
	}
	return s.post(ctx, userID, Transaction{
		Type:           TransactionTypeRefund,
		AmountMinor:    req.AmountMinor,
		Description:    req.Description,
		CampaignID:     req.CampaignID,
		CallID:         req.CallID,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// post applies a signed balance delta with idempotency and ledger append.
func (s *Service) post(ctx context.Context, userID string, entry Transaction) (Transaction, Account, error) {
	var outTx Transaction
	var outAcct Account
	err := s.store.Update(ctx, userID, func(ctx context.Context, tx Tx) error {
		if existing, ok, err := tx.TransactionByKey(ctx, entry.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outTx = existing
			a, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			outAcct = a
			return nil
		}

		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		next := acct.BalanceMinor + entry.AmountMinor
		if next < acct.ReservedMinor {
			return fmt.Errorf("%w: adjustment would break reservations (balance %d, reserved %d)",
				ErrInvalidArgument, next, acct.ReservedMinor)
		}

		now := s.clock().UTC()
		entry.ID = uuid.NewString()
		entry.UserID = userID
		entry.CreatedAt = now
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		acct.BalanceMinor = next
		acct.UpdatedAt = now
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		outTx = entry
		outAcct = acct
		return nil
	})
	return outTx, outAcct, err
}
