// Package ledger implements the per-user balance accounting of the
// marketplace. It is pure data arithmetic: the repository loads a user's
// counters inside a locked transaction, applies a mutator and writes the
// result back, so every rule here runs under the row lock that serializes
// concurrent mutations of the same user.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
)

// Balance holds the mutable counters of one user. All quantities are kWh.
type Balance struct {
	TotalGenerated   int64
	TotalSold        int64
	TotalBought      int64
	Available        int64
	TotalEarningsETH decimal.Decimal
	TotalEarningsVND decimal.Decimal
	Reputation       int32
}

// FromUser copies the counters of a user row into a Balance.
func FromUser(u *model.User) Balance {
	return Balance{
		TotalGenerated:   u.TotalGenerated,
		TotalSold:        u.TotalSold,
		TotalBought:      u.TotalBought,
		Available:        u.AvailableBalance,
		TotalEarningsETH: u.TotalEarningsETH,
		TotalEarningsVND: u.TotalEarningsVND,
		Reputation:       u.Reputation,
	}
}

// ReputationDelta is added to a seller's score on every completed sale.
const ReputationDelta = 1

// RecordGeneration credits freshly generated energy. Duplicate submissions
// of the same generation transaction are rejected upstream by the unique
// transaction hash, not here.
func (b *Balance) RecordGeneration(quantity int64) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}
	b.TotalGenerated += quantity
	b.Available += quantity
	return nil
}

// Reserve commits part of the available balance to a new offer. This is
// the only validation path into offer creation; on rejection the returned
// error carries the shortfall for user-facing messaging.
func (b *Balance) Reserve(quantity int64) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}
	if b.Available < quantity {
		return &model.InsufficientBalanceError{
			Requested: quantity,
			Available: b.Available,
			Shortfall: quantity - b.Available,
		}
	}
	b.Available -= quantity
	return nil
}

// Release returns a reservation to the available balance on the cancel and
// expiry paths. Double release is prevented by offer state, not a counter:
// callers only release while transitioning an offer out of Active.
func (b *Balance) Release(quantity int64) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}
	b.Available += quantity
	return nil
}

// CommitSale settles the seller side of a completed purchase. The
// reservation was already taken at offer creation and is not restored;
// it converts into a permanent sale.
func (b *Balance) CommitSale(quantity int64, earningsETH, earningsVND decimal.Decimal) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}
	b.TotalSold += quantity
	b.TotalEarningsETH = b.TotalEarningsETH.Add(earningsETH)
	b.TotalEarningsVND = b.TotalEarningsVND.Add(earningsVND)
	b.Reputation += ReputationDelta
	return nil
}

// CommitPurchase settles the buyer side of a completed purchase.
func (b *Balance) CommitPurchase(quantity int64) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}
	b.TotalBought += quantity
	return nil
}

// CheckInvariant verifies that the available balance equals generated
// minus sold minus the quantity currently committed to active offers.
func (b *Balance) CheckInvariant(committed int64) bool {
	return b.Available == b.TotalGenerated-b.TotalSold-committed
}
