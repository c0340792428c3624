package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/ledger"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
)

// OfferCreation carries a confirmed on-chain offer creation.
type OfferCreation struct {
	OfferID      int64
	SellerWallet string
	Quantity     int64
	PriceETH     decimal.Decimal
	PriceVND     decimal.Decimal
	TxHash       string
	BlockNumber  int64
}

// OfferPurchase carries a confirmed on-chain purchase. Creation fields are
// included because chain events may arrive out of order across offers: a
// purchase for an offer the store has never seen materializes it first.
type OfferPurchase struct {
	OfferID      int64
	SellerWallet string
	BuyerWallet  string
	Quantity     int64
	PriceETH     decimal.Decimal
	PriceVND     decimal.Decimal
	TxHash       string
	BlockNumber  int64
}

// markProcessed records a transaction hash in the idempotency journal
// inside the same transaction that applies its effects. A hash seen
// before short-circuits the whole application as a duplicate.
func markProcessed(ctx context.Context, tx pgx.Tx, txHash, eventType string, offerID, blockNumber int64) error {
	tag, err := tx.Exec(ctx,
		`INSERT INTO processed_transactions (tx_hash, event_type, offer_id, block_number)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tx_hash) DO NOTHING`,
		txHash, eventType, offerID, blockNumber,
	)
	if err != nil {
		return fmt.Errorf("mark tx processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tx %s: %w", txHash, model.ErrDuplicateTransaction)
	}
	return nil
}

// materializeOffer inserts an active offer straight from chain event data,
// reserving the quantity from the seller. This is the reconciliation path
// for offers whose off-chain API creation failed or was bypassed. A seller
// balance that cannot cover the on-chain quantity is a consistency fault.
func materializeOffer(ctx context.Context, tx pgx.Tx, offerID int64, sellerWallet string, quantity int64, priceETH, priceVND decimal.Decimal, txHash string) (*model.Offer, error) {
	u, err := lockUserByWallet(ctx, tx, sellerWallet)
	if err != nil {
		return nil, err
	}

	bal := ledger.FromUser(u)
	if err := bal.Reserve(quantity); err != nil {
		if errors.Is(err, model.ErrInsufficientBalance) {
			return nil, &model.ConsistencyFaultError{
				OfferID: offerID,
				TxHash:  txHash,
				Detail:  fmt.Sprintf("on-chain quantity %d exceeds seller's off-chain balance %d", quantity, bal.Available),
			}
		}
		return nil, err
	}
	if err := saveBalance(ctx, tx, u.ID, bal); err != nil {
		return nil, err
	}

	o := &model.Offer{
		OfferID:       offerID,
		SellerID:      u.ID,
		SellerWallet:  u.WalletAddress,
		Quantity:      quantity,
		PriceETH:      priceETH,
		PriceVND:      priceVND,
		TotalETH:      priceETH.Mul(decimal.NewFromInt(quantity)),
		TotalVND:      priceVND.Mul(decimal.NewFromInt(quantity)),
		Status:        model.OfferStatusActive,
		TxHashCreated: txHash,
	}
	if err := insertOffer(ctx, tx, o); err != nil {
		return nil, err
	}

	return scanOffer(tx.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE offer_id = $1 FOR UPDATE`, offerID))
}

// ApplyOfferCreation mirrors a confirmed creation event. If the offer was
// already created through the API the event only lands in the journal.
func (r *PostgresRepository) ApplyOfferCreation(ctx context.Context, ev OfferCreation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := markProcessed(ctx, tx, ev.TxHash, "OfferCreated", ev.OfferID, ev.BlockNumber); err != nil {
		return err
	}

	_, err = lockOffer(ctx, tx, ev.OfferID)
	switch {
	case err == nil:
		// Already mirrored by the API write path.
	case errors.Is(err, model.ErrNotFound):
		if _, err := materializeOffer(ctx, tx, ev.OfferID, ev.SellerWallet, ev.Quantity, ev.PriceETH, ev.PriceVND, ev.TxHash); err != nil {
			return err
		}
	default:
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ApplyOfferPurchase settles a confirmed purchase exactly once: the offer
// moves Active -> Completed, the seller's sale and the buyer's purchase
// are committed, and the hash lands in the journal, or nothing happens.
// Retried on deadlocks: it takes three row locks and is safe to re-run.
func (r *PostgresRepository) ApplyOfferPurchase(ctx context.Context, ev OfferPurchase) error {
	return r.withRetry(ctx, func() error {
		return r.applyOfferPurchase(ctx, ev)
	})
}

func (r *PostgresRepository) applyOfferPurchase(ctx context.Context, ev OfferPurchase) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := markProcessed(ctx, tx, ev.TxHash, "OfferPurchased", ev.OfferID, ev.BlockNumber); err != nil {
		return err
	}

	o, err := lockOffer(ctx, tx, ev.OfferID)
	if errors.Is(err, model.ErrNotFound) {
		o, err = materializeOffer(ctx, tx, ev.OfferID, ev.SellerWallet, ev.Quantity, ev.PriceETH, ev.PriceVND, ev.TxHash)
	}
	if err != nil {
		return err
	}

	if o.Status == model.OfferStatusCompleted {
		if o.TxHashCompleted != nil && *o.TxHashCompleted == ev.TxHash {
			// Replay of an already-applied purchase: journal entry was lost,
			// restore it and change nothing else.
			return tx.Commit(ctx)
		}
		return &model.ConsistencyFaultError{
			OfferID: ev.OfferID,
			TxHash:  ev.TxHash,
			Detail:  "offer already completed by a different transaction",
		}
	}

	if !model.CanTransition(o.Status, model.OfferStatusCompleted) {
		return &model.InvalidTransitionError{OfferID: ev.OfferID, From: o.Status, To: model.OfferStatusCompleted}
	}

	buyerWallet := model.NormalizeWallet(ev.BuyerWallet)
	_, err = tx.Exec(ctx,
		`INSERT INTO users (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`,
		buyerWallet,
	)
	if err != nil {
		return fmt.Errorf("upsert buyer: %w", err)
	}

	var buyerID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE wallet_address = $1`, buyerWallet).Scan(&buyerID); err != nil {
		return fmt.Errorf("get buyer id: %w", err)
	}

	seller, buyer, err := lockTradingPair(ctx, tx, o.SellerID, buyerID)
	if err != nil {
		return err
	}

	sellerBal := ledger.FromUser(seller)
	if err := sellerBal.CommitSale(o.Quantity, o.TotalETH, o.TotalVND); err != nil {
		return err
	}

	buyerBal := ledger.FromUser(buyer)
	if seller.ID == buyer.ID {
		buyerBal = sellerBal
	}
	if err := buyerBal.CommitPurchase(o.Quantity); err != nil {
		return err
	}

	if seller.ID == buyer.ID {
		if err := saveBalance(ctx, tx, seller.ID, buyerBal); err != nil {
			return err
		}
	} else {
		if err := saveBalance(ctx, tx, seller.ID, sellerBal); err != nil {
			return err
		}
		if err := saveBalance(ctx, tx, buyer.ID, buyerBal); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE offers
		 SET status = $2, buyer_id = $3, buyer_wallet = $4, tx_hash_completed = $5,
		     completed_at = now(), updated_at = now()
		 WHERE offer_id = $1`,
		ev.OfferID, string(model.OfferStatusCompleted), buyer.ID, buyer.WalletAddress, ev.TxHash,
	)
	if err != nil {
		return fmt.Errorf("complete offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockTradingPair locks the seller and buyer rows in ascending id order so
// two purchases between the same pair cannot deadlock.
func lockTradingPair(ctx context.Context, tx pgx.Tx, sellerID, buyerID int64) (seller, buyer *model.User, err error) {
	if sellerID == buyerID {
		u, err := lockUserByID(ctx, tx, sellerID)
		return u, u, err
	}

	first, second := sellerID, buyerID
	if buyerID < sellerID {
		first, second = buyerID, sellerID
	}

	a, err := lockUserByID(ctx, tx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := lockUserByID(ctx, tx, second)
	if err != nil {
		return nil, nil, err
	}

	if a.ID == sellerID {
		return a, b, nil
	}
	return b, a, nil
}

// ApplyOfferCancellation mirrors a confirmed on-chain cancellation. An
// active offer releases its reservation and goes away; an offer the store
// no longer holds is already settled and the event only lands in the
// journal. A completed offer cannot have been cancelled on-chain.
func (r *PostgresRepository) ApplyOfferCancellation(ctx context.Context, offerID int64, txHash string, blockNumber int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := markProcessed(ctx, tx, txHash, "OfferCancelled", offerID, blockNumber); err != nil {
		return err
	}

	o, err := lockOffer(ctx, tx, offerID)
	if errors.Is(err, model.ErrNotFound) {
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}

	switch o.Status {
	case model.OfferStatusActive:
		u, err := lockUserByID(ctx, tx, o.SellerID)
		if err != nil {
			return err
		}
		bal := ledger.FromUser(u)
		if err := bal.Release(o.Quantity); err != nil {
			return err
		}
		if err := saveBalance(ctx, tx, u.ID, bal); err != nil {
			return err
		}
	case model.OfferStatusCompleted:
		return &model.ConsistencyFaultError{
			OfferID: offerID,
			TxHash:  txHash,
			Detail:  "cancellation event for an offer already completed off-chain",
		}
	case model.OfferStatusCancelled, model.OfferStatusExpired:
		// Reservation already released when the offer left Active.
	}

	if _, err := tx.Exec(ctx, `DELETE FROM offers WHERE offer_id = $1`, offerID); err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
