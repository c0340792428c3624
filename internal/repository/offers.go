package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/ledger"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
)

const offerColumns = `offer_id, seller_id, seller_wallet, buyer_id, buyer_wallet,
	 quantity, price_eth, price_vnd, total_eth, total_vnd,
	 status, tx_hash_created, tx_hash_completed,
	 created_at, completed_at, cancelled_at, updated_at`

func scanOffer(row pgx.Row) (*model.Offer, error) {
	var o model.Offer
	var status string
	err := row.Scan(&o.OfferID, &o.SellerID, &o.SellerWallet, &o.BuyerID, &o.BuyerWallet,
		&o.Quantity, &o.PriceETH, &o.PriceVND, &o.TotalETH, &o.TotalVND,
		&status, &o.TxHashCreated, &o.TxHashCompleted,
		&o.CreatedAt, &o.CompletedAt, &o.CancelledAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OfferStatus(status)
	return &o, nil
}

// lockOffer takes the offer's row lock inside tx. Concurrent transitions
// of the same offer serialize here; the loser re-reads a changed status
// and fails its state check.
func lockOffer(ctx context.Context, tx pgx.Tx, offerID int64) (*model.Offer, error) {
	o, err := scanOffer(tx.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE offer_id = $1 FOR UPDATE`, offerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("offer %d: %w", offerID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("lock offer %d: %w", offerID, err)
	}
	return o, nil
}

func insertOffer(ctx context.Context, tx pgx.Tx, o *model.Offer) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO offers (offer_id, seller_id, seller_wallet, quantity,
		                     price_eth, price_vnd, total_eth, total_vnd,
		                     status, tx_hash_created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.OfferID, o.SellerID, o.SellerWallet, o.Quantity,
		o.PriceETH, o.PriceVND, o.TotalETH, o.TotalVND,
		string(model.OfferStatusActive), o.TxHashCreated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("offer %d (tx %s): %w", o.OfferID, o.TxHashCreated, model.ErrDuplicateTransaction)
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// CreateOffer validates a proposed offer against the seller's balance and
// inserts it as active, all under the seller's row lock. The gate check
// recomputes the committed quantity fresh instead of trusting the cached
// available balance; two concurrent creations that jointly exceed the
// balance therefore serialize and exactly one succeeds.
func (r *PostgresRepository) CreateOffer(ctx context.Context, o *model.Offer) (*model.Offer, error) {
	if o.Quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}

	var created *model.Offer
	err := r.withRetry(ctx, func() error {
		var err error
		created, err = r.createOffer(ctx, o)
		return err
	})
	return created, err
}

func (r *PostgresRepository) createOffer(ctx context.Context, o *model.Offer) (*model.Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := lockUserByWallet(ctx, tx, o.SellerWallet)
	if err != nil {
		return nil, err
	}

	committed, err := committedQuantity(ctx, tx, u.ID)
	if err != nil {
		return nil, err
	}

	gross := u.TotalGenerated - u.TotalSold
	if gross < committed+o.Quantity {
		return nil, &model.InsufficientBalanceError{
			Requested: o.Quantity,
			Available: gross - committed,
			Shortfall: committed + o.Quantity - gross,
		}
	}

	bal := ledger.FromUser(u)
	if err := bal.Reserve(o.Quantity); err != nil {
		return nil, err
	}
	if err := saveBalance(ctx, tx, u.ID, bal); err != nil {
		return nil, err
	}

	o.SellerID = u.ID
	o.SellerWallet = u.WalletAddress
	if err := insertOffer(ctx, tx, o); err != nil {
		return nil, err
	}

	created, err := scanOffer(tx.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE offer_id = $1`, o.OfferID))
	if err != nil {
		return nil, fmt.Errorf("reload offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// CanCreateOffer is the read-only pre-flight variant of the gate, used by
// the UI before a chain transaction is even attempted. The authoritative
// check still happens inside CreateOffer under the row lock.
func (r *PostgresRepository) CanCreateOffer(ctx context.Context, wallet string, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, model.ErrInvalidQuantity
	}

	u, err := r.GetUserByWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}

	var committed int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM offers WHERE seller_id = $1 AND status = $2`,
		u.ID, string(model.OfferStatusActive),
	).Scan(&committed)
	if err != nil {
		return 0, fmt.Errorf("sum active offers: %w", err)
	}

	gross := u.TotalGenerated - u.TotalSold
	if gross < committed+quantity {
		return committed + quantity - gross, &model.InsufficientBalanceError{
			Requested: quantity,
			Available: gross - committed,
			Shortfall: committed + quantity - gross,
		}
	}
	return 0, nil
}

// CancelOffer is the seller-initiated transition Active -> Cancelled ->
// Deleted, executed as one logical operation: the reservation is released
// and the row removed in the same transaction. There is no grace period
// for cancellations, unlike expiry.
func (r *PostgresRepository) CancelOffer(ctx context.Context, offerID int64, sellerWallet string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return err
	}

	if !model.CanTransition(o.Status, model.OfferStatusCancelled) {
		return &model.InvalidTransitionError{OfferID: offerID, From: o.Status, To: model.OfferStatusCancelled}
	}
	if o.SellerWallet != model.NormalizeWallet(sellerWallet) {
		return fmt.Errorf("offer %d: %w", offerID, model.ErrNotOfferOwner)
	}

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

	if _, err := tx.Exec(ctx, `DELETE FROM offers WHERE offer_id = $1`, offerID); err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetOffer returns one offer by its on-chain id.
func (r *PostgresRepository) GetOffer(ctx context.Context, offerID int64) (*model.Offer, error) {
	o, err := scanOffer(r.pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE offer_id = $1`, offerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("offer %d: %w", offerID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) queryOffers(ctx context.Context, query string, args ...any) ([]model.Offer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select offers: %w", err)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return offers, nil
}

// ListActiveOffers returns the marketplace listing, newest first.
func (r *PostgresRepository) ListActiveOffers(ctx context.Context) ([]model.Offer, error) {
	return r.queryOffers(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE status = $1 ORDER BY created_at DESC`,
		string(model.OfferStatusActive))
}

// ListOffersBySeller returns all of a seller's remaining offers, newest first.
func (r *PostgresRepository) ListOffersBySeller(ctx context.Context, wallet string) ([]model.Offer, error) {
	return r.queryOffers(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE seller_wallet = $1 ORDER BY created_at DESC`,
		model.NormalizeWallet(wallet))
}

// ListExpiryCandidates returns ids of active offers created at or before
// the cutoff. Candidates are re-checked under the row lock in ExpireOffer.
func (r *PostgresRepository) ListExpiryCandidates(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return r.queryOfferIDs(ctx,
		`SELECT offer_id FROM offers WHERE status = $1 AND created_at <= $2`,
		string(model.OfferStatusActive), cutoff)
}

// ListDeletionCandidates returns ids of expired offers whose retention
// window has elapsed (updated_at is set at the moment of expiry).
func (r *PostgresRepository) ListDeletionCandidates(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return r.queryOfferIDs(ctx,
		`SELECT offer_id FROM offers WHERE status = $1 AND updated_at <= $2`,
		string(model.OfferStatusExpired), cutoff)
}

// ListCancelledOffers returns ids of cancelled rows. Cancellation deletes
// inline, so these only exist if an older write path left one behind.
func (r *PostgresRepository) ListCancelledOffers(ctx context.Context) ([]int64, error) {
	return r.queryOfferIDs(ctx,
		`SELECT offer_id FROM offers WHERE status = $1`,
		string(model.OfferStatusCancelled))
}

func (r *PostgresRepository) queryOfferIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select offer ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan offer id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

// ExpireOffer transitions one active offer to Expired and releases its
// reservation. The cutoff is re-checked under the lock so a sweep started
// on stale candidates cannot expire an offer early.
func (r *PostgresRepository) ExpireOffer(ctx context.Context, offerID int64, cutoff time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return err
	}

	if !model.CanTransition(o.Status, model.OfferStatusExpired) {
		return &model.InvalidTransitionError{OfferID: offerID, From: o.Status, To: model.OfferStatusExpired}
	}
	if o.CreatedAt.After(cutoff) {
		return &model.InvalidTransitionError{OfferID: offerID, From: o.Status, To: model.OfferStatusExpired}
	}

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

	_, err = tx.Exec(ctx,
		`UPDATE offers SET status = $2, updated_at = now() WHERE offer_id = $1`,
		offerID, string(model.OfferStatusExpired),
	)
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PurgeOffer removes a cancelled or expired offer. The reservation was
// already released when the offer left Active, so only the row goes.
func (r *PostgresRepository) PurgeOffer(ctx context.Context, offerID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return err
	}

	if !model.CanTransition(o.Status, model.OfferStatusDeleted) {
		return &model.InvalidTransitionError{OfferID: offerID, From: o.Status, To: model.OfferStatusDeleted}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM offers WHERE offer_id = $1`, offerID); err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
