// Package settlement bridges confirmed chain events into the off-chain
// store exactly once. The chain is immutable and authoritative, so every
// event must eventually land; the idempotency journal keyed by transaction
// hash makes at-least-once delivery and retries safe.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/chain"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/repository"
)

// EventSource delivers confirmed contract events.
type EventSource interface {
	GetEvents(ctx context.Context, fromBlock int64, limit int) ([]chain.Event, error)
}

// Store is the slice of the repository the coordinator mutates.
type Store interface {
	ApplyOfferCreation(ctx context.Context, ev repository.OfferCreation) error
	ApplyOfferPurchase(ctx context.Context, ev repository.OfferPurchase) error
	ApplyOfferCancellation(ctx context.Context, offerID int64, txHash string, blockNumber int64) error
	GetChainCursor(ctx context.Context) (int64, error)
	SetChainCursor(ctx context.Context, lastBlock int64) error
}

const batchLimit = 100

// Coordinator polls the event source and applies each event to the store.
type Coordinator struct {
	source    EventSource
	store     Store
	logger    *zap.Logger
	interval  time.Duration
	retryBase time.Duration
}

// NewCoordinator creates a settlement coordinator polling at the given interval.
func NewCoordinator(source EventSource, store Store, logger *zap.Logger, interval time.Duration) *Coordinator {
	return &Coordinator{
		source:    source,
		store:     store,
		logger:    logger,
		interval:  interval,
		retryBase: 500 * time.Millisecond,
	}
}

// Run polls until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ProcessBatch(ctx); err != nil {
				c.logger.Error("settlement batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch fetches the next batch of events past the cursor and
// applies them. The cursor only advances after the whole batch has been
// handled; re-reading a block is harmless because application is
// idempotent per transaction hash.
func (c *Coordinator) ProcessBatch(ctx context.Context) error {
	cursor, err := c.store.GetChainCursor(ctx)
	if err != nil {
		return err
	}

	events, err := c.source.GetEvents(ctx, cursor, batchLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	maxBlock := cursor
	for _, ev := range events {
		if err := c.applyWithRetry(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// The failed event's block must be fetched again, so the
			// cursor may not move past it even if later blocks in the
			// batch already applied. Those redeliver as journaled
			// duplicates.
			if limit := ev.BlockNumber - 1; limit < maxBlock {
				maxBlock = limit
			}
			c.logger.Error("event application failed",
				zap.String("txHash", ev.TxHash),
				zap.Int64("offerID", ev.OfferID),
				zap.Error(err))
			break
		}
		if ev.BlockNumber > maxBlock {
			maxBlock = ev.BlockNumber
		}
	}

	if maxBlock > cursor {
		return c.store.SetChainCursor(ctx, maxBlock)
	}
	return nil
}

// applyWithRetry applies one event, retrying transient store failures.
// Duplicates are success; consistency faults and state conflicts are
// terminal for the event and reported, never retried or overwritten.
func (c *Coordinator) applyWithRetry(ctx context.Context, ev chain.Event) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(c.retryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.apply(ctx, ev)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, model.ErrDuplicateTransaction):
			c.logger.Debug("event already applied", zap.String("txHash", ev.TxHash))
			return nil
		case errors.Is(err, model.ErrConsistencyFault):
			c.logger.Error("consistency fault, operator attention required",
				zap.String("txHash", ev.TxHash),
				zap.Int64("offerID", ev.OfferID),
				zap.Error(err))
			return nil
		case errors.Is(err, model.ErrInvalidStateTransition):
			c.logger.Warn("event lost a state race",
				zap.String("txHash", ev.TxHash),
				zap.Int64("offerID", ev.OfferID),
				zap.Error(err))
			return nil
		default:
			return retry.RetryableError(err)
		}
	})
}

func (c *Coordinator) apply(ctx context.Context, ev chain.Event) error {
	switch ev.EventType {
	case chain.EventOfferCreated:
		return c.store.ApplyOfferCreation(ctx, repository.OfferCreation{
			OfferID:      ev.OfferID,
			SellerWallet: ev.Seller,
			Quantity:     ev.Quantity,
			PriceETH:     ev.PriceETH,
			PriceVND:     ev.PriceVND,
			TxHash:       ev.TxHash,
			BlockNumber:  ev.BlockNumber,
		})
	case chain.EventOfferPurchased:
		return c.store.ApplyOfferPurchase(ctx, repository.OfferPurchase{
			OfferID:      ev.OfferID,
			SellerWallet: ev.Seller,
			BuyerWallet:  ev.Buyer,
			Quantity:     ev.Quantity,
			PriceETH:     ev.PriceETH,
			PriceVND:     ev.PriceVND,
			TxHash:       ev.TxHash,
			BlockNumber:  ev.BlockNumber,
		})
	case chain.EventOfferCancelled:
		return c.store.ApplyOfferCancellation(ctx, ev.OfferID, ev.TxHash, ev.BlockNumber)
	default:
		c.logger.Warn("unknown event type, skipping",
			zap.String("eventType", string(ev.EventType)),
			zap.String("txHash", ev.TxHash))
		return nil
	}
}
