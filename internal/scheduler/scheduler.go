// Package scheduler runs the retention sweep over offers: stale active
// offers age out into Expired, and expired or lingering cancelled offers
// get purged. Each transition reuses the repository's atomic per-offer
// primitive, so overlap with request-serving paths is harmless: a sweep
// that loses a race simply skips that offer.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
)

// Store is the slice of the repository the sweep needs.
type Store interface {
	ListExpiryCandidates(ctx context.Context, cutoff time.Time) ([]int64, error)
	ExpireOffer(ctx context.Context, offerID int64, cutoff time.Time) error
	ListDeletionCandidates(ctx context.Context, cutoff time.Time) ([]int64, error)
	ListCancelledOffers(ctx context.Context) ([]int64, error)
	PurgeOffer(ctx context.Context, offerID int64) error
}

// Scheduler owns the cron-driven retention sweep.
type Scheduler struct {
	store            Store
	logger           *zap.Logger
	activeRetention  time.Duration
	expiredRetention time.Duration
	cron             *cron.Cron
}

// New creates a scheduler with the given retention windows.
func New(store Store, logger *zap.Logger, activeRetention, expiredRetention time.Duration) *Scheduler {
	return &Scheduler{
		store:            store,
		logger:           logger,
		activeRetention:  activeRetention,
		expiredRetention: expiredRetention,
		cron:             cron.New(),
	}
}

// Start registers the sweep on the given cron spec (e.g. "@hourly") and
// starts the scheduler.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep performs one retention pass. Sweep order does not matter: every
// transition is independent and idempotent per offer.
func (s *Scheduler) Sweep(ctx context.Context) {
	runID := uuid.NewString()
	now := time.Now()
	log := s.logger.With(zap.String("sweepRun", runID))

	expired := s.expireStale(ctx, log, now)
	purged := s.purgeAged(ctx, log, now)
	purged += s.purgeCancelled(ctx, log)

	log.Info("retention sweep finished",
		zap.Int("expired", expired),
		zap.Int("purged", purged))
}

func (s *Scheduler) expireStale(ctx context.Context, log *zap.Logger, now time.Time) int {
	cutoff := now.Add(-s.activeRetention)

	ids, err := s.store.ListExpiryCandidates(ctx, cutoff)
	if err != nil {
		log.Error("list expiry candidates failed", zap.Error(err))
		return 0
	}

	count := 0
	for _, id := range ids {
		if err := s.store.ExpireOffer(ctx, id, cutoff); err != nil {
			if errors.Is(err, model.ErrInvalidStateTransition) || errors.Is(err, model.ErrNotFound) {
				// The offer was sold, cancelled or already expired since
				// the candidate list was taken.
				continue
			}
			log.Error("expire offer failed", zap.Int64("offerID", id), zap.Error(err))
			continue
		}
		count++
	}
	return count
}

func (s *Scheduler) purgeAged(ctx context.Context, log *zap.Logger, now time.Time) int {
	cutoff := now.Add(-s.expiredRetention)

	ids, err := s.store.ListDeletionCandidates(ctx, cutoff)
	if err != nil {
		log.Error("list deletion candidates failed", zap.Error(err))
		return 0
	}
	return s.purge(ctx, log, ids)
}

// purgeCancelled is a safety net: cancellation deletes inline, so any
// cancelled row that survived is removed immediately.
func (s *Scheduler) purgeCancelled(ctx context.Context, log *zap.Logger) int {
	ids, err := s.store.ListCancelledOffers(ctx)
	if err != nil {
		log.Error("list cancelled offers failed", zap.Error(err))
		return 0
	}
	return s.purge(ctx, log, ids)
}

func (s *Scheduler) purge(ctx context.Context, log *zap.Logger, ids []int64) int {
	count := 0
	for _, id := range ids {
		if err := s.store.PurgeOffer(ctx, id); err != nil {
			if errors.Is(err, model.ErrInvalidStateTransition) || errors.Is(err, model.ErrNotFound) {
				continue
			}
			log.Error("purge offer failed", zap.Int64("offerID", id), zap.Error(err))
			continue
		}
		count++
	}
	return count
}
