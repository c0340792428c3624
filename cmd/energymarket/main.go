// Package main runs the HTTP server of the energy marketplace.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/chain"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/config"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/handler"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/repository"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/scheduler"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/service"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/settlement"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	svc := service.NewService(repo, cfg.ExpiredRetention)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)
	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Settlement of confirmed chain events.
	if cfg.ChainIndexerAddress != "" {
		coordinator := settlement.NewCoordinator(
			chain.NewClient(cfg.ChainIndexerAddress),
			repo,
			logger,
			cfg.ChainPollInterval,
		)
		g.Go(func() error {
			coordinator.Run(ctx)
			return nil
		})
	} else {
		sugar.Warn("chain indexer address not set, settlement disabled")
	}

	// Retention sweep over stale offers.
	sweeper := scheduler.New(repo, logger, cfg.ActiveRetention, cfg.ExpiredRetention)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		sugar.Fatalw("scheduler start error", "error", err.Error())
	}

	g.Go(func() error {
		sugar.Infow("starting energy marketplace server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on context cancellation (signal or error elsewhere).
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		sweeper.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
