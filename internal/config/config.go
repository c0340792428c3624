// Package config contains the configuration loading of the marketplace service.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	ChainIndexerAddress string        `env:"CHAIN_INDEXER_ADDRESS"`
	ChainPollInterval   time.Duration `env:"CHAIN_POLL_INTERVAL"`
	SweepSchedule       string        `env:"SWEEP_SCHEDULE"`
	ActiveRetention     time.Duration `env:"OFFER_ACTIVE_RETENTION"`
	ExpiredRetention    time.Duration `env:"OFFER_EXPIRED_RETENTION"`
}

// Parse reads the configuration from command-line flags and environment
// variables; environment variables win.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envIndexerAddress := cfg.ChainIndexerAddress
	envPollInterval := cfg.ChainPollInterval
	envSweepSchedule := cfg.SweepSchedule
	envActiveRetention := cfg.ActiveRetention
	envExpiredRetention := cfg.ExpiredRetention

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ChainIndexerAddress, "c", "", "chain indexer address")
	flag.DurationVar(&cfg.ChainPollInterval, "p", 10*time.Second, "chain event poll interval")
	flag.StringVar(&cfg.SweepSchedule, "s", "@hourly", "retention sweep cron schedule")
	flag.DurationVar(&cfg.ActiveRetention, "active-retention", 7*24*time.Hour, "time an offer stays active before expiring")
	flag.DurationVar(&cfg.ExpiredRetention, "expired-retention", 3*24*time.Hour, "time an expired offer is kept before deletion")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envIndexerAddress != "" {
		cfg.ChainIndexerAddress = envIndexerAddress
	}
	if envPollInterval != 0 {
		cfg.ChainPollInterval = envPollInterval
	}
	if envSweepSchedule != "" {
		cfg.SweepSchedule = envSweepSchedule
	}
	if envActiveRetention != 0 {
		cfg.ActiveRetention = envActiveRetention
	}
	if envExpiredRetention != 0 {
		cfg.ExpiredRetention = envExpiredRetention
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
