package scheduler

import (
	"time"

	"github.com/smallbiznis/profitledger/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	RecoveryThreshold time.Duration
	JobTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		RecoveryThreshold: 15 * time.Minute,
		JobTimeout:        30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       time.Duration(cfg.Scheduler.IntervalSec) * time.Second,
		BatchSize:         cfg.Scheduler.BatchSize,
		RecoveryThreshold: time.Duration(cfg.Scheduler.RecoveryThresholdSec) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
