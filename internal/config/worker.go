package config

import (
	"fmt"
	"time"

	"github.com/duraqueue/duraqueue/internal/env"
)

// QueueConfig holds all configuration for the queueworker binary: the
// store and cache connection settings plus the worker pool's tuning
// knobs (concurrency, batching, locking, retry ceiling, shutdown grace).
type QueueConfig struct {
	Database      DatabaseConfig
	Cache         CacheConfig
	Observability ObservabilityConfig

	QueueName string `env:"QUEUE_NAME" default:"default"`

	Concurrency   int           `env:"QUEUE_CONCURRENCY"`
	BatchSize     int           `env:"QUEUE_BATCH_SIZE"`
	PollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL"`
	LockTTL       time.Duration `env:"QUEUE_LOCK_TTL"`
	BatchTTL      time.Duration `env:"QUEUE_BATCH_TTL"`
	MaxRetryDelay time.Duration `env:"QUEUE_MAX_RETRY_DELAY"`
	GraceShutdown time.Duration `env:"QUEUE_GRACE_SHUTDOWN"`

	OperationTimeout time.Duration `env:"QUEUE_OPERATION_TIMEOUT"`

	// SupervisorTick controls how often the resilience supervisor probes
	// cache health and reclaims expired locks.
	SupervisorTick time.Duration `env:"QUEUE_SUPERVISOR_TICK"`
}

// Validate applies defaults and range-checks the worker pool knobs.
func (c *QueueConfig) Validate() error {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.BatchTTL <= 0 {
		c.BatchTTL = 1800 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 604800 * time.Second
	}
	if c.GraceShutdown <= 0 {
		c.GraceShutdown = 30 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
	if c.SupervisorTick <= 0 {
		c.SupervisorTick = 30 * time.Second
	}
	if c.LockTTL >= c.BatchTTL {
		return fmt.Errorf("QUEUE_LOCK_TTL (%s) must be less than QUEUE_BATCH_TTL (%s)", c.LockTTL, c.BatchTTL)
	}
	return nil
}

// LoadQueueConfig loads and validates queueworker configuration from the
// environment.
func LoadQueueConfig() (*QueueConfig, error) {
	cfg := &QueueConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load queue config: %w", err)
	}

	return cfg, nil
}
