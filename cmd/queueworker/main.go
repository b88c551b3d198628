// Command queueworker runs the durable job queue's worker pool: it
// drains due jobs from the Job Record Store (through the Batch Cache
// accelerator when healthy), dispatches them to registered handlers,
// and drives the retry/dead-letter state machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/duraqueue/duraqueue/internal/batchloader"
	"github.com/duraqueue/duraqueue/internal/cache"
	"github.com/duraqueue/duraqueue/internal/config"
	"github.com/duraqueue/duraqueue/internal/observability"
	"github.com/duraqueue/duraqueue/internal/retry"
	"github.com/duraqueue/duraqueue/internal/store"
	"github.com/duraqueue/duraqueue/internal/supervisor"
	"github.com/duraqueue/duraqueue/internal/workerpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadQueueConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obsCfg := observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.OTelServiceName,
	}

	lp, logger, err := observability.InitLogger(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown tracer provider", "error", err)
		}
	}()

	mp, err := observability.InitMeterProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown meter provider", "error", err)
		}
	}()

	jobStore, err := store.NewStoreWithConfig(ctx, store.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to job record store: %w", err)
	}
	defer jobStore.Close()

	batchCache := cache.NewRedisCache(cfg.Cache, cfg.QueueName)
	defer func() {
		if err := batchCache.Close(); err != nil {
			slog.ErrorContext(ctx, "failed to close batch cache", "error", err)
		}
	}()
	lockManager := cache.NewLockManager(batchCache)

	workerID, err := workerIdentity()
	if err != nil {
		return fmt.Errorf("failed to derive worker id: %w", err)
	}

	sup := supervisor.New(batchCache, jobStore, nil, supervisorConfigFrom(cfg))

	loader := batchloader.New(jobStore, batchCache, cfg.QueueName,
		batchloader.WithBatchSize(cfg.BatchSize),
		batchloader.WithBatchTTL(cfg.BatchTTL),
		batchloader.WithDegradedCheck(sup.Degraded),
	)
	sup.SetBatches(loader)

	registry := workerpool.NewRegistry()
	registerHandlers(registry)

	pool := workerpool.New(workerID, cfg.QueueName, jobStore, loader, lockManager, registry,
		workerpool.WithConcurrency(cfg.Concurrency),
		workerpool.WithPollInterval(cfg.PollInterval),
		workerpool.WithLockTTL(cfg.LockTTL),
		workerpool.WithGraceShutdown(cfg.GraceShutdown),
		workerpool.WithRetryConfig(retry.Config{MaxDelay: cfg.MaxRetryDelay}),
		workerpool.WithMode(sup.Mode),
	)

	slog.InfoContext(ctx, "queueworker starting", "worker_id", workerID, "queue", cfg.QueueName)

	errCh := make(chan error, 2)
	go func() { errCh <- sup.Run(ctx) }()
	go func() { errCh <- pool.Start(ctx) }()

	<-ctx.Done()
	slog.InfoContext(ctx, "shutdown signal received, stopping worker pool")
	if err := pool.Stop(); err != nil {
		slog.ErrorContext(ctx, "error stopping worker pool", "error", err)
	}

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "component exited with error", "error", err)
		}
	}

	return nil
}

func supervisorConfigFrom(cfg *config.QueueConfig) supervisor.Config {
	sc := supervisor.DefaultConfig()
	if cfg.SupervisorTick > 0 {
		sc.Interval = cfg.SupervisorTick
	}
	return sc
}

func workerIdentity() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), id.String()), nil
}

// registerHandlers binds job types to their handlers. This repository
// ships the queue engine, not application-specific job types; operators
// embedding it register real handlers here before calling pool.Start.
func registerHandlers(r *workerpool.Registry) {}
