// Package batchloader materializes priority-ordered batches of due jobs
// from the Job Record Store into the Batch Cache, the accelerator path
// the worker pool drains instead of hitting the store per dispatch.
package batchloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duraqueue/duraqueue/internal/cache"
	"github.com/duraqueue/duraqueue/internal/domain"
)

// JobFinder is the read-only slice of store.JobStore the loader needs,
// narrowed so tests can fake it without a full store.JobStore.
type JobFinder interface {
	FindDuePending(ctx context.Context, priority domain.Priority, limit int) ([]domain.JobRecord, error)
}

// Loader implements spec.md §4.3: walk priorities in descending order,
// publish the first non-empty class as a fresh batch, and reuse the
// current batch while it is still live and unexhausted.
type Loader struct {
	store     JobFinder
	cache     cache.BatchCache
	queueName string
	batchSize int
	batchTTL  time.Duration

	// degraded reports whether the cache tier is currently unusable (per
	// the Resilience Supervisor's circuit breaker). When true, the loader
	// still computes batches but skips publishing them to the cache,
	// returning jobs directly to the caller for immediate dispatch.
	degraded func() bool

	current *domain.Batch
}

// Option configures a Loader.
type Option func(*Loader)

// WithBatchSize overrides the per-priority fetch size (spec default: the
// worker pool's configured batch_size).
func WithBatchSize(n int) Option {
	return func(l *Loader) { l.batchSize = n }
}

// WithBatchTTL overrides how long a published batch lives in the cache.
func WithBatchTTL(ttl time.Duration) Option {
	return func(l *Loader) { l.batchTTL = ttl }
}

// WithDegradedCheck injects the supervisor's circuit-breaker predicate.
func WithDegradedCheck(fn func() bool) Option {
	return func(l *Loader) { l.degraded = fn }
}

// New creates a Loader over the given store and cache, namespaced under
// queueName.
func New(s JobFinder, c cache.BatchCache, queueName string, opts ...Option) *Loader {
	l := &Loader{
		store:     s,
		cache:     c,
		queueName: queueName,
		batchSize: 50,
		batchTTL:  1800 * time.Second,
		degraded:  func() bool { return false },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Next returns the current batch if it is still live and non-empty,
// otherwise scans priorities descending and publishes the first
// non-empty class. Returns (nil, nil) when every priority is exhausted.
func (l *Loader) Next(ctx context.Context) (*domain.Batch, error) {
	if l.current != nil && !l.current.Empty() && time.Now().Before(l.current.LoadedAt.Add(l.current.TTL)) {
		return l.current, nil
	}

	for _, p := range domain.Priorities {
		jobs, err := l.store.FindDuePending(ctx, p, l.batchSize)
		if err != nil {
			return nil, fmt.Errorf("batchloader: find due pending for priority %s: %w", p, err)
		}
		if len(jobs) == 0 {
			continue
		}

		batchID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("batchloader: generate batch id: %w", err)
		}

		batch := &domain.Batch{
			BatchID:  batchID.String(),
			Priority: p,
			Jobs:     jobs,
			LoadedAt: time.Now(),
			TTL:      l.batchTTL,
		}

		if !l.degraded() {
			if err := l.publish(ctx, batch); err != nil {
				// Publishing is an accelerator write; a failure here does
				// not invalidate the batch the store already committed to
				// returning, it only means dispatch falls back to it
				// directly this cycle.
				slog.WarnContext(ctx, "failed to publish batch to cache, dispatching directly", "batch_id", batch.BatchID, "error", err)
			}
		}

		l.current = batch
		return batch, nil
	}

	l.current = nil
	return nil, nil
}

// Invalidate discards the current batch, forcing the next Next call to
// rescan from CRITICAL. Called when the supervisor observes a
// higher-priority arrival than the batch currently in flight.
func (l *Loader) Invalidate() {
	l.current = nil
}

// HasHigherPriorityArrival reports whether a priority class strictly
// above the currently cached batch's class now has due pending jobs.
// The Resilience Supervisor polls this on its tick and invalidates the
// loader when it's true, so a batch still within its TTL doesn't sit on
// a CRITICAL arrival for up to batch_ttl. Returns false when no batch is
// currently cached (Next will rescan from CRITICAL on its own next call).
func (l *Loader) HasHigherPriorityArrival(ctx context.Context) (bool, error) {
	if l.current == nil {
		return false, nil
	}

	for _, p := range domain.Priorities {
		if p <= l.current.Priority {
			break
		}
		jobs, err := l.store.FindDuePending(ctx, p, 1)
		if err != nil {
			return false, fmt.Errorf("batchloader: check higher priority arrival: %w", err)
		}
		if len(jobs) > 0 {
			return true, nil
		}
	}

	return false, nil
}

func (l *Loader) publish(ctx context.Context, batch *domain.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	key := fmt.Sprintf("queue:%s:batch:%s", l.queueName, batch.BatchID)
	return l.cache.SetEx(ctx, key, data, batch.TTL)
}
