// Package supervisor detects Batch Cache degradation, forces every
// worker process onto a single lock mode, and recovers work abandoned
// by crashed workers.
package supervisor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/duraqueue/duraqueue/internal/workerpool"
)

// LockExpirer is the subset of store.JobStore the supervisor needs to
// reclaim stalled jobs.
type LockExpirer interface {
	ReleaseExpiredLocks(ctx context.Context, before time.Time) (int64, error)
}

// Pinger is the subset of cache.BatchCache the supervisor health-probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BatchInvalidator is the subset of batchloader.Loader the supervisor
// drives for the stale-batch sweep.
type BatchInvalidator interface {
	Invalidate()
	// HasHigherPriorityArrival reports whether a priority class above the
	// currently cached batch now has due pending jobs.
	HasHigherPriorityArrival(ctx context.Context) (bool, error)
}

// Config tunes the supervisor's tick cadence and circuit-breaker
// thresholds.
type Config struct {
	// Interval between ticks (default 30s).
	Interval time.Duration
	// MaxStartupJitter avoids a thundering herd when multiple worker
	// processes restart together, grounded in the teacher's
	// ReconciliationConfig.MaxStartupJitter.
	MaxStartupJitter time.Duration
	// FailureThreshold consecutive cache failures before the breaker opens.
	FailureThreshold int
	// OpenCooldown is how long the breaker stays open before a probe.
	OpenCooldown time.Duration
	// PingTimeout bounds each health probe.
	PingTimeout time.Duration
}

// DefaultConfig matches spec defaults: 30s tick, five consecutive
// failures to open, 30s cooldown.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		MaxStartupJitter: 30 * time.Second,
		FailureThreshold: 5,
		OpenCooldown:     30 * time.Second,
		PingTimeout:      5 * time.Second,
	}
}

// Supervisor runs the periodic tick loop: health-probes the Batch
// Cache, drives its circuit breaker, reclaims expired locks, and sweeps
// stale batches.
type Supervisor struct {
	cfg     Config
	pinger  Pinger
	locks   LockExpirer
	batches BatchInvalidator
	breaker *CircuitBreaker
}

// New creates a Supervisor. batches may be nil if there is nothing to
// sweep (e.g. a pool running in always-fallback mode); wire it up later
// with SetBatches once the Batch Loader exists, since the loader itself
// is typically constructed with this supervisor's Degraded callback.
func New(pinger Pinger, locks LockExpirer, batches BatchInvalidator, cfg Config) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		pinger:  pinger,
		locks:   locks,
		batches: batches,
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.OpenCooldown),
	}
}

// SetBatches wires the Batch Loader for the stale-batch sweep after
// construction, breaking the constructor cycle between the Supervisor
// (which needs to invalidate the loader) and the loader (which needs
// the Supervisor's Degraded callback).
func (s *Supervisor) SetBatches(batches BatchInvalidator) {
	s.batches = batches
}

// Run blocks, ticking until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.MaxStartupJitter > 0 {
		jitter := rand.N(s.cfg.MaxStartupJitter)
		slog.InfoContext(ctx, "resilience supervisor starting", "startup_jitter", jitter, "interval", s.cfg.Interval)
		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "resilience supervisor stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	s.probeCache(ctx)

	if s.locks != nil {
		n, err := s.locks.ReleaseExpiredLocks(ctx, time.Now())
		if err != nil {
			slog.ErrorContext(ctx, "failed to release expired locks", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "reclaimed stalled jobs", "count", n)
		}
	}

	// Stale batch sweep: the loader itself checks loaded_at+ttl on every
	// Next call, so an explicit sweep only needs to force a rescan when
	// the supervisor wants a higher-priority arrival to preempt a batch
	// already in flight, or when degraded-mode entry makes a
	// cache-published batch stale relative to jobs the cache can no
	// longer see.
	if s.batches == nil {
		return
	}
	if s.breaker.State() == StateOpen {
		s.batches.Invalidate()
		return
	}
	if preempt, err := s.batches.HasHigherPriorityArrival(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to check higher priority arrival", "error", err)
	} else if preempt {
		slog.InfoContext(ctx, "higher priority job arrived, invalidating current batch")
		s.batches.Invalidate()
	}
}

func (s *Supervisor) probeCache(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()

	start := time.Now()
	err := s.pinger.Ping(pingCtx)
	latency := time.Since(start)

	if err != nil {
		s.breaker.RecordFailure()
		slog.WarnContext(ctx, "batch cache health probe failed", "latency", latency, "error", err, "state", s.breaker.State())
		return
	}
	s.breaker.RecordSuccess()
	slog.DebugContext(ctx, "batch cache health probe ok", "latency", latency)
}

// Degraded reports whether the Batch Loader should bypass the cache
// entirely, to be wired as batchloader.WithDegradedCheck.
func (s *Supervisor) Degraded() bool {
	return s.breaker.State() == StateOpen
}

// Mode reports which lock layer workerpool.Pool should use right now.
// Mixed-mode operation is never returned; every worker asking this
// supervisor gets the same answer from the same breaker state.
func (s *Supervisor) Mode() workerpool.Mode {
	if s.breaker.State() == StateOpen {
		return workerpool.ModeFallback
	}
	return workerpool.ModePrimary
}
