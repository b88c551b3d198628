// Package workerpool drives the job state machine: it pulls batches
// from the Batch Loader, acquires locks, invokes the registered
// handler for each job's type, and routes the outcome to completion,
// retry, or the dead-letter queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duraqueue/duraqueue/internal/domain"
	"github.com/duraqueue/duraqueue/internal/retry"
)

// Mode selects which lock layer the pool uses, broadcast by the
// Resilience Supervisor so every worker process moves together.
// Mixed-mode operation (some workers primary, some fallback) is never
// allowed within a single deployment.
type Mode int

const (
	ModePrimary Mode = iota
	ModeFallback
)

// BatchSource is the subset of batchloader.Loader the pool needs.
type BatchSource interface {
	Next(ctx context.Context) (*domain.Batch, error)
}

// Locker is the subset of cache.LockManager the pool needs for the
// primary lock path.
type Locker interface {
	TryAcquire(ctx context.Context, key, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, workerID string) error
}

// Store is the subset of store.JobStore plus the atomic DLQ transition
// the pool needs to drive the state machine.
type Store interface {
	AtomicLock(ctx context.Context, jobID, workerID string, ttl time.Duration) (*domain.JobRecord, error)
	MarkCompleted(ctx context.Context, jobID, workerID string, result any) error
	MarkFailedRetry(ctx context.Context, jobID, workerID, errMsg string, nextScheduledFor time.Time) error
	FailTerminalAndDeadLetter(ctx context.Context, job *domain.JobRecord, workerID, errMsg string, reason domain.DeadLetterReason) (string, error)
}

// Pool executes handlers under controlled concurrency and drives the
// state machine, modeled on the ticker-driven main loop of a
// single-purpose background worker but generalized to pull
// heterogeneous, handler-dispatched job batches instead of one fixed
// job kind.
type Pool struct {
	workerID  string
	queueName string

	store      Store
	loader     BatchSource
	locker     Locker
	registry   *Registry
	errHandler ErrorHandler
	mode       func() Mode

	concurrency   int
	pollInterval  time.Duration
	lockTTL       time.Duration
	graceShutdown time.Duration
	retryCfg      retry.Config

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) { p.concurrency = n }
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.pollInterval = d }
}

func WithLockTTL(d time.Duration) Option {
	return func(p *Pool) { p.lockTTL = d }
}

func WithGraceShutdown(d time.Duration) Option {
	return func(p *Pool) { p.graceShutdown = d }
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Pool) { p.retryCfg = cfg }
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(p *Pool) { p.errHandler = h }
}

// WithMode injects the Resilience Supervisor's current lock mode. When
// omitted the pool always runs primary (cache-backed) locking.
func WithMode(fn func() Mode) Option {
	return func(p *Pool) { p.mode = fn }
}

// New creates a Pool. locker may be nil only if mode always resolves to
// ModeFallback.
func New(workerID, queueName string, s Store, loader BatchSource, locker Locker, registry *Registry, opts ...Option) *Pool {
	p := &Pool{
		workerID:      workerID,
		queueName:     queueName,
		store:         s,
		loader:        loader,
		locker:        locker,
		registry:      registry,
		errHandler:    DefaultErrorHandler{},
		mode:          func() Mode { return ModePrimary },
		concurrency:   10,
		pollInterval:  500 * time.Millisecond,
		lockTTL:       30 * time.Second,
		graceShutdown: 30 * time.Second,
		retryCfg:      retry.DefaultConfig(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the pool's main loop until ctx is cancelled or Stop is
// called. On either signal it stops pulling new batches, waits up to
// graceShutdown for in-flight jobs to finish, and returns.
func (p *Pool) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "worker pool started",
		"worker_id", p.workerID,
		"queue", p.queueName,
		"concurrency", p.concurrency,
		"poll_interval", p.pollInterval)

	for {
		select {
		case <-ctx.Done():
			return p.shutdown(context.Background(), ctx.Err())
		case <-p.done:
			return p.shutdown(context.Background(), nil)
		default:
		}

		batch, err := p.loader.Next(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load batch", "error", err)
			if !p.sleep(ctx, p.pollInterval) {
				return p.shutdown(context.Background(), ctx.Err())
			}
			continue
		}
		if batch == nil || batch.Empty() {
			if !p.sleep(ctx, p.pollInterval) {
				return p.shutdown(context.Background(), ctx.Err())
			}
			continue
		}

		p.processBatch(ctx, batch)
		batch.Drain()
	}
}

// Stop requests a graceful shutdown; Start returns once in-flight work
// drains or the grace period elapses.
func (p *Pool) Stop() error {
	close(p.done)
	return nil
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pool) shutdown(ctx context.Context, cause error) error {
	slog.InfoContext(ctx, "worker pool draining in-flight jobs", "grace_period", p.graceShutdown)

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		slog.InfoContext(ctx, "worker pool stopped cleanly")
	case <-time.After(p.graceShutdown):
		slog.WarnContext(ctx, "worker pool grace period exceeded, exiting with jobs still in flight")
	}
	return cause
}

// processBatch runs up to concurrency jobs from batch in parallel,
// bounded by an errgroup limit, and waits for the whole batch to drain
// before the caller pulls the next one. Jobs never fail the group (a
// handler failure routes through finish's retry/DLQ path, not a
// returned error), so g.Wait() always returns nil.
func (p *Pool) processBatch(ctx context.Context, batch *domain.Batch) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range batch.Jobs {
		job := batch.Jobs[i]
		p.wg.Add(1)
		g.Go(func() error {
			defer p.wg.Done()
			p.processJob(gctx, job)
			return nil
		})
	}

	_ = g.Wait()
}

func (p *Pool) processJob(ctx context.Context, job domain.JobRecord) {
	lockKey := fmt.Sprintf("queue:%s:locks:%s", p.queueName, job.JobID)
	mode := p.mode()

	if mode == ModePrimary && p.locker != nil {
		ok, err := p.locker.TryAcquire(ctx, lockKey, p.workerID, p.lockTTL)
		if err != nil {
			slog.WarnContext(ctx, "cache lock acquisition errored, skipping job this cycle", "job_id", job.JobID, "error", err)
			return
		}
		if !ok {
			return // another worker owns the cache lock
		}
	}

	locked, err := p.store.AtomicLock(ctx, job.JobID, p.workerID, p.lockTTL)
	if err != nil {
		if mode == ModePrimary && p.locker != nil {
			_ = p.locker.Release(ctx, lockKey, p.workerID)
		}
		if !errors.Is(err, domain.ErrJobNotPending) {
			slog.WarnContext(ctx, "atomic lock failed", "job_id", job.JobID, "error", err)
		}
		return
	}

	queuedAt := locked.ScheduledFor
	result := p.invoke(ctx, locked)
	p.finish(ctx, locked, result, queuedAt)

	if mode == ModePrimary && p.locker != nil {
		if err := p.locker.Release(ctx, lockKey, p.workerID); err != nil {
			slog.WarnContext(ctx, "failed to release cache lock", "job_id", job.JobID, "error", err)
		}
	}
}

// outcome carries everything the retry/terminal path needs after a
// handler attempt, success or failure.
type outcome struct {
	success     bool
	result      any
	errMsg      string
	fatal       bool
	lockExpired bool
	invalidData bool
}

func (p *Pool) invoke(ctx context.Context, job *domain.JobRecord) outcome {
	handler, ok := p.registry.Lookup(job.Type)
	if !ok {
		return outcome{errMsg: errUnregisteredType(job.Type).Error(), invalidData: true}
	}

	handlerCtx, cancel := context.WithTimeout(ctx, p.lockTTL)
	defer cancel()

	info := AttemptInfo{
		Attempt:      job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		QueuedAt:     job.ScheduledFor,
		ProcessingAt: time.Now(),
	}

	resultCh := make(chan HandlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if res := p.errHandler.HandlePanic(ctx, job, r, stack); res != nil && res.SetCancelled {
					resultCh <- HandlerResult{Success: false, Error: fmt.Sprintf("panic: %v", r), Fatal: true}
					return
				}
				resultCh <- HandlerResult{Success: false, Error: fmt.Sprintf("panic: %v", r), Fatal: true}
			}
		}()
		resultCh <- handler(handlerCtx, job.Payload, job.JobID, info)
	}()

	select {
	case res := <-resultCh:
		if res.Success {
			return outcome{success: true, result: res.Data}
		}
		return outcome{errMsg: res.Error, fatal: res.Fatal}
	case <-handlerCtx.Done():
		// Lock timeout observed before the handler returned. Per the
		// lock-timeout contract, the worker must not write a state
		// transition based on a result it can no longer trust the
		// handler to have delivered against live ownership; it leaves
		// the job to the Supervisor's reclamation pass instead.
		slog.WarnContext(ctx, "handler exceeded lock_ttl, abandoning result", "job_id", job.JobID)
		return outcome{lockExpired: true, errMsg: "lock_ttl exceeded before handler returned"}
	}
}

func (p *Pool) finish(ctx context.Context, job *domain.JobRecord, o outcome, queuedAt time.Time) {
	if o.success {
		if err := p.store.MarkCompleted(ctx, job.JobID, p.workerID, o.result); err != nil {
			slog.ErrorContext(ctx, "failed to mark job completed", "job_id", job.JobID, "error", err)
		}
		return
	}

	// A worker that observed its own lock expire must never write a
	// state transition; it abandons the job to the Supervisor.
	if o.lockExpired {
		return
	}

	if res := p.errHandler.HandleError(ctx, job, errors.New(o.errMsg)); res != nil && res.SetCancelled {
		o.fatal = true
	}

	a, m := job.Attempts, job.MaxAttempts
	if !o.fatal && !o.invalidData && a < m {
		delay := retry.NextDelay(a, p.retryCfg)
		if err := p.store.MarkFailedRetry(ctx, job.JobID, p.workerID, o.errMsg, time.Now().Add(delay)); err != nil {
			slog.ErrorContext(ctx, "failed to schedule retry", "job_id", job.JobID, "error", err)
		}
		return
	}

	reason := retry.ReasonForFailure(retry.Outcome{
		Fatal:             o.fatal,
		InvalidPayload:    o.invalidData,
		AttemptsExhausted: a >= m,
	})
	if _, err := p.store.FailTerminalAndDeadLetter(ctx, job, p.workerID, o.errMsg, reason); err != nil {
		slog.ErrorContext(ctx, "failed to dead-letter job", "job_id", job.JobID, "error", err)
	}
}
