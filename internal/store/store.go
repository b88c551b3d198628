// Package store implements the Job Record Store and DLQ Store over
// PostgreSQL: the document-store-of-truth tier that every job passes
// through regardless of whether the Batch Cache tier is healthy.
package store

import (
	"context"
	"time"

	"github.com/duraqueue/duraqueue/internal/domain"
)

// JobStore is the durable collection of job records, keyed by job_id with
// secondary access patterns on (status, priority, scheduled_for) and
// (locked_by, locked_until).
type JobStore interface {
	// CreateJob inserts a fresh pending record. Returns ErrInvalidJobData
	// if typ is empty, priority or maxAttempts is out of range, or payload
	// exceeds the configured size bound. A non-empty typ is not checked
	// against any set of known job types.
	CreateJob(ctx context.Context, typ string, payload map[string]any, priority domain.Priority, maxAttempts int, scheduledFor time.Time) (string, error)

	// FindDuePending returns up to limit pending jobs of the given priority
	// whose scheduled_for has passed, ordered by (scheduled_for, created_at)
	// ascending. Read-only.
	FindDuePending(ctx context.Context, priority domain.Priority, limit int) ([]domain.JobRecord, error)

	// AtomicLock transitions a pending (or lock-expired processing) job to
	// processing, assigns the lock, and increments attempts. Returns
	// ErrJobNotPending if the record is not eligible for locking right now.
	AtomicLock(ctx context.Context, jobID, workerID string, ttl time.Duration) (*domain.JobRecord, error)

	// MarkCompleted transitions a processing job to completed. Requires the
	// caller to still hold the lock; returns ErrJobOwnershipLost otherwise.
	MarkCompleted(ctx context.Context, jobID, workerID string, result any) error

	// MarkFailedRetry appends to error_history and resets a processing job
	// to pending with a new scheduled_for. Requires attempts < max_attempts.
	MarkFailedRetry(ctx context.Context, jobID, workerID, errMsg string, nextScheduledFor time.Time) error

	// MarkFailedTerminal appends to error_history and moves a processing
	// job to the failed terminal state. Requires attempts >= max_attempts.
	// It writes no dead-letter record; PostgresStore.FailTerminalAndDeadLetter
	// performs the transition and the dead-letter insert atomically.
	MarkFailedTerminal(ctx context.Context, jobID, workerID, errMsg string) error

	// ReleaseExpiredLocks reclaims every processing job whose locked_until
	// is before the given time. A job still under its attempt budget goes
	// back to pending, lock cleared. A job whose lock expired on its last
	// attempt is dead-lettered directly under ReasonTimeout instead, since
	// resetting it to pending would let the next AtomicLock claim violate
	// the attempts<=max_attempts constraint. Returns the total number of
	// jobs reclaimed either way. Idempotent.
	ReleaseExpiredLocks(ctx context.Context, before time.Time) (int64, error)

	// GetJob fetches a single job record by id.
	GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error)

	// Stats returns a point-in-time count of jobs by status.
	Stats(ctx context.Context) (domain.JobStats, error)
}

// DeadLetterStore is the permanent archive of exhausted or fatally failed
// jobs, keyed by dead_letter_id with secondary indexes on (reason, failed_at) and
// (type, failed_at).
type DeadLetterStore interface {
	// List returns up to limit dead-letter records ordered by failed_at
	// descending.
	List(ctx context.Context, limit, offset int) ([]domain.DeadLetterRecord, error)

	// Get fetches a single dead-letter record by id.
	Get(ctx context.Context, deadLetterID string) (*domain.DeadLetterRecord, error)

	// Reprocess creates a fresh pending job from a dead-letter record (with
	// attempts reset to 0), links it back via reprocessing_job_id, and
	// marks the original record reprocessed. The original is retained for
	// audit.
	Reprocess(ctx context.Context, deadLetterID string, overridePayload map[string]any) (newJobID string, err error)

	// StatsByReason returns dead-letter record counts grouped by
	// DeadLetterReason.
	StatsByReason(ctx context.Context) (map[domain.DeadLetterReason]int64, error)

	// StatsByType returns dead-letter record counts grouped by job type.
	StatsByType(ctx context.Context) (map[string]int64, error)

	// Cleanup permanently removes dead-letter records older than
	// olderThan. Returns the number of records removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}
