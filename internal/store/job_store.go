package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/duraqueue/duraqueue/internal/domain"
	"github.com/duraqueue/duraqueue/internal/retry"
)

const (
	jobColumns = `job_id, type, payload, priority, status, attempts, max_attempts,
		scheduled_for, locked_by, locked_until, last_error, error_history,
		created_at, updated_at, completed_at, failed_at, result`

	// MaxPayloadBytes bounds the serialized payload size accepted by
	// CreateJob, per spec's invalid_data rejection rule.
	MaxPayloadBytes = 256 * 1024
)

// CreateJob implements JobStore.CreateJob.
func (s *PostgresStore) CreateJob(ctx context.Context, typ string, payload map[string]any, priority domain.Priority, maxAttempts int, scheduledFor time.Time) (string, error) {
	if typ == "" {
		return "", fmt.Errorf("%w: type is required", domain.ErrInvalidJobData)
	}
	if !priority.Valid() {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidJobData, domain.ErrInvalidPriority)
	}
	if maxAttempts < domain.MinMaxAttempts || maxAttempts > domain.MaxMaxAttempts {
		return "", fmt.Errorf("%w: max_attempts %d out of range", domain.ErrInvalidJobData, maxAttempts)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidJobData, err)
	}
	if len(payloadJSON) > MaxPayloadBytes {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrInvalidJobData, MaxPayloadBytes)
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}

	err = withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jobs (job_id, type, payload, priority, status, attempts, max_attempts, scheduled_for)
			VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6)
		`, jobID.String(), typ, payloadJSON, int16(priority), maxAttempts, scheduledFor)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create job", "type", typ, "priority", priority, "error", err)
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	return jobID.String(), nil
}

// FindDuePending implements JobStore.FindDuePending.
func (s *PostgresStore) FindDuePending(ctx context.Context, priority domain.Priority, limit int) ([]domain.JobRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'pending' AND priority = $1 AND scheduled_for <= now()
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT $2
	`, int16(priority), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.JobRecord
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due pending jobs: %w", err)
	}

	return jobs, nil
}

// AtomicLock implements JobStore.AtomicLock.
func (s *PostgresStore) AtomicLock(ctx context.Context, jobID, workerID string, ttl time.Duration) (*domain.JobRecord, error) {
	var job *domain.JobRecord
	err := withRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			UPDATE jobs
			SET status = 'processing',
				locked_by = $2,
				locked_until = now() + make_interval(secs => $3),
				attempts = attempts + 1,
				updated_at = now()
			WHERE job_id = $1
			  AND (status = 'pending' OR (status = 'processing' AND locked_until < now()))
			RETURNING `+jobColumns, jobID, workerID, ttl.Seconds())

		scanned, scanErr := scanJobRow(row)
		if scanErr != nil {
			return scanErr
		}
		job = scanned
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotPending
		}
		return nil, fmt.Errorf("failed to acquire lock on job %s: %w", jobID, err)
	}

	return job, nil
}

// MarkCompleted implements JobStore.MarkCompleted.
func (s *PostgresStore) MarkCompleted(ctx context.Context, jobID, workerID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var affected int64
	err = withRetry(ctx, func(ctx context.Context) error {
		tag, execErr := s.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'completed',
				locked_by = NULL,
				locked_until = NULL,
				completed_at = now(),
				updated_at = now(),
				result = $3
			WHERE job_id = $1 AND status = 'processing' AND locked_by = $2
		`, jobID, workerID, resultJSON)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s completed: %w", jobID, err)
	}
	if affected == 0 {
		slog.WarnContext(ctx, "lost job ownership while marking completed", "job_id", jobID, "worker_id", workerID)
		return domain.ErrJobOwnershipLost
	}

	return nil
}

// MarkFailedRetry implements JobStore.MarkFailedRetry.
func (s *PostgresStore) MarkFailedRetry(ctx context.Context, jobID, workerID, errMsg string, nextScheduledFor time.Time) error {
	event, err := json.Marshal([]domain.ErrorEvent{{Error: errMsg, FailedAt: time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to encode error event: %w", err)
	}

	var affected int64
	err = withRetry(ctx, func(ctx context.Context) error {
		tag, execErr := s.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending',
				locked_by = NULL,
				locked_until = NULL,
				last_error = $3,
				error_history = error_history || $4::jsonb,
				scheduled_for = $5,
				updated_at = now()
			WHERE job_id = $1 AND status = 'processing' AND locked_by = $2 AND attempts < max_attempts
		`, jobID, workerID, errMsg, event, nextScheduledFor)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s for retry: %w", jobID, err)
	}
	if affected == 0 {
		return domain.ErrJobOwnershipLost
	}

	return nil
}

// MarkFailedTerminal implements JobStore.MarkFailedTerminal.
func (s *PostgresStore) MarkFailedTerminal(ctx context.Context, jobID, workerID, errMsg string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		return s.markFailedTerminalTx(ctx, s.pool, jobID, workerID, errMsg)
	})
}

// markFailedTerminalTx executes the terminal-state update against either
// the pool or an open transaction, so FailTerminalAndDeadLetter can share
// it with a DLQ insert in a single atomic unit.
func (s *PostgresStore) markFailedTerminalTx(ctx context.Context, exec execer, jobID, workerID, errMsg string) error {
	event, err := json.Marshal([]domain.ErrorEvent{{Error: errMsg, FailedAt: time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to encode error event: %w", err)
	}

	tag, err := exec.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
			locked_by = NULL,
			locked_until = NULL,
			last_error = $3,
			error_history = error_history || $4::jsonb,
			failed_at = now(),
			updated_at = now()
		WHERE job_id = $1 AND status = 'processing' AND locked_by = $2 AND attempts >= max_attempts
	`, jobID, workerID, errMsg, event)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}

	return nil
}

// expiredLockTimeoutMsg is the last_error/final_error recorded for a job
// whose lock_ttl elapsed before the handler returned. The worker that
// observed the timeout itself never writes this (it abandons the job
// with no state write, per the lock-timeout contract); only the
// Supervisor's reclamation sweep, finding the lock still expired later,
// ever attributes the failure.
const expiredLockTimeoutMsg = "lock_ttl exceeded before handler returned; reclaimed by supervisor"

// ReleaseExpiredLocks implements JobStore.ReleaseExpiredLocks. A job
// whose lock expired with attempts still under budget goes back to
// pending for another try. A job whose lock expired on what was already
// its last attempt cannot simply go back to pending: AtomicLock's next
// claim would increment attempts past max_attempts and hit the
// jobs_attempts_check CHECK constraint, looping forever without ever
// reaching a terminal state. That case is dead-lettered directly here,
// under domain.ReasonTimeout, in the same transaction as the scan.
func (s *PostgresStore) ReleaseExpiredLocks(ctx context.Context, before time.Time) (int64, error) {
	var requeued, timedOut int64
	err := withRetry(ctx, func(ctx context.Context) error {
		requeued, timedOut = 0, 0

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		rows, err := tx.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = 'processing' AND locked_until < $1
			FOR UPDATE
		`, before)
		if err != nil {
			return fmt.Errorf("failed to query expired locks: %w", err)
		}

		var expired []domain.JobRecord
		for rows.Next() {
			job, scanErr := scanJobRow(rows)
			if scanErr != nil {
				rows.Close()
				return fmt.Errorf("failed to scan expired lock row: %w", scanErr)
			}
			expired = append(expired, *job)
		}
		scanErr := rows.Err()
		rows.Close()
		if scanErr != nil {
			return fmt.Errorf("failed to iterate expired locks: %w", scanErr)
		}

		for i := range expired {
			job := expired[i]
			if job.AttemptsExhausted() {
				workerID := ""
				if job.LockedBy != nil {
					workerID = *job.LockedBy
				}
				reason := retry.ReasonForFailure(retry.Outcome{LockExpired: true})
				history := append(append([]domain.ErrorEvent{}, job.ErrorHistory...), domain.ErrorEvent{
					Attempt:  job.Attempts,
					Error:    expiredLockTimeoutMsg,
					FailedAt: time.Now().UTC(),
				})
				if _, err := s.insertDeadLetterTx(ctx, tx, &job, workerID, expiredLockTimeoutMsg, history, reason); err != nil {
					return fmt.Errorf("failed to dead-letter timed-out job %s: %w", job.JobID, err)
				}

				eventJSON, err := json.Marshal([]domain.ErrorEvent{{Attempt: job.Attempts, Error: expiredLockTimeoutMsg, FailedAt: time.Now().UTC()}})
				if err != nil {
					return fmt.Errorf("failed to encode error event: %w", err)
				}
				if _, err := tx.Exec(ctx, `
					UPDATE jobs
					SET status = 'failed',
						locked_by = NULL,
						locked_until = NULL,
						last_error = $2,
						error_history = error_history || $3::jsonb,
						failed_at = now(),
						updated_at = now()
					WHERE job_id = $1
				`, job.JobID, expiredLockTimeoutMsg, eventJSON); err != nil {
					return fmt.Errorf("failed to mark timed-out job %s failed: %w", job.JobID, err)
				}
				timedOut++
				continue
			}

			if _, err := tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'pending',
					locked_by = NULL,
					locked_until = NULL,
					updated_at = now()
				WHERE job_id = $1
			`, job.JobID); err != nil {
				return fmt.Errorf("failed to requeue expired-lock job %s: %w", job.JobID, err)
			}
			requeued++
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit expired-lock reclamation: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to release expired locks: %w", err)
	}

	reclaimed := requeued + timedOut
	if reclaimed > 0 {
		slog.InfoContext(ctx, "reclaimed stalled jobs", "requeued", requeued, "dead_lettered_timeout", timedOut)
	}

	return reclaimed, nil
}

// GetJob implements JobStore.GetJob.
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)

	job, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	return job, nil
}

// Stats implements JobStore.Stats.
func (s *PostgresStore) Stats(ctx context.Context) (domain.JobStats, error) {
	var stats domain.JobStats
	row := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'processing'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM jobs
	`)
	if err := row.Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed); err != nil {
		return domain.JobStats{}, fmt.Errorf("failed to compute job stats: %w", err)
	}
	return stats, nil
}
