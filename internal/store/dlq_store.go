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
)

const dlqColumns = `dead_letter_id, job_id, type, priority, payload, final_error,
	error_history, total_attempts, reason, failed_at,
	reprocessed, reprocessed_at, reprocessing_job_id`

// FailTerminalAndDeadLetter performs the terminal job transition and the
// DLQ insert as a single atomic unit, in that order: the DLQ record is
// the record of truth for "this job is gone", so it must land before the
// jobs row flips to its terminal state, never after. A crash between the
// two steps under this ordering leaves a job stuck in processing (which
// the Supervisor's lock reclamation retries) rather than silently
// discarding a failure with no DLQ trail.
func (s *PostgresStore) FailTerminalAndDeadLetter(ctx context.Context, job *domain.JobRecord, workerID, errMsg string, reason domain.DeadLetterReason) (string, error) {
	var dlqID string
	err := withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		history := append(append([]domain.ErrorEvent{}, job.ErrorHistory...), domain.ErrorEvent{
			Attempt:  job.Attempts,
			Error:    errMsg,
			FailedAt: time.Now().UTC(),
		})

		id, err := s.insertDeadLetterTx(ctx, tx, job, workerID, errMsg, history, reason)
		if err != nil {
			return fmt.Errorf("failed to insert dead letter record: %w", err)
		}

		if err := s.markFailedTerminalTx(ctx, tx, job.JobID, workerID, errMsg); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit dead letter transition: %w", err)
		}

		dlqID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.WarnContext(ctx, "job moved to dead letter queue",
		"job_id", job.JobID, "dead_letter_id", dlqID, "reason", reason, "worker_id", workerID)

	return dlqID, nil
}

func (s *PostgresStore) insertDeadLetterTx(ctx context.Context, exec execer, job *domain.JobRecord, workerID, errMsg string, history []domain.ErrorEvent, reason domain.DeadLetterReason) (string, error) {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to encode error history: %w", err)
	}

	dlqID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate dead letter id: %w", err)
	}

	_, err = exec.Exec(ctx, `
		INSERT INTO dead_letter_jobs
			(dead_letter_id, job_id, type, priority, payload, final_error, error_history, total_attempts, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, dlqID.String(), job.JobID, job.Type, int16(job.Priority), payloadJSON, errMsg, historyJSON, job.Attempts, string(reason))
	if err != nil {
		return "", err
	}

	return dlqID.String(), nil
}

// List implements DeadLetterStore.List.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]domain.DeadLetterRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+`
		FROM dead_letter_jobs
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}
	defer rows.Close()

	var records []domain.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetterRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter jobs: %w", err)
	}

	return records, nil
}

// Get implements DeadLetterStore.Get.
func (s *PostgresStore) Get(ctx context.Context, deadLetterID string) (*domain.DeadLetterRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM dead_letter_jobs WHERE dead_letter_id = $1`, deadLetterID)

	rec, err := scanDeadLetterRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter record %s: %w", deadLetterID, err)
	}

	return rec, nil
}

// Reprocess implements DeadLetterStore.Reprocess.
func (s *PostgresStore) Reprocess(ctx context.Context, deadLetterID string, overridePayload map[string]any) (string, error) {
	var newJobIDStr string
	err := withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `SELECT `+dlqColumns+` FROM dead_letter_jobs WHERE dead_letter_id = $1 FOR UPDATE`, deadLetterID)
		rec, err := scanDeadLetterRow(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrDeadLetterNotFound
			}
			return fmt.Errorf("failed to lock dead letter record: %w", err)
		}

		payload := rec.Payload
		if overridePayload != nil {
			payload = overridePayload
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}

		newJobID, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job id: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO jobs (job_id, type, payload, priority, status, attempts, max_attempts, scheduled_for)
			VALUES ($1, $2, $3, $4, 'pending', 0, $5, now())
		`, newJobID.String(), rec.Type, payloadJSON, int16(rec.Priority), domain.DefaultMaxAttempts)
		if err != nil {
			return fmt.Errorf("failed to create reprocessed job: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE dead_letter_jobs
			SET reprocessed = true, reprocessed_at = now(), reprocessing_job_id = $2
			WHERE dead_letter_id = $1 AND reprocessed = false
		`, deadLetterID, newJobID.String())
		if err != nil {
			return fmt.Errorf("failed to mark dead letter record reprocessed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("dead letter record %s already reprocessed", deadLetterID)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit reprocess transaction: %w", err)
		}

		newJobIDStr = newJobID.String()
		return nil
	})
	if err != nil {
		return "", err
	}

	return newJobIDStr, nil
}

// StatsByReason implements DeadLetterStore.StatsByReason.
func (s *PostgresStore) StatsByReason(ctx context.Context) (map[domain.DeadLetterReason]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reason, count(*) FROM dead_letter_jobs GROUP BY reason
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dead letter stats by reason: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.DeadLetterReason]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter reason stat: %w", err)
		}
		stats[domain.DeadLetterReason(reason)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter reason stats: %w", err)
	}

	return stats, nil
}

// StatsByType implements DeadLetterStore.StatsByType.
func (s *PostgresStore) StatsByType(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type, count(*) FROM dead_letter_jobs GROUP BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dead letter stats by type: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter type stat: %w", err)
		}
		stats[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter type stats: %w", err)
	}

	return stats, nil
}

// Cleanup implements DeadLetterStore.Cleanup, permanently removing
// dead-letter records older than olderThan. Reprocessed and
// not-yet-reprocessed records are both subject to cleanup once they age
// out; the reprocessing_job_id link is removed with the record, and the
// jobs table keeps no reference back to it.
func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	var removed int64
	err := withRetry(ctx, func(ctx context.Context) error {
		tag, execErr := s.pool.Exec(ctx, `
			DELETE FROM dead_letter_jobs WHERE failed_at < $1
		`, time.Now().Add(-olderThan))
		if execErr != nil {
			return execErr
		}
		removed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up dead letter records: %w", err)
	}
	if removed > 0 {
		slog.InfoContext(ctx, "cleaned up aged dead letter records", "count", removed, "older_than", olderThan)
	}

	return removed, nil
}
