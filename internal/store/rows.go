package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duraqueue/duraqueue/internal/domain"
)

// jobRow mirrors the jobs table's column order so a positional row.Scan
// in scanJobRow can hydrate a JobRecord's private wire shape before
// conversion.
type jobRow struct {
	JobID        string
	Type         string
	Payload      []byte
	Priority     int16
	Status       string
	Attempts     int32
	MaxAttempts  int32
	ScheduledFor time.Time
	LockedBy     *string
	LockedUntil  *time.Time
	LastError    *string
	ErrorHistory []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
	Result       []byte
}

func scanJobRow(row pgx.Row) (*domain.JobRecord, error) {
	var r jobRow
	err := row.Scan(
		&r.JobID, &r.Type, &r.Payload, &r.Priority, &r.Status,
		&r.Attempts, &r.MaxAttempts, &r.ScheduledFor,
		&r.LockedBy, &r.LockedUntil,
		&r.LastError, &r.ErrorHistory,
		&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt, &r.FailedAt,
		&r.Result,
	)
	if err != nil {
		return nil, err
	}
	return r.toDomain()
}

func (r jobRow) toDomain() (*domain.JobRecord, error) {
	var payload map[string]any
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	var history []domain.ErrorEvent
	if len(r.ErrorHistory) > 0 {
		if err := json.Unmarshal(r.ErrorHistory, &history); err != nil {
			return nil, fmt.Errorf("decode error_history: %w", err)
		}
	}

	var result any
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}

	return &domain.JobRecord{
		JobID:        r.JobID,
		Type:         r.Type,
		Payload:      payload,
		Priority:     domain.Priority(r.Priority),
		Status:       domain.Status(r.Status),
		Attempts:     int(r.Attempts),
		MaxAttempts:  int(r.MaxAttempts),
		ScheduledFor: r.ScheduledFor,
		LockedBy:     r.LockedBy,
		LockedUntil:  r.LockedUntil,
		LastError:    r.LastError,
		ErrorHistory: history,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		CompletedAt:  r.CompletedAt,
		FailedAt:     r.FailedAt,
		Result:       result,
	}, nil
}

func scanDeadLetterRow(row pgx.Row) (*domain.DeadLetterRecord, error) {
	var (
		deadLetterID, jobID, typ, finalError, reason string
		priority                                     int16
		payload, errorHistory                        []byte
		totalAttempts                                 int32
		failedAt                                      time.Time
		reprocessed                                   bool
		reprocessedAt                                 *time.Time
		reprocessingJobID                             *string
	)

	err := row.Scan(
		&deadLetterID, &jobID, &typ, &priority, &payload,
		&finalError, &errorHistory, &totalAttempts, &reason, &failedAt,
		&reprocessed, &reprocessedAt, &reprocessingJobID,
	)
	if err != nil {
		return nil, err
	}

	var payloadMap map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &payloadMap); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	var history []domain.ErrorEvent
	if len(errorHistory) > 0 {
		if err := json.Unmarshal(errorHistory, &history); err != nil {
			return nil, fmt.Errorf("decode error_history: %w", err)
		}
	}

	return &domain.DeadLetterRecord{
		DeadLetterID:      deadLetterID,
		JobID:             jobID,
		Type:              typ,
		Priority:          domain.Priority(priority),
		Payload:           payloadMap,
		FinalError:        finalError,
		ErrorHistory:      history,
		TotalAttempts:     int(totalAttempts),
		Reason:            domain.DeadLetterReason(reason),
		FailedAt:          failedAt,
		Reprocessed:       reprocessed,
		ReprocessedAt:     reprocessedAt,
		ReprocessingJobID: reprocessingJobID,
	}, nil
}
