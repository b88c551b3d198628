package domain

import "time"

// ErrorEvent is one entry in a JobRecord's error history: a record of a
// single failed attempt, preserved even after the job is retried or
// eventually retired to the dead-letter queue.
type ErrorEvent struct {
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	Stack    string    `json:"stack,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// JobRecord is the durable representation of a unit of work, as stored in
// the Job Record Store. Every field here maps directly onto a column in
// the store's jobs table; internal/store is the only package that reads
// or writes that table.
type JobRecord struct {
	JobID    string
	Type     string
	Payload  map[string]any
	Priority Priority
	Status   Status

	Attempts    int
	MaxAttempts int

	ScheduledFor time.Time

	LockedBy    *string
	LockedUntil *time.Time

	LastError    *string
	ErrorHistory []ErrorEvent

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time

	Result any
}

// Locked reports whether the record currently holds an unexpired lock.
func (j *JobRecord) Locked(now time.Time) bool {
	return j.LockedBy != nil && j.LockedUntil != nil && j.LockedUntil.After(now)
}

// Due reports whether a pending job is eligible for dispatch at now.
func (j *JobRecord) Due(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledFor.After(now)
}

// AttemptsExhausted reports whether the job has used its entire attempt
// budget and must be retired to the dead-letter queue on its next failure.
func (j *JobRecord) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// JobSubmission is the caller-facing request to create a new job, the Go
// shape of spec.md's submit(type, payload, options).
type JobSubmission struct {
	Type        string
	Payload     map[string]any
	Priority    Priority
	MaxAttempts int
	DelayMs     int64
}

// JobStats is a point-in-time count of jobs by status, the Go shape of
// spec.md §4.1's stats() operation.
type JobStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}
