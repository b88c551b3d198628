package domain

import "time"

// DeadLetterRecord is a permanent archive of a job that exhausted its
// retry budget or failed fatally, stored in the separate dead_letter_jobs
// collection so that the live jobs table never accumulates terminal noise.
type DeadLetterRecord struct {
	DeadLetterID string
	JobID        string

	Type     string
	Priority Priority
	Payload  map[string]any

	FinalError   string
	ErrorHistory []ErrorEvent

	TotalAttempts int
	Reason        DeadLetterReason

	FailedAt time.Time

	Reprocessed       bool
	ReprocessedAt     *time.Time
	ReprocessingJobID *string
}
