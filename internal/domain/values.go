package domain

import "fmt"

// Priority is the priority class of a job. Value object - immutable int enum.
// Higher numbers are dispatched first; the Batch Loader walks priorities in
// descending order and only considers a lower class once the higher one is
// empty of due work.
type Priority int

const (
	PriorityLow      Priority = 5
	PriorityNormal   Priority = 10
	PriorityHigh     Priority = 15
	PriorityCritical Priority = 20
)

// String returns the human name of the priority class.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// Valid reports whether p is one of the four allowed priority classes.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Priorities lists every priority class in dispatch order, highest first.
// The Batch Loader walks this slice verbatim.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// NewPriority validates and creates a Priority from a raw int.
func NewPriority(v int) (Priority, error) {
	p := Priority(v)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, v)
	}
	return p, nil
}

// Status is the lifecycle state of a job record. Value object - immutable
// string enum.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is one no further transition leaves,
// except for DLQ-triggered reprocessing which creates a brand new job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DeadLetterReason classifies why a job was permanently retired to the DLQ.
type DeadLetterReason string

const (
	ReasonMaxAttemptsExceeded DeadLetterReason = "max_attempts_exceeded"
	ReasonFatalError          DeadLetterReason = "fatal_error"
	ReasonTimeout             DeadLetterReason = "timeout"
	ReasonInvalidData         DeadLetterReason = "invalid_data"
	ReasonSystemError         DeadLetterReason = "system_error"
)

const (
	// DefaultMaxAttempts is used when a submission does not specify one.
	DefaultMaxAttempts = 3
	// MinMaxAttempts and MaxMaxAttempts bound the configurable attempt budget.
	MinMaxAttempts = 1
	MaxMaxAttempts = 10
)
