package domain

import "errors"

// Sentinel errors returned by the store, cache, and worker pool layers.
// Callers should compare with errors.Is, never string matching.
var (
	// ErrJobNotFound is returned when a job_id has no matching record.
	ErrJobNotFound = errors.New("domain: job not found")

	// ErrJobOwnershipLost is returned by an atomic update when the caller's
	// lock token no longer matches the stored one, or the lock has already
	// expired and been reclaimed by another worker.
	ErrJobOwnershipLost = errors.New("domain: job ownership lost")

	// ErrJobNotPending is returned when an operation that requires the
	// pending status (e.g. locking) finds the job in a different status.
	ErrJobNotPending = errors.New("domain: job is not pending")

	// ErrInvalidJobData is returned when a submitted payload fails
	// validation (not valid JSON, exceeds size limits, missing type).
	ErrInvalidJobData = errors.New("domain: invalid job data")

	// ErrInvalidPriority is returned when a priority value outside the
	// four defined classes is supplied.
	ErrInvalidPriority = errors.New("domain: invalid priority")

	// ErrMaxAttemptsExceeded reports that a job has exhausted its attempt
	// budget. No function in this module returns it; the worker pool
	// retires such jobs to the dead-letter queue without an error.
	ErrMaxAttemptsExceeded = errors.New("domain: max attempts exceeded")

	// ErrDeadLetterNotFound is returned when a dead_letter_id has no
	// matching record.
	ErrDeadLetterNotFound = errors.New("domain: dead letter record not found")

	// ErrQueueClosed reports a closed queue. No function in this module
	// returns it; the worker pool's Stop does not produce it.
	ErrQueueClosed = errors.New("domain: queue is closed")

	// ErrNoHandlerRegistered is returned when a job's type has no
	// registered handler in the Registry.
	ErrNoHandlerRegistered = errors.New("domain: no handler registered for job type")

	// ErrCacheUnavailable names a failure reaching the batch cache tier.
	// The cache package returns the Redis client's errors unwrapped, so no
	// function in this module returns it.
	ErrCacheUnavailable = errors.New("domain: batch cache unavailable")
)
