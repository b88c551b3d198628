package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duraqueue/duraqueue/internal/domain"
)

// AttemptInfo tells a handler where it stands in the job's retry budget.
type AttemptInfo struct {
	Attempt      int
	MaxAttempts  int
	QueuedAt     time.Time
	ProcessingAt time.Time
}

// HandlerResult is what a handler hands back after running. Error and
// ProcessingTimeMs are informational; Success and Fatal drive the state
// machine.
type HandlerResult struct {
	Success          bool
	Data             any
	Error            string
	Fatal            bool
	ProcessingTimeMs int64
}

// Handler executes the side effects for one job attempt. A handler that
// panics is recovered by the pool and treated as a fatal failure: the job
// goes straight to the dead-letter queue without a retry.
type Handler func(ctx context.Context, payload map[string]any, jobID string, info AttemptInfo) HandlerResult

// Registry maps job type to the Handler that executes it. An
// unregistered type fails straight to the terminal path with reason
// invalid_data rather than retrying.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds jobType to h, replacing any existing handler.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup resolves the handler for jobType.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// ErrorHandlerResult controls job behavior after an error or panic.
type ErrorHandlerResult struct {
	// SetCancelled forces the job to its terminal state immediately,
	// bypassing the remaining retry budget. Use when the failure is
	// known unrecoverable regardless of what the handler reported.
	SetCancelled bool
}

// ErrorHandler is a hook for telemetry and alerting on job failures and
// panics, the same shape as River's error-handling pattern
// (https://riverqueue.com/docs/error-handling): HandleError observes
// normal failures and may escalate them to a forced terminal state;
// HandlePanic observes panics, which always go to the dead-letter queue
// regardless of its return value.
type ErrorHandler interface {
	HandleError(ctx context.Context, job *domain.JobRecord, err error) *ErrorHandlerResult
	HandlePanic(ctx context.Context, job *domain.JobRecord, panicVal any, stackTrace string) *ErrorHandlerResult
}

// DefaultErrorHandler logs errors and panics with structured logging and
// otherwise defers to the normal retry policy.
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) HandleError(ctx context.Context, job *domain.JobRecord, err error) *ErrorHandlerResult {
	slog.ErrorContext(ctx, "job failed",
		"job_id", job.JobID,
		"type", job.Type,
		"attempt", job.Attempts,
		"error", err)
	return nil
}

func (DefaultErrorHandler) HandlePanic(ctx context.Context, job *domain.JobRecord, panicVal any, stackTrace string) *ErrorHandlerResult {
	slog.ErrorContext(ctx, "job panicked",
		"job_id", job.JobID,
		"type", job.Type,
		"panic", panicVal,
		"stack", stackTrace)
	return nil
}

// errUnregisteredType is returned when a batch contains a job whose type
// has no bound Handler.
func errUnregisteredType(jobType string) error {
	return fmt.Errorf("workerpool: %w: %q", domain.ErrNoHandlerRegistered, jobType)
}
