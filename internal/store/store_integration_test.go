package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duraqueue/duraqueue/internal/config"
	"github.com/duraqueue/duraqueue/internal/domain"
)

// setupTestStore opens a PostgresStore against QUEUE_DB_DSN, running
// migrations and truncating both tables once the test finishes. Tests
// are skipped when the DSN is not configured, the same opt-in pattern the
// teacher's integration suite uses for its Postgres-backed tests.
func setupTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()

	cfg, err := config.LoadTestConfig()
	if err != nil {
		t.Skipf("skipping: %v (set QUEUE_DB_DSN to run store integration tests)", err)
	}

	ctx := context.Background()
	s, err := NewStoreWithConfig(ctx, DBConfig{DSN: cfg.Database.DSN, AutoMigrate: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE TABLE jobs, dead_letter_jobs CASCADE")
		s.Close()
	})

	return s, ctx
}

func TestPostgresStore_CreateJobAndAtomicLock(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "send_email", map[string]any{"to": "a@example.com"}, domain.PriorityNormal, 3, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LockedBy)
	assert.Equal(t, "worker-1", *job.LockedBy)

	// A second worker cannot acquire the same lock while it is live.
	_, err = s.AtomicLock(ctx, jobID, "worker-2", 30*time.Second)
	assert.ErrorIs(t, err, domain.ErrJobNotPending)
}

func TestPostgresStore_MarkCompleted_RequiresOwnership(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "noop", nil, domain.PriorityLow, 3, time.Now())
	require.NoError(t, err)
	_, err = s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)

	err = s.MarkCompleted(ctx, jobID, "worker-2", map[string]any{"ok": true})
	assert.ErrorIs(t, err, domain.ErrJobOwnershipLost)

	err = s.MarkCompleted(ctx, jobID, "worker-1", map[string]any{"ok": true})
	require.NoError(t, err)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Nil(t, job.LockedBy)
}

func TestPostgresStore_MarkFailedRetry_RequeueWithBackoff(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "flaky", nil, domain.PriorityHigh, 3, time.Now())
	require.NoError(t, err)
	_, err = s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)

	next := time.Now().Add(2 * time.Second)
	require.NoError(t, s.MarkFailedRetry(ctx, jobID, "worker-1", "boom", next))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Len(t, job.ErrorHistory, 1)
	assert.Equal(t, "boom", *job.LastError)
}

func TestPostgresStore_FailTerminalAndDeadLetter(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "doomed", nil, domain.PriorityNormal, 1, time.Now())
	require.NoError(t, err)
	job, err := s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, job.AttemptsExhausted())

	dlqID, err := s.FailTerminalAndDeadLetter(ctx, job, "worker-1", "fatal", domain.ReasonMaxAttemptsExceeded)
	require.NoError(t, err)
	require.NotEmpty(t, dlqID)

	updated, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, updated.Status)

	rec, err := s.Get(ctx, dlqID)
	require.NoError(t, err)
	assert.Equal(t, jobID, rec.JobID)
	assert.Equal(t, domain.ReasonMaxAttemptsExceeded, rec.Reason)
}

func TestPostgresStore_ReleaseExpiredLocks(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "stalled", nil, domain.PriorityNormal, 3, time.Now())
	require.NoError(t, err)
	_, err = s.AtomicLock(ctx, jobID, "worker-1", 1*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	n, err := s.ReleaseExpiredLocks(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
}

func TestPostgresStore_ReleaseExpiredLocks_ExhaustedAttemptsDeadLetters(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "stalled", nil, domain.PriorityNormal, 1, time.Now())
	require.NoError(t, err)
	_, err = s.AtomicLock(ctx, jobID, "worker-1", 1*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	n, err := s.ReleaseExpiredLocks(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status, "a job already out of attempts must be dead-lettered, not requeued")

	byReason, err := s.StatsByReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byReason[domain.ReasonTimeout])
}

func TestPostgresStore_Reprocess(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "doomed", map[string]any{"n": 1.0}, domain.PriorityNormal, 1, time.Now())
	require.NoError(t, err)
	job, err := s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)

	dlqID, err := s.FailTerminalAndDeadLetter(ctx, job, "worker-1", "fatal", domain.ReasonFatalError)
	require.NoError(t, err)

	newJobID, err := s.Reprocess(ctx, dlqID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, newJobID)

	newJob, err := s.GetJob(ctx, newJobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, newJob.Status)
	assert.Equal(t, 0, newJob.Attempts)

	_, err = s.Reprocess(ctx, dlqID, nil)
	assert.Error(t, err)
}

func TestPostgresStore_Stats(t *testing.T) {
	s, ctx := setupTestStore(t)

	_, err := s.CreateJob(ctx, "counted", nil, domain.PriorityNormal, 3, time.Now())
	require.NoError(t, err)

	jobID, err := s.CreateJob(ctx, "counted", nil, domain.PriorityNormal, 3, time.Now())
	require.NoError(t, err)
	_, err = s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
}

func TestPostgresStore_DeadLetterStatsAndCleanup(t *testing.T) {
	s, ctx := setupTestStore(t)

	jobID, err := s.CreateJob(ctx, "doomed", nil, domain.PriorityNormal, 1, time.Now())
	require.NoError(t, err)
	job, err := s.AtomicLock(ctx, jobID, "worker-1", 30*time.Second)
	require.NoError(t, err)
	_, err = s.FailTerminalAndDeadLetter(ctx, job, "worker-1", "fatal", domain.ReasonFatalError)
	require.NoError(t, err)

	byReason, err := s.StatsByReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byReason[domain.ReasonFatalError])

	byType, err := s.StatsByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byType["doomed"])

	time.Sleep(10 * time.Millisecond)

	n, err := s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	remaining, err := s.StatsByReason(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining[domain.ReasonFatalError])
}
