package batchloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duraqueue/duraqueue/internal/domain"
)

// mockJobFinder implements JobFinder for testing, following the
// function-field mock idiom used throughout this codebase's tests.
type mockJobFinder struct {
	findDuePendingFunc func(ctx context.Context, priority domain.Priority, limit int) ([]domain.JobRecord, error)
}

func (m *mockJobFinder) FindDuePending(ctx context.Context, priority domain.Priority, limit int) ([]domain.JobRecord, error) {
	if m.findDuePendingFunc != nil {
		return m.findDuePendingFunc(ctx, priority, limit)
	}
	return nil, nil
}

type fakeCache struct {
	values map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{values: make(map[string][]byte)} }

func (f *fakeCache) SetEx(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.values[key] = value
	return nil
}
func (f *fakeCache) SetNXEx(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}
func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) { return f.values[key], nil }
func (f *fakeCache) Del(_ context.Context, key string) error           { delete(f.values, key); return nil }
func (f *fakeCache) DelIfMatch(_ context.Context, _ string, _ []byte) (bool, error) {
	return false, nil
}
func (f *fakeCache) Ping(_ context.Context) error { return nil }

func TestLoader_Next_PicksHighestNonEmptyPriority(t *testing.T) {
	calls := []domain.Priority{}
	finder := &mockJobFinder{
		findDuePendingFunc: func(_ context.Context, priority domain.Priority, _ int) ([]domain.JobRecord, error) {
			calls = append(calls, priority)
			if priority == domain.PriorityNormal {
				return []domain.JobRecord{{JobID: "j1", Priority: priority}}, nil
			}
			return nil, nil
		},
	}

	l := New(finder, newFakeCache(), "default")
	batch, err := l.Next(context.Background())

	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, domain.PriorityNormal, batch.Priority)
	assert.Len(t, batch.Jobs, 1)
	// Must have scanned CRITICAL and HIGH first and found them empty.
	assert.Equal(t, []domain.Priority{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityNormal}, calls)
}

func TestLoader_Next_AllEmptyReturnsNil(t *testing.T) {
	finder := &mockJobFinder{}
	l := New(finder, newFakeCache(), "default")

	batch, err := l.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestLoader_Next_ReusesLiveCurrentBatch(t *testing.T) {
	calls := 0
	finder := &mockJobFinder{
		findDuePendingFunc: func(_ context.Context, priority domain.Priority, _ int) ([]domain.JobRecord, error) {
			calls++
			if priority == domain.PriorityLow {
				return []domain.JobRecord{{JobID: "j1"}}, nil
			}
			return nil, nil
		},
	}

	l := New(finder, newFakeCache(), "default", WithBatchTTL(time.Minute))
	first, err := l.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	callsAfterFirst := calls
	second, err := l.Next(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, callsAfterFirst, calls, "Next must not re-scan while the current batch is still live")
}

func TestLoader_HasHigherPriorityArrival_DetectsCriticalOverNormal(t *testing.T) {
	criticalDue := false
	finder := &mockJobFinder{
		findDuePendingFunc: func(_ context.Context, priority domain.Priority, _ int) ([]domain.JobRecord, error) {
			if priority == domain.PriorityNormal {
				return []domain.JobRecord{{JobID: "j1"}}, nil
			}
			if priority == domain.PriorityCritical && criticalDue {
				return []domain.JobRecord{{JobID: "j2"}}, nil
			}
			return nil, nil
		},
	}

	l := New(finder, newFakeCache(), "default", WithBatchTTL(time.Minute))
	batch, err := l.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.PriorityNormal, batch.Priority)

	ok, err := l.HasHigherPriorityArrival(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "no CRITICAL job due yet")

	criticalDue = true
	ok, err = l.HasHigherPriorityArrival(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "a CRITICAL job is now due above the cached NORMAL batch")
}

func TestLoader_HasHigherPriorityArrival_NoCurrentBatch(t *testing.T) {
	l := New(&mockJobFinder{}, newFakeCache(), "default")
	ok, err := l.HasHigherPriorityArrival(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoader_Invalidate_ForcesRescan(t *testing.T) {
	calls := 0
	finder := &mockJobFinder{
		findDuePendingFunc: func(_ context.Context, priority domain.Priority, _ int) ([]domain.JobRecord, error) {
			calls++
			if priority == domain.PriorityLow {
				return []domain.JobRecord{{JobID: "j1"}}, nil
			}
			return nil, nil
		},
	}

	l := New(finder, newFakeCache(), "default", WithBatchTTL(time.Minute))
	_, err := l.Next(context.Background())
	require.NoError(t, err)

	l.Invalidate()

	callsBefore := calls
	_, err = l.Next(context.Background())
	require.NoError(t, err)
	assert.Greater(t, calls, callsBefore, "Invalidate must force a fresh scan")
}

func TestLoader_Next_PropagatesStoreError(t *testing.T) {
	wantErr := errors.New("db unreachable")
	finder := &mockJobFinder{
		findDuePendingFunc: func(_ context.Context, _ domain.Priority, _ int) ([]domain.JobRecord, error) {
			return nil, wantErr
		},
	}

	l := New(finder, newFakeCache(), "default")
	_, err := l.Next(context.Background())
	require.Error(t, err)
}

func TestLoader_Next_DegradedSkipsPublish(t *testing.T) {
	finder := &mockJobFinder{
		findDuePendingFunc: func(_ context.Context, priority domain.Priority, _ int) ([]domain.JobRecord, error) {
			if priority == domain.PriorityLow {
				return []domain.JobRecord{{JobID: "j1"}}, nil
			}
			return nil, nil
		},
	}

	c := newFakeCache()
	l := New(finder, c, "default", WithDegradedCheck(func() bool { return true }))
	batch, err := l.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Empty(t, c.values, "degraded mode must not publish to the cache")
}
