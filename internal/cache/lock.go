package cache

import (
	"context"
	"time"
)

// LockManager implements the primary lock path of spec.md §4.4: an atomic
// "set if absent with expiry" on the cache, backing off to the Job
// Record Store's AtomicLock when the cache is unavailable. The fallback
// decision itself lives in internal/supervisor and internal/workerpool;
// LockManager only wraps the cache-side primitive.
type LockManager struct {
	cache BatchCache
}

// NewLockManager wraps a BatchCache as a LockManager.
func NewLockManager(c BatchCache) *LockManager {
	return &LockManager{cache: c}
}

// TryAcquire attempts the primary-path lock for jobID. Returns true only
// on a fresh acquisition.
func (m *LockManager) TryAcquire(ctx context.Context, key, workerID string, ttl time.Duration) (bool, error) {
	return m.cache.SetNXEx(ctx, key, []byte(workerID), ttl)
}

// Release deletes the lock only if it is still held by workerID, so a
// worker whose lock already expired and was claimed by a successor can
// never release someone else's lock.
func (m *LockManager) Release(ctx context.Context, key, workerID string) error {
	_, err := m.cache.DelIfMatch(ctx, key, []byte(workerID))
	return err
}
