// Package cache implements the Batch Cache accelerator tier: an ephemeral
// Redis-backed store that holds priority-ordered job batches and the
// primary lock path, so a healthy worker pool never has to round-trip
// every dispatch through the Job Record Store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duraqueue/duraqueue/internal/config"
)

// ErrKeyNotFound is returned by Get when the key does not exist, mapped
// from redis.Nil so callers never import the redis package directly.
var ErrKeyNotFound = errors.New("cache: key not found")

// BatchCache is the Go shape of spec.md §5's "set if absent with expiry"
// primitive, used both for published batches and for the Lock Manager's
// primary path.
type BatchCache interface {
	// SetEx stores value under key with the given expiry, overwriting any
	// existing value.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNXEx stores value under key with the given expiry only if the key
	// is currently absent. Returns true only on a fresh set.
	SetNXEx(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get retrieves the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Del deletes key unconditionally.
	Del(ctx context.Context, key string) error

	// DelIfMatch deletes key only if its current value equals expected,
	// used by the Lock Manager to avoid releasing a successor's lock.
	DelIfMatch(ctx context.Context, key string, expected []byte) (bool, error)

	// Ping verifies connectivity, used by the Resilience Supervisor's
	// health probe.
	Ping(ctx context.Context) error
}

// RedisCache is the production BatchCache backed by a single Redis
// client. Namespacing follows spec.md §6: "queue:<name>:batch:<batch_id>"
// and "queue:<name>:locks:<job_id>".
type RedisCache struct {
	client    *redis.Client
	queueName string
}

// NewRedisCache builds a Redis client per cfg (connections are opened on
// first use) and namespaces all keys under queueName.
func NewRedisCache(cfg config.CacheConfig, queueName string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &RedisCache{client: client, queueName: queueName}
}

// BatchKey returns the namespaced key for a published batch.
func (c *RedisCache) BatchKey(batchID string) string {
	return fmt.Sprintf("queue:%s:batch:%s", c.queueName, batchID)
}

// LockKey returns the namespaced key for a job's primary-path lock.
func (c *RedisCache) LockKey(jobID string) string {
	return fmt.Sprintf("queue:%s:locks:%s", c.queueName, jobID)
}

// SetEx implements BatchCache.SetEx.
func (c *RedisCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: setex %s: %w", key, err)
	}
	return nil
}

// SetNXEx implements BatchCache.SetNXEx.
func (c *RedisCache) SetNXEx(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Get implements BatchCache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, nil
}

// Del implements BatchCache.Del.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: del %s: %w", key, err)
	}
	return nil
}

// delIfMatchScript atomically checks-and-deletes so a worker never
// releases a lock a successor has since acquired.
const delIfMatchScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DelIfMatch implements BatchCache.DelIfMatch.
func (c *RedisCache) DelIfMatch(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := c.client.Eval(ctx, delIfMatchScript, []string{key}, expected).Result()
	if err != nil {
		return false, fmt.Errorf("cache: del-if-match %s: %w", key, err)
	}
	deleted, _ := res.(int64)
	return deleted > 0, nil
}

// Ping implements BatchCache.Ping.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
