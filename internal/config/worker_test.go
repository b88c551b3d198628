package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadQueueConfig_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("QUEUE_DB_DSN", "postgres://localhost/duraqueue")

	cfg, err := LoadQueueConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, 1800*time.Second, cfg.BatchTTL)
	assert.Equal(t, 604800*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, "default", cfg.QueueName)
}

func TestLoadQueueConfig_MissingDSN(t *testing.T) {
	os.Clearenv()

	_, err := LoadQueueConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDSNRequired)
}

func TestQueueConfig_Validate_RejectsLockTTLExceedingBatchTTL(t *testing.T) {
	cfg := &QueueConfig{
		LockTTL:  time.Hour,
		BatchTTL: time.Minute,
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestQueueConfig_Validate_AppliesDefaultsOnce(t *testing.T) {
	cfg := &QueueConfig{}
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Concurrency)
}
