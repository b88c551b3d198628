package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheConfig_Validate_Defaults(t *testing.T) {
	cfg := &CacheConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
}
