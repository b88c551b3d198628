package config

import "time"

// CacheConfig holds Redis connection configuration for the Batch Cache
// and Lock Manager tiers. The cache is an accelerator, not a system of
// record: an unreachable cache degrades the pool into fallback mode
// (internal/supervisor) rather than failing startup.
type CacheConfig struct {
	Addr         string        `env:"QUEUE_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `env:"QUEUE_REDIS_PASSWORD"`
	DB           int           `env:"QUEUE_REDIS_DB"`
	DialTimeout  time.Duration `env:"QUEUE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `env:"QUEUE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"QUEUE_REDIS_WRITE_TIMEOUT"`
}

// Validate applies defaults to unset timeouts.
func (c *CacheConfig) Validate() error {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	return nil
}
