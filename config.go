package imagecache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds the settings that may change after construction.
type Config struct {
	MaxSize int64
	MaxAge  time.Duration
}

// Config returns the current settings.
func (c *Cache) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Config{MaxSize: c.maxSize, MaxAge: c.maxAge}
}

// Configure updates the capacity and max age. Zero fields are left
// unchanged; negative fields are rejected with ErrInvalidConfig and nothing
// is applied. Existing entries stay in place: a smaller capacity takes
// effect on the next insert and a shorter max age on the next lookup or
// sweep.
func (c *Cache) Configure(cfg Config) error {
	if cfg.MaxSize < 0 {
		return fmt.Errorf("%w: max size %d", ErrInvalidConfig, cfg.MaxSize)
	}
	if cfg.MaxAge < 0 {
		return fmt.Errorf("%w: max age %s", ErrInvalidConfig, cfg.MaxAge)
	}

	c.mu.Lock()
	if cfg.MaxSize > 0 {
		c.maxSize = cfg.MaxSize
	}
	if cfg.MaxAge > 0 {
		c.maxAge = cfg.MaxAge
	}
	maxSize, maxAge := c.maxSize, c.maxAge
	c.mu.Unlock()

	c.logger.Debug("image cache reconfigured",
		zap.Int64("maxSizeBytes", maxSize),
		zap.Duration("maxAge", maxAge),
	)
	return nil
}
