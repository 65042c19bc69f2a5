package cache

import (
	"context"
	"time"

	"spool/internal/logging"
)

// RunSweeper evicts expired artifacts on a fixed interval until the context
// is cancelled. Intended to run as a daemon goroutine.
func (c *Cache) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.EvictOlderThan(ctx, retention); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("cache sweep failed", logging.Error(err))
			}
		}
	}
}
