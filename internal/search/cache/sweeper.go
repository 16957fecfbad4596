package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/ridematch/internal/dispatch/domain"
)

// Sweep removes every entry whose expiry is not after now and returns how
// many it removed. Entries are checked one at a time without holding anything
// across the whole pass.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	removed := 0
	c.items.Range(func(k, v any) bool {
		e := v.(*entry)
		if !e.expired(now) {
			return true
		}
		if c.items.CompareAndDelete(k, e) {
			c.size.Dec()
			removed++
			evictionsTotal.Inc()
			key := k.(string)
			c.logger.Debug("cache entry swept", zap.String("key", key))
			c.emit(context.Background(), domain.Event{Type: domain.EventCacheEvicted, CacheKey: key, At: now})
		}
		return true
	})
	if removed > 0 {
		entriesGauge.Set(float64(c.size.Load()))
	}
	return removed
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Info("expired entries swept", zap.Int("removed", removed), zap.Int("remaining", c.Len()))
			}
		}
	}
}
