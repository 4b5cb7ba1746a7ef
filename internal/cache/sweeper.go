package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/star/passwatch/internal/metrics"
)

// Start launches the sweeper, which removes expired entries once immediately
// and then every SweepInterval. Calling Start again, or after Dispose, is a
// no-op.
func (c *ElementCache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Dispose stops the sweeper and waits for it to exit. Safe to call more than
// once.
func (c *ElementCache) Dispose() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.stopped = true
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *ElementCache) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.Sweep(ctx)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep deletes every entry that can no longer be served and returns how
// many were removed.
func (c *ElementCache) Sweep(ctx context.Context) int {
	now := c.now()
	removed := 0

	for _, bucket := range Buckets {
		keys, err := c.store.Keys(ctx, bucket)
		if err != nil {
			c.logger.Warn("cache sweep: listing keys", "bucket", bucket, "error", err)
			continue
		}
		for _, key := range keys {
			if ctx.Err() != nil {
				return removed
			}
			raw, err := c.store.Get(ctx, bucket, key)
			if err != nil {
				continue
			}
			var it Item
			if err := json.Unmarshal(raw, &it); err == nil {
				if ok, _ := c.servable(it, now); ok {
					continue
				}
			}
			if err := c.store.Delete(ctx, bucket, key); err != nil {
				c.logger.Warn("cache sweep: delete failed", "bucket", bucket, "key", key, "error", err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.logger.Info("cache sweep complete", "removed", removed)
	}
	return removed
}
