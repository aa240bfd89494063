package core

import (
	"context"
	"time"
)

// RunReaper periodically expires idle sessions until ctx is cancelled.
func (c *Core) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(c.Config.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.ExpireIdle(ctx)
			if err != nil {
				c.Log.Error("idle sweep failed", "error", err)
				continue
			}
			if n > 0 {
				c.Log.Info("idle sessions expired", "count", n)
			}
		}
	}
}
