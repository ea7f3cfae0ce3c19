package channel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/envelope"
)

func (c *Channel) heartbeat(ctx context.Context) {
	if _, err := c.Broadcast(ctx, envelope.Heartbeat{}); err != nil {
		c.logger.Debug("Heartbeat broadcast failed", zap.Error(err))
	}

	degraded := c.Degraded()
	c.mu.Lock()
	changed := degraded != c.degraded
	c.degraded = degraded
	c.mu.Unlock()

	if changed && degraded {
		c.logger.Warn("Sync channel may be degraded: no heartbeats received",
			zap.Duration("threshold", c.degradedAfter()),
		)
	} else if changed {
		c.logger.Info("Sync channel heartbeats resumed")
	}
}

func (c *Channel) degradedAfter() time.Duration {
	return time.Duration(c.cfg.DegradedAfter) * c.cfg.HeartbeatInterval
}

// Liveness returns when a heartbeat was last received from each remote origin.
func (c *Channel) Liveness() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.liveness))
	for k, v := range c.liveness {
		out[k] = v
	}
	return out
}

// Degraded reports that no heartbeat, remote or our own echoed back through
// pub/sub, arrived for DegradedAfter intervals. It is only a signal.
func (c *Channel) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.startedAt
	if c.selfEcho.After(last) {
		last = c.selfEcho
	}
	for _, at := range c.liveness {
		if at.After(last) {
			last = at
		}
	}
	return c.now().Sub(last) > c.degradedAfter()
}
