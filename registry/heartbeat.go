package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wirehub/wirehub/wire"
)

// heartbeatLoop pings the connection on the configured cadence and removes
// it after a single missed pong deadline. Dead transports must not linger
// holding subscriptions: one strike is enough.
func (r *Registry) heartbeatLoop(c *conn) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		nonce := uuid.NewString()
		c.expectPong(nonce)
		if err := c.enqueue(wire.NewPing(nonce)); err != nil {
			return
		}

		deadline := time.NewTimer(r.cfg.HeartbeatTimeout)
		select {
		case <-c.done:
			deadline.Stop()
			return
		case <-c.pongCh:
			deadline.Stop()
		case <-deadline.C:
			r.log.Debug("heartbeat missed",
				slog.String("conn_id", string(c.id)),
				slog.Duration("timeout", r.cfg.HeartbeatTimeout),
			)
			r.Remove(context.Background(), c.id, wire.CloseReasonHeartbeatTimeout)
			return
		}
	}
}
