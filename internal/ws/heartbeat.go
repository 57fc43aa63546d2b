package ws

import (
	"context"
	"time"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/logging"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // grace period after a ping before the peer is stale (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// RunHeartbeat pings every connection in conns each Interval and closes the
// ones that have not sent a frame within Interval + Timeout. Closing a
// connection ends its session, which removes it from its room. RunHeartbeat
// returns when ctx is done, or immediately if Interval is not positive.
func RunHeartbeat(ctx context.Context, conns *ConnectionManager, cfg HeartbeatConfig) {
	if cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkConnections(ctx, conns, cfg, time.Now())
		}
	}
}

// checkConnections closes stale connections and pings the rest. It returns
// the number of connections closed.
func checkConnections(ctx context.Context, conns *ConnectionManager, cfg HeartbeatConfig, now time.Time) int {
	deadline := cfg.Interval + cfg.Timeout
	closed := 0

	for _, c := range conns.All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			logging.L().Info().
				Str(logging.FieldConnID, c.ID()).
				Dur("idle", idle.Round(time.Second)).
				Msg("heartbeat timeout")
			_ = c.Close(chat.CloseGoingAway, "heartbeat timeout")
			closed++
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := c.Ping(pctx)
		cancel()
		if err != nil && err != ErrNotAccepted {
			logging.L().Debug().
				Err(err).
				Str(logging.FieldConnID, c.ID()).
				Msg("heartbeat ping failed")
			_ = c.Close(chat.CloseGoingAway, "heartbeat failed")
			closed++
		}
	}
	return closed
}
