package chat

import (
	"context"
	"time"

	"github.com/libnamic/support-chat/internal/logging"
)

// RunJanitor evicts idle rooms from g every interval until ctx is done.
// It returns immediately if maxIdle or interval is not positive.
func RunJanitor(ctx context.Context, g *Registry, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.L().Debug().Msg("room janitor stopped")
			return
		case <-ticker.C:
			if evicted := g.EvictIdle(maxIdle); len(evicted) > 0 {
				logging.L().Info().
					Int("count", len(evicted)).
					Strs("rooms", evicted).
					Msg("evicted idle rooms")
			}
		}
	}
}
