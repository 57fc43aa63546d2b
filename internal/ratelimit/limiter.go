// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. Each action (chat message, connection attempt) is
// throttled per identity, so limits hold across reconnects and across every
// connection the same participant has open.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/libnamic/support-chat/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rate limiting rules.
var (
	// RuleMessage allows 10 chat messages per 10 seconds per identity.
	RuleMessage = Rule{Key: "support:rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleConnect allows 10 WebSocket connections per minute per identity.
	RuleConnect = Rule{Key: "support:rl:conn:", Limit: 10, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		logging.L().Warn().Err(err).Str("key", key).Msg("ratelimit: redis INCR failed, failing open")
		return true, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			logging.L().Warn().Err(err).Str("key", key).Msg("ratelimit: redis EXPIRE failed, failing open")
			// Without a TTL the key would persist and block the identifier
			// forever.
			l.client.Del(ctx, key)
			return true, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the identifier's counter for rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	return l.client.Del(ctx, rule.Key+identifier).Err()
}
