// Package ban manages customer blocks backed by Redis. A blocked customer
// cannot open a support chat connection until the block expires or an
// operator lifts it. Records are simple key-value pairs with TTL-based expiry:
//
//	Key:   support:block:<customer id>
//	Value: <reason>
//	TTL:   block duration
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BlockPrefix is the Redis key prefix for block records.
	BlockPrefix = "support:block:"

	// OffensesPrefix is the Redis key prefix for per-customer offense
	// counters used by escalating blocks.
	OffensesPrefix = "support:offenses:"

	// Escalating block durations.
	Block15Min  = 15 * time.Minute // 1st offense
	Block1Hour  = 1 * time.Hour    // 2nd offense
	Block24Hour = 24 * time.Hour   // 3rd+ offense

	// OffensesTTL is how long the offense counter lives in Redis. After 24h
	// without new offenses the counter resets to zero.
	OffensesTTL = 24 * time.Hour
)

// Record describes an active block.
type Record struct {
	CustomerID string        `json:"customer_id"`
	Reason     string        `json:"reason"`
	Remaining  time.Duration `json:"remaining"`
}

// Store manages block records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new block store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBlocked reports whether customerID is currently blocked, and if so the
// reason and remaining time. Redis errors are returned so callers can decide
// how to handle them (the admission path fails open).
func (s *Store) IsBlocked(ctx context.Context, customerID string) (Record, bool, error) {
	key := BlockPrefix + customerID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("ban: get %s: %w", customerID, err)
	}

	rec := Record{CustomerID: customerID, Reason: reason}

	// The block exists even if its TTL cannot be read; report it with zero
	// remaining rather than swallowing it.
	if ttl, err := s.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		rec.Remaining = ttl
	}
	return rec, true, nil
}

// Block blocks customerID for duration with the given reason. The block
// expires automatically.
func (s *Store) Block(ctx context.Context, customerID string, duration time.Duration, reason string) error {
	if duration <= 0 {
		return fmt.Errorf("ban: block %s: duration must be positive", customerID)
	}
	if err := s.client.Set(ctx, BlockPrefix+customerID, reason, duration).Err(); err != nil {
		return fmt.Errorf("ban: block %s: %w", customerID, err)
	}
	return nil
}

// Unblock lifts a block immediately. Unblocking a customer who is not
// blocked is not an error.
func (s *Store) Unblock(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, BlockPrefix+customerID).Err(); err != nil {
		return fmt.Errorf("ban: unblock %s: %w", customerID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Escalating blocks
// ---------------------------------------------------------------------------

// escalationDuration returns the block duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Block15Min
	case offenseCount == 2:
		return Block1Hour
	default:
		return Block24Hour
	}
}

// OffenseCount returns the current offense counter for a customer. Returns 0
// if no offenses are recorded or the counter expired.
func (s *Store) OffenseCount(ctx context.Context, customerID string) (int, error) {
	val, err := s.client.Get(ctx, OffensesPrefix+customerID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: offense count %s: %w", customerID, err)
	}
	return val, nil
}

// Escalate increments the offense counter for a customer and applies a block
// whose duration escalates with the number of offenses:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
//
// The offense counter has a 24h TTL set on first increment, so counters
// naturally expire if there is no new activity. Returns the applied duration.
func (s *Store) Escalate(ctx context.Context, customerID, reason string) (time.Duration, error) {
	key := OffensesPrefix + customerID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: escalate incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffensesTTL).Err(); err != nil {
			return 0, fmt.Errorf("ban: escalate expire: %w", err)
		}
	}

	duration := escalationDuration(int(count))
	if err := s.Block(ctx, customerID, duration, reason); err != nil {
		return 0, fmt.Errorf("ban: escalate: %w", err)
	}
	return duration, nil
}
