package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter returns a Limiter on a local Redis and skips the test when
// Redis is not running.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

func testRule(t *testing.T, limit int) Rule {
	return Rule{Key: "support:rl:test:" + t.Name() + ":", Limit: limit, Window: 2 * time.Second}
}

func TestAllow_WithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := testRule(t, 3)
	t.Cleanup(func() { l.Reset(ctx, "alice", rule) })

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "alice", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "alice", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Fatal("4th request should be rate limited")
	}
}

func TestAllow_PerIdentifier(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := testRule(t, 1)
	t.Cleanup(func() {
		l.Reset(ctx, "alice", rule)
		l.Reset(ctx, "bob", rule)
	})

	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Fatal("alice's first request should be allowed")
	}
	if ok, _ := l.Allow(ctx, "bob", rule); !ok {
		t.Fatal("bob must not be limited by alice's usage")
	}
}

func TestAllow_WindowExpires(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "support:rl:test:expire:", Limit: 1, Window: 1 * time.Second}
	t.Cleanup(func() { l.Reset(ctx, "alice", rule) })

	l.Allow(ctx, "alice", rule)
	if ok, _ := l.Allow(ctx, "alice", rule); ok {
		t.Fatal("second request should be limited")
	}

	time.Sleep(1100 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Fatal("request after window should be allowed")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := testRule(t, 5)
	t.Cleanup(func() { l.Reset(ctx, "alice", rule) })

	n, err := l.Remaining(ctx, "alice", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 remaining, got %d", n)
	}

	l.Allow(ctx, "alice", rule)
	l.Allow(ctx, "alice", rule)

	n, _ = l.Remaining(ctx, "alice", rule)
	if n != 3 {
		t.Fatalf("expected 3 remaining, got %d", n)
	}
}

func TestAllow_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client)

	ok, err := l.Allow(context.Background(), "alice", RuleMessage)
	if err == nil {
		t.Fatal("expected an error from unreachable redis")
	}
	if !ok {
		t.Fatal("limiter must fail open when redis is unavailable")
	}
}
