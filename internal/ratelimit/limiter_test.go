package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableClient returns a client pointed at a port nothing listens on,
// with retries disabled so every command fails fast.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestAllowFailsOpenWhenRedisDown(t *testing.T) {
	l := NewLimiter(unreachableClient())

	allowed, err := l.Allow(context.Background(), "u-1", RuleSend)
	if err == nil {
		t.Fatal("expected an error from the unreachable backend")
	}
	if !allowed {
		t.Error("expected the send to be allowed when Redis is down")
	}
}

func TestRemainingFailsOpenWhenRedisDown(t *testing.T) {
	l := NewLimiter(unreachableClient())

	remaining, err := l.Remaining(context.Background(), "u-1", RuleCompletion)
	if err == nil {
		t.Fatal("expected an error from the unreachable backend")
	}
	if remaining != RuleCompletion.Limit {
		t.Errorf("remaining = %d, want the full limit %d", remaining, RuleCompletion.Limit)
	}
}
