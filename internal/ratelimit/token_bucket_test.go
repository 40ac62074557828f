package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refillPerSecond float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTokenBucket(client, capacity, refillPerSecond, time.Minute)
}

func TestAllowUpToCapacity(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 3, 0.1)

	for i := 0; i < 3; i++ {
		allowed, _, err := b.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be within capacity", i)
		}
	}

	allowed, retryAfter, err := b.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("allow over capacity: %v", err)
	}
	if allowed {
		t.Fatal("request over capacity should be rejected")
	}
	if retryAfter <= 0 {
		t.Fatalf("rejection should carry a retry hint, got %v", retryAfter)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1, 0.1)

	if allowed, _, _ := b.Allow(ctx, "client-a"); !allowed {
		t.Fatal("first request for client-a should pass")
	}
	if allowed, _, _ := b.Allow(ctx, "client-a"); allowed {
		t.Fatal("second request for client-a should be rejected")
	}
	if allowed, _, _ := b.Allow(ctx, "client-b"); !allowed {
		t.Fatal("client-b has its own bucket and should pass")
	}
}

func TestBucketRefillsOverTime(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1, 100) // fast refill keeps the test quick

	if allowed, _, _ := b.Allow(ctx, "client-a"); !allowed {
		t.Fatal("first request should pass")
	}
	if allowed, _, _ := b.Allow(ctx, "client-a"); allowed {
		t.Fatal("bucket should be empty immediately after draining")
	}

	time.Sleep(50 * time.Millisecond)

	if allowed, _, _ := b.Allow(ctx, "client-a"); !allowed {
		t.Fatal("bucket should refill after waiting")
	}
}
