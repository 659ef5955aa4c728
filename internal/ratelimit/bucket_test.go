// Copyright 2025 James Ross
package ratelimit

import (
	"testing"
	"time"
)

func TestBucketNeverExceedsBurstOrGoesNegative(t *testing.T) {
	b := NewBucket(10, 20)
	now := time.Now()

	if !b.Allow(15, now) {
		t.Fatalf("expected initial allow within burst")
	}
	if b.Tokens(now) < 0 {
		t.Fatalf("tokens went negative")
	}

	// Advance far enough to refill well past burst; must clamp.
	later := now.Add(10 * time.Second)
	tokens := b.Tokens(later)
	if tokens > 20 {
		t.Fatalf("tokens exceeded burst: %v", tokens)
	}
}

func TestBucketDeniesWhenInsufficientTokens(t *testing.T) {
	b := NewBucket(1, 5)
	now := time.Now()
	if !b.Allow(5, now) {
		t.Fatalf("expected allow consuming full burst")
	}
	if b.Allow(1, now) {
		t.Fatalf("expected deny immediately after burst exhausted")
	}
}

func TestTenantBucketsDistinctReasons(t *testing.T) {
	tb := NewTenantBuckets(100, 1, 100, 1)
	now := time.Now()

	// Exhaust cost bucket but leave request bucket healthy isn't directly
	// controllable since both share the `now` refill clock; exhaust request
	// bucket explicitly first.
	if tb.Check("t1", 0.5, now) != ReasonNone {
		t.Fatalf("expected first request to pass")
	}
	// Drain the request bucket dry.
	tb.requestBucket("t1").tokens = 0
	if got := tb.Check("t1", 0.1, now); got != ReasonRateLimit {
		t.Fatalf("expected rate_limit reason, got %q", got)
	}

	tb2 := NewTenantBuckets(100, 5, 100, 0.1)
	if tb2.Check("t2", 0.05, now) != ReasonNone {
		t.Fatalf("expected pass within cost burst")
	}
	tb2.costBucket("t2").tokens = 0
	if got := tb2.Check("t2", 0.05, now); got != ReasonCostLimit {
		t.Fatalf("expected cost_limit reason, got %q", got)
	}
}
