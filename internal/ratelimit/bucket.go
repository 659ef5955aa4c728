// Copyright 2025 James Ross
// Package ratelimit implements the Token Bucket (C2): the primitive rate
// limiter over requests and cost that every tenant session is checked
// against before admission. The refill math mirrors the Lua script used by
// the teacher's Redis-backed rate limiter, re-expressed as an in-process,
// mutex-guarded bucket since router window state is per-process (§1 Non-goals).
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: (rate, burst, tokens, last_refill).
// Invariant: 0 ≤ tokens ≤ burst. Refilled lazily on Allow using monotonic
// time delta (§4.2).
type Bucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
}

// NewBucket creates a full bucket with the given rate and burst capacity.
func NewBucket(rate, burst float64) *Bucket {
	return &Bucket{rate: rate, burst: burst, tokens: burst, lastRefill: time.Now()}
}

// Allow attempts to consume cost tokens at time now, refilling first.
//
//  1. elapsed ← max(0, now - last_refill); last_refill ← now.
//  2. tokens ← min(burst, tokens + elapsed*rate).
//  3. If tokens ≥ cost: tokens -= cost, return true; else return false.
func (b *Bucket) Allow(cost float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	b.lastRefill = now
	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

// Tokens returns the current token count without consuming, refilling first.
func (b *Bucket) Tokens(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	b.lastRefill = now
	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	return b.tokens
}

// Reset refills the bucket to full, discarding any accrued deficit.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.burst
	b.lastRefill = time.Now()
}
