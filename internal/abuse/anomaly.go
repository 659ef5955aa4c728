// Copyright 2025 James Ross
package abuse

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tenantQPS tracks a running mean/stddev of per-tick QPS via Welford's
// algorithm, plus consecutive-tick breach counting for sustain logic. Tick
// boundaries are sampled with rate.Limiter instead of a hand-rolled
// now.Sub(windowStart) comparison — an instantaneous-QPS gate is exactly
// what the ecosystem limiter already provides (one token per tickWindow),
// so the window-roll decision reuses it rather than re-deriving it.
type tenantQPS struct {
	count        int64
	mean         float64
	m2           float64
	breachStreak int
	blocked      bool
	tickGate     *rate.Limiter
	windowCount  int64
}

func (t *tenantQPS) observe(qps float64) {
	t.count++
	delta := qps - t.mean
	t.mean += delta / float64(t.count)
	delta2 := qps - t.mean
	t.m2 += delta * delta2
}

func (t *tenantQPS) stddev() float64 {
	if t.count < 2 {
		return 0
	}
	return math.Sqrt(t.m2 / float64(t.count-1))
}

// AnomalyDetector tracks per-tenant QPS mean/stddev and flags sustained
// spikes above μ+3σ (§4.7).
type AnomalyDetector struct {
	mu          sync.Mutex
	tenants     map[string]*tenantQPS
	sigma       float64
	sustain     int
	tickWindow  time.Duration
}

// NewAnomalyDetector configures the sigma threshold and tick-sustain count.
func NewAnomalyDetector(sigma float64, sustainTicks int, tickWindow time.Duration) *AnomalyDetector {
	return &AnomalyDetector{tenants: map[string]*tenantQPS{}, sigma: sigma, sustain: sustainTicks, tickWindow: tickWindow}
}

func (a *AnomalyDetector) tenant(name string) *tenantQPS {
	t, ok := a.tenants[name]
	if !ok {
		t = &tenantQPS{tickGate: rate.NewLimiter(rate.Every(a.tickWindow), 1)}
		a.tenants[name] = t
	}
	return t
}

// RecordRequest increments the current tick's request count for tenant.
func (a *AnomalyDetector) RecordRequest(tenant string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tenant(tenant)
	if t.tickGate.AllowN(now, 1) {
		t.windowCount = 0
	}
	t.windowCount++
}

// Tick reads the current window's request count without resetting it
// (RecordRequest starts a new window once tickWindow has elapsed), folds
// its QPS into the running mean/stddev, and reports whether the instantaneous QPS has exceeded
// μ+3σ for `sustain` consecutive ticks. A flagged tenant stays Blocked
// until a later tick's QPS falls back under threshold.
func (a *AnomalyDetector) Tick(tenant string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tenant(tenant)

	qps := float64(t.windowCount) / math.Max(a.tickWindow.Seconds(), 0.001)
	threshold := t.mean + a.sigma*t.stddev()

	flagged := t.count >= 2 && qps > threshold
	if flagged {
		t.breachStreak++
	} else {
		t.breachStreak = 0
	}
	t.observe(qps)

	t.blocked = t.breachStreak >= a.sustain
	return t.blocked
}

// Blocked reports whether tenant's most recent Tick flagged a sustained
// anomaly; the admission pipeline's pre-check consults this on every
// request between ticks.
func (a *AnomalyDetector) Blocked(tenant string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[tenant]
	return ok && t.blocked
}

// Tenants returns every tenant currently tracked, so a periodic caller can
// drive Tick across the full known set.
func (a *AnomalyDetector) Tenants() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.tenants))
	for name := range a.tenants {
		out = append(out, name)
	}
	return out
}
