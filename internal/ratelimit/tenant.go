// Copyright 2025 James Ross
package ratelimit

import (
	"sync"
	"time"
)

// Reason distinguishes which bucket dimension rejected a request.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonRateLimit Reason = "rate_limit"
	ReasonCostLimit Reason = "cost_limit"
)

// TenantBuckets holds the two buckets per tenant required by §4.2: request
// QPS and cost (micro-USD/s). Each tenant gets its own pair, created lazily.
type TenantBuckets struct {
	mu            sync.Mutex
	requestRate   float64
	requestBurst  float64
	costRate      float64
	costBurst     float64
	requestBuckets map[string]*Bucket
	costBuckets    map[string]*Bucket
}

// NewTenantBuckets configures default rate/burst for both dimensions.
func NewTenantBuckets(requestRate, requestBurst, costRate, costBurst float64) *TenantBuckets {
	return &TenantBuckets{
		requestRate:    requestRate,
		requestBurst:   requestBurst,
		costRate:       costRate,
		costBurst:      costBurst,
		requestBuckets: map[string]*Bucket{},
		costBuckets:    map[string]*Bucket{},
	}
}

func (t *TenantBuckets) requestBucket(tenant string) *Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.requestBuckets[tenant]
	if !ok {
		b = NewBucket(t.requestRate, t.requestBurst)
		t.requestBuckets[tenant] = b
	}
	return b
}

func (t *TenantBuckets) costBucket(tenant string) *Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.costBuckets[tenant]
	if !ok {
		b = NewBucket(t.costRate, t.costBurst)
		t.costBuckets[tenant] = b
	}
	return b
}

// AllowRequest checks the QPS bucket for one request unit.
func (t *TenantBuckets) AllowRequest(tenant string, now time.Time) bool {
	return t.requestBucket(tenant).Allow(1, now)
}

// AllowCost checks the cost bucket for estimatedUSDMicros.
func (t *TenantBuckets) AllowCost(tenant string, estimatedUSDMicros float64, now time.Time) bool {
	return t.costBucket(tenant).Allow(estimatedUSDMicros, now)
}

// Check runs both dimensions and returns the first failing Reason, or
// ReasonNone if both pass. Failure returns distinct reasons per §4.2.
func (t *TenantBuckets) Check(tenant string, estimatedUSDMicros float64, now time.Time) Reason {
	if !t.AllowRequest(tenant, now) {
		return ReasonRateLimit
	}
	if !t.AllowCost(tenant, estimatedUSDMicros, now) {
		return ReasonCostLimit
	}
	return ReasonNone
}

// Evict removes both of tenant's buckets; used by C9's idle-sweep to bound
// memory for long-tail tenants. Bucket does not track last-activity, so the
// idleness decision is made elsewhere; evicted buckets are re-created on
// demand at full burst.
func (t *TenantBuckets) Evict(tenant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requestBuckets, tenant)
	delete(t.costBuckets, tenant)
}
