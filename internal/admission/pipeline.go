// Copyright 2025 James Ross
// Package admission implements the Admission Pipeline (C5): the seven-step
// sequence of §4.5 that every inbound request passes through before a
// downstream adapter call is made. It composes the token bucket (C2), AIMD
// controller (C3), fair scheduler (C4), abuse prevention (C7), and cost
// accountant (C8) — none of which know about each other — the way the
// teacher's job pipeline composes independently-owned stages behind a single
// entry point rather than each stage reaching into its neighbours.
package admission

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/flyingrobots/go-model-router/internal/abuse"
	"github.com/flyingrobots/go-model-router/internal/accounting"
	"github.com/flyingrobots/go-model-router/internal/aimd"
	"github.com/flyingrobots/go-model-router/internal/fairsched"
	"github.com/flyingrobots/go-model-router/internal/ratelimit"
	"github.com/flyingrobots/go-model-router/internal/routererr"
	"github.com/flyingrobots/go-model-router/internal/session"
)

// Config mirrors the admission-relevant subset of config.Config.
type Config struct {
	MaxPromptChars int
	AdmitTimeout   time.Duration
}

// Request is one inbound call identified by (tenant, session) per §4.5.
type Request struct {
	Tenant             string
	Session            session.Key
	Adapter            string
	Prompt             string
	EstimatedUSDMicros float64
	Nonce              string
	NonceTS            int64
}

// DownstreamResult is what step 6 learns after a successful adapter call:
// observed usage for accounting (C8) and the predicted/observed pair for
// the predictability sub-module.
type DownstreamResult struct {
	InTokens      int64
	OutTokens     int64
	USDMicros     int64
	PredTokens    int64
	PredUSDMicros int64
}

// DownstreamFunc executes the adapter call. A non-nil error is treated as a
// transient failure: AIMD.loss is applied and the error is surfaced as-is,
// so callers should return *routererr.Error values already classified by
// kind (ECIRCUIT, ETIMEOUT, EADAPTER, ...).
type DownstreamFunc func(ctx context.Context) (DownstreamResult, error)

// Metrics receives the events C1's registry and C6's throttle window need;
// the pipeline stays ignorant of Prometheus/rolling-window mechanics and
// just reports what happened, the way its other dependencies are each
// narrow interfaces onto a single concern.
type Metrics interface {
	// ObserveRateLimitDrop records a step 3/4 token-bucket rejection,
	// keyed by ratelimit.Reason ("rate_limit" or "cost_limit").
	ObserveRateLimitDrop(reason string)
	// ObserveOutcome records one completed downstream call's latency and
	// success, feeding both the latency histogram and C6's windowed
	// error-rate/p95 observer.
	ObserveOutcome(latencyMS float64, ok bool)
}

// Pipeline wires the independently-owned components behind the single §4.5
// entry point.
type Pipeline struct {
	cfg Config

	buckets    *ratelimit.TenantBuckets
	windows    *aimd.Controller
	fair       *fairsched.Scheduler
	prevention *abuse.Prevention
	accountant *accounting.Accountant
	predict    *accounting.Predictability
	sessions   *session.Registry
	metrics    Metrics
}

// New wires a Pipeline from its already-constructed components. metrics may
// be nil, in which case no C1 metrics are recorded and C6 never sees an
// observation from this pipeline.
func New(
	cfg Config,
	buckets *ratelimit.TenantBuckets,
	windows *aimd.Controller,
	fair *fairsched.Scheduler,
	prevention *abuse.Prevention,
	accountant *accounting.Accountant,
	predict *accounting.Predictability,
	sessions *session.Registry,
	metrics Metrics,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		buckets:    buckets,
		windows:    windows,
		fair:       fair,
		prevention: prevention,
		accountant: accountant,
		predict:    predict,
		sessions:   sessions,
		metrics:    metrics,
	}
}

func (p *Pipeline) observeDrop(reason ratelimit.Reason) {
	if p.metrics != nil {
		p.metrics.ObserveRateLimitDrop(string(reason))
	}
}

// Do runs the full seven-step admission sequence around fn. It always
// returns a *routererr.Error on any non-success outcome so callers can
// render it directly via routererr.WriteHTTP.
func (p *Pipeline) Do(ctx context.Context, req Request, fn DownstreamFunc) (DownstreamResult, *routererr.Error) {
	now := time.Now()

	// Step 1: validate frame.
	if req.Tenant == "" || req.Session == "" || req.Adapter == "" {
		return DownstreamResult{}, routererr.ErrBadInput
	}
	if utf8.RuneCountInString(req.Prompt) > p.cfg.MaxPromptChars {
		return DownstreamResult{}, routererr.ErrPromptTooLarge
	}

	// Step 2: abuse verdict pre-check.
	if p.prevention != nil {
		sig := abuse.RequestSignature(req.Tenant, req.Adapter, req.Prompt)
		if v := p.prevention.CheckLoopAndAnomaly(req.Tenant, sig, now); v.Blocked {
			return DownstreamResult{}, blockedToError(v)
		}
		if v := p.prevention.CheckReplay(req.Nonce, req.NonceTS, string(req.Session), now); v.Blocked {
			return DownstreamResult{}, blockedToError(v)
		}
		if v := p.prevention.CheckCircuit(req.Adapter); v.Blocked {
			return DownstreamResult{}, blockedToError(v)
		}
	}

	// Steps 3-4: dual-dimension token bucket.
	if p.buckets != nil {
		switch reason := p.buckets.Check(req.Tenant, req.EstimatedUSDMicros, now); reason {
		case ratelimit.ReasonRateLimit:
			p.observeDrop(reason)
			return DownstreamResult{}, routererr.AdmissionRejected(routererr.ReasonRateLimit)
		case ratelimit.ReasonCostLimit:
			p.observeDrop(reason)
			return DownstreamResult{}, routererr.AdmissionRejected(routererr.ReasonCostLimit)
		}
	}

	if p.sessions != nil {
		p.sessions.Touch(req.Session, now)
	}

	// Step 5: AIMD window, then fair-scheduler acquire.
	state := p.windows.Get(string(req.Session))
	window := state.Current()
	deadline := now.Add(p.cfg.AdmitTimeout)
	if !p.fair.Acquire(ctx, string(req.Session), window, deadline) {
		return DownstreamResult{}, routererr.AdmissionRejected(routererr.ReasonAdmitTimeout)
	}
	// Step 7: guaranteed release on every path out from here.
	defer p.fair.Release(string(req.Session))

	if !state.Admit(1) {
		return DownstreamResult{}, routererr.AdmissionRejected(routererr.ReasonAdmitTimeout)
	}

	// Step 6: execute downstream.
	callStart := time.Now()
	result, err := fn(ctx)
	latencyMS := float64(time.Since(callStart).Microseconds()) / 1000.0

	if p.prevention != nil && p.prevention.Breaker != nil {
		p.prevention.Breaker.Record(req.Adapter, err == nil)
	}
	if p.metrics != nil {
		p.metrics.ObserveOutcome(latencyMS, err == nil)
	}

	if err != nil {
		state.Loss()
		if rerr, ok := err.(*routererr.Error); ok {
			return DownstreamResult{}, rerr
		}
		return DownstreamResult{}, routererr.ErrAdapter5xx.WithDetail(err.Error())
	}

	state.Ack(1)
	if p.accountant != nil {
		p.accountant.Record(accounting.UsageEvent{
			Tenant:    req.Tenant,
			Adapter:   req.Adapter,
			InTokens:  result.InTokens,
			OutTokens: result.OutTokens,
			USDMicros: result.USDMicros,
		})
	}
	if p.predict != nil {
		p.predict.Record(accounting.PredictabilityPoint{
			Adapter:    req.Adapter,
			PredTokens: result.PredTokens,
			ObsTokens:  result.InTokens + result.OutTokens,
			PredUSD:    result.PredUSDMicros,
			ObsUSD:     result.USDMicros,
		})
	}

	return result, nil
}

// blockedToError renders an abuse.Verdict opaquely per §4.7: the client
// sees policy-denied (403) or circuit-open (503); the reason and threat
// level are for telemetry only and never reach the response body.
func blockedToError(v abuse.Verdict) *routererr.Error {
	if v.Reason == abuse.ReasonCircuit {
		return routererr.ErrCircuitOpen
	}
	return routererr.ErrPolicyDenied
}
