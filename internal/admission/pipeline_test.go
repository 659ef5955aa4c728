// Copyright 2025 James Ross
package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flyingrobots/go-model-router/internal/abuse"
	"github.com/flyingrobots/go-model-router/internal/accounting"
	"github.com/flyingrobots/go-model-router/internal/aimd"
	"github.com/flyingrobots/go-model-router/internal/fairsched"
	"github.com/flyingrobots/go-model-router/internal/ratelimit"
	"github.com/flyingrobots/go-model-router/internal/routererr"
	"github.com/flyingrobots/go-model-router/internal/session"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	buckets := ratelimit.NewTenantBuckets(1000, 1000, 1e9, 1e9)
	windows := aimd.NewController(1, 8, 1, 0.5)
	fair := fairsched.New(5*time.Millisecond, 250, 500, 64)
	t.Cleanup(fair.Shutdown)
	accountant := accounting.New()
	predict := accounting.NewPredictability(nil, nil)
	sessions := session.NewRegistry()

	return New(Config{MaxPromptChars: 100, AdmitTimeout: time.Second}, buckets, windows, fair, nil, accountant, predict, sessions, nil)
}

func TestDoRejectsMissingFields(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Do(context.Background(), Request{}, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not be invoked")
		return DownstreamResult{}, nil
	})
	if err == nil || err.Kind != routererr.KindBadInput {
		t.Fatalf("expected EBAD_INPUT, got %+v", err)
	}
}

func TestDoRejectsOversizedPrompt(t *testing.T) {
	p := newTestPipeline(t)
	big := make([]byte, 200)
	for i := range big {
		big[i] = 'x'
	}
	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: string(big)}
	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not be invoked")
		return DownstreamResult{}, nil
	})
	if err == nil || err.HTTPStatus != 413 {
		t.Fatalf("expected 413, got %+v", err)
	}
}

func TestDoSuccessPathAcksAndRecords(t *testing.T) {
	p := newTestPipeline(t)
	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hello", EstimatedUSDMicros: 10}

	called := false
	result, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		called = true
		return DownstreamResult{InTokens: 10, OutTokens: 20, USDMicros: 30, PredTokens: 25, PredUSDMicros: 30}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if !called {
		t.Fatal("downstream was not invoked")
	}
	if result.USDMicros != 30 {
		t.Fatalf("expected result passthrough, got %+v", result)
	}

	report := p.accountant.Report()
	if report.ByTenant["t1"].USDMicros != 30 {
		t.Fatalf("expected accountant to record usage, got %+v", report.ByTenant["t1"])
	}
}

func TestDoTransientFailureAppliesLossAndSurfacesError(t *testing.T) {
	p := newTestPipeline(t)
	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hello"}

	p.windows.Get(string(req.Session)).Ack(0) // grow past min_cap so a loss has room to shrink
	before := p.windows.Get(string(req.Session)).Current()

	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		return DownstreamResult{}, routererr.ErrAdapterTimeout
	})
	if err == nil || err.Kind != routererr.KindTimeout {
		t.Fatalf("expected ETIMEOUT surfaced, got %+v", err)
	}

	after := p.windows.Get(string(req.Session)).Current()
	if after >= before {
		t.Fatalf("expected window to shrink after loss: before=%d after=%d", before, after)
	}
}

func TestDoWrapsUnclassifiedDownstreamError(t *testing.T) {
	p := newTestPipeline(t)
	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hi"}

	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		return DownstreamResult{}, errors.New("boom")
	})
	if err == nil || err.Kind != routererr.KindAdapter {
		t.Fatalf("expected EADAPTER wrap, got %+v", err)
	}
}

func TestDoRejectsRateLimited(t *testing.T) {
	buckets := ratelimit.NewTenantBuckets(0, 0, 1e9, 1e9)
	windows := aimd.NewController(1, 8, 1, 0.5)
	fair := fairsched.New(5*time.Millisecond, 250, 500, 64)
	defer fair.Shutdown()
	p := New(Config{MaxPromptChars: 100, AdmitTimeout: time.Second}, buckets, windows, fair, nil, accounting.New(), accounting.NewPredictability(nil, nil), session.NewRegistry(), nil)

	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hi"}
	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not run")
		return DownstreamResult{}, nil
	})
	if err == nil || err.Detail != string(routererr.ReasonRateLimit) {
		t.Fatalf("expected rate_limit rejection, got %+v", err)
	}
}

func TestDoBlockedByFlaggedAnomaly(t *testing.T) {
	p := newTestPipeline(t)
	anomaly := abuse.NewAnomalyDetector(3.0, 1, time.Second)
	now := time.Now()
	for i := 0; i < 2; i++ {
		anomaly.RecordRequest("t1", now)
		anomaly.Tick("t1")
	}
	for i := 0; i < 100; i++ {
		anomaly.RecordRequest("t1", now)
	}
	anomaly.Tick("t1") // one tick over sustain=1 already flags and blocks
	p.prevention = abuse.NewPrevention(nil, anomaly, nil, nil)

	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hi"}
	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not run once the tenant is flagged anomalous")
		return DownstreamResult{}, nil
	})
	if err == nil || err.Kind != routererr.KindPolicy {
		t.Fatalf("expected policy-denied for flagged anomaly, got %+v", err)
	}
}

func TestDoBlockedByCircuitBreaker(t *testing.T) {
	p := newTestPipeline(t)
	breaker := abuse.NewBreaker(time.Minute, time.Hour, time.Hour, 0.5, 1)
	breaker.Record("gpt", false)
	p.prevention = abuse.NewPrevention(nil, nil, breaker, nil)

	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hi"}
	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not run when circuit is open")
		return DownstreamResult{}, nil
	})
	if err == nil || err.Kind != routererr.KindCircuit {
		t.Fatalf("expected ECIRCUIT, got %+v", err)
	}
}

func TestDoRecordsDownstreamOutcomeToBreaker(t *testing.T) {
	p := newTestPipeline(t)
	breaker := abuse.NewBreaker(time.Minute, time.Hour, time.Hour, 0.5, 4)
	p.prevention = abuse.NewPrevention(nil, nil, breaker, nil)

	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hi"}
	failing := func(ctx context.Context) (DownstreamResult, error) {
		return DownstreamResult{}, errors.New("downstream failed")
	}

	// Four consecutive failures routed entirely through Do, never touching
	// breaker.Record directly, must be enough to trip the circuit per the
	// fail-ratio/min-requests configured above.
	for i := 0; i < 4; i++ {
		if _, err := p.Do(context.Background(), req, failing); err == nil {
			t.Fatalf("expected downstream failure to surface as an error")
		}
	}

	if breaker.State("gpt") != abuse.Open {
		t.Fatalf("expected repeated downstream failures observed through Do to trip the circuit, got %v", breaker.State("gpt"))
	}

	// With the circuit now open, a fifth call must be rejected before
	// the downstream function ever runs.
	_, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not run once the circuit has tripped")
		return DownstreamResult{}, nil
	})
	if err == nil || err.Kind != routererr.KindCircuit {
		t.Fatalf("expected ECIRCUIT once circuit is open, got %+v", err)
	}
}

type fakeMetrics struct {
	drops    []string
	outcomes []bool
}

func (f *fakeMetrics) ObserveRateLimitDrop(reason string) { f.drops = append(f.drops, reason) }
func (f *fakeMetrics) ObserveOutcome(latencyMS float64, ok bool) {
	f.outcomes = append(f.outcomes, ok)
}

func TestDoReportsOutcomeAndDropsToMetrics(t *testing.T) {
	buckets := ratelimit.NewTenantBuckets(0, 0, 1e9, 1e9)
	windows := aimd.NewController(1, 8, 1, 0.5)
	fair := fairsched.New(5*time.Millisecond, 250, 500, 64)
	defer fair.Shutdown()
	fm := &fakeMetrics{}
	p := New(Config{MaxPromptChars: 100, AdmitTimeout: time.Second}, buckets, windows, fair, nil,
		accounting.New(), accounting.NewPredictability(nil, nil), session.NewRegistry(), fm)

	req := Request{Tenant: "t1", Session: session.NewKey("t1", "c1"), Adapter: "gpt", Prompt: "hi"}
	if _, err := p.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		t.Fatal("downstream should not run when rate-limited")
		return DownstreamResult{}, nil
	}); err == nil {
		t.Fatalf("expected rate-limit rejection")
	}
	if len(fm.drops) != 1 || fm.drops[0] != string(ratelimit.ReasonRateLimit) {
		t.Fatalf("expected one rate_limit drop recorded, got %v", fm.drops)
	}

	pSuccess := newTestPipeline(t)
	pSuccess.metrics = fm
	if _, err := pSuccess.Do(context.Background(), req, func(ctx context.Context) (DownstreamResult, error) {
		return DownstreamResult{}, nil
	}); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if len(fm.outcomes) != 1 || !fm.outcomes[0] {
		t.Fatalf("expected one successful outcome recorded, got %v", fm.outcomes)
	}
}
