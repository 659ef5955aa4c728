// Copyright 2025 James Ross
package accounting

import "testing"

func TestRecordIsAdditivePerTenantAndAdapter(t *testing.T) {
	a := New()
	a.Record(UsageEvent{Tenant: "t1", Adapter: "gpt", InTokens: 10, OutTokens: 5, USDMicros: 100})
	a.Record(UsageEvent{Tenant: "t1", Adapter: "gpt", InTokens: 3, OutTokens: 2, USDMicros: 40})
	a.Record(UsageEvent{Tenant: "t2", Adapter: "gpt", InTokens: 1, OutTokens: 1, USDMicros: 10})

	report := a.Report()
	if report.ByTenant["t1"].InTokens != 13 || report.ByTenant["t1"].USDMicros != 140 {
		t.Fatalf("unexpected tenant totals: %+v", report.ByTenant["t1"])
	}
	if report.ByAdapter["gpt"].InTokens != 14 {
		t.Fatalf("unexpected adapter totals: %+v", report.ByAdapter["gpt"])
	}
}

func TestEvictRemovesTenantOnly(t *testing.T) {
	a := New()
	a.Record(UsageEvent{Tenant: "t1", Adapter: "gpt", InTokens: 1})
	a.Evict("t1")
	report := a.Report()
	if _, ok := report.ByTenant["t1"]; ok {
		t.Fatalf("expected tenant to be evicted")
	}
	if _, ok := report.ByAdapter["gpt"]; !ok {
		t.Fatalf("expected adapter totals to survive tenant eviction")
	}
}

func TestPredictabilityMAPEAndUnderEstimation(t *testing.T) {
	var tokenSamples, usdSamples []float64
	p := NewPredictability(
		func(v float64) { tokenSamples = append(tokenSamples, v) },
		func(v float64) { usdSamples = append(usdSamples, v) },
	)
	p.Record(PredictabilityPoint{Adapter: "gpt", PredTokens: 100, ObsTokens: 150, PredUSD: 10, ObsUSD: 8})

	if len(tokenSamples) != 1 || tokenSamples[0] != 0.5 {
		t.Fatalf("expected token MAPE 0.5, got %+v", tokenSamples)
	}
	tokU, usdU := p.UnderEstimateCounts()
	if tokU != 1 || usdU != 0 {
		t.Fatalf("expected 1 token under-estimate and 0 usd, got %d/%d", tokU, usdU)
	}
}
