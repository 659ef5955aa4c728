// Copyright 2025 James Ross
package obs

import (
	"testing"
	"time"
)

func TestSLOWindowComputesErrorRateAndP95(t *testing.T) {
	w := NewSLOWindow(time.Minute)
	for i := 0; i < 9; i++ {
		w.Record(100, true)
	}
	w.Record(1000, false)

	obs := w.Observation()
	if got := obs.ErrorRate; got < 0.09 || got > 0.11 {
		t.Fatalf("expected error rate ~0.1, got %v", got)
	}
	if obs.P95LatencyMS != 1000 {
		t.Fatalf("expected p95 latency 1000 (the one slow/failed sample), got %v", obs.P95LatencyMS)
	}
}

func TestSLOWindowPrunesOldSamples(t *testing.T) {
	w := NewSLOWindow(10 * time.Millisecond)
	w.Record(50, false)
	time.Sleep(20 * time.Millisecond)
	w.Record(50, true)

	obs := w.Observation()
	if obs.ErrorRate != 0 {
		t.Fatalf("expected the stale failing sample to be pruned, got error rate %v", obs.ErrorRate)
	}
}

func TestSLOWindowEmptyIsZeroValue(t *testing.T) {
	w := NewSLOWindow(time.Minute)
	obs := w.Observation()
	if obs.ErrorRate != 0 || obs.P95LatencyMS != 0 {
		t.Fatalf("expected zero-value observation with no samples, got %+v", obs)
	}
}
