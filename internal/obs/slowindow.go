// Copyright 2025 James Ross
package obs

import (
	"sort"
	"sync"
	"time"

	"github.com/flyingrobots/go-model-router/internal/throttle"
)

type slowSample struct {
	at        time.Time
	latencyMS float64
	ok        bool
}

// SLOWindow is a rolling window of completed-request outcomes backing the
// C6 auto-throttle Observer: it turns Pipeline.Do's per-request latency/
// success callbacks into the windowed error-rate and p95-latency reads
// §4.6 calls for, the same rolling-window shape the throttle loop itself
// uses for its tick cadence.
type SLOWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []slowSample
}

// NewSLOWindow builds a window retaining samples for the given duration
// (config.Throttle.WindowSeconds).
func NewSLOWindow(window time.Duration) *SLOWindow {
	return &SLOWindow{window: window}
}

// Record appends one completed request's latency and outcome.
func (w *SLOWindow) Record(latencyMS float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, slowSample{at: time.Now(), latencyMS: latencyMS, ok: ok})
	w.prune(time.Now())
}

func (w *SLOWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for ; i < len(w.samples); i++ {
		if w.samples[i].at.After(cutoff) {
			break
		}
	}
	w.samples = w.samples[i:]
}

// Observation computes the current windowed error rate and p95 latency,
// satisfying throttle.Observer.
func (w *SLOWindow) Observation() throttle.Observation {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())

	if len(w.samples) == 0 {
		return throttle.Observation{}
	}

	errs := 0
	latencies := make([]float64, 0, len(w.samples))
	for _, s := range w.samples {
		if !s.ok {
			errs++
		}
		latencies = append(latencies, s.latencyMS)
	}
	sort.Float64s(latencies)
	idx := int(float64(len(latencies))*0.95)
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}

	return throttle.Observation{
		ErrorRate:    float64(errs) / float64(len(w.samples)),
		P95LatencyMS: latencies[idx],
	}
}
