// Copyright 2025 James Ross
package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Metrics Registry (C1): counters, gauges, and histograms
// with a bounded-cardinality label guard. Handles are acquired once at
// component construction time, never reflectively, per the "decorator-driven
// metrics" redesign note.
type Registry struct {
	mu  sync.Mutex
	cap int

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	seen       map[string]map[string]struct{} // metric name -> seen label values
	dropped    *prometheus.CounterVec
}

// NewRegistry builds a Registry with the given label-cardinality cap (§4.1,
// default 1000). All metrics it creates are registered against the default
// Prometheus registerer so a single /metrics exposition serves everything.
func NewRegistry(cardinalityCap int) *Registry {
	if cardinalityCap <= 0 {
		cardinalityCap = 1000
	}
	r := &Registry{
		cap:        cardinalityCap,
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		seen:       map[string]map[string]struct{}{},
	}
	r.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metric_label_dropped_total",
		Help: "Label values rejected because a metric exceeded its cardinality cap",
	}, []string{"metric"})
	prometheus.MustRegister(r.dropped)
	return r
}

// Counter returns (creating if necessary) a counter vector keyed by label.
func (r *Registry) Counter(name, help, label string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	prometheus.MustRegister(c)
	r.counters[name] = c
	r.seen[name] = map[string]struct{}{}
	return c
}

// Gauge returns (creating if necessary) a gauge vector keyed by label.
func (r *Registry) Gauge(name, help, label string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{label})
	prometheus.MustRegister(g)
	r.gauges[name] = g
	r.seen[name] = map[string]struct{}{}
	return g
}

// Histogram returns (creating if necessary) a histogram vector with the
// supplied fixed bucket boundaries. Buckets are small (≤16) by convention.
func (r *Registry) Histogram(name, help, label string, buckets []float64) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, []string{label})
	prometheus.MustRegister(h)
	r.histograms[name] = h
	r.seen[name] = map[string]struct{}{}
	return h
}

// Allow reports whether observing a new label value for metric `name` is
// within the cardinality cap. Once a metric has seen cap distinct values,
// further new values are rejected (dropped) rather than silently admitted;
// already-seen values always pass. Callers should check Allow before
// recording an observation keyed by unbounded input (tenant IDs, adapters).
func (r *Registry) Allow(name, labelValue string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.seen[name]
	if !ok {
		set = map[string]struct{}{}
		r.seen[name] = set
	}
	if _, ok := set[labelValue]; ok {
		return true
	}
	if len(set) >= r.cap {
		r.dropped.WithLabelValues(name).Inc()
		return false
	}
	set[labelValue] = struct{}{}
	return true
}

// Snapshot is a copy-on-read export of registry cardinality bookkeeping.
// It does not re-export raw Prometheus sample data (that is served via
// /metrics text exposition); it captures the bounded state this package
// owns so it can be persisted by C9.
type Snapshot struct {
	LabelCardinality map[string]int `json:"label_cardinality"`
	DroppedTotal     map[string]int `json:"dropped_total"`
}

// Export returns a consistent point-in-time snapshot of cardinality state.
// It fills LabelCardinality only; DroppedTotal is left nil, and dropped
// label values are counted solely by the metric_label_dropped_total counter.
func (r *Registry) Export() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{LabelCardinality: map[string]int{}}
	for name, set := range r.seen {
		snap.LabelCardinality[name] = len(set)
	}
	return snap
}
