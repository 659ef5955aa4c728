// Copyright 2025 James Ross
package persistence

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// WeightSource supplies the live fair_weights map persisted in the
// snapshot, normally fairsched.Scheduler.SnapshotWeights.
type WeightSource func() map[string]float64

// CounterSource supplies the scalar/map counters that round out the
// snapshot document (§6): promotion/demotion tick counts from the SLO
// throttle, the cumulative rate-limit-dropped count, and the latency
// bucket histogram state.
type CounterSource func() (promotion, demotion, rateLimitDropped int64, latBuckets map[string]int64)

// IdleSweepFunc evicts one idle session's state across every owning
// component (fairsched, aimd, ratelimit, accounting, session registry).
type IdleSweepFunc func(session string)

// Scheduler runs C9's two background jobs — snapshot persist and idle
// sweep — on robfig/cron/v3 schedules rather than raw tickers, per the
// operational cadence both jobs share with cron-driven housekeeping
// elsewhere in the ecosystem (unlike C6's throttle loop, whose tick is an
// algorithm parameter, 1000 ms by default, and stays on time.Ticker).
type Scheduler struct {
	store   Store
	weights WeightSource
	counters CounterSource
	logger  *zap.Logger

	cron *cron.Cron
}

// NewScheduler wires the persist/sweep jobs against their data sources.
func NewScheduler(store Store, weights WeightSource, counters CounterSource, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		weights:  weights,
		counters: counters,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Restore loads the snapshot at startup; a missing snapshot starts clean
// (§4.9). onRestore receives the loaded snapshot's fair_weights so the
// caller can seed the fair scheduler and session registry.
func (s *Scheduler) Restore(ctx context.Context, onRestore func(snap *Snapshot)) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if snap != nil && onRestore != nil {
		onRestore(snap)
	}
	return nil
}

// Start schedules the persist job at persistIntervalS and the idle-sweep
// job at idleSweepS, both as fixed-interval cron.Every schedules, and begins
// running them. sweep is invoked once per tick with ctx only; finding and
// evicting idle sessions is left to the sweep function.
func (s *Scheduler) Start(ctx context.Context, persistIntervalS, idleSweepS int, sweep func(ctx context.Context)) error {
	persistSpec := cron.Every(time.Duration(persistIntervalS) * time.Second)
	sweepSpec := cron.Every(time.Duration(idleSweepS) * time.Second)

	s.cron.Schedule(persistSpec, cron.FuncJob(func() {
		if err := s.persistOnce(ctx); err != nil {
			s.logger.Error("snapshot persist failed", zap.Error(err))
		}
	}))
	s.cron.Schedule(sweepSpec, cron.FuncJob(func() {
		sweep(ctx)
	}))

	s.cron.Start()
	return nil
}

// persistOnce writes the current live state as one snapshot document.
func (s *Scheduler) persistOnce(ctx context.Context) error {
	promotion, demotion, dropped, latBuckets := int64(0), int64(0), int64(0), map[string]int64{}
	if s.counters != nil {
		promotion, demotion, dropped, latBuckets = s.counters()
	}
	weights := map[string]float64{}
	if s.weights != nil {
		weights = s.weights()
	}
	snap := &Snapshot{
		Registry:         map[string]int{},
		Promotion:        promotion,
		Demotion:         demotion,
		RateLimitDropped: dropped,
		LatBuckets:       latBuckets,
		FairWeights:      weights,
	}
	return s.store.Save(ctx, snap)
}

// PersistNow forces an immediate out-of-band snapshot write, used on
// graceful shutdown so the last tick's state is never lost to the cron
// cadence.
func (s *Scheduler) PersistNow(ctx context.Context) error {
	return s.persistOnce(ctx)
}

// Stop cancels both cron jobs cooperatively and waits for any in-flight
// run to finish (§4.9: "both tasks are cancelled cooperatively").
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
