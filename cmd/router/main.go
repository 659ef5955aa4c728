// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flyingrobots/go-model-router/internal/abuse"
	"github.com/flyingrobots/go-model-router/internal/accounting"
	"github.com/flyingrobots/go-model-router/internal/adminapi"
	"github.com/flyingrobots/go-model-router/internal/admission"
	"github.com/flyingrobots/go-model-router/internal/aimd"
	"github.com/flyingrobots/go-model-router/internal/config"
	"github.com/flyingrobots/go-model-router/internal/fairsched"
	"github.com/flyingrobots/go-model-router/internal/ingress"
	"github.com/flyingrobots/go-model-router/internal/obs"
	"github.com/flyingrobots/go-model-router/internal/persistence"
	"github.com/flyingrobots/go-model-router/internal/ratelimit"
	"github.com/flyingrobots/go-model-router/internal/rbac"
	"github.com/flyingrobots/go-model-router/internal/redisclient"
	"github.com/flyingrobots/go-model-router/internal/session"
	"github.com/flyingrobots/go-model-router/internal/throttle"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	metricsSrv := obs.StartHTTPServer(cfg, nil)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	// --- C1 metrics registry ---

	registry := obs.NewRegistry(cfg.Observability.LabelCardinalityCap)
	rateLimitDropped := registry.Counter("rate_limit_dropped_total",
		"Requests rejected by the token bucket, by reason", "reason")
	fairWaitMS := registry.Histogram("fair_sched_wait_ms",
		"Fair scheduler acquire wait time in milliseconds", "scheduler",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500})
	weightedSessions := registry.Gauge("fair_sched_weighted_sessions",
		"Count of sessions with a non-default fair-scheduling weight", "scheduler")
	sloWindow := obs.NewSLOWindow(time.Duration(cfg.Throttle.WindowSeconds) * time.Second)
	metrics := &routerMetrics{dropped: rateLimitDropped, window: sloWindow}

	// --- Component construction (leaves first, per §2's table) ---

	buckets := ratelimit.NewTenantBuckets(
		cfg.RequestBucket.RatePerSecond, cfg.RequestBucket.Burst,
		cfg.CostBucket.RatePerSecond, cfg.CostBucket.Burst,
	)
	windows := aimd.NewController(cfg.AIMD.MinCap, cfg.AIMD.MaxCap, cfg.AIMD.AIStep, cfg.AIMD.MDFactor)
	fair := fairsched.New(
		time.Duration(cfg.FairScheduler.TickMS)*time.Millisecond,
		cfg.FairScheduler.StarveMS, cfg.FairScheduler.StarveBoostMS, cfg.FairScheduler.QueueCap,
	)
	defer fair.Shutdown()
	fair.OnWaitObserved(func(ms float64) { fairWaitMS.WithLabelValues("all").Observe(ms) })

	loop := abuse.NewLoopDetector(cfg.Abuse.LoopN, time.Duration(cfg.Abuse.LoopWindowS)*time.Second)
	anomaly := abuse.NewAnomalyDetector(cfg.Abuse.AnomalySigma, cfg.Abuse.AnomalySustain, time.Second)
	breaker := abuse.NewBreaker(
		60*time.Second,
		time.Duration(cfg.Abuse.CBCooldownS)*time.Second,
		time.Duration(cfg.Abuse.CBCooldownMaxS)*time.Second,
		cfg.Abuse.CBFailRatio, cfg.Abuse.CBMinRequests,
	)
	replay := abuse.NewAntiReplay(time.Duration(cfg.Abuse.ReplayWindowS) * time.Second)
	prevention := abuse.NewPrevention(loop, anomaly, breaker, replay)

	accountant := accounting.New()
	predict := accounting.NewPredictability(nil, nil)
	sessions := session.NewRegistry()

	pipeline := admission.New(
		admission.Config{MaxPromptChars: cfg.Admission.MaxPromptChars, AdmitTimeout: time.Duration(cfg.FairScheduler.AdmitTimeoutMS) * time.Millisecond},
		buckets, windows, fair, prevention, accountant, predict, sessions, metrics,
	)

	thr := throttle.New(throttle.Config{
		Tick:           time.Duration(cfg.Throttle.TickMS) * time.Millisecond,
		SLOErrorRate:   cfg.Throttle.SLOErrorRate,
		SLOP95MS:       float64(cfg.Throttle.SLOP95MS),
		ContractFactor: cfg.Throttle.ContractFactor,
		RecoverTicks:   cfg.Throttle.RecoverTicks,
		ConfiguredMax:  cfg.AIMD.MaxCap,
	}, windows, sloWindow.Observation)
	thr.OnBurnRateAlarm(func(rate float64) {
		logger.Warn("SLO burn-rate alarm", obs.String("rate", fmt.Sprintf("%.2f", rate)))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	thr.Start(ctx)
	defer thr.Stop()

	// C7's anomaly detector needs its periodic Tick driven from somewhere;
	// it shares the abuse anomaly tick window (1s, per its construction
	// above) rather than C6's throttle tick, since the two SLOs are
	// unrelated. The same loop refreshes the weighted-sessions gauge.
	anomalyTicker := time.NewTicker(time.Second)
	defer anomalyTicker.Stop()
	go func() {
		for {
			select {
			case <-anomalyTicker.C:
				for _, tenant := range anomaly.Tenants() {
					if prevention.TickAnomaly(tenant).Blocked {
						logger.Warn("anomaly detector flagged sustained QPS spike", obs.String("tenant", tenant))
					}
				}
				weighted := 0
				for _, w := range fair.SnapshotWeights() {
					if w != 1.0 {
						weighted++
					}
				}
				weightedSessions.WithLabelValues("all").Set(float64(weighted))
			case <-ctx.Done():
				return
			}
		}
	}()

	// --- Persistence (C9): restore, then schedule persist + idle-sweep on cron ---

	store, err := buildStore(cfg)
	if err != nil {
		logger.Fatal("failed to build persistence store", obs.Err(err))
	}
	persistSched := persistence.NewScheduler(store, fair.SnapshotWeights, nil, logger)
	if err := persistSched.Restore(ctx, func(snap *persistence.Snapshot) {
		sessions.Restore(snap.FairWeights, time.Now())
		for sess, w := range snap.FairWeights {
			fair.SetWeight(sess, w)
		}
	}); err != nil {
		logger.Warn("snapshot restore failed, starting clean", obs.Err(err))
	}
	if !cfg.Persistence.DisableThread {
		sweep := func(ctx context.Context) {
			idle := sessions.Sweep(time.Now(), time.Duration(cfg.Persistence.IdleTTLS)*time.Second, func(k session.Key) int {
				return fair.InFlight(string(k))
			})
			for _, k := range idle {
				fair.Evict(string(k))
				windows.Evict(string(k))
				buckets.Evict(k.Tenant())
				accountant.Evict(k.Tenant())
				sessions.Forget(k)
			}
			if len(idle) > 0 {
				logger.Info("idle sweep evicted sessions", obs.Int("count", len(idle)))
			}
		}
		if err := persistSched.Start(ctx, cfg.Persistence.PersistIntervalS, cfg.Persistence.IdleSweepS, sweep); err != nil {
			logger.Fatal("failed to start persistence scheduler", obs.Err(err))
		}
		defer persistSched.Stop()
	}
	defer func() { _ = persistSched.PersistNow(context.Background()) }()

	// --- Admin + ingress HTTP surfaces ---

	keys := rbac.NewKeyStore(cfg.Admin.StrictMode)
	keys.Seed(adminKeyRoles(cfg.Admin.Keys))

	auditPath := filepath.Join(filepath.Dir(cfg.Persistence.SnapshotPath), "admin-audit.log")
	auditLog, err := adminapi.NewAuditLogger(auditPath, 10<<20, 5, 256)
	if err != nil {
		logger.Fatal("failed to open admin audit log", obs.Err(err))
	}

	adminHandler := adminapi.NewHandler(fair, breaker, keys, auditLog, nil)
	adminServer := adminapi.NewServer(adminapi.Config{
		ListenAddr: fmt.Sprintf(":%d", cfg.Observability.HTTPPort+1),
		RPS:        cfg.Admin.RPS, RPSBurst: cfg.Admin.RPSBurst,
		StrictMode: cfg.Admin.StrictMode,
	}, adminHandler, keys, logger)
	go func() {
		if err := adminServer.Start(); err != nil {
			logger.Error("admin server stopped", obs.Err(err))
		}
	}()
	defer func() { _ = adminServer.Shutdown(context.Background()) }()

	ingressHandler := ingress.NewHandler(pipeline, ingress.AdapterFunc(stubAdapter), "default")
	ingressSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.HTTPPort+2), Handler: ingress.Routes(ingressHandler, logger)}
	go func() {
		if err := ingressSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ingress server stopped", obs.Err(err))
		}
	}()
	defer func() { _ = ingressSrv.Shutdown(context.Background()) }()

	// --- Signal-driven graceful shutdown ---

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
	cancel()

	select {
	case sig2 := <-sigCh:
		logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
		os.Exit(1)
	case <-time.After(5 * time.Second):
	}
}

// routerMetrics implements admission.Metrics, feeding a completed request's
// rate-limit-drop reason and latency/outcome into the C1 registry and the
// C6 throttle's windowed observer respectively.
type routerMetrics struct {
	dropped *prometheus.CounterVec
	window  *obs.SLOWindow
}

func (m *routerMetrics) ObserveRateLimitDrop(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *routerMetrics) ObserveOutcome(latencyMS float64, ok bool) {
	m.window.Record(latencyMS, ok)
}

func buildStore(cfg *config.Config) (persistence.Store, error) {
	if cfg.Persistence.Backend == "redis" {
		rdb := redisclient.New(cfg)
		return persistence.NewRedisStore(rdb, cfg.Persistence.RedisKey), nil
	}
	return persistence.NewJSONFileStore(cfg.Persistence.SnapshotPath), nil
}

func adminKeyRoles(keys map[string][]string) map[string][]rbac.Role {
	out := make(map[string][]rbac.Role, len(keys))
	for hash, roles := range keys {
		rs := make([]rbac.Role, len(roles))
		for i, r := range roles {
			rs[i] = rbac.Role(r)
		}
		out[hash] = rs
	}
	return out
}

// stubAdapter is the deterministic fallback downstream call used when no
// real model adapter is configured; calling an actual model is out of this
// subsystem's core per §1.
func stubAdapter(ctx context.Context, req admission.Request) (admission.DownstreamResult, error) {
	return admission.DownstreamResult{}, nil
}
