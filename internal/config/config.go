// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis configures the optional Redis-backed snapshot store (§4.9/§9: state is
// per-process; Redis is only used as an alternate persistence backend, never
// for cross-node consensus on window state).
type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Bucket configures a single token-bucket dimension (C2).
type Bucket struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         float64 `mapstructure:"burst"`
}

// AIMD configures the per-session congestion window controller (C3).
type AIMD struct {
	MinCap  int     `mapstructure:"min_cap"`
	MaxCap  int     `mapstructure:"max_cap"`
	AIStep  int     `mapstructure:"ai_step"`
	MDFactor float64 `mapstructure:"md_factor"`
}

// FairScheduler configures the deficit-weighted-fair queue (C4).
type FairScheduler struct {
	StarveMS      int `mapstructure:"starve_ms"`
	StarveBoostMS int `mapstructure:"starve_boost_ms"`
	TickMS        int `mapstructure:"tick_ms"`
	QueueCap      int `mapstructure:"queue_cap"`
	AdmitTimeoutMS int `mapstructure:"admit_timeout_ms"`
}

// Admission configures the ingress pipeline (C5).
type Admission struct {
	MaxPromptChars int `mapstructure:"max_prompt_chars"`
}

// Throttle configures the SLO auto-throttle loop (C6).
type Throttle struct {
	TickMS        int     `mapstructure:"tick_ms"`
	SLOErrorRate  float64 `mapstructure:"slo_error_rate"`
	SLOP95MS      int     `mapstructure:"slo_p95_ms"`
	ContractFactor float64 `mapstructure:"contract_factor"`
	RecoverTicks  int     `mapstructure:"recover_ticks"`
	WindowSeconds int     `mapstructure:"window_seconds"`
}

// Abuse configures the loop detector, anomaly detector, breaker, and
// anti-replay sub-mechanisms of C7.
type Abuse struct {
	LoopN            int     `mapstructure:"loop_n"`
	LoopWindowS      int     `mapstructure:"loop_window_s"`
	AnomalySigma     float64 `mapstructure:"anomaly_sigma"`
	AnomalySustain   int     `mapstructure:"anomaly_sustain_ticks"`
	CBFailRatio      float64 `mapstructure:"cb_fail_ratio"`
	CBMinRequests    int     `mapstructure:"cb_min_requests"`
	CBCooldownS      int     `mapstructure:"cb_cooldown_s"`
	CBCooldownMaxS   int     `mapstructure:"cb_cooldown_max_s"`
	ReplayWindowS    int     `mapstructure:"replay_window_s"`
}

// Persistence configures C9 snapshot and idle-sweep cadence.
type Persistence struct {
	SnapshotPath     string `mapstructure:"snapshot_path"`
	PersistIntervalS int    `mapstructure:"persist_interval_s"`
	IdleSweepS       int    `mapstructure:"idle_sweep_s"`
	IdleTTLS         int    `mapstructure:"idle_ttl_s"`
	Backend          string `mapstructure:"backend"` // "file" | "redis"
	RedisKey         string `mapstructure:"redis_key"`
	DisableThread    bool   `mapstructure:"disable_thread"`
}

// Admin configures the RBAC-gated admin HTTP surface.
type Admin struct {
	Keys       map[string][]string `mapstructure:"keys"` // key hash -> roles
	RPS        float64             `mapstructure:"rps"`
	RPSBurst   float64             `mapstructure:"rps_burst"`
	StrictMode bool                `mapstructure:"strict_mode"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

type ObservabilityConfig struct {
	MetricsPort  int           `mapstructure:"metrics_port"`
	HTTPPort     int           `mapstructure:"http_port"`
	LogLevel     string        `mapstructure:"log_level"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	LabelCardinalityCap int   `mapstructure:"label_cardinality_cap"`
}

type Config struct {
	Redis         Redis               `mapstructure:"redis"`
	RequestBucket Bucket              `mapstructure:"request_bucket"`
	CostBucket    Bucket              `mapstructure:"cost_bucket"`
	AIMD          AIMD                `mapstructure:"aimd"`
	FairScheduler FairScheduler       `mapstructure:"fair_scheduler"`
	Admission     Admission           `mapstructure:"admission"`
	Throttle      Throttle            `mapstructure:"throttle"`
	Abuse         Abuse               `mapstructure:"abuse"`
	Persistence   Persistence         `mapstructure:"persistence"`
	Admin         Admin               `mapstructure:"admin"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 4,
			MinIdleConns:       2,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		RequestBucket: Bucket{RatePerSecond: 50, Burst: 100},
		CostBucket:    Bucket{RatePerSecond: 50000, Burst: 100000}, // micro-USD/s
		AIMD: AIMD{
			MinCap:   1,
			MaxCap:   64,
			AIStep:   1,
			MDFactor: 0.5,
		},
		FairScheduler: FairScheduler{
			StarveMS:       250,
			StarveBoostMS:  500,
			TickMS:         10,
			QueueCap:       64,
			AdmitTimeoutMS: 2000,
		},
		Admission: Admission{MaxPromptChars: 32000},
		Throttle: Throttle{
			TickMS:         1000,
			SLOErrorRate:   0.01,
			SLOP95MS:       1500,
			ContractFactor: 0.8,
			RecoverTicks:   5,
			WindowSeconds:  60,
		},
		Abuse: Abuse{
			LoopN:          5,
			LoopWindowS:    30,
			AnomalySigma:   3.0,
			AnomalySustain: 2,
			CBFailRatio:    0.5,
			CBMinRequests:  20,
			CBCooldownS:    30,
			CBCooldownMaxS: 480,
			ReplayWindowS:  60,
		},
		Persistence: Persistence{
			SnapshotPath:     "./data/router-snapshot.json",
			PersistIntervalS: 15,
			IdleSweepS:       60,
			IdleTTLS:         900,
			Backend:          "file",
			RedisKey:         "router:snapshot",
		},
		Admin: Admin{
			RPS:      20,
			RPSBurst: 40,
		},
		Observability: ObservabilityConfig{
			MetricsPort:          9090,
			HTTPPort:             8080,
			LogLevel:             "info",
			LabelCardinalityCap:  1000,
		},
	}
}

// Load reads configuration from a YAML file, overridden by ROUTER_* env vars,
// and applies defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("router")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("admission.max_prompt_chars", "ROUTER_MAX_PROMPT_CHARS")
	_ = v.BindEnv("request_bucket.rate_per_second", "ROUTER_RPS_LIMIT")
	_ = v.BindEnv("request_bucket.burst", "ROUTER_RPS_BURST")
	_ = v.BindEnv("persistence.disable_thread", "ROUTER_DISABLE_PERSIST_THREAD")

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("request_bucket.rate_per_second", def.RequestBucket.RatePerSecond)
	v.SetDefault("request_bucket.burst", def.RequestBucket.Burst)
	v.SetDefault("cost_bucket.rate_per_second", def.CostBucket.RatePerSecond)
	v.SetDefault("cost_bucket.burst", def.CostBucket.Burst)

	v.SetDefault("aimd.min_cap", def.AIMD.MinCap)
	v.SetDefault("aimd.max_cap", def.AIMD.MaxCap)
	v.SetDefault("aimd.ai_step", def.AIMD.AIStep)
	v.SetDefault("aimd.md_factor", def.AIMD.MDFactor)

	v.SetDefault("fair_scheduler.starve_ms", def.FairScheduler.StarveMS)
	v.SetDefault("fair_scheduler.starve_boost_ms", def.FairScheduler.StarveBoostMS)
	v.SetDefault("fair_scheduler.tick_ms", def.FairScheduler.TickMS)
	v.SetDefault("fair_scheduler.queue_cap", def.FairScheduler.QueueCap)
	v.SetDefault("fair_scheduler.admit_timeout_ms", def.FairScheduler.AdmitTimeoutMS)

	v.SetDefault("admission.max_prompt_chars", def.Admission.MaxPromptChars)

	v.SetDefault("throttle.tick_ms", def.Throttle.TickMS)
	v.SetDefault("throttle.slo_error_rate", def.Throttle.SLOErrorRate)
	v.SetDefault("throttle.slo_p95_ms", def.Throttle.SLOP95MS)
	v.SetDefault("throttle.contract_factor", def.Throttle.ContractFactor)
	v.SetDefault("throttle.recover_ticks", def.Throttle.RecoverTicks)
	v.SetDefault("throttle.window_seconds", def.Throttle.WindowSeconds)

	v.SetDefault("abuse.loop_n", def.Abuse.LoopN)
	v.SetDefault("abuse.loop_window_s", def.Abuse.LoopWindowS)
	v.SetDefault("abuse.anomaly_sigma", def.Abuse.AnomalySigma)
	v.SetDefault("abuse.anomaly_sustain_ticks", def.Abuse.AnomalySustain)
	v.SetDefault("abuse.cb_fail_ratio", def.Abuse.CBFailRatio)
	v.SetDefault("abuse.cb_min_requests", def.Abuse.CBMinRequests)
	v.SetDefault("abuse.cb_cooldown_s", def.Abuse.CBCooldownS)
	v.SetDefault("abuse.cb_cooldown_max_s", def.Abuse.CBCooldownMaxS)
	v.SetDefault("abuse.replay_window_s", def.Abuse.ReplayWindowS)

	v.SetDefault("persistence.snapshot_path", def.Persistence.SnapshotPath)
	v.SetDefault("persistence.persist_interval_s", def.Persistence.PersistIntervalS)
	v.SetDefault("persistence.idle_sweep_s", def.Persistence.IdleSweepS)
	v.SetDefault("persistence.idle_ttl_s", def.Persistence.IdleTTLS)
	v.SetDefault("persistence.backend", def.Persistence.Backend)
	v.SetDefault("persistence.redis_key", def.Persistence.RedisKey)
	v.SetDefault("persistence.disable_thread", def.Persistence.DisableThread)

	v.SetDefault("admin.rps", def.Admin.RPS)
	v.SetDefault("admin.rps_burst", def.Admin.RPSBurst)
	v.SetDefault("admin.strict_mode", def.Admin.StrictMode)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.http_port", def.Observability.HTTPPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.label_cardinality_cap", def.Observability.LabelCardinalityCap)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.RequestBucket.RatePerSecond <= 0 || cfg.RequestBucket.Burst <= 0 {
		return fmt.Errorf("request_bucket rate and burst must be > 0")
	}
	if cfg.CostBucket.RatePerSecond <= 0 || cfg.CostBucket.Burst <= 0 {
		return fmt.Errorf("cost_bucket rate and burst must be > 0")
	}
	if cfg.AIMD.MinCap < 1 {
		return fmt.Errorf("aimd.min_cap must be >= 1")
	}
	if cfg.AIMD.MaxCap < cfg.AIMD.MinCap {
		return fmt.Errorf("aimd.max_cap must be >= aimd.min_cap")
	}
	if cfg.AIMD.MDFactor <= 0 || cfg.AIMD.MDFactor >= 1 {
		return fmt.Errorf("aimd.md_factor must be in (0,1)")
	}
	if cfg.FairScheduler.QueueCap < 0 {
		return fmt.Errorf("fair_scheduler.queue_cap must be >= 0")
	}
	if cfg.Admission.MaxPromptChars <= 0 {
		return fmt.Errorf("admission.max_prompt_chars must be > 0")
	}
	if cfg.Throttle.ContractFactor <= 0 || cfg.Throttle.ContractFactor >= 1 {
		return fmt.Errorf("throttle.contract_factor must be in (0,1)")
	}
	if cfg.Throttle.SLOErrorRate <= 0 {
		return fmt.Errorf("throttle.slo_error_rate must be > 0")
	}
	if cfg.Persistence.Backend != "file" && cfg.Persistence.Backend != "redis" {
		return fmt.Errorf("persistence.backend must be file or redis")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Observability.LabelCardinalityCap <= 0 {
		return fmt.Errorf("observability.label_cardinality_cap must be > 0")
	}
	return nil
}
