package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"merchant-risk-engine/internal/jobs"
	"merchant-risk-engine/internal/logging"
	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/storage"
	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig          `mapstructure:"app"`
	Logging   logging.Config     `mapstructure:"logging"`
	Database  storage.PoolConfig `mapstructure:"database"`
	Engine    EngineConfig       `mapstructure:"engine"`
	Planner   PlannerConfig      `mapstructure:"planner"`
	Risk      RiskConfig         `mapstructure:"risk"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Streams   StreamsConfig      `mapstructure:"streams"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
	Export    ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// EngineConfig governs the forward evaluation loop.
type EngineConfig struct {
	Merchants       []string      `mapstructure:"merchants"`
	Intervals       []string      `mapstructure:"intervals"`
	Tick            time.Duration `mapstructure:"tick"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PlannerConfig bounds which windows a plan may include.
type PlannerConfig struct {
	ForwardOnly      bool `mapstructure:"forward_only"`
	BacktrackWindows int  `mapstructure:"backtrack_windows"`
}

// RiskConfig tunes the scoring pipeline.
type RiskConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`

	RiseAlpha      float64 `mapstructure:"rise_alpha"`
	FallAlpha      float64 `mapstructure:"fall_alpha"`
	HighThreshold  float64 `mapstructure:"high_threshold"`
	ClearThreshold float64 `mapstructure:"clear_threshold"`

	StabilityCap float64 `mapstructure:"stability_cap"`
	IncidentBump float64 `mapstructure:"incident_bump"`

	WatchlistThreshold  float64 `mapstructure:"watchlist_threshold"`
	WatchlistMultiplier float64 `mapstructure:"watchlist_multiplier"`
	VolatilityBaseline  float64 `mapstructure:"volatility_baseline"`

	VolumeSpikeMultiplier float64 `mapstructure:"volume_spike_multiplier"`
	VolumeBaselineAlpha   float64 `mapstructure:"volume_baseline_alpha"`
	VolumeBaselineSeed    float64 `mapstructure:"volume_baseline_seed"`
}

// SchedulerConfig tunes the backfill job scheduler.
type SchedulerConfig struct {
	MaxConcurrentJobs   int           `mapstructure:"max_concurrent_jobs"`
	WorkersPerJob       int           `mapstructure:"workers_per_job"`
	BatchMin            int           `mapstructure:"batch_min"`
	BatchMax            int           `mapstructure:"batch_max"`
	BatchTargetDuration time.Duration `mapstructure:"batch_target_duration"`
	MaxFailureFraction  float64       `mapstructure:"max_failure_fraction"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
}

// StreamsConfig selects and configures the document source.
type StreamsConfig struct {
	// Source is one of http, postgres, synthetic.
	Source         string        `mapstructure:"source"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	PrefetchBucket time.Duration `mapstructure:"prefetch_bucket"`
	Enabled        []string      `mapstructure:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISKWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riskwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.intervals", []string{"1h"})
	v.SetDefault("engine.tick", "1m")
	v.SetDefault("engine.align_to_bucket", true)
	v.SetDefault("engine.advisory_lock_key", int64(0x7269736b))
	v.SetDefault("engine.startup_delay", "0s")

	v.SetDefault("planner.forward_only", true)
	v.SetDefault("planner.backtrack_windows", 3)

	v.SetDefault("risk.weights.sentiment", 0.4)
	v.SetDefault("risk.weights.reviews", 0.2)
	v.SetDefault("risk.weights.watchlist", 0.2)
	v.SetDefault("risk.weights.volatility", 0.1)
	v.SetDefault("risk.weights.volume", 0.1)
	v.SetDefault("risk.rise_alpha", 0.5)
	v.SetDefault("risk.fall_alpha", 0.2)
	v.SetDefault("risk.high_threshold", 0.7)
	v.SetDefault("risk.clear_threshold", 0.55)
	v.SetDefault("risk.stability_cap", 0.15)
	v.SetDefault("risk.incident_bump", 0.2)
	v.SetDefault("risk.watchlist_threshold", 0.3)
	v.SetDefault("risk.watchlist_multiplier", 1.5)
	v.SetDefault("risk.volatility_baseline", 0.05)
	v.SetDefault("risk.volume_spike_multiplier", 3.0)
	v.SetDefault("risk.volume_baseline_alpha", 0.2)
	v.SetDefault("risk.volume_baseline_seed", 10.0)

	v.SetDefault("scheduler.max_concurrent_jobs", 2)
	v.SetDefault("scheduler.workers_per_job", 4)
	v.SetDefault("scheduler.batch_min", 4)
	v.SetDefault("scheduler.batch_max", 32)
	v.SetDefault("scheduler.batch_target_duration", "2s")
	v.SetDefault("scheduler.max_failure_fraction", 0.5)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_backoff", "250ms")

	v.SetDefault("streams.source", "synthetic")
	v.SetDefault("streams.request_timeout", "10s")
	v.SetDefault("streams.user_agent", "riskwatcher/1.0")
	v.SetDefault("streams.prefetch_bucket", "6h")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Engine.Tick <= 0 {
		return fmt.Errorf("engine.tick must be greater than zero")
	}
	for _, kind := range c.Engine.Intervals {
		if _, err := window.ParseIntervalKind(kind); err != nil {
			return fmt.Errorf("engine.intervals: %w", err)
		}
	}
	if c.Planner.BacktrackWindows < 0 {
		return fmt.Errorf("planner.backtrack_windows cannot be negative")
	}

	var sum float64
	for name, weight := range c.Risk.Weights {
		if !knownComponent(name) {
			return fmt.Errorf("risk.weights: unknown component %q", name)
		}
		if weight < 0 {
			return fmt.Errorf("risk.weights.%s cannot be negative", name)
		}
		sum += weight
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("risk.weights must sum to 1, got %.4f", sum)
	}
	if c.Risk.RiseAlpha <= 0 || c.Risk.RiseAlpha > 1 {
		return fmt.Errorf("risk.rise_alpha must be in (0, 1]")
	}
	if c.Risk.FallAlpha <= 0 || c.Risk.FallAlpha > 1 {
		return fmt.Errorf("risk.fall_alpha must be in (0, 1]")
	}
	if c.Risk.ClearThreshold >= c.Risk.HighThreshold {
		return fmt.Errorf("risk.clear_threshold must be strictly below risk.high_threshold")
	}

	if c.Scheduler.MaxFailureFraction <= 0 || c.Scheduler.MaxFailureFraction > 1 {
		return fmt.Errorf("scheduler.max_failure_fraction must be in (0, 1]")
	}
	if c.Scheduler.BatchMax < c.Scheduler.BatchMin {
		return fmt.Errorf("scheduler.batch_max cannot be below scheduler.batch_min")
	}

	switch c.Streams.Source {
	case "http":
		if c.Streams.BaseURL == "" {
			return fmt.Errorf("streams.base_url is required for the http source")
		}
	case "postgres", "synthetic":
	default:
		return fmt.Errorf("streams.source must be http, postgres or synthetic, got %q", c.Streams.Source)
	}
	for _, name := range c.Streams.Enabled {
		if !knownStream(name) {
			return fmt.Errorf("streams.enabled: unknown stream %q", name)
		}
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

func knownComponent(name string) bool {
	for _, c := range risk.Components() {
		if string(c) == name {
			return true
		}
	}
	return false
}

func knownStream(name string) bool {
	for _, s := range stream.All() {
		if string(s) == name {
			return true
		}
	}
	return false
}

// IntervalKinds parses the configured interval kinds. Validate has already
// checked them.
func (c *EngineConfig) IntervalKinds() []window.IntervalKind {
	kinds := make([]window.IntervalKind, 0, len(c.Intervals))
	for _, s := range c.Intervals {
		if kind, err := window.ParseIntervalKind(s); err == nil {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// PlanOptions converts the planner section.
func (c *PlannerConfig) PlanOptions() window.PlanOptions {
	return window.PlanOptions{
		ForwardOnly:      c.ForwardOnly,
		BacktrackWindows: c.BacktrackWindows,
	}
}

// EvaluatorOptions converts the risk section into pipeline options.
func (c *RiskConfig) EvaluatorOptions() risk.EvaluatorOptions {
	weights := make(map[risk.Component]float64, len(c.Weights))
	for name, weight := range c.Weights {
		weights[risk.Component(name)] = weight
	}
	return risk.EvaluatorOptions{
		Weights: weights,
		Normalizer: risk.NormalizerOptions{
			WatchlistEscalationThreshold:  c.WatchlistThreshold,
			WatchlistEscalationMultiplier: c.WatchlistMultiplier,
			VolatilityBaseline:            c.VolatilityBaseline,
		},
		StabilityCap: c.StabilityCap,
		IncidentBump: c.IncidentBump,
		Smoothing: risk.SmoothingOptions{
			RiseAlpha:      c.RiseAlpha,
			FallAlpha:      c.FallAlpha,
			HighThreshold:  c.HighThreshold,
			ClearThreshold: c.ClearThreshold,
		},
		VolumeSpikeMultiplier: c.VolumeSpikeMultiplier,
		VolumeBaselineAlpha:   c.VolumeBaselineAlpha,
		VolumeBaselineSeed:    c.VolumeBaselineSeed,
	}
}

// JobOptions assembles the scheduler options from the scheduler, planner, and
// streams sections.
func (c *Config) JobOptions() jobs.Options {
	return jobs.Options{
		MaxConcurrentJobs:   c.Scheduler.MaxConcurrentJobs,
		WorkersPerJob:       c.Scheduler.WorkersPerJob,
		BatchMin:            c.Scheduler.BatchMin,
		BatchMax:            c.Scheduler.BatchMax,
		BatchTargetDuration: c.Scheduler.BatchTargetDuration,
		MaxFailureFraction:  c.Scheduler.MaxFailureFraction,
		RetryAttempts:       c.Scheduler.RetryAttempts,
		RetryBackoff:        c.Scheduler.RetryBackoff,
		Planner:             c.Planner.PlanOptions(),
		PrefetchBucket:      c.Streams.PrefetchBucket,
		Streams:             c.EnabledStreams(),
	}
}

// EnabledStreams resolves the configured stream subset, defaulting to all.
func (c *Config) EnabledStreams() []stream.Stream {
	if len(c.Streams.Enabled) == 0 {
		return stream.All()
	}
	out := make([]stream.Stream, 0, len(c.Streams.Enabled))
	for _, name := range c.Streams.Enabled {
		out = append(out, stream.Stream(name))
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
