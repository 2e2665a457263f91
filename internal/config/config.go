// Package config loads the supervisor configuration from defaults, an
// optional YAML file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"cellguard/internal/risk"
	"cellguard/internal/signals"
)

// SourceConfig declares one signal source.
type SourceConfig struct {
	ID             string        `yaml:"id"`
	Kind           string        `yaml:"kind"`
	Unit           string        `yaml:"unit"`
	ExpectedCycle  time.Duration `yaml:"expected_cycle"`
	SafetyRelevant bool          `yaml:"safety_relevant"`
}

// ThresholdsConfig parameterizes the risk analyzer.
type ThresholdsConfig struct {
	DistanceCriticalMM float64 `yaml:"distance_critical_mm"`
	DistanceWarnMM     float64 `yaml:"distance_warn_mm"`
	DistanceMonitorMM  float64 `yaml:"distance_monitor_mm"`
	DistanceClearMM    float64 `yaml:"distance_clear_mm"`

	FumesLowVLEP      float64 `yaml:"fumes_low_vlep"`
	FumesAlertVLEP    float64 `yaml:"fumes_alert_vlep"`
	FumesCriticalVLEP float64 `yaml:"fumes_critical_vlep"`
	FumesStopVLEP     float64 `yaml:"fumes_stop_vlep"`

	ApproachRateMMS float64       `yaml:"approach_rate_mms"`
	FumesDriftDelta float64       `yaml:"fumes_drift_delta"`
	IntrusionDwell  time.Duration `yaml:"intrusion_dwell"`
	Window          time.Duration `yaml:"window"`
}

// Config defines the full supervisor configuration.
type Config struct {
	Cell        string `yaml:"cell"`
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	Tick              time.Duration `yaml:"tick"`
	Debounce          time.Duration `yaml:"debounce"`
	MissedCycleFactor float64       `yaml:"missed_cycle_factor"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`

	HistorySize int `yaml:"history_size"`

	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Sources    []SourceConfig   `yaml:"sources"`
}

// Load builds the configuration: defaults, then the YAML file named by
// CELLGUARD_CONFIG, then environment overrides.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CELLGUARD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Cell = getenvDefault("CELLGUARD_CELL", cfg.Cell)
	cfg.HTTPAddr = getenvDefault("CELLGUARD_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getenvDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.Tick = getenvDurationDefault("CELLGUARD_TICK", cfg.Tick)
	cfg.Debounce = getenvDurationDefault("CELLGUARD_DEBOUNCE", cfg.Debounce)
	cfg.MissedCycleFactor = getenvFloatDefault("CELLGUARD_MISSED_CYCLE_FACTOR", cfg.MissedCycleFactor)
	cfg.WatchdogInterval = getenvDurationDefault("CELLGUARD_WATCHDOG_INTERVAL", cfg.WatchdogInterval)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Cell:              "cell-01",
		HTTPAddr:          ":8080",
		Tick:              100 * time.Millisecond,
		Debounce:          3 * time.Second,
		MissedCycleFactor: 3,
		WatchdogInterval:  50 * time.Millisecond,
		HistorySize:       600,
		Thresholds: ThresholdsConfig{
			DistanceCriticalMM: 500,
			DistanceWarnMM:     800,
			DistanceMonitorMM:  1200,
			DistanceClearMM:    2000,
			FumesLowVLEP:       0.5,
			FumesAlertVLEP:     0.8,
			FumesCriticalVLEP:  1.0,
			FumesStopVLEP:      1.2,
			ApproachRateMMS:    500,
			FumesDriftDelta:    0.2,
			IntrusionDwell:     2 * time.Second,
			Window:             10 * time.Second,
		},
		Sources: []SourceConfig{
			{ID: "plc-1", Kind: string(signals.KindHeartbeat), Unit: "", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
			{ID: "estop-1", Kind: string(signals.KindEStopButton), Unit: "", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
			{ID: "scanner-1", Kind: string(signals.KindDistance), Unit: "mm", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
			{ID: "robot-1", Kind: string(signals.KindRobotSpeed), Unit: "mm/s", ExpectedCycle: 100 * time.Millisecond, SafetyRelevant: true},
			{ID: "gas-1", Kind: string(signals.KindFumesRatio), Unit: "vlep", ExpectedCycle: 1 * time.Second, SafetyRelevant: true},
			{ID: "vision-intrusion-1", Kind: string(signals.KindIntrusion), Unit: "", ExpectedCycle: 200 * time.Millisecond, SafetyRelevant: true},
			{ID: "vision-ppe-1", Kind: string(signals.KindPPEMissing), Unit: "", ExpectedCycle: 200 * time.Millisecond, SafetyRelevant: false},
		},
	}
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.Cell == "" {
		return errors.New("config: cell id required")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: http addr required")
	}
	if c.Tick <= 0 || c.Tick > 100*time.Millisecond {
		return errors.New("config: tick must be in (0, 100ms]")
	}
	if c.Debounce < 500*time.Millisecond || c.Debounce > 30*time.Second {
		return errors.New("config: debounce must be in [500ms, 30s]")
	}
	if c.MissedCycleFactor < 1 {
		return errors.New("config: missed cycle factor must be >= 1")
	}
	if c.WatchdogInterval <= 0 || c.WatchdogInterval > c.Tick {
		return errors.New("config: watchdog interval must be in (0, tick]")
	}
	if c.HistorySize <= 0 {
		return errors.New("config: history size must be positive")
	}
	if len(c.Sources) == 0 {
		return errors.New("config: at least one source required")
	}
	for _, src := range c.Sources {
		if _, err := src.Spec(); err != nil {
			return err
		}
	}
	if err := c.RiskThresholds().Validate(); err != nil {
		return err
	}
	return nil
}

// Spec converts the source config into a bus spec.
func (s SourceConfig) Spec() (signals.SourceSpec, error) {
	spec := signals.SourceSpec{
		ID:             s.ID,
		Kind:           signals.Kind(s.Kind),
		Unit:           s.Unit,
		ExpectedCycle:  s.ExpectedCycle,
		SafetyRelevant: s.SafetyRelevant,
	}
	if err := spec.Validate(); err != nil {
		return signals.SourceSpec{}, fmt.Errorf("config: source %s: %w", s.ID, err)
	}
	return spec, nil
}

// SourceSpecs converts all declared sources.
func (c Config) SourceSpecs() ([]signals.SourceSpec, error) {
	specs := make([]signals.SourceSpec, 0, len(c.Sources))
	for _, src := range c.Sources {
		spec, err := src.Spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// RiskThresholds converts the threshold block for the analyzer.
func (c Config) RiskThresholds() risk.Thresholds {
	t := c.Thresholds
	return risk.Thresholds{
		DistanceCriticalMM: t.DistanceCriticalMM,
		DistanceWarnMM:     t.DistanceWarnMM,
		DistanceMonitorMM:  t.DistanceMonitorMM,
		DistanceClearMM:    t.DistanceClearMM,
		FumesLowVLEP:       t.FumesLowVLEP,
		FumesAlertVLEP:     t.FumesAlertVLEP,
		FumesCriticalVLEP:  t.FumesCriticalVLEP,
		FumesStopVLEP:      t.FumesStopVLEP,
		ApproachRateMMS:    t.ApproachRateMMS,
		FumesDriftDelta:    t.FumesDriftDelta,
		IntrusionDwell:     t.IntrusionDwell,
		Window:             t.Window,
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
