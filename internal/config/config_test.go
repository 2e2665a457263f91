package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CELLGUARD_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tick != 100*time.Millisecond {
		t.Fatalf("expected 100ms tick, got %s", cfg.Tick)
	}
	if len(cfg.Sources) == 0 {
		t.Fatalf("expected default sources")
	}
	if _, err := cfg.SourceSpecs(); err != nil {
		t.Fatalf("default sources must validate: %v", err)
	}
	if err := cfg.RiskThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds must validate: %v", err)
	}
}

func TestLoadYAMLOverlayAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cellguard.yaml")
	data := []byte("cell: cell-42\ndebounce: 2s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CELLGUARD_CONFIG", path)
	t.Setenv("CELLGUARD_DEBOUNCE", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cell != "cell-42" {
		t.Fatalf("yaml overlay not applied, got %q", cfg.Cell)
	}
	if cfg.Debounce != 5*time.Second {
		t.Fatalf("env must override yaml, got %s", cfg.Debounce)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := defaults()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tick too long", func(c *Config) { c.Tick = 200 * time.Millisecond }},
		{"debounce too short", func(c *Config) { c.Debounce = 100 * time.Millisecond }},
		{"debounce too long", func(c *Config) { c.Debounce = time.Minute }},
		{"miss factor below one", func(c *Config) { c.MissedCycleFactor = 0.5 }},
		{"watchdog slower than tick", func(c *Config) { c.WatchdogInterval = time.Second }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"bad source kind", func(c *Config) { c.Sources[0].Kind = "bogus" }},
		{"inverted thresholds", func(c *Config) { c.Thresholds.DistanceWarnMM = 100 }},
	}
	for _, tc := range cases {
		cfg := base
		cfg.Sources = append([]SourceConfig(nil), base.Sources...)
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
