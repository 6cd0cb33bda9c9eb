package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Analysis.MinPopulation != 5 {
		t.Fatalf("expected default min population 5, got %d", cfg.Analysis.MinPopulation)
	}
	if cfg.Analysis.PerformanceContamination != 0.10 {
		t.Fatalf("expected default contamination 0.10, got %g", cfg.Analysis.PerformanceContamination)
	}
	if cfg.Analysis.ForestSeed != 42 {
		t.Fatalf("expected default seed 42, got %d", cfg.Analysis.ForestSeed)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  address: \":9999\"\nanalysis:\n  zScoreThreshold: 3.0\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("expected address override, got %s", cfg.Server.Address)
	}
	if cfg.Analysis.ZScoreThreshold != 3.0 {
		t.Fatalf("expected z-score threshold 3.0, got %g", cfg.Analysis.ZScoreThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Analysis.ClusterEps != 0.5 {
		t.Fatalf("expected default eps 0.5, got %g", cfg.Analysis.ClusterEps)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative contamination", func(c *Config) { c.Analysis.PerformanceContamination = -0.1 }},
		{"contamination above one", func(c *Config) { c.Analysis.BehavioralContamination = 1.5 }},
		{"zero eps", func(c *Config) { c.Analysis.ClusterEps = 0 }},
		{"zero z threshold", func(c *Config) { c.Analysis.ZScoreThreshold = 0 }},
		{"zero min population", func(c *Config) { c.Analysis.MinPopulation = 0 }},
		{"zero workers", func(c *Config) { c.Sweep.Workers = 0 }},
	}

	for _, tc := range cases {
		cfg := defaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TALENT_RISK_SERVER_ADDRESS", ":7777")
	t.Setenv("TALENT_RISK_FOREST_SEED", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("expected env address override, got %s", cfg.Server.Address)
	}
	if cfg.Analysis.ForestSeed != 7 {
		t.Fatalf("expected env seed override, got %d", cfg.Analysis.ForestSeed)
	}
}
