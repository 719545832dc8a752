package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config invalid: %v", err)
	}
	if cfg.Scheduler.ConcurrencyLimit != 4 {
		t.Errorf("ConcurrencyLimit = %d, want 4", cfg.Scheduler.ConcurrencyLimit)
	}
	if cfg.Memory.MaxEvents != 1000 {
		t.Errorf("MaxEvents = %d, want 1000", cfg.Memory.MaxEvents)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runtime.TickBudget != 2*time.Second {
		t.Errorf("TickBudget = %v, want 2s", cfg.Runtime.TickBudget)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astra.yaml")
	content := []byte("scheduler:\n  concurrency_limit: 9\nemotion:\n  half_life_ticks: 3\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.ConcurrencyLimit != 9 {
		t.Errorf("ConcurrencyLimit = %d, want 9", cfg.Scheduler.ConcurrencyLimit)
	}
	if cfg.Emotion.HalfLifeTicks != 3 {
		t.Errorf("HalfLifeTicks = %v, want 3", cfg.Emotion.HalfLifeTicks)
	}
	// Untouched sections keep defaults.
	if cfg.Planner.SearchBudgetNodes != 512 {
		t.Errorf("SearchBudgetNodes = %d, want 512", cfg.Planner.SearchBudgetNodes)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ASTRA_CONCURRENCY", "2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.ConcurrencyLimit != 2 {
		t.Errorf("ConcurrencyLimit = %d, want 2 from env", cfg.Scheduler.ConcurrencyLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Scheduler.ConcurrencyLimit = 0 }},
		{"negative half life", func(c *Config) { c.Emotion.HalfLifeTicks = -1 }},
		{"learning rate too large", func(c *Config) { c.Personality.LearningRate = 1.5 }},
		{"zero max events", func(c *Config) { c.Memory.MaxEvents = 0 }},
		{"zero tick budget", func(c *Config) { c.Runtime.TickBudget = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
