// Package config holds all Astra runtime configuration.
// Configuration is loaded from a YAML file with documented defaults;
// individual values can be overridden through environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full runtime configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Runtime     RuntimeConfig     `yaml:"runtime"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Emotion     EmotionConfig     `yaml:"emotion"`
	Personality PersonalityConfig `yaml:"personality"`
	Memory      MemoryConfig      `yaml:"memory"`
	Planner     PlannerConfig     `yaml:"planner"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`
	Server      ServerConfig      `yaml:"server"`
}

// RuntimeConfig configures the tick loop.
type RuntimeConfig struct {
	// TickBudget bounds how long one tick may wait for its scheduled batch.
	TickBudget time.Duration `yaml:"tick_budget"`
	// MaxTicks limits Run(); 0 means run until the context is cancelled.
	MaxTicks int `yaml:"max_ticks"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	// ConcurrencyLimit caps how many tasks run simultaneously.
	ConcurrencyLimit int `yaml:"concurrency_limit"`
	// QueueCapacity caps how many non-terminal tasks may be queued at once.
	QueueCapacity int `yaml:"queue_capacity"`
	// DefaultDeadline applies to tasks submitted without one; 0 disables it.
	DefaultDeadline time.Duration `yaml:"default_deadline"`
}

// EmotionConfig configures the affect model.
type EmotionConfig struct {
	// HalfLifeTicks is the exponential decay half-life toward baseline,
	// measured in ticks.
	HalfLifeTicks float64 `yaml:"half_life_ticks"`
	// Baseline values per dimension, each in [-1,1].
	BaselineValence   float64 `yaml:"baseline_valence"`
	BaselineArousal   float64 `yaml:"baseline_arousal"`
	BaselineDominance float64 `yaml:"baseline_dominance"`
}

// PersonalityConfig configures trait adaptation.
type PersonalityConfig struct {
	// LearningRate scales feedback deltas before clipping and renormalization.
	LearningRate float64 `yaml:"learning_rate"`
}

// MemoryConfig configures the narrative store.
type MemoryConfig struct {
	// DatabasePath is the SQLite file; empty selects an in-memory database.
	DatabasePath string `yaml:"database_path"`
	// MaxEvents caps the log size; oldest events are evicted beyond it.
	MaxEvents int `yaml:"max_events"`
}

// PlannerConfig configures goal planning.
type PlannerConfig struct {
	// SearchBudgetNodes bounds the plan search before it gives up.
	SearchBudgetNodes int `yaml:"search_budget_nodes"`
	// MaxReplans bounds replanning after an irrecoverable task failure.
	MaxReplans int `yaml:"max_replans"`
}

// KnowledgeConfig configures the symbolic reasoner.
type KnowledgeConfig struct {
	// RulesPath points at a directory of .mg ontology rule files.
	// Empty disables file loading; built-in rules still apply.
	RulesPath string `yaml:"rules_path"`
	// WatchRules enables hot-reload of rule files.
	WatchRules bool `yaml:"watch_rules"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Name:    "astra",
		Version: "0.1.0",
		Runtime: RuntimeConfig{
			TickBudget: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ConcurrencyLimit: 4,
			QueueCapacity:    256,
		},
		Emotion: EmotionConfig{
			HalfLifeTicks:   8,
			BaselineValence: 0.1,
		},
		Personality: PersonalityConfig{
			LearningRate: 0.05,
		},
		Memory: MemoryConfig{
			MaxEvents: 1000,
		},
		Planner: PlannerConfig{
			SearchBudgetNodes: 512,
			MaxReplans:        1,
		},
		Knowledge: KnowledgeConfig{
			WatchRules: true,
		},
		Server: ServerConfig{
			Addr: ":8420",
		},
	}
}

// Load reads configuration from path, layered over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.applyEnvOverrides()
				return cfg, nil
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ASTRA_DB_PATH"); v != "" {
		c.Memory.DatabasePath = v
	}
	if v := os.Getenv("ASTRA_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ASTRA_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scheduler.ConcurrencyLimit = n
		}
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Scheduler.ConcurrencyLimit < 1 {
		return fmt.Errorf("scheduler.concurrency_limit must be >= 1, got %d", c.Scheduler.ConcurrencyLimit)
	}
	if c.Scheduler.QueueCapacity < 1 {
		return fmt.Errorf("scheduler.queue_capacity must be >= 1, got %d", c.Scheduler.QueueCapacity)
	}
	if c.Emotion.HalfLifeTicks <= 0 {
		return fmt.Errorf("emotion.half_life_ticks must be > 0, got %v", c.Emotion.HalfLifeTicks)
	}
	if c.Personality.LearningRate <= 0 || c.Personality.LearningRate > 1 {
		return fmt.Errorf("personality.learning_rate must be in (0,1], got %v", c.Personality.LearningRate)
	}
	if c.Memory.MaxEvents < 1 {
		return fmt.Errorf("memory.max_events must be >= 1, got %d", c.Memory.MaxEvents)
	}
	if c.Runtime.TickBudget <= 0 {
		return fmt.Errorf("runtime.tick_budget must be > 0, got %v", c.Runtime.TickBudget)
	}
	return nil
}
