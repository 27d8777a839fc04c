// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the backtest service.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Scheduler Scheduler `yaml:"scheduler"`
	Engine    Engine    `yaml:"engine"`
	Logging   Logging   `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	DataDir    string `yaml:"data_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RateLimit is the request budget per second for the HTTP API.
	// Zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Scheduler bounds how many backtest engines run simultaneously.
type Scheduler struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Engine tunes the simulation loop.
type Engine struct {
	CheckpointInterval int           `yaml:"checkpoint_interval"` // bars between checkpoints
	ProgressInterval   int           `yaml:"progress_interval"`   // minimum bars between progress reports
	EquitySampleEvery  int           `yaml:"equity_sample_every"` // bars between equity samples
	MaxCurvePoints     int           `yaml:"max_curve_points"`    // hard cap on equity curve length
	RecoveryGrace      time.Duration `yaml:"recovery_grace"`      // staleness window for restart recovery
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			SQLitePath: "backtest.db",
			DataDir:    "data",
		},
		Server: Server{
			Host:      "0.0.0.0",
			Port:      8080,
			RateLimit: 50,
			RateBurst: 100,
		},
		Scheduler: Scheduler{
			MaxConcurrent: 5,
		},
		Engine: Engine{
			CheckpointInterval: 1000,
			ProgressInterval:   100,
			EquitySampleEvery:  100,
			MaxCurvePoints:     1000,
			RecoveryGrace:      2 * time.Minute,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path, fills unset
// fields with defaults, and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Engine.CheckpointInterval < 1 {
		return fmt.Errorf("engine.checkpoint_interval must be at least 1, got %d", c.Engine.CheckpointInterval)
	}
	if c.Engine.MaxCurvePoints < 2 {
		return fmt.Errorf("engine.max_curve_points must be at least 2, got %d", c.Engine.MaxCurvePoints)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKTEST_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("BACKTEST_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("BACKTEST_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := parseIntEnv("BACKTEST_PORT", 0); v > 0 {
		cfg.Server.Port = v
	}
	if v := parseIntEnv("BACKTEST_MAX_CONCURRENT", 0); v > 0 {
		cfg.Scheduler.MaxConcurrent = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// parseIntEnv parses an integer environment variable
func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
