package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "backtest.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 1000, cfg.Engine.CheckpointInterval)
	assert.Equal(t, 2*time.Minute, cfg.Engine.RecoveryGrace)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	content := `
storage:
  sqlite_path: /tmp/test.db
server:
  port: 9000
scheduler:
  max_concurrent: 2
logging:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Fields the file omits keep their defaults.
	assert.Equal(t, 1000, cfg.Engine.CheckpointInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	content := `
scheduler:
  max_concurrent: 2
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("BACKTEST_MAX_CONCURRENT", "7")
	t.Setenv("BACKTEST_SQLITE_PATH", "/tmp/env.db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_concurrent", func(c *Config) { c.Scheduler.MaxConcurrent = 0 }},
		{"zero checkpoint interval", func(c *Config) { c.Engine.CheckpointInterval = 0 }},
		{"curve cap below 2", func(c *Config) { c.Engine.MaxCurvePoints = 1 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
