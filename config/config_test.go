package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.EqualValues(t, 100*1024*1024, cfg.SharedMemorySize)
	assert.Equal(t, 10000, cfg.MessageQueueSize)
	assert.False(t, cfg.EnableRedundancy)
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.WatchdogTimeout.Std())

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1250*time.Millisecond, cfg.WatchdogInterval.Std())
	assert.Equal(t, time.Second, cfg.MetricsInterval.Std())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcs.yaml")
	content := `
shared_memory_size: 1048576
message_queue_size: 128
enable_redundancy: true
log_level: DEBUG
watchdog_timeout: 2s
metrics_interval: 250ms
nats_url: nats://localhost:4222
plugins:
  - /opt/dcs/thermo.so
  - /opt/dcs/valve.so
metrics_addr: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 1048576, cfg.SharedMemorySize)
	assert.Equal(t, 128, cfg.MessageQueueSize)
	assert.True(t, cfg.EnableRedundancy)
	assert.True(t, cfg.EnableMetrics) // default survives partial files
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.WatchdogTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchdogInterval.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.MetricsInterval.Std())
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, []string{"/opt/dcs/thermo.so", "/opt/dcs/valve.so"}, cfg.Plugins)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoadBareMillisecondDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watchdog_timeout: 1500\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.WatchdogTimeout.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/dcs.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.True(t, errors.IsFatal(err))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive shared memory", func(c *Config) { c.SharedMemorySize = 0 }},
		{"non-positive queue size", func(c *Config) { c.MessageQueueSize = -1 }},
		{"non-positive watchdog timeout", func(c *Config) { c.WatchdogTimeout = 0 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "VERBOSE" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.level}
		assert.Equal(t, tt.want, cfg.SlogLevel(), tt.level)
	}
}
