// Package config defines the recognized configuration options of the
// control system, their defaults, and YAML file loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

// Duration wraps time.Duration for YAML: it accepts either a duration
// string ("5s", "1500ms") or a bare number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		parsed, perr := time.ParseDuration(asString)
		if perr != nil {
			return fmt.Errorf("parse duration %q: %w", asString, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var asMillis int64
	if err := value.Decode(&asMillis); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	*d = Duration(time.Duration(asMillis) * time.Millisecond)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the recognized options. Every field has a default; a zero
// Config is not usable, start from Default().
type Config struct {
	// SharedMemorySize is a sizing hint for the shared-memory collaborator,
	// in bytes.
	SharedMemorySize int64 `yaml:"shared_memory_size"`
	// MessageQueueSize is a capacity hint for the message-queue
	// collaborator, in entries.
	MessageQueueSize int `yaml:"message_queue_size"`
	// EnableRedundancy makes the watchdog attempt a bounded restart of a
	// failed module before escalating.
	EnableRedundancy bool `yaml:"enable_redundancy"`
	// EnableMetrics gates the metrics aggregator.
	EnableMetrics bool `yaml:"enable_metrics"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`
	// WatchdogTimeout is both the heartbeat timeout and the bound on
	// joining loop goroutines during Stop.
	WatchdogTimeout Duration `yaml:"watchdog_timeout"`

	// WatchdogInterval is the watchdog's own check period. Defaults to a
	// quarter of WatchdogTimeout.
	WatchdogInterval Duration `yaml:"watchdog_interval"`
	// MetricsInterval is the aggregator's sampling period.
	MetricsInterval Duration `yaml:"metrics_interval"`
	// NATSURL selects the NATS-backed message queue when non-empty; the
	// in-memory queue is used otherwise.
	NATSURL string `yaml:"nats_url"`
	// Plugins lists module shared objects to load at startup.
	Plugins []string `yaml:"plugins"`
	// MetricsAddr is the listen address for Prometheus exposition in the
	// daemon. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the documented defaults
func Default() Config {
	return Config{
		SharedMemorySize: 100 * 1024 * 1024,
		MessageQueueSize: 10000,
		EnableRedundancy: false,
		EnableMetrics:    true,
		LogLevel:         "INFO",
		WatchdogTimeout:  Duration(5000 * time.Millisecond),
		MetricsInterval:  Duration(time.Second),
	}
}

// Load reads a YAML config file over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errors.WrapFatal(errors.ErrMissingConfig, "config", "Load",
				fmt.Sprintf("read file %q", path))
		}
		return cfg, errors.WrapInvalid(err, "config", "Load", "read file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "parse YAML")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks option values and fills derived defaults
func (c *Config) Validate() error {
	if c.SharedMemorySize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "shared_memory_size must be positive")
	}
	if c.MessageQueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "message_queue_size must be positive")
	}
	if c.WatchdogTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "watchdog_timeout must be positive")
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = Duration(time.Second)
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = c.WatchdogTimeout / 4
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels
func (c Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
