// Package config defines the pipeline configuration and its loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/mode"
	"github.com/c360/telempipe/stream"
	"github.com/c360/telempipe/worker"
)

// Config is the root configuration for the pipeline process.
type Config struct {
	Platform       Platform       `json:"platform" yaml:"platform"`
	Pool           Pool           `json:"pool" yaml:"pool"`
	Streaming      Streaming      `json:"streaming" yaml:"streaming"`
	Sink           Sink           `json:"sink" yaml:"sink"`
	Infrastructure Infrastructure `json:"infrastructure" yaml:"infrastructure"`
	Simulation     Simulation     `json:"simulation" yaml:"simulation"`
	Hybrid         Hybrid         `json:"hybrid" yaml:"hybrid"`
	NATS           NATS           `json:"nats" yaml:"nats"`
	Metrics        Metrics        `json:"metrics" yaml:"metrics"`
}

// Platform configures the composition root.
type Platform struct {
	// Mode is the initial operating mode.
	Mode string `json:"mode" yaml:"mode"`
	// ShutdownGrace bounds graceful shutdown of every component.
	ShutdownGrace Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
}

// Pool configures the worker pools.
type Pool struct {
	Workers       int      `json:"workers" yaml:"workers"`
	QueueSize     int      `json:"queue_size" yaml:"queue_size"`
	TaskTimeout   Duration `json:"task_timeout" yaml:"task_timeout"`
	RetryAttempts int      `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    Duration `json:"retry_delay" yaml:"retry_delay"`
}

// Streaming configures the batching and delivery layer.
type Streaming struct {
	BatchSize        int      `json:"batch_size" yaml:"batch_size"`
	FlushInterval    Duration `json:"flush_interval" yaml:"flush_interval"`
	BufferCapacity   int      `json:"buffer_capacity" yaml:"buffer_capacity"`
	BreakerThreshold int      `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// Sink configures the HTTPS delivery endpoint.
type Sink struct {
	EventsURL  string   `json:"events_url" yaml:"events_url"`
	MetricsURL string   `json:"metrics_url" yaml:"metrics_url"`
	APIKey     string   `json:"api_key" yaml:"api_key"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
}

// Infrastructure configures the real-telemetry acquisition path.
type Infrastructure struct {
	// Providers are the discovery providers to poll.
	Providers []string `json:"providers" yaml:"providers"`
	// PollInterval is the discovery cadence.
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
}

// Simulation configures the synthetic-telemetry path.
type Simulation struct {
	// Scenarios are the synthetic scenarios to run.
	Scenarios []string `json:"scenarios" yaml:"scenarios"`
	// EntityCount is how many synthetic entities each scenario simulates.
	EntityCount int `json:"entity_count" yaml:"entity_count"`
	// TickInterval is the generation cadence.
	TickInterval Duration `json:"tick_interval" yaml:"tick_interval"`
}

// Hybrid configures the blended mode.
type Hybrid struct {
	Weights mode.Weights `json:"weights" yaml:"weights"`
}

// NATS configures optional event mirroring. An empty URL disables it.
type NATS struct {
	URL string `json:"url" yaml:"url"`
}

// Metrics configures the Prometheus exposition endpoint. An empty address
// disables it.
type Metrics struct {
	Addr string `json:"addr" yaml:"addr"`
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns a runnable configuration for simulation mode.
func DefaultConfig() Config {
	return Config{
		Platform: Platform{
			Mode:          string(mode.ModeSimulation),
			ShutdownGrace: Duration(30 * time.Second),
		},
		Pool: Pool{
			Workers:       5,
			QueueSize:     100,
			TaskTimeout:   Duration(30 * time.Second),
			RetryAttempts: 3,
			RetryDelay:    Duration(time.Second),
		},
		Streaming: Streaming{
			BatchSize:        100,
			FlushInterval:    Duration(5 * time.Second),
			BufferCapacity:   10000,
			BreakerThreshold: 5,
			BreakerCooldown:  Duration(30 * time.Second),
		},
		Sink: Sink{
			Timeout: Duration(10 * time.Second),
		},
		Simulation: Simulation{
			Scenarios:    []string{"kafka-cluster"},
			EntityCount:  3,
			TickInterval: Duration(15 * time.Second),
		},
		Infrastructure: Infrastructure{
			PollInterval: Duration(60 * time.Second),
		},
		Hybrid: Hybrid{
			Weights: mode.Weights{Infrastructure: 50, Simulation: 50},
		},
		Metrics: Metrics{
			Path: "/metrics",
		},
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	m, err := mode.ParseMode(c.Platform.Mode)
	if err != nil {
		return errors.Wrap(err, "Config", "Validate", "parse platform mode")
	}

	if err := mode.ValidateModeConfig(m, c.ModeOptions(m)); err != nil {
		return errors.Wrap(err, "Config", "Validate", "validate mode options")
	}

	if c.Platform.ShutdownGrace <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: shutdown_grace must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "validate platform section")
	}

	if c.Sink.EventsURL == "" && c.Sink.MetricsURL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: sink requires at least one endpoint URL", errors.ErrMissingConfig),
			"Config", "Validate", "validate sink section")
	}
	if c.Sink.APIKey == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: sink.api_key", errors.ErrMissingConfig),
			"Config", "Validate", "validate sink section")
	}

	return nil
}

// ModeOptions builds the activation options for a mode from the relevant
// configuration sections.
func (c *Config) ModeOptions(m mode.Mode) mode.Options {
	opts := mode.Options{
		Providers: c.Infrastructure.Providers,
		Scenarios: c.Simulation.Scenarios,
	}
	if m == mode.ModeHybrid {
		opts.Weights = c.Hybrid.Weights
	}
	return opts
}

// PoolConfig converts the pool section into the worker package's form.
func (c *Config) PoolConfig() worker.Config {
	return worker.Config{
		Workers:       c.Pool.Workers,
		QueueSize:     c.Pool.QueueSize,
		TaskTimeout:   c.Pool.TaskTimeout.Std(),
		RetryAttempts: c.Pool.RetryAttempts,
		RetryDelay:    c.Pool.RetryDelay.Std(),
	}
}

// StreamConfig converts the streaming section into the stream package's form.
func (c *Config) StreamConfig() stream.Config {
	return stream.Config{
		BatchSize:        c.Streaming.BatchSize,
		FlushInterval:    c.Streaming.FlushInterval.Std(),
		BufferCapacity:   c.Streaming.BufferCapacity,
		BreakerThreshold: c.Streaming.BreakerThreshold,
		BreakerCooldown:  c.Streaming.BreakerCooldown.Std(),
	}
}

// SinkConfig converts the sink section into the stream package's form.
func (c *Config) SinkConfig() stream.HTTPSinkConfig {
	return stream.HTTPSinkConfig{
		EventsURL:  c.Sink.EventsURL,
		MetricsURL: c.Sink.MetricsURL,
		APIKey:     c.Sink.APIKey,
		Timeout:    c.Sink.Timeout.Std(),
	}
}

// Load reads a configuration file, decoded by extension: .yaml/.yml as YAML,
// .json as JSON. Fields absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config", "Load", "read config file")
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "decode yaml")
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "decode json")
		}
	default:
		return cfg, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported config extension %q", errors.ErrInvalidConfig, ext),
			"config", "Load", "detect format")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
