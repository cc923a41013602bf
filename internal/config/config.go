// Package config loads the harness configuration from YAML validated against
// a CUE schema.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tickstress/internal/scenario"
	"tickstress/schemas"
)

// ErrInvalidConfig is returned when a config file fails schema or semantic checks.
var ErrInvalidConfig = errors.New("invalid config")

// HostConfig drives the simulated host.
type HostConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	// MaxUnits is the world capacity; creation fails beyond it. 0 means unlimited.
	MaxUnits int           `yaml:"max_units"`
	UnitWork time.Duration `yaml:"unit_work"`
	BusyWait bool          `yaml:"busy_wait"`
	Jitter   float64       `yaml:"jitter"`
}

// SamplerConfig tunes the tick sampler.
type SamplerConfig struct {
	WindowTicks int      `yaml:"window_ticks"`
	Intervals   []string `yaml:"intervals"`
	TruncateTPS bool     `yaml:"truncate_tps"`
}

// PoolConfig tunes the load unit pool.
type PoolConfig struct {
	MaxBatch int `yaml:"max_batch"`
}

// ControllerConfig holds controller defaults that scenarios may override.
type ControllerConfig struct {
	Margin          float64 `yaml:"margin"`
	SettleTicks     int     `yaml:"settle_ticks"`
	BackoffCooldown int     `yaml:"backoff_cooldown"`
	ReprobeTicks    int     `yaml:"reprobe_ticks"`
	DwellTicks      int     `yaml:"dwell_ticks"`
}

// OrchestratorConfig tunes the harness command queue and history.
type OrchestratorConfig struct {
	QueueSize    int `yaml:"queue_size"`
	HistoryLimit int `yaml:"history_limit"`
}

// FileSinkConfig names the JSONL outputs.
type FileSinkConfig struct {
	Samples   string `yaml:"samples"`
	Summaries string `yaml:"summaries"`
}

// GreptimeDBConfig addresses the GreptimeDB gRPC endpoint.
type GreptimeDBConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// TelemetryConfig selects and tunes telemetry sinks.
type TelemetryConfig struct {
	Sinks         []string         `yaml:"sinks"`
	SampleEvery   int              `yaml:"sample_every"`
	Buffer        int              `yaml:"buffer"`
	BatchSize     int              `yaml:"batch_size"`
	FlushInterval time.Duration    `yaml:"flush_interval"`
	File          FileSinkConfig   `yaml:"file"`
	GreptimeDB    GreptimeDBConfig `yaml:"greptimedb"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	CommandRate    float64       `yaml:"command_rate"`
	CommandBurst   int           `yaml:"command_burst"`
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// HarnessConfig is the root configuration.
type HarnessConfig struct {
	LogLevel   string              `yaml:"log_level"`
	Host       HostConfig          `yaml:"host"`
	Sampler    SamplerConfig       `yaml:"sampler"`
	Pool       PoolConfig          `yaml:"pool"`
	Controller ControllerConfig    `yaml:"controller"`
	Harness    OrchestratorConfig  `yaml:"harness"`
	Telemetry  TelemetryConfig     `yaml:"telemetry"`
	Admin      AdminConfig         `yaml:"admin"`
	Scenarios  []scenario.Scenario `yaml:"scenarios"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() HarnessConfig {
	return HarnessConfig{
		LogLevel: "info",
		Host: HostConfig{
			TickInterval: 50 * time.Millisecond,
			UnitWork:     200 * time.Microsecond,
		},
		Sampler: SamplerConfig{
			WindowTicks: 20,
			Intervals:   []string{"5 seconds", "1 minute", "5 minutes", "15 minutes"},
		},
		Pool: PoolConfig{MaxBatch: 50},
		Controller: ControllerConfig{
			Margin:       1.0,
			SettleTicks:  1,
			ReprobeTicks: 200,
			DwellTicks:   20,
		},
		Harness: OrchestratorConfig{QueueSize: 16, HistoryLimit: 10},
		Telemetry: TelemetryConfig{
			Sinks:         []string{"stdout"},
			SampleEvery:   1,
			Buffer:        1024,
			BatchSize:     100,
			FlushInterval: time.Second,
			GreptimeDB:    GreptimeDBConfig{Endpoint: "localhost:4001", Database: "public"},
		},
		Admin: AdminConfig{
			Enabled:        true,
			Addr:           ":8080",
			CommandRate:    5,
			CommandBurst:   5,
			StreamInterval: time.Second,
		},
	}
}

// NominalTPS is the tick rate implied by the host tick interval.
func (c HarnessConfig) NominalTPS() float64 {
	return float64(time.Second) / float64(c.Host.TickInterval)
}

// HasSink reports whether the named telemetry sink is enabled.
func (c HarnessConfig) HasSink(name string) bool {
	for _, s := range c.Telemetry.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Load reads configPath, validates it against the schema and decodes it over
// Defaults. An empty schemaPath uses the embedded schema. Environment
// overrides are applied last.
func Load(configPath, schemaPath string) (*HarnessConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	schema := schemas.Harness
	if schemaPath != "" {
		if schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
	}
	cfg, err := Parse(configPath, data, schema)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zap.L().Debug("configuration loaded",
		zap.String("path", configPath),
		zap.Duration("tick_interval", cfg.Host.TickInterval),
		zap.Int("scenarios", len(cfg.Scenarios)),
	)
	return cfg, nil
}

// Parse validates data against schema and decodes it over Defaults.
func Parse(name string, data, schema []byte) (*HarnessConfig, error) {
	if err := ValidateWithCue(name, data, schema); err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// FromEnv returns Defaults with environment overrides applied.
func FromEnv() (*HarnessConfig, error) {
	cfg := Defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *HarnessConfig) applyEnv() error {
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Telemetry.GreptimeDB.Endpoint = v
		if !c.HasSink("greptimedb") {
			c.Telemetry.Sinks = append(c.Telemetry.Sinks, "greptimedb")
		}
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Telemetry.GreptimeDB.Database = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: TICK_INTERVAL: %v", ErrInvalidConfig, err)
		}
		c.Host.TickInterval = d
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		c.Admin.Addr = v
	}
	return nil
}

// Validate checks constraints the schema cannot express.
func (c HarnessConfig) Validate() error {
	var errs []error
	if c.Host.TickInterval <= 0 {
		errs = append(errs, errors.New("host.tick_interval must be positive"))
	}
	if c.HasSink("file") && c.Telemetry.File.Samples == "" {
		errs = append(errs, errors.New("telemetry.file.samples is required for the file sink"))
	}
	if c.HasSink("greptimedb") && c.Telemetry.GreptimeDB.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.greptimedb.endpoint is required for the greptimedb sink"))
	}
	if c.Host.TickInterval > 0 {
		nominal := c.NominalTPS()
		seen := make(map[string]bool, len(c.Scenarios))
		for _, s := range c.Scenarios {
			if seen[s.Name] {
				errs = append(errs, fmt.Errorf("scenario %q defined twice", s.Name))
			}
			seen[s.Name] = true
			if err := s.Validate(nominal); err != nil {
				errs = append(errs, fmt.Errorf("scenario %q: %w", s.Name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
