package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/99souls/fuelwatch/engine/models"
)

// ConfigFileEnv names the environment variable pointing at the configuration
// file when no explicit path is given.
const ConfigFileEnv = "FUELWATCH_CONFIG"

// Config is the public configuration surface of the Engine facade.
type Config struct {
	// Tanks is the catalog of registered fuel parameters. Loaded once at
	// startup; immutable afterwards.
	Tanks []models.TankParam `yaml:"tanks"`

	// Pipeline tuning.
	Workers          int `yaml:"workers"`
	QueueSize        int `yaml:"queue_size"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// StateShards sizes the per-key state cache sharding (power of two).
	StateShards int `yaml:"state_shards"`

	// CommandRetryMaxElapsed bounds retries of storage writes behind command
	// emission.
	CommandRetryMaxElapsed time.Duration `yaml:"command_retry_max_elapsed"`

	// MetricsEnabled toggles the metrics provider wiring.
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsBackend selects the implementation when MetricsEnabled is true:
	// "prom" (default), "otel", or "noop". Unknown values fall back to prom.
	MetricsBackend string `yaml:"metrics_backend"`
	// TracingEnabled toggles span recording.
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// Defaults returns a Config with conservative defaults and an empty catalog.
func Defaults() Config {
	return Config{
		Workers:                4,
		QueueSize:              256,
		SubscriberBuffer:       1024,
		StateShards:            16,
		CommandRetryMaxElapsed: 5 * time.Second,
		MetricsBackend:         "prom",
	}
}

// Validate checks the configuration for structural problems; the catalog
// itself is validated when the engine is constructed.
func (c Config) Validate() error {
	if c.Workers < 0 || c.QueueSize < 0 || c.SubscriberBuffer < 0 {
		return fmt.Errorf("negative pipeline sizing")
	}
	if c.StateShards < 0 {
		return fmt.Errorf("negative state shard count")
	}
	return nil
}

// LoadConfig reads a yaml configuration file, layered over Defaults(). An
// empty path falls back to the FUELWATCH_CONFIG environment variable; if that
// is unset too, plain defaults are returned.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
