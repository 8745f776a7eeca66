package worker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tempest-orch/tempest/pkg/executor"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// DefaultEndpoint is the default control-plane API address.
const DefaultEndpoint = "127.0.0.1:8000"

// Config is the worker process configuration.
type Config struct {
	// Endpoint is the control-plane API address. Workers currently run
	// against the store directly (see Database); the endpoint is kept
	// in the config surface for deployments that front the store with
	// the network API, and is validated but not dialed.
	Endpoint string `yaml:"endpoint" validate:"omitempty,hostname_port"`

	// Database is the path of the control-plane database the worker
	// runs against.
	Database string `yaml:"database"`

	// TriggerName restricts the worker to triggers with this name.
	TriggerName string `yaml:"trigger_name" validate:"omitempty,slug"`

	// PollInterval is the delay between poll attempts while idle.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ErrorBackoff is the delay applied after an absorbed failure.
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	// HeartbeatInterval is how often a running trigger's heartbeat is
	// refreshed. It must stay below the staleness window or the reaper
	// will steal live triggers.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StalenessWindow is how long a running trigger may go without a
	// heartbeat before it is considered abandoned.
	StalenessWindow time.Duration `yaml:"staleness_window"`

	// Reap enables the stale trigger reaper in this worker process.
	Reap bool `yaml:"reap"`

	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration a worker runs with when no config
// file is given.
func Default() Config {
	return Config{
		Endpoint:          DefaultEndpoint,
		PollInterval:      executor.DefaultPollInterval,
		ErrorBackoff:      executor.DefaultErrorBackoff,
		HeartbeatInterval: model.DefaultHeartbeatInterval,
		StalenessWindow:   model.DefaultStalenessWindow,
		Logging:           telemetry.DefaultLoggingConfig(),
	}
}

// Load reads a YAML config file over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the worker cannot run
// with.
func (c *Config) Validate() error {
	if err := model.ValidateStruct(c); err != nil {
		return err
	}
	if c.PollInterval < 0 || c.ErrorBackoff < 0 {
		return model.NewValidationError("loop intervals must not be negative", nil)
	}
	if c.HeartbeatInterval > 0 && c.StalenessWindow > 0 && c.HeartbeatInterval >= c.StalenessWindow {
		return model.NewValidationError(
			fmt.Sprintf("heartbeat interval %s must be shorter than staleness window %s",
				c.HeartbeatInterval, c.StalenessWindow), nil)
	}
	return nil
}
