package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
)

// writeConfig writes a config file into a temp dir and returns its path
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// TestDefaultConfig tests the out-of-the-box configuration
func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("expected endpoint %s, got %s", DefaultEndpoint, cfg.Endpoint)
	}
	if cfg.HeartbeatInterval != model.DefaultHeartbeatInterval {
		t.Errorf("expected heartbeat interval %s, got %s", model.DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	}
	if cfg.StalenessWindow != model.DefaultStalenessWindow {
		t.Errorf("expected staleness window %s, got %s", model.DefaultStalenessWindow, cfg.StalenessWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected the default config to validate, got %v", err)
	}
}

// TestLoadConfig tests YAML loading over the defaults
func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
endpoint: 10.0.0.5:9000
trigger_name: provision
poll_interval: 2s
heartbeat_interval: 10s
staleness_window: 30s
reap: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Endpoint != "10.0.0.5:9000" {
		t.Errorf("expected overridden endpoint, got %s", cfg.Endpoint)
	}
	if cfg.TriggerName != "provision" {
		t.Errorf("expected trigger name provision, got %s", cfg.TriggerName)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %s", cfg.PollInterval)
	}
	if !cfg.Reap {
		t.Error("expected reap to be enabled")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Logging.Level)
	}

	// Unset keys keep their defaults.
	if cfg.ErrorBackoff == 0 {
		t.Error("expected the default error backoff to survive the merge")
	}
}

// TestConfigValidation tests rejection of unusable settings
func TestConfigValidation(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = "not an endpoint"
	if err := cfg.Validate(); !model.IsValidation(err) {
		t.Errorf("expected validation error for bad endpoint, got %v", err)
	}

	// The endpoint is optional: a worker wired straight to the database
	// needs no API address.
	cfg = Default()
	cfg.Endpoint = ""
	cfg.Database = "tempest.db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected an endpoint-less config to validate, got %v", err)
	}

	cfg = Default()
	cfg.TriggerName = "Not A Slug"
	if err := cfg.Validate(); !model.IsValidation(err) {
		t.Errorf("expected validation error for bad trigger name, got %v", err)
	}

	// The heartbeat must outpace the staleness window or the reaper
	// steals live triggers.
	cfg = Default()
	cfg.HeartbeatInterval = 2 * time.Minute
	cfg.StalenessWindow = time.Minute
	if err := cfg.Validate(); !model.IsValidation(err) {
		t.Errorf("expected validation error for slow heartbeat, got %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
