package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithDefaults_ZeroConfig(t *testing.T) {
	cfg := Config{}.WithDefaults()

	if cfg.Coordinator.PollIntervalSec != DefaultPollIntervalSec {
		t.Errorf("poll interval: got %d", cfg.Coordinator.PollIntervalSec)
	}
	if cfg.Ralph.Binary != DefaultRalphBinary {
		t.Errorf("ralph binary: got %q", cfg.Ralph.Binary)
	}
	if cfg.Ralph.MaxIterations != DefaultMaxIterations {
		t.Errorf("max iterations: got %d", cfg.Ralph.MaxIterations)
	}
	if cfg.Agent.Binary != DefaultAgentBinary {
		t.Errorf("agent binary: got %q", cfg.Agent.Binary)
	}
	if cfg.Markers.StepComplete != DefaultStepMarker || cfg.Markers.AllComplete != DefaultAllMarker {
		t.Errorf("markers: got %+v", cfg.Markers)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level: got %q", cfg.Logging.Level)
	}
}

func TestWithDefaults_KeepsExplicitValues(t *testing.T) {
	in := Config{}
	in.Coordinator.PollIntervalSec = 1
	in.Ralph.MaxIterations = 10
	in.Ralph.Model = "opus"

	cfg := in.WithDefaults()
	if cfg.Coordinator.PollIntervalSec != 1 {
		t.Errorf("poll interval overridden: got %d", cfg.Coordinator.PollIntervalSec)
	}
	if cfg.Ralph.MaxIterations != 10 {
		t.Errorf("max iterations overridden: got %d", cfg.Ralph.MaxIterations)
	}
	if cfg.Ralph.Model != "opus" {
		t.Errorf("model overridden: got %q", cfg.Ralph.Model)
	}
}

func TestWithDefaults_NegativeRecheckPreserved(t *testing.T) {
	in := Config{}
	in.Coordinator.StaleRecheckDelaySec = -1
	cfg := in.WithDefaults()
	if cfg.Coordinator.StaleRecheckDelaySec != -1 {
		t.Errorf("expected -1 preserved, got %d", cfg.Coordinator.StaleRecheckDelaySec)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("missing config must not error: %v", err)
	}
	if cfg.Ralph.Binary != "" {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfig_Parses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
coordinator:
  poll_interval_sec: 2
  status_interval_sec: 15
ralph:
  binary: /opt/ralph/bin/ralph
  max_iterations: 7
  no_allow_all: true
agent:
  binary: claude
  model: opus
markers:
  step_complete: STEP DONE
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Coordinator.PollIntervalSec != 2 || cfg.Coordinator.StatusIntervalSec != 15 {
		t.Errorf("coordinator: %+v", cfg.Coordinator)
	}
	if cfg.Ralph.Binary != "/opt/ralph/bin/ralph" || cfg.Ralph.MaxIterations != 7 || !cfg.Ralph.NoAllowAll {
		t.Errorf("ralph: %+v", cfg.Ralph)
	}
	if cfg.Agent.Model != "opus" {
		t.Errorf("agent: %+v", cfg.Agent)
	}
	if cfg.Markers.StepComplete != "STEP DONE" {
		t.Errorf("markers: %+v", cfg.Markers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging: %+v", cfg.Logging)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}
