package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
	if cfg.Console.SamplePeriod != 10*time.Second {
		t.Errorf("expected 10s sample period, got %v", cfg.Console.SamplePeriod)
	}
	if cfg.Agent.PollInterval != 50*time.Millisecond {
		t.Errorf("expected 50ms poll interval, got %v", cfg.Agent.PollInterval)
	}
	if cfg.Console.JobTimeout != 0 {
		t.Errorf("expected no job timeout, got %v", cfg.Console.JobTimeout)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	content := `
logging:
  level: debug
  format: json
cache:
  backend: redis
  addr: "localhost:6379"
  db: 2
console:
  listen: ":9000"
  samplePeriod: 2s
  jobTimeout: 1m
  thresholds:
    failureRate: "1%"
    minRate: 500
runner:
  name: "runner-7"
agent:
  command: "bin/runner --config runner.yaml"
`
	cfg := loadConfigFromString(t, content)

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
	opts := cfg.Cache.Options()
	if opts.Backend != "redis" || opts.Addr != "localhost:6379" || opts.DB != 2 {
		t.Errorf("unexpected cache options %+v", opts)
	}
	if cfg.Console.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %q", cfg.Console.Listen)
	}
	if cfg.Console.SamplePeriod != 2*time.Second {
		t.Errorf("expected 2s sample period, got %v", cfg.Console.SamplePeriod)
	}
	if cfg.Console.JobTimeout != time.Minute {
		t.Errorf("expected 1m job timeout, got %v", cfg.Console.JobTimeout)
	}
	if cfg.Console.Thresholds == nil || cfg.Console.Thresholds.MinRate != 500 {
		t.Errorf("expected thresholds with minRate 500, got %+v", cfg.Console.Thresholds)
	}
	if cfg.Runner.Name != "runner-7" {
		t.Errorf("expected runner name runner-7, got %q", cfg.Runner.Name)
	}
	if cfg.Runner.Console != "ws://localhost:7574/channel" {
		t.Errorf("expected default console address to survive, got %q", cfg.Runner.Console)
	}
	if cfg.Agent.PollInterval != 50*time.Millisecond {
		t.Errorf("expected default poll interval to survive, got %v", cfg.Agent.PollInterval)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"format", "logging:\n  format: xml\n", "logging.format"},
		{"backend", "cache:\n  backend: etcd\n", "cache.backend"},
		{"redis addr", "cache:\n  backend: redis\n", "cache.addr"},
		{"sample period", "console:\n  samplePeriod: 0s\n", "samplePeriod"},
		{"job timeout", "console:\n  jobTimeout: -1s\n", "jobTimeout"},
		{"command", "agent:\n  command: \" \"\n", "agent.command"},
		{"poll", "agent:\n  pollInterval: 0s\n", "pollInterval"},
		{"yaml", "console: [", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(createTempFile(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.Listen != ":7575" {
		t.Errorf("expected default agent listen address, got %q", cfg.Agent.Listen)
	}
}

func loadConfigFromString(t *testing.T, content string) *Config {
	t.Helper()
	tmpFile := createTempFile(t, content)
	defer os.Remove(tmpFile)

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return tmpFile
}
