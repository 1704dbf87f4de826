package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.TargetEnv != "sandbox" {
		t.Errorf("target env = %q, want sandbox", cfg.TargetEnv)
	}
	if cfg.Worker.Concurrency != 2 || cfg.Worker.PollInterval != 500*time.Millisecond {
		t.Errorf("worker defaults = %+v", cfg.Worker)
	}
	if cfg.Build.MaxConcurrency != 4 || cfg.Build.MaxIterations != 2 {
		t.Errorf("build defaults = %+v", cfg.Build)
	}
	if cfg.Tools.Generator != "aigen" || cfg.Tools.Analyzer != "lintctl" || cfg.Tools.Deployer != "deployctl" {
		t.Errorf("tool defaults = %+v", cfg.Tools)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want default", cfg.LogLevel)
	}
}

func TestLoadConfigMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `log_level: debug
target_env: staging
worker:
  poll_interval: 2s
build:
  max_concurrency: 8
tools:
  deployer: /opt/bin/deployctl
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.TargetEnv != "staging" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", cfg.Worker.PollInterval)
	}
	// Untouched fields keep their defaults.
	if cfg.Worker.Concurrency != 2 {
		t.Errorf("worker concurrency = %d, want default 2", cfg.Worker.Concurrency)
	}
	if cfg.Build.MaxConcurrency != 8 || cfg.Build.MaxIterations != 2 {
		t.Errorf("build = %+v", cfg.Build)
	}
	if cfg.Tools.Deployer != "/opt/bin/deployctl" || cfg.Tools.Generator != "aigen" {
		t.Errorf("tools = %+v", cfg.Tools)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	malformed := filepath.Join(dir, "bad.yaml")
	os.WriteFile(malformed, []byte("log_level: [unterminated"), 0644)
	if _, err := LoadConfig(malformed); err == nil {
		t.Error("malformed yaml accepted")
	}

	badDuration := filepath.Join(dir, "dur.yaml")
	os.WriteFile(badDuration, []byte("worker:\n  poll_interval: soon\n"), 0644)
	if _, err := LoadConfig(badDuration); err == nil {
		t.Error("invalid duration accepted")
	}
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	db := "/tmp/state.db"
	level := "trace"
	concurrency := 16

	cfg.MergeWithFlags(&db, nil, nil, &level, &concurrency)

	if cfg.DBPath != db || cfg.LogLevel != "trace" || cfg.Build.MaxConcurrency != 16 {
		t.Errorf("flags not merged: %+v", cfg)
	}
	if cfg.WorkDir != "." || cfg.TargetEnv != "sandbox" {
		t.Errorf("nil flags overrode values: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"negative poll interval", func(c *Config) { c.Worker.PollInterval = -time.Second }},
		{"zero build concurrency", func(c *Config) { c.Build.MaxConcurrency = 0 }},
		{"zero iterations", func(c *Config) { c.Build.MaxIterations = 0 }},
		{"empty target env", func(c *Config) { c.TargetEnv = "" }},
		{"missing tool", func(c *Config) { c.Tools.Analyzer = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestGetFoundryHomeEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOUNDRY_HOME", dir)

	home, err := GetFoundryHome()
	if err != nil {
		t.Fatalf("GetFoundryHome error: %v", err)
	}
	if home != dir {
		t.Errorf("home = %q, want %q", home, dir)
	}

	db, err := GetStateDBPath()
	if err != nil {
		t.Fatalf("GetStateDBPath error: %v", err)
	}
	if db != filepath.Join(dir, "state.db") {
		t.Errorf("db path = %q", db)
	}
}
