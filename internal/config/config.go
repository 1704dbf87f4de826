// Package config loads engine configuration from YAML with defaults and
// CLI-flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerConfig tunes the background job worker.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed in parallel.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is how often an idle worker checks the queue.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BuildConfig tunes the phased build executor.
type BuildConfig struct {
	// MaxConcurrency caps tasks running in parallel within one wave.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxIterations caps quality-gate retry attempts per task.
	MaxIterations int `yaml:"max_iterations"`
}

// ToolsConfig names the external CLIs the engine shells out to.
type ToolsConfig struct {
	// Generator is the text-generation provider binary.
	Generator string `yaml:"generator"`

	// Analyzer is the static-analysis binary.
	Analyzer string `yaml:"analyzer"`

	// Deployer is the platform deployment binary.
	Deployer string `yaml:"deployer"`
}

// Config represents foundry configuration options.
type Config struct {
	// DBPath is the sqlite state database. Empty means <home>/state.db.
	DBPath string `yaml:"db_path"`

	// WorkDir is the checkout the build executor operates in.
	WorkDir string `yaml:"work_dir"`

	// TargetEnv names the environment deployments go to.
	TargetEnv string `yaml:"target_env"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Worker WorkerConfig `yaml:"worker"`
	Build  BuildConfig  `yaml:"build"`
	Tools  ToolsConfig  `yaml:"tools"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		DBPath:    "",
		WorkDir:   ".",
		TargetEnv: "sandbox",
		LogLevel:  "info",
		Worker: WorkerConfig{
			Concurrency:  2,
			PollInterval: 500 * time.Millisecond,
		},
		Build: BuildConfig{
			MaxConcurrency: 4,
			MaxIterations:  2,
		},
		Tools: ToolsConfig{
			Generator: "aigen",
			Analyzer:  "lintctl",
			Deployer:  "deployctl",
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// A missing file returns the defaults without error; a malformed file
// returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations come in as strings so "30s" works in the file.
	type yamlWorker struct {
		Concurrency  int    `yaml:"concurrency"`
		PollInterval string `yaml:"poll_interval"`
	}
	type yamlConfig struct {
		DBPath    string      `yaml:"db_path"`
		WorkDir   string      `yaml:"work_dir"`
		TargetEnv string      `yaml:"target_env"`
		LogLevel  string      `yaml:"log_level"`
		Worker    yamlWorker  `yaml:"worker"`
		Build     BuildConfig `yaml:"build"`
		Tools     ToolsConfig `yaml:"tools"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.WorkDir != "" {
		cfg.WorkDir = yamlCfg.WorkDir
	}
	if yamlCfg.TargetEnv != "" {
		cfg.TargetEnv = yamlCfg.TargetEnv
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.Worker.Concurrency != 0 {
		cfg.Worker.Concurrency = yamlCfg.Worker.Concurrency
	}
	if yamlCfg.Worker.PollInterval != "" {
		interval, err := time.ParseDuration(yamlCfg.Worker.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval format %q: %w", yamlCfg.Worker.PollInterval, err)
		}
		cfg.Worker.PollInterval = interval
	}
	if yamlCfg.Build.MaxConcurrency != 0 {
		cfg.Build.MaxConcurrency = yamlCfg.Build.MaxConcurrency
	}
	if yamlCfg.Build.MaxIterations != 0 {
		cfg.Build.MaxIterations = yamlCfg.Build.MaxIterations
	}
	if yamlCfg.Tools.Generator != "" {
		cfg.Tools.Generator = yamlCfg.Tools.Generator
	}
	if yamlCfg.Tools.Analyzer != "" {
		cfg.Tools.Analyzer = yamlCfg.Tools.Analyzer
	}
	if yamlCfg.Tools.Deployer != "" {
		cfg.Tools.Deployer = yamlCfg.Tools.Deployer
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .foundry/config.yaml in the
// specified directory. Missing directory or file returns the defaults.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".foundry", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration. Non-nil flag
// values override config file settings.
func (c *Config) MergeWithFlags(dbPath *string, workDir *string, targetEnv *string, logLevel *string, concurrency *int) {
	if dbPath != nil {
		c.DBPath = *dbPath
	}
	if workDir != nil {
		c.WorkDir = *workDir
	}
	if targetEnv != nil {
		c.TargetEnv = *targetEnv
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if concurrency != nil {
		c.Build.MaxConcurrency = *concurrency
	}
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0, got %d", c.Worker.Concurrency)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0, got %v", c.Worker.PollInterval)
	}
	if c.Build.MaxConcurrency <= 0 {
		return fmt.Errorf("build.max_concurrency must be > 0, got %d", c.Build.MaxConcurrency)
	}
	if c.Build.MaxIterations <= 0 {
		return fmt.Errorf("build.max_iterations must be > 0, got %d", c.Build.MaxIterations)
	}
	if c.TargetEnv == "" {
		return fmt.Errorf("target_env cannot be empty")
	}
	if c.Tools.Generator == "" || c.Tools.Analyzer == "" || c.Tools.Deployer == "" {
		return fmt.Errorf("tools.generator, tools.analyzer and tools.deployer must all be set")
	}

	return nil
}
