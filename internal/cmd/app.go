package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calder/foundry/internal/capability"
	"github.com/calder/foundry/internal/config"
	"github.com/calder/foundry/internal/executor"
	"github.com/calder/foundry/internal/filelock"
	"github.com/calder/foundry/internal/gates"
	"github.com/calder/foundry/internal/jobs"
	"github.com/calder/foundry/internal/logger"
	"github.com/calder/foundry/internal/pipeline"
	"github.com/calder/foundry/internal/service"
	"github.com/calder/foundry/internal/store"
)

// app holds the wired engine components behind every subcommand.
type app struct {
	cfg     *config.Config
	store   *store.Store
	log     logger.Logger
	service *service.Service
	worker  *jobs.Worker
}

// newApp loads configuration and wires the store, pipeline, build executor,
// worker and service.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = config.GetStateDBPath()
		if err != nil {
			return nil, err
		}
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	log := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	generator := capability.NewCLITextGenerator()
	generator.BinaryPath = cfg.Tools.Generator

	analyzer := capability.NewCLIStaticAnalyzer()
	analyzer.BinaryPath = cfg.Tools.Analyzer

	deployer := capability.NewCLIDeployer(cfg.TargetEnv)
	deployer.BinaryPath = cfg.Tools.Deployer

	vcs := capability.NewGitVersionControl(cfg.WorkDir)

	lock, err := filelock.NewWorkspaceLock(cfg.WorkDir)
	if err != nil {
		s.Close()
		return nil, err
	}

	iterations := executor.NewIterationRunner(generator, gates.NewEvaluator(analyzer), s, log)
	iterations.SetMaxIterations(cfg.Build.MaxIterations)

	runner := executor.NewDefaultTaskRunner(iterations, cfg.WorkDir)
	builder := executor.NewBuildExecutor(s, runner, vcs, deployer, lock, log)
	builder.SetMaxConcurrency(cfg.Build.MaxConcurrency)

	pipe := pipeline.New(s, generator, log)

	worker := jobs.NewWorker(s, pipe, builder, log)
	worker.SetConcurrency(cfg.Worker.Concurrency)
	worker.SetPollInterval(cfg.Worker.PollInterval)

	return &app{
		cfg:     cfg,
		store:   s,
		log:     log,
		service: service.New(s, pipe, worker, log),
		worker:  worker,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// loadConfig reads the config file and applies CLI flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var dbPtr, workDirPtr, targetPtr, levelPtr *string
	var concurrencyPtr *int

	if cmd.Flags().Changed("db") {
		v, _ := cmd.Flags().GetString("db")
		dbPtr = &v
	}
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		levelPtr = &v
	}
	// Subcommand-local flags; not every command defines them.
	if f := cmd.Flags().Lookup("work-dir"); f != nil && f.Changed {
		v := f.Value.String()
		workDirPtr = &v
	}
	if f := cmd.Flags().Lookup("target-env"); f != nil && f.Changed {
		v := f.Value.String()
		targetPtr = &v
	}
	if f := cmd.Flags().Lookup("max-concurrency"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetInt("max-concurrency")
		concurrencyPtr = &v
	}

	cfg.MergeWithFlags(dbPtr, workDirPtr, targetPtr, levelPtr, concurrencyPtr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
