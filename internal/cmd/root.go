// Package cmd implements the foundry command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for foundry
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foundry",
		Short: "Execution and build orchestration engine for generated artifacts",
		Long: `Foundry drives AI-generated software projects from requirements to
deployed code.

It runs a staged design pipeline with human validation gates, then executes
the resulting work breakdown structure as a phased, dependency-ordered build
with per-artifact quality gates. All state is persisted, so a crashed engine
resumes where it left off.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .foundry/config.yaml)")
	cmd.PersistentFlags().String("db", "", "Path to the state database (default: $FOUNDRY_HOME/state.db)")
	cmd.PersistentFlags().String("log-level", "", "Logging verbosity (trace, debug, info, warn, error)")

	cmd.AddCommand(NewStartCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewDecideCommand())
	cmd.AddCommand(NewBuildCommand())
	cmd.AddCommand(NewResumeCommand())
	cmd.AddCommand(NewCancelCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewWorkerCommand())

	return cmd
}
