package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calder/foundry/internal/pipeline"
)

// NewStartCommand creates the start subcommand
func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start a design pipeline execution for a project",
		Long: `Create a new execution for a project and queue its first pipeline stage.

Validation gates pause the pipeline for a human decision after the stage they
follow. Enable them per project with --gate:

  foundry start crm-rebuild --gate business-requirements --gate architecture

Run 'foundry worker' to process the queued stages.`,
		Args:         cobra.ExactArgs(1),
		RunE:         runStart,
		SilenceUsage: true,
	}

	cmd.Flags().StringSlice("gate", nil, "Enable a validation gate (repeatable)")

	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	gateNames, _ := cmd.Flags().GetStringSlice("gate")
	enabled := map[string]bool{}
	for _, name := range gateNames {
		if !knownGate(name) {
			return fmt.Errorf("unknown validation gate %q, valid gates: %v", name, pipeline.KnownGates())
		}
		enabled[name] = true
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	exec, err := app.service.StartExecution(cmd.Context(), args[0], enabled)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Execution %s started for project %s\n", exec.ID, exec.ProjectID)
	if len(enabled) > 0 {
		fmt.Fprintf(out, "Enabled gates: %v\n", gateNames)
	}
	fmt.Fprintln(out, "First stage queued; run 'foundry worker' to process it.")
	return nil
}

func knownGate(name string) bool {
	for _, gate := range pipeline.KnownGates() {
		if gate == name {
			return true
		}
	}
	return false
}
