package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewBuildCommand creates the build subcommand
func NewBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <execution-id> <wbs-file>",
		Short: "Queue a phased build from a work breakdown structure",
		Long: `Parse a work breakdown structure document, register its task graph under
the execution, and queue the build job.

The document is validated before anything is stored: unknown task types,
dangling dependencies and dependency cycles are rejected. An execution can
carry one task graph; re-running build on the same execution is an error.

Run 'foundry worker' to process the queued build.`,
		Args:         cobra.ExactArgs(2),
		RunE:         runBuild,
		SilenceUsage: true,
	}

	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	doc, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[1], err)
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	tasks, err := app.service.StartBuild(cmd.Context(), args[0], doc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Build queued for execution %s with %d tasks:\n", args[0], len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(out, "  [%s] %s (%s)\n", task.Phase, task.Name, task.Type)
	}
	fmt.Fprintln(out, "Run 'foundry worker' to process it.")
	return nil
}
