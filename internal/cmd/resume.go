package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResumeCommand creates the resume subcommand
func NewResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Reopen a failed execution and queue the interrupted work",
		Long: `Reopen an execution that ended in failure, whether from a stage error,
a cancelled run, or crash recovery.

The execution is rewound to its last completed checkpoint and the
interrupted work is queued again: the failed pipeline stage re-runs, or an
interrupted build resumes at its first incomplete phase.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			exec, err := app.service.ResumeExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %s resumed at stage %s\n", exec.ID, exec.Stage)
			fmt.Fprintln(cmd.OutOrStdout(), "Run 'foundry worker' to process the queued work.")
			return nil
		},
		SilenceUsage: true,
	}

	return cmd
}
