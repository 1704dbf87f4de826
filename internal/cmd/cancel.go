package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCancelCommand creates the cancel subcommand
func NewCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")

			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			exec, err := app.service.CancelExecution(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %s cancelled\n", exec.ID)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("reason", "cancelled by operator", "Reason recorded in the execution log")

	return cmd
}
