package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/calder/foundry/internal/models"
	"github.com/calder/foundry/internal/service"
)

// NewStatusCommand creates the status subcommand
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the state of an execution and its build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showLog, _ := cmd.Flags().GetBool("log")
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return printStatus(cmd.Context(), cmd.OutOrStdout(), app.service, args[0], showLog)
		},
		SilenceUsage: true,
	}

	cmd.Flags().Bool("log", false, "Include the execution log")

	return cmd
}

func printStatus(ctx context.Context, out io.Writer, svc *service.Service, executionID string, showLog bool) error {
	status, err := svc.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return err
	}
	exec := status.Execution

	fmt.Fprintf(out, "Execution %s (project %s)\n", exec.ID, exec.ProjectID)
	fmt.Fprintf(out, "  Stage:    %s (%d%%)\n", exec.Stage, exec.Progress)
	if exec.ActiveAgent != "" {
		fmt.Fprintf(out, "  Agent:    %s\n", exec.ActiveAgent)
	}
	fmt.Fprintf(out, "  Tokens:   %d in / %d out ($%.4f)\n", exec.TokensIn, exec.TokensOut, exec.CostUSD)
	if exec.CompletedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", exec.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	if pv := exec.PendingValidation; pv != nil {
		fmt.Fprintf(out, "\nAwaiting validation at gate %q since %s\n", pv.Gate, pv.RequestedAt.Format("15:04:05"))
		fmt.Fprintf(out, "Resolve with: foundry decide %s %s approve|reject|request_changes\n", exec.ID, pv.Gate)
	}
	for _, rec := range exec.ValidationHistory {
		fmt.Fprintf(out, "  Gate %s: %s", rec.Gate, rec.Decision)
		if rec.Notes != "" {
			fmt.Fprintf(out, " (%s)", rec.Notes)
		}
		fmt.Fprintln(out)
	}

	if job := status.LatestJob; job != nil {
		fmt.Fprintf(out, "\nLatest job: %s %s (%s)\n", job.Kind, job.ID, job.Status)
		if job.Note != "" {
			fmt.Fprintf(out, "  Note: %s\n", job.Note)
		}
	}

	build, err := svc.GetBuildStatus(ctx, executionID)
	if err != nil {
		return err
	}
	if len(build.Tasks) > 0 {
		fmt.Fprintf(out, "\nBuild: %d tasks", len(build.Tasks))
		for _, st := range []models.TaskStatus{models.TaskCompleted, models.TaskInProgress, models.TaskFailed, models.TaskSkipped, models.TaskPending} {
			if n := build.TaskCounts[st]; n > 0 {
				fmt.Fprintf(out, ", %d %s", n, st)
			}
		}
		fmt.Fprintln(out)
		for _, rec := range build.Phases {
			fmt.Fprintf(out, "  Phase %-14s %s", rec.Phase, rec.Status)
			if rec.Tag != "" {
				fmt.Fprintf(out, " tag=%s", rec.Tag)
			}
			if rec.Error != "" {
				fmt.Fprintf(out, " error=%s", rec.Error)
			}
			fmt.Fprintln(out)
		}
	}

	if showLog && len(exec.Log) > 0 {
		fmt.Fprintln(out, "\nLog:")
		for _, line := range exec.Log {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}

	return nil
}
