package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewWorkerCommand creates the worker subcommand
func NewWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		Long: `Process queued pipeline and build jobs until interrupted.

On startup the worker recovers from any previous crash: jobs left in-flight
are aborted and executions that were mid-stage are marked failed with a note.
Nothing is re-dispatched automatically; inspect with 'foundry status' and
queue work again deliberately.

Flags override the build settings from the config file for this worker only.`,
		RunE:         runWorker,
		SilenceUsage: true,
	}

	cmd.Flags().String("work-dir", "", "Working checkout for build phases")
	cmd.Flags().String("target-env", "", "Deployment target environment")
	cmd.Flags().Int("max-concurrency", 0, "Maximum tasks running in parallel per wave")
	cmd.Flags().Bool("once", false, "Process at most one job and exit")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.worker.Recover(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}

	once, _ := cmd.Flags().GetBool("once")
	if once {
		ran, err := app.worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !ran {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue empty, nothing to do")
		}
		return nil
	}

	app.log.Infof("worker started (concurrency %d, target %s)", app.cfg.Worker.Concurrency, app.cfg.TargetEnv)
	if err := app.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	app.log.Infof("worker stopped")
	return nil
}
