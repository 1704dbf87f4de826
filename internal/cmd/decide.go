package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calder/foundry/internal/models"
	"github.com/calder/foundry/internal/pipeline"
)

// NewDecideCommand creates the decide subcommand
func NewDecideCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide <execution-id> <gate> <approve|reject|request_changes>",
		Short: "Resolve a pending validation gate",
		Long: `Record a human decision for an execution paused at a validation gate.

The gate argument names the gate being resolved; a decision for a gate the
execution is not currently waiting on is rejected, so a stale approval cannot
resolve the wrong gate. approve continues the pipeline to the next stage.
reject and request_changes send the execution back to re-run the contested
stage; --notes are passed to the agent as revision feedback.`,
		Args:         cobra.ExactArgs(3),
		RunE:         runDecide,
		SilenceUsage: true,
	}

	cmd.Flags().String("notes", "", "Reviewer notes recorded with the decision")

	return cmd
}

func runDecide(cmd *cobra.Command, args []string) error {
	gate := args[1]
	if !knownGate(gate) {
		return fmt.Errorf("unknown validation gate %q, valid gates: %v", gate, pipeline.KnownGates())
	}
	decision := models.ValidationDecision(args[2])
	if !decision.Valid() {
		return fmt.Errorf("unknown decision %q, must be approve, reject or request_changes", args[2])
	}
	notes, _ := cmd.Flags().GetString("notes")
	if decision != models.DecisionApprove && notes == "" {
		return fmt.Errorf("decision %q requires --notes explaining what to change", decision)
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	exec, err := app.service.SubmitValidationDecision(cmd.Context(), args[0], gate, decision, notes)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recorded %s for gate %s of execution %s\n", decision, gate, exec.ID)
	if !exec.Stage.IsTerminal() {
		fmt.Fprintln(out, "Next stage queued; run 'foundry worker' to process it.")
	}
	return nil
}
