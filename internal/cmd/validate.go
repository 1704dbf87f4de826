package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/calder/foundry/internal/fileutil"
	"github.com/calder/foundry/internal/models"
	"github.com/calder/foundry/internal/parser"
)

// NewValidateCommand creates the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <wbs-file-or-directory>...",
		Short: "Validate work breakdown structure documents without executing",
		Long: `Parse WBS documents and check the task graphs, reporting:
  - Unknown or missing task types
  - Unknown phases
  - Dependencies on tasks that do not exist
  - Duplicate task numbers
  - Circular dependencies

Directory arguments are expanded to the markdown documents they contain.

Exit code: 0 if all documents are valid, 1 if errors were found`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateDocuments(args, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

func validateDocuments(paths []string, out io.Writer) error {
	files, err := fileutil.ExpandPaths(paths)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range files {
		wbs, err := parser.ParseFile(path)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "✓ %s: %d tasks", path, len(wbs.Tasks))
		if wbs.ProjectID != "" {
			fmt.Fprintf(out, " (project %s)", wbs.ProjectID)
		}
		fmt.Fprintln(out)
		for _, phase := range models.PhaseOrder() {
			n := 0
			for _, task := range wbs.Tasks {
				if task.Phase == phase {
					n++
				}
			}
			if n > 0 {
				fmt.Fprintf(out, "    %s: %d task(s)\n", phase, n)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d document(s) failed validation", failed, len(files))
	}
	return nil
}
