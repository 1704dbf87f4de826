package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/calder/foundry/internal/filelock"
	"github.com/calder/foundry/internal/gates"
	"github.com/calder/foundry/internal/models"
)

// DefaultTaskRunner runs one task through the quality-gate iteration loop and
// writes the passing artifact into the working checkout, where the phase
// commit picks it up.
type DefaultTaskRunner struct {
	Iterations *IterationRunner
	WorkDir    string
}

// NewDefaultTaskRunner creates the standard task runner.
func NewDefaultTaskRunner(iterations *IterationRunner, workDir string) *DefaultTaskRunner {
	return &DefaultTaskRunner{Iterations: iterations, WorkDir: workDir}
}

// Execute implements TaskRunner.
func (r *DefaultTaskRunner) Execute(ctx context.Context, task models.Task) (models.TaskResult, error) {
	prompt := BuildTaskPrompt(task)
	defs := GatesForTask(task)

	outcome, err := r.Iterations.RunWithQualityGate(ctx, task, prompt, defs)
	if err != nil {
		return models.TaskResult{Success: false, Error: err.Error()}, err
	}

	ref := ArtifactPath(task)
	if r.WorkDir != "" {
		target := filepath.Join(r.WorkDir, ref)
		if err := filelock.AtomicWrite(target, []byte(outcome.Artifact)); err != nil {
			return models.TaskResult{Success: false, Error: err.Error()},
				NewTaskError(task.ID, "write artifact", err)
		}
	}

	return models.TaskResult{Success: true, ArtifactRef: ref}, nil
}

// BuildTaskPrompt renders the generation prompt for a task.
func BuildTaskPrompt(task models.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Implement the following %s task.\n\n", task.Type)
	fmt.Fprintf(&sb, "## Task: %s\n\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", task.Description)
	}
	fmt.Fprintf(&sb, "Produce only the artifact content, no commentary.\n")
	return sb.String()
}

// GatesForTask returns the gate definitions a task's artifact must pass.
// Code-bearing artifacts additionally go through static analysis; declarative
// metadata only gets the structural checks.
func GatesForTask(task models.Task) []gates.Definition {
	defs := []gates.Definition{
		{Type: models.GateBalancedDelimiters},
		{Type: models.GateNamingConvention},
	}
	switch task.Type {
	case models.TaskTypeCode, models.TaskTypeTest, models.TaskTypeAutomation:
		defs = append(defs, gates.Definition{
			Type:     models.GateStaticAnalysis,
			Language: languageForTask(task),
		})
	}
	return defs
}

func languageForTask(task models.Task) string {
	switch task.Type {
	case models.TaskTypeTest, models.TaskTypeCode:
		return "apex"
	case models.TaskTypeAutomation:
		return "javascript"
	default:
		return ""
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactPath returns the checkout-relative path a task's artifact lands at.
func ArtifactPath(task models.Task) string {
	name := unsafePathChars.ReplaceAllString(task.Name, "_")
	return filepath.Join("artifacts", string(task.Phase), name+extensionForTask(task))
}

func extensionForTask(task models.Task) string {
	switch task.Type {
	case models.TaskTypeObject, models.TaskTypeField:
		return ".object.xml"
	case models.TaskTypeCode:
		return ".cls"
	case models.TaskTypeTest:
		return ".test.cls"
	case models.TaskTypeAutomation:
		return ".flow.xml"
	case models.TaskTypeDeploy:
		return ".manifest.xml"
	default:
		return ".txt"
	}
}
