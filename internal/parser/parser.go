// Package parser reads work-breakdown-structure documents: markdown files
// with one "## Task N:" section per task, bold metadata annotations, and
// optional YAML frontmatter carrying project settings.
package parser

import (
	"fmt"
	"os"

	"github.com/calder/foundry/internal/models"
)

// WBS is a parsed work breakdown structure.
type WBS struct {
	ProjectID string
	// Gates holds the per-project human validation gate switches from the
	// document frontmatter.
	Gates map[string]bool
	Tasks []models.Task
}

// ParseFile reads and parses a WBS document from disk.
func ParseFile(path string) (*WBS, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	wbs, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return wbs, nil
}

// Parse parses a WBS document and validates the task graph.
func Parse(content []byte) (*WBS, error) {
	wbs := &WBS{Gates: map[string]bool{}}

	body, front := extractFrontmatter(content)
	if front != nil {
		if err := parseFrontmatter(front, wbs); err != nil {
			return nil, err
		}
	}

	tasks, err := extractTasks(body)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("document contains no task sections")
	}
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	wbs.Tasks = tasks
	return wbs, nil
}

func validateTasks(tasks []models.Task) error {
	known := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if known[task.ID] {
			return fmt.Errorf("task %s: duplicate task number", task.ID)
		}
		known[task.ID] = true
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !known[dep] {
				return fmt.Errorf("task %s (%s): depends on unknown task %s", task.ID, task.Name, dep)
			}
		}
	}
	if models.HasCyclicDependencies(tasks) {
		return fmt.Errorf("circular dependency detected")
	}
	return nil
}
