package executor

import (
	"fmt"
	"sort"

	"github.com/calder/foundry/internal/models"
)

// DefaultMaxConcurrency bounds how many tasks of one wave run at once.
const DefaultMaxConcurrency = 4

// Wave is one batch of tasks whose intra-phase dependencies are all met by
// earlier waves.
type Wave struct {
	Name           string
	TaskIDs        []string
	MaxConcurrency int
}

// ValidateTasks checks that every task has a unique id and that dependencies
// reference known tasks. Dependencies may cross phases only backwards: a task
// must not depend on a task assigned to a later phase, since phases execute
// in a fixed total order.
func ValidateTasks(tasks []models.Task) error {
	taskMap := make(map[string]models.Task, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			return fmt.Errorf("task has empty id")
		}
		if _, dup := taskMap[task.ID]; dup {
			return fmt.Errorf("task %s: duplicate id", task.ID)
		}
		taskMap[task.ID] = task
	}

	phaseIndex := make(map[models.Phase]int)
	for i, phase := range models.PhaseOrder() {
		phaseIndex[phase] = i
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			depTask, exists := taskMap[dep]
			if !exists {
				return fmt.Errorf("task %s (%s): depends on non-existent task %s", task.ID, task.Name, dep)
			}
			if phaseIndex[depTask.Phase] > phaseIndex[task.Phase] {
				return fmt.Errorf("task %s (phase %s): depends on task %s in later phase %s",
					task.ID, task.Phase, dep, depTask.Phase)
			}
		}
	}

	if models.HasCyclicDependencies(tasks) {
		return fmt.Errorf("circular dependency detected")
	}

	return nil
}

// TasksForPhase filters the task list down to one phase, preserving order.
func TasksForPhase(tasks []models.Task, phase models.Phase) []models.Task {
	var out []models.Task
	for _, task := range tasks {
		if task.Phase == phase {
			out = append(out, task)
		}
	}
	return out
}

// CalculateWaves groups one phase's tasks into execution waves using Kahn's
// algorithm. Only dependencies within the phase contribute edges; a
// dependency on an earlier phase is already satisfied when the phase starts.
func CalculateWaves(tasks []models.Task) ([]Wave, error) {
	if len(tasks) == 0 {
		return []Wave{}, nil
	}

	inPhase := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		inPhase[task.ID] = true
	}

	edges := make(map[string][]string)
	inDegree := make(map[string]int, len(tasks))
	for _, task := range tasks {
		inDegree[task.ID] = 0
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !inPhase[dep] {
				continue
			}
			edges[dep] = append(edges[dep], task.ID)
			inDegree[task.ID]++
		}
	}

	var waves []Wave
	for len(inDegree) > 0 {
		var current []string
		for id, degree := range inDegree {
			if degree == 0 {
				current = append(current, id)
			}
		}
		if len(current) == 0 {
			return nil, fmt.Errorf("circular dependency detected within phase")
		}
		sort.Strings(current)

		waves = append(waves, Wave{
			Name:           fmt.Sprintf("Wave %d", len(waves)+1),
			TaskIDs:        current,
			MaxConcurrency: DefaultMaxConcurrency,
		})

		for _, id := range current {
			delete(inDegree, id)
			for _, dependent := range edges[id] {
				if _, exists := inDegree[dependent]; exists {
					inDegree[dependent]--
				}
			}
		}
	}

	return waves, nil
}
