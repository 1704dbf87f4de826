package models

import (
	"errors"
	"fmt"
	"time"
)

// TaskType categorizes a WBS task and determines which capability runs it.
type TaskType string

const (
	TaskTypeObject     TaskType = "object"
	TaskTypeField      TaskType = "field"
	TaskTypeAutomation TaskType = "automation"
	TaskTypeCode       TaskType = "code"
	TaskTypeTest       TaskType = "test"
	TaskTypeDeploy     TaskType = "deploy"
)

// ValidTaskType reports whether t is one of the known task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeObject, TaskTypeField, TaskTypeAutomation, TaskTypeCode, TaskTypeTest, TaskTypeDeploy:
		return true
	}
	return false
}

// Phase is a fixed-order grouping of task types within the BUILD stage.
type Phase string

const (
	PhaseDataModel     Phase = "data-model"
	PhaseBusinessLogic Phase = "business-logic"
	PhaseUI            Phase = "ui"
	PhaseAutomation    Phase = "automation"
	PhaseSecurity      Phase = "security"
	PhaseFinalize      Phase = "finalize"
)

// PhaseOrder returns all phases in their fixed execution order. The order is
// a total order independent of per-task dependency edges.
func PhaseOrder() []Phase {
	return []Phase{PhaseDataModel, PhaseBusinessLogic, PhaseUI, PhaseAutomation, PhaseSecurity, PhaseFinalize}
}

// PhaseForTaskType maps a task type to its pre-assigned phase.
func PhaseForTaskType(t TaskType) (Phase, error) {
	switch t {
	case TaskTypeObject, TaskTypeField:
		return PhaseDataModel, nil
	case TaskTypeCode:
		return PhaseBusinessLogic, nil
	case TaskTypeTest:
		return PhaseUI, nil
	case TaskTypeAutomation:
		return PhaseAutomation, nil
	case TaskTypeDeploy:
		return PhaseFinalize, nil
	default:
		return "", fmt.Errorf("no phase assignment for task type %q", t)
	}
}

// DeployPathway selects how a phase's artifacts reach the target environment.
type DeployPathway string

const (
	// PathwayAdministrative deploys metadata/configuration through the
	// target's administrative tooling API.
	PathwayAdministrative DeployPathway = "administrative"
	// PathwaySourcePush deploys source code through a source-push pipeline.
	PathwaySourcePush DeployPathway = "source-push"
)

// Pathway returns the deploy pathway for a phase. The distinction is a
// property of the phase, not negotiated at runtime.
func (p Phase) Pathway() DeployPathway {
	switch p {
	case PhaseBusinessLogic, PhaseUI:
		return PathwaySourcePush
	default:
		return PathwayAdministrative
	}
}

// TaskStatus is the lifecycle state of a WBS task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// TaskResult is the outcome payload of an executed task.
type TaskResult struct {
	Success     bool   `json:"success"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Task is a single work-breakdown-structure unit owned by an execution.
type Task struct {
	ID          string
	ExecutionID string
	Name        string
	Description string
	Type        TaskType
	Agent       string
	Phase       Phase
	DependsOn   []string
	Status      TaskStatus
	Result      *TaskResult

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Validate checks the task has all required fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if !ValidTaskType(t.Type) {
		return fmt.Errorf("task %s: unknown type %q", t.ID, t.Type)
	}
	return nil
}

// IsTerminal reports whether the task reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskSkipped
}

// DepsSatisfied reports whether every declared dependency is completed in
// the given status map.
func (t *Task) DepsSatisfied(statuses map[string]TaskStatus) bool {
	for _, dep := range t.DependsOn {
		if statuses[dep] != TaskCompleted {
			return false
		}
	}
	return true
}

// HasCyclicDependencies detects circular dependencies in a task list using
// DFS with color marking (white=unvisited, gray=visiting, black=visited).
func HasCyclicDependencies(tasks []Task) bool {
	graph := make(map[string][]string)
	known := make(map[string]bool)

	for _, task := range tasks {
		known[task.ID] = true
		graph[task.ID] = []string{}
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if dep == task.ID {
				return true
			}
			if known[dep] {
				graph[dep] = append(graph[dep], task.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(known))

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, neighbor := range graph[node] {
			if colors[neighbor] == gray {
				return true
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for id := range known {
		if colors[id] == white {
			if dfs(id) {
				return true
			}
		}
	}

	return false
}
