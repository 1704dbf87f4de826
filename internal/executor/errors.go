package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskError records a failure of a single build task with context about when
// it happened.
type TaskError struct {
	TaskID    string
	Message   string
	Err       error
	Timestamp time.Time
}

// NewTaskError creates a TaskError stamped with the current time.
func NewTaskError(taskID, msg string, err error) *TaskError {
	return &TaskError{
		TaskID:    taskID,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

func (e *TaskError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("task %s: %s", e.TaskID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// DependencyUnsatisfiedError marks a task skipped because one of its
// dependencies did not complete.
type DependencyUnsatisfiedError struct {
	TaskID  string
	Missing []string
}

func (e *DependencyUnsatisfiedError) Error() string {
	return fmt.Sprintf("task %s: dependencies not satisfied: %s",
		e.TaskID, strings.Join(e.Missing, ", "))
}

// IterationBudgetError marks a task that failed its quality gates on every
// attempt within the iteration budget.
type IterationBudgetError struct {
	TaskID   string
	Budget   int
	LastGate string
}

func (e *IterationBudgetError) Error() string {
	if e.LastGate != "" {
		return fmt.Sprintf("task %s: quality gates failed after %d iterations (last failing gate: %s)",
			e.TaskID, e.Budget, e.LastGate)
	}
	return fmt.Sprintf("task %s: quality gates failed after %d iterations", e.TaskID, e.Budget)
}

// PhaseError aggregates the task failures of one build phase.
type PhaseError struct {
	Phase       string
	TaskErrors  []*TaskError
	TotalTasks  int
	FailedTasks int
}

// NewPhaseError creates an empty PhaseError for a phase.
func NewPhaseError(phase string, totalTasks int) *PhaseError {
	return &PhaseError{Phase: phase, TotalTasks: totalTasks}
}

// AddTask records one task failure.
func (e *PhaseError) AddTask(taskErr *TaskError) {
	e.TaskErrors = append(e.TaskErrors, taskErr)
	e.FailedTasks++
}

func (e *PhaseError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("phase %s: %d/%d tasks failed", e.Phase, e.FailedTasks, e.TotalTasks))
	for _, taskErr := range e.TaskErrors {
		sb.WriteString(fmt.Sprintf("\n  - %s", taskErr.Error()))
	}
	return sb.String()
}

// Unwrap exposes the individual task errors to errors.Is and errors.As.
func (e *PhaseError) Unwrap() []error {
	if len(e.TaskErrors) == 0 {
		return nil
	}
	errs := make([]error, len(e.TaskErrors))
	for i, taskErr := range e.TaskErrors {
		errs[i] = taskErr
	}
	return errs
}

// IsTaskError reports whether err is or wraps a TaskError.
func IsTaskError(err error) bool {
	var te *TaskError
	return errors.As(err, &te)
}

// IsIterationBudgetError reports whether err is or wraps an IterationBudgetError.
func IsIterationBudgetError(err error) bool {
	var ie *IterationBudgetError
	return errors.As(err, &ie)
}
