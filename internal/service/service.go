// Package service is the operation facade the CLI talks to. It composes the
// pipeline state machine, the durable job queue, and the store into the
// engine's public operations.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calder/foundry/internal/logger"
	"github.com/calder/foundry/internal/models"
	"github.com/calder/foundry/internal/parser"
)

// Pipeline is the slice of the state machine the service drives.
type Pipeline interface {
	StartExecution(ctx context.Context, projectID string) (*models.Execution, error)
	SubmitValidationDecision(ctx context.Context, executionID, gate string, decision models.ValidationDecision, notes string) (*models.Execution, error)
	Resume(ctx context.Context, executionID string) (*models.Execution, error)
	Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error)
}

// Queue enqueues durable background jobs.
type Queue interface {
	EnqueueAdvance(ctx context.Context, executionID string) (*models.Job, error)
	EnqueueBuild(ctx context.Context, executionID string) (*models.Job, error)
}

// Store is the persistence surface the service reads and writes directly.
type Store interface {
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	SaveGateConfig(ctx context.Context, cfg *models.ValidationGateConfig) error
	CreateTasks(ctx context.Context, tasks []models.Task) error
	GetTasksByExecution(ctx context.Context, executionID string) ([]models.Task, error)
	ListPhaseRecords(ctx context.Context, executionID string) ([]models.PhaseRecord, error)
	ListJobsByExecution(ctx context.Context, executionID string) ([]models.Job, error)
}

// Service exposes the engine's operations.
type Service struct {
	store    Store
	pipeline Pipeline
	queue    Queue
	log      logger.Logger
}

// New wires a Service.
func New(store Store, pipeline Pipeline, queue Queue, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop{}
	}
	return &Service{store: store, pipeline: pipeline, queue: queue, log: log}
}

// StartExecution creates an execution, stores the project's validation gate
// switches, and queues the first pipeline advance.
func (s *Service) StartExecution(ctx context.Context, projectID string, gates map[string]bool) (*models.Execution, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	exec, err := s.pipeline.StartExecution(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if gates == nil {
		gates = map[string]bool{}
	}
	cfg := &models.ValidationGateConfig{ProjectID: projectID, Gates: gates}
	if err := s.store.SaveGateConfig(ctx, cfg); err != nil {
		return nil, err
	}

	if _, err := s.queue.EnqueueAdvance(ctx, exec.ID); err != nil {
		return nil, err
	}
	s.log.Infof("execution %s started for project %s", exec.ID, projectID)
	return exec, nil
}

// ExecutionStatus is the read model for one execution.
type ExecutionStatus struct {
	Execution *models.Execution
	// LatestJob is the most recent job touching the execution, nil when no
	// job ever ran.
	LatestJob *models.Job
}

// GetExecutionStatus loads an execution and its most recent job.
func (s *Service) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobsByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	status := &ExecutionStatus{Execution: exec}
	if len(jobs) > 0 {
		status.LatestJob = &jobs[len(jobs)-1]
	}
	return status, nil
}

// SubmitValidationDecision resolves the named pending human gate and, unless
// the execution reached a terminal stage, queues the next advance so the
// pipeline continues (approve) or re-runs the contested stage (reject,
// request_changes). A decision naming a gate the execution is not waiting on
// is rejected.
func (s *Service) SubmitValidationDecision(ctx context.Context, executionID, gate string, decision models.ValidationDecision, notes string) (*models.Execution, error) {
	exec, err := s.pipeline.SubmitValidationDecision(ctx, executionID, gate, decision, notes)
	if err != nil {
		return nil, err
	}

	if !exec.Stage.IsTerminal() {
		if _, err := s.queue.EnqueueAdvance(ctx, exec.ID); err != nil {
			return nil, err
		}
	}
	return exec, nil
}

// ResumeExecution reopens a failed execution and queues the work that was
// interrupted: another build when a task graph exists, otherwise the next
// pipeline advance. A resumed execution whose pipeline already completed and
// has no task graph queues nothing.
func (s *Service) ResumeExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := s.pipeline.Resume(ctx, executionID)
	if err != nil {
		return nil, err
	}

	tasks, err := s.store.GetTasksByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(tasks) > 0:
		if _, err := s.queue.EnqueueBuild(ctx, exec.ID); err != nil {
			return nil, err
		}
	case !exec.Stage.IsTerminal():
		if _, err := s.queue.EnqueueAdvance(ctx, exec.ID); err != nil {
			return nil, err
		}
	}
	return exec, nil
}

// CancelExecution marks an execution failed.
func (s *Service) CancelExecution(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	return s.pipeline.Cancel(ctx, executionID, reason)
}

// StartBuild parses a WBS document, registers its task graph under the
// execution, and queues the phased build.
func (s *Service) StartBuild(ctx context.Context, executionID string, doc []byte) ([]models.Task, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetTasksByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("execution %s already has a task graph", executionID)
	}

	wbs, err := parser.Parse(doc)
	if err != nil {
		return nil, err
	}

	tasks := remapTaskIDs(wbs.Tasks, exec.ID)
	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	if _, err := s.queue.EnqueueBuild(ctx, exec.ID); err != nil {
		return nil, err
	}
	s.log.Infof("build queued for execution %s: %d tasks", exec.ID, len(tasks))
	return tasks, nil
}

// remapTaskIDs replaces document-local task numbers with generated ids,
// rewriting dependency references to match.
func remapTaskIDs(tasks []models.Task, executionID string) []models.Task {
	ids := make(map[string]string, len(tasks))
	for _, task := range tasks {
		ids[task.ID] = uuid.NewString()
	}

	now := time.Now().UTC()
	out := make([]models.Task, len(tasks))
	for i, task := range tasks {
		task.ID = ids[task.ID]
		task.ExecutionID = executionID
		task.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		deps := make([]string, len(task.DependsOn))
		for j, dep := range task.DependsOn {
			deps[j] = ids[dep]
		}
		task.DependsOn = deps
		out[i] = task
	}
	return out
}

// BuildStatus is the read model for one execution's build.
type BuildStatus struct {
	Tasks      []models.Task
	Phases     []models.PhaseRecord
	TaskCounts map[models.TaskStatus]int
}

// GetBuildStatus loads the task graph and phase records of an execution.
func (s *Service) GetBuildStatus(ctx context.Context, executionID string) (*BuildStatus, error) {
	tasks, err := s.store.GetTasksByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhaseRecords(ctx, executionID)
	if err != nil {
		return nil, err
	}

	counts := map[models.TaskStatus]int{}
	for _, task := range tasks {
		counts[task.Status]++
	}
	return &BuildStatus{Tasks: tasks, Phases: phases, TaskCounts: counts}, nil
}
