package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calder/foundry/internal/models"
	"github.com/calder/foundry/internal/store"
)

type fakePipeline struct {
	store      *store.Store
	started    []string
	gates      []string
	decisions  []models.ValidationDecision
	afterStage models.Stage
}

func (p *fakePipeline) StartExecution(ctx context.Context, projectID string) (*models.Execution, error) {
	exec := &models.Execution{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Stage:         models.StageWaiting,
		AgentStatuses: map[string]models.AgentStatus{},
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	p.started = append(p.started, exec.ID)
	return exec, nil
}

func (p *fakePipeline) SubmitValidationDecision(ctx context.Context, executionID, gate string, decision models.ValidationDecision, notes string) (*models.Execution, error) {
	p.gates = append(p.gates, gate)
	p.decisions = append(p.decisions, decision)
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	exec.Stage = p.afterStage
	return exec, nil
}

func (p *fakePipeline) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	exec.Stage = p.afterStage
	return exec, nil
}

func (p *fakePipeline) Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	exec.Stage = models.StageFailed
	return exec, nil
}

type fakeQueue struct {
	advances []string
	builds   []string
}

func (q *fakeQueue) EnqueueAdvance(ctx context.Context, executionID string) (*models.Job, error) {
	q.advances = append(q.advances, executionID)
	return &models.Job{ID: uuid.NewString(), ExecutionID: executionID, Kind: models.JobAdvance}, nil
}

func (q *fakeQueue) EnqueueBuild(ctx context.Context, executionID string) (*models.Job, error) {
	q.builds = append(q.builds, executionID)
	return &models.Job{ID: uuid.NewString(), ExecutionID: executionID, Kind: models.JobBuild}, nil
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakePipeline, *fakeQueue) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	p := &fakePipeline{store: s, afterStage: models.StageAnalysis}
	q := &fakeQueue{}
	return New(s, p, q, nil), s, p, q
}

func TestStartExecutionQueuesAdvance(t *testing.T) {
	svc, s, p, q := newTestService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, "crm", map[string]bool{"architecture": true})
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}
	if len(p.started) != 1 || p.started[0] != exec.ID {
		t.Errorf("pipeline starts = %v", p.started)
	}
	if len(q.advances) != 1 || q.advances[0] != exec.ID {
		t.Errorf("queued advances = %v", q.advances)
	}

	cfg, err := s.GetGateConfig(ctx, "crm")
	if err != nil {
		t.Fatalf("GetGateConfig error: %v", err)
	}
	if !cfg.Enabled("architecture") {
		t.Error("gate config not persisted")
	}

	if _, err := svc.StartExecution(ctx, "", nil); err == nil {
		t.Error("empty project id accepted")
	}
}

func TestSubmitValidationDecisionRequeues(t *testing.T) {
	svc, _, p, q := newTestService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, "crm", nil)
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}
	q.advances = nil

	if _, err := svc.SubmitValidationDecision(ctx, exec.ID, "business-requirements", models.DecisionApprove, ""); err != nil {
		t.Fatalf("SubmitValidationDecision error: %v", err)
	}
	if len(p.decisions) != 1 || p.decisions[0] != models.DecisionApprove {
		t.Errorf("decisions = %v", p.decisions)
	}
	if len(p.gates) != 1 || p.gates[0] != "business-requirements" {
		t.Errorf("gates = %v", p.gates)
	}
	if len(q.advances) != 1 {
		t.Errorf("queued advances = %v, want one", q.advances)
	}

	// A decision that lands the execution in a terminal stage queues nothing.
	p.afterStage = models.StageFailed
	q.advances = nil
	if _, err := svc.SubmitValidationDecision(ctx, exec.ID, "business-requirements", models.DecisionReject, "wrong"); err != nil {
		t.Fatalf("SubmitValidationDecision error: %v", err)
	}
	if len(q.advances) != 0 {
		t.Errorf("queued advances after terminal decision = %v", q.advances)
	}
}

func TestResumeExecutionQueuesInterruptedWork(t *testing.T) {
	svc, _, _, q := newTestService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, "crm", nil)
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}
	q.advances = nil

	// No task graph yet: resume queues the next pipeline advance.
	if _, err := svc.ResumeExecution(ctx, exec.ID); err != nil {
		t.Fatalf("ResumeExecution error: %v", err)
	}
	if len(q.advances) != 1 || len(q.builds) != 0 {
		t.Errorf("queued advances=%v builds=%v", q.advances, q.builds)
	}

	// With a task graph the interrupted build is queued instead.
	if _, err := svc.StartBuild(ctx, exec.ID, []byte(buildDoc)); err != nil {
		t.Fatalf("StartBuild error: %v", err)
	}
	q.advances, q.builds = nil, nil
	if _, err := svc.ResumeExecution(ctx, exec.ID); err != nil {
		t.Fatalf("ResumeExecution error: %v", err)
	}
	if len(q.builds) != 1 || len(q.advances) != 0 {
		t.Errorf("queued advances=%v builds=%v", q.advances, q.builds)
	}
}

const buildDoc = `## Task 1: Account object

**Type**: object

## Task 2: Billing service

**Type**: code
**Depends on**: 1
`

func TestStartBuildParsesAndQueues(t *testing.T) {
	svc, s, _, q := newTestService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, "crm", nil)
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}

	tasks, err := svc.StartBuild(ctx, exec.ID, []byte(buildDoc))
	if err != nil {
		t.Fatalf("StartBuild error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID == "1" || tasks[1].ID == "2" {
		t.Error("document-local task numbers survived remapping")
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Errorf("dependency not remapped: %v", tasks[1].DependsOn)
	}
	if len(q.builds) != 1 || q.builds[0] != exec.ID {
		t.Errorf("queued builds = %v", q.builds)
	}

	stored, err := s.GetTasksByExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetTasksByExecution error: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored %d tasks, want 2", len(stored))
	}

	if _, err := svc.StartBuild(ctx, exec.ID, []byte(buildDoc)); err == nil ||
		!strings.Contains(err.Error(), "already has a task graph") {
		t.Errorf("second StartBuild error = %v", err)
	}
}

func TestStartBuildRejectsBadDocument(t *testing.T) {
	svc, _, _, q := newTestService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, "crm", nil)
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}
	if _, err := svc.StartBuild(ctx, exec.ID, []byte("# no tasks here\n")); err == nil {
		t.Error("invalid document accepted")
	}
	if len(q.builds) != 0 {
		t.Errorf("queued builds = %v, want none", q.builds)
	}
}

func TestGetStatuses(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	exec, err := svc.StartExecution(ctx, "crm", nil)
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}
	if _, err := svc.StartBuild(ctx, exec.ID, []byte(buildDoc)); err != nil {
		t.Fatalf("StartBuild error: %v", err)
	}

	status, err := svc.GetExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecutionStatus error: %v", err)
	}
	if status.Execution.ID != exec.ID {
		t.Errorf("execution id = %q", status.Execution.ID)
	}
	// The fake queue never persists jobs, so none are visible.
	if status.LatestJob != nil {
		t.Errorf("latest job = %+v, want nil", status.LatestJob)
	}

	started := time.Now().UTC()
	rec := &models.PhaseRecord{
		ExecutionID: exec.ID,
		Phase:       models.PhaseDataModel,
		Status:      models.PhaseCompleted,
		Branch:      "build/x/data-model",
		StartedAt:   &started,
	}
	if err := s.SavePhaseRecord(ctx, rec); err != nil {
		t.Fatalf("SavePhaseRecord error: %v", err)
	}

	build, err := svc.GetBuildStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetBuildStatus error: %v", err)
	}
	if len(build.Tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(build.Tasks))
	}
	if len(build.Phases) != 1 || build.Phases[0].Phase != models.PhaseDataModel {
		t.Errorf("phases = %+v", build.Phases)
	}
	if build.TaskCounts[models.TaskPending] != 2 {
		t.Errorf("pending count = %d, want 2", build.TaskCounts[models.TaskPending])
	}
}
