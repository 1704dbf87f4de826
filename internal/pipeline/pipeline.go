// Package pipeline drives the staged document-generation state machine:
// extraction, analysis, design, synthesis, with optional human validation
// gates between stages. Every transition is persisted before it is reported,
// so a crash between "agent returned" and "state persisted" replays the
// stage instead of losing it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calder/foundry/internal/capability"
	"github.com/calder/foundry/internal/logger"
	"github.com/calder/foundry/internal/models"
)

// GateAfterStage names the human validation gate that follows a stage, or ""
// when the stage has none.
func GateAfterStage(stage models.Stage) string {
	switch stage {
	case models.StageAnalysis:
		return "business-requirements"
	case models.StageDesign:
		return "architecture"
	default:
		return ""
	}
}

// KnownGates lists the human validation gates in pipeline order.
func KnownGates() []string {
	var gates []string
	for _, stage := range models.PipelineStages() {
		if g := GateAfterStage(stage); g != "" {
			gates = append(gates, g)
		}
	}
	return gates
}

// stageForGate is the inverse of GateAfterStage.
func stageForGate(gate string) (models.Stage, bool) {
	for _, stage := range models.PipelineStages() {
		if GateAfterStage(stage) == gate {
			return stage, true
		}
	}
	return "", false
}

// nextStage returns the stage Advance will run from the given checkpoint.
// The checkpoint is the last stage that finished; StageWaiting means nothing
// has run yet.
func nextStage(from models.Stage) (models.Stage, bool) {
	stages := models.PipelineStages()
	if from == models.StageWaiting {
		return stages[0], true
	}
	for i, stage := range stages {
		if stage == from {
			if i+1 < len(stages) {
				return stages[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func progressForStage(stage models.Stage) int {
	for i, s := range models.PipelineStages() {
		if s == stage {
			return (i + 1) * 100 / len(models.PipelineStages())
		}
	}
	return 0
}

// Store is the slice of persistence the pipeline needs.
type Store interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, exec *models.Execution) error
	CountActiveExecutions(ctx context.Context, projectID string) (int, error)
	GetGateConfig(ctx context.Context, projectID string) (*models.ValidationGateConfig, error)
}

// Pipeline owns execution lifecycle operations.
type Pipeline struct {
	store     Store
	generator capability.TextGenerator
	log       logger.Logger
}

// New wires a Pipeline.
func New(store Store, generator capability.TextGenerator, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop{}
	}
	return &Pipeline{store: store, generator: generator, log: log}
}

// StartExecution creates a new execution for a project in the waiting stage.
// A project runs at most one execution at a time; starting a second one while
// another is active is rejected.
func (p *Pipeline) StartExecution(ctx context.Context, projectID string) (*models.Execution, error) {
	active, err := p.store.CountActiveExecutions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("project %s already has an active execution", projectID)
	}

	now := time.Now().UTC()
	exec := &models.Execution{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Stage:         models.StageWaiting,
		AgentStatuses: map[string]models.AgentStatus{},
		CreatedAt:     now,
	}
	exec.AppendLog("execution created for project %s", projectID)
	if err := p.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Advance runs the next pipeline stage for an execution. When the finished
// stage has an enabled validation gate, the execution pauses in a
// waiting_validation stage instead of proceeding; resolving the gate is a
// separate operation. Advance never runs more than one stage.
func (p *Pipeline) Advance(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Stage.IsTerminal() {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: "advance"}
	}
	if _, waiting := exec.Stage.IsWaitingValidation(); waiting {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: "advance"}
	}

	stage, ok := nextStage(exec.Stage)
	if !ok {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: "advance"}
	}

	if exec.StartedAt == nil {
		now := time.Now().UTC()
		exec.StartedAt = &now
	}

	if err := p.runStage(ctx, exec, stage); err != nil {
		exec.Stage = models.StageFailed
		exec.ActiveAgent = ""
		now := time.Now().UTC()
		exec.CompletedAt = &now
		exec.AppendLog("stage %s failed: %v", stage, err)
		if uerr := p.store.UpdateExecution(ctx, exec); uerr != nil {
			p.log.Errorf("execution %s: persist failed stage: %v", exec.ID, uerr)
		}
		return exec, err
	}

	exec.Stage = stage
	exec.Progress = progressForStage(stage)
	exec.ActiveAgent = ""

	if gate := GateAfterStage(stage); gate != "" {
		cfg, err := p.store.GetGateConfig(ctx, exec.ProjectID)
		if err != nil {
			return nil, err
		}
		if cfg.Enabled(gate) {
			artifact, _ := exec.ArtifactFor(stage)
			exec.Stage = models.WaitingValidationStage(gate)
			exec.PendingValidation = &models.PendingValidation{
				Gate:        gate,
				Payload:     artifact.Content,
				RequestedAt: time.Now().UTC(),
			}
			exec.AppendLog("paused for %s validation", gate)
		}
	}

	if _, ok := nextStage(stage); !ok {
		if _, waiting := exec.Stage.IsWaitingValidation(); !waiting {
			exec.Stage = models.StageCompleted
			now := time.Now().UTC()
			exec.CompletedAt = &now
			exec.AppendLog("pipeline completed")
		}
	}

	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// runStage invokes the stage's agent and records artifact, usage, and agent
// status on the execution. The caller persists.
func (p *Pipeline) runStage(ctx context.Context, exec *models.Execution, stage models.Stage) error {
	agent, err := capability.AgentForStage(stage)
	if err != nil {
		return err
	}

	exec.ActiveAgent = string(agent)
	exec.AgentStatuses[string(agent)] = models.AgentStatus{State: models.AgentRunning}

	prompt := p.buildStagePrompt(exec, stage)
	result, err := p.generator.Generate(ctx, capability.GenerateRequest{
		Prompt:   prompt,
		Agent:    agent,
		Feedback: p.revisionFeedback(exec, stage),
	})
	if err != nil {
		exec.AgentStatuses[string(agent)] = models.AgentStatus{State: models.AgentFailed, Message: err.Error()}
		return fmt.Errorf("agent %s: %w", agent, err)
	}

	exec.TokensIn += result.TokensIn
	exec.TokensOut += result.TokensOut
	exec.CostUSD += result.CostUSD
	exec.Artifacts = append(exec.Artifacts, models.StageArtifact{
		Stage:      stage,
		Content:    result.Text,
		ProducedAt: time.Now().UTC(),
	})
	exec.AgentStatuses[string(agent)] = models.AgentStatus{State: models.AgentCompleted, Progress: 100}
	exec.AppendLog("stage %s finished (%d tokens in, %d out)", stage, result.TokensIn, result.TokensOut)
	return nil
}

// buildStagePrompt seeds each stage with the previous stage's artifact.
func (p *Pipeline) buildStagePrompt(exec *models.Execution, stage models.Stage) string {
	stages := models.PipelineStages()
	var previous models.Stage
	for i, s := range stages {
		if s == stage && i > 0 {
			previous = stages[i-1]
		}
	}

	if previous == "" {
		return fmt.Sprintf("Project %s: extract the requirements from the project intake material.", exec.ProjectID)
	}

	artifact, ok := exec.ArtifactFor(previous)
	if !ok {
		return fmt.Sprintf("Project %s: produce the %s document.", exec.ProjectID, stage)
	}
	return fmt.Sprintf("Project %s: produce the %s document based on the following %s output.\n\n%s",
		exec.ProjectID, stage, previous, artifact.Content)
}

// revisionFeedback returns reviewer notes when the stage is being re-run
// after a rejected validation, otherwise "".
func (p *Pipeline) revisionFeedback(exec *models.Execution, stage models.Stage) string {
	gate := GateAfterStage(stage)
	if gate == "" {
		return ""
	}
	for i := len(exec.ValidationHistory) - 1; i >= 0; i-- {
		rec := exec.ValidationHistory[i]
		if rec.Gate != gate {
			continue
		}
		if rec.Decision == models.DecisionApprove {
			return ""
		}
		return rec.Notes
	}
	return ""
}

// SubmitValidationDecision resolves a pending human gate. The decision names
// the gate it resolves; a decision for any other gate is an invalid
// transition, so a stale approval submitted after the execution moved on
// cannot resolve a gate it was never aimed at. Approve resumes the pipeline
// at the stage after the gate; reject and request_changes rewind so the
// originating stage re-runs with the reviewer's notes as corrective feedback.
// Submitting outside a waiting stage leaves the execution unchanged.
func (p *Pipeline) SubmitValidationDecision(ctx context.Context, executionID, gate string, decision models.ValidationDecision, notes string) (*models.Execution, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("unknown validation decision %q", decision)
	}

	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	waitingGate, waiting := exec.Stage.IsWaitingValidation()
	if !waiting {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: "submit validation decision"}
	}
	if gate != waitingGate {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: fmt.Sprintf("resolve gate %q", gate)}
	}

	originStage, ok := stageForGate(gate)
	if !ok {
		return nil, fmt.Errorf("execution %s: waiting on unknown gate %q", exec.ID, gate)
	}

	exec.ValidationHistory = append(exec.ValidationHistory, models.ValidationRecord{
		Gate:      gate,
		Decision:  decision,
		Notes:     notes,
		DecidedAt: time.Now().UTC(),
	})
	exec.PendingValidation = nil

	switch decision {
	case models.DecisionApprove:
		exec.Stage = originStage
		exec.AppendLog("%s validation approved", gate)
	default:
		// Rewind one checkpoint so the next Advance re-runs the origin stage.
		stages := models.PipelineStages()
		rewound := models.StageWaiting
		for i, s := range stages {
			if s == originStage && i > 0 {
				rewound = stages[i-1]
			}
		}
		exec.Stage = rewound
		exec.Progress = progressForStage(rewound)
		exec.AppendLog("%s validation returned %s, re-running %s", gate, decision, originStage)
	}

	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Resume reopens a failed execution at its last completed checkpoint so the
// next Advance re-runs the stage that failed. Failure is the only state
// Resume applies to; nothing is re-run automatically, the caller queues the
// next advance.
func (p *Pipeline) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Stage != models.StageFailed {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: "resume"}
	}

	// The last completed checkpoint is the newest stage with an artifact.
	checkpoint := models.StageWaiting
	for _, stage := range models.PipelineStages() {
		if _, ok := exec.ArtifactFor(stage); ok {
			checkpoint = stage
		}
	}

	exec.Stage = checkpoint
	exec.Progress = progressForStage(checkpoint)
	exec.PendingValidation = nil
	exec.CompletedAt = nil
	exec.AppendLog("execution resumed from checkpoint %s", checkpoint)

	// All stage artifacts present means the pipeline itself had finished and
	// the failure came later (build, crash recovery). Restore completion.
	if _, more := nextStage(checkpoint); !more && checkpoint != models.StageWaiting {
		exec.Stage = models.StageCompleted
		now := time.Now().UTC()
		exec.CompletedAt = &now
	}

	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Cancel marks a non-terminal execution failed. In-flight agent work is
// stopped cooperatively by cancelling the job context; Cancel itself only
// settles the persisted state.
func (p *Pipeline) Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Stage.IsTerminal() {
		return nil, &InvalidTransitionError{ExecutionID: exec.ID, Stage: exec.Stage, Op: "cancel"}
	}

	exec.Stage = models.StageFailed
	exec.ActiveAgent = ""
	exec.PendingValidation = nil
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if reason == "" {
		reason = "cancelled"
	}
	exec.AppendLog("execution cancelled: %s", reason)

	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}
