package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/calder/foundry/internal/capability"
	"github.com/calder/foundry/internal/models"
	"github.com/calder/foundry/internal/store"
)

// echoGenerator returns a canned document per call and records what each
// call asked for.
type echoGenerator struct {
	mu        sync.Mutex
	calls     int
	agents    []capability.AgentType
	feedbacks []string
	failNext  bool
}

func (g *echoGenerator) Generate(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext {
		g.failNext = false
		return nil, context.DeadlineExceeded
	}
	g.calls++
	g.agents = append(g.agents, req.Agent)
	g.feedbacks = append(g.feedbacks, req.Feedback)
	return &capability.GenerateResult{
		Text:      "# Document " + string(req.Agent),
		TokensIn:  100,
		TokensOut: 300,
		CostUSD:   0.05,
	}, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *echoGenerator) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	gen := &echoGenerator{}
	return New(s, gen, nil), s, gen
}

func TestFullPipelineWithoutGates(t *testing.T) {
	p, _, gen := newTestPipeline(t)
	ctx := context.Background()

	exec, err := p.StartExecution(ctx, "proj-1")
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}
	if exec.Stage != models.StageWaiting {
		t.Fatalf("initial stage = %q", exec.Stage)
	}

	wantStages := []models.Stage{
		models.StageExtraction,
		models.StageAnalysis,
		models.StageDesign,
		models.StageCompleted,
	}
	for i, want := range wantStages {
		exec, err = p.Advance(ctx, exec.ID)
		if err != nil {
			t.Fatalf("Advance %d error: %v", i+1, err)
		}
		if exec.Stage != want {
			t.Fatalf("after advance %d: stage = %q, want %q", i+1, exec.Stage, want)
		}
		if exec.PendingValidation != nil {
			t.Errorf("pending validation set with no gates enabled")
		}
	}

	if gen.calls != 4 {
		t.Errorf("generator calls = %d, want 4", gen.calls)
	}
	if exec.TokensIn != 400 || exec.TokensOut != 1200 {
		t.Errorf("usage = %d/%d, want 400/1200", exec.TokensIn, exec.TokensOut)
	}
	if len(exec.Artifacts) != 4 {
		t.Errorf("artifacts = %d, want one per stage", len(exec.Artifacts))
	}
	if exec.CompletedAt == nil {
		t.Error("completed execution missing CompletedAt")
	}
}

func TestAdvancePausesOnEnabledGate(t *testing.T) {
	p, s, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	cfg := &models.ValidationGateConfig{
		ProjectID: "proj-1",
		Gates:     map[string]bool{"business-requirements": true},
	}
	if err := s.SaveGateConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveGateConfig error: %v", err)
	}

	exec, _ = p.Advance(ctx, exec.ID) // extraction
	exec, err := p.Advance(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Advance error: %v", err)
	}

	want := models.WaitingValidationStage("business-requirements")
	if exec.Stage != want {
		t.Fatalf("stage = %q, want %q", exec.Stage, want)
	}
	if exec.PendingValidation == nil || exec.PendingValidation.Gate != "business-requirements" {
		t.Fatalf("pending validation = %+v", exec.PendingValidation)
	}
	if exec.PendingValidation.Payload == "" {
		t.Error("pending validation missing artifact payload")
	}

	// Advancing past an unresolved gate is an invalid transition and must not
	// change persisted state.
	_, err = p.Advance(ctx, exec.ID)
	if !IsInvalidTransition(err) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	reloaded, _ := s.GetExecution(ctx, exec.ID)
	if reloaded.Stage != want || reloaded.PendingValidation == nil {
		t.Errorf("invalid advance mutated state: %+v", reloaded.Stage)
	}
}

func TestApproveResumesAfterGate(t *testing.T) {
	p, s, gen := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	s.SaveGateConfig(ctx, &models.ValidationGateConfig{
		ProjectID: "proj-1",
		Gates:     map[string]bool{"business-requirements": true},
	})

	exec, _ = p.Advance(ctx, exec.ID)
	exec, _ = p.Advance(ctx, exec.ID)

	exec, err := p.SubmitValidationDecision(ctx, exec.ID, "business-requirements", models.DecisionApprove, "looks right")
	if err != nil {
		t.Fatalf("SubmitValidationDecision error: %v", err)
	}
	if exec.Stage != models.StageAnalysis {
		t.Fatalf("stage after approve = %q, want analysis", exec.Stage)
	}
	if exec.PendingValidation != nil {
		t.Error("pending validation not cleared")
	}
	if len(exec.ValidationHistory) != 1 || exec.ValidationHistory[0].Decision != models.DecisionApprove {
		t.Errorf("validation history = %+v", exec.ValidationHistory)
	}

	exec, err = p.Advance(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Advance after approve error: %v", err)
	}
	if exec.Stage != models.StageDesign {
		t.Errorf("stage = %q, want design", exec.Stage)
	}
	// The resumed design run carries no corrective feedback.
	if gen.feedbacks[len(gen.feedbacks)-1] != "" {
		t.Errorf("approved resume carried feedback %q", gen.feedbacks[len(gen.feedbacks)-1])
	}
}

func TestRejectRerunsOriginStageWithNotes(t *testing.T) {
	p, s, gen := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	s.SaveGateConfig(ctx, &models.ValidationGateConfig{
		ProjectID: "proj-1",
		Gates:     map[string]bool{"business-requirements": true},
	})

	exec, _ = p.Advance(ctx, exec.ID)
	exec, _ = p.Advance(ctx, exec.ID)

	exec, err := p.SubmitValidationDecision(ctx, exec.ID, "business-requirements", models.DecisionRequestChanges, "missing billing requirements")
	if err != nil {
		t.Fatalf("SubmitValidationDecision error: %v", err)
	}
	if exec.Stage != models.StageExtraction {
		t.Fatalf("stage after request_changes = %q, want extraction checkpoint", exec.Stage)
	}

	exec, err = p.Advance(ctx, exec.ID)
	if err != nil {
		t.Fatalf("re-run Advance error: %v", err)
	}
	last := gen.feedbacks[len(gen.feedbacks)-1]
	if !strings.Contains(last, "missing billing requirements") {
		t.Errorf("re-run feedback = %q, want reviewer notes", last)
	}
	// The re-run pauses on the still-enabled gate again.
	if exec.Stage != models.WaitingValidationStage("business-requirements") {
		t.Errorf("stage = %q, want waiting on gate again", exec.Stage)
	}
}

func TestSubmitDecisionOutsideWaitingStage(t *testing.T) {
	p, s, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	_, err := p.SubmitValidationDecision(ctx, exec.ID, "business-requirements", models.DecisionApprove, "")
	if !IsInvalidTransition(err) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	reloaded, _ := s.GetExecution(ctx, exec.ID)
	if reloaded.Stage != models.StageWaiting || len(reloaded.ValidationHistory) != 0 {
		t.Errorf("invalid decision mutated state: %+v", reloaded)
	}

	_, err = p.SubmitValidationDecision(ctx, exec.ID, "business-requirements", "maybe", "")
	if err == nil || !strings.Contains(err.Error(), "unknown validation decision") {
		t.Errorf("error = %v, want unknown decision", err)
	}
}

func TestSubmitDecisionForWrongGate(t *testing.T) {
	p, s, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	s.SaveGateConfig(ctx, &models.ValidationGateConfig{
		ProjectID: "proj-1",
		Gates:     map[string]bool{"business-requirements": true},
	})

	exec, _ = p.Advance(ctx, exec.ID)
	exec, _ = p.Advance(ctx, exec.ID)
	want := models.WaitingValidationStage("business-requirements")
	if exec.Stage != want {
		t.Fatalf("stage = %q, want %q", exec.Stage, want)
	}

	// An approval aimed at a different gate must not resolve this one.
	_, err := p.SubmitValidationDecision(ctx, exec.ID, "architecture", models.DecisionApprove, "")
	if !IsInvalidTransition(err) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	reloaded, _ := s.GetExecution(ctx, exec.ID)
	if reloaded.Stage != want || reloaded.PendingValidation == nil || len(reloaded.ValidationHistory) != 0 {
		t.Errorf("wrong-gate decision mutated state: stage=%q history=%v", reloaded.Stage, reloaded.ValidationHistory)
	}

	exec, err = p.SubmitValidationDecision(ctx, exec.ID, "business-requirements", models.DecisionApprove, "")
	if err != nil {
		t.Fatalf("matching gate decision error: %v", err)
	}
	if exec.Stage != models.StageAnalysis {
		t.Errorf("stage after approve = %q, want analysis", exec.Stage)
	}
}

func TestStartExecutionOnePerProject(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, err := p.StartExecution(ctx, "proj-1")
	if err != nil {
		t.Fatalf("StartExecution error: %v", err)
	}

	if _, err := p.StartExecution(ctx, "proj-1"); err == nil ||
		!strings.Contains(err.Error(), "active execution") {
		t.Errorf("second start for same project: error = %v", err)
	}
	if _, err := p.StartExecution(ctx, "proj-2"); err != nil {
		t.Errorf("start for other project error: %v", err)
	}

	// Once the first run reaches a terminal stage the project is free again.
	if _, err := p.Cancel(ctx, exec.ID, "abandoned"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if _, err := p.StartExecution(ctx, "proj-1"); err != nil {
		t.Errorf("start after terminal execution error: %v", err)
	}
}

func TestStageFailureMarksExecutionFailed(t *testing.T) {
	p, s, gen := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	gen.failNext = true
	_, err := p.Advance(ctx, exec.ID)
	if err == nil {
		t.Fatal("expected stage failure")
	}

	reloaded, _ := s.GetExecution(ctx, exec.ID)
	if reloaded.Stage != models.StageFailed {
		t.Errorf("stage = %q, want failed", reloaded.Stage)
	}
	if reloaded.CompletedAt == nil {
		t.Error("failed execution missing CompletedAt")
	}
}

func TestResumeRerunsFailedStage(t *testing.T) {
	p, _, gen := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	exec, _ = p.Advance(ctx, exec.ID) // extraction checkpoint
	gen.failNext = true
	if _, err := p.Advance(ctx, exec.ID); err == nil {
		t.Fatal("expected analysis failure")
	}

	exec, err := p.Resume(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if exec.Stage != models.StageExtraction {
		t.Fatalf("resumed stage = %q, want extraction checkpoint", exec.Stage)
	}
	if exec.CompletedAt != nil {
		t.Error("resumed execution still carries CompletedAt")
	}

	exec, err = p.Advance(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Advance after resume error: %v", err)
	}
	if exec.Stage != models.StageAnalysis {
		t.Errorf("stage = %q, want analysis", exec.Stage)
	}

	// Resume only applies to failed executions.
	if _, err := p.Resume(ctx, exec.ID); !IsInvalidTransition(err) {
		t.Errorf("resuming non-failed execution: error = %v, want InvalidTransitionError", err)
	}
}

func TestResumeRestoresCompletedPipeline(t *testing.T) {
	p, s, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	for i := 0; i < 4; i++ {
		exec, _ = p.Advance(ctx, exec.ID)
	}
	if exec.Stage != models.StageCompleted {
		t.Fatalf("stage = %q, want completed", exec.Stage)
	}

	// A later failure (crash recovery, failed build job) force-fails the
	// execution even though every stage artifact exists.
	exec.Stage = models.StageFailed
	if err := s.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution error: %v", err)
	}

	resumed, err := p.Resume(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if resumed.Stage != models.StageCompleted {
		t.Errorf("stage = %q, want completed restored", resumed.Stage)
	}
	if resumed.CompletedAt == nil {
		t.Error("restored completion missing CompletedAt")
	}
}

func TestCancel(t *testing.T) {
	p, s, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	exec, _ = p.Advance(ctx, exec.ID)

	exec, err := p.Cancel(ctx, exec.ID, "operator abort")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if exec.Stage != models.StageFailed {
		t.Errorf("stage = %q, want failed", exec.Stage)
	}

	_, err = p.Cancel(ctx, exec.ID, "")
	if !IsInvalidTransition(err) {
		t.Errorf("cancelling terminal execution: error = %v, want InvalidTransitionError", err)
	}

	reloaded, _ := s.GetExecution(ctx, exec.ID)
	if reloaded.Stage != models.StageFailed {
		t.Errorf("terminal cancel mutated state: %q", reloaded.Stage)
	}
}

func TestAdvanceTerminalExecution(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	exec, _ := p.StartExecution(ctx, "proj-1")
	for i := 0; i < 4; i++ {
		exec, _ = p.Advance(ctx, exec.ID)
	}
	if exec.Stage != models.StageCompleted {
		t.Fatalf("stage = %q, want completed", exec.Stage)
	}

	_, err := p.Advance(ctx, exec.ID)
	if !IsInvalidTransition(err) {
		t.Errorf("advancing completed execution: error = %v, want InvalidTransitionError", err)
	}
}
