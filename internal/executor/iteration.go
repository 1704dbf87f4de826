package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/calder/foundry/internal/capability"
	"github.com/calder/foundry/internal/gates"
	"github.com/calder/foundry/internal/logger"
	"github.com/calder/foundry/internal/models"
)

// RecordKeeper is the slice of persistence the iteration runner needs. Gate
// results and iteration rows are append-only.
type RecordKeeper interface {
	RecordGateResult(ctx context.Context, result *models.QualityGateResult) error
	RecordIteration(ctx context.Context, it *models.Iteration) error
	UpdateIteration(ctx context.Context, it *models.Iteration) error
}

// Outcome is the final result of running a task under the quality-gate loop.
type Outcome struct {
	Artifact   string
	Iterations int
	TokensIn   int64
	TokensOut  int64
	CostUSD    float64
}

// IterationRunner executes one task's generate-then-check loop. A failed gate
// feeds its findings back into the next generation attempt; the budget
// defaults to models.DefaultMaxIterations and exhausting it fails the task.
type IterationRunner struct {
	generator     capability.TextGenerator
	evaluator     *gates.Evaluator
	records       RecordKeeper
	log           logger.Logger
	maxIterations int
}

// NewIterationRunner creates a runner with the system-wide iteration budget.
func NewIterationRunner(generator capability.TextGenerator, evaluator *gates.Evaluator, records RecordKeeper, log logger.Logger) *IterationRunner {
	if log == nil {
		log = logger.Nop{}
	}
	return &IterationRunner{
		generator:     generator,
		evaluator:     evaluator,
		records:       records,
		log:           log,
		maxIterations: models.DefaultMaxIterations,
	}
}

// SetMaxIterations overrides the per-task iteration budget. Values below one
// are ignored.
func (r *IterationRunner) SetMaxIterations(n int) {
	if n > 0 {
		r.maxIterations = n
	}
}

// RunWithQualityGate generates the task's artifact and checks it against the
// gate definitions, retrying with corrective feedback until the gates pass or
// the iteration budget runs out. Every attempt and every gate check is
// persisted before the next generation call is made.
func (r *IterationRunner) RunWithQualityGate(ctx context.Context, task models.Task, prompt string, defs []gates.Definition) (*Outcome, error) {
	agent, err := capability.AgentForTaskType(task.Type)
	if err != nil {
		return nil, NewTaskError(task.ID, "resolve agent", err)
	}

	outcome := &Outcome{}
	feedback := ""
	triggerGateID := ""
	lastFailedGate := ""

	for attempt := 1; attempt <= r.maxIterations; attempt++ {
		iteration := &models.Iteration{
			ID:            uuid.NewString(),
			TaskID:        task.ID,
			Number:        attempt,
			TriggerGateID: triggerGateID,
			Rationale:     feedback,
			Status:        models.IterationRetrying,
			StartedAt:     time.Now().UTC(),
		}
		if err := r.records.RecordIteration(ctx, iteration); err != nil {
			return nil, NewTaskError(task.ID, "record iteration", err)
		}

		r.log.Debugf("task %s: iteration %d/%d (agent %s)", task.ID, attempt, r.maxIterations, agent)

		genResult, err := r.generator.Generate(ctx, capability.GenerateRequest{
			Prompt:   prompt,
			Agent:    agent,
			Feedback: feedback,
		})
		if err != nil {
			r.finishIteration(ctx, iteration, models.IterationFailed, "")
			return nil, NewTaskError(task.ID, "generate artifact", err)
		}

		outcome.Iterations = attempt
		outcome.TokensIn += genResult.TokensIn
		outcome.TokensOut += genResult.TokensOut
		outcome.CostUSD += genResult.CostUSD

		gateResults, err := r.evaluator.Evaluate(ctx, genResult.Text, defs)
		if err != nil {
			r.finishIteration(ctx, iteration, models.IterationFailed, "")
			return nil, NewTaskError(task.ID, "evaluate quality gates", err)
		}

		triggerGateID = ""
		for _, gr := range gateResults {
			record := &models.QualityGateResult{
				ID:        uuid.NewString(),
				TaskID:    task.ID,
				Gate:      gr.Gate,
				Expected:  gr.Expected,
				Actual:    gr.Actual,
				Passed:    gr.Passed,
				Findings:  gr.Findings,
				CheckedAt: time.Now().UTC(),
			}
			if err := r.records.RecordGateResult(ctx, record); err != nil {
				return nil, NewTaskError(task.ID, "record gate result", err)
			}
			if !gr.Passed && triggerGateID == "" {
				triggerGateID = record.ID
				lastFailedGate = string(gr.Gate)
			}
		}

		if gates.AllPassed(gateResults) {
			outcome.Artifact = genResult.Text
			r.finishIteration(ctx, iteration, models.IterationCompleted, task.ID)
			r.log.Infof("task %s: quality gates passed on iteration %d", task.ID, attempt)
			return outcome, nil
		}

		feedback = gates.FeedbackFrom(gateResults)
		r.finishIteration(ctx, iteration, models.IterationFailed, "")
		r.log.Warnf("task %s: quality gates failed on iteration %d", task.ID, attempt)
	}

	return outcome, &IterationBudgetError{
		TaskID:   task.ID,
		Budget:   r.maxIterations,
		LastGate: lastFailedGate,
	}
}

func (r *IterationRunner) finishIteration(ctx context.Context, it *models.Iteration, status models.IterationStatus, artifactRef string) {
	now := time.Now().UTC()
	it.Status = status
	it.ArtifactRef = artifactRef
	it.CompletedAt = &now
	if err := r.records.UpdateIteration(ctx, it); err != nil {
		r.log.Errorf("task %s: persist iteration %d: %v", it.TaskID, it.Number, err)
	}
}
