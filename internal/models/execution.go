// Package models defines the persistent domain records shared across the
// orchestration engine: executions, tasks, quality gate results, iterations,
// and background jobs.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies a pipeline stage of an execution.
type Stage string

const (
	StageWaiting    Stage = "waiting"
	StageExtraction Stage = "extraction"
	StageAnalysis   Stage = "analysis"
	StageDesign     Stage = "design"
	StageSynthesis  Stage = "synthesis"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// PipelineStages returns the generation stages in execution order.
// Terminal and waiting states are not part of the sequence.
func PipelineStages() []Stage {
	return []Stage{StageExtraction, StageAnalysis, StageDesign, StageSynthesis}
}

// ValidationGatePrefix prefixes the stage name while an execution is paused
// on a human validation gate, e.g. "waiting_validation_architecture".
const ValidationGatePrefix = "waiting_validation_"

// WaitingValidationStage builds the paused-stage name for a gate.
func WaitingValidationStage(gate string) Stage {
	return Stage(ValidationGatePrefix + gate)
}

// IsWaitingValidation reports whether the stage is a validation pause, and if
// so returns the gate name.
func (s Stage) IsWaitingValidation() (string, bool) {
	if strings.HasPrefix(string(s), ValidationGatePrefix) {
		return strings.TrimPrefix(string(s), ValidationGatePrefix), true
	}
	return "", false
}

// IsTerminal reports whether the stage is completed or failed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// AgentState describes the lifecycle of one agent within an execution.
type AgentState string

const (
	AgentWaiting   AgentState = "waiting"
	AgentRunning   AgentState = "running"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// AgentStatus is the typed per-agent progress record. It is marshalled once
// at the persistence boundary; business logic never sees raw JSON.
type AgentStatus struct {
	State    AgentState `json:"state"`
	Progress int        `json:"progress"`
	Message  string     `json:"message,omitempty"`
}

// ValidationDecision is an external reviewer's verdict on a gate.
type ValidationDecision string

const (
	DecisionApprove        ValidationDecision = "approve"
	DecisionReject         ValidationDecision = "reject"
	DecisionRequestChanges ValidationDecision = "request_changes"
)

// Valid reports whether the decision is one of the known verdicts.
func (d ValidationDecision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRequestChanges:
		return true
	}
	return false
}

// PendingValidation records an unresolved human checkpoint.
type PendingValidation struct {
	Gate        string    `json:"gate"`
	Payload     string    `json:"payload,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ValidationRecord is one entry in the append-only validation history.
type ValidationRecord struct {
	Gate      string             `json:"gate"`
	Decision  ValidationDecision `json:"decision"`
	Notes     string             `json:"notes,omitempty"`
	DecidedAt time.Time          `json:"decided_at"`
}

// StageArtifact is the output document a stage produced, kept so later
// stages and validation reviewers can reference it.
type StageArtifact struct {
	Stage      Stage     `json:"stage"`
	Content    string    `json:"content"`
	ProducedAt time.Time `json:"produced_at"`
}

// Execution is one end-to-end generation run for a project.
type Execution struct {
	ID        string
	ProjectID string

	Stage       Stage
	Progress    int
	ActiveAgent string

	AgentStatuses     map[string]AgentStatus
	TokensIn          int64
	TokensOut         int64
	CostUSD           float64
	PendingValidation *PendingValidation
	ValidationHistory []ValidationRecord
	Artifacts         []StageArtifact
	Log               []string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Validate checks the execution has the required identity fields.
func (e *Execution) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	if e.ProjectID == "" {
		return fmt.Errorf("execution project id is required")
	}
	return nil
}

// ArtifactFor returns the most recent artifact produced by the given stage.
func (e *Execution) ArtifactFor(stage Stage) (StageArtifact, bool) {
	for i := len(e.Artifacts) - 1; i >= 0; i-- {
		if e.Artifacts[i].Stage == stage {
			return e.Artifacts[i], true
		}
	}
	return StageArtifact{}, false
}

// AppendLog adds a timestamped line to the execution log buffer.
func (e *Execution) AppendLog(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	e.Log = append(e.Log, line)
}

// ValidationGateConfig holds the per-project set of named human gates.
// A gate that is absent from the map is treated as disabled.
type ValidationGateConfig struct {
	ProjectID string
	Gates     map[string]bool
}

// Enabled reports whether the named gate is switched on for the project.
func (c *ValidationGateConfig) Enabled(gate string) bool {
	if c == nil {
		return false
	}
	return c.Gates[gate]
}
