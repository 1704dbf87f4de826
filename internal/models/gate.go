package models

import "time"

// GateType identifies an automated quality gate.
type GateType string

const (
	// GateBalancedDelimiters checks that braces, brackets, and parentheses
	// in the artifact are balanced.
	GateBalancedDelimiters GateType = "balanced-delimiters"
	// GateRequiredDeclarations checks that declarations the task promised
	// are present in the artifact.
	GateRequiredDeclarations GateType = "required-declarations"
	// GateNamingConvention checks declaration names against the project
	// naming convention.
	GateNamingConvention GateType = "naming-convention"
	// GateStaticAnalysis runs the external static-analysis capability.
	GateStaticAnalysis GateType = "static-analysis"
)

// Structural reports whether the gate is a cheap deterministic check that
// runs before any external tool is invoked.
func (g GateType) Structural() bool {
	return g != GateStaticAnalysis
}

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Finding is one structured issue reported by a gate check.
type Finding struct {
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
	Severity Severity `json:"severity"`
}

// QualityGateResult records one gate check attempt. Immutable once created.
type QualityGateResult struct {
	ID        string
	TaskID    string
	Gate      GateType
	Expected  string
	Actual    string
	Passed    bool
	Findings  []Finding
	CheckedAt time.Time
}

// IterationStatus is the lifecycle state of a retry attempt.
type IterationStatus string

const (
	IterationRetrying  IterationStatus = "retrying"
	IterationCompleted IterationStatus = "completed"
	IterationFailed    IterationStatus = "failed"
)

// Iteration records one attempt of a task under the quality-gate retry loop.
// Rows are append-only so a failed task can be replayed forensically.
type Iteration struct {
	ID            string
	TaskID        string
	Number        int
	TriggerGateID string
	Rationale     string
	ArtifactRef   string
	Status        IterationStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// DefaultMaxIterations is the system-wide iteration budget per task. It is
// deliberately not configurable per task.
const DefaultMaxIterations = 2
