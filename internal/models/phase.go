package models

import "time"

// PhaseStatus is the lifecycle state of one build phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// PhaseRecord tracks the branch/merge lifecycle of one phase within a build.
// DeployPhase idempotency rests on this record: a phase already marked
// completed returns its prior outcome without touching any adapter.
type PhaseRecord struct {
	ExecutionID string
	Phase       Phase
	Status      PhaseStatus
	Branch      string
	Tag         string
	Error       string

	StartedAt   *time.Time
	CompletedAt *time.Time
}
