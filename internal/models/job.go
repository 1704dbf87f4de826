package models

import "time"

// JobKind selects the unit of work a background job performs. A job executes
// exactly one unit and exits; it never loops waiting on external validation.
type JobKind string

const (
	// JobAdvance runs one state-machine advance for an execution.
	JobAdvance JobKind = "advance"
	// JobBuild runs one full phased build for an execution.
	JobBuild JobKind = "build"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	// JobAborted marks jobs left over from a previous worker incarnation.
	// They reference possibly-stale state and must not silently resume.
	JobAborted JobStatus = "aborted"
)

// Job is one durable queue entry.
type Job struct {
	ID          string
	ExecutionID string
	Kind        JobKind
	Status      JobStatus
	Note        string
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// InFlight reports whether the job is queued or running.
func (j *Job) InFlight() bool {
	return j.Status == JobQueued || j.Status == JobRunning
}
