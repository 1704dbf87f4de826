package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calder/foundry/internal/models"
)

// ErrJobInFlight is returned by EnqueueJob when the execution's project
// already has a queued or running job. One in-flight job per project keeps
// concurrent executions from racing over the same workspace.
var ErrJobInFlight = fmt.Errorf("project already has a job in flight")

// EnqueueJob adds a job to the durable queue. The in-flight uniqueness check
// is project-scoped and runs in one transaction with the insert, so two
// concurrent enqueues cannot both succeed.
func (s *Store) EnqueueJob(ctx context.Context, job *models.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	var projectID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT project_id FROM executions WHERE id = ?`, job.ExecutionID).Scan(&projectID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("resolve project for %s: %w", job.ExecutionID, err)
	}

	var count int
	if projectID.Valid {
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM jobs
			JOIN executions ON executions.id = jobs.execution_id
			WHERE executions.project_id = ? AND jobs.status IN ('queued', 'running')`,
			projectID.String).Scan(&count)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM jobs
			WHERE execution_id = ? AND status IN ('queued', 'running')`,
			job.ExecutionID).Scan(&count)
	}
	if err != nil {
		return fmt.Errorf("check in-flight jobs: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("execution %s: %w", job.ExecutionID, ErrJobInFlight)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, execution_id, kind, status, note, enqueued_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ExecutionID, string(job.Kind), string(models.JobQueued), job.Note,
		formatTime(job.EnqueuedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	job.Status = models.JobQueued

	return tx.Commit()
}

// ClaimNextJob atomically moves the oldest queued job to running and returns
// it. Returns nil when the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, execution_id, kind, status, note, enqueued_at, started_at, finished_at
		FROM jobs WHERE status = 'queued' ORDER BY enqueued_at, id LIMIT 1`)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'queued'`,
		formatTime(now), job.ID)
	if err != nil {
		return nil, fmt.Errorf("mark job %s running: %w", job.ID, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		// Raced with another worker in the same process.
		return nil, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	job.Status = models.JobRunning
	job.StartedAt = &now
	return job, nil
}

// FinishJob records a terminal status and note for a claimed job.
func (s *Store) FinishJob(ctx context.Context, jobID string, status models.JobStatus, note string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, note = ?, finished_at = ? WHERE id = ?`,
		string(status), note, formatTime(now), jobID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("finish job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// AbortStaleJobs marks every queued or running job as aborted. Called once
// at worker startup before any dispatch, so jobs from a crashed incarnation
// never silently resume against stale state.
func (s *Store) AbortStaleJobs(ctx context.Context, note string) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, note = ?, finished_at = ?
		WHERE status IN ('queued', 'running')`,
		string(models.JobAborted), note, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("abort stale jobs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(rows), nil
}

// HasInFlightJob reports whether the execution has a queued or running job.
func (s *Store) HasInFlightJob(ctx context.Context, executionID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE execution_id = ? AND status IN ('queued', 'running')`,
		executionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check in-flight jobs for %s: %w", executionID, err)
	}
	return count > 0, nil
}

// ListInFlightJobs returns every queued or running job, oldest first.
// Used by worker startup recovery to inspect leftovers before aborting them.
func (s *Store) ListInFlightJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, kind, status, note, enqueued_at, started_at, finished_at
		FROM jobs WHERE status IN ('queued', 'running') ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list in-flight jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, kind, status, note, enqueued_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobsByExecution returns every job touching an execution, oldest first.
func (s *Store) ListJobsByExecution(ctx context.Context, executionID string) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, kind, status, note, enqueued_at, started_at, finished_at
		FROM jobs WHERE execution_id = ? ORDER BY enqueued_at, id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", executionID, err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var kind, status, enqueuedAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(&job.ID, &job.ExecutionID, &kind, &status, &job.Note,
		&enqueuedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	if job.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &job, nil
}
