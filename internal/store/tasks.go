package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calder/foundry/internal/models"
)

// CreateTasks inserts the task graph for an execution in one transaction.
// Tasks are never deleted afterwards, only marked terminal.
func (s *Store) CreateTasks(ctx context.Context, tasks []models.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task insert: %w", err)
	}
	defer tx.Rollback()

	for i := range tasks {
		task := &tasks[i]
		if err := task.Validate(); err != nil {
			return err
		}
		deps, err := json.Marshal(task.DependsOn)
		if err != nil {
			return fmt.Errorf("marshal dependencies: %w", err)
		}
		var result sql.NullString
		if task.Result != nil {
			raw, err := json.Marshal(task.Result)
			if err != nil {
				return fmt.Errorf("marshal task result: %w", err)
			}
			result = sql.NullString{String: string(raw), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, execution_id, name, description, type, agent, phase,
				depends_on, status, result, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ExecutionID, task.Name, task.Description, string(task.Type),
			task.Agent, string(task.Phase), string(deps), string(task.Status), result,
			formatTime(task.CreatedAt), formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	return tx.Commit()
}

// UpdateTask persists a task's mutable fields.
func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	var result sql.NullString
	if task.Result != nil {
		raw, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("marshal task result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(task.Status), result, formatTimePtr(task.StartedAt),
		formatTimePtr(task.CompletedAt), task.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("update task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

// GetTasksByExecution loads every task of an execution in creation order.
func (s *Store) GetTasksByExecution(ctx context.Context, executionID string) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, name, description, type, agent, phase, depends_on,
			status, result, created_at, started_at, completed_at
		FROM tasks WHERE execution_id = ? ORDER BY created_at, id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", executionID, err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		var taskType, phase, status, deps, createdAt string
		var result, startedAt, completedAt sql.NullString

		err := rows.Scan(&task.ID, &task.ExecutionID, &task.Name, &task.Description,
			&taskType, &task.Agent, &phase, &deps, &status, &result,
			&createdAt, &startedAt, &completedAt)
		if err != nil {
			return nil, err
		}

		task.Type = models.TaskType(taskType)
		task.Phase = models.Phase(phase)
		task.Status = models.TaskStatus(status)
		if err := json.Unmarshal([]byte(deps), &task.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies: %w", err)
		}
		if result.Valid && result.String != "" {
			var tr models.TaskResult
			if err := json.Unmarshal([]byte(result.String), &tr); err != nil {
				return nil, fmt.Errorf("unmarshal task result: %w", err)
			}
			task.Result = &tr
		}
		if task.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if task.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, err
		}
		if task.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// RecordGateResult appends one immutable quality gate check result.
func (s *Store) RecordGateResult(ctx context.Context, result *models.QualityGateResult) error {
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gate_results (id, task_id, gate, expected, actual, passed, findings, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.TaskID, string(result.Gate), result.Expected, result.Actual,
		boolToInt(result.Passed), string(findings), formatTime(result.CheckedAt))
	if err != nil {
		return fmt.Errorf("record gate result: %w", err)
	}
	return nil
}

// ListGateResults returns every gate result for a task in check order.
func (s *Store) ListGateResults(ctx context.Context, taskID string) ([]models.QualityGateResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, gate, expected, actual, passed, findings, checked_at
		FROM gate_results WHERE task_id = ? ORDER BY checked_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list gate results for %s: %w", taskID, err)
	}
	defer rows.Close()

	var results []models.QualityGateResult
	for rows.Next() {
		var r models.QualityGateResult
		var gate, findings, checkedAt string
		var passed int
		if err := rows.Scan(&r.ID, &r.TaskID, &gate, &r.Expected, &r.Actual, &passed, &findings, &checkedAt); err != nil {
			return nil, err
		}
		r.Gate = models.GateType(gate)
		r.Passed = passed != 0
		if err := json.Unmarshal([]byte(findings), &r.Findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings: %w", err)
		}
		if r.CheckedAt, err = parseTime(checkedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordIteration appends one retry attempt row.
func (s *Store) RecordIteration(ctx context.Context, it *models.Iteration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (id, task_id, number, trigger_gate_id, rationale,
			artifact_ref, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.TaskID, it.Number, it.TriggerGateID, it.Rationale,
		it.ArtifactRef, string(it.Status), formatTime(it.StartedAt), formatTimePtr(it.CompletedAt))
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	return nil
}

// UpdateIteration finalizes an iteration's status and artifact reference.
func (s *Store) UpdateIteration(ctx context.Context, it *models.Iteration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE iterations SET status = ?, artifact_ref = ?, completed_at = ? WHERE id = ?`,
		string(it.Status), it.ArtifactRef, formatTimePtr(it.CompletedAt), it.ID)
	if err != nil {
		return fmt.Errorf("update iteration %s: %w", it.ID, err)
	}
	return nil
}

// ListIterations returns every iteration of a task ordered by number.
func (s *Store) ListIterations(ctx context.Context, taskID string) ([]models.Iteration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, number, trigger_gate_id, rationale, artifact_ref,
			status, started_at, completed_at
		FROM iterations WHERE task_id = ? ORDER BY number`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list iterations for %s: %w", taskID, err)
	}
	defer rows.Close()

	var iterations []models.Iteration
	for rows.Next() {
		var it models.Iteration
		var status, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&it.ID, &it.TaskID, &it.Number, &it.TriggerGateID,
			&it.Rationale, &it.ArtifactRef, &status, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		it.Status = models.IterationStatus(status)
		if it.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if it.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		iterations = append(iterations, it)
	}
	return iterations, rows.Err()
}

// SavePhaseRecord upserts the lifecycle record for one phase of a build.
func (s *Store) SavePhaseRecord(ctx context.Context, rec *models.PhaseRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phases (execution_id, phase, status, branch, tag, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, phase) DO UPDATE SET
			status = excluded.status, branch = excluded.branch, tag = excluded.tag,
			error = excluded.error, started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		rec.ExecutionID, string(rec.Phase), string(rec.Status), rec.Branch, rec.Tag,
		rec.Error, formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("save phase record %s/%s: %w", rec.ExecutionID, rec.Phase, err)
	}
	return nil
}

// GetPhaseRecord loads the record for one phase, or nil when the phase has
// not started.
func (s *Store) GetPhaseRecord(ctx context.Context, executionID string, phase models.Phase) (*models.PhaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, phase, status, branch, tag, error, started_at, completed_at
		FROM phases WHERE execution_id = ? AND phase = ?`, executionID, string(phase))

	var rec models.PhaseRecord
	var phaseName, status string
	var startedAt, completedAt sql.NullString
	err := row.Scan(&rec.ExecutionID, &phaseName, &status, &rec.Branch, &rec.Tag,
		&rec.Error, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phase record %s/%s: %w", executionID, phase, err)
	}
	rec.Phase = models.Phase(phaseName)
	rec.Status = models.PhaseStatus(status)
	if rec.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPhaseRecords returns every phase record of an execution.
func (s *Store) ListPhaseRecords(ctx context.Context, executionID string) ([]models.PhaseRecord, error) {
	var records []models.PhaseRecord
	for _, phase := range models.PhaseOrder() {
		rec, err := s.GetPhaseRecord(ctx, executionID, phase)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
