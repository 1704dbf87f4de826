package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calder/foundry/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = sql.ErrNoRows

// CreateExecution inserts a new execution record.
func (s *Store) CreateExecution(ctx context.Context, exec *models.Execution) error {
	if err := exec.Validate(); err != nil {
		return err
	}
	return s.writeExecution(ctx, exec, true)
}

// UpdateExecution persists the full execution record. Every state-machine
// transition calls this before returning, so a crash between "capability
// returned" and "state persisted" is treated as "capability did not happen".
func (s *Store) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	if err := exec.Validate(); err != nil {
		return err
	}
	return s.writeExecution(ctx, exec, false)
}

func (s *Store) writeExecution(ctx context.Context, exec *models.Execution, insert bool) error {
	statuses, err := json.Marshal(exec.AgentStatuses)
	if err != nil {
		return fmt.Errorf("marshal agent statuses: %w", err)
	}
	history, err := json.Marshal(exec.ValidationHistory)
	if err != nil {
		return fmt.Errorf("marshal validation history: %w", err)
	}
	artifacts, err := json.Marshal(exec.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	logLines, err := json.Marshal(exec.Log)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}

	var pending sql.NullString
	if exec.PendingValidation != nil {
		raw, err := json.Marshal(exec.PendingValidation)
		if err != nil {
			return fmt.Errorf("marshal pending validation: %w", err)
		}
		pending = sql.NullString{String: string(raw), Valid: true}
	}

	if insert {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO executions (id, project_id, stage, progress, active_agent,
				agent_statuses, tokens_in, tokens_out, cost_usd, pending_validation,
				validation_history, artifacts, log, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID, exec.ProjectID, string(exec.Stage), exec.Progress, exec.ActiveAgent,
			string(statuses), exec.TokensIn, exec.TokensOut, exec.CostUSD, pending,
			string(history), string(artifacts), string(logLines),
			formatTime(exec.CreatedAt), formatTimePtr(exec.StartedAt), formatTimePtr(exec.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert execution %s: %w", exec.ID, err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET project_id = ?, stage = ?, progress = ?, active_agent = ?,
			agent_statuses = ?, tokens_in = ?, tokens_out = ?, cost_usd = ?,
			pending_validation = ?, validation_history = ?, artifacts = ?, log = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`,
		exec.ProjectID, string(exec.Stage), exec.Progress, exec.ActiveAgent,
		string(statuses), exec.TokensIn, exec.TokensOut, exec.CostUSD,
		pending, string(history), string(artifacts), string(logLines),
		formatTimePtr(exec.StartedAt), formatTimePtr(exec.CompletedAt), exec.ID)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("update execution %s: %w", exec.ID, ErrNotFound)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, stage, progress, active_agent, agent_statuses,
			tokens_in, tokens_out, cost_usd, pending_validation, validation_history,
			artifacts, log, created_at, started_at, completed_at
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutionsByStage returns executions currently in the given stage.
// Used by crash recovery to find executions persisted as running.
func (s *Store) ListExecutionsByStage(ctx context.Context, stages ...models.Stage) ([]*models.Execution, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(stages)*2)
	args := make([]interface{}, 0, len(stages))
	for i, stage := range stages {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, string(stage))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, stage, progress, active_agent, agent_statuses,
			tokens_in, tokens_out, cost_usd, pending_validation, validation_history,
			artifacts, log, created_at, started_at, completed_at
		FROM executions WHERE stage IN (%s) ORDER BY created_at`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("list executions by stage: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CountActiveExecutions returns how many executions of a project are in a
// non-terminal stage.
func (s *Store) CountActiveExecutions(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE project_id = ? AND stage NOT IN (?, ?)`,
		projectID, string(models.StageCompleted), string(models.StageFailed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active executions for %s: %w", projectID, err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var exec models.Execution
	var stage, statuses, history, artifacts, logLines, createdAt string
	var pending, startedAt, completedAt sql.NullString

	err := row.Scan(&exec.ID, &exec.ProjectID, &stage, &exec.Progress, &exec.ActiveAgent,
		&statuses, &exec.TokensIn, &exec.TokensOut, &exec.CostUSD, &pending, &history,
		&artifacts, &logLines, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	exec.Stage = models.Stage(stage)
	if err := json.Unmarshal([]byte(statuses), &exec.AgentStatuses); err != nil {
		return nil, fmt.Errorf("unmarshal agent statuses: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &exec.ValidationHistory); err != nil {
		return nil, fmt.Errorf("unmarshal validation history: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &exec.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if err := json.Unmarshal([]byte(logLines), &exec.Log); err != nil {
		return nil, fmt.Errorf("unmarshal log: %w", err)
	}
	if pending.Valid && pending.String != "" {
		var pv models.PendingValidation
		if err := json.Unmarshal([]byte(pending.String), &pv); err != nil {
			return nil, fmt.Errorf("unmarshal pending validation: %w", err)
		}
		exec.PendingValidation = &pv
	}

	if exec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if exec.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if exec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return &exec, nil
}

// SaveGateConfig upserts the per-project validation gate configuration.
func (s *Store) SaveGateConfig(ctx context.Context, cfg *models.ValidationGateConfig) error {
	gates, err := json.Marshal(cfg.Gates)
	if err != nil {
		return fmt.Errorf("marshal gate config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_gates (project_id, gates) VALUES (?, ?)
		ON CONFLICT(project_id) DO UPDATE SET gates = excluded.gates`,
		cfg.ProjectID, string(gates))
	if err != nil {
		return fmt.Errorf("save gate config for %s: %w", cfg.ProjectID, err)
	}
	return nil
}

// GetGateConfig loads the gate configuration for a project. A project with
// no saved configuration gets an empty config (all gates disabled).
func (s *Store) GetGateConfig(ctx context.Context, projectID string) (*models.ValidationGateConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT gates FROM validation_gates WHERE project_id = ?`, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return &models.ValidationGateConfig{ProjectID: projectID, Gates: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gate config for %s: %w", projectID, err)
	}

	cfg := &models.ValidationGateConfig{ProjectID: projectID}
	if err := json.Unmarshal([]byte(raw), &cfg.Gates); err != nil {
		return nil, fmt.Errorf("unmarshal gate config: %w", err)
	}
	return cfg, nil
}
