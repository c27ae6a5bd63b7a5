package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notare/notare/internal/storage"
	"github.com/notare/notare/internal/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run workflow.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(run.Kind) == "" {
		return fmt.Errorf("run kind is required")
	}
	if strings.TrimSpace(run.WorkspaceID) == "" {
		return fmt.Errorf("workspace id is required")
	}
	if run.Status == "" {
		run.Status = workflow.StatusPending
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if len(run.ArgsJSON) == 0 {
		run.ArgsJSON = []byte("{}")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO workflow_runs (
	id, kind, workspace_id, item_id, actor_id, args_json,
	status, current_step, last_error, claimed_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
`,
		run.ID,
		run.Kind,
		run.WorkspaceID,
		run.ItemID,
		run.ActorID,
		string(run.ArgsJSON),
		string(run.Status),
		run.CurrentStep,
		run.LastError,
		toMillis(run.CreatedAt),
		toMillis(run.UpdatedAt),
	); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun returns a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (workflow.Run, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Run{}, err
	}
	if s == nil || s.sqlDB == nil {
		return workflow.Run{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(runID) == "" {
		return workflow.Run{}, fmt.Errorf("run id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, kind, workspace_id, item_id, actor_id, args_json,
	status, current_step, last_error, claimed_at, created_at, updated_at
FROM workflow_runs
WHERE id = ?
`, runID)
	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.Run{}, storage.ErrNotFound
		}
		return workflow.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ClaimDueRuns claims pending runs, and running runs whose claim is older
// than staleBefore, for execution. Claims are written before rows are
// returned so a second runner pass cannot claim the same run.
func (s *Store) ClaimDueRuns(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]workflow.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	now = now.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM workflow_runs
WHERE status = ?
   OR (status = ? AND claimed_at IS NOT NULL AND claimed_at < ?)
ORDER BY created_at ASC
LIMIT ?
`,
		string(workflow.StatusPending),
		string(workflow.StatusRunning),
		toMillis(staleBefore),
		int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select due runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due run id: %w", err)
		}
		ids = append(ids, runID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate due runs: %w", err)
	}
	rows.Close()

	claimed := make([]workflow.Run, 0, len(ids))
	for _, runID := range ids {
		if _, err := tx.ExecContext(ctx, `
UPDATE workflow_runs
SET status = ?, claimed_at = ?, updated_at = ?
WHERE id = ?
`,
			string(workflow.StatusRunning),
			toMillis(now),
			toMillis(now),
			runID,
		); err != nil {
			return nil, fmt.Errorf("claim run %s: %w", runID, err)
		}

		row := tx.QueryRowContext(ctx, `
SELECT id, kind, workspace_id, item_id, actor_id, args_json,
	status, current_step, last_error, claimed_at, created_at, updated_at
FROM workflow_runs
WHERE id = ?
`, runID)
		run, err := scanRun(row.Scan)
		if err != nil {
			return nil, fmt.Errorf("load claimed run %s: %w", runID, err)
		}
		claimed = append(claimed, run)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claims: %w", err)
	}
	return claimed, nil
}

// FinishRun records a run's terminal status.
func (s *Store) FinishRun(ctx context.Context, runID string, status workflow.Status, currentStep, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE workflow_runs
SET status = ?, current_step = ?, last_error = ?, claimed_at = NULL, updated_at = ?
WHERE id = ?
`,
		string(status),
		currentStep,
		lastError,
		toMillis(time.Now().UTC()),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PutStepResult stores a step checkpoint. Re-saving the same (run, step)
// pair keeps the first recorded output.
func (s *Store) PutStepResult(ctx context.Context, result workflow.StepResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(result.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(result.Step) == "" {
		return fmt.Errorf("step name is required")
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	if len(result.OutputJSON) == 0 {
		result.OutputJSON = []byte("{}")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO workflow_steps (run_id, step, output_json, completed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (run_id, step) DO NOTHING
`,
		result.RunID,
		result.Step,
		string(result.OutputJSON),
		toMillis(result.CompletedAt),
	); err != nil {
		return fmt.Errorf("put step result: %w", err)
	}
	return nil
}

// GetStepResults returns completed step outputs keyed by step name.
func (s *Store) GetStepResults(ctx context.Context, runID string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT step, output_json FROM workflow_steps WHERE run_id = ?
`, runID)
	if err != nil {
		return nil, fmt.Errorf("get step results: %w", err)
	}
	defer rows.Close()

	results := make(map[string][]byte)
	for rows.Next() {
		var step string
		var output string
		if err := rows.Scan(&step, &output); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		results[step] = []byte(output)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step results: %w", err)
	}
	return results, nil
}

// RecordAttempt persists one step execution outcome.
func (s *Store) RecordAttempt(ctx context.Context, attempt workflow.Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(attempt.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(attempt.Step) == "" {
		return fmt.Errorf("step name is required")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO workflow_attempts (run_id, step, outcome, attempt, last_error, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		attempt.RunID,
		attempt.Step,
		attempt.Outcome,
		attempt.Attempt,
		attempt.LastError,
		toMillis(attempt.CreatedAt),
	); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (workflow.Run, error) {
	var run workflow.Run
	var argsJSON string
	var status string
	var claimedAt sql.NullInt64
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&run.ID,
		&run.Kind,
		&run.WorkspaceID,
		&run.ItemID,
		&run.ActorID,
		&argsJSON,
		&status,
		&run.CurrentStep,
		&run.LastError,
		&claimedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return workflow.Run{}, err
	}
	run.ArgsJSON = []byte(argsJSON)
	run.Status = workflow.Status(status)
	if claimedAt.Valid {
		ts := fromMillis(claimedAt.Int64)
		run.ClaimedAt = &ts
	}
	run.CreatedAt = fromMillis(createdAt)
	run.UpdatedAt = fromMillis(updatedAt)
	return run, nil
}
