package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notare/notare/internal/storage"
)

// PutSnapshot stores a snapshot. A save at the current latest position
// with equal state is a no-op; a save below the latest position fails
// with ErrStaleSnapshot and leaves the newer snapshot untouched.
func (s *Store) PutSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snapshot.WorkspaceID) == "" {
		return fmt.Errorf("workspace id is required")
	}
	if snapshot.UpToSeq == 0 {
		return fmt.Errorf("snapshot position is required")
	}
	if len(snapshot.StateJSON) == 0 {
		return fmt.Errorf("snapshot state is required")
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var latestSeq int64
	var latestState []byte
	err = tx.QueryRowContext(ctx, `
SELECT up_to_seq, state_json
FROM workspace_snapshots
WHERE workspace_id = ?
ORDER BY up_to_seq DESC
LIMIT 1
`, snapshot.WorkspaceID).Scan(&latestSeq, &latestState)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First snapshot for this workspace.
	case err != nil:
		return fmt.Errorf("load latest snapshot: %w", err)
	case uint64(latestSeq) > snapshot.UpToSeq:
		return fmt.Errorf("snapshot at seq %d behind latest %d: %w", snapshot.UpToSeq, latestSeq, storage.ErrStaleSnapshot)
	case uint64(latestSeq) == snapshot.UpToSeq:
		if bytes.Equal(latestState, snapshot.StateJSON) {
			return nil
		}
		// Same position, different bytes: the snapshot is a pure function
		// of the event prefix, so this indicates a reducer bug upstream.
		return fmt.Errorf("snapshot at seq %d diverges from stored state: %w", snapshot.UpToSeq, storage.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO workspace_snapshots (workspace_id, up_to_seq, state_json, created_at)
VALUES (?, ?, ?, ?)
`,
		snapshot.WorkspaceID,
		int64(snapshot.UpToSeq),
		snapshot.StateJSON,
		toMillis(snapshot.CreatedAt),
	); err != nil {
		if isConstraintError(err) {
			// Lost a race with an identical save; the invariant above
			// makes both writers equivalent.
			return nil
		}
		return fmt.Errorf("put snapshot: %w", err)
	}

	// Older checkpoints are superseded; keep only the newest row.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM workspace_snapshots WHERE workspace_id = ? AND up_to_seq < ?
`, snapshot.WorkspaceID, int64(snapshot.UpToSeq)); err != nil {
		return fmt.Errorf("prune superseded snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot retrieves the most recent snapshot for a workspace.
func (s *Store) GetLatestSnapshot(ctx context.Context, workspaceID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(workspaceID) == "" {
		return storage.Snapshot{}, fmt.Errorf("workspace id is required")
	}

	var snapshot storage.Snapshot
	var upToSeq int64
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT workspace_id, up_to_seq, state_json, created_at
FROM workspace_snapshots
WHERE workspace_id = ?
ORDER BY up_to_seq DESC
LIMIT 1
`, workspaceID).Scan(&snapshot.WorkspaceID, &upToSeq, &snapshot.StateJSON, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}

	snapshot.UpToSeq = uint64(upToSeq)
	snapshot.CreatedAt = fromMillis(createdAt)
	return snapshot, nil
}

// DeleteWorkspaceSnapshots removes every snapshot for a workspace.
func (s *Store) DeleteWorkspaceSnapshots(ctx context.Context, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(workspaceID) == "" {
		return fmt.Errorf("workspace id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM workspace_snapshots WHERE workspace_id = ?", workspaceID); err != nil {
		return fmt.Errorf("delete workspace snapshots: %w", err)
	}
	return nil
}
