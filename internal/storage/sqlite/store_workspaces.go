package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notare/notare/internal/storage"
)

// PutWorkspace inserts or updates a workspace record.
func (s *Store) PutWorkspace(ctx context.Context, workspace storage.Workspace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(workspace.ID) == "" {
		return fmt.Errorf("workspace id is required")
	}
	if strings.TrimSpace(workspace.Name) == "" {
		return fmt.Errorf("workspace name is required")
	}
	if strings.TrimSpace(workspace.OwnerID) == "" {
		return fmt.Errorf("workspace owner is required")
	}

	now := time.Now().UTC()
	if workspace.CreatedAt.IsZero() {
		workspace.CreatedAt = now
	}
	workspace.UpdatedAt = now

	isPublic := 0
	if workspace.IsPublic {
		isPublic = 1
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO workspaces (id, name, description, owner_id, is_public, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	owner_id = excluded.owner_id,
	is_public = excluded.is_public,
	updated_at = excluded.updated_at
`,
		workspace.ID,
		workspace.Name,
		workspace.Description,
		workspace.OwnerID,
		isPublic,
		toMillis(workspace.CreatedAt),
		toMillis(workspace.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put workspace: %w", err)
	}
	return nil
}

// GetWorkspace retrieves a workspace record by ID.
func (s *Store) GetWorkspace(ctx context.Context, id string) (storage.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return storage.Workspace{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Workspace{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.Workspace{}, fmt.Errorf("workspace id is required")
	}

	var workspace storage.Workspace
	var isPublic int
	var createdAt int64
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, description, owner_id, is_public, created_at, updated_at
FROM workspaces
WHERE id = ?
`, id).Scan(
		&workspace.ID,
		&workspace.Name,
		&workspace.Description,
		&workspace.OwnerID,
		&isPublic,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Workspace{}, storage.ErrNotFound
		}
		return storage.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}

	workspace.IsPublic = isPublic != 0
	workspace.CreatedAt = fromMillis(createdAt)
	workspace.UpdatedAt = fromMillis(updatedAt)
	return workspace, nil
}

// DeleteWorkspace removes a workspace row and cascades to its events and
// snapshots in one transaction. The journal and snapshot rows are
// child-owned: they never outlive the workspace.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("workspace id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM workspaces WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete workspace rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if err := deleteWorkspaceEventsTx(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM workspace_snapshots WHERE workspace_id = ?", id); err != nil {
		return fmt.Errorf("delete workspace snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workspace delete: %w", err)
	}
	return nil
}
