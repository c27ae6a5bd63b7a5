package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/notare/notare/internal/storage"
	"github.com/notare/notare/internal/workspace/event"
)

// AppendEvent atomically appends an event and returns it with its
// sequence assigned. Sequences are allocated from a per-workspace counter
// inside the same transaction as the insert, so concurrent appends for
// one workspace can never duplicate or skip a sequence.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.WorkspaceID) == "" {
		return event.Event{}, fmt.Errorf("workspace id is required")
	}
	if !evt.Type.IsValid() {
		return event.Event{}, fmt.Errorf("event type is required")
	}
	if evt.Seq != 0 {
		return event.Event{}, fmt.Errorf("event seq is assigned by storage: %w", storage.ErrConflict)
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
	if evt.ActorType == "" {
		if evt.ActorID != "" {
			evt.ActorType = event.ActorTypeUser
		} else {
			evt.ActorType = event.ActorTypeSystem
		}
	}
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO workspace_event_seq (workspace_id, next_seq)
VALUES (?, 1)
ON CONFLICT (workspace_id) DO NOTHING
`, evt.WorkspaceID); err != nil {
		return event.Event{}, fmt.Errorf("init event seq: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
SELECT next_seq FROM workspace_event_seq WHERE workspace_id = ?
`, evt.WorkspaceID).Scan(&seq); err != nil {
		return event.Event{}, fmt.Errorf("get event seq: %w", err)
	}
	evt.Seq = uint64(seq)

	if _, err := tx.ExecContext(ctx, `
UPDATE workspace_event_seq SET next_seq = next_seq + 1 WHERE workspace_id = ?
`, evt.WorkspaceID); err != nil {
		return event.Event{}, fmt.Errorf("increment event seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO workspace_events (
	workspace_id,
	seq,
	timestamp,
	event_type,
	actor_type,
	actor_id,
	entity_type,
	entity_id,
	payload_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		evt.WorkspaceID,
		int64(evt.Seq),
		toMillis(evt.Timestamp),
		string(evt.Type),
		string(evt.ActorType),
		evt.ActorID,
		evt.EntityType,
		evt.EntityID,
		evt.PayloadJSON,
	); err != nil {
		if isConstraintError(err) {
			return event.Event{}, fmt.Errorf("append event workspace_id=%s seq=%d: %w", evt.WorkspaceID, evt.Seq, storage.ErrConflict)
		}
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit append: %w", err)
	}

	return evt, nil
}

// ListEvents returns up to limit events with seq > afterSeq in ascending
// sequence order.
func (s *Store) ListEvents(ctx context.Context, workspaceID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(workspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	workspace_id,
	seq,
	timestamp,
	event_type,
	actor_type,
	actor_id,
	entity_type,
	entity_id,
	payload_json
FROM workspace_events
WHERE workspace_id = ? AND seq > ?
ORDER BY seq ASC
LIMIT ?
`, workspaceID, int64(afterSeq), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var evt event.Event
		var seq int64
		var timestamp int64
		var eventType string
		var actorType string
		if err := rows.Scan(
			&evt.WorkspaceID,
			&seq,
			&timestamp,
			&eventType,
			&actorType,
			&evt.ActorID,
			&evt.EntityType,
			&evt.EntityID,
			&evt.PayloadJSON,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		evt.Seq = uint64(seq)
		evt.Timestamp = fromMillis(timestamp)
		evt.Type = event.Type(eventType)
		evt.ActorType = event.ActorType(actorType)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}

// DeleteWorkspaceEvents removes every event and the sequence allocator
// row for a workspace.
func (s *Store) DeleteWorkspaceEvents(ctx context.Context, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(workspaceID) == "" {
		return fmt.Errorf("workspace id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteWorkspaceEventsTx(ctx, tx, workspaceID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete events: %w", err)
	}
	return nil
}

// txExecer is the subset of *sql.Tx the cascade helpers need.
type txExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteWorkspaceEventsTx(ctx context.Context, tx txExecer, workspaceID string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM workspace_events WHERE workspace_id = ?", workspaceID); err != nil {
		return fmt.Errorf("delete workspace events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM workspace_event_seq WHERE workspace_id = ?", workspaceID); err != nil {
		return fmt.Errorf("delete workspace event seq: %w", err)
	}
	return nil
}
