// Package storage defines the persistence contracts for the workspace
// state engine: the append-only event journal, the snapshot store, and
// the workspace records that own both.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/notare/notare/internal/workspace/event"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a sequence assignment collision in the event
// journal. Sequences are assigned by the store, so this is an internal
// invariant violation, not a client-facing race.
var ErrConflict = errors.New("event sequence conflict")

// ErrStaleSnapshot indicates an attempt to save a snapshot at a lower
// position than the current latest. The newer snapshot is kept.
var ErrStaleSnapshot = errors.New("stale snapshot")

// Workspace is the owning record for an event journal and its snapshots.
// Deleting a workspace cascades to both.
type Workspace struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	IsPublic    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot is a materialized fold of the event prefix [1..UpToSeq].
// Two snapshots at the same position must be semantically equal, so the
// store treats an equal re-save as a no-op.
type Snapshot struct {
	WorkspaceID string
	UpToSeq     uint64
	StateJSON   []byte
	CreatedAt   time.Time
}

// EventStore persists the per-workspace event journal.
type EventStore interface {
	// AppendEvent assigns the next sequence for the event's workspace and
	// persists the event atomically. The stored event is returned with
	// Seq and Timestamp set.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	// ListEvents returns up to limit events with seq > afterSeq in
	// ascending sequence order.
	ListEvents(ctx context.Context, workspaceID string, afterSeq uint64, limit int) ([]event.Event, error)
	// DeleteWorkspaceEvents removes every event for a workspace.
	DeleteWorkspaceEvents(ctx context.Context, workspaceID string) error
}

// SnapshotStore persists workspace state checkpoints.
type SnapshotStore interface {
	// PutSnapshot stores a snapshot. Saving at a position lower than the
	// current latest fails with ErrStaleSnapshot; re-saving at the same
	// position is a no-op.
	PutSnapshot(ctx context.Context, snapshot Snapshot) error
	// GetLatestSnapshot returns the snapshot with the highest UpToSeq,
	// or ErrNotFound when none exists.
	GetLatestSnapshot(ctx context.Context, workspaceID string) (Snapshot, error)
	// DeleteWorkspaceSnapshots removes every snapshot for a workspace.
	DeleteWorkspaceSnapshots(ctx context.Context, workspaceID string) error
}

// WorkspaceStore persists workspace records.
type WorkspaceStore interface {
	PutWorkspace(ctx context.Context, workspace Workspace) error
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
	// DeleteWorkspace removes the workspace row and cascades to its
	// events and snapshots in one transaction.
	DeleteWorkspace(ctx context.Context, id string) error
}

// Store aggregates the persistence surfaces backed by one database.
type Store interface {
	EventStore
	SnapshotStore
	WorkspaceStore
}
