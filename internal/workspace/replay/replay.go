// Package replay rebuilds workspace state by folding the event journal,
// starting from the latest snapshot when one exists.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/notare/notare/internal/storage"
	"github.com/notare/notare/internal/workspace/state"
)

// pageSize is the number of events fetched per journal read.
const pageSize = 200

// Loader rebuilds workspace state from snapshots and the event journal.
type Loader struct {
	events    storage.EventStore
	snapshots storage.SnapshotStore

	// SnapshotEvery is the number of events replayed past the starting
	// snapshot before a new snapshot is saved. Zero disables
	// opportunistic snapshotting.
	SnapshotEvery int
}

// NewLoader returns a Loader over the given stores.
func NewLoader(events storage.EventStore, snapshots storage.SnapshotStore, snapshotEvery int) *Loader {
	return &Loader{
		events:        events,
		snapshots:     snapshots,
		SnapshotEvery: snapshotEvery,
	}
}

// Load rebuilds the current state of a workspace. Unknown or malformed
// events are skipped and counted in the returned stats; they never fail
// the load. When enough events were replayed past the starting snapshot,
// a fresh snapshot is saved before returning.
func (l *Loader) Load(ctx context.Context, workspaceID string) (state.WorkspaceState, state.DropStats, error) {
	var stats state.DropStats
	if err := ctx.Err(); err != nil {
		return state.WorkspaceState{}, stats, err
	}
	if l == nil || l.events == nil || l.snapshots == nil {
		return state.WorkspaceState{}, stats, fmt.Errorf("loader is not configured")
	}
	if workspaceID == "" {
		return state.WorkspaceState{}, stats, fmt.Errorf("workspace id is required")
	}

	current := state.NewWorkspaceState(workspaceID)

	snapshot, err := l.snapshots.GetLatestSnapshot(ctx, workspaceID)
	switch {
	case err == nil:
		var restored state.WorkspaceState
		if err := json.Unmarshal(snapshot.StateJSON, &restored); err != nil {
			// A snapshot that does not decode is unusable; fall back to
			// a full replay from the journal start.
			log.Printf("snapshot decode failed, replaying from start: workspace=%s up_to_seq=%d err=%v",
				workspaceID, snapshot.UpToSeq, err)
		} else {
			restored.WorkspaceID = workspaceID
			restored.LastSeq = snapshot.UpToSeq
			if restored.Items == nil {
				restored.Items = make(map[string]state.Item)
			}
			current = restored
		}
	case errors.Is(err, storage.ErrNotFound):
		// No snapshot yet; replay from the journal start.
	default:
		return state.WorkspaceState{}, stats, fmt.Errorf("load snapshot: %w", err)
	}

	startSeq := current.LastSeq
	for {
		if err := ctx.Err(); err != nil {
			return state.WorkspaceState{}, stats, err
		}
		page, err := l.events.ListEvents(ctx, workspaceID, current.LastSeq, pageSize)
		if err != nil {
			return state.WorkspaceState{}, stats, fmt.Errorf("list events: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, evt := range page {
			state.Apply(&current, evt, &stats)
		}
		if len(page) < pageSize {
			break
		}
	}

	for _, drop := range stats.Drops {
		log.Printf("event dropped during replay: workspace=%s seq=%d type=%s reason=%s",
			workspaceID, drop.Seq, drop.Type, drop.Reason)
	}

	l.maybeSnapshot(ctx, current, startSeq)

	return current, stats, nil
}

// maybeSnapshot saves the state as a snapshot when enough events were
// replayed past the starting position. Snapshot failures are logged and
// swallowed; the replayed state is correct regardless.
func (l *Loader) maybeSnapshot(ctx context.Context, current state.WorkspaceState, startSeq uint64) {
	if l.SnapshotEvery <= 0 {
		return
	}
	if current.LastSeq < startSeq || current.LastSeq-startSeq < uint64(l.SnapshotEvery) {
		return
	}

	stateJSON, err := json.Marshal(current)
	if err != nil {
		log.Printf("snapshot encode failed: workspace=%s up_to_seq=%d err=%v",
			current.WorkspaceID, current.LastSeq, err)
		return
	}
	err = l.snapshots.PutSnapshot(ctx, storage.Snapshot{
		WorkspaceID: current.WorkspaceID,
		UpToSeq:     current.LastSeq,
		StateJSON:   stateJSON,
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrStaleSnapshot):
		// Another loader saved a newer snapshot first.
		log.Printf("snapshot superseded: workspace=%s up_to_seq=%d",
			current.WorkspaceID, current.LastSeq)
	default:
		log.Printf("snapshot save failed: workspace=%s up_to_seq=%d err=%v",
			current.WorkspaceID, current.LastSeq, err)
	}
}
