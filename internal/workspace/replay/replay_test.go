package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/notare/notare/internal/storage"
	"github.com/notare/notare/internal/workspace/event"
	"github.com/notare/notare/internal/workspace/state"
)

type fakeStore struct {
	events    map[string][]event.Event
	snapshots map[string]storage.Snapshot
	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:    make(map[string][]event.Event),
		snapshots: make(map[string]storage.Snapshot),
	}
}

func (f *fakeStore) AppendEvent(_ context.Context, evt event.Event) (event.Event, error) {
	evt.Seq = uint64(len(f.events[evt.WorkspaceID]) + 1)
	f.events[evt.WorkspaceID] = append(f.events[evt.WorkspaceID], evt)
	return evt, nil
}

func (f *fakeStore) ListEvents(_ context.Context, workspaceID string, afterSeq uint64, limit int) ([]event.Event, error) {
	f.listCalls++
	var page []event.Event
	for _, evt := range f.events[workspaceID] {
		if evt.Seq <= afterSeq {
			continue
		}
		page = append(page, evt)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeStore) DeleteWorkspaceEvents(_ context.Context, workspaceID string) error {
	delete(f.events, workspaceID)
	return nil
}

func (f *fakeStore) PutSnapshot(_ context.Context, snapshot storage.Snapshot) error {
	if existing, ok := f.snapshots[snapshot.WorkspaceID]; ok && snapshot.UpToSeq < existing.UpToSeq {
		return storage.ErrStaleSnapshot
	}
	f.snapshots[snapshot.WorkspaceID] = snapshot
	return nil
}

func (f *fakeStore) GetLatestSnapshot(_ context.Context, workspaceID string) (storage.Snapshot, error) {
	snapshot, ok := f.snapshots[workspaceID]
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return snapshot, nil
}

func (f *fakeStore) DeleteWorkspaceSnapshots(_ context.Context, workspaceID string) error {
	delete(f.snapshots, workspaceID)
	return nil
}

func appendCreate(t *testing.T, store *fakeStore, workspaceID, itemID, name string) {
	t.Helper()
	payload, err := json.Marshal(event.ItemCreatedPayload{
		ItemID:   itemID,
		ItemType: string(state.ItemTypeNote),
		Name:     name,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if _, err := store.AppendEvent(context.Background(), event.Event{
		WorkspaceID: workspaceID,
		Type:        event.TypeItemCreated,
		EntityType:  "item",
		EntityID:    itemID,
		PayloadJSON: payload,
	}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
}

func TestLoadEmptyWorkspace(t *testing.T) {
	store := newFakeStore()
	loader := NewLoader(store, store, 0)

	got, stats, err := loader.Load(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.WorkspaceID != "ws1" {
		t.Errorf("got.WorkspaceID = %q, want %q", got.WorkspaceID, "ws1")
	}
	if got.LastSeq != 0 {
		t.Errorf("got.LastSeq = %d, want 0", got.LastSeq)
	}
	if len(got.Items) != 0 {
		t.Errorf("len(got.Items) = %d, want 0", len(got.Items))
	}
	if stats.Count() != 0 {
		t.Errorf("stats.Count() = %d, want 0", stats.Count())
	}
}

func TestLoadReplaysJournal(t *testing.T) {
	store := newFakeStore()
	loader := NewLoader(store, store, 0)

	appendCreate(t, store, "ws1", "item1", "Lecture 1")
	appendCreate(t, store, "ws1", "item2", "Lecture 2")

	got, _, err := loader.Load(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LastSeq != 2 {
		t.Errorf("got.LastSeq = %d, want 2", got.LastSeq)
	}
	if len(got.Items) != 2 {
		t.Fatalf("len(got.Items) = %d, want 2", len(got.Items))
	}
	if got.Items["item1"].Name != "Lecture 1" {
		t.Errorf("item1.Name = %q, want %q", got.Items["item1"].Name, "Lecture 1")
	}
}

func TestLoadStartsFromSnapshot(t *testing.T) {
	store := newFakeStore()
	loader := NewLoader(store, store, 0)

	appendCreate(t, store, "ws1", "item1", "Lecture 1")
	appendCreate(t, store, "ws1", "item2", "Lecture 2")

	snapState := state.NewWorkspaceState("ws1")
	snapState.Items["item1"] = state.Item{ID: "item1", Type: state.ItemTypeNote, Name: "Lecture 1"}
	snapState.LastSeq = 1
	stateJSON, err := json.Marshal(snapState)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if err := store.PutSnapshot(context.Background(), storage.Snapshot{
		WorkspaceID: "ws1",
		UpToSeq:     1,
		StateJSON:   stateJSON,
	}); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}

	store.listCalls = 0
	got, _, err := loader.Load(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LastSeq != 2 {
		t.Errorf("got.LastSeq = %d, want 2", got.LastSeq)
	}
	if len(got.Items) != 2 {
		t.Errorf("len(got.Items) = %d, want 2", len(got.Items))
	}

	if store.listCalls == 0 {
		t.Fatal("ListEvents was not called")
	}
}

func TestLoadSkipsUnknownEvents(t *testing.T) {
	store := newFakeStore()
	loader := NewLoader(store, store, 0)

	appendCreate(t, store, "ws1", "item1", "Lecture 1")
	if _, err := store.AppendEvent(context.Background(), event.Event{
		WorkspaceID: "ws1",
		Type:        "item.archived",
		EntityType:  "item",
		EntityID:    "item1",
		PayloadJSON: []byte(`{}`),
	}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	appendCreate(t, store, "ws1", "item2", "Lecture 2")

	got, stats, err := loader.Load(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LastSeq != 3 {
		t.Errorf("got.LastSeq = %d, want 3", got.LastSeq)
	}
	if len(got.Items) != 2 {
		t.Errorf("len(got.Items) = %d, want 2", len(got.Items))
	}
	if stats.Count() != 1 {
		t.Fatalf("stats.Count() = %d, want 1", stats.Count())
	}
	if stats.Drops[0].Reason != state.DropUnknownType {
		t.Errorf("drop reason = %q, want %q", stats.Drops[0].Reason, state.DropUnknownType)
	}
}

func TestLoadSavesSnapshotAfterThreshold(t *testing.T) {
	store := newFakeStore()
	loader := NewLoader(store, store, 3)

	for i := 0; i < 4; i++ {
		appendCreate(t, store, "ws1", fmt.Sprintf("item%d", i), fmt.Sprintf("Lecture %d", i))
	}

	if _, _, err := loader.Load(context.Background(), "ws1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snapshot, err := store.GetLatestSnapshot(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("GetLatestSnapshot() error = %v", err)
	}
	if snapshot.UpToSeq != 4 {
		t.Errorf("snapshot.UpToSeq = %d, want 4", snapshot.UpToSeq)
	}

	var restored state.WorkspaceState
	if err := json.Unmarshal(snapshot.StateJSON, &restored); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(restored.Items) != 4 {
		t.Errorf("len(restored.Items) = %d, want 4", len(restored.Items))
	}
}

func TestLoadSkipsSnapshotBelowThreshold(t *testing.T) {
	store := newFakeStore()
	loader := NewLoader(store, store, 10)

	appendCreate(t, store, "ws1", "item1", "Lecture 1")

	if _, _, err := loader.Load(context.Background(), "ws1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := store.GetLatestSnapshot(context.Background(), "ws1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetLatestSnapshot() error = %v, want ErrNotFound", err)
	}
}

func TestLoadSnapshotMatchesFullReplay(t *testing.T) {
	store := newFakeStore()

	for i := 0; i < 6; i++ {
		appendCreate(t, store, "ws1", fmt.Sprintf("item%d", i), fmt.Sprintf("Lecture %d", i))
	}

	withSnapshots := NewLoader(store, store, 2)
	first, _, err := withSnapshots.Load(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// A second load starts from the snapshot written by the first.
	second, _, err := withSnapshots.Load(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Load() from snapshot error = %v", err)
	}

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Errorf("snapshot load diverged from full replay:\n%s\n%s", firstJSON, secondJSON)
	}
}
