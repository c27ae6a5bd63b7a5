package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/notare/notare/internal/storage"
	"github.com/notare/notare/internal/workspace/event"
)

func TestAppendEventAssignsSequences(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		stored, err := store.AppendEvent(ctx, event.Event{
			WorkspaceID: "ws1",
			Type:        event.TypeItemCreated,
			ActorID:     "user1",
			EntityType:  "item",
			EntityID:    "item1",
			PayloadJSON: []byte(`{"item_id":"item1","item_type":"note","name":"Notes"}`),
		})
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		if stored.Seq != uint64(i) {
			t.Errorf("stored.Seq = %d, want %d", stored.Seq, i)
		}
		if stored.Timestamp.IsZero() {
			t.Error("stored.Timestamp is zero")
		}
		if stored.ActorType != event.ActorTypeUser {
			t.Errorf("stored.ActorType = %q, want %q", stored.ActorType, event.ActorTypeUser)
		}
	}
}

func TestAppendEventSequencesPerWorkspace(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, workspaceID := range []string{"ws1", "ws2", "ws1", "ws2", "ws2"} {
		if _, err := store.AppendEvent(ctx, event.Event{
			WorkspaceID: workspaceID,
			Type:        event.TypeTitleSet,
			EntityType:  "workspace",
			EntityID:    workspaceID,
			PayloadJSON: []byte(`{"title":"t"}`),
		}); err != nil {
			t.Fatalf("AppendEvent(%s) error = %v", workspaceID, err)
		}
	}

	ws1, err := store.ListEvents(ctx, "ws1", 0, 100)
	if err != nil {
		t.Fatalf("ListEvents(ws1) error = %v", err)
	}
	ws2, err := store.ListEvents(ctx, "ws2", 0, 100)
	if err != nil {
		t.Fatalf("ListEvents(ws2) error = %v", err)
	}
	if len(ws1) != 2 || len(ws2) != 3 {
		t.Fatalf("event counts = %d, %d, want 2, 3", len(ws1), len(ws2))
	}
	for i, evt := range ws1 {
		if evt.Seq != uint64(i+1) {
			t.Errorf("ws1[%d].Seq = %d, want %d", i, evt.Seq, i+1)
		}
	}
	for i, evt := range ws2 {
		if evt.Seq != uint64(i+1) {
			t.Errorf("ws2[%d].Seq = %d, want %d", i, evt.Seq, i+1)
		}
	}
}

func TestAppendEventRejectsPresetSequence(t *testing.T) {
	store := openTempStore(t)

	_, err := store.AppendEvent(context.Background(), event.Event{
		WorkspaceID: "ws1",
		Seq:         7,
		Type:        event.TypeTitleSet,
		EntityType:  "workspace",
		EntityID:    "ws1",
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("AppendEvent() error = %v, want ErrConflict", err)
	}
}

func TestAppendEventConcurrentSequences(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	const appends = 100

	var wg sync.WaitGroup
	errs := make(chan error, appends)
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendEvent(ctx, event.Event{
				WorkspaceID: "ws1",
				Type:        event.TypeItemUpdated,
				EntityType:  "item",
				EntityID:    "item1",
				PayloadJSON: []byte(`{"item_id":"item1","fields":{"name":"n"}}`),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := store.ListEvents(ctx, "ws1", 0, appends+1)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != appends {
		t.Fatalf("len(events) = %d, want %d", len(events), appends)
	}
	seen := make(map[uint64]bool, appends)
	for _, evt := range events {
		if evt.Seq < 1 || evt.Seq > appends {
			t.Errorf("seq %d out of range [1, %d]", evt.Seq, appends)
		}
		if seen[evt.Seq] {
			t.Errorf("seq %d assigned twice", evt.Seq)
		}
		seen[evt.Seq] = true
	}
}

func TestListEventsPaging(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.AppendEvent(ctx, event.Event{
			WorkspaceID: "ws1",
			Type:        event.TypeTitleSet,
			EntityType:  "workspace",
			EntityID:    "ws1",
			PayloadJSON: []byte(`{"title":"t"}`),
		}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	page, err := store.ListEvents(ctx, "ws1", 2, 2)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].Seq != 3 || page[1].Seq != 4 {
		t.Errorf("page seqs = %d, %d, want 3, 4", page[0].Seq, page[1].Seq)
	}

	tail, err := store.ListEvents(ctx, "ws1", 4, 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 5 {
		t.Fatalf("tail = %v, want single event with seq 5", tail)
	}

	empty, err := store.ListEvents(ctx, "ws1", 5, 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("len(empty) = %d, want 0", len(empty))
	}
}

func TestDeleteWorkspaceEvents(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, workspaceID := range []string{"ws1", "ws1", "ws2"} {
		if _, err := store.AppendEvent(ctx, event.Event{
			WorkspaceID: workspaceID,
			Type:        event.TypeTitleSet,
			EntityType:  "workspace",
			EntityID:    workspaceID,
			PayloadJSON: []byte(`{"title":"t"}`),
		}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	if err := store.DeleteWorkspaceEvents(ctx, "ws1"); err != nil {
		t.Fatalf("DeleteWorkspaceEvents() error = %v", err)
	}

	ws1, err := store.ListEvents(ctx, "ws1", 0, 10)
	if err != nil {
		t.Fatalf("ListEvents(ws1) error = %v", err)
	}
	if len(ws1) != 0 {
		t.Errorf("len(ws1) = %d, want 0", len(ws1))
	}

	// The sequence counter is removed with the journal, so a new journal
	// starts at 1 again.
	stored, err := store.AppendEvent(ctx, event.Event{
		WorkspaceID: "ws1",
		Type:        event.TypeTitleSet,
		EntityType:  "workspace",
		EntityID:    "ws1",
		PayloadJSON: []byte(`{"title":"t"}`),
	})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if stored.Seq != 1 {
		t.Errorf("stored.Seq = %d, want 1", stored.Seq)
	}

	ws2, err := store.ListEvents(ctx, "ws2", 0, 10)
	if err != nil {
		t.Fatalf("ListEvents(ws2) error = %v", err)
	}
	if len(ws2) != 1 {
		t.Errorf("len(ws2) = %d, want 1", len(ws2))
	}
}
