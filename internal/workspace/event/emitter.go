package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store defines the interface for persisting events.
type Store interface {
	AppendEvent(ctx context.Context, evt Event) (Event, error)
}

// Emitter provides event emission capabilities for workspace mutations.
type Emitter struct {
	store Store
	now   func() time.Time
}

// NewEmitter creates a new event emitter.
func NewEmitter(store Store) *Emitter {
	return &Emitter{
		store: store,
		now:   time.Now,
	}
}

// EmitInput describes the input for emitting an event.
type EmitInput struct {
	WorkspaceID string
	Type        Type
	ActorType   ActorType
	ActorID     string
	EntityType  string
	EntityID    string
	Payload     any
}

// Emit appends an event to the workspace journal.
func (e *Emitter) Emit(ctx context.Context, input EmitInput) (Event, error) {
	if e.store == nil {
		return Event{}, fmt.Errorf("event store is not configured")
	}

	payloadJSON, err := json.Marshal(input.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	evt := Event{
		WorkspaceID: input.WorkspaceID,
		Timestamp:   e.now().UTC(),
		Type:        input.Type,
		ActorType:   input.ActorType,
		ActorID:     input.ActorID,
		EntityType:  input.EntityType,
		EntityID:    input.EntityID,
		PayloadJSON: payloadJSON,
	}

	return e.store.AppendEvent(ctx, evt)
}

// EmitItemCreated emits an item.created event.
func (e *Emitter) EmitItemCreated(ctx context.Context, workspaceID, actorID string, payload ItemCreatedPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeItemCreated,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "item",
		EntityID:    payload.ItemID,
		Payload:     payload,
	})
}

// EmitItemUpdated emits an item.updated event.
func (e *Emitter) EmitItemUpdated(ctx context.Context, workspaceID, actorID string, payload ItemUpdatedPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeItemUpdated,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "item",
		EntityID:    payload.ItemID,
		Payload:     payload,
	})
}

// EmitItemDeleted emits an item.deleted event.
func (e *Emitter) EmitItemDeleted(ctx context.Context, workspaceID, actorID string, payload ItemDeletedPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeItemDeleted,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "item",
		EntityID:    payload.ItemID,
		Payload:     payload,
	})
}

// EmitItemMoved emits an item.moved event.
func (e *Emitter) EmitItemMoved(ctx context.Context, workspaceID, actorID string, payload ItemMovedPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeItemMoved,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "item",
		EntityID:    payload.ItemID,
		Payload:     payload,
	})
}

// EmitFolderRenamed emits a folder.renamed event.
func (e *Emitter) EmitFolderRenamed(ctx context.Context, workspaceID, actorID string, payload FolderRenamedPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeFolderRenamed,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "folder",
		EntityID:    payload.FolderID,
		Payload:     payload,
	})
}

// EmitTitleSet emits a workspace.title_set event.
func (e *Emitter) EmitTitleSet(ctx context.Context, workspaceID, actorID string, payload TitleSetPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeTitleSet,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "workspace",
		EntityID:    workspaceID,
		Payload:     payload,
	})
}

// EmitDescriptionSet emits a workspace.description_set event.
func (e *Emitter) EmitDescriptionSet(ctx context.Context, workspaceID, actorID string, payload DescriptionSetPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeDescriptionSet,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "workspace",
		EntityID:    workspaceID,
		Payload:     payload,
	})
}

// EmitTranscriptReady emits a media.transcript_ready event. The actor is
// the user who started the workflow, so the outcome stays attributed to
// them even though the append happens from the worker process.
func (e *Emitter) EmitTranscriptReady(ctx context.Context, workspaceID, actorID string, payload TranscriptReadyPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeTranscriptReady,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "item",
		EntityID:    payload.ItemID,
		Payload:     payload,
	})
}

// EmitTranscriptFailed emits a media.transcript_failed event.
func (e *Emitter) EmitTranscriptFailed(ctx context.Context, workspaceID, actorID string, payload TranscriptFailedPayload) (Event, error) {
	return e.Emit(ctx, EmitInput{
		WorkspaceID: workspaceID,
		Type:        TypeTranscriptFailed,
		ActorType:   actorTypeFor(actorID),
		ActorID:     actorID,
		EntityType:  "item",
		EntityID:    payload.ItemID,
		Payload:     payload,
	})
}

func actorTypeFor(actorID string) ActorType {
	if actorID == "" {
		return ActorTypeSystem
	}
	return ActorTypeUser
}
