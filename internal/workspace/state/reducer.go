package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/notare/notare/internal/workspace/event"
)

// DropReason classifies why the reducer skipped an event.
type DropReason string

const (
	// DropUnknownType marks an event whose type has no fold rule.
	DropUnknownType DropReason = "unknown_type"
	// DropInvalidPayload marks an event whose payload failed to decode
	// or failed structural validation.
	DropInvalidPayload DropReason = "invalid_payload"
	// DropMissingEntity marks an event referencing an item or folder
	// that does not exist in the current state.
	DropMissingEntity DropReason = "missing_entity"
	// DropInvalidMove marks a move that would break the tree shape
	// (non-folder target or cycle).
	DropInvalidMove DropReason = "invalid_move"
)

// Drop records one skipped event during a fold.
type Drop struct {
	Seq    uint64
	Type   event.Type
	Reason DropReason
	Detail string
}

// DropStats accumulates skipped events across a fold. Events are
// historical facts; the reducer classifies and counts what it cannot
// apply instead of halting replay.
type DropStats struct {
	Drops []Drop
}

// Count returns the number of dropped events.
func (d DropStats) Count() int {
	return len(d.Drops)
}

func (d *DropStats) record(evt event.Event, reason DropReason, detail string) {
	d.Drops = append(d.Drops, Drop{
		Seq:    evt.Seq,
		Type:   evt.Type,
		Reason: reason,
		Detail: detail,
	})
}

// Apply folds a single event into the state. It is pure apart from the
// state mutation: the same state and event always produce the same
// result. Events that cannot be applied are recorded in stats and the
// state is left untouched; Apply never returns an error for historical
// data.
func Apply(s *WorkspaceState, evt event.Event, stats *DropStats) {
	if s.Items == nil {
		s.Items = make(map[string]Item)
	}
	if evt.Seq > 0 {
		s.LastSeq = evt.Seq
	}

	switch evt.Type {
	case event.TypeItemCreated:
		applyItemCreated(s, evt, stats)
	case event.TypeItemUpdated:
		applyItemUpdated(s, evt, stats)
	case event.TypeItemDeleted:
		applyItemDeleted(s, evt, stats)
	case event.TypeItemMoved:
		applyItemMoved(s, evt, stats)
	case event.TypeFolderRenamed:
		applyFolderRenamed(s, evt, stats)
	case event.TypeTitleSet:
		applyTitleSet(s, evt, stats)
	case event.TypeDescriptionSet:
		applyDescriptionSet(s, evt, stats)
	case event.TypeTranscriptReady:
		applyTranscriptReady(s, evt, stats)
	case event.TypeTranscriptFailed:
		applyTranscriptFailed(s, evt, stats)
	default:
		stats.record(evt, DropUnknownType, string(evt.Type))
	}
}

// Fold applies events in order to a copy of the initial state and returns
// the result. For any k, Fold(snapshot@k, events[k+1..n]) equals
// Fold(initial, events[1..n]).
func Fold(initial WorkspaceState, events []event.Event, stats *DropStats) WorkspaceState {
	s := initial.Clone()
	for _, evt := range events {
		Apply(&s, evt, stats)
	}
	return s
}

func applyItemCreated(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.ItemCreatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode item.created: %v", err))
		return
	}
	itemID := strings.TrimSpace(payload.ItemID)
	if itemID == "" {
		stats.record(evt, DropInvalidPayload, "item id is required")
		return
	}
	itemType := ItemType(payload.ItemType)
	if !itemType.IsValid() {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("unknown item type %q", payload.ItemType))
		return
	}
	if payload.FolderID != "" {
		parent, ok := s.Items[payload.FolderID]
		if !ok {
			stats.record(evt, DropMissingEntity, fmt.Sprintf("parent folder %s", payload.FolderID))
			return
		}
		if parent.Type != ItemTypeFolder {
			stats.record(evt, DropInvalidMove, fmt.Sprintf("parent %s is not a folder", payload.FolderID))
			return
		}
	}
	if _, exists := s.Items[itemID]; exists {
		// Re-creating an existing id is a no-op so the fold stays
		// idempotent if the same prefix is ever applied twice.
		return
	}
	s.Items[itemID] = Item{
		ID:       itemID,
		Type:     itemType,
		Name:     payload.Name,
		FolderID: payload.FolderID,
		DataJSON: cloneRaw(payload.Data),
	}
}

func applyItemUpdated(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.ItemUpdatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode item.updated: %v", err))
		return
	}
	item, ok := s.Items[payload.ItemID]
	if !ok {
		stats.record(evt, DropMissingEntity, fmt.Sprintf("item %s", payload.ItemID))
		return
	}
	if len(payload.Fields) == 0 {
		return
	}
	for key, value := range payload.Fields {
		switch key {
		case "name":
			name, ok := value.(string)
			if !ok || strings.TrimSpace(name) == "" {
				stats.record(evt, DropInvalidPayload, "item.updated name must be a non-empty string")
				return
			}
			item.Name = name
		case "data":
			raw, err := json.Marshal(value)
			if err != nil {
				stats.record(evt, DropInvalidPayload, fmt.Sprintf("item.updated data: %v", err))
				return
			}
			item.DataJSON = raw
		}
	}
	s.Items[payload.ItemID] = item
}

func applyItemDeleted(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.ItemDeletedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode item.deleted: %v", err))
		return
	}
	if _, ok := s.Items[payload.ItemID]; !ok {
		// Deleting an already-deleted item is a no-op, not a fault:
		// the fact stands even if a later replay sees it twice.
		return
	}
	delete(s.Items, payload.ItemID)
	// Children of a deleted folder are re-parented to the root instead of
	// cascading, so no historic content silently disappears.
	for id, item := range s.Items {
		if item.FolderID == payload.ItemID {
			item.FolderID = ""
			s.Items[id] = item
		}
	}
}

func applyItemMoved(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.ItemMovedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode item.moved: %v", err))
		return
	}
	item, ok := s.Items[payload.ItemID]
	if !ok {
		stats.record(evt, DropMissingEntity, fmt.Sprintf("item %s", payload.ItemID))
		return
	}
	if payload.FolderID != "" {
		target, ok := s.Items[payload.FolderID]
		if !ok {
			stats.record(evt, DropMissingEntity, fmt.Sprintf("target folder %s", payload.FolderID))
			return
		}
		if target.Type != ItemTypeFolder {
			stats.record(evt, DropInvalidMove, fmt.Sprintf("target %s is not a folder", payload.FolderID))
			return
		}
		if s.InFolder(payload.FolderID, payload.ItemID) {
			stats.record(evt, DropInvalidMove, fmt.Sprintf("moving %s under %s would create a cycle", payload.ItemID, payload.FolderID))
			return
		}
	}
	item.FolderID = payload.FolderID
	s.Items[payload.ItemID] = item
}

func applyFolderRenamed(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.FolderRenamedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode folder.renamed: %v", err))
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		stats.record(evt, DropInvalidPayload, "folder name is required")
		return
	}
	folder, ok := s.Items[payload.FolderID]
	if !ok {
		stats.record(evt, DropMissingEntity, fmt.Sprintf("folder %s", payload.FolderID))
		return
	}
	if folder.Type != ItemTypeFolder {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("item %s is not a folder", payload.FolderID))
		return
	}
	folder.Name = payload.Name
	s.Items[payload.FolderID] = folder
}

func applyTitleSet(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.TitleSetPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode workspace.title_set: %v", err))
		return
	}
	s.Title = payload.Title
}

func applyDescriptionSet(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.DescriptionSetPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode workspace.description_set: %v", err))
		return
	}
	s.Description = payload.Description
}

func applyTranscriptReady(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.TranscriptReadyPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode media.transcript_ready: %v", err))
		return
	}
	item, ok := s.Items[payload.ItemID]
	if !ok {
		stats.record(evt, DropMissingEntity, fmt.Sprintf("item %s", payload.ItemID))
		return
	}
	data, err := json.Marshal(map[string]string{
		"transcript_status": "ready",
		"transcript":        payload.Transcript,
	})
	if err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("encode transcript data: %v", err))
		return
	}
	item.DataJSON = data
	s.Items[payload.ItemID] = item
}

func applyTranscriptFailed(s *WorkspaceState, evt event.Event, stats *DropStats) {
	var payload event.TranscriptFailedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("decode media.transcript_failed: %v", err))
		return
	}
	item, ok := s.Items[payload.ItemID]
	if !ok {
		stats.record(evt, DropMissingEntity, fmt.Sprintf("item %s", payload.ItemID))
		return
	}
	data, err := json.Marshal(map[string]string{
		"transcript_status": "failed",
		"failed_step":       payload.Step,
		"failure_message":   payload.Message,
	})
	if err != nil {
		stats.record(evt, DropInvalidPayload, fmt.Sprintf("encode transcript failure data: %v", err))
		return
	}
	item.DataJSON = data
	s.Items[payload.ItemID] = item
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
