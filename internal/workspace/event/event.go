package event

import (
	"strings"
	"time"
)

// Type identifies the type of a workspace event.
type Type string

// Item events.
const (
	// TypeItemCreated records the creation of an item (folder or leaf content).
	TypeItemCreated Type = "item.created"
	// TypeItemUpdated records updates to item metadata or content data.
	TypeItemUpdated Type = "item.updated"
	// TypeItemDeleted records the deletion of an item.
	TypeItemDeleted Type = "item.deleted"
	// TypeItemMoved records an item moving to a different parent folder.
	TypeItemMoved Type = "item.moved"
)

// Folder events.
const (
	// TypeFolderRenamed records a folder rename.
	TypeFolderRenamed Type = "folder.renamed"
)

// Workspace metadata events.
const (
	// TypeTitleSet records a workspace title change.
	TypeTitleSet Type = "workspace.title_set"
	// TypeDescriptionSet records a workspace description change.
	TypeDescriptionSet Type = "workspace.description_set"
)

// Media events. Emitted by the transcription workflow as terminal
// outcomes; events represent facts that have occurred, not commands.
const (
	// TypeTranscriptReady records a completed media transcription.
	TypeTranscriptReady Type = "media.transcript_ready"
	// TypeTranscriptFailed records a transcription that exhausted retries.
	TypeTranscriptFailed Type = "media.transcript_failed"
)

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the system.
	ActorTypeSystem ActorType = "system"
	// ActorTypeUser indicates the event was triggered by a signed-in user.
	ActorTypeUser ActorType = "user"
)

// Event represents an immutable event in the per-workspace journal.
type Event struct {
	// WorkspaceID is the workspace this event belongs to.
	WorkspaceID string
	// Seq is the event sequence number within the workspace (starts at 1).
	// Assigned by storage on append, never supplied by callers.
	Seq uint64
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the user ID when ActorType is user.
	ActorID string
	// EntityType is the type of entity affected (item, folder, workspace).
	EntityType string
	// EntityID is the ID of the entity affected.
	EntityID string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "item", "folder").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
