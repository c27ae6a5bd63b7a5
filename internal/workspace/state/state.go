// Package state holds the in-memory workspace state and the pure reducer
// that folds journal events into it.
package state

import "encoding/json"

// ItemType identifies the kind of an item node.
type ItemType string

const (
	ItemTypeFolder    ItemType = "folder"
	ItemTypeNote      ItemType = "note"
	ItemTypePDF       ItemType = "pdf"
	ItemTypeFlashcard ItemType = "flashcard"
	ItemTypeYouTube   ItemType = "youtube"
	ItemTypeQuiz      ItemType = "quiz"
	ItemTypeImage     ItemType = "image"
	ItemTypeAudio     ItemType = "audio"
)

// IsValid reports whether the item type is one of the known kinds.
func (t ItemType) IsValid() bool {
	switch t {
	case ItemTypeFolder, ItemTypeNote, ItemTypePDF, ItemTypeFlashcard,
		ItemTypeYouTube, ItemTypeQuiz, ItemTypeImage, ItemTypeAudio:
		return true
	default:
		return false
	}
}

// Item is one node in the workspace tree: a folder or leaf content.
type Item struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type"`
	Name string   `json:"name"`
	// FolderID is the parent folder; empty means the workspace root.
	FolderID string `json:"folder_id,omitempty"`
	// DataJSON holds type-specific payload (note body, flashcard deck,
	// transcript text, ...). Opaque to the reducer except where an event
	// explicitly rewrites it.
	DataJSON json.RawMessage `json:"data,omitempty"`
}

// WorkspaceState is the fold result of a workspace's event prefix.
// It is mutated exclusively by the reducer; request handlers never write
// to it directly.
type WorkspaceState struct {
	WorkspaceID string          `json:"workspace_id"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Items       map[string]Item `json:"items"`
	// LastSeq is the sequence of the last event folded into this state.
	LastSeq uint64 `json:"last_seq"`
}

// NewWorkspaceState creates the empty initial state for a workspace.
func NewWorkspaceState(workspaceID string) WorkspaceState {
	return WorkspaceState{
		WorkspaceID: workspaceID,
		Items:       make(map[string]Item),
	}
}

// Clone returns a deep copy of the state. Snapshots and concurrent readers
// must never alias the maps of a state still being folded.
func (s WorkspaceState) Clone() WorkspaceState {
	out := s
	out.Items = make(map[string]Item, len(s.Items))
	for id, item := range s.Items {
		if len(item.DataJSON) > 0 {
			data := make(json.RawMessage, len(item.DataJSON))
			copy(data, item.DataJSON)
			item.DataJSON = data
		}
		out.Items[id] = item
	}
	return out
}

// InFolder returns whether item (directly or transitively) lives under
// folderID. Used to reject moves that would introduce a cycle.
func (s WorkspaceState) InFolder(itemID, folderID string) bool {
	seen := make(map[string]struct{})
	current := itemID
	for current != "" {
		if current == folderID {
			return true
		}
		if _, dup := seen[current]; dup {
			// Malformed parent chain; stop rather than loop forever.
			return false
		}
		seen[current] = struct{}{}
		item, ok := s.Items[current]
		if !ok {
			return false
		}
		current = item.FolderID
	}
	return false
}
