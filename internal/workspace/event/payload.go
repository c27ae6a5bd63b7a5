package event

import "encoding/json"

// ItemCreatedPayload captures the payload for item.created events.
type ItemCreatedPayload struct {
	ItemID   string          `json:"item_id"`
	ItemType string          `json:"item_type"`
	Name     string          `json:"name"`
	FolderID string          `json:"folder_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ItemUpdatedPayload captures the payload for item.updated events.
type ItemUpdatedPayload struct {
	ItemID string         `json:"item_id"`
	Fields map[string]any `json:"fields"`
}

// ItemDeletedPayload captures the payload for item.deleted events.
type ItemDeletedPayload struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason,omitempty"`
}

// ItemMovedPayload captures the payload for item.moved events.
type ItemMovedPayload struct {
	ItemID string `json:"item_id"`
	// FolderID is the destination folder; empty moves the item to the root.
	FolderID string `json:"folder_id,omitempty"`
}

// FolderRenamedPayload captures the payload for folder.renamed events.
type FolderRenamedPayload struct {
	FolderID string `json:"folder_id"`
	Name     string `json:"name"`
}

// TitleSetPayload captures the payload for workspace.title_set events.
type TitleSetPayload struct {
	Title string `json:"title"`
}

// DescriptionSetPayload captures the payload for workspace.description_set events.
type DescriptionSetPayload struct {
	Description string `json:"description"`
}

// TranscriptReadyPayload captures the payload for media.transcript_ready events.
type TranscriptReadyPayload struct {
	ItemID     string `json:"item_id"`
	RunID      string `json:"run_id"`
	Transcript string `json:"transcript"`
	// ContentKey identifies the uploaded media content so replays and
	// retries can be correlated with the processing service.
	ContentKey string `json:"content_key,omitempty"`
}

// TranscriptFailedPayload captures the payload for media.transcript_failed events.
type TranscriptFailedPayload struct {
	ItemID     string `json:"item_id"`
	RunID      string `json:"run_id"`
	Step       string `json:"step"`
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`
}
