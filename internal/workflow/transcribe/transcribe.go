// Package transcribe defines the audio transcription pipeline: fetch
// the uploaded media, hand it to the transcription service keyed by
// content so retries never duplicate an upload, and record the outcome
// in the workspace journal.
package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/notare/notare/internal/workspace/event"
	"github.com/notare/notare/internal/workflow"
)

// Kind is the pipeline identifier for transcription runs.
const Kind = "transcribe"

// Args are the run arguments for a transcription.
type Args struct {
	// SourceKey locates the uploaded media in object storage.
	SourceKey string `json:"source_key"`
}

// ObjectStorage reads uploaded media. Upload transport is handled
// elsewhere; the pipeline only fetches.
type ObjectStorage interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Transcriber is the external transcription service. Uploads are keyed
// by content hash, so re-uploading the same bytes is a no-op on the
// remote side.
type Transcriber interface {
	Upload(ctx context.Context, contentKey string, data []byte) error
	Transcribe(ctx context.Context, contentKey string) (string, error)
}

// Events is the journal surface the pipeline appends outcomes to.
type Events interface {
	EmitTranscriptReady(ctx context.Context, workspaceID, actorID string, payload event.TranscriptReadyPayload) (event.Event, error)
	EmitTranscriptFailed(ctx context.Context, workspaceID, actorID string, payload event.TranscriptFailedPayload) (event.Event, error)
}

type fetchOutput struct {
	ContentKey string `json:"content_key"`
	Size       int    `json:"size"`
}

type uploadOutput struct {
	ContentKey string `json:"content_key"`
}

type transcribeOutput struct {
	Transcript string `json:"transcript"`
}

// NewPipeline builds the transcription pipeline over the given
// collaborators.
func NewPipeline(objects ObjectStorage, transcriber Transcriber, events Events) workflow.Pipeline {
	steps := pipelineSteps{objects: objects, transcriber: transcriber, events: events}
	return workflow.Pipeline{
		Kind: Kind,
		Steps: []workflow.Step{
			{Name: "fetch", Execute: steps.fetch},
			{Name: "upload", Execute: steps.upload},
			{Name: "transcribe", Execute: steps.transcribe},
			{Name: "persist", Execute: steps.persist},
		},
		OnFailure: steps.recordFailure,
	}
}

type pipelineSteps struct {
	objects     ObjectStorage
	transcriber Transcriber
	events      Events
}

func decodeArgs(run workflow.Run) (Args, error) {
	var args Args
	if err := json.Unmarshal(run.ArgsJSON, &args); err != nil {
		return Args{}, workflow.Permanent(fmt.Errorf("decode args: %w", err))
	}
	if strings.TrimSpace(args.SourceKey) == "" {
		return Args{}, workflow.Permanent(fmt.Errorf("source key is required"))
	}
	return args, nil
}

// fetch reads the media and derives its content key. The bytes are not
// checkpointed; later steps re-fetch by source key, which is stable.
func (p pipelineSteps) fetch(ctx context.Context, sc *workflow.StepContext) ([]byte, error) {
	args, err := decodeArgs(sc.Run)
	if err != nil {
		return nil, err
	}
	data, err := p.objects.Fetch(ctx, args.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", args.SourceKey, err)
	}
	if len(data) == 0 {
		return nil, workflow.Permanent(fmt.Errorf("source %s is empty", args.SourceKey))
	}
	sum := sha256.Sum256(data)
	return json.Marshal(fetchOutput{
		ContentKey: hex.EncodeToString(sum[:]),
		Size:       len(data),
	})
}

func (p pipelineSteps) upload(ctx context.Context, sc *workflow.StepContext) ([]byte, error) {
	args, err := decodeArgs(sc.Run)
	if err != nil {
		return nil, err
	}
	var fetched fetchOutput
	if err := sc.DecodeOutput("fetch", &fetched); err != nil {
		return nil, workflow.Permanent(err)
	}
	data, err := p.objects.Fetch(ctx, args.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", args.SourceKey, err)
	}
	if err := p.transcriber.Upload(ctx, fetched.ContentKey, data); err != nil {
		return nil, fmt.Errorf("upload %s: %w", fetched.ContentKey, err)
	}
	return json.Marshal(uploadOutput{ContentKey: fetched.ContentKey})
}

func (p pipelineSteps) transcribe(ctx context.Context, sc *workflow.StepContext) ([]byte, error) {
	var uploaded uploadOutput
	if err := sc.DecodeOutput("upload", &uploaded); err != nil {
		return nil, workflow.Permanent(err)
	}
	transcript, err := p.transcriber.Transcribe(ctx, uploaded.ContentKey)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", uploaded.ContentKey, err)
	}
	return json.Marshal(transcribeOutput{Transcript: transcript})
}

// persist records the transcript with a single journal append. The
// append is attributed to the user who started the run.
func (p pipelineSteps) persist(ctx context.Context, sc *workflow.StepContext) ([]byte, error) {
	var uploaded uploadOutput
	if err := sc.DecodeOutput("upload", &uploaded); err != nil {
		return nil, workflow.Permanent(err)
	}
	var transcribed transcribeOutput
	if err := sc.DecodeOutput("transcribe", &transcribed); err != nil {
		return nil, workflow.Permanent(err)
	}
	if _, err := p.events.EmitTranscriptReady(ctx, sc.Run.WorkspaceID, sc.Run.ActorID, event.TranscriptReadyPayload{
		ItemID:     sc.Run.ItemID,
		RunID:      sc.Run.ID,
		Transcript: transcribed.Transcript,
		ContentKey: uploaded.ContentKey,
	}); err != nil {
		return nil, fmt.Errorf("record transcript: %w", err)
	}
	return nil, nil
}

// recordFailure marks the item failed with a single journal append, so
// readers can tell a failed transcription from one still in flight.
func (p pipelineSteps) recordFailure(ctx context.Context, run workflow.Run, step string, cause error) error {
	reasonCode := "transient_exhausted"
	if workflow.IsPermanent(cause) {
		reasonCode = "permanent"
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	_, err := p.events.EmitTranscriptFailed(ctx, run.WorkspaceID, run.ActorID, event.TranscriptFailedPayload{
		ItemID:     run.ItemID,
		RunID:      run.ID,
		Step:       step,
		ReasonCode: reasonCode,
		Message:    message,
	})
	return err
}
