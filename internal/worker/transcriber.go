package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notare/notare/internal/workflow"
)

const defaultTranscriberTimeout = 2 * time.Minute

// HTTPTranscriber talks to the external transcription service. Uploads
// are addressed by content key, so re-sending the same bytes replaces
// an identical object on the remote side.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTranscriber returns a client for the service at baseURL.
func NewHTTPTranscriber(baseURL string) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTranscriberTimeout},
	}
}

// Upload sends media bytes under their content key.
func (t *HTTPTranscriber) Upload(ctx context.Context, contentKey string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		t.baseURL+"/media/"+url.PathEscape(contentKey), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", contentKey, err)
	}
	defer resp.Body.Close()
	return classifyStatus("upload", contentKey, resp.StatusCode)
}

// Transcribe requests a transcription of previously uploaded media.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, contentKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/transcriptions/"+url.PathEscape(contentKey), nil)
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", contentKey, err)
	}
	defer resp.Body.Close()
	if err := classifyStatus("transcribe", contentKey, resp.StatusCode); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcribe response: %w", err)
	}
	var decoded struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode transcribe response: %w", err)
	}
	return decoded.Transcript, nil
}

// classifyStatus maps HTTP status codes to the retry policy: server
// errors stay retryable, client errors are permanent.
func classifyStatus(operation, contentKey string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return workflow.Permanent(fmt.Errorf("%s %s: status %d", operation, contentKey, status))
	default:
		return fmt.Errorf("%s %s: status %d", operation, contentKey, status)
	}
}
