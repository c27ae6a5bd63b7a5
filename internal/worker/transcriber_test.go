package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/notare/notare/internal/workflow"
)

func TestHTTPTranscriberRoundTrip(t *testing.T) {
	var uploaded []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/media/abc":
			uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/transcriptions/abc":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transcript":"hello world"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	transcriber := NewHTTPTranscriber(server.URL)
	ctx := context.Background()

	if err := transcriber.Upload(ctx, "abc", []byte("audio")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if string(uploaded) != "audio" {
		t.Errorf("uploaded = %q, want %q", uploaded, "audio")
	}

	transcript, err := transcriber.Transcribe(ctx, "abc")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if transcript != "hello world" {
		t.Errorf("transcript = %q, want %q", transcript, "hello world")
	}
}

func TestHTTPTranscriberClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	transcriber := NewHTTPTranscriber(server.URL)
	err := transcriber.Upload(context.Background(), "abc", []byte("audio"))
	if err == nil {
		t.Fatal("Upload() error = nil, want error")
	}
	if !workflow.IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false, want true", err)
	}
}

func TestHTTPTranscriberServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transcriber := NewHTTPTranscriber(server.URL)
	err := transcriber.Upload(context.Background(), "abc", []byte("audio"))
	if err == nil {
		t.Fatal("Upload() error = nil, want error")
	}
	if workflow.IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = true, want retryable", err)
	}
}
