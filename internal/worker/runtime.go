// Package worker hosts the workflow runner process: a SQLite-backed
// claim loop that drives transcription runs, plus a gRPC health server
// for liveness checks.
package worker

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notare/notare/internal/storage/sqlite"
	"github.com/notare/notare/internal/workflow"
	"github.com/notare/notare/internal/workflow/transcribe"
	"github.com/notare/notare/internal/workspace/event"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port            int
	DBPath          string
	MediaDir        string
	TranscriberAddr string
	PollInterval    time.Duration
	LeaseTTL        time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryMaxDelay   time.Duration
}

const (
	defaultWorkerPort = 8091
	defaultWorkerDB   = "data/notare.db"
	defaultMediaDir   = "data/media"
)

// Run starts worker runtime dependencies and the background claim loop.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.TranscriberAddr) == "" {
		return fmt.Errorf("transcriber address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if strings.TrimSpace(cfg.MediaDir) == "" {
		cfg.MediaDir = defaultMediaDir
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close sqlite store: %v", closeErr)
		}
	}()

	pipeline := transcribe.NewPipeline(
		NewDirObjects(cfg.MediaDir),
		NewHTTPTranscriber(cfg.TranscriberAddr),
		event.NewEmitter(store),
	)
	runner := workflow.NewRunner(store, []workflow.Pipeline{pipeline}, workflow.Config{
		PollInterval:  cfg.PollInterval,
		LeaseTTL:      cfg.LeaseTTL,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("worker.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("worker server listening at %v", listener.Addr())
	return runner.Run(ctx)
}
