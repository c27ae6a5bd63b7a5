// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/notare/notare/internal/platform/cmd"
	workerserver "github.com/notare/notare/internal/worker"
)

// Config holds worker command configuration.
type Config struct {
	Port            int           `env:"NOTARE_WORKER_PORT" envDefault:"8091"`
	DBPath          string        `env:"NOTARE_WORKER_DB_PATH" envDefault:"data/notare.db"`
	MediaDir        string        `env:"NOTARE_WORKER_MEDIA_DIR" envDefault:"data/media"`
	TranscriberAddr string        `env:"NOTARE_WORKER_TRANSCRIBER_ADDR"`
	PollInterval    time.Duration `env:"NOTARE_WORKER_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL        time.Duration `env:"NOTARE_WORKER_LEASE_TTL" envDefault:"5m"`
	MaxAttempts     int           `env:"NOTARE_WORKER_MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoff    time.Duration `env:"NOTARE_WORKER_RETRY_BACKOFF" envDefault:"2s"`
	RetryMaxDelay   time.Duration `env:"NOTARE_WORKER_RETRY_MAX_DELAY" envDefault:"1m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.MediaDir, "media-dir", cfg.MediaDir, "The uploaded media directory")
	fs.StringVar(&cfg.TranscriberAddr, "transcriber-addr", cfg.TranscriberAddr, "The transcription service base URL")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Workflow run poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Workflow run claim lease duration")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum step attempts before terminal failure")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Port:            cfg.Port,
			DBPath:          cfg.DBPath,
			MediaDir:        cfg.MediaDir,
			TranscriberAddr: cfg.TranscriberAddr,
			PollInterval:    cfg.PollInterval,
			LeaseTTL:        cfg.LeaseTTL,
			MaxAttempts:     cfg.MaxAttempts,
			RetryBackoff:    cfg.RetryBackoff,
			RetryMaxDelay:   cfg.RetryMaxDelay,
		})
	})
}
