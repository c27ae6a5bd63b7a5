package worker

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	t.Setenv("NOTARE_WORKER_PORT", "9099")
	t.Setenv("NOTARE_WORKER_TRANSCRIBER_ADDR", "http://transcriber:8080")

	cfg, err := ParseConfig(fs, []string{"-max-attempts", "3", "-media-dir", "/tmp/media"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9099 {
		t.Fatalf("port = %d, want 9099", cfg.Port)
	}
	if cfg.TranscriberAddr != "http://transcriber:8080" {
		t.Fatalf("transcriber addr = %q, want %q", cfg.TranscriberAddr, "http://transcriber:8080")
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.MediaDir != "/tmp/media" {
		t.Fatalf("media dir = %q, want %q", cfg.MediaDir, "/tmp/media")
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8091 {
		t.Fatalf("port = %d, want 8091", cfg.Port)
	}
	if cfg.DBPath != "data/notare.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/notare.db")
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.LeaseTTL != 5*time.Minute {
		t.Fatalf("lease ttl = %v, want 5m", cfg.LeaseTTL)
	}
}
