package worker

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	t.Setenv("INKSEAL_NATS_URL", "nats://broker:4222")
	t.Setenv("INKSEAL_WORKER_LEASE_TTL", "45s")

	cfg, err := ParseConfig(fs, []string{"-consumer", "dispatch-e2e", "-max-attempts", "3"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.NATSURL != "nats://broker:4222" {
		t.Fatalf("nats url = %q", cfg.NATSURL)
	}
	if cfg.LeaseTTL != 45*time.Second {
		t.Fatalf("lease ttl = %v, want 45s", cfg.LeaseTTL)
	}
	if cfg.Consumer != "dispatch-e2e" {
		t.Fatalf("consumer = %q, want dispatch-e2e", cfg.Consumer)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/inkseal.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.BatchSize != 25 {
		t.Fatalf("batch size = %d, want 25", cfg.BatchSize)
	}
}
