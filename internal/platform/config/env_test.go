package config

import (
	"testing"
	"time"
)

type testConfig struct {
	Addr     string        `env:"INKSEAL_TEST_ADDR" envDefault:"localhost:0"`
	Interval time.Duration `env:"INKSEAL_TEST_INTERVAL" envDefault:"5s"`
	Count    int           `env:"INKSEAL_TEST_COUNT" envDefault:"3"`
}

func TestParseEnv_Defaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:0" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, "localhost:0")
	}
	if cfg.Interval != 5*time.Second {
		t.Fatalf("interval = %v, want %v", cfg.Interval, 5*time.Second)
	}
}

func TestParseEnv_Overrides(t *testing.T) {
	t.Setenv("INKSEAL_TEST_ADDR", "example:9000")
	t.Setenv("INKSEAL_TEST_COUNT", "7")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "example:9000" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, "example:9000")
	}
	if cfg.Count != 7 {
		t.Fatalf("count = %d, want 7", cfg.Count)
	}
}

func TestParseEnv_InvalidValue(t *testing.T) {
	t.Setenv("INKSEAL_TEST_INTERVAL", "not-a-duration")

	var cfg testConfig
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
