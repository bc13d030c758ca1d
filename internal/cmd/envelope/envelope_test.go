package envelope

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("envelope", flag.ContinueOnError)
	t.Setenv("INKSEAL_DB_PATH", "/tmp/demo.db")
	t.Setenv("INKSEAL_MAX_REMINDERS", "5")

	cfg, err := ParseConfig(fs, []string{"-owner", "user-42", "-signer-email", "alice@example.com"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "/tmp/demo.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.MaxReminders != 5 {
		t.Fatalf("max reminders = %d, want 5", cfg.MaxReminders)
	}
	if cfg.OwnerUserID != "user-42" {
		t.Fatalf("owner = %q, want user-42", cfg.OwnerUserID)
	}
	if cfg.SignerEmail != "alice@example.com" {
		t.Fatalf("signer email = %q", cfg.SignerEmail)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("envelope", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SignTokenTTL != 336*time.Hour {
		t.Fatalf("sign token ttl = %v, want 336h", cfg.SignTokenTTL)
	}
	if cfg.ReminderMinInterval != 24*time.Hour {
		t.Fatalf("reminder interval = %v, want 24h", cfg.ReminderMinInterval)
	}
}
