package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

func TestParseConfigFromArgs(t *testing.T) {
	type cfg struct {
		Addr string `env:"INKSEAL_ENTRYPOINT_TEST_ADDR" envDefault:"localhost:1"`
	}
	t.Setenv("INKSEAL_ENTRYPOINT_TEST_ADDR", "env:2")

	var parsed cfg
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := ParseConfig(&parsed); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	fs.StringVar(&parsed.Addr, "addr", parsed.Addr, "address")
	if err := ParseArgs(fs, []string{"-addr", "flag:3"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if parsed.Addr != "flag:3" {
		t.Fatalf("addr = %q, want %q", parsed.Addr, "flag:3")
	}
}

func TestParseArgs_NilFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}

func TestRunWithTelemetry_RequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), " ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetry_PropagatesRunError(t *testing.T) {
	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), ServiceWorker, func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
