// Package worker parses worker command flags and runs the outbox dispatcher.
package worker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/velladore/inkseal/internal/bus"
	"github.com/velladore/inkseal/internal/dispatch"
	entrypoint "github.com/velladore/inkseal/internal/platform/cmd"
	"github.com/velladore/inkseal/internal/storage/sqlite"
)

// Config holds worker command configuration.
type Config struct {
	DBPath         string        `env:"INKSEAL_WORKER_DB_PATH" envDefault:"data/inkseal.db"`
	NATSURL        string        `env:"INKSEAL_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	ConnectTimeout time.Duration `env:"INKSEAL_NATS_CONNECT_TIMEOUT" envDefault:"30s"`
	Consumer       string        `env:"INKSEAL_WORKER_CONSUMER" envDefault:"inkseal-dispatch"`
	PollInterval   time.Duration `env:"INKSEAL_WORKER_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL       time.Duration `env:"INKSEAL_WORKER_LEASE_TTL" envDefault:"30s"`
	MaxAttempts    int           `env:"INKSEAL_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff   time.Duration `env:"INKSEAL_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay  time.Duration `env:"INKSEAL_WORKER_RETRY_MAX_DELAY" envDefault:"10m"`
	BatchSize      int           `env:"INKSEAL_WORKER_BATCH_SIZE" envDefault:"25"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "The NATS server URL")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "NATS connect retry window")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Outbox consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Outbox poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Outbox lease duration")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum publish attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Events leased per poll")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the outbox dispatcher loop.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(ctx context.Context) error {
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

		client, err := bus.ConnectJetStreamWithRetry(cfg.NATSURL, cfg.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		defer client.Close()
		if err := bus.EnsureStream(client.JS); err != nil {
			return fmt.Errorf("ensure event stream: %w", err)
		}

		dispatcher := dispatch.New(store, bus.JetStreamPublisher{JS: client.JS}, dispatch.Config{
			Consumer:      cfg.Consumer,
			PollInterval:  cfg.PollInterval,
			LeaseTTL:      cfg.LeaseTTL,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			RetryMaxDelay: cfg.RetryMaxDelay,
			BatchSize:     cfg.BatchSize,
		})
		log.Printf("dispatching outbox events as %s", cfg.Consumer)
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}
