// Package dispatch drains the transactional outbox onto the event bus.
//
// The dispatcher leases due outbox events for one named consumer, publishes
// each to the bus with the event id as the idempotency key, and acknowledges
// the outcome: succeeded, retry with capped exponential backoff, or dead
// after the attempt budget is spent. Publishing is at-least-once; consumers
// de-duplicate by event id.
package dispatch

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/velladore/inkseal/internal/bus"
	"github.com/velladore/inkseal/internal/storage"
)

const (
	defaultConsumer      = "inkseal-dispatch"
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 10 * time.Minute
	defaultBatchSize     = 25
)

// Config controls the dispatch loop behavior.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	BatchSize     int
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Consumer) == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Dispatcher leases and publishes outbox events.
type Dispatcher struct {
	store     storage.OutboxStore
	publisher bus.Publisher
	cfg       Config
	clock     func() time.Time
	logf      func(format string, args ...any)
	tracer    trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the dispatcher clock.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger overrides the dispatcher logger.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(d *Dispatcher) {
		if logf != nil {
			d.logf = logf
		}
	}
}

// New creates a dispatcher over the outbox store and bus publisher.
func New(store storage.OutboxStore, publisher bus.Publisher, cfg Config, opts ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg.normalized(),
		clock:     time.Now,
		logf:      log.Printf,
		tracer:    otel.Tracer("inkseal/dispatch"),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.ProcessBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.logf("[DISPATCH] process batch: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessBatch leases one batch of due events and publishes them. It returns
// the number of events leased.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := d.tracer.Start(ctx, "ProcessBatch")
	defer span.End()

	now := d.clock().UTC()
	leased, err := d.store.LeaseOutboxEvents(ctx, d.cfg.Consumer, d.cfg.BatchSize, now, d.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("outbox.leased", len(leased)))

	for _, event := range leased {
		d.dispatchOne(ctx, event)
	}
	return len(leased), nil
}

// dispatchOne publishes a single leased event and acknowledges the outcome.
// Acknowledgment failures are logged; an expired lease hands the event to
// the next consumer.
func (d *Dispatcher) dispatchOne(ctx context.Context, event storage.OutboxEvent) {
	publishErr := d.publisher.Publish(bus.Subject(event.EventType), event.ID, []byte(event.PayloadJSON))
	now := d.clock().UTC()

	if publishErr == nil {
		if err := d.store.MarkOutboxSucceeded(ctx, event.ID, d.cfg.Consumer, now); err != nil {
			d.logf("[DISPATCH] ack %s succeeded: %v", event.ID, err)
		}
		return
	}

	// Retry and dead acks increment the stored attempt count.
	attempts := event.AttemptCount + 1
	if attempts >= d.cfg.MaxAttempts {
		d.logf("[DISPATCH] event %s dead after %d attempts: %v", event.ID, attempts, publishErr)
		if err := d.store.MarkOutboxDead(ctx, event.ID, d.cfg.Consumer, publishErr.Error(), now); err != nil {
			d.logf("[DISPATCH] ack %s dead: %v", event.ID, err)
		}
		return
	}

	delay := d.backoff(event.AttemptCount)
	d.logf("[DISPATCH] event %s retry in %s: %v", event.ID, delay, publishErr)
	if err := d.store.MarkOutboxRetry(ctx, event.ID, d.cfg.Consumer, now.Add(delay), publishErr.Error()); err != nil {
		d.logf("[DISPATCH] ack %s retry: %v", event.ID, err)
	}
}

// backoff doubles the retry delay per prior attempt, capped at RetryMaxDelay.
func (d *Dispatcher) backoff(priorAttempts int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 0; i < priorAttempts; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMaxDelay {
			return d.cfg.RetryMaxDelay
		}
	}
	return delay
}
