package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velladore/inkseal/internal/storage"
)

func enqueueTestEvent(t *testing.T, store *Store, id, eventType, dedupeKey string) storage.OutboxEvent {
	t.Helper()
	event := storage.OutboxEvent{
		ID:          id,
		EventType:   eventType,
		PayloadJSON: `{"envelope_id":"env-1"}`,
		DedupeKey:   dedupeKey,
	}
	if err := store.EnqueueOutboxEvent(context.Background(), event); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}
	stored, err := store.GetOutboxEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOutboxEvent: %v", err)
	}
	return stored
}

func TestEnqueueOutboxEventDefaults(t *testing.T) {
	store := openTempStore(t)

	event := enqueueTestEvent(t, store, "evt-1", "envelope.sent", "")
	if event.Status != storage.OutboxStatusPending {
		t.Fatalf("status = %q, want pending", event.Status)
	}
	if event.AttemptCount != 0 {
		t.Fatalf("attempt count = %d, want 0", event.AttemptCount)
	}
	if event.PayloadJSON != `{"envelope_id":"env-1"}` {
		t.Fatalf("payload = %q", event.PayloadJSON)
	}
	if !event.NextAttemptAt.Equal(event.CreatedAt) {
		t.Fatalf("next attempt %v != created %v", event.NextAttemptAt, event.CreatedAt)
	}
}

func TestEnqueueOutboxEventDedupe(t *testing.T) {
	store := openTempStore(t)

	enqueueTestEvent(t, store, "evt-1", "envelope.sent", "envelope.sent:env-1")
	if err := store.EnqueueOutboxEvent(context.Background(), storage.OutboxEvent{
		ID:        "evt-2",
		EventType: "envelope.sent",
		DedupeKey: "envelope.sent:env-1",
	}); err != nil {
		t.Fatalf("EnqueueOutboxEvent duplicate: %v", err)
	}

	if _, err := store.GetOutboxEvent(context.Background(), "evt-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected duplicate dropped, got %v", err)
	}
	if _, err := store.GetOutboxEvent(context.Background(), "evt-1"); err != nil {
		t.Fatalf("GetOutboxEvent original: %v", err)
	}
}

func TestEnqueueOutboxEventEmptyDedupeKeysDoNotCollide(t *testing.T) {
	store := openTempStore(t)

	enqueueTestEvent(t, store, "evt-1", "signer.reminded", "")
	enqueueTestEvent(t, store, "evt-2", "signer.reminded", "")

	leased, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, testNow, time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("leased len = %d, want 2", len(leased))
	}
}

func TestLeaseOutboxEvents(t *testing.T) {
	store := openTempStore(t)
	enqueueTestEvent(t, store, "evt-1", "envelope.sent", "")

	leased, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, testNow, time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased len = %d, want 1", len(leased))
	}
	event := leased[0]
	if event.Status != storage.OutboxStatusLeased {
		t.Fatalf("status = %q, want leased", event.Status)
	}
	if event.LeaseOwner != "worker-1" {
		t.Fatalf("lease owner = %q", event.LeaseOwner)
	}
	if event.LeaseExpiresAt == nil || !event.LeaseExpiresAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("lease expires at = %v", event.LeaseExpiresAt)
	}

	// A live lease is exclusive.
	second, err := store.LeaseOutboxEvents(context.Background(), "worker-2", 10, testNow.Add(30*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents second consumer: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second lease len = %d, want 0", len(second))
	}

	// An expired lease is claimable by another consumer.
	reclaimed, err := store.LeaseOutboxEvents(context.Background(), "worker-2", 10, testNow.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents after expiry: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("reclaimed len = %d, want 1", len(reclaimed))
	}
	if reclaimed[0].LeaseOwner != "worker-2" {
		t.Fatalf("reclaimed owner = %q", reclaimed[0].LeaseOwner)
	}
}

func TestLeaseOutboxEventsSkipsFutureAttempts(t *testing.T) {
	store := openTempStore(t)
	if err := store.EnqueueOutboxEvent(context.Background(), storage.OutboxEvent{
		ID:            "evt-1",
		EventType:     "envelope.sent",
		NextAttemptAt: testNow.Add(time.Hour),
	}); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}

	leased, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, testNow, time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("leased len = %d, want 0", len(leased))
	}

	due, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, testNow.Add(2*time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents after due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due len = %d, want 1", len(due))
	}
}

func TestMarkOutboxSucceeded(t *testing.T) {
	store := openTempStore(t)
	enqueueTestEvent(t, store, "evt-1", "envelope.sent", "")
	if _, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 1, testNow, time.Minute); err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}

	processedAt := testNow.Add(time.Second)
	if err := store.MarkOutboxSucceeded(context.Background(), "evt-1", "worker-1", processedAt); err != nil {
		t.Fatalf("MarkOutboxSucceeded: %v", err)
	}

	event, err := store.GetOutboxEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetOutboxEvent: %v", err)
	}
	if event.Status != storage.OutboxStatusSucceeded {
		t.Fatalf("status = %q, want succeeded", event.Status)
	}
	if event.LeaseOwner != "" || event.LeaseExpiresAt != nil {
		t.Fatalf("lease not cleared: owner=%q expires=%v", event.LeaseOwner, event.LeaseExpiresAt)
	}
	if event.ProcessedAt == nil || !event.ProcessedAt.Equal(processedAt) {
		t.Fatalf("processed at = %v", event.ProcessedAt)
	}
}

func TestMarkOutboxSucceededRequiresLeaseOwner(t *testing.T) {
	store := openTempStore(t)
	enqueueTestEvent(t, store, "evt-1", "envelope.sent", "")
	if _, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 1, testNow, time.Minute); err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}

	err := store.MarkOutboxSucceeded(context.Background(), "evt-1", "worker-2", testNow)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for wrong owner, got %v", err)
	}
}

func TestMarkOutboxRetry(t *testing.T) {
	store := openTempStore(t)
	enqueueTestEvent(t, store, "evt-1", "envelope.sent", "")
	if _, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 1, testNow, time.Minute); err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}

	nextAttemptAt := testNow.Add(5 * time.Minute)
	if err := store.MarkOutboxRetry(context.Background(), "evt-1", "worker-1", nextAttemptAt, "publish timeout"); err != nil {
		t.Fatalf("MarkOutboxRetry: %v", err)
	}

	event, err := store.GetOutboxEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetOutboxEvent: %v", err)
	}
	if event.Status != storage.OutboxStatusPending {
		t.Fatalf("status = %q, want pending", event.Status)
	}
	if event.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", event.AttemptCount)
	}
	if !event.NextAttemptAt.Equal(nextAttemptAt) {
		t.Fatalf("next attempt at = %v", event.NextAttemptAt)
	}
	if event.LastError != "publish timeout" {
		t.Fatalf("last error = %q", event.LastError)
	}

	// The retried event stays out of reach until its next attempt time.
	early, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 1, testNow.Add(time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents early: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("early lease len = %d, want 0", len(early))
	}
}

func TestMarkOutboxDead(t *testing.T) {
	store := openTempStore(t)
	enqueueTestEvent(t, store, "evt-1", "envelope.sent", "")
	if _, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 1, testNow, time.Minute); err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}

	processedAt := testNow.Add(time.Second)
	if err := store.MarkOutboxDead(context.Background(), "evt-1", "worker-1", "stream missing", processedAt); err != nil {
		t.Fatalf("MarkOutboxDead: %v", err)
	}

	event, err := store.GetOutboxEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("GetOutboxEvent: %v", err)
	}
	if event.Status != storage.OutboxStatusDead {
		t.Fatalf("status = %q, want dead", event.Status)
	}
	if event.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", event.AttemptCount)
	}
	if event.LastError != "stream missing" {
		t.Fatalf("last error = %q", event.LastError)
	}

	// Dead events are never leased again.
	leased, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, testNow.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("LeaseOutboxEvents: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("leased len = %d, want 0", len(leased))
	}
}
