package audit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("evt-%d", n), nil
	}
}

func buildTestChain(t *testing.T, length int) []Event {
	t.Helper()
	nextID := sequentialIDs()
	events := make([]Event, 0, length)
	prevHash := ""
	for i := 0; i < length; i++ {
		evt, err := NewEvent(NewEventInput{
			EnvelopeID:  "env-1",
			Type:        TypeEnvelopeUpdated,
			ActorType:   ActorTypeUser,
			ActorID:     "user-1",
			PayloadJSON: []byte(fmt.Sprintf(`{"step":%d}`, i)),
		}, prevHash, fixedNow, nextID)
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		evt.Seq = uint64(i + 1)
		events = append(events, evt)
		prevHash = evt.ContentHash
	}
	return events
}

func TestNewEventHashesDeterministically(t *testing.T) {
	input := NewEventInput{
		EnvelopeID:  "env-1",
		Type:        TypeEnvelopeCreated,
		ActorType:   ActorTypeUser,
		ActorID:     "user-1",
		PayloadJSON: []byte(`{"title":"Lease"}`),
	}
	first, err := NewEvent(input, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	second, err := NewEvent(input, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if first.ContentHash != second.ContentHash {
		t.Fatalf("expected deterministic hash, got %s and %s", first.ContentHash, second.ContentHash)
	}
	if first.ContentHash == "" {
		t.Fatal("expected a content hash")
	}
}

func TestNewEventHashChangesWithPrevHash(t *testing.T) {
	input := NewEventInput{
		EnvelopeID: "env-1",
		Type:       TypeEnvelopeCreated,
		ActorType:  ActorTypeUser,
	}
	first, err := NewEvent(input, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	linked, err := NewEvent(input, "somehash", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if first.ContentHash == linked.ContentHash {
		t.Fatal("expected hash to change when prev hash changes")
	}
}

func TestNewEventHashChangesWithNetworkFields(t *testing.T) {
	base := NewEventInput{
		EnvelopeID: "env-1",
		Type:       TypeSignerSigned,
		ActorType:  ActorTypeSigner,
		SignerID:   "sgn-1",
	}
	baseline, err := NewEvent(base, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	withNetwork := base
	withNetwork.IPAddress = "203.0.113.9"
	changed, err := NewEvent(withNetwork, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if baseline.ContentHash == changed.ContentHash {
		t.Fatal("expected hash to change when network fields change")
	}
}

func TestNewEventDefaultsActorType(t *testing.T) {
	evt, err := NewEvent(NewEventInput{
		EnvelopeID: "env-1",
		Type:       TypeEnvelopeSent,
	}, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if evt.ActorType != ActorTypeSystem {
		t.Fatalf("expected system actor default, got %q", evt.ActorType)
	}
}

func TestNewEventDefaultsDescription(t *testing.T) {
	evt, err := NewEvent(NewEventInput{
		EnvelopeID: "env-1",
		Type:       TypeSignerSigned,
	}, "", fixedNow, staticID("evt-1"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if evt.Description != "Signer signed the document" {
		t.Fatalf("description = %q, want type default", evt.Description)
	}

	custom, err := NewEvent(NewEventInput{
		EnvelopeID:  "env-1",
		Type:        TypeSignerSigned,
		Description: "Countersignature recorded",
	}, "", fixedNow, staticID("evt-2"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if custom.Description != "Countersignature recorded" {
		t.Fatalf("description = %q, want override", custom.Description)
	}
}

func TestVerifyChain(t *testing.T) {
	events := buildTestChain(t, 4)
	if err := VerifyChain(events); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
}

func TestVerifyChainEmpty(t *testing.T) {
	if err := VerifyChain(nil); err != nil {
		t.Fatalf("expected empty chain to verify, got %v", err)
	}
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	events := buildTestChain(t, 3)
	events[1].PayloadJSON = []byte(`{"step":99}`)
	err := VerifyChain(events)
	if !errors.Is(err, apperrors.New(apperrors.CodeAuditChainBroken, "")) {
		t.Fatalf("expected chain broken error, got %v", err)
	}
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	events := buildTestChain(t, 3)
	events[2].PrevHash = "forged"
	err := VerifyChain(events)
	if !errors.Is(err, apperrors.New(apperrors.CodeAuditChainBroken, "")) {
		t.Fatalf("expected chain broken error, got %v", err)
	}
}

func TestVerifyChainDetectsRemovedEvent(t *testing.T) {
	events := buildTestChain(t, 3)
	truncated := append([]Event{events[0]}, events[2])
	err := VerifyChain(truncated)
	if !errors.Is(err, apperrors.New(apperrors.CodeAuditChainBroken, "")) {
		t.Fatalf("expected chain broken error, got %v", err)
	}
}

func TestTypeDomain(t *testing.T) {
	if got := TypeSignerSigned.Domain(); got != "signer" {
		t.Fatalf("expected signer domain, got %q", got)
	}
	if got := Type("bare").Domain(); got != "bare" {
		t.Fatalf("expected bare domain, got %q", got)
	}
}

func staticID(id string) func() (string, error) {
	return func() (string, error) { return id, nil }
}
