package blob

import (
	"context"
	"errors"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "envelopes/env-1/flattened.pdf", []byte("document bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := store.Exists(ctx, "envelopes/env-1/flattened.pdf")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("expected blob to exist")
	}

	data, err := store.Get(ctx, "envelopes/env-1/flattened.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "document bytes" {
		t.Fatalf("unexpected blob content %q", data)
	}
}

func TestFSStoreGetMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	_, err = store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreOverwrite(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "ref", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "ref", []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(ctx, "ref")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestDigest(t *testing.T) {
	first := Digest([]byte("document"))
	second := Digest([]byte("document"))
	if first != second {
		t.Fatalf("expected deterministic digest, got %s and %s", first, second)
	}
	if first == Digest([]byte("other")) {
		t.Fatal("expected digest to change with content")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256 digest, got %d chars", len(first))
	}
}
