package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/velladore/inkseal/internal/blob"
	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/platform/requestctx"
	"github.com/velladore/inkseal/internal/signing"
	"github.com/velladore/inkseal/internal/storage/sqlite"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeClock is a mutable clock shared by the coordinator and the store.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() (string, error) {
	counter := 0
	return func() (string, error) {
		counter++
		return fmt.Sprintf("%s-%04d", prefix, counter), nil
	}
}

type testEnv struct {
	coordinator *Coordinator
	store       *sqlite.Store
	blobs       blob.Store
	grants      invite.GrantConfig
	clock       *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{now: testNow}

	store, err := sqlite.Open(
		filepath.Join(t.TempDir(), "inkseal.db"),
		sqlite.WithClock(clock.Now),
		sqlite.WithIDGenerator(sequentialIDs("rec")),
	)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Errorf("close store: %v", closeErr)
		}
	})

	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate grant key: %v", err)
	}
	grants := invite.GrantConfig{
		Issuer:     "inkseal-test",
		Audience:   "inkseal-signing",
		PrivateKey: private,
		PublicKey:  public,
		Now:        clock.Now,
	}

	_, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	keyring, err := signing.NewKeyring(map[string]ed25519.PrivateKey{"v1": signingKey}, "v1")
	if err != nil {
		t.Fatalf("build keyring: %v", err)
	}

	coordinator, err := New(store, blobs, keyring, grants, Config{
		SigningKeyID:        "v1",
		MaxReminders:        2,
		ReminderMinInterval: 24 * time.Hour,
	}, WithClock(clock.Now), WithIDGenerator(sequentialIDs("svc")))
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}

	return &testEnv{
		coordinator: coordinator,
		store:       store,
		blobs:       blobs,
		grants:      grants,
		clock:       clock,
	}
}

func ownerContext(userID string) context.Context {
	ctx := requestctx.WithUserID(context.Background(), userID)
	return requestctx.WithNetwork(ctx, requestctx.Network{
		IPAddress: "198.51.100.7",
		UserAgent: "inkseal-test/1.0",
		Country:   "CA",
	})
}

func anonymousContext() context.Context {
	return requestctx.WithNetwork(context.Background(), requestctx.Network{
		IPAddress: "203.0.113.20",
		UserAgent: "inkseal-test/1.0",
	})
}

var flattenedDoc = []byte("%PDF-1.7 flattened lease agreement")

// newDraftEnvelope creates a draft owned by user-1 with the owner as an
// internal signer and one external signer, and stores the flattened bytes.
func newDraftEnvelope(t *testing.T, te *testEnv, policy envelope.OrderPolicy) envelope.Envelope {
	t.Helper()
	ctx := ownerContext("user-1")

	ref := "envelopes/flattened/lease.pdf"
	if err := te.blobs.Put(ctx, ref, flattenedDoc); err != nil {
		t.Fatalf("put flattened doc: %v", err)
	}

	env, err := te.coordinator.CreateEnvelope(ctx, CreateEnvelopeInput{
		Title:         "Lease agreement",
		OrderPolicy:   policy,
		FlattenedRef:  ref,
		FlattenedHash: blob.Digest(flattenedDoc),
	})
	if err != nil {
		t.Fatalf("CreateEnvelope: %v", err)
	}
	if len(env.Signers) != 0 {
		t.Fatalf("new envelope has %d signers, want 0", len(env.Signers))
	}

	env, err = te.coordinator.UpdateEnvelope(ctx, UpdateEnvelopeInput{
		EnvelopeID: env.ID,
		AddSigners: []AddSignerInput{
			{UserID: "user-1", Role: envelope.RoleSigner, Order: 1},
			{Email: "tenant@example.com", Name: "Tenant", Role: envelope.RoleSigner, Order: 2},
		},
	})
	if err != nil {
		t.Fatalf("UpdateEnvelope: %v", err)
	}
	return env
}

func externalSigner(t *testing.T, env envelope.Envelope) envelope.Signer {
	t.Helper()
	for _, signer := range env.Signers {
		if signer.Party.IsExternal() {
			return signer
		}
	}
	t.Fatal("envelope has no external signer")
	return envelope.Signer{}
}

func ownerSigner(t *testing.T, env envelope.Envelope) envelope.Signer {
	t.Helper()
	owner := env.OwnerSigner()
	if owner == nil {
		t.Fatal("envelope has no owner signer")
	}
	return *owner
}

// sendWithInvitation sends the draft and returns the external signer's
// invitation.
func sendWithInvitation(t *testing.T, te *testEnv, env *envelope.Envelope) Invitation {
	t.Helper()
	result, err := te.coordinator.SendEnvelope(ownerContext("user-1"), SendEnvelopeInput{
		EnvelopeID: env.ID,
	})
	if err != nil {
		t.Fatalf("SendEnvelope: %v", err)
	}
	*env = result.Envelope
	if len(result.Invitations) != 1 {
		t.Fatalf("invitations len = %d, want 1", len(result.Invitations))
	}
	return result.Invitations[0]
}

func wantCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if !errors.Is(err, apperrors.New(code, "")) {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

func TestCreateEnvelopeRequiresUser(t *testing.T) {
	te := newTestEnv(t)

	_, err := te.coordinator.CreateEnvelope(anonymousContext(), CreateEnvelopeInput{
		Title: "Lease agreement",
	})
	wantCode(t, err, apperrors.CodeAccessDenied)
}

func TestUpdateEnvelopeAddAndRemoveSigners(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	if len(env.Signers) != 2 {
		t.Fatalf("signers len = %d, want 2", len(env.Signers))
	}

	external := externalSigner(t, env)
	updated, err := te.coordinator.UpdateEnvelope(ownerContext("user-1"), UpdateEnvelopeInput{
		EnvelopeID:      env.ID,
		Title:           "Amended lease agreement",
		RemoveSignerIDs: []string{external.ID},
	})
	if err != nil {
		t.Fatalf("UpdateEnvelope: %v", err)
	}
	if updated.Title != "Amended lease agreement" {
		t.Fatalf("title = %q", updated.Title)
	}
	if len(updated.Signers) != 1 {
		t.Fatalf("signers len = %d, want 1", len(updated.Signers))
	}
}

func TestUpdateEnvelopeWrongOwner(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)

	_, err := te.coordinator.UpdateEnvelope(ownerContext("user-2"), UpdateEnvelopeInput{
		EnvelopeID: env.ID,
		Title:      "Hijacked",
	})
	wantCode(t, err, apperrors.CodeAccessDenied)
}

func TestUpdateEnvelopeAfterSend(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	sendWithInvitation(t, te, &env)

	_, err := te.coordinator.UpdateEnvelope(ownerContext("user-1"), UpdateEnvelopeInput{
		EnvelopeID: env.ID,
		Title:      "Too late",
	})
	wantCode(t, err, apperrors.CodeEnvelopeStatusDisallowsOp)
}

func TestGetEnvelopeOwnerAccess(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)

	view, err := te.coordinator.GetEnvelope(ownerContext("user-1"), GetEnvelopeInput{EnvelopeID: env.ID})
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if view.Access != AccessOwner {
		t.Fatalf("access = %q, want owner", view.Access)
	}

	_, err = te.coordinator.GetEnvelope(ownerContext("user-2"), GetEnvelopeInput{EnvelopeID: env.ID})
	wantCode(t, err, apperrors.CodeAccessDenied)
}

func TestListEnvelopes(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	sendWithInvitation(t, te, &env)
	newDraftEnvelope(t, te, envelope.OrderPolicyNone)

	page, err := te.coordinator.ListEnvelopes(ownerContext("user-1"), ListEnvelopesInput{})
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(page.Envelopes) != 2 {
		t.Fatalf("envelopes len = %d, want 2", len(page.Envelopes))
	}

	sent, err := te.coordinator.ListEnvelopes(ownerContext("user-1"), ListEnvelopesInput{
		Status: envelope.StatusSent,
	})
	if err != nil {
		t.Fatalf("ListEnvelopes sent: %v", err)
	}
	if len(sent.Envelopes) != 1 || sent.Envelopes[0].ID != env.ID {
		t.Fatalf("sent page = %+v", sent.Envelopes)
	}

	other, err := te.coordinator.ListEnvelopes(ownerContext("user-2"), ListEnvelopesInput{})
	if err != nil {
		t.Fatalf("ListEnvelopes other user: %v", err)
	}
	if len(other.Envelopes) != 0 {
		t.Fatalf("other user sees %d envelopes", len(other.Envelopes))
	}
}
