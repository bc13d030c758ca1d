package envelope

import (
	"testing"

	apperrors "github.com/velladore/inkseal/internal/errors"
)

func newPendingSigner(t *testing.T) Signer {
	t.Helper()
	signer, err := NewSigner(NewSignerInput{
		EnvelopeID:      "env-1",
		Party:           externalParty(t, "a@example.com"),
		Role:            RoleSigner,
		InvitedByUserID: "owner-1",
	}, fixedNow, staticID("sig-1"))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func testEvidence() SignatureEvidence {
	return SignatureEvidence{
		DocumentHash:  "dddd",
		SignatureHash: "ssss",
		SignedRef:     "signed/env-1/sig-1",
		SigningKeyID:  "key-1",
		Algorithm:     "Ed25519",
		Network:       NetworkContext{IPAddress: "203.0.113.1", UserAgent: "cli/1.0"},
	}
}

func TestParty_TaggedUnion(t *testing.T) {
	internal, err := InternalParty("user-1")
	if err != nil {
		t.Fatalf("internal party: %v", err)
	}
	if internal.IsExternal() {
		t.Fatal("internal party reported external")
	}
	if internal.UserID() != "user-1" || internal.Email() != "" {
		t.Fatalf("internal party fields leaked: %q %q", internal.UserID(), internal.Email())
	}

	external, err := ExternalParty("a@example.com", "Ada")
	if err != nil {
		t.Fatalf("external party: %v", err)
	}
	if !external.IsExternal() {
		t.Fatal("external party reported internal")
	}
	if external.UserID() != "" {
		t.Fatalf("external party has user id %q", external.UserID())
	}
}

func TestParty_ConstructionValidation(t *testing.T) {
	if _, err := InternalParty("  "); apperrors.CodeOf(err) != apperrors.CodeSignerInvalidParty {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerInvalidParty)
	}
	if _, err := ExternalParty("", "Ada"); apperrors.CodeOf(err) != apperrors.CodeSignerInvalidParty {
		t.Fatal("expected invalid party for empty email")
	}
	if _, err := ExternalParty("not-an-email", "Ada"); apperrors.CodeOf(err) != apperrors.CodeSignerInvalidParty {
		t.Fatal("expected invalid party for malformed email")
	}
	if _, err := ExternalParty("a@example.com", ""); apperrors.CodeOf(err) != apperrors.CodeSignerInvalidParty {
		t.Fatal("expected invalid party for empty name")
	}
}

func TestSign_RequiresConsent(t *testing.T) {
	signer := newPendingSigner(t)
	err := signer.Sign(testEvidence(), testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerConsentMissing {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerConsentMissing)
	}
	if signer.Status != SignerStatusPending {
		t.Fatalf("status = %s, want PENDING", SignerStatusLabel(signer.Status))
	}
}

func TestSign_ThenSignAgain(t *testing.T) {
	signer := newPendingSigner(t)
	signTestSigner(t, &signer)

	err := signer.Sign(testEvidence(), testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerAlreadySigned {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerAlreadySigned)
	}
}

func TestDecline_ThenSign(t *testing.T) {
	signer := newPendingSigner(t)
	if err := signer.Decline("terms unacceptable", NetworkContext{}, testNow); err != nil {
		t.Fatalf("decline: %v", err)
	}
	err := signer.Sign(testEvidence(), testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerAlreadyDeclined {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerAlreadyDeclined)
	}
}

func TestSign_ThenDecline(t *testing.T) {
	signer := newPendingSigner(t)
	signTestSigner(t, &signer)
	err := signer.Decline("changed my mind", NetworkContext{}, testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerAlreadySigned {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerAlreadySigned)
	}
}

func TestRecordConsent_Once(t *testing.T) {
	signer := newPendingSigner(t)
	if err := signer.RecordConsent("I agree", NetworkContext{IPAddress: "203.0.113.1"}, testNow); err != nil {
		t.Fatalf("record consent: %v", err)
	}
	if !signer.ConsentGiven || signer.ConsentedAt == nil {
		t.Fatal("consent not recorded")
	}
	err := signer.RecordConsent("I agree again", NetworkContext{}, testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerAlreadyConsented {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerAlreadyConsented)
	}
}

func TestRecordConsent_RequiresText(t *testing.T) {
	signer := newPendingSigner(t)
	err := signer.RecordConsent("   ", NetworkContext{}, testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerConsentTextEmpty {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerConsentTextEmpty)
	}
}

func TestSign_RejectsIncompleteEvidence(t *testing.T) {
	signer := newPendingSigner(t)
	if err := signer.RecordConsent("I agree", NetworkContext{}, testNow); err != nil {
		t.Fatalf("record consent: %v", err)
	}
	incomplete := testEvidence()
	incomplete.SignatureHash = ""
	err := signer.Sign(incomplete, testNow)
	if apperrors.CodeOf(err) != apperrors.CodeSignerEvidenceIncomplete {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSignerEvidenceIncomplete)
	}
	if signer.Status != SignerStatusPending {
		t.Fatalf("status = %s, want PENDING after rejected sign", SignerStatusLabel(signer.Status))
	}
}

func TestSign_RecordsEvidence(t *testing.T) {
	signer := newPendingSigner(t)
	signTestSigner(t, &signer)

	if signer.Status != SignerStatusSigned {
		t.Fatalf("status = %s, want SIGNED", SignerStatusLabel(signer.Status))
	}
	if signer.DocumentHash != "dddd" || signer.SignatureHash != "ssss" {
		t.Fatalf("evidence hashes = %q/%q", signer.DocumentHash, signer.SignatureHash)
	}
	if signer.SigningKeyID != "key-1" || signer.Algorithm != "Ed25519" {
		t.Fatalf("key/alg = %q/%q", signer.SigningKeyID, signer.Algorithm)
	}
	if signer.SignedAt == nil {
		t.Fatal("signed at not recorded")
	}
}

func TestRequired_ByRole(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleSigner, true},
		{RoleWitness, true},
		{RoleViewer, false},
	}
	for _, tt := range tests {
		signer := Signer{Role: tt.role}
		if got := signer.Required(); got != tt.want {
			t.Fatalf("%s required = %v, want %v", RoleLabel(tt.role), got, tt.want)
		}
	}
}

func TestRecordReminder(t *testing.T) {
	signer := newPendingSigner(t)
	signer.RecordReminder(testNow)
	signer.RecordReminder(testNow)
	if signer.ReminderCount != 2 {
		t.Fatalf("reminder count = %d, want 2", signer.ReminderCount)
	}
	if signer.LastRemindedAt == nil || !signer.LastRemindedAt.Equal(testNow) {
		t.Fatalf("last reminded at = %v, want %v", signer.LastRemindedAt, testNow)
	}
}
