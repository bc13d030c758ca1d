package invite

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
)

func testGrantConfig(t *testing.T) GrantConfig {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return GrantConfig{
		Issuer:     "inkseal-test",
		Audience:   "inkseal-signing",
		PrivateKey: private,
		PublicKey:  public,
		Now:        fixedNow,
	}
}

func TestIssueAndValidateGrant(t *testing.T) {
	cfg := testGrantConfig(t)
	token := issueTestToken(t, PurposeSign)

	grant, err := IssueGrant(token, cfg)
	if err != nil {
		t.Fatalf("IssueGrant: %v", err)
	}

	claims, err := ValidateGrant(grant, cfg)
	if err != nil {
		t.Fatalf("ValidateGrant: %v", err)
	}
	if claims.TokenID != token.ID {
		t.Fatalf("expected token id %q, got %q", token.ID, claims.TokenID)
	}
	if claims.EnvelopeID != token.EnvelopeID {
		t.Fatalf("expected envelope id %q, got %q", token.EnvelopeID, claims.EnvelopeID)
	}
	if claims.SignerID != token.SignerID {
		t.Fatalf("expected signer id %q, got %q", token.SignerID, claims.SignerID)
	}
	if claims.Purpose != PurposeSign {
		t.Fatalf("expected sign purpose, got %v", claims.Purpose)
	}
	if !claims.ExpiresAt.Equal(token.ExpiresAt.UTC()) {
		t.Fatalf("expected expiry %v, got %v", token.ExpiresAt.UTC(), claims.ExpiresAt)
	}
}

func TestValidateGrantRejectsWrongKey(t *testing.T) {
	cfg := testGrantConfig(t)
	other := testGrantConfig(t)
	token := issueTestToken(t, PurposeSign)

	grant, err := IssueGrant(token, cfg)
	if err != nil {
		t.Fatalf("IssueGrant: %v", err)
	}

	_, err = ValidateGrant(grant, other)
	if !errors.Is(err, apperrors.New(apperrors.CodeTokenGrantInvalid, "")) {
		t.Fatalf("expected grant invalid error, got %v", err)
	}
}

func TestValidateGrantRejectsIssuerMismatch(t *testing.T) {
	cfg := testGrantConfig(t)
	token := issueTestToken(t, PurposeSign)

	grant, err := IssueGrant(token, cfg)
	if err != nil {
		t.Fatalf("IssueGrant: %v", err)
	}

	verifier := cfg
	verifier.Issuer = "someone-else"
	_, err = ValidateGrant(grant, verifier)
	if !errors.Is(err, apperrors.New(apperrors.CodeTokenGrantMismatch, "")) {
		t.Fatalf("expected grant mismatch error, got %v", err)
	}
}

func TestValidateGrantRejectsAudienceMismatch(t *testing.T) {
	cfg := testGrantConfig(t)
	token := issueTestToken(t, PurposeView)

	grant, err := IssueGrant(token, cfg)
	if err != nil {
		t.Fatalf("IssueGrant: %v", err)
	}

	verifier := cfg
	verifier.Audience = "another-service"
	_, err = ValidateGrant(grant, verifier)
	if !errors.Is(err, apperrors.New(apperrors.CodeTokenGrantMismatch, "")) {
		t.Fatalf("expected grant mismatch error, got %v", err)
	}
}

func TestValidateGrantExpired(t *testing.T) {
	cfg := testGrantConfig(t)
	token := issueTestToken(t, PurposeSign)

	grant, err := IssueGrant(token, cfg)
	if err != nil {
		t.Fatalf("IssueGrant: %v", err)
	}

	verifier := cfg
	verifier.Now = func() time.Time { return testNow.Add(72 * time.Hour) }
	_, err = ValidateGrant(grant, verifier)
	if !errors.Is(err, apperrors.New(apperrors.CodeTokenExpired, "")) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestValidateGrantRejectsGarbage(t *testing.T) {
	cfg := testGrantConfig(t)
	_, err := ValidateGrant("not-a-grant", cfg)
	if !errors.Is(err, apperrors.New(apperrors.CodeTokenGrantInvalid, "")) {
		t.Fatalf("expected grant invalid error, got %v", err)
	}
}

func TestIssueGrantRequiresSigner(t *testing.T) {
	cfg := testGrantConfig(t)
	cfg.PrivateKey = nil
	token := issueTestToken(t, PurposeSign)
	if _, err := IssueGrant(token, cfg); err == nil {
		t.Fatal("expected error without private key")
	}
}
