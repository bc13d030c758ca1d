// Package invite provides invitation tokens and their bearer grants.
//
// A token row is the source of truth for lifecycle state (expiry, single
// use, revocation); the string actually handed to an external participant
// is a signed grant (see grant.go) that references the row by id.
package invite

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/platform/id"
)

// MaxTokenLifetime caps how far in the future a token may expire.
const MaxTokenLifetime = 365 * 24 * time.Hour

// Purpose distinguishes signing tokens from viewer tokens.
type Purpose int

const (
	// PurposeUnspecified represents an invalid purpose.
	PurposeUnspecified Purpose = iota
	// PurposeSign grants a single signing action.
	PurposeSign
	// PurposeView grants read-only access, reusable until expiry.
	PurposeView
)

// PurposeLabel returns the string label for a token purpose.
func PurposeLabel(purpose Purpose) string {
	switch purpose {
	case PurposeSign:
		return "SIGN"
	case PurposeView:
		return "VIEW"
	default:
		return "UNSPECIFIED"
	}
}

// PurposeFromLabel converts a purpose label to a Purpose value.
func PurposeFromLabel(label string) Purpose {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "SIGN":
		return PurposeSign
	case "VIEW":
		return PurposeView
	default:
		return PurposeUnspecified
	}
}

// Token is a single-purpose, time-boxed credential bound to one signer.
type Token struct {
	ID              string
	EnvelopeID      string
	SignerID        string
	Purpose         Purpose
	CreatedByUserID string
	ExpiresAt       time.Time
	UsedAt          *time.Time
	RevokedAt       *time.Time
	RevokeReason    string
	CreatedAt       time.Time
}

// IssueTokenInput describes the metadata needed to issue a token.
type IssueTokenInput struct {
	EnvelopeID      string
	SignerID        string
	Purpose         Purpose
	CreatedByUserID string
	ExpiresAt       time.Time
}

// IssueToken creates a token with a generated ID.
//
// Expiry must be strictly in the future and at most one year out.
func IssueToken(input IssueTokenInput, now func() time.Time, idGenerator func() (string, error)) (Token, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return Token{}, apperrors.New(apperrors.CodeTokenInvalid, "envelope id is required")
	}
	input.SignerID = strings.TrimSpace(input.SignerID)
	if input.SignerID == "" {
		return Token{}, apperrors.New(apperrors.CodeTokenInvalid, "signer id is required")
	}
	if PurposeLabel(input.Purpose) == "UNSPECIFIED" {
		return Token{}, apperrors.New(apperrors.CodeTokenInvalid, "token purpose is invalid")
	}

	issuedAt := now().UTC()
	expiresAt := input.ExpiresAt.UTC()
	if !expiresAt.After(issuedAt) {
		return Token{}, apperrors.New(apperrors.CodeTokenExpiryNotFuture, "token expiry must be in the future")
	}
	if expiresAt.After(issuedAt.Add(MaxTokenLifetime)) {
		return Token{}, apperrors.New(apperrors.CodeTokenExpiryTooFar, "token expiry exceeds the one-year cap")
	}

	tokenID, err := idGenerator()
	if err != nil {
		return Token{}, fmt.Errorf("generate token id: %w", err)
	}

	return Token{
		ID:              tokenID,
		EnvelopeID:      input.EnvelopeID,
		SignerID:        input.SignerID,
		Purpose:         input.Purpose,
		CreatedByUserID: strings.TrimSpace(input.CreatedByUserID),
		ExpiresAt:       expiresAt,
		CreatedAt:       issuedAt,
	}, nil
}

// ValidateForSigning checks a token for single-use signing access.
//
// Check order is fixed: expiry, then used, then revoked.
func (t *Token) ValidateForSigning(now time.Time) error {
	if t == nil || t.ID == "" {
		return apperrors.New(apperrors.CodeTokenInvalid, "token is missing")
	}
	if t.Purpose != PurposeSign {
		return apperrors.New(apperrors.CodeTokenPurposeDisallowed, "token cannot be used for signing")
	}
	if !t.ExpiresAt.After(now.UTC()) {
		return apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	}
	if t.UsedAt != nil {
		return apperrors.New(apperrors.CodeTokenUsed, "token was already used")
	}
	if t.RevokedAt != nil {
		return apperrors.New(apperrors.CodeTokenRevoked, "token was revoked")
	}
	return nil
}

// ValidateForViewing checks a token for read-only access.
//
// Viewing tolerates a used token but never an expired or revoked one.
func (t *Token) ValidateForViewing(now time.Time) error {
	if t == nil || t.ID == "" {
		return apperrors.New(apperrors.CodeTokenInvalid, "token is missing")
	}
	if !t.ExpiresAt.After(now.UTC()) {
		return apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	}
	if t.RevokedAt != nil {
		return apperrors.New(apperrors.CodeTokenRevoked, "token was revoked")
	}
	return nil
}

// MarkUsed records consumption. Signing tokens are single use; a viewer
// token stays valid after viewing, so only its first use is recorded.
func (t *Token) MarkUsed(now time.Time) error {
	if t == nil || t.ID == "" {
		return apperrors.New(apperrors.CodeTokenInvalid, "token is missing")
	}
	var err error
	if t.Purpose == PurposeSign {
		err = t.ValidateForSigning(now)
	} else {
		err = t.ValidateForViewing(now)
	}
	if err != nil {
		return err
	}
	if t.UsedAt == nil {
		usedAt := now.UTC()
		t.UsedAt = &usedAt
	}
	return nil
}

// Revoke withdraws the token permanently.
func (t *Token) Revoke(reason string, now time.Time) error {
	if t == nil || t.ID == "" {
		return apperrors.New(apperrors.CodeTokenInvalid, "token is missing")
	}
	if t.RevokedAt != nil {
		return apperrors.New(apperrors.CodeTokenRevoked, "token was already revoked")
	}
	revokedAt := now.UTC()
	t.RevokedAt = &revokedAt
	t.RevokeReason = strings.TrimSpace(reason)
	return nil
}
