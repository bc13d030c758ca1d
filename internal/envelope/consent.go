package envelope

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/platform/id"
)

// Consent is the recorded acknowledgment a signer gives before signing.
//
// The record is linked to the resulting signature hash once signing succeeds
// so the evidentiary trail connects "what was agreed" to "what was signed".
type Consent struct {
	ID            string
	EnvelopeID    string
	SignerID      string
	Text          string
	Network       NetworkContext
	SignatureHash string
	CreatedAt     time.Time
}

// NewConsentInput describes a consent acknowledgment.
type NewConsentInput struct {
	EnvelopeID string
	SignerID   string
	Text       string
	Network    NetworkContext
}

// NewConsent creates a consent record with a generated ID.
func NewConsent(input NewConsentInput, now func() time.Time, idGenerator func() (string, error)) (Consent, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return Consent{}, apperrors.New(apperrors.CodeSignerEmptyEnvelopeID, "envelope id is required")
	}
	input.SignerID = strings.TrimSpace(input.SignerID)
	if input.SignerID == "" {
		return Consent{}, apperrors.New(apperrors.CodeNotFound, "signer id is required")
	}
	input.Text = strings.TrimSpace(input.Text)
	if input.Text == "" {
		return Consent{}, apperrors.New(apperrors.CodeSignerConsentTextEmpty, "consent text is required")
	}

	consentID, err := idGenerator()
	if err != nil {
		return Consent{}, fmt.Errorf("generate consent id: %w", err)
	}

	return Consent{
		ID:         consentID,
		EnvelopeID: input.EnvelopeID,
		SignerID:   input.SignerID,
		Text:       input.Text,
		Network:    input.Network,
		CreatedAt:  now().UTC(),
	}, nil
}

// LinkSignature attaches the resulting signature hash to the consent record.
func (c *Consent) LinkSignature(signatureHash string) {
	c.SignatureHash = strings.TrimSpace(signatureHash)
}
