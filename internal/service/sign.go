package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/blob"
	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/platform/requestctx"
	"github.com/velladore/inkseal/internal/signing"
	"github.com/velladore/inkseal/internal/storage"
)

// SignDocumentInput carries one signature attempt. An authenticated owner
// signs with the session; an external signer presents the invitation grant.
type SignDocumentInput struct {
	EnvelopeID  string
	SignerID    string
	Grant       string
	ConsentText string
	Reason      string
}

// SignDocumentResult reports the committed signature.
type SignDocumentResult struct {
	Envelope envelope.Envelope
	Signer   envelope.Signer
	// Completed is true when this signature finished the envelope.
	Completed bool
}

// SignDocument executes the signing critical path: resolve access, admit the
// attempt against fresh state, record consent, hash the flattened document,
// call the signing oracle, and commit signer, consent, token consumption,
// audit event, and outbox record in one transaction. The oracle call happens
// before any state is written, so an oracle failure leaves the signer
// untouched and the attempt safely retryable.
func (c *Coordinator) SignDocument(ctx context.Context, input SignDocumentInput) (SignDocumentResult, error) {
	ctx, span := c.startSpan(ctx, "SignDocument", input.EnvelopeID)
	defer span.End()

	envelopeID := strings.TrimSpace(input.EnvelopeID)
	signerID := strings.TrimSpace(input.SignerID)
	if envelopeID == "" {
		return SignDocumentResult{}, fmt.Errorf("envelope id is required")
	}
	if signerID == "" {
		return SignDocumentResult{}, fmt.Errorf("signer id is required")
	}

	env, err := c.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return SignDocumentResult{}, err
	}

	actorUserID := requestctx.UserIDFromContext(ctx)
	tokenID := ""
	if actorUserID == "" {
		if strings.TrimSpace(input.Grant) == "" {
			return SignDocumentResult{}, apperrors.New(apperrors.CodeAccessDenied, "session or grant required")
		}
		token, err := c.resolveGrant(ctx, input.Grant, envelopeID, invite.PurposeSign)
		if err != nil {
			return SignDocumentResult{}, err
		}
		if token.SignerID != signerID {
			return SignDocumentResult{}, apperrors.New(apperrors.CodeTokenGrantMismatch, "grant was issued for another signer")
		}
		tokenID = token.ID
	}

	signer, err := env.SignerByID(signerID)
	if err != nil {
		return SignDocumentResult{}, err
	}
	if actorUserID != "" && !isOwnSignerEntry(*signer, actorUserID) {
		return SignDocumentResult{}, apperrors.New(apperrors.CodeAccessDenied, "signer belongs to another party")
	}

	if err := envelope.AdmitSign(env, *signer, actorUserID); err != nil {
		return SignDocumentResult{}, err
	}

	now := c.now()
	network := networkFromContext(ctx)
	if err := signer.RecordConsent(input.ConsentText, network, now); err != nil {
		return SignDocumentResult{}, err
	}

	docHash, data, err := c.flattenedDocument(ctx, env)
	if err != nil {
		return SignDocumentResult{}, err
	}

	result, err := c.oracle.Sign(ctx, signing.Request{
		ContentHash: docHash,
		KeyID:       c.cfg.SigningKeyID,
	})
	if err != nil {
		return SignDocumentResult{}, upstream("signing oracle", envelopeID, err)
	}

	signedRef := fmt.Sprintf("envelopes/%s/signed/%s", env.ID, signer.ID)
	if err := c.blobs.Put(ctx, signedRef, data); err != nil {
		return SignDocumentResult{}, upstream("store signed document", envelopeID, err)
	}

	if err := signer.Sign(envelope.SignatureEvidence{
		DocumentHash:  docHash,
		SignatureHash: result.SignatureHash,
		SignedRef:     signedRef,
		SigningKeyID:  result.KeyID,
		Algorithm:     result.Algorithm,
		Network:       network,
		Reason:        input.Reason,
	}, now); err != nil {
		return SignDocumentResult{}, err
	}

	consent, err := envelope.NewConsent(envelope.NewConsentInput{
		EnvelopeID: env.ID,
		SignerID:   signer.ID,
		Text:       input.ConsentText,
		Network:    network,
	}, c.clock, c.newID)
	if err != nil {
		return SignDocumentResult{}, err
	}
	consent.LinkSignature(signer.SignatureHash)

	actor := actorFromContext(ctx)
	actor.SignerID = signer.ID
	if actorUserID == "" {
		actor.Type = audit.ActorTypeSigner
	}

	committed, err := c.store.CommitSignature(ctx, storage.CommitSignatureInput{
		EnvelopeID: env.ID,
		Signer:     *signer,
		Consent:    consent,
		TokenID:    tokenID,
		SignedRef:  signedRef,
		SignedHash: docHash,
		Actor:      actor,
	})
	if err != nil {
		return SignDocumentResult{}, upstream("commit signature", envelopeID, err)
	}

	fresh, err := committed.Envelope.SignerByID(signer.ID)
	if err != nil {
		return SignDocumentResult{}, err
	}
	return SignDocumentResult{
		Envelope:  committed.Envelope,
		Signer:    *fresh,
		Completed: committed.Completed,
	}, nil
}

// flattenedDocument loads the envelope's flattened content and verifies its
// digest against the recorded hash before it is signed.
func (c *Coordinator) flattenedDocument(ctx context.Context, env envelope.Envelope) (string, []byte, error) {
	if strings.TrimSpace(env.FlattenedRef) == "" {
		return "", nil, apperrors.New(apperrors.CodeEnvelopeMissingFlattenedDocument, "envelope has no flattened document")
	}
	data, err := c.blobs.Get(ctx, env.FlattenedRef)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return "", nil, apperrors.New(apperrors.CodeEnvelopeMissingFlattenedDocument, "flattened document bytes are missing")
		}
		return "", nil, upstream("load flattened document", env.ID, err)
	}
	docHash := blob.Digest(data)
	if env.FlattenedHash != "" && env.FlattenedHash != docHash {
		return "", nil, apperrors.WithMetadata(
			apperrors.CodeEnvelopeDigestMismatch,
			"flattened document digest does not match the recorded hash",
			map[string]string{"Recorded": env.FlattenedHash, "Computed": docHash},
		)
	}
	return docHash, data, nil
}

// isOwnSignerEntry reports whether the signer entry belongs to the
// authenticated user.
func isOwnSignerEntry(signer envelope.Signer, userID string) bool {
	return signer.Party.Kind() == envelope.PartyKindInternal && signer.Party.UserID() == userID
}

func networkFromContext(ctx context.Context) envelope.NetworkContext {
	network := requestctx.NetworkFromContext(ctx)
	return envelope.NetworkContext{
		IPAddress: network.IPAddress,
		UserAgent: network.UserAgent,
		Country:   network.Country,
	}
}
