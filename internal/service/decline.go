package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/platform/requestctx"
	"github.com/velladore/inkseal/internal/storage"
)

// DeclineSignerInput carries one decline. Consent is not required; any
// invited signer may decline a sent envelope.
type DeclineSignerInput struct {
	EnvelopeID string
	SignerID   string
	Grant      string
	Reason     string
}

// DeclineSigner transitions a signer and their envelope to DECLINED,
// consuming the presented signing token and revoking the envelope's other
// open tokens.
func (c *Coordinator) DeclineSigner(ctx context.Context, input DeclineSignerInput) (envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, "DeclineSigner", input.EnvelopeID)
	defer span.End()

	envelopeID := strings.TrimSpace(input.EnvelopeID)
	signerID := strings.TrimSpace(input.SignerID)
	if envelopeID == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}
	if signerID == "" {
		return envelope.Envelope{}, fmt.Errorf("signer id is required")
	}

	env, err := c.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}

	actorUserID := requestctx.UserIDFromContext(ctx)
	tokenID := ""
	if actorUserID == "" {
		if strings.TrimSpace(input.Grant) == "" {
			return envelope.Envelope{}, apperrors.New(apperrors.CodeAccessDenied, "session or grant required")
		}
		token, err := c.resolveGrant(ctx, input.Grant, envelopeID, invite.PurposeSign)
		if err != nil {
			return envelope.Envelope{}, err
		}
		if token.SignerID != signerID {
			return envelope.Envelope{}, apperrors.New(apperrors.CodeTokenGrantMismatch, "grant was issued for another signer")
		}
		tokenID = token.ID
	}

	signer, err := env.SignerByID(signerID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if actorUserID != "" && !isOwnSignerEntry(*signer, actorUserID) {
		return envelope.Envelope{}, apperrors.New(apperrors.CodeAccessDenied, "signer belongs to another party")
	}

	now := c.now()
	if err := signer.Decline(input.Reason, networkFromContext(ctx), now); err != nil {
		return envelope.Envelope{}, err
	}

	actor := actorFromContext(ctx)
	actor.SignerID = signer.ID
	if actorUserID == "" {
		actor.Type = audit.ActorTypeSigner
	}

	declined, err := c.store.CommitDecline(ctx, storage.CommitDeclineInput{
		EnvelopeID: env.ID,
		Signer:     *signer,
		TokenID:    tokenID,
		Reason:     signer.DeclineReason,
		Actor:      actor,
	})
	if err != nil {
		return envelope.Envelope{}, upstream("commit decline", envelopeID, err)
	}
	return declined, nil
}
