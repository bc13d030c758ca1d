package service

import (
	"context"
	"time"

	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/storage"
)

// SendEnvelopeInput selects which external signers receive invitations.
// An empty SignerIDs slice invites every external signer.
type SendEnvelopeInput struct {
	EnvelopeID string
	SignerIDs  []string
	Message    string
}

// Invitation describes one issued signing credential.
type Invitation struct {
	SignerID string
	TokenID  string
	// Grant is the signed bearer credential handed to the signer.
	Grant     string
	ExpiresAt time.Time
}

// SendEnvelopeResult reports the sent envelope and its invitations.
type SendEnvelopeResult struct {
	Envelope    envelope.Envelope
	Invitations []Invitation
}

// SendEnvelope transitions a draft to SENT and issues one signing token per
// selected external signer. Sending with zero external recipients is valid
// and produces no tokens.
func (c *Coordinator) SendEnvelope(ctx context.Context, input SendEnvelopeInput) (SendEnvelopeResult, error) {
	ctx, span := c.startSpan(ctx, "SendEnvelope", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return SendEnvelopeResult{}, err
	}
	now := c.now()
	if err := env.Send(now); err != nil {
		return SendEnvelopeResult{}, err
	}

	targets, err := selectInviteTargets(env, input.SignerIDs)
	if err != nil {
		return SendEnvelopeResult{}, err
	}

	tokens := make([]invite.Token, 0, len(targets))
	for _, signer := range targets {
		token, err := invite.IssueToken(invite.IssueTokenInput{
			EnvelopeID:      env.ID,
			SignerID:        signer.ID,
			Purpose:         invite.PurposeSign,
			CreatedByUserID: env.OwnerUserID,
			ExpiresAt:       now.Add(c.cfg.SignTokenTTL),
		}, c.clock, c.newID)
		if err != nil {
			return SendEnvelopeResult{}, err
		}
		tokens = append(tokens, token)
	}

	sent, err := c.store.SendEnvelope(ctx, storage.SendEnvelopeInput{
		Envelope: env,
		Tokens:   tokens,
		Message:  input.Message,
		Actor:    actorFromContext(ctx),
	})
	if err != nil {
		return SendEnvelopeResult{}, upstream("send envelope", env.ID, err)
	}

	invitations := make([]Invitation, 0, len(tokens))
	for _, token := range tokens {
		grant, err := invite.IssueGrant(token, c.grants)
		if err != nil {
			return SendEnvelopeResult{}, upstream("issue grant", env.ID, err)
		}
		invitations = append(invitations, Invitation{
			SignerID:  token.SignerID,
			TokenID:   token.ID,
			Grant:     grant,
			ExpiresAt: token.ExpiresAt,
		})
	}
	return SendEnvelopeResult{Envelope: sent, Invitations: invitations}, nil
}

// selectInviteTargets resolves the external signers to invite. An explicit
// subset must name external signers on the envelope.
func selectInviteTargets(env envelope.Envelope, signerIDs []string) ([]envelope.Signer, error) {
	if len(signerIDs) == 0 {
		return env.ExternalSigners(), nil
	}
	targets := make([]envelope.Signer, 0, len(signerIDs))
	for _, signerID := range signerIDs {
		signer, err := env.SignerByID(signerID)
		if err != nil {
			return nil, err
		}
		if !signer.Party.IsExternal() {
			return nil, apperrors.New(apperrors.CodeSignerNotExternal, "only external signers receive invitation tokens")
		}
		targets = append(targets, *signer)
	}
	return targets, nil
}
