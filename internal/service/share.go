package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
)

// ShareViewAccessInput identifies the external signer to grant view access.
type ShareViewAccessInput struct {
	EnvelopeID string
	SignerID   string
	// ExpiresAt overrides the configured view token TTL when set.
	ExpiresAt time.Time
}

// ViewAccess is an issued read-only credential.
type ViewAccess struct {
	TokenID   string
	Grant     string
	ExpiresAt time.Time
}

// ShareViewAccess issues a reusable view token for one external signer.
// Viewer tokens survive use and stay valid until expiry or revocation.
func (c *Coordinator) ShareViewAccess(ctx context.Context, input ShareViewAccessInput) (ViewAccess, error) {
	ctx, span := c.startSpan(ctx, "ShareViewAccess", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return ViewAccess{}, err
	}
	signer, err := env.SignerByID(input.SignerID)
	if err != nil {
		return ViewAccess{}, err
	}
	if !signer.Party.IsExternal() {
		return ViewAccess{}, apperrors.New(apperrors.CodeSignerNotExternal, "view access tokens are for external parties")
	}
	if signer.InvitedByUserID != env.OwnerUserID {
		return ViewAccess{}, apperrors.New(apperrors.CodeTokenIssuerNotInviter, "tokens may only be issued by the signer's inviter")
	}

	expiresAt := input.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(c.cfg.ViewTokenTTL)
	}
	token, err := invite.IssueToken(invite.IssueTokenInput{
		EnvelopeID:      env.ID,
		SignerID:        signer.ID,
		Purpose:         invite.PurposeView,
		CreatedByUserID: env.OwnerUserID,
		ExpiresAt:       expiresAt,
	}, c.clock, c.newID)
	if err != nil {
		return ViewAccess{}, err
	}

	if err := c.store.IssueToken(ctx, token, actorFromContext(ctx)); err != nil {
		return ViewAccess{}, upstream("issue view token", env.ID, err)
	}
	grant, err := invite.IssueGrant(token, c.grants)
	if err != nil {
		return ViewAccess{}, upstream("issue grant", env.ID, err)
	}
	return ViewAccess{TokenID: token.ID, Grant: grant, ExpiresAt: token.ExpiresAt}, nil
}

// RevokeTokenInput identifies the token to revoke and why.
type RevokeTokenInput struct {
	EnvelopeID string
	TokenID    string
	Reason     string
}

// RevokeToken withdraws an open invitation token. Revocation is terminal;
// no later operation makes the token valid again.
func (c *Coordinator) RevokeToken(ctx context.Context, input RevokeTokenInput) (invite.Token, error) {
	ctx, span := c.startSpan(ctx, "RevokeToken", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return invite.Token{}, err
	}
	tokenID := strings.TrimSpace(input.TokenID)
	if tokenID == "" {
		return invite.Token{}, fmt.Errorf("token id is required")
	}
	token, err := c.store.GetToken(ctx, tokenID)
	if err != nil {
		return invite.Token{}, err
	}
	if token.EnvelopeID != env.ID {
		return invite.Token{}, apperrors.New(apperrors.CodeAccessDenied, "token belongs to another envelope")
	}

	if err := c.store.RevokeToken(ctx, tokenID, input.Reason, c.now(), actorFromContext(ctx)); err != nil {
		return invite.Token{}, upstream("revoke token", env.ID, err)
	}
	revoked, err := c.store.GetToken(ctx, tokenID)
	if err != nil {
		return invite.Token{}, upstream("reload token", env.ID, err)
	}
	return revoked, nil
}
