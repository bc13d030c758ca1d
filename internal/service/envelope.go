package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/platform/requestctx"
	"github.com/velladore/inkseal/internal/storage"
)

// CreateEnvelopeInput carries the caller-provided fields for a new envelope.
type CreateEnvelopeInput struct {
	Title           string
	Description     string
	OrderPolicy     envelope.OrderPolicy
	Origin          string
	TemplateID      string
	TemplateVersion int
	SourceRef       string
	SourceHash      string
	FlattenedRef    string
	FlattenedHash   string
}

// CreateEnvelope persists a new DRAFT envelope owned by the context user.
// The envelope starts with no signers; participants are added via
// UpdateEnvelope so creation stays free of side effects.
func (c *Coordinator) CreateEnvelope(ctx context.Context, input CreateEnvelopeInput) (envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, "CreateEnvelope", "")
	defer span.End()

	userID := requestctx.UserIDFromContext(ctx)
	if userID == "" {
		return envelope.Envelope{}, apperrors.New(apperrors.CodeAccessDenied, "authenticated user required")
	}

	env, err := envelope.CreateEnvelope(envelope.CreateEnvelopeInput{
		OwnerUserID:     userID,
		Title:           input.Title,
		Description:     input.Description,
		OrderPolicy:     input.OrderPolicy,
		Origin:          input.Origin,
		TemplateID:      input.TemplateID,
		TemplateVersion: input.TemplateVersion,
		SourceRef:       input.SourceRef,
		SourceHash:      input.SourceHash,
		FlattenedRef:    input.FlattenedRef,
		FlattenedHash:   input.FlattenedHash,
	}, c.clock, c.newID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	span.SetAttributes(attribute.String("envelope.id", env.ID))

	if err := c.store.CreateEnvelope(ctx, env, actorFromContext(ctx)); err != nil {
		return envelope.Envelope{}, upstream("create envelope", env.ID, err)
	}
	return env, nil
}

// AddSignerInput describes one participant to add to a draft envelope.
// Exactly one of UserID or Email identifies the party.
type AddSignerInput struct {
	UserID string
	Email  string
	Name   string
	Role   envelope.Role
	Order  int
}

// UpdateEnvelopeInput carries a draft mutation. Empty fields are left
// untouched; owner, origin, and template identity are never updatable.
type UpdateEnvelopeInput struct {
	EnvelopeID      string
	Title           string
	Description     string
	AddSigners      []AddSignerInput
	RemoveSignerIDs []string
}

// UpdateEnvelope applies metadata and participant changes to a DRAFT
// envelope owned by the context user.
func (c *Coordinator) UpdateEnvelope(ctx context.Context, input UpdateEnvelopeInput) (envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, "UpdateEnvelope", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	now := c.now()

	if strings.TrimSpace(input.Title) != "" || strings.TrimSpace(input.Description) != "" {
		title := env.Title
		if strings.TrimSpace(input.Title) != "" {
			title = input.Title
		}
		description := env.Description
		if strings.TrimSpace(input.Description) != "" {
			description = input.Description
		}
		if err := env.UpdateMetadata(title, description, now); err != nil {
			return envelope.Envelope{}, err
		}
	}

	for _, signerID := range input.RemoveSignerIDs {
		if err := env.RemoveSigner(signerID, now); err != nil {
			return envelope.Envelope{}, err
		}
	}

	for _, spec := range input.AddSigners {
		signer, err := c.buildSigner(env, spec)
		if err != nil {
			return envelope.Envelope{}, err
		}
		if err := env.AddSigner(signer, now); err != nil {
			return envelope.Envelope{}, err
		}
	}

	updated, err := c.store.UpdateEnvelopeDraft(ctx, env, actorFromContext(ctx))
	if err != nil {
		return envelope.Envelope{}, upstream("update envelope", env.ID, err)
	}
	return updated, nil
}

func (c *Coordinator) buildSigner(env envelope.Envelope, spec AddSignerInput) (envelope.Signer, error) {
	var party envelope.Party
	var err error
	switch {
	case strings.TrimSpace(spec.UserID) != "":
		party, err = envelope.InternalParty(spec.UserID)
	case strings.TrimSpace(spec.Email) != "":
		party, err = envelope.ExternalParty(spec.Email, spec.Name)
	default:
		return envelope.Signer{}, apperrors.New(apperrors.CodeSignerInvalidParty, "signer needs a user id or an email")
	}
	if err != nil {
		return envelope.Signer{}, err
	}
	return envelope.NewSigner(envelope.NewSignerInput{
		EnvelopeID:      env.ID,
		Party:           party,
		Role:            spec.Role,
		Order:           spec.Order,
		InvitedByUserID: env.OwnerUserID,
	}, c.clock, c.newID)
}

// AccessType reports how a caller reached an envelope.
type AccessType string

const (
	// AccessOwner marks owner-session access.
	AccessOwner AccessType = "owner"
	// AccessExternal marks invitation-grant access.
	AccessExternal AccessType = "external"
)

// GetEnvelopeInput identifies an envelope and, for external callers, the
// grant authorizing read access.
type GetEnvelopeInput struct {
	EnvelopeID string
	Grant      string
}

// EnvelopeView pairs an envelope with the access type that reached it.
type EnvelopeView struct {
	Envelope envelope.Envelope
	Access   AccessType
	// SignerID is the grant-bound signer for external access.
	SignerID string
}

// GetEnvelope returns an envelope for its owner or for an external party
// presenting a valid grant. External reads are recorded in the audit trail.
func (c *Coordinator) GetEnvelope(ctx context.Context, input GetEnvelopeInput) (EnvelopeView, error) {
	ctx, span := c.startSpan(ctx, "GetEnvelope", input.EnvelopeID)
	defer span.End()

	envelopeID := strings.TrimSpace(input.EnvelopeID)
	if envelopeID == "" {
		return EnvelopeView{}, fmt.Errorf("envelope id is required")
	}

	if userID := requestctx.UserIDFromContext(ctx); userID != "" {
		env, err := c.store.GetEnvelope(ctx, envelopeID)
		if err != nil {
			return EnvelopeView{}, err
		}
		if env.OwnerUserID != userID {
			return EnvelopeView{}, apperrors.New(apperrors.CodeAccessDenied, "envelope belongs to another user")
		}
		return EnvelopeView{Envelope: env, Access: AccessOwner}, nil
	}

	if strings.TrimSpace(input.Grant) == "" {
		return EnvelopeView{}, apperrors.New(apperrors.CodeAccessDenied, "session or grant required")
	}
	token, err := c.resolveGrant(ctx, input.Grant, envelopeID, invite.PurposeView)
	if err != nil {
		return EnvelopeView{}, err
	}
	env, err := c.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return EnvelopeView{}, err
	}

	actor := actorFromContext(ctx)
	actor.Type = audit.ActorTypeSigner
	actor.SignerID = token.SignerID
	if err := c.store.RecordView(ctx, storage.RecordViewInput{
		EnvelopeID: envelopeID,
		SignerID:   token.SignerID,
		Actor:      actor,
	}); err != nil {
		return EnvelopeView{}, upstream("record view", envelopeID, err)
	}
	return EnvelopeView{Envelope: env, Access: AccessExternal, SignerID: token.SignerID}, nil
}

// ListEnvelopesInput scopes an owner listing.
type ListEnvelopesInput struct {
	// Status filters by lifecycle status when set.
	Status    envelope.Status
	PageSize  int
	PageToken string
}

// ListEnvelopes pages through the context user's envelopes.
func (c *Coordinator) ListEnvelopes(ctx context.Context, input ListEnvelopesInput) (storage.EnvelopePage, error) {
	ctx, span := c.startSpan(ctx, "ListEnvelopes", "")
	defer span.End()

	userID := requestctx.UserIDFromContext(ctx)
	if userID == "" {
		return storage.EnvelopePage{}, apperrors.New(apperrors.CodeAccessDenied, "authenticated user required")
	}
	page, err := c.store.ListEnvelopes(ctx, storage.EnvelopeFilter{
		OwnerUserID: userID,
		Status:      input.Status,
	}, input.PageSize, input.PageToken)
	if err != nil {
		return storage.EnvelopePage{}, upstream("list envelopes", "", err)
	}
	return page, nil
}
