package service

import (
	"context"

	"github.com/velladore/inkseal/internal/envelope"
	"github.com/velladore/inkseal/internal/storage"
)

// CancelEnvelopeInput carries an owner-initiated cancellation.
type CancelEnvelopeInput struct {
	EnvelopeID string
	Reason     string
}

// CancelEnvelope transitions a DRAFT or SENT envelope to CANCELLED and
// revokes its open invitation tokens.
func (c *Coordinator) CancelEnvelope(ctx context.Context, input CancelEnvelopeInput) (envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, "CancelEnvelope", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := env.Cancel(c.now()); err != nil {
		return envelope.Envelope{}, err
	}

	cancelled, err := c.store.CancelEnvelope(ctx, storage.CancelEnvelopeInput{
		Envelope: env,
		Reason:   input.Reason,
		Actor:    actorFromContext(ctx),
	})
	if err != nil {
		return envelope.Envelope{}, upstream("cancel envelope", env.ID, err)
	}
	return cancelled, nil
}
