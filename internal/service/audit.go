package service

import (
	"context"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/storage"
)

// GetAuditTrailInput pages through an envelope's audit chain.
type GetAuditTrailInput struct {
	EnvelopeID string
	PageSize   int
	PageToken  string
}

// GetAuditTrail returns one page of the owner's envelope history in
// sequence order.
func (c *Coordinator) GetAuditTrail(ctx context.Context, input GetAuditTrailInput) (storage.AuditPage, error) {
	ctx, span := c.startSpan(ctx, "GetAuditTrail", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return storage.AuditPage{}, err
	}
	page, err := c.store.ListAuditEvents(ctx, env.ID, input.PageSize, input.PageToken)
	if err != nil {
		return storage.AuditPage{}, upstream("list audit events", env.ID, err)
	}
	return page, nil
}

// VerifyAuditTrail recomputes the envelope's full hash chain and reports
// any break or tampered event.
func (c *Coordinator) VerifyAuditTrail(ctx context.Context, envelopeID string) error {
	ctx, span := c.startSpan(ctx, "VerifyAuditTrail", envelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, envelopeID)
	if err != nil {
		return err
	}
	chain, err := c.store.GetAuditChain(ctx, env.ID)
	if err != nil {
		return upstream("load audit chain", env.ID, err)
	}
	return audit.VerifyChain(chain)
}
