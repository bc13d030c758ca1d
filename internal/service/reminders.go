package service

import (
	"context"

	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/storage"
)

// Reminder skip reasons reported by SendReminders.
const (
	SkipReasonMaxReminders = "max reminders reached"
	SkipReasonTooSoon      = "minimum reminder interval not elapsed"
	SkipReasonNoToken      = "no active invitation token"
	SkipReasonInternal     = "internal signer, no invitation token"
)

// SkippedReminder names a signer the reminder batch passed over and why.
type SkippedReminder struct {
	SignerID string
	Reason   string
}

// SendRemindersInput identifies the envelope to remind.
type SendRemindersInput struct {
	EnvelopeID string
}

// SendRemindersResult reports the batch outcome per signer.
type SendRemindersResult struct {
	RemindedSignerIDs []string
	Skipped           []SkippedReminder
}

// SendReminders nudges every still-PENDING external signer on a SENT
// envelope, honoring the max-count and min-interval policy. Ineligible
// signers are reported as skipped; they never fail the batch.
func (c *Coordinator) SendReminders(ctx context.Context, input SendRemindersInput) (SendRemindersResult, error) {
	ctx, span := c.startSpan(ctx, "SendReminders", input.EnvelopeID)
	defer span.End()

	env, err := c.requireOwner(ctx, input.EnvelopeID)
	if err != nil {
		return SendRemindersResult{}, err
	}
	if env.Status != envelope.StatusSent {
		return SendRemindersResult{}, apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"reminders require a sent envelope",
			map[string]string{"Status": envelope.StatusLabel(env.Status)},
		)
	}

	tokens, err := c.store.ListTokensByEnvelope(ctx, env.ID)
	if err != nil {
		return SendRemindersResult{}, upstream("list tokens", env.ID, err)
	}
	now := c.now()
	activeTokens := map[string]bool{}
	for _, token := range tokens {
		if token.Purpose != invite.PurposeSign {
			continue
		}
		if token.UsedAt != nil || token.RevokedAt != nil || !token.ExpiresAt.After(now) {
			continue
		}
		activeTokens[token.SignerID] = true
	}

	result := SendRemindersResult{}
	actor := actorFromContext(ctx)
	for _, signer := range env.PendingSigners() {
		if signer.Role == envelope.RoleViewer {
			continue
		}
		if !signer.Party.IsExternal() {
			result.Skipped = append(result.Skipped, SkippedReminder{SignerID: signer.ID, Reason: SkipReasonInternal})
			continue
		}
		if signer.ReminderCount >= c.cfg.MaxReminders {
			result.Skipped = append(result.Skipped, SkippedReminder{SignerID: signer.ID, Reason: SkipReasonMaxReminders})
			continue
		}
		if signer.LastRemindedAt != nil && now.Sub(*signer.LastRemindedAt) < c.cfg.ReminderMinInterval {
			result.Skipped = append(result.Skipped, SkippedReminder{SignerID: signer.ID, Reason: SkipReasonTooSoon})
			continue
		}
		if !activeTokens[signer.ID] {
			result.Skipped = append(result.Skipped, SkippedReminder{SignerID: signer.ID, Reason: SkipReasonNoToken})
			continue
		}

		if _, err := c.store.RecordReminder(ctx, storage.RecordReminderInput{
			EnvelopeID: env.ID,
			SignerID:   signer.ID,
			RemindedAt: now,
			Actor:      actor,
		}); err != nil {
			// A signer who signed or declined mid-batch is a skip, not
			// a batch failure.
			result.Skipped = append(result.Skipped, SkippedReminder{SignerID: signer.ID, Reason: err.Error()})
			continue
		}
		result.RemindedSignerIDs = append(result.RemindedSignerIDs, signer.ID)
	}
	return result, nil
}
