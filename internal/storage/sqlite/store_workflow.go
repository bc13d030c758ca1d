package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/storage"
)

// statusDisallows builds the error for an operation blocked by stored status.
func statusDisallows(statusLabel, message string) error {
	return apperrors.WithMetadata(
		apperrors.CodeEnvelopeStatusDisallowsOp,
		message,
		map[string]string{"Status": statusLabel},
	)
}

// transitionConflict explains why a status compare-and-set matched no rows.
//
// A lost CAS means another writer moved the envelope first; the stored status
// is re-read so the caller learns the transition that actually won.
func transitionConflict(ctx context.Context, q querier, envelopeID string, attempted envelope.Status) error {
	row := q.QueryRowContext(ctx, `SELECT status FROM envelopes WHERE id = ?`, envelopeID)
	var current string
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read envelope status: %w", err)
	}
	return apperrors.WithMetadata(
		apperrors.CodeEnvelopeInvalidStatusTransition,
		fmt.Sprintf("envelope cannot transition from %s to %s", current, envelope.StatusLabel(attempted)),
		map[string]string{
			"Current":   current,
			"Attempted": envelope.StatusLabel(attempted),
		},
	)
}

// signerConflict explains why a PENDING-guarded signer update matched no rows.
//
// The codes are distinct so callers can tell an idempotent retry of the same
// action from a genuine conflict with the opposite action.
func signerConflict(ctx context.Context, q querier, envelopeID, signerID string) error {
	row := q.QueryRowContext(ctx, `
SELECT status FROM signers WHERE id = ? AND envelope_id = ?
`, signerID, envelopeID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read signer status: %w", err)
	}
	switch envelope.SignerStatusFromLabel(status) {
	case envelope.SignerStatusSigned:
		return apperrors.New(apperrors.CodeSignerAlreadySigned, "signer already signed")
	case envelope.SignerStatusDeclined:
		return apperrors.New(apperrors.CodeSignerAlreadyDeclined, "signer already declined")
	default:
		return statusDisallows(status, "signer is in an invalid state")
	}
}

// consumeTokenTx marks a signing token used inside the caller's transaction.
func consumeTokenTx(ctx context.Context, tx *sql.Tx, tokenID string, usedAt time.Time) error {
	result, err := tx.ExecContext(ctx, `
UPDATE tokens
SET used_at = ?
WHERE id = ?
AND used_at IS NULL
AND revoked_at IS NULL
`, toMillis(usedAt.UTC()), tokenID)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume token rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	row := tx.QueryRowContext(ctx, `
SELECT used_at, revoked_at FROM tokens WHERE id = ?
`, tokenID)
	var usedAtCol, revokedAtCol sql.NullInt64
	if err := row.Scan(&usedAtCol, &revokedAtCol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read token state: %w", err)
	}
	if revokedAtCol.Valid {
		return apperrors.New(apperrors.CodeTokenRevoked, "token is revoked")
	}
	return apperrors.New(apperrors.CodeTokenUsed, "token was already used")
}

// revokeOpenTokensTx revokes every unconsumed token on an envelope.
func revokeOpenTokensTx(ctx context.Context, tx *sql.Tx, envelopeID, reason string, revokedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
UPDATE tokens
SET
	revoked_at = ?,
	revoke_reason = ?
WHERE envelope_id = ?
AND used_at IS NULL
AND revoked_at IS NULL
`, toMillis(revokedAt.UTC()), reason, envelopeID)
	if err != nil {
		return fmt.Errorf("revoke open tokens: %w", err)
	}
	return nil
}

// SendEnvelope transitions a validated DRAFT to SENT, inserts the invitation
// tokens, and enqueues the dispatch events, all in one transaction.
func (s *Store) SendEnvelope(ctx context.Context, input storage.SendEnvelopeInput) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	env := input.Envelope
	if strings.TrimSpace(env.ID) == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}
	if env.SentAt == nil {
		return envelope.Envelope{}, fmt.Errorf("envelope sent timestamp is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("start send transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE envelopes
SET
	status = ?,
	sent_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
`,
		envelope.StatusLabel(envelope.StatusSent),
		toMillis(*env.SentAt),
		toMillis(env.UpdatedAt),
		env.ID,
		envelope.StatusLabel(envelope.StatusDraft),
	)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("send envelope: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("send envelope rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return envelope.Envelope{}, transitionConflict(ctx, tx, env.ID, envelope.StatusSent)
	}

	for _, token := range input.Tokens {
		if err := insertTokenTx(ctx, tx, token); err != nil {
			return envelope.Envelope{}, err
		}
		payload := marshalPayload(map[string]any{
			"token_id":   token.ID,
			"purpose":    invite.PurposeLabel(token.Purpose),
			"expires_at": toMillis(token.ExpiresAt),
		})
		auditIn := actorInput(env.ID, audit.TypeTokenIssued, input.Actor, payload)
		auditIn.SignerID = token.SignerID
		if _, err := s.appendAuditEventTx(ctx, tx, auditIn); err != nil {
			return envelope.Envelope{}, err
		}
	}

	sentPayload := marshalPayload(map[string]any{
		"title":        env.Title,
		"signer_count": len(env.Signers),
	})
	if _, err := s.appendAuditEventTx(ctx, tx, actorInput(env.ID, audit.TypeEnvelopeSent, input.Actor, sentPayload)); err != nil {
		return envelope.Envelope{}, err
	}

	if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
		EventType:   string(audit.TypeEnvelopeSent),
		PayloadJSON: string(marshalPayload(map[string]any{"envelope_id": env.ID})),
		DedupeKey:   string(audit.TypeEnvelopeSent) + ":" + env.ID,
	}); err != nil {
		return envelope.Envelope{}, err
	}
	for _, token := range input.Tokens {
		if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
			EventType: "signer.invited",
			PayloadJSON: string(marshalPayload(map[string]any{
				"envelope_id": env.ID,
				"signer_id":   token.SignerID,
				"token_id":    token.ID,
				"message":     input.Message,
			})),
			DedupeKey: "signer.invited:" + token.ID,
		}); err != nil {
			return envelope.Envelope{}, err
		}
	}

	fresh, err := loadEnvelope(ctx, tx, env.ID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := tx.Commit(); err != nil {
		return envelope.Envelope{}, fmt.Errorf("commit send transaction: %w", err)
	}
	return fresh, nil
}

// CommitSignature persists one validated signature: the signer transition,
// the consent link, the token consumption, the signed output update, the
// audit append, and, when this was the last required signature, the envelope
// completion. One transaction covers them all.
func (s *Store) CommitSignature(ctx context.Context, input storage.CommitSignatureInput) (storage.CommitSignatureResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.CommitSignatureResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("storage is not configured")
	}
	signer := input.Signer
	if strings.TrimSpace(input.EnvelopeID) == "" || strings.TrimSpace(signer.ID) == "" {
		return storage.CommitSignatureResult{}, fmt.Errorf("envelope id and signer id are required")
	}
	if signer.SignedAt == nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("signer signed timestamp is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("start signature transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT status FROM envelopes WHERE id = ?`, input.EnvelopeID)
	var envStatus string
	if err := row.Scan(&envStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CommitSignatureResult{}, storage.ErrNotFound
		}
		return storage.CommitSignatureResult{}, fmt.Errorf("read envelope status: %w", err)
	}
	currentStatus := envelope.StatusFromLabel(envStatus)
	if currentStatus != envelope.StatusSent && currentStatus != envelope.StatusDraft {
		return storage.CommitSignatureResult{}, statusDisallows(envStatus, "envelope no longer accepts signatures")
	}

	result, err := tx.ExecContext(ctx, `
UPDATE signers
SET
	status = ?,
	consent_given = 1,
	consented_at = ?,
	signed_at = ?,
	document_hash = ?,
	signature_hash = ?,
	signed_ref = ?,
	signing_key_id = ?,
	algorithm = ?,
	ip_address = ?,
	user_agent = ?,
	country = ?,
	reason = ?,
	updated_at = ?
WHERE id = ?
AND envelope_id = ?
AND status = ?
`,
		envelope.SignerStatusLabel(envelope.SignerStatusSigned),
		nullableMillis(signer.ConsentedAt),
		toMillis(*signer.SignedAt),
		signer.DocumentHash,
		signer.SignatureHash,
		signer.SignedRef,
		signer.SigningKeyID,
		signer.Algorithm,
		signer.Network.IPAddress,
		signer.Network.UserAgent,
		signer.Network.Country,
		signer.Reason,
		toMillis(signer.UpdatedAt),
		signer.ID,
		input.EnvelopeID,
		envelope.SignerStatusLabel(envelope.SignerStatusPending),
	)
	if err != nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("sign signer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("sign signer rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.CommitSignatureResult{}, signerConflict(ctx, tx, input.EnvelopeID, signer.ID)
	}

	consent := input.Consent
	if _, err := tx.ExecContext(ctx, `
INSERT INTO consents (
	id,
	envelope_id,
	signer_id,
	text,
	ip_address,
	user_agent,
	country,
	signature_hash,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		consent.ID,
		consent.EnvelopeID,
		consent.SignerID,
		consent.Text,
		consent.Network.IPAddress,
		consent.Network.UserAgent,
		consent.Network.Country,
		consent.SignatureHash,
		toMillis(consent.CreatedAt),
	); err != nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("insert consent: %w", err)
	}

	if input.TokenID != "" {
		if err := consumeTokenTx(ctx, tx, input.TokenID, *signer.SignedAt); err != nil {
			return storage.CommitSignatureResult{}, err
		}
	}

	if input.SignedRef != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE envelopes
SET
	signed_ref = ?,
	signed_hash = ?,
	updated_at = ?
WHERE id = ?
`, input.SignedRef, input.SignedHash, toMillis(signer.UpdatedAt), input.EnvelopeID); err != nil {
			return storage.CommitSignatureResult{}, fmt.Errorf("update signed output: %w", err)
		}
	}

	signPayload := marshalPayload(map[string]any{
		"document_hash":  signer.DocumentHash,
		"signature_hash": signer.SignatureHash,
		"signing_key_id": signer.SigningKeyID,
		"algorithm":      signer.Algorithm,
	})
	auditIn := actorInput(input.EnvelopeID, audit.TypeSignerSigned, input.Actor, signPayload)
	auditIn.SignerID = signer.ID
	if _, err := s.appendAuditEventTx(ctx, tx, auditIn); err != nil {
		return storage.CommitSignatureResult{}, err
	}

	if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
		EventType: string(audit.TypeSignerSigned),
		PayloadJSON: string(marshalPayload(map[string]any{
			"envelope_id": input.EnvelopeID,
			"signer_id":   signer.ID,
		})),
		DedupeKey: string(audit.TypeSignerSigned) + ":" + signer.ID,
	}); err != nil {
		return storage.CommitSignatureResult{}, err
	}

	// Completion is recomputed from the fresh in-transaction state, never
	// from the caller's snapshot.
	fresh, err := loadEnvelope(ctx, tx, input.EnvelopeID)
	if err != nil {
		return storage.CommitSignatureResult{}, err
	}
	completed := false
	if fresh.Status == envelope.StatusSent && fresh.AllRequiredSigned() {
		completedAt := signer.UpdatedAt
		completionResult, completeErr := tx.ExecContext(ctx, `
UPDATE envelopes
SET
	status = ?,
	completed_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
`,
			envelope.StatusLabel(envelope.StatusCompleted),
			toMillis(completedAt),
			toMillis(completedAt),
			input.EnvelopeID,
			envelope.StatusLabel(envelope.StatusSent),
		)
		if completeErr != nil {
			return storage.CommitSignatureResult{}, fmt.Errorf("complete envelope: %w", completeErr)
		}
		completedRows, completeErr := completionResult.RowsAffected()
		if completeErr != nil {
			return storage.CommitSignatureResult{}, fmt.Errorf("complete envelope rows affected: %w", completeErr)
		}
		if completedRows > 0 {
			completed = true
			completionInput := actorInput(input.EnvelopeID, audit.TypeEnvelopeCompleted, storage.Actor{Type: audit.ActorTypeSystem}, marshalPayload(map[string]any{
				"envelope_id": input.EnvelopeID,
			}))
			if _, err := s.appendAuditEventTx(ctx, tx, completionInput); err != nil {
				return storage.CommitSignatureResult{}, err
			}
			if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
				EventType:   string(audit.TypeEnvelopeCompleted),
				PayloadJSON: string(marshalPayload(map[string]any{"envelope_id": input.EnvelopeID})),
				DedupeKey:   string(audit.TypeEnvelopeCompleted) + ":" + input.EnvelopeID,
			}); err != nil {
				return storage.CommitSignatureResult{}, err
			}
		}
	}

	final, err := loadEnvelope(ctx, tx, input.EnvelopeID)
	if err != nil {
		return storage.CommitSignatureResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.CommitSignatureResult{}, fmt.Errorf("commit signature transaction: %w", err)
	}
	return storage.CommitSignatureResult{Envelope: final, Completed: completed}, nil
}

// CommitDecline persists one validated decline and terminates the envelope.
func (s *Store) CommitDecline(ctx context.Context, input storage.CommitDeclineInput) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	signer := input.Signer
	if strings.TrimSpace(input.EnvelopeID) == "" || strings.TrimSpace(signer.ID) == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id and signer id are required")
	}
	if signer.DeclinedAt == nil {
		return envelope.Envelope{}, fmt.Errorf("signer declined timestamp is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("start decline transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE signers
SET
	status = ?,
	declined_at = ?,
	decline_reason = ?,
	ip_address = ?,
	user_agent = ?,
	country = ?,
	updated_at = ?
WHERE id = ?
AND envelope_id = ?
AND status = ?
`,
		envelope.SignerStatusLabel(envelope.SignerStatusDeclined),
		toMillis(*signer.DeclinedAt),
		signer.DeclineReason,
		signer.Network.IPAddress,
		signer.Network.UserAgent,
		signer.Network.Country,
		toMillis(signer.UpdatedAt),
		signer.ID,
		input.EnvelopeID,
		envelope.SignerStatusLabel(envelope.SignerStatusPending),
	)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("decline signer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("decline signer rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return envelope.Envelope{}, signerConflict(ctx, tx, input.EnvelopeID, signer.ID)
	}

	envResult, err := tx.ExecContext(ctx, `
UPDATE envelopes
SET
	status = ?,
	declined_at = ?,
	declined_by_signer_id = ?,
	decline_reason = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
`,
		envelope.StatusLabel(envelope.StatusDeclined),
		toMillis(*signer.DeclinedAt),
		signer.ID,
		signer.DeclineReason,
		toMillis(signer.UpdatedAt),
		input.EnvelopeID,
		envelope.StatusLabel(envelope.StatusSent),
	)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("decline envelope: %w", err)
	}
	envRows, err := envResult.RowsAffected()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("decline envelope rows affected: %w", err)
	}
	if envRows == 0 {
		return envelope.Envelope{}, transitionConflict(ctx, tx, input.EnvelopeID, envelope.StatusDeclined)
	}

	if input.TokenID != "" {
		if err := consumeTokenTx(ctx, tx, input.TokenID, *signer.DeclinedAt); err != nil {
			return envelope.Envelope{}, err
		}
	}
	if err := revokeOpenTokensTx(ctx, tx, input.EnvelopeID, "envelope declined", *signer.DeclinedAt); err != nil {
		return envelope.Envelope{}, err
	}

	declinePayload := marshalPayload(map[string]any{
		"reason": signer.DeclineReason,
	})
	auditIn := actorInput(input.EnvelopeID, audit.TypeSignerDeclined, input.Actor, declinePayload)
	auditIn.SignerID = signer.ID
	if _, err := s.appendAuditEventTx(ctx, tx, auditIn); err != nil {
		return envelope.Envelope{}, err
	}
	envelopeDeclinedInput := actorInput(input.EnvelopeID, audit.TypeEnvelopeDeclined, storage.Actor{Type: audit.ActorTypeSystem}, marshalPayload(map[string]any{
		"declined_by": signer.ID,
		"reason":      signer.DeclineReason,
	}))
	if _, err := s.appendAuditEventTx(ctx, tx, envelopeDeclinedInput); err != nil {
		return envelope.Envelope{}, err
	}

	if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
		EventType: string(audit.TypeEnvelopeDeclined),
		PayloadJSON: string(marshalPayload(map[string]any{
			"envelope_id": input.EnvelopeID,
			"signer_id":   signer.ID,
		})),
		DedupeKey: string(audit.TypeEnvelopeDeclined) + ":" + input.EnvelopeID,
	}); err != nil {
		return envelope.Envelope{}, err
	}

	fresh, err := loadEnvelope(ctx, tx, input.EnvelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := tx.Commit(); err != nil {
		return envelope.Envelope{}, fmt.Errorf("commit decline transaction: %w", err)
	}
	return fresh, nil
}

// CancelEnvelope voids a DRAFT or SENT envelope and revokes its open tokens.
func (s *Store) CancelEnvelope(ctx context.Context, input storage.CancelEnvelopeInput) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	env := input.Envelope
	if strings.TrimSpace(env.ID) == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}
	if env.CancelledAt == nil {
		return envelope.Envelope{}, fmt.Errorf("envelope cancelled timestamp is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("start cancel transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE envelopes
SET
	status = ?,
	cancelled_at = ?,
	updated_at = ?
WHERE id = ?
AND status IN (?, ?)
`,
		envelope.StatusLabel(envelope.StatusCancelled),
		toMillis(*env.CancelledAt),
		toMillis(env.UpdatedAt),
		env.ID,
		envelope.StatusLabel(envelope.StatusDraft),
		envelope.StatusLabel(envelope.StatusSent),
	)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("cancel envelope: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("cancel envelope rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return envelope.Envelope{}, transitionConflict(ctx, tx, env.ID, envelope.StatusCancelled)
	}

	if err := revokeOpenTokensTx(ctx, tx, env.ID, "envelope cancelled", *env.CancelledAt); err != nil {
		return envelope.Envelope{}, err
	}

	cancelPayload := marshalPayload(map[string]any{
		"reason": input.Reason,
	})
	if _, err := s.appendAuditEventTx(ctx, tx, actorInput(env.ID, audit.TypeEnvelopeCancelled, input.Actor, cancelPayload)); err != nil {
		return envelope.Envelope{}, err
	}

	if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
		EventType:   string(audit.TypeEnvelopeCancelled),
		PayloadJSON: string(marshalPayload(map[string]any{"envelope_id": env.ID})),
		DedupeKey:   string(audit.TypeEnvelopeCancelled) + ":" + env.ID,
	}); err != nil {
		return envelope.Envelope{}, err
	}

	fresh, err := loadEnvelope(ctx, tx, env.ID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := tx.Commit(); err != nil {
		return envelope.Envelope{}, fmt.Errorf("commit cancel transaction: %w", err)
	}
	return fresh, nil
}

// RecordReminder increments a pending signer's reminder counter and enqueues
// the reminder dispatch event.
func (s *Store) RecordReminder(ctx context.Context, input storage.RecordReminderInput) (envelope.Signer, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Signer{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Signer{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(input.EnvelopeID) == "" || strings.TrimSpace(input.SignerID) == "" {
		return envelope.Signer{}, fmt.Errorf("envelope id and signer id are required")
	}
	remindedAt := input.RemindedAt
	if remindedAt.IsZero() {
		remindedAt = s.now()
	}
	remindedAt = remindedAt.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return envelope.Signer{}, fmt.Errorf("start reminder transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE signers
SET
	reminder_count = reminder_count + 1,
	last_reminded_at = ?,
	updated_at = ?
WHERE id = ?
AND envelope_id = ?
AND status = ?
`,
		toMillis(remindedAt),
		toMillis(remindedAt),
		input.SignerID,
		input.EnvelopeID,
		envelope.SignerStatusLabel(envelope.SignerStatusPending),
	)
	if err != nil {
		return envelope.Signer{}, fmt.Errorf("record reminder: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return envelope.Signer{}, fmt.Errorf("record reminder rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return envelope.Signer{}, signerConflict(ctx, tx, input.EnvelopeID, input.SignerID)
	}

	auditIn := actorInput(input.EnvelopeID, audit.TypeSignerReminded, input.Actor, marshalPayload(map[string]any{
		"signer_id": input.SignerID,
	}))
	auditIn.SignerID = input.SignerID
	if _, err := s.appendAuditEventTx(ctx, tx, auditIn); err != nil {
		return envelope.Signer{}, err
	}

	if err := s.enqueueOutboxEventTx(ctx, tx, storage.OutboxEvent{
		EventType: string(audit.TypeSignerReminded),
		PayloadJSON: string(marshalPayload(map[string]any{
			"envelope_id": input.EnvelopeID,
			"signer_id":   input.SignerID,
		})),
	}); err != nil {
		return envelope.Signer{}, err
	}

	row := tx.QueryRowContext(ctx, `
SELECT `+signerColumns+`
FROM signers
WHERE id = ?
`, input.SignerID)
	signer, err := scanSigner(row.Scan)
	if err != nil {
		return envelope.Signer{}, fmt.Errorf("read reminded signer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return envelope.Signer{}, fmt.Errorf("commit reminder transaction: %w", err)
	}
	return signer, nil
}

// RecordView appends the audit event for token-based read access.
func (s *Store) RecordView(ctx context.Context, input storage.RecordViewInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(input.EnvelopeID) == "" {
		return fmt.Errorf("envelope id is required")
	}

	auditIn := actorInput(input.EnvelopeID, audit.TypeSignerViewed, input.Actor, nil)
	auditIn.SignerID = input.SignerID
	_, err := s.AppendAuditEvent(ctx, auditIn)
	return err
}
