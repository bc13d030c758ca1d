package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/envelope"
	"github.com/velladore/inkseal/internal/storage"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const envelopeColumns = `
	id,
	owner_user_id,
	title,
	description,
	status,
	order_policy,
	origin,
	template_id,
	template_version,
	source_ref,
	source_hash,
	flattened_ref,
	flattened_hash,
	signed_ref,
	signed_hash,
	sent_at,
	completed_at,
	cancelled_at,
	declined_at,
	declined_by_signer_id,
	decline_reason,
	created_at,
	updated_at
`

type envelopeScanner func(dest ...any) error

func scanEnvelope(scan envelopeScanner) (envelope.Envelope, error) {
	var env envelope.Envelope
	var status string
	var orderPolicy string
	var sentAt, completedAt, cancelledAt, declinedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := scan(
		&env.ID,
		&env.OwnerUserID,
		&env.Title,
		&env.Description,
		&status,
		&orderPolicy,
		&env.Origin,
		&env.TemplateID,
		&env.TemplateVersion,
		&env.SourceRef,
		&env.SourceHash,
		&env.FlattenedRef,
		&env.FlattenedHash,
		&env.SignedRef,
		&env.SignedHash,
		&sentAt,
		&completedAt,
		&cancelledAt,
		&declinedAt,
		&env.DeclinedBySignerID,
		&env.DeclineReason,
		&createdAt,
		&updatedAt,
	); err != nil {
		return envelope.Envelope{}, err
	}
	env.Status = envelope.StatusFromLabel(status)
	env.OrderPolicy = envelope.OrderPolicyFromLabel(orderPolicy)
	env.SentAt = millisPtr(sentAt)
	env.CompletedAt = millisPtr(completedAt)
	env.CancelledAt = millisPtr(cancelledAt)
	env.DeclinedAt = millisPtr(declinedAt)
	env.CreatedAt = fromMillis(createdAt)
	env.UpdatedAt = fromMillis(updatedAt)
	return env, nil
}

const signerColumns = `
	id,
	envelope_id,
	party_kind,
	party_user_id,
	party_email,
	party_name,
	role,
	sign_order,
	status,
	invited_by_user_id,
	consent_given,
	consented_at,
	signed_at,
	document_hash,
	signature_hash,
	signed_ref,
	signing_key_id,
	algorithm,
	ip_address,
	user_agent,
	country,
	reason,
	declined_at,
	decline_reason,
	reminder_count,
	last_reminded_at,
	created_at,
	updated_at
`

type signerScanner func(dest ...any) error

func scanSigner(scan signerScanner) (envelope.Signer, error) {
	var signer envelope.Signer
	var partyKind, partyUserID, partyEmail, partyName string
	var role, status string
	var consentGiven int
	var consentedAt, signedAt, declinedAt, lastRemindedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := scan(
		&signer.ID,
		&signer.EnvelopeID,
		&partyKind,
		&partyUserID,
		&partyEmail,
		&partyName,
		&role,
		&signer.Order,
		&status,
		&signer.InvitedByUserID,
		&consentGiven,
		&consentedAt,
		&signedAt,
		&signer.DocumentHash,
		&signer.SignatureHash,
		&signer.SignedRef,
		&signer.SigningKeyID,
		&signer.Algorithm,
		&signer.Network.IPAddress,
		&signer.Network.UserAgent,
		&signer.Network.Country,
		&signer.Reason,
		&declinedAt,
		&signer.DeclineReason,
		&signer.ReminderCount,
		&lastRemindedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return envelope.Signer{}, err
	}
	party, err := partyFromRow(partyKind, partyUserID, partyEmail, partyName)
	if err != nil {
		return envelope.Signer{}, err
	}
	signer.Party = party
	signer.Role = envelope.RoleFromLabel(role)
	signer.Status = envelope.SignerStatusFromLabel(status)
	signer.ConsentGiven = consentGiven != 0
	signer.ConsentedAt = millisPtr(consentedAt)
	signer.SignedAt = millisPtr(signedAt)
	signer.DeclinedAt = millisPtr(declinedAt)
	signer.LastRemindedAt = millisPtr(lastRemindedAt)
	signer.CreatedAt = fromMillis(createdAt)
	signer.UpdatedAt = fromMillis(updatedAt)
	return signer, nil
}

func insertEnvelopeTx(ctx context.Context, target execContexter, env envelope.Envelope) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO envelopes (`+envelopeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		env.ID,
		env.OwnerUserID,
		env.Title,
		env.Description,
		envelope.StatusLabel(env.Status),
		envelope.OrderPolicyLabel(env.OrderPolicy),
		env.Origin,
		env.TemplateID,
		env.TemplateVersion,
		env.SourceRef,
		env.SourceHash,
		env.FlattenedRef,
		env.FlattenedHash,
		env.SignedRef,
		env.SignedHash,
		nullableMillis(env.SentAt),
		nullableMillis(env.CompletedAt),
		nullableMillis(env.CancelledAt),
		nullableMillis(env.DeclinedAt),
		env.DeclinedBySignerID,
		env.DeclineReason,
		toMillis(env.CreatedAt),
		toMillis(env.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

func insertSignerTx(ctx context.Context, target execContexter, signer envelope.Signer) error {
	consentGiven := 0
	if signer.ConsentGiven {
		consentGiven = 1
	}
	_, err := target.ExecContext(ctx, `
INSERT INTO signers (`+signerColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		signer.ID,
		signer.EnvelopeID,
		partyKindLabel(signer.Party),
		signer.Party.UserID(),
		signer.Party.Email(),
		signer.Party.Name(),
		envelope.RoleLabel(signer.Role),
		signer.Order,
		envelope.SignerStatusLabel(signer.Status),
		signer.InvitedByUserID,
		consentGiven,
		nullableMillis(signer.ConsentedAt),
		nullableMillis(signer.SignedAt),
		signer.DocumentHash,
		signer.SignatureHash,
		signer.SignedRef,
		signer.SigningKeyID,
		signer.Algorithm,
		signer.Network.IPAddress,
		signer.Network.UserAgent,
		signer.Network.Country,
		signer.Reason,
		nullableMillis(signer.DeclinedAt),
		signer.DeclineReason,
		signer.ReminderCount,
		nullableMillis(signer.LastRemindedAt),
		toMillis(signer.CreatedAt),
		toMillis(signer.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert signer: %w", err)
	}
	return nil
}

func loadSigners(ctx context.Context, q querier, envelopeID string) ([]envelope.Signer, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+signerColumns+`
FROM signers
WHERE envelope_id = ?
ORDER BY sign_order ASC, created_at ASC, id ASC
`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("load signers: %w", err)
	}
	defer rows.Close()

	var signers []envelope.Signer
	for rows.Next() {
		signer, scanErr := scanSigner(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan signer: %w", scanErr)
		}
		signers = append(signers, signer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signers: %w", err)
	}
	return signers, nil
}

func loadEnvelope(ctx context.Context, q querier, envelopeID string) (envelope.Envelope, error) {
	row := q.QueryRowContext(ctx, `
SELECT `+envelopeColumns+`
FROM envelopes
WHERE id = ?
`, envelopeID)
	env, err := scanEnvelope(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return envelope.Envelope{}, storage.ErrNotFound
		}
		return envelope.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}
	signers, err := loadSigners(ctx, q, envelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	env.Signers = signers
	return env, nil
}

// actorInput translates an actor into the shared audit event fields.
func actorInput(envelopeID string, eventType audit.Type, actor storage.Actor, payload []byte) audit.NewEventInput {
	return audit.NewEventInput{
		EnvelopeID:  envelopeID,
		Type:        eventType,
		ActorType:   actor.Type,
		ActorID:     actor.ID,
		SignerID:    actor.SignerID,
		IPAddress:   actor.Network.IPAddress,
		UserAgent:   actor.Network.UserAgent,
		Country:     actor.Network.Country,
		PayloadJSON: payload,
	}
}

func marshalPayload(value any) []byte {
	encoded, err := json.Marshal(value)
	if err != nil {
		return []byte("{}")
	}
	return encoded
}

// CreateEnvelope inserts a new envelope with its signers and appends the
// creation audit event in the same transaction.
func (s *Store) CreateEnvelope(ctx context.Context, env envelope.Envelope, actor storage.Actor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(env.ID) == "" {
		return fmt.Errorf("envelope id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start create transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertEnvelopeTx(ctx, tx, env); err != nil {
		return err
	}
	for _, signer := range env.Signers {
		if err := insertSignerTx(ctx, tx, signer); err != nil {
			return err
		}
	}

	payload := marshalPayload(map[string]any{
		"title":        env.Title,
		"order_policy": envelope.OrderPolicyLabel(env.OrderPolicy),
		"signer_count": len(env.Signers),
	})
	if _, err := s.appendAuditEventTx(ctx, tx, actorInput(env.ID, audit.TypeEnvelopeCreated, actor, payload)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create transaction: %w", err)
	}
	return nil
}

// GetEnvelope loads an envelope aggregate including its signers.
func (s *Store) GetEnvelope(ctx context.Context, envelopeID string) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}
	return loadEnvelope(ctx, s.sqlDB, envelopeID)
}

// UpdateEnvelopeDraft rewrites envelope metadata and signers while the stored
// row is still DRAFT.
//
// Signers are replaced wholesale; the draft is the only state where the
// participant set may change, so the rewrite cannot lose acted-upon signers.
func (s *Store) UpdateEnvelopeDraft(ctx context.Context, env envelope.Envelope, actor storage.Actor) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(env.ID) == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("start update transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE envelopes
SET
	title = ?,
	description = ?,
	order_policy = ?,
	source_ref = ?,
	source_hash = ?,
	flattened_ref = ?,
	flattened_hash = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
`,
		env.Title,
		env.Description,
		envelope.OrderPolicyLabel(env.OrderPolicy),
		env.SourceRef,
		env.SourceHash,
		env.FlattenedRef,
		env.FlattenedHash,
		toMillis(env.UpdatedAt),
		env.ID,
		envelope.StatusLabel(envelope.StatusDraft),
	)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("update envelope draft: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("update envelope rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return envelope.Envelope{}, s.draftConflict(ctx, tx, env.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM signers WHERE envelope_id = ?`, env.ID); err != nil {
		return envelope.Envelope{}, fmt.Errorf("clear draft signers: %w", err)
	}
	for _, signer := range env.Signers {
		if err := insertSignerTx(ctx, tx, signer); err != nil {
			return envelope.Envelope{}, err
		}
	}

	payload := marshalPayload(map[string]any{
		"title":        env.Title,
		"signer_count": len(env.Signers),
	})
	if _, err := s.appendAuditEventTx(ctx, tx, actorInput(env.ID, audit.TypeEnvelopeUpdated, actor, payload)); err != nil {
		return envelope.Envelope{}, err
	}

	updated, err := loadEnvelope(ctx, tx, env.ID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := tx.Commit(); err != nil {
		return envelope.Envelope{}, fmt.Errorf("commit update transaction: %w", err)
	}
	return updated, nil
}

// draftConflict explains why a DRAFT-guarded update matched no rows.
func (s *Store) draftConflict(ctx context.Context, q querier, envelopeID string) error {
	row := q.QueryRowContext(ctx, `SELECT status FROM envelopes WHERE id = ?`, envelopeID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read envelope status: %w", err)
	}
	return statusDisallows(status, "envelope can only change while it is a draft")
}

// ListEnvelopes pages through envelopes matching the filter.
func (s *Store) ListEnvelopes(ctx context.Context, filter storage.EnvelopeFilter, pageSize int, pageToken string) (storage.EnvelopePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EnvelopePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EnvelopePage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	afterRowID := int64(0)
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return storage.EnvelopePage{}, fmt.Errorf("invalid page token: %w", err)
		}
		afterRowID = parsed
	}

	query := `
SELECT rowid, ` + envelopeColumns + `
FROM envelopes
WHERE rowid > ?
`
	args := []any{afterRowID}
	if owner := strings.TrimSpace(filter.OwnerUserID); owner != "" {
		query += "AND owner_user_id = ?\n"
		args = append(args, owner)
	}
	if filter.Status != envelope.StatusUnspecified {
		query += "AND status = ?\n"
		args = append(args, envelope.StatusLabel(filter.Status))
	}
	query += "ORDER BY rowid ASC\nLIMIT ?"
	args = append(args, pageSize)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.EnvelopePage{}, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	page := storage.EnvelopePage{}
	lastRowID := int64(0)
	for rows.Next() {
		var rowID int64
		env, scanErr := scanEnvelope(func(dest ...any) error {
			return rows.Scan(append([]any{&rowID}, dest...)...)
		})
		if scanErr != nil {
			return storage.EnvelopePage{}, fmt.Errorf("scan envelope: %w", scanErr)
		}
		page.Envelopes = append(page.Envelopes, env)
		lastRowID = rowID
	}
	if err := rows.Err(); err != nil {
		return storage.EnvelopePage{}, fmt.Errorf("iterate envelopes: %w", err)
	}

	for i := range page.Envelopes {
		signers, signerErr := loadSigners(ctx, s.sqlDB, page.Envelopes[i].ID)
		if signerErr != nil {
			return storage.EnvelopePage{}, signerErr
		}
		page.Envelopes[i].Signers = signers
	}

	if len(page.Envelopes) == pageSize {
		page.NextPageToken = strconv.FormatInt(lastRowID, 10)
	}
	return page, nil
}
