package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/storage"
)

const tokenColumns = `
	id,
	envelope_id,
	signer_id,
	purpose,
	created_by_user_id,
	expires_at,
	used_at,
	revoked_at,
	revoke_reason,
	created_at
`

type tokenScanner func(dest ...any) error

func scanToken(scan tokenScanner) (invite.Token, error) {
	var token invite.Token
	var purpose string
	var expiresAt, createdAt int64
	var usedAt, revokedAt sql.NullInt64
	if err := scan(
		&token.ID,
		&token.EnvelopeID,
		&token.SignerID,
		&purpose,
		&token.CreatedByUserID,
		&expiresAt,
		&usedAt,
		&revokedAt,
		&token.RevokeReason,
		&createdAt,
	); err != nil {
		return invite.Token{}, err
	}
	token.Purpose = invite.PurposeFromLabel(purpose)
	token.ExpiresAt = fromMillis(expiresAt)
	token.UsedAt = millisPtr(usedAt)
	token.RevokedAt = millisPtr(revokedAt)
	token.CreatedAt = fromMillis(createdAt)
	return token, nil
}

func insertTokenTx(ctx context.Context, target execContexter, token invite.Token) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO tokens (`+tokenColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		token.ID,
		token.EnvelopeID,
		token.SignerID,
		invite.PurposeLabel(token.Purpose),
		token.CreatedByUserID,
		toMillis(token.ExpiresAt),
		nullableMillis(token.UsedAt),
		nullableMillis(token.RevokedAt),
		token.RevokeReason,
		toMillis(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// IssueToken inserts a token and appends the issuance audit event.
func (s *Store) IssueToken(ctx context.Context, token invite.Token, actor storage.Actor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("token id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start token transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertTokenTx(ctx, tx, token); err != nil {
		return err
	}

	payload := marshalPayload(map[string]any{
		"token_id":   token.ID,
		"purpose":    invite.PurposeLabel(token.Purpose),
		"expires_at": toMillis(token.ExpiresAt),
	})
	input := actorInput(token.EnvelopeID, audit.TypeTokenIssued, actor, payload)
	input.SignerID = token.SignerID
	if _, err := s.appendAuditEventTx(ctx, tx, input); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token transaction: %w", err)
	}
	return nil
}

// GetToken returns one token by ID.
func (s *Store) GetToken(ctx context.Context, tokenID string) (invite.Token, error) {
	if err := ctx.Err(); err != nil {
		return invite.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return invite.Token{}, fmt.Errorf("storage is not configured")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return invite.Token{}, fmt.Errorf("token id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+tokenColumns+`
FROM tokens
WHERE id = ?
`, tokenID)
	token, err := scanToken(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invite.Token{}, storage.ErrNotFound
		}
		return invite.Token{}, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// RevokeToken marks an unconsumed token revoked.
func (s *Store) RevokeToken(ctx context.Context, tokenID, reason string, revokedAt time.Time, actor storage.Actor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	if revokedAt.IsZero() {
		revokedAt = s.now().UTC()
	}
	revokedAt = revokedAt.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start revoke transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE tokens
SET
	revoked_at = ?,
	revoke_reason = ?
WHERE id = ?
AND used_at IS NULL
AND revoked_at IS NULL
`,
		toMillis(revokedAt),
		strings.TrimSpace(reason),
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	row := tx.QueryRowContext(ctx, `
SELECT `+tokenColumns+`
FROM tokens
WHERE id = ?
`, tokenID)
	token, err := scanToken(row.Scan)
	if err != nil {
		return fmt.Errorf("read revoked token: %w", err)
	}

	payload := marshalPayload(map[string]any{
		"token_id": token.ID,
		"reason":   strings.TrimSpace(reason),
	})
	input := actorInput(token.EnvelopeID, audit.TypeTokenRevoked, actor, payload)
	input.SignerID = token.SignerID
	if _, err := s.appendAuditEventTx(ctx, tx, input); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revoke transaction: %w", err)
	}
	return nil
}

// ListTokensByEnvelope returns all tokens issued for an envelope.
func (s *Store) ListTokensByEnvelope(ctx context.Context, envelopeID string) ([]invite.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return nil, fmt.Errorf("envelope id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+tokenColumns+`
FROM tokens
WHERE envelope_id = ?
ORDER BY created_at ASC, id ASC
`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []invite.Token
	for rows.Next() {
		token, scanErr := scanToken(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan token: %w", scanErr)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}
