package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/storage"
)

// chainHead returns the last sequence number and content hash of an
// envelope's audit chain, inside the caller's transaction.
func chainHead(ctx context.Context, tx *sql.Tx, envelopeID string) (uint64, string, error) {
	row := tx.QueryRowContext(ctx, `
SELECT seq, content_hash
FROM audit_events
WHERE envelope_id = ?
ORDER BY seq DESC
LIMIT 1
`, envelopeID)
	var seq uint64
	var hash string
	if err := row.Scan(&seq, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("read audit chain head: %w", err)
	}
	return seq, hash, nil
}

// appendAuditEventTx hashes and inserts one audit event linked to the chain
// head read in the same transaction. Reading prevHash and writing the new
// event under one transaction is what keeps the chain linear under
// concurrent writers.
func (s *Store) appendAuditEventTx(ctx context.Context, tx *sql.Tx, input audit.NewEventInput) (audit.Event, error) {
	seq, prevHash, err := chainHead(ctx, tx, input.EnvelopeID)
	if err != nil {
		return audit.Event{}, err
	}

	evt, err := audit.NewEvent(input, prevHash, s.now, s.newID)
	if err != nil {
		return audit.Event{}, err
	}
	evt.Seq = seq + 1

	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_events (
	id,
	envelope_id,
	seq,
	event_type,
	description,
	occurred_at,
	actor_type,
	actor_id,
	signer_id,
	ip_address,
	user_agent,
	country,
	payload_json,
	prev_hash,
	content_hash
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		evt.ID,
		evt.EnvelopeID,
		evt.Seq,
		string(evt.Type),
		evt.Description,
		toMillis(evt.OccurredAt),
		string(evt.ActorType),
		evt.ActorID,
		evt.SignerID,
		evt.IPAddress,
		evt.UserAgent,
		evt.Country,
		string(payload),
		evt.PrevHash,
		evt.ContentHash,
	); err != nil {
		return audit.Event{}, fmt.Errorf("insert audit event: %w", err)
	}
	return evt, nil
}

// AppendAuditEvent hashes and appends one event to the envelope's chain.
func (s *Store) AppendAuditEvent(ctx context.Context, input audit.NewEventInput) (audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return audit.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return audit.Event{}, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return audit.Event{}, fmt.Errorf("start audit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	evt, err := s.appendAuditEventTx(ctx, tx, input)
	if err != nil {
		return audit.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return audit.Event{}, fmt.Errorf("commit audit transaction: %w", err)
	}
	return evt, nil
}

const auditEventColumns = `
	id,
	envelope_id,
	seq,
	event_type,
	description,
	occurred_at,
	actor_type,
	actor_id,
	signer_id,
	ip_address,
	user_agent,
	country,
	payload_json,
	prev_hash,
	content_hash
`

type auditScanner func(dest ...any) error

func scanAuditEvent(scan auditScanner) (audit.Event, error) {
	var evt audit.Event
	var eventType string
	var occurredAt int64
	var actorType string
	var payload string
	if err := scan(
		&evt.ID,
		&evt.EnvelopeID,
		&evt.Seq,
		&eventType,
		&evt.Description,
		&occurredAt,
		&actorType,
		&evt.ActorID,
		&evt.SignerID,
		&evt.IPAddress,
		&evt.UserAgent,
		&evt.Country,
		&payload,
		&evt.PrevHash,
		&evt.ContentHash,
	); err != nil {
		return audit.Event{}, err
	}
	evt.Type = audit.Type(eventType)
	evt.OccurredAt = fromMillis(occurredAt)
	evt.ActorType = audit.ActorType(actorType)
	evt.PayloadJSON = []byte(payload)
	return evt, nil
}

// ListAuditEvents pages through an envelope's audit chain in sequence order.
func (s *Store) ListAuditEvents(ctx context.Context, envelopeID string, pageSize int, pageToken string) (storage.AuditPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.AuditPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AuditPage{}, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return storage.AuditPage{}, fmt.Errorf("envelope id is required")
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	afterSeq := uint64(0)
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return storage.AuditPage{}, fmt.Errorf("invalid page token: %w", err)
		}
		afterSeq = parsed
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+auditEventColumns+`
FROM audit_events
WHERE envelope_id = ?
AND seq > ?
ORDER BY seq ASC
LIMIT ?
`, envelopeID, afterSeq, pageSize)
	if err != nil {
		return storage.AuditPage{}, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	page := storage.AuditPage{}
	for rows.Next() {
		evt, scanErr := scanAuditEvent(rows.Scan)
		if scanErr != nil {
			return storage.AuditPage{}, fmt.Errorf("scan audit event: %w", scanErr)
		}
		page.Events = append(page.Events, evt)
	}
	if err := rows.Err(); err != nil {
		return storage.AuditPage{}, fmt.Errorf("iterate audit events: %w", err)
	}
	if len(page.Events) == pageSize {
		page.NextPageToken = strconv.FormatUint(page.Events[len(page.Events)-1].Seq, 10)
	}
	return page, nil
}

// GetAuditChain returns the full chain for verification.
func (s *Store) GetAuditChain(ctx context.Context, envelopeID string) ([]audit.Event, error) {
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
SELECT `+auditEventColumns+`
FROM audit_events
WHERE envelope_id = ?
ORDER BY seq ASC
`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("load audit chain: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		evt, scanErr := scanAuditEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan audit event: %w", scanErr)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit chain: %w", err)
	}
	return events, nil
}
