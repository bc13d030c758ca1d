// Package storage defines the persistence contracts for envelopes, signers,
// invitation tokens, audit events, and the transactional outbox.
package storage

import (
	"context"
	"time"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/envelope"
	"github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Actor identifies who performed a mutation, for audit attribution.
type Actor struct {
	Type     audit.ActorType
	ID       string
	SignerID string
	Network  envelope.NetworkContext
}

// EnvelopeStore persists envelope aggregates.
type EnvelopeStore interface {
	// CreateEnvelope inserts a new envelope with its signers and appends the
	// creation audit event in the same transaction.
	CreateEnvelope(ctx context.Context, env envelope.Envelope, actor Actor) error
	// GetEnvelope loads an envelope aggregate including its signers.
	GetEnvelope(ctx context.Context, envelopeID string) (envelope.Envelope, error)
	// UpdateEnvelopeDraft rewrites envelope metadata and signers and returns
	// the committed state. The update applies only while the stored row is
	// still DRAFT.
	UpdateEnvelopeDraft(ctx context.Context, env envelope.Envelope, actor Actor) (envelope.Envelope, error)
	// ListEnvelopes pages through envelopes matching the filter.
	ListEnvelopes(ctx context.Context, filter EnvelopeFilter, pageSize int, pageToken string) (EnvelopePage, error)
}

// EnvelopeFilter narrows envelope listings.
type EnvelopeFilter struct {
	OwnerUserID string
	Status      envelope.Status
}

// EnvelopePage describes a page of envelope records.
type EnvelopePage struct {
	Envelopes     []envelope.Envelope
	NextPageToken string
}

// TokenStore persists invitation tokens.
type TokenStore interface {
	// IssueToken inserts a token and appends the issuance audit event.
	IssueToken(ctx context.Context, token invite.Token, actor Actor) error
	GetToken(ctx context.Context, tokenID string) (invite.Token, error)
	// RevokeToken marks an unconsumed token revoked. Already used or revoked
	// tokens are left untouched and reported via ErrNotFound.
	RevokeToken(ctx context.Context, tokenID, reason string, revokedAt time.Time, actor Actor) error
	ListTokensByEnvelope(ctx context.Context, envelopeID string) ([]invite.Token, error)
}

// AuditStore reads and extends envelope audit chains.
type AuditStore interface {
	// AppendAuditEvent hashes and appends one event to the envelope's chain.
	AppendAuditEvent(ctx context.Context, input audit.NewEventInput) (audit.Event, error)
	// ListAuditEvents pages through an envelope's audit chain in sequence order.
	ListAuditEvents(ctx context.Context, envelopeID string, pageSize int, pageToken string) (AuditPage, error)
	// GetAuditChain returns the full chain for verification.
	GetAuditChain(ctx context.Context, envelopeID string) ([]audit.Event, error)
}

// AuditPage describes a page of audit events.
type AuditPage struct {
	Events        []audit.Event
	NextPageToken string
}

// SendEnvelopeInput carries a validated DRAFT to SENT transition.
type SendEnvelopeInput struct {
	// Envelope holds the post-transition aggregate state.
	Envelope envelope.Envelope
	// Tokens are the signing tokens to insert for external signers.
	Tokens []invite.Token
	// Message is an owner note carried on the invitation notifications.
	Message string
	Actor   Actor
}

// CommitSignatureInput carries one validated signature to persist.
type CommitSignatureInput struct {
	EnvelopeID string
	// Signer holds the post-signing entity state including evidence.
	Signer envelope.Signer
	// Consent links the acknowledgment to the produced signature.
	Consent envelope.Consent
	// TokenID is consumed in the same transaction; empty for owner self-sign.
	TokenID string
	// SignedRef and SignedHash update the envelope's signed output.
	SignedRef  string
	SignedHash string
	Actor      Actor
}

// CommitSignatureResult reports the aggregate state after a signature commit.
type CommitSignatureResult struct {
	Envelope  envelope.Envelope
	Completed bool
}

// CommitDeclineInput carries one validated decline to persist.
type CommitDeclineInput struct {
	EnvelopeID string
	// Signer holds the post-decline entity state.
	Signer envelope.Signer
	// TokenID is consumed in the same transaction; empty for internal signers.
	TokenID string
	Reason  string
	Actor   Actor
}

// CancelEnvelopeInput carries a validated cancellation to persist.
type CancelEnvelopeInput struct {
	// Envelope holds the post-cancel aggregate state.
	Envelope envelope.Envelope
	Reason   string
	Actor    Actor
}

// RecordReminderInput records one reminder sent to a pending signer.
type RecordReminderInput struct {
	EnvelopeID string
	SignerID   string
	RemindedAt time.Time
	Actor      Actor
}

// RecordViewInput records token-based read access to an envelope.
type RecordViewInput struct {
	EnvelopeID string
	SignerID   string
	Actor      Actor
}

// WorkflowStore executes the multi-record transitions of the signing workflow.
//
// Each operation owns a single transaction: the status compare-and-set, the
// dependent record changes, the audit append, and the outbox enqueue commit
// or roll back together.
type WorkflowStore interface {
	SendEnvelope(ctx context.Context, input SendEnvelopeInput) (envelope.Envelope, error)
	CommitSignature(ctx context.Context, input CommitSignatureInput) (CommitSignatureResult, error)
	CommitDecline(ctx context.Context, input CommitDeclineInput) (envelope.Envelope, error)
	CancelEnvelope(ctx context.Context, input CancelEnvelopeInput) (envelope.Envelope, error)
	RecordReminder(ctx context.Context, input RecordReminderInput) (envelope.Signer, error)
	RecordView(ctx context.Context, input RecordViewInput) error
}

// Outbox event statuses.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusLeased    = "leased"
	OutboxStatusSucceeded = "succeeded"
	OutboxStatusDead      = "dead"
)

// OutboxEvent is one pending integration event awaiting dispatch.
type OutboxEvent struct {
	ID          string
	EventType   string
	PayloadJSON string
	DedupeKey   string
	// TraceID carries the producing operation's trace so consumers can
	// correlate deliveries with the workflow request that caused them.
	TraceID        string
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutboxStore persists and leases outbox events for the dispatcher.
type OutboxStore interface {
	EnqueueOutboxEvent(ctx context.Context, event OutboxEvent) error
	GetOutboxEvent(ctx context.Context, id string) (OutboxEvent, error)
	// LeaseOutboxEvents claims due events for one consumer, including events
	// whose previous lease expired.
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error
}

// Store is the full persistence surface the coordinator depends on.
type Store interface {
	EnvelopeStore
	TokenStore
	AuditStore
	WorkflowStore
	OutboxStore
}
