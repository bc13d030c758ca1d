package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
)

// Type identifies the type of an audit event.
type Type string

// Envelope lifecycle events.
const (
	// TypeEnvelopeCreated records the creation of an envelope.
	TypeEnvelopeCreated Type = "envelope.created"
	// TypeEnvelopeUpdated records updates to envelope metadata or participants.
	TypeEnvelopeUpdated Type = "envelope.updated"
	// TypeEnvelopeSent records the dispatch of an envelope to its signers.
	TypeEnvelopeSent Type = "envelope.sent"
	// TypeEnvelopeCompleted records all required signatures being collected.
	TypeEnvelopeCompleted Type = "envelope.completed"
	// TypeEnvelopeDeclined records an envelope terminating on a decline.
	TypeEnvelopeDeclined Type = "envelope.declined"
	// TypeEnvelopeCancelled records the owner voiding an envelope.
	TypeEnvelopeCancelled Type = "envelope.cancelled"
)

// Signer events.
const (
	// TypeSignerConsented records a signer accepting the consent text.
	TypeSignerConsented Type = "signer.consented"
	// TypeSignerSigned records a signer completing their signature.
	TypeSignerSigned Type = "signer.signed"
	// TypeSignerDeclined records a signer refusing to sign.
	TypeSignerDeclined Type = "signer.declined"
	// TypeSignerReminded records a reminder being issued to a signer.
	TypeSignerReminded Type = "signer.reminded"
	// TypeSignerViewed records token-based read access to the envelope.
	TypeSignerViewed Type = "signer.viewed"
)

// Token events.
const (
	// TypeTokenIssued records the issuance of an invitation token.
	TypeTokenIssued Type = "token.issued"
	// TypeTokenRevoked records an invitation token being revoked.
	TypeTokenRevoked Type = "token.revoked"
)

// ActorType identifies who or what triggered an audit event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the platform.
	ActorTypeSystem ActorType = "system"
	// ActorTypeUser indicates the event was triggered by an authenticated user.
	ActorTypeUser ActorType = "user"
	// ActorTypeSigner indicates the event was triggered by a token-bearing signer.
	ActorTypeSigner ActorType = "signer"
)

// Event represents an immutable entry in an envelope's audit chain.
type Event struct {
	// ID is the event identifier.
	ID string
	// EnvelopeID is the envelope this event belongs to.
	EnvelopeID string
	// Seq is the event sequence number within the envelope (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Type identifies the kind of event.
	Type Type
	// Description is the human-readable account of what happened.
	Description string
	// OccurredAt is when the event occurred.
	OccurredAt time.Time
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the user or signer identifier behind the event.
	ActorID string
	// SignerID is the signer affected by the event, when applicable.
	SignerID string
	// IPAddress is the observed client address, when captured.
	IPAddress string
	// UserAgent is the observed client user agent, when captured.
	UserAgent string
	// Country is the observed client country code, when captured.
	Country string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
	// PrevHash is the previous event's content hash (empty for the first event).
	PrevHash string
	// ContentHash links this event to the previous one (SHA-256).
	ContentHash string
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "envelope", "signer").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Describe returns the default human-readable wording for an event type.
func Describe(t Type) string {
	switch t {
	case TypeEnvelopeCreated:
		return "Envelope created"
	case TypeEnvelopeUpdated:
		return "Envelope updated"
	case TypeEnvelopeSent:
		return "Envelope sent to signers"
	case TypeEnvelopeCompleted:
		return "All required signatures collected"
	case TypeEnvelopeDeclined:
		return "Envelope declined"
	case TypeEnvelopeCancelled:
		return "Envelope cancelled by owner"
	case TypeSignerConsented:
		return "Signer recorded consent"
	case TypeSignerSigned:
		return "Signer signed the document"
	case TypeSignerDeclined:
		return "Signer declined to sign"
	case TypeSignerReminded:
		return "Reminder sent to signer"
	case TypeSignerViewed:
		return "Envelope viewed with an invitation token"
	case TypeTokenIssued:
		return "Invitation token issued"
	case TypeTokenRevoked:
		return "Invitation token revoked"
	default:
		return string(t)
	}
}

// NewEventInput carries the caller-supplied fields for a new audit event.
type NewEventInput struct {
	EnvelopeID string
	Type       Type
	// Description overrides the default wording derived from the type.
	Description string
	ActorType   ActorType
	ActorID     string
	SignerID    string
	IPAddress   string
	UserAgent   string
	Country     string
	PayloadJSON []byte
}

// NewEvent builds a hashed audit event linked to the previous chain head.
//
// The sequence number is left at zero; storage assigns it on append within
// the same transaction that read prevHash.
func NewEvent(input NewEventInput, prevHash string, now func() time.Time, idGenerator func() (string, error)) (Event, error) {
	if now == nil {
		now = time.Now
	}
	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return Event{}, fmt.Errorf("audit event envelope is required")
	}
	if !input.Type.IsValid() {
		return Event{}, fmt.Errorf("audit event type is required")
	}
	if input.ActorType == "" {
		input.ActorType = ActorTypeSystem
	}
	input.Description = strings.TrimSpace(input.Description)
	if input.Description == "" {
		input.Description = Describe(input.Type)
	}

	id, err := idGenerator()
	if err != nil {
		return Event{}, fmt.Errorf("generate audit event id: %w", err)
	}

	evt := Event{
		ID:          id,
		EnvelopeID:  input.EnvelopeID,
		Type:        input.Type,
		Description: input.Description,
		OccurredAt:  now().UTC(),
		ActorType:   input.ActorType,
		ActorID:     input.ActorID,
		SignerID:    input.SignerID,
		IPAddress:   input.IPAddress,
		UserAgent:   input.UserAgent,
		Country:     input.Country,
		PayloadJSON: input.PayloadJSON,
		PrevHash:    prevHash,
	}
	hash, err := ContentHash(evt)
	if err != nil {
		return Event{}, err
	}
	evt.ContentHash = hash
	return evt, nil
}

// hashEnvelope is the canonical shape fed to the content hash. Field order is
// fixed by the struct so the encoding cannot drift between writers.
type hashEnvelope struct {
	EnvelopeID  string          `json:"envelope_id"`
	Type        Type            `json:"type"`
	Description string          `json:"description,omitempty"`
	OccurredAt  int64           `json:"occurred_at_ms"`
	ActorType   ActorType       `json:"actor_type"`
	ActorID     string          `json:"actor_id,omitempty"`
	SignerID    string          `json:"signer_id,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	Country     string          `json:"country,omitempty"`
	PayloadJSON json.RawMessage `json:"payload,omitempty"`
	PrevHash    string          `json:"prev_hash,omitempty"`
}

// ContentHash computes the SHA-256 hash that links an event to its predecessor.
func ContentHash(evt Event) (string, error) {
	env := hashEnvelope{
		EnvelopeID:  evt.EnvelopeID,
		Type:        evt.Type,
		Description: evt.Description,
		OccurredAt:  evt.OccurredAt.UTC().UnixMilli(),
		ActorType:   evt.ActorType,
		ActorID:     evt.ActorID,
		SignerID:    evt.SignerID,
		IPAddress:   evt.IPAddress,
		UserAgent:   evt.UserAgent,
		Country:     evt.Country,
		PayloadJSON: json.RawMessage(evt.PayloadJSON),
		PrevHash:    evt.PrevHash,
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode audit hash envelope: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain checks that events form an unbroken hash chain.
//
// Events must be supplied in sequence order. An empty chain verifies.
func VerifyChain(events []Event) error {
	prevHash := ""
	for i, evt := range events {
		if evt.PrevHash != prevHash {
			return apperrors.WithMetadata(
				apperrors.CodeAuditChainBroken,
				"audit event does not link to its predecessor",
				map[string]string{
					"EventID":  evt.ID,
					"Position": fmt.Sprintf("%d", i),
				},
			)
		}
		computed, err := ContentHash(evt)
		if err != nil {
			return err
		}
		if computed != evt.ContentHash {
			return apperrors.WithMetadata(
				apperrors.CodeAuditChainBroken,
				"audit event content hash does not match its content",
				map[string]string{
					"EventID":  evt.ID,
					"Position": fmt.Sprintf("%d", i),
				},
			)
		}
		prevHash = evt.ContentHash
	}
	return nil
}
