// Package envelope models a document-signing transaction and its participants.
package envelope

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/platform/id"
)

// Status represents the lifecycle status of an envelope.
type Status int

const (
	// StatusUnspecified represents an invalid envelope status.
	StatusUnspecified Status = iota
	// StatusDraft indicates an envelope is still being assembled.
	StatusDraft
	// StatusSent indicates an envelope has been routed to its signers.
	StatusSent
	// StatusCompleted indicates every required signer has signed.
	StatusCompleted
	// StatusDeclined indicates a signer refused to sign.
	StatusDeclined
	// StatusCancelled indicates the owner withdrew the envelope.
	StatusCancelled
)

// StatusLabel returns the string label for an envelope status.
func StatusLabel(status Status) string {
	switch status {
	case StatusDraft:
		return "DRAFT"
	case StatusSent:
		return "SENT"
	case StatusCompleted:
		return "COMPLETED"
	case StatusDeclined:
		return "DECLINED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "DRAFT":
		return StatusDraft
	case "SENT":
		return StatusSent
	case "COMPLETED":
		return StatusCompleted
	case "DECLINED":
		return StatusDeclined
	case "CANCELLED":
		return StatusCancelled
	default:
		return StatusUnspecified
	}
}

// terminal reports whether no further transition may leave this status.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusDeclined || s == StatusCancelled
}

// OrderPolicy controls the admission order of signers.
type OrderPolicy int

const (
	// OrderPolicyUnspecified represents an invalid order policy.
	OrderPolicyUnspecified OrderPolicy = iota
	// OrderPolicyNone admits any pending signer at any time.
	OrderPolicyNone
	// OrderPolicyOwnerFirst admits invited signers only after the owner signed.
	OrderPolicyOwnerFirst
	// OrderPolicyInviteesFirst admits the owner only after all invited signers signed.
	OrderPolicyInviteesFirst
)

// OrderPolicyLabel returns the string label for an order policy.
func OrderPolicyLabel(policy OrderPolicy) string {
	switch policy {
	case OrderPolicyNone:
		return "NONE"
	case OrderPolicyOwnerFirst:
		return "OWNER_FIRST"
	case OrderPolicyInviteesFirst:
		return "INVITEES_FIRST"
	default:
		return "UNSPECIFIED"
	}
}

// OrderPolicyFromLabel converts an order policy label to an OrderPolicy value.
func OrderPolicyFromLabel(label string) OrderPolicy {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "NONE":
		return OrderPolicyNone
	case "OWNER_FIRST":
		return OrderPolicyOwnerFirst
	case "INVITEES_FIRST":
		return OrderPolicyInviteesFirst
	default:
		return OrderPolicyUnspecified
	}
}

// Envelope is the aggregate for one document-signing transaction.
//
// Callers mutate envelopes exclusively through methods; every method enforces
// the lifecycle guards so an envelope can never be observed in a state its
// own transitions would not have produced.
type Envelope struct {
	ID          string
	OwnerUserID string
	Title       string
	Description string
	Status      Status
	OrderPolicy OrderPolicy
	Signers     []Signer

	// Origin and template identity are fixed at creation and rejected on
	// update regardless of envelope state.
	Origin          string
	TemplateID      string
	TemplateVersion int

	// Opaque object-storage references and their content hashes.
	SourceRef     string
	FlattenedRef  string
	SignedRef     string
	SourceHash    string
	FlattenedHash string
	SignedHash    string

	SentAt      *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	DeclinedAt  *time.Time

	DeclinedBySignerID string
	DeclineReason      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateEnvelopeInput describes the metadata needed to create an envelope.
type CreateEnvelopeInput struct {
	OwnerUserID     string
	Title           string
	Description     string
	OrderPolicy     OrderPolicy
	Origin          string
	TemplateID      string
	TemplateVersion int
	SourceRef       string
	SourceHash      string
	FlattenedRef    string
	FlattenedHash   string
}

// CreateEnvelope creates a new DRAFT envelope with a generated ID and timestamps.
//
// Envelopes are created without signers; participants are added through
// UpdateMetadata/AddSigner while the envelope is still a draft.
func CreateEnvelope(input CreateEnvelopeInput, now func() time.Time, idGenerator func() (string, error)) (Envelope, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.OwnerUserID = strings.TrimSpace(input.OwnerUserID)
	if input.OwnerUserID == "" {
		return Envelope{}, apperrors.New(apperrors.CodeEnvelopeOwnerMissing, "envelope owner is required")
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return Envelope{}, apperrors.New(apperrors.CodeEnvelopeTitleEmpty, "envelope title is required")
	}
	if input.OrderPolicy == OrderPolicyUnspecified {
		input.OrderPolicy = OrderPolicyNone
	}
	if OrderPolicyLabel(input.OrderPolicy) == "UNSPECIFIED" {
		return Envelope{}, apperrors.New(apperrors.CodeEnvelopeInvalidOrderPolicy, "order policy is invalid")
	}

	envelopeID, err := idGenerator()
	if err != nil {
		return Envelope{}, fmt.Errorf("generate envelope id: %w", err)
	}

	createdAt := now().UTC()
	return Envelope{
		ID:              envelopeID,
		OwnerUserID:     input.OwnerUserID,
		Title:           input.Title,
		Description:     strings.TrimSpace(input.Description),
		Status:          StatusDraft,
		OrderPolicy:     input.OrderPolicy,
		Origin:          strings.TrimSpace(input.Origin),
		TemplateID:      strings.TrimSpace(input.TemplateID),
		TemplateVersion: input.TemplateVersion,
		SourceRef:       strings.TrimSpace(input.SourceRef),
		SourceHash:      strings.TrimSpace(input.SourceHash),
		FlattenedRef:    strings.TrimSpace(input.FlattenedRef),
		FlattenedHash:   strings.TrimSpace(input.FlattenedHash),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// invalidTransition builds the error for a disallowed status transition.
func (e *Envelope) invalidTransition(attempted Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeEnvelopeInvalidStatusTransition,
		fmt.Sprintf("envelope cannot transition from %s to %s", StatusLabel(e.Status), StatusLabel(attempted)),
		map[string]string{
			"Current":   StatusLabel(e.Status),
			"Attempted": StatusLabel(attempted),
		},
	)
}

// Send transitions a DRAFT envelope to SENT.
//
// At least one non-viewer signer must be attached; sending an envelope nobody
// can sign would strand it in SENT forever.
func (e *Envelope) Send(now time.Time) error {
	if e.Status != StatusDraft {
		return e.invalidTransition(StatusSent)
	}
	required := 0
	for _, signer := range e.Signers {
		if signer.Required() {
			required++
		}
	}
	if required == 0 {
		return apperrors.New(apperrors.CodeEnvelopeNoSigners, "envelope requires at least one signer before sending")
	}
	sentAt := now.UTC()
	e.Status = StatusSent
	e.SentAt = &sentAt
	e.UpdatedAt = sentAt
	return nil
}

// Complete transitions a SENT envelope to COMPLETED.
//
// Reachable only when every non-viewer signer has signed.
func (e *Envelope) Complete(now time.Time) error {
	if e.Status != StatusSent {
		return e.invalidTransition(StatusCompleted)
	}
	if !e.AllRequiredSigned() {
		return apperrors.New(apperrors.CodeEnvelopeSignersPending, "envelope has pending signers")
	}
	completedAt := now.UTC()
	e.Status = StatusCompleted
	e.CompletedAt = &completedAt
	e.UpdatedAt = completedAt
	return nil
}

// MarkDeclined transitions a SENT envelope to DECLINED, recording which signer
// declined and why.
func (e *Envelope) MarkDeclined(signerID, reason string, now time.Time) error {
	if e.Status != StatusSent {
		return e.invalidTransition(StatusDeclined)
	}
	declinedAt := now.UTC()
	e.Status = StatusDeclined
	e.DeclinedAt = &declinedAt
	e.DeclinedBySignerID = strings.TrimSpace(signerID)
	e.DeclineReason = strings.TrimSpace(reason)
	e.UpdatedAt = declinedAt
	return nil
}

// Cancel transitions a DRAFT or SENT envelope to CANCELLED.
func (e *Envelope) Cancel(now time.Time) error {
	if e.Status != StatusDraft && e.Status != StatusSent {
		return e.invalidTransition(StatusCancelled)
	}
	cancelledAt := now.UTC()
	e.Status = StatusCancelled
	e.CancelledAt = &cancelledAt
	e.UpdatedAt = cancelledAt
	return nil
}

// UpdateMetadata updates the mutable envelope fields while DRAFT.
func (e *Envelope) UpdateMetadata(title, description string, now time.Time) error {
	if e.Status != StatusDraft {
		return apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"envelope metadata is frozen once sent",
			map[string]string{"Status": StatusLabel(e.Status)},
		)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.New(apperrors.CodeEnvelopeTitleEmpty, "envelope title is required")
	}
	e.Title = title
	e.Description = strings.TrimSpace(description)
	e.UpdatedAt = now.UTC()
	return nil
}

// AddSigner attaches a signer while the envelope is DRAFT.
func (e *Envelope) AddSigner(signer Signer, now time.Time) error {
	if e.Status != StatusDraft {
		return apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"participants can only change while the envelope is a draft",
			map[string]string{"Status": StatusLabel(e.Status)},
		)
	}
	if signer.EnvelopeID != e.ID {
		return apperrors.New(apperrors.CodeSignerEmptyEnvelopeID, "signer belongs to a different envelope")
	}
	for _, existing := range e.Signers {
		if existing.ID == signer.ID {
			return apperrors.New(apperrors.CodeSignerInvalidParty, "signer is already attached")
		}
	}
	e.Signers = append(e.Signers, signer)
	e.UpdatedAt = now.UTC()
	return nil
}

// RemoveSigner detaches a signer while the envelope is DRAFT.
func (e *Envelope) RemoveSigner(signerID string, now time.Time) error {
	if e.Status != StatusDraft {
		return apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"participants can only change while the envelope is a draft",
			map[string]string{"Status": StatusLabel(e.Status)},
		)
	}
	for i, existing := range e.Signers {
		if existing.ID == signerID {
			e.Signers = append(e.Signers[:i], e.Signers[i+1:]...)
			e.UpdatedAt = now.UTC()
			return nil
		}
	}
	return apperrors.New(apperrors.CodeNotFound, "signer not found")
}

// SetSignedContent records the signed output reference and hash.
func (e *Envelope) SetSignedContent(ref, hash string, now time.Time) {
	e.SignedRef = strings.TrimSpace(ref)
	e.SignedHash = strings.TrimSpace(hash)
	e.UpdatedAt = now.UTC()
}

// SignerByID returns a pointer to the signer with the given ID.
func (e *Envelope) SignerByID(signerID string) (*Signer, error) {
	for i := range e.Signers {
		if e.Signers[i].ID == signerID {
			return &e.Signers[i], nil
		}
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "signer not found")
}

// OwnerSigner returns the owner's own signer entry, if one exists.
func (e *Envelope) OwnerSigner() *Signer {
	for i := range e.Signers {
		signer := &e.Signers[i]
		if signer.Party.Kind() == PartyKindInternal && signer.Party.UserID() == e.OwnerUserID {
			return signer
		}
	}
	return nil
}

// AllRequiredSigned reports whether every non-viewer signer has signed.
func (e *Envelope) AllRequiredSigned() bool {
	for _, signer := range e.Signers {
		if signer.Required() && signer.Status != SignerStatusSigned {
			return false
		}
	}
	return true
}

// PendingSigners returns the signers that have neither signed nor declined.
func (e *Envelope) PendingSigners() []Signer {
	var pending []Signer
	for _, signer := range e.Signers {
		if signer.Status == SignerStatusPending {
			pending = append(pending, signer)
		}
	}
	return pending
}

// ExternalSigners returns the signers identified by external contact.
func (e *Envelope) ExternalSigners() []Signer {
	var external []Signer
	for _, signer := range e.Signers {
		if signer.Party.IsExternal() {
			external = append(external, signer)
		}
	}
	return external
}
