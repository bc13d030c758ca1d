package envelope

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/platform/id"
)

// PartyKind discriminates internal users from external contacts.
type PartyKind int

const (
	// PartyKindUnspecified represents an invalid party.
	PartyKindUnspecified PartyKind = iota
	// PartyKindInternal identifies a participant by internal user id.
	PartyKindInternal
	// PartyKindExternal identifies a participant by email and name.
	PartyKindExternal
)

// Party is the identity of a signing participant.
//
// The discriminant is fixed at construction: a party is either an internal
// user reference or an external contact, never a mix of nullable fields.
type Party struct {
	kind   PartyKind
	userID string
	email  string
	name   string
}

// InternalParty builds a party identified by an internal user id.
func InternalParty(userID string) (Party, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Party{}, apperrors.New(apperrors.CodeSignerInvalidParty, "internal party requires a user id")
	}
	return Party{kind: PartyKindInternal, userID: userID}, nil
}

// ExternalParty builds a party identified by an external contact.
func ExternalParty(email, name string) (Party, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return Party{}, apperrors.New(apperrors.CodeSignerInvalidParty, "external party requires an email")
	}
	if !strings.Contains(email, "@") {
		return Party{}, apperrors.New(apperrors.CodeSignerInvalidParty, "external party email is invalid")
	}
	if name == "" {
		return Party{}, apperrors.New(apperrors.CodeSignerInvalidParty, "external party requires a name")
	}
	return Party{kind: PartyKindExternal, email: email, name: name}, nil
}

// Kind returns the party discriminant.
func (p Party) Kind() PartyKind { return p.kind }

// IsExternal reports whether the party is an external contact.
func (p Party) IsExternal() bool { return p.kind == PartyKindExternal }

// UserID returns the internal user id, empty for external parties.
func (p Party) UserID() string { return p.userID }

// Email returns the external contact email, empty for internal parties.
func (p Party) Email() string { return p.email }

// Name returns the external contact name, empty for internal parties.
func (p Party) Name() string { return p.name }

// IsZero reports whether the party was never constructed.
func (p Party) IsZero() bool { return p.kind == PartyKindUnspecified }

// Role represents a participant's rights on an envelope.
type Role int

const (
	// RoleUnspecified represents an invalid role.
	RoleUnspecified Role = iota
	// RoleSigner must sign for the envelope to complete.
	RoleSigner
	// RoleWitness must sign but does not own the document content.
	RoleWitness
	// RoleViewer may only view; viewers never block completion.
	RoleViewer
)

// RoleLabel returns the string label for a role.
func RoleLabel(role Role) string {
	switch role {
	case RoleSigner:
		return "SIGNER"
	case RoleWitness:
		return "WITNESS"
	case RoleViewer:
		return "VIEWER"
	default:
		return "UNSPECIFIED"
	}
}

// RoleFromLabel converts a role label to a Role value.
func RoleFromLabel(label string) Role {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "SIGNER":
		return RoleSigner
	case "WITNESS":
		return RoleWitness
	case "VIEWER":
		return RoleViewer
	default:
		return RoleUnspecified
	}
}

// SignerStatus represents the lifecycle status of a signer.
type SignerStatus int

const (
	// SignerStatusUnspecified represents an invalid signer status.
	SignerStatusUnspecified SignerStatus = iota
	// SignerStatusPending indicates the signer has not acted yet.
	SignerStatusPending
	// SignerStatusSigned indicates the signer produced a signature. Terminal.
	SignerStatusSigned
	// SignerStatusDeclined indicates the signer refused. Terminal.
	SignerStatusDeclined
)

// SignerStatusLabel returns the string label for a signer status.
func SignerStatusLabel(status SignerStatus) string {
	switch status {
	case SignerStatusPending:
		return "PENDING"
	case SignerStatusSigned:
		return "SIGNED"
	case SignerStatusDeclined:
		return "DECLINED"
	default:
		return "UNSPECIFIED"
	}
}

// SignerStatusFromLabel converts a signer status label to a SignerStatus value.
func SignerStatusFromLabel(label string) SignerStatus {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return SignerStatusPending
	case "SIGNED":
		return SignerStatusSigned
	case "DECLINED":
		return SignerStatusDeclined
	default:
		return SignerStatusUnspecified
	}
}

// NetworkContext captures where a signer action originated.
type NetworkContext struct {
	IPAddress string
	UserAgent string
	Country   string
}

// Signer is one participant on an envelope.
type Signer struct {
	ID         string
	EnvelopeID string
	Party      Party
	Role       Role
	Order      int
	Status     SignerStatus

	InvitedByUserID string

	ConsentGiven bool
	ConsentedAt  *time.Time

	SignedAt      *time.Time
	DocumentHash  string
	SignatureHash string
	SignedRef     string
	SigningKeyID  string
	Algorithm     string
	Network       NetworkContext
	Reason        string

	DeclinedAt    *time.Time
	DeclineReason string

	ReminderCount  int
	LastRemindedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSignerInput describes the metadata needed to create a signer.
type NewSignerInput struct {
	EnvelopeID      string
	Party           Party
	Role            Role
	Order           int
	InvitedByUserID string
}

// NewSigner creates a PENDING signer with a generated ID and timestamps.
func NewSigner(input NewSignerInput, now func() time.Time, idGenerator func() (string, error)) (Signer, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return Signer{}, apperrors.New(apperrors.CodeSignerEmptyEnvelopeID, "envelope id is required")
	}
	if input.Party.IsZero() {
		return Signer{}, apperrors.New(apperrors.CodeSignerInvalidParty, "signer party is required")
	}
	if RoleLabel(input.Role) == "UNSPECIFIED" {
		return Signer{}, apperrors.New(apperrors.CodeSignerInvalidRole, "signer role is invalid")
	}

	signerID, err := idGenerator()
	if err != nil {
		return Signer{}, fmt.Errorf("generate signer id: %w", err)
	}

	createdAt := now().UTC()
	return Signer{
		ID:              signerID,
		EnvelopeID:      input.EnvelopeID,
		Party:           input.Party,
		Role:            input.Role,
		Order:           input.Order,
		Status:          SignerStatusPending,
		InvitedByUserID: strings.TrimSpace(input.InvitedByUserID),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// Required reports whether the signer blocks envelope completion.
func (s *Signer) Required() bool {
	return s.Role == RoleSigner || s.Role == RoleWitness
}

// statusConflict returns the terminal-state error for a signer that already acted.
//
// The two codes are distinct so callers can tell an idempotent retry of the
// same action from a genuine conflict with the opposite action.
func (s *Signer) statusConflict() error {
	switch s.Status {
	case SignerStatusSigned:
		return apperrors.New(apperrors.CodeSignerAlreadySigned, "signer already signed")
	case SignerStatusDeclined:
		return apperrors.New(apperrors.CodeSignerAlreadyDeclined, "signer already declined")
	default:
		return apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"signer is in an invalid state",
			map[string]string{"Status": SignerStatusLabel(s.Status)},
		)
	}
}

// RecordConsent records the signer's consent acknowledgment.
//
// Consent is required strictly before signing and may be recorded only once.
func (s *Signer) RecordConsent(text string, network NetworkContext, now time.Time) error {
	if s.Status != SignerStatusPending {
		return s.statusConflict()
	}
	if s.ConsentGiven {
		return apperrors.New(apperrors.CodeSignerAlreadyConsented, "signer already consented")
	}
	if strings.TrimSpace(text) == "" {
		return apperrors.New(apperrors.CodeSignerConsentTextEmpty, "consent text is required")
	}
	consentedAt := now.UTC()
	s.ConsentGiven = true
	s.ConsentedAt = &consentedAt
	s.Network = network
	s.UpdatedAt = consentedAt
	return nil
}

// SignatureEvidence is the evidentiary bundle captured when a signer signs.
type SignatureEvidence struct {
	DocumentHash  string
	SignatureHash string
	SignedRef     string
	SigningKeyID  string
	Algorithm     string
	Network       NetworkContext
	Reason        string
}

// Sign transitions a PENDING signer to SIGNED with its evidence.
func (s *Signer) Sign(evidence SignatureEvidence, now time.Time) error {
	if s.Status != SignerStatusPending {
		return s.statusConflict()
	}
	if !s.ConsentGiven {
		return apperrors.New(apperrors.CodeSignerConsentMissing, "signer has not consented")
	}
	if strings.TrimSpace(evidence.DocumentHash) == "" ||
		strings.TrimSpace(evidence.SignatureHash) == "" ||
		strings.TrimSpace(evidence.SigningKeyID) == "" ||
		strings.TrimSpace(evidence.Algorithm) == "" {
		return apperrors.New(apperrors.CodeSignerEvidenceIncomplete, "signature evidence is incomplete")
	}
	signedAt := now.UTC()
	s.Status = SignerStatusSigned
	s.SignedAt = &signedAt
	s.DocumentHash = strings.TrimSpace(evidence.DocumentHash)
	s.SignatureHash = strings.TrimSpace(evidence.SignatureHash)
	s.SignedRef = strings.TrimSpace(evidence.SignedRef)
	s.SigningKeyID = strings.TrimSpace(evidence.SigningKeyID)
	s.Algorithm = strings.TrimSpace(evidence.Algorithm)
	s.Network = evidence.Network
	s.Reason = strings.TrimSpace(evidence.Reason)
	s.UpdatedAt = signedAt
	return nil
}

// Decline transitions a PENDING signer to DECLINED. Consent is not required.
func (s *Signer) Decline(reason string, network NetworkContext, now time.Time) error {
	if s.Status != SignerStatusPending {
		return s.statusConflict()
	}
	declinedAt := now.UTC()
	s.Status = SignerStatusDeclined
	s.DeclinedAt = &declinedAt
	s.DeclineReason = strings.TrimSpace(reason)
	s.Network = network
	s.UpdatedAt = declinedAt
	return nil
}

// RecordReminder increments the reminder counter.
func (s *Signer) RecordReminder(now time.Time) {
	remindedAt := now.UTC()
	s.ReminderCount++
	s.LastRemindedAt = &remindedAt
	s.UpdatedAt = remindedAt
}
