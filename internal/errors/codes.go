// Package errors provides structured error handling for the signing workflow.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Envelope errors
	CodeEnvelopeTitleEmpty               Code = "ENVELOPE_TITLE_EMPTY"
	CodeEnvelopeOwnerMissing             Code = "ENVELOPE_OWNER_MISSING"
	CodeEnvelopeInvalidOrderPolicy       Code = "ENVELOPE_INVALID_ORDER_POLICY"
	CodeEnvelopeInvalidStatusTransition  Code = "ENVELOPE_INVALID_STATUS_TRANSITION"
	CodeEnvelopeStatusDisallowsOp        Code = "ENVELOPE_STATUS_DISALLOWS_OPERATION"
	CodeEnvelopeNoSigners                Code = "ENVELOPE_NO_SIGNERS"
	CodeEnvelopeImmutableField           Code = "ENVELOPE_IMMUTABLE_FIELD"
	CodeEnvelopeSignersPending           Code = "ENVELOPE_SIGNERS_PENDING"
	CodeEnvelopeMissingFlattenedDocument Code = "ENVELOPE_MISSING_FLATTENED_DOCUMENT"
	CodeEnvelopeDigestMismatch           Code = "ENVELOPE_DIGEST_MISMATCH"

	// Signer errors
	CodeSignerEmptyEnvelopeID   Code = "SIGNER_EMPTY_ENVELOPE_ID"
	CodeSignerInvalidRole       Code = "SIGNER_INVALID_ROLE"
	CodeSignerInvalidParty      Code = "SIGNER_INVALID_PARTY"
	CodeSignerAlreadySigned     Code = "SIGNER_ALREADY_SIGNED"
	CodeSignerAlreadyDeclined   Code = "SIGNER_ALREADY_DECLINED"
	CodeSignerAlreadyConsented  Code = "SIGNER_ALREADY_CONSENTED"
	CodeSignerConsentMissing    Code = "SIGNER_CONSENT_MISSING"
	CodeSignerConsentTextEmpty  Code = "SIGNER_CONSENT_TEXT_EMPTY"
	CodeSignerNotExternal       Code = "SIGNER_NOT_EXTERNAL"
	CodeSignerOrderBlocked      Code = "SIGNER_ORDER_BLOCKED"
	CodeSignerEvidenceIncomplete Code = "SIGNER_EVIDENCE_INCOMPLETE"

	// Invitation token errors
	CodeTokenExpiryNotFuture   Code = "TOKEN_EXPIRY_NOT_FUTURE"
	CodeTokenExpiryTooFar      Code = "TOKEN_EXPIRY_TOO_FAR"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeTokenUsed              Code = "TOKEN_USED"
	CodeTokenRevoked           Code = "TOKEN_REVOKED"
	CodeTokenInvalid           Code = "TOKEN_INVALID"
	CodeTokenGrantInvalid      Code = "TOKEN_GRANT_INVALID"
	CodeTokenGrantMismatch     Code = "TOKEN_GRANT_MISMATCH"
	CodeTokenIssuerNotInviter  Code = "TOKEN_ISSUER_NOT_INVITER"
	CodeTokenPurposeDisallowed Code = "TOKEN_PURPOSE_DISALLOWED"

	// Access errors
	CodeAccessDenied Code = "ACCESS_DENIED"

	// Audit errors
	CodeAuditChainBroken Code = "AUDIT_CHAIN_BROKEN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Upstream collaborator errors
	CodeUpstreamFailure Code = "UPSTREAM_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes so transport adapters can
// classify failures without parsing messages.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEnvelopeTitleEmpty,
		CodeEnvelopeOwnerMissing,
		CodeEnvelopeInvalidOrderPolicy,
		CodeEnvelopeImmutableField,
		CodeEnvelopeNoSigners,
		CodeEnvelopeDigestMismatch,
		CodeSignerEmptyEnvelopeID,
		CodeSignerInvalidRole,
		CodeSignerInvalidParty,
		CodeSignerConsentTextEmpty,
		CodeSignerEvidenceIncomplete,
		CodeTokenExpiryNotFuture,
		CodeTokenExpiryTooFar:
		return codes.InvalidArgument

	// FailedPrecondition - state conflicts and business rule violations
	case CodeEnvelopeInvalidStatusTransition,
		CodeEnvelopeStatusDisallowsOp,
		CodeEnvelopeSignersPending,
		CodeEnvelopeMissingFlattenedDocument,
		CodeSignerAlreadySigned,
		CodeSignerAlreadyDeclined,
		CodeSignerAlreadyConsented,
		CodeSignerConsentMissing,
		CodeSignerNotExternal,
		CodeSignerOrderBlocked,
		CodeTokenExpired,
		CodeTokenUsed,
		CodeTokenRevoked:
		return codes.FailedPrecondition

	// PermissionDenied - actor is known but not allowed
	case CodeAccessDenied,
		CodeTokenGrantMismatch,
		CodeTokenIssuerNotInviter,
		CodeTokenPurposeDisallowed:
		return codes.PermissionDenied

	// Unauthenticated - credential cannot be established at all
	case CodeTokenInvalid,
		CodeTokenGrantInvalid:
		return codes.Unauthenticated

	case CodeNotFound:
		return codes.NotFound

	case CodeAuditChainBroken:
		return codes.DataLoss

	case CodeUpstreamFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
