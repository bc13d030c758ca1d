package envelope

import (
	apperrors "github.com/velladore/inkseal/internal/errors"
)

// AdmitSign decides whether a sign attempt may proceed.
//
// The rule composes three checks, all of which must pass:
//
//  1. the envelope is SENT, or the actor is the owner signing their own
//     DRAFT envelope (owner self-signing before sending is permitted);
//  2. the target signer is still PENDING;
//  3. an external signer can act only on a SENT envelope, regardless of
//     whatever credential they hold.
//
// On top of that the envelope's order policy is applied; the owner's own
// signer entry is exempt from sequencing when self-signing a draft.
func AdmitSign(env Envelope, signer Signer, actorUserID string) error {
	if signer.Role == RoleViewer {
		return apperrors.New(apperrors.CodeSignerInvalidRole, "viewer cannot sign")
	}

	ownerSelf := env.Status == StatusDraft &&
		actorUserID != "" &&
		actorUserID == env.OwnerUserID &&
		signer.Party.Kind() == PartyKindInternal &&
		signer.Party.UserID() == actorUserID

	if env.Status != StatusSent && !ownerSelf {
		return apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"envelope is not open for signing",
			map[string]string{"Status": StatusLabel(env.Status)},
		)
	}

	if signer.Status != SignerStatusPending {
		return signer.statusConflict()
	}

	if signer.Party.IsExternal() && env.Status != StatusSent {
		return apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"external signer requires a sent envelope",
			map[string]string{"Status": StatusLabel(env.Status)},
		)
	}

	if ownerSelf {
		return nil
	}
	return admitOrder(env, signer)
}

// admitOrder applies the envelope's signing-order policy to one signer.
func admitOrder(env Envelope, signer Signer) error {
	switch env.OrderPolicy {
	case OrderPolicyOwnerFirst:
		if isOwnerSigner(env, signer) {
			return nil
		}
		owner := env.OwnerSigner()
		if owner != nil && owner.Required() && owner.Status == SignerStatusPending {
			return apperrors.New(apperrors.CodeSignerOrderBlocked, "waiting for the owner to sign first")
		}
	case OrderPolicyInviteesFirst:
		if !isOwnerSigner(env, signer) {
			return nil
		}
		for _, other := range env.Signers {
			if other.ID == signer.ID || !other.Required() {
				continue
			}
			if other.Status == SignerStatusPending {
				return apperrors.New(apperrors.CodeSignerOrderBlocked, "waiting for invited signers to sign first")
			}
		}
	}
	return nil
}

func isOwnerSigner(env Envelope, signer Signer) bool {
	return signer.Party.Kind() == PartyKindInternal && signer.Party.UserID() == env.OwnerUserID
}
