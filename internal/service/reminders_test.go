package service

import (
	"testing"
	"time"

	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
)

func TestSendReminders(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	sendWithInvitation(t, te, &env)
	external := externalSigner(t, env)
	owner := ownerSigner(t, env)

	te.clock.Advance(48 * time.Hour)
	result, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
		EnvelopeID: env.ID,
	})
	if err != nil {
		t.Fatalf("SendReminders: %v", err)
	}
	if len(result.RemindedSignerIDs) != 1 || result.RemindedSignerIDs[0] != external.ID {
		t.Fatalf("reminded = %v", result.RemindedSignerIDs)
	}
	// The pending internal signer is reported, not silently dropped.
	if len(result.Skipped) != 1 {
		t.Fatalf("skipped = %v", result.Skipped)
	}
	if got := skipReason(t, result, owner.ID); got != SkipReasonInternal {
		t.Fatalf("owner skip reason = %q, want %q", got, SkipReasonInternal)
	}
}

func skipReason(t *testing.T, result SendRemindersResult, signerID string) string {
	t.Helper()
	for _, skip := range result.Skipped {
		if skip.SignerID == signerID {
			return skip.Reason
		}
	}
	t.Fatalf("signer %s not in skipped %v", signerID, result.Skipped)
	return ""
}

func TestSendRemindersMinInterval(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	sendWithInvitation(t, te, &env)
	external := externalSigner(t, env)

	te.clock.Advance(48 * time.Hour)
	if _, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
		EnvelopeID: env.ID,
	}); err != nil {
		t.Fatalf("SendReminders: %v", err)
	}

	// A second batch an hour later is inside the minimum interval.
	te.clock.Advance(time.Hour)
	result, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
		EnvelopeID: env.ID,
	})
	if err != nil {
		t.Fatalf("SendReminders second: %v", err)
	}
	if len(result.RemindedSignerIDs) != 0 {
		t.Fatalf("reminded = %v, want none", result.RemindedSignerIDs)
	}
	if got := skipReason(t, result, external.ID); got != SkipReasonTooSoon {
		t.Fatalf("skip reason = %q, want %q", got, SkipReasonTooSoon)
	}
}

func TestSendRemindersMaxCount(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	sendWithInvitation(t, te, &env)
	external := externalSigner(t, env)

	for i := 0; i < 2; i++ {
		te.clock.Advance(48 * time.Hour)
		if _, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
			EnvelopeID: env.ID,
		}); err != nil {
			t.Fatalf("SendReminders %d: %v", i, err)
		}
	}

	te.clock.Advance(48 * time.Hour)
	result, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
		EnvelopeID: env.ID,
	})
	if err != nil {
		t.Fatalf("SendReminders final: %v", err)
	}
	if got := skipReason(t, result, external.ID); got != SkipReasonMaxReminders {
		t.Fatalf("skip reason = %q, want %q", got, SkipReasonMaxReminders)
	}
}

func TestSendRemindersExpiredToken(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)
	sendWithInvitation(t, te, &env)
	external := externalSigner(t, env)

	te.clock.Advance(defaultSignTokenTTL + time.Hour)
	result, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
		EnvelopeID: env.ID,
	})
	if err != nil {
		t.Fatalf("SendReminders: %v", err)
	}
	if got := skipReason(t, result, external.ID); got != SkipReasonNoToken {
		t.Fatalf("skip reason = %q, want %q", got, SkipReasonNoToken)
	}
}

func TestSendRemindersRequiresSentEnvelope(t *testing.T) {
	te := newTestEnv(t)
	env := newDraftEnvelope(t, te, envelope.OrderPolicyNone)

	_, err := te.coordinator.SendReminders(ownerContext("user-1"), SendRemindersInput{
		EnvelopeID: env.ID,
	})
	wantCode(t, err, apperrors.CodeEnvelopeStatusDisallowsOp)
}
