package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestIs_MatchesByCode(t *testing.T) {
	base := New(CodeSignerAlreadySigned, "signer already signed")
	other := New(CodeSignerAlreadySigned, "different message")
	if !stderrors.Is(other, base) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(New(CodeSignerAlreadyDeclined, "declined"), base) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := Wrap(CodeUpstreamFailure, "persist envelope", cause)
	if !stderrors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to match its cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"direct", New(CodeTokenExpired, "expired"), CodeTokenExpired},
		{"wrapped in fmt", fmt.Errorf("sign: %w", New(CodeTokenUsed, "used")), CodeTokenUsed},
		{"plain error", stderrors.New("boom"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGRPCCode(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeEnvelopeTitleEmpty, codes.InvalidArgument},
		{CodeSignerAlreadySigned, codes.FailedPrecondition},
		{CodeTokenRevoked, codes.FailedPrecondition},
		{CodeAccessDenied, codes.PermissionDenied},
		{CodeTokenGrantInvalid, codes.Unauthenticated},
		{CodeNotFound, codes.NotFound},
		{CodeUpstreamFailure, codes.Unavailable},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("%s grpc code = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWithMetadata(t *testing.T) {
	err := WithMetadata(CodeEnvelopeInvalidStatusTransition, "invalid transition", map[string]string{
		"Current":   "COMPLETED",
		"Attempted": "SENT",
	})
	if err.Metadata["Current"] != "COMPLETED" {
		t.Fatalf("metadata current = %q, want COMPLETED", err.Metadata["Current"])
	}
}
