package signing

import (
	"context"
	"time"
)

// Algorithm identifies a signature algorithm.
const AlgorithmEd25519 = "ed25519"

// Request asks the oracle to sign a document content hash.
type Request struct {
	// ContentHash is the hex SHA-256 digest of the flattened document.
	ContentHash string
	// KeyID selects the signing key. Empty selects the active key.
	KeyID string
}

// Result carries the produced signature and the key that made it.
type Result struct {
	// SignatureHash is the hex-encoded signature over the content hash.
	SignatureHash string
	// KeyID identifies the key that signed.
	KeyID string
	// Algorithm names the signature algorithm used.
	Algorithm string
	// SignedAt is when the oracle produced the signature.
	SignedAt time.Time
}

// Oracle produces cryptographic signatures over document digests.
//
// Implementations may be local keyrings or remote signing services; callers
// must treat failures as retryable upstream errors.
type Oracle interface {
	Sign(ctx context.Context, req Request) (Result, error)
	Verify(contentHash, signatureHash, keyID string) error
}
