// Package blob stores document bytes referenced from envelopes.
//
// Envelopes never embed document content; they carry a storage reference and
// a content digest. The store keeps the bytes behind those references.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	apperrors "github.com/velladore/inkseal/internal/errors"
)

// ErrNotFound reports a reference with no stored bytes behind it.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "blob not found")

// Store persists document bytes by reference.
type Store interface {
	// Put writes data under ref, overwriting any previous content.
	Put(ctx context.Context, ref string, data []byte) error
	// Get returns the bytes stored under ref, or ErrNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether ref has stored bytes.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Digest returns the hex SHA-256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
