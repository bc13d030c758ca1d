package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Keyring stores Ed25519 signing keys and the active key id.
type Keyring struct {
	keys        map[string]ed25519.PrivateKey
	activeKeyID string
}

// NewKeyring constructs a keyring for document signing and verification.
func NewKeyring(keys map[string]ed25519.PrivateKey, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("signing keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active signing key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active signing key id is not configured")
	}
	for id, key := range keys {
		if len(key) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signing key %q has invalid size", id)
		}
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// Sign produces an Ed25519 signature over the content hash.
func (k *Keyring) Sign(_ context.Context, req Request) (Result, error) {
	if k == nil {
		return Result{}, fmt.Errorf("signing keyring is not configured")
	}
	contentHash := strings.TrimSpace(req.ContentHash)
	if contentHash == "" {
		return Result{}, fmt.Errorf("content hash is required")
	}
	keyID := strings.TrimSpace(req.KeyID)
	if keyID == "" {
		keyID = k.activeKeyID
	}
	key, ok := k.keys[keyID]
	if !ok {
		return Result{}, fmt.Errorf("signing key id is unknown")
	}
	sig := ed25519.Sign(key, []byte(contentHash))
	return Result{
		SignatureHash: hex.EncodeToString(sig),
		KeyID:         keyID,
		Algorithm:     AlgorithmEd25519,
		SignedAt:      time.Now().UTC(),
	}, nil
}

// Verify validates a signature produced by Sign.
func (k *Keyring) Verify(contentHash, signatureHash, keyID string) error {
	if k == nil {
		return fmt.Errorf("signing keyring is not configured")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return fmt.Errorf("signature key id is required")
	}
	key, ok := k.keys[keyID]
	if !ok {
		return fmt.Errorf("signature key id is unknown")
	}
	sig, err := hex.DecodeString(strings.TrimSpace(signatureHash))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	public, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("signing key %q has no ed25519 public key", keyID)
	}
	if !ed25519.Verify(public, []byte(contentHash), sig) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
