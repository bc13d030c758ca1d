package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const (
	envSigningKeys  = "INKSEAL_SIGNING_KEYS"
	envSigningKey   = "INKSEAL_SIGNING_KEY"
	envSigningKeyID = "INKSEAL_SIGNING_KEY_ID"
	defaultKeyID    = "v1"
)

// KeyringFromEnv loads the signing keyring configuration from environment variables.
//
// INKSEAL_SIGNING_KEYS holds comma-separated id=base64key pairs; the single-key
// form INKSEAL_SIGNING_KEY is accepted when only one key exists.
func KeyringFromEnv() (*Keyring, error) {
	keyID := strings.TrimSpace(os.Getenv(envSigningKeyID))
	if keyID == "" {
		keyID = defaultKeyID
	}

	keySpec := strings.TrimSpace(os.Getenv(envSigningKeys))
	if keySpec == "" {
		raw := strings.TrimSpace(os.Getenv(envSigningKey))
		if raw == "" {
			return nil, fmt.Errorf("%s is required", envSigningKey)
		}
		key, err := decodeSigningKey(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envSigningKey, err)
		}
		return NewKeyring(map[string]ed25519.PrivateKey{keyID: key}, keyID)
	}

	keys := make(map[string]ed25519.PrivateKey)
	entries := strings.Split(keySpec, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s entry", envSigningKeys)
		}
		id := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if id == "" || value == "" {
			return nil, fmt.Errorf("invalid %s entry", envSigningKeys)
		}
		key, err := decodeSigningKey(value)
		if err != nil {
			return nil, fmt.Errorf("decode %s entry %q: %w", envSigningKeys, id, err)
		}
		keys[id] = key
	}
	return NewKeyring(keys, keyID)
}

func decodeSigningKey(value string) (ed25519.PrivateKey, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, err
		}
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("key must be an ed25519 private key or seed")
	}
}
