package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/velladore/inkseal/internal/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string `env:"INKSEAL_GRANT_ISSUER"`
	Audience   string `env:"INKSEAL_GRANT_AUDIENCE"`
	PrivateKey string `env:"INKSEAL_GRANT_PRIVATE_KEY"`
	PublicKey  string `env:"INKSEAL_GRANT_PUBLIC_KEY"`
}

// GrantConfig defines how invitation grants are issued and verified.
type GrantConfig struct {
	Issuer     string
	Audience   string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Now        func() time.Time
}

// GrantClaims captures validated invitation grant claims.
type GrantClaims struct {
	Issuer     string
	Audience   []string
	ExpiresAt  time.Time
	IssuedAt   time.Time
	TokenID    string
	EnvelopeID string
	SignerID   string
	Purpose    Purpose
}

// grantClaims is the internal claims type used for JWT signing and parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	EnvelopeID string `json:"envelope_id"`
	SignerID   string `json:"signer_id"`
	Purpose    string `json:"purpose"`
}

// LoadGrantConfigFromEnv reads grant signing and verification configuration.
//
// The private key is optional; verification-only processes (the worker, read
// paths) configure just the public key.
func LoadGrantConfigFromEnv(now func() time.Time) (GrantConfig, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return GrantConfig{}, fmt.Errorf("parse grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return GrantConfig{}, fmt.Errorf("INKSEAL_GRANT_ISSUER is required")
	}
	if audience == "" {
		return GrantConfig{}, fmt.Errorf("INKSEAL_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return GrantConfig{}, fmt.Errorf("INKSEAL_GRANT_PUBLIC_KEY is required")
	}
	publicBytes, err := decodeBase64(publicKey)
	if err != nil {
		return GrantConfig{}, fmt.Errorf("decode grant public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return GrantConfig{}, fmt.Errorf("grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	cfg := GrantConfig{
		Issuer:    issuer,
		Audience:  audience,
		PublicKey: ed25519.PublicKey(publicBytes),
	}
	if privateKey != "" {
		privateBytes, err := decodeBase64(privateKey)
		if err != nil {
			return GrantConfig{}, fmt.Errorf("decode grant private key: %w", err)
		}
		if len(privateBytes) != ed25519.PrivateKeySize {
			return GrantConfig{}, fmt.Errorf("grant private key must be %d bytes", ed25519.PrivateKeySize)
		}
		cfg.PrivateKey = ed25519.PrivateKey(privateBytes)
	}
	if now == nil {
		now = time.Now
	}
	cfg.Now = now
	return cfg, nil
}

// IssueGrant signs a bearer grant for the given token.
//
// The grant expires together with the token row so a leaked grant is never
// valid longer than the credential it references.
func IssueGrant(token Token, cfg GrantConfig) (string, error) {
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("grant signer is not configured")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return "", errors.New("grant issuer and audience are required")
	}
	if token.ID == "" {
		return "", apperrors.New(apperrors.CodeTokenInvalid, "token is missing")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	issuedAt := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ID:        token.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt.UTC()),
		},
		EnvelopeID: token.EnvelopeID,
		SignerID:   token.SignerID,
		Purpose:    PurposeLabel(token.Purpose),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// ValidateGrant verifies a bearer grant string and returns its claims.
//
// Lifecycle state (used/revoked) is not checked here; callers must load the
// referenced token row and validate it for the intended access.
func ValidateGrant(grant string, cfg GrantConfig) (GrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenGrantInvalid, "grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.PublicKey) != ed25519.PublicKeySize {
		return GrantClaims{}, errors.New("grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return GrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeTokenGrantMismatch,
			"grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeTokenGrantMismatch,
			"grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenGrantInvalid, "grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenGrantInvalid, "grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenExpired, "grant is expired")
	}

	if strings.TrimSpace(parsed.EnvelopeID) == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenGrantInvalid, "grant envelope id is required")
	}
	if strings.TrimSpace(parsed.SignerID) == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenGrantInvalid, "grant signer id is required")
	}
	purpose := PurposeFromLabel(parsed.Purpose)
	if purpose == PurposeUnspecified {
		return GrantClaims{}, apperrors.New(apperrors.CodeTokenGrantInvalid, "grant purpose is invalid")
	}

	claims := GrantClaims{
		Issuer:     parsed.Issuer,
		Audience:   []string(parsed.Audience),
		ExpiresAt:  exp,
		TokenID:    parsed.ID,
		EnvelopeID: parsed.EnvelopeID,
		SignerID:   parsed.SignerID,
		Purpose:    purpose,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeTokenGrantInvalid, "grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenGrantInvalid, "grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeTokenGrantInvalid, "grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
