// Package auth verifies seat grants: short-lived EdDSA tokens binding one
// connection to one round and actor.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"
)

// seatGrantEnv holds raw env values before post-parse validation.
type seatGrantEnv struct {
	Issuer    string `env:"RYP_SEAT_GRANT_ISSUER"`
	Audience  string `env:"RYP_SEAT_GRANT_AUDIENCE"`
	PublicKey string `env:"RYP_SEAT_GRANT_PUBLIC_KEY"`
}

// SeatGrantConfig defines how seat grants are verified.
type SeatGrantConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// SeatGrantExpectation pins the round a presented grant must match.
type SeatGrantExpectation struct {
	RoundID string
}

// SeatGrantClaims captures validated seat grant claims.
type SeatGrantClaims struct {
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JWTID     string
	RoundID   string
	ActorID   string
}

// seatGrantClaims is the internal claims type used for JWT parsing.
type seatGrantClaims struct {
	jwt.RegisteredClaims
	RoundID string `json:"round_id"`
	ActorID string `json:"actor_id"`
}

// LoadSeatGrantConfigFromEnv reads seat grant verification configuration.
func LoadSeatGrantConfigFromEnv(now func() time.Time) (SeatGrantConfig, error) {
	var raw seatGrantEnv
	if err := env.Parse(&raw); err != nil {
		return SeatGrantConfig{}, fmt.Errorf("parse seat grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return SeatGrantConfig{}, fmt.Errorf("RYP_SEAT_GRANT_ISSUER is required")
	}
	if audience == "" {
		return SeatGrantConfig{}, fmt.Errorf("RYP_SEAT_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return SeatGrantConfig{}, fmt.Errorf("RYP_SEAT_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return SeatGrantConfig{}, fmt.Errorf("decode seat grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return SeatGrantConfig{}, fmt.Errorf("seat grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return SeatGrantConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// ValidateSeatGrant verifies a seat grant token and validates expected
// claims. The returned ActorID is the seat the connection may act for.
func ValidateSeatGrant(grant string, expected SeatGrantExpectation, cfg SeatGrantConfig) (SeatGrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return SeatGrantClaims{}, apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return SeatGrantClaims{}, errors.New("seat grant verifier is not configured")
	}

	var parsed seatGrantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return SeatGrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return SeatGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeSeatGrantMismatch,
			"seat grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return SeatGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeSeatGrantMismatch,
			"seat grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if parsed.ID == "" {
		return SeatGrantClaims{}, apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return SeatGrantClaims{}, apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return SeatGrantClaims{}, apperrors.New(apperrors.CodeSeatGrantExpired, "seat grant is expired")
	}

	if strings.TrimSpace(parsed.RoundID) == "" || parsed.RoundID != expected.RoundID {
		return SeatGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeSeatGrantMismatch,
			"seat grant round mismatch",
			map[string]string{"Field": "round_id"},
		)
	}
	if strings.TrimSpace(parsed.ActorID) == "" {
		return SeatGrantClaims{}, apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant actor is required")
	}

	claims := SeatGrantClaims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
		RoundID:   parsed.RoundID,
		ActorID:   parsed.ActorID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// IssueSeatGrant signs a seat grant for the given round and actor. The
// service issues these when a seat is taken; tests and the ops tooling use
// it directly.
func IssueSeatGrant(key ed25519.PrivateKey, issuer, audience, roundID, actorID, jwtID string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("seat grant private key must be %d bytes", ed25519.PrivateKeySize)
	}
	claims := seatGrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ID:        jwtID,
			IssuedAt:  jwt.NewNumericDate(issuedAt.UTC()),
			ExpiresAt: jwt.NewNumericDate(issuedAt.UTC().Add(ttl)),
		},
		RoundID: roundID,
		ActorID: actorID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign seat grant: %w", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeSeatGrantInvalid, "seat grant is invalid")
}

// audienceContains reports whether the audience list contains the value.
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
