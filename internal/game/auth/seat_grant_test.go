package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"
)

func TestLoadSeatGrantConfigFromEnv(t *testing.T) {
	t.Setenv("RYP_SEAT_GRANT_ISSUER", "")
	t.Setenv("RYP_SEAT_GRANT_AUDIENCE", "")
	t.Setenv("RYP_SEAT_GRANT_PUBLIC_KEY", "")

	if _, err := LoadSeatGrantConfigFromEnv(nil); err == nil {
		t.Fatal("expected error when env vars are missing")
	}

	pubKey, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	t.Setenv("RYP_SEAT_GRANT_ISSUER", "issuer")
	t.Setenv("RYP_SEAT_GRANT_AUDIENCE", "game-service")
	t.Setenv("RYP_SEAT_GRANT_PUBLIC_KEY", base64.RawStdEncoding.EncodeToString(pubKey))

	cfg, err := LoadSeatGrantConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load seat grant config: %v", err)
	}
	if cfg.Issuer != "issuer" || cfg.Audience != "game-service" {
		t.Fatal("expected issuer and audience to be loaded")
	}
	if len(cfg.Key) != ed25519.PublicKeySize {
		t.Fatalf("expected public key size %d", ed25519.PublicKeySize)
	}
}

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestValidateSeatGrantSuccess(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	grant, err := IssueSeatGrant(priv, "issuer", "game-service", "round-1", "actor-1", "jti-1", now, time.Hour)
	if err != nil {
		t.Fatalf("issue seat grant: %v", err)
	}

	cfg := SeatGrantConfig{Issuer: "issuer", Audience: "game-service", Key: pub, Now: func() time.Time { return now }}
	claims, err := ValidateSeatGrant(grant, SeatGrantExpectation{RoundID: "round-1"}, cfg)
	if err != nil {
		t.Fatalf("validate seat grant: %v", err)
	}
	if claims.RoundID != "round-1" || claims.ActorID != "actor-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.JWTID != "jti-1" {
		t.Fatalf("expected jti-1, got %s", claims.JWTID)
	}
}

func TestValidateSeatGrantExpired(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	grant, err := IssueSeatGrant(priv, "issuer", "game-service", "round-1", "actor-1", "jti-1", now.Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("issue seat grant: %v", err)
	}

	cfg := SeatGrantConfig{Issuer: "issuer", Audience: "game-service", Key: pub, Now: func() time.Time { return now }}
	_, err = ValidateSeatGrant(grant, SeatGrantExpectation{RoundID: "round-1"}, cfg)
	if !apperrors.IsCode(err, apperrors.CodeSeatGrantExpired) {
		t.Fatalf("expected expired grant, got %v", err)
	}
}

func TestValidateSeatGrantRoundMismatch(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	grant, err := IssueSeatGrant(priv, "issuer", "game-service", "round-2", "actor-1", "jti-1", now, time.Hour)
	if err != nil {
		t.Fatalf("issue seat grant: %v", err)
	}

	cfg := SeatGrantConfig{Issuer: "issuer", Audience: "game-service", Key: pub, Now: func() time.Time { return now }}
	_, err = ValidateSeatGrant(grant, SeatGrantExpectation{RoundID: "round-1"}, cfg)
	if !apperrors.IsCode(err, apperrors.CodeSeatGrantMismatch) {
		t.Fatalf("expected round mismatch, got %v", err)
	}
}

func TestValidateSeatGrantWrongKey(t *testing.T) {
	_, priv := testKeys(t)
	otherPub, _ := testKeys(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	grant, err := IssueSeatGrant(priv, "issuer", "game-service", "round-1", "actor-1", "jti-1", now, time.Hour)
	if err != nil {
		t.Fatalf("issue seat grant: %v", err)
	}

	cfg := SeatGrantConfig{Issuer: "issuer", Audience: "game-service", Key: otherPub, Now: func() time.Time { return now }}
	_, err = ValidateSeatGrant(grant, SeatGrantExpectation{RoundID: "round-1"}, cfg)
	if !apperrors.IsCode(err, apperrors.CodeSeatGrantInvalid) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestValidateSeatGrantIssuerMismatch(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	grant, err := IssueSeatGrant(priv, "other-issuer", "game-service", "round-1", "actor-1", "jti-1", now, time.Hour)
	if err != nil {
		t.Fatalf("issue seat grant: %v", err)
	}

	cfg := SeatGrantConfig{Issuer: "issuer", Audience: "game-service", Key: pub, Now: func() time.Time { return now }}
	_, err = ValidateSeatGrant(grant, SeatGrantExpectation{RoundID: "round-1"}, cfg)
	if !apperrors.IsCode(err, apperrors.CodeSeatGrantMismatch) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}
