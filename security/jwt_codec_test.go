package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-agentpay/core"
)

var codecNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSigningKey(t *testing.T, seed byte) SigningKey {
	t.Helper()
	key, err := GenerateSigningKey(bytes.NewReader(bytes.Repeat([]byte{seed}, 64)))
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	return key
}

func testClaims() core.TokenClaims {
	return core.TokenClaims{
		ID:          "tok_1",
		Subject:     "agent_1",
		ClientID:    "apc_abc",
		OwnerID:     "owner_1",
		Permissions: []string{"payments:purchase", "payments:read"},
		Scope:       "payments:purchase",
		Audience:    []string{"merchant.example"},
		Issuer:      "agentpay",
		IssuedAt:    codecNow,
		ExpiresAt:   codecNow.Add(time.Hour),
	}
}

func signLegacy(t *testing.T, secret []byte, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent_legacy",
			Issuer:    "agentpay",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		ClientID: "apc_legacy",
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign legacy: %v", err)
	}
	return signed
}

func TestJWTCodec_SignVerifyRoundTrip(t *testing.T) {
	key := newTestSigningKey(t, 1)
	codec, err := NewJWTCodec(key, WithIssuer("agentpay"), WithCodecClock(func() time.Time { return codecNow.Add(time.Minute) }))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, err := codec.Sign(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := codec.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "agent_1" || claims.ClientID != "apc_abc" || claims.OwnerID != "owner_1" {
		t.Fatalf("unexpected identity claims %+v", claims)
	}
	if claims.Scope != "payments:purchase" || len(claims.Permissions) != 2 {
		t.Fatalf("unexpected scope claims %+v", claims)
	}
	if claims.Algorithm != "EdDSA" || claims.KeyID != key.ID {
		t.Fatalf("expected EdDSA with kid %q, got %s/%s", key.ID, claims.Algorithm, claims.KeyID)
	}
	if !claims.ExpiresAt.Equal(codecNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", claims.ExpiresAt)
	}
}

func TestJWTCodec_RejectsExpiredForeignAndTamperedTokens(t *testing.T) {
	key := newTestSigningKey(t, 1)
	clock := codecNow
	codec, err := NewJWTCodec(key, WithIssuer("agentpay"), WithCodecClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, err := codec.Sign(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	foreign, err := NewJWTCodec(newTestSigningKey(t, 2), WithCodecClock(func() time.Time { return codecNow }))
	if err != nil {
		t.Fatalf("foreign codec: %v", err)
	}
	if _, err := foreign.Verify(context.Background(), token); err == nil {
		t.Fatalf("expected token from unknown kid rejected")
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := codec.Verify(context.Background(), tampered); err == nil {
		t.Fatalf("expected tampered payload rejected")
	}

	otherIssuer := testClaims()
	otherIssuer.Issuer = "someone-else"
	mismatched, err := codec.Sign(context.Background(), otherIssuer)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(context.Background(), mismatched); err == nil {
		t.Fatalf("expected wrong issuer rejected")
	}

	clock = codecNow.Add(2 * time.Hour)
	if _, err := codec.Verify(context.Background(), token); err == nil {
		t.Fatalf("expected expired token rejected")
	}
}

func TestJWTCodec_LegacyHS256OnlyInsideWindow(t *testing.T) {
	secret := []byte("legacy-shared-secret")
	clock := codecNow
	codec, err := NewJWTCodec(newTestSigningKey(t, 1),
		WithIssuer("agentpay"),
		WithLegacyHS256(secret, WindowFrom(codecNow, time.Hour)),
		WithCodecClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	legacy := signLegacy(t, secret, codecNow.Add(24*time.Hour))

	claims, err := codec.Verify(context.Background(), legacy)
	if err != nil {
		t.Fatalf("expected legacy token inside window: %v", err)
	}
	if claims.Algorithm != "HS256" || claims.Subject != "agent_legacy" {
		t.Fatalf("unexpected legacy claims %+v", claims)
	}

	clock = codecNow.Add(2 * time.Hour)
	if _, err := codec.Verify(context.Background(), legacy); err == nil {
		t.Fatalf("expected legacy token rejected after window closes")
	}
}

func TestJWTCodec_RejectsHS256WithoutLegacySecret(t *testing.T) {
	codec, err := NewJWTCodec(newTestSigningKey(t, 1), WithCodecClock(func() time.Time { return codecNow }))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	legacy := signLegacy(t, []byte("whatever"), codecNow.Add(time.Hour))
	if _, err := codec.Verify(context.Background(), legacy); err == nil {
		t.Fatalf("expected HS256 rejected when no legacy window is configured")
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent_1", ExpiresAt: jwt.NewNumericDate(codecNow.Add(time.Hour))},
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Verify(context.Background(), none); err == nil {
		t.Fatalf("expected alg none rejected")
	}
}

func TestJWTCodec_AcceptsRetiredVerificationKeyAndPublishesIt(t *testing.T) {
	retired := newTestSigningKey(t, 3)
	oldCodec, err := NewJWTCodec(retired, WithCodecClock(func() time.Time { return codecNow }))
	if err != nil {
		t.Fatalf("old codec: %v", err)
	}
	token, err := oldCodec.Sign(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	active := newTestSigningKey(t, 4)
	codec, err := NewJWTCodec(active,
		WithVerificationKey(retired.ID, retired.Public()),
		WithCodecClock(func() time.Time { return codecNow }),
	)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	claims, err := codec.Verify(context.Background(), token)
	if err != nil || claims.KeyID != retired.ID {
		t.Fatalf("expected retired key accepted, got %+v (%v)", claims, err)
	}

	set := codec.JWKS()
	if len(set.Keys) != 2 || set.Keys[0].KeyID != active.ID || set.Keys[1].KeyID != retired.ID {
		t.Fatalf("unexpected JWKS %+v", set.Keys)
	}
	for _, jwk := range set.Keys {
		if !jwk.IsPublic() || jwk.Algorithm != "EdDSA" || jwk.Use != "sig" {
			t.Fatalf("expected public EdDSA signing key, got %+v", jwk)
		}
	}
	if codec.KeyID() != active.ID {
		t.Fatalf("expected active kid %q", active.ID)
	}
}

func TestSigningKeyPEMRoundTrip(t *testing.T) {
	key := newTestSigningKey(t, 5)
	encoded, err := EncodeSigningKeyPEM(key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := ParseSigningKeyPEM(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != key.ID || !parsed.Private.Equal(key.Private) {
		t.Fatalf("expected identical key after PEM round trip")
	}
	if _, err := ParseSigningKeyPEM([]byte("not pem")); err == nil {
		t.Fatalf("expected garbage rejected")
	}
}
