package security

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-agentpay/core"
)

var (
	ErrUnknownKeyID      = errors.New("security: unknown signing key id")
	ErrLegacyTokenClosed = errors.New("security: legacy HS256 tokens are no longer accepted")
)

type accessClaims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Scope       string   `json:"scope,omitempty"`
}

type CodecOption func(*JWTCodec)

// WithVerificationKey accepts tokens signed by a key that no longer signs.
func WithVerificationKey(kid string, public ed25519.PublicKey) CodecOption {
	return func(c *JWTCodec) {
		kid = strings.TrimSpace(kid)
		if kid != "" && len(public) == ed25519.PublicKeySize {
			c.verifiers[kid] = public
		}
	}
}

// WithLegacyHS256 keeps shared-secret tokens verifiable while window allows.
func WithLegacyHS256(secret []byte, window KeyRotationWindow) CodecOption {
	return func(c *JWTCodec) {
		if len(secret) == 0 {
			return
		}
		c.legacySecret = append([]byte(nil), secret...)
		c.legacyWindow = window
	}
}

func WithIssuer(issuer string) CodecOption {
	return func(c *JWTCodec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *JWTCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// JWTCodec signs access tokens with Ed25519. Verification accepts EdDSA
// tokens from any known key and HS256 tokens only inside the legacy window.
type JWTCodec struct {
	signing      SigningKey
	verifiers    map[string]ed25519.PublicKey
	legacySecret []byte
	legacyWindow KeyRotationWindow
	issuer       string
	now          func() time.Time
}

func NewJWTCodec(signing SigningKey, opts ...CodecOption) (*JWTCodec, error) {
	public := signing.Public()
	if public == nil {
		return nil, fmt.Errorf("security: ed25519 signing key is required")
	}
	if strings.TrimSpace(signing.ID) == "" {
		return nil, fmt.Errorf("security: signing key id is required")
	}
	codec := &JWTCodec{
		signing:   signing,
		verifiers: map[string]ed25519.PublicKey{signing.ID: public},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec, nil
}

func (c *JWTCodec) Sign(_ context.Context, claims core.TokenClaims) (string, error) {
	registered := jwt.RegisteredClaims{
		ID:       claims.ID,
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		Audience: jwt.ClaimStrings(claims.Audience),
	}
	if registered.Issuer == "" {
		registered.Issuer = c.issuer
	}
	if !claims.IssuedAt.IsZero() {
		registered.IssuedAt = jwt.NewNumericDate(claims.IssuedAt)
		registered.NotBefore = jwt.NewNumericDate(claims.IssuedAt)
	}
	if !claims.ExpiresAt.IsZero() {
		registered.ExpiresAt = jwt.NewNumericDate(claims.ExpiresAt)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, accessClaims{
		RegisteredClaims: registered,
		ClientID:         claims.ClientID,
		OwnerID:          claims.OwnerID,
		Permissions:      claims.Permissions,
		Scope:            claims.Scope,
	})
	token.Header["kid"] = c.signing.ID
	signed, err := token.SignedString(c.signing.Private)
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}
	return signed, nil
}

func (c *JWTCodec) Verify(_ context.Context, raw string) (core.TokenClaims, error) {
	methods := []string{jwt.SigningMethodEdDSA.Alg()}
	if c.legacyAllowed() {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	parsed := &accessClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(strings.TrimSpace(raw), parsed, c.keyFor)
	if err != nil {
		return core.TokenClaims{}, fmt.Errorf("security: verify token: %w", err)
	}

	out := core.TokenClaims{
		ID:          parsed.ID,
		Subject:     parsed.Subject,
		ClientID:    parsed.ClientID,
		OwnerID:     parsed.OwnerID,
		Permissions: parsed.Permissions,
		Scope:       parsed.Scope,
		Audience:    []string(parsed.Audience),
		Issuer:      parsed.Issuer,
		Algorithm:   token.Method.Alg(),
	}
	if parsed.IssuedAt != nil {
		out.IssuedAt = parsed.IssuedAt.UTC()
	}
	if parsed.ExpiresAt != nil {
		out.ExpiresAt = parsed.ExpiresAt.UTC()
	}
	if kid, ok := token.Header["kid"].(string); ok {
		out.KeyID = kid
	}
	return out, nil
}

// JWKS publishes every EdDSA key this codec verifies against, the active
// signing key first.
func (c *JWTCodec) JWKS() jose.JSONWebKeySet {
	set := PublishJWKS(c.signing)
	kids := make([]string, 0, len(c.verifiers))
	for kid := range c.verifiers {
		if kid != c.signing.ID {
			kids = append(kids, kid)
		}
	}
	sort.Strings(kids)
	for _, kid := range kids {
		set.Keys = append(set.Keys, publicJWK(kid, c.verifiers[kid]))
	}
	return set
}

func (c *JWTCodec) KeyID() string {
	return c.signing.ID
}

func (c *JWTCodec) keyFor(token *jwt.Token) (any, error) {
	switch token.Method.Alg() {
	case jwt.SigningMethodEdDSA.Alg():
		kid, _ := token.Header["kid"].(string)
		public, ok := c.verifiers[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return public, nil
	case jwt.SigningMethodHS256.Alg():
		if !c.legacyAllowed() {
			return nil, ErrLegacyTokenClosed
		}
		return c.legacySecret, nil
	default:
		return nil, fmt.Errorf("security: unexpected signing method %q", token.Method.Alg())
	}
}

func (c *JWTCodec) legacyAllowed() bool {
	return len(c.legacySecret) > 0 && !c.legacyWindow.Closed() && c.legacyWindow.Allows(c.now())
}

var _ core.TokenCodec = (*JWTCodec)(nil)
