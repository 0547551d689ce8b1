package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOwnerHeader     = "X-Owner-ID"
	DefaultSignatureHeader = "X-Owner-Signature"
	DefaultTimestampHeader = "X-Owner-Timestamp"

	defaultOwnerSkew = 5 * time.Minute
)

var ErrOwnerUnauthenticated = errors.New("auth: owner is not authenticated")

// OwnerResolver identifies the human owner behind a request. User login is
// owned by the host application; this package only trusts its assertion.
type OwnerResolver interface {
	ResolveOwner(r *http.Request) (string, error)
}

type OwnerResolverFunc func(r *http.Request) (string, error)

func (f OwnerResolverFunc) ResolveOwner(r *http.Request) (string, error) {
	return f(r)
}

// HeaderOwnerResolver trusts a header set by an authenticating gateway.
type HeaderOwnerResolver struct {
	Header string
}

func (h HeaderOwnerResolver) ResolveOwner(r *http.Request) (string, error) {
	header := strings.TrimSpace(h.Header)
	if header == "" {
		header = DefaultOwnerHeader
	}
	owner := strings.TrimSpace(r.Header.Get(header))
	if owner == "" {
		return "", ErrOwnerUnauthenticated
	}
	return owner, nil
}

// HMACOwnerResolver accepts an owner assertion signed by the host
// application with a shared secret: hex(HMAC-SHA256(secret, timestamp + "." + owner)).
type HMACOwnerResolver struct {
	Secret          string
	OwnerHeader     string
	SignatureHeader string
	TimestampHeader string
	MaxSkew         time.Duration
	Now             func() time.Time
}

func (h HMACOwnerResolver) ResolveOwner(r *http.Request) (string, error) {
	secret := strings.TrimSpace(h.Secret)
	if secret == "" {
		return "", fmt.Errorf("auth: owner assertion secret is required")
	}
	owner := strings.TrimSpace(r.Header.Get(headerOr(h.OwnerHeader, DefaultOwnerHeader)))
	signature := strings.TrimSpace(r.Header.Get(headerOr(h.SignatureHeader, DefaultSignatureHeader)))
	timestamp := strings.TrimSpace(r.Header.Get(headerOr(h.TimestampHeader, DefaultTimestampHeader)))
	if owner == "" || signature == "" || timestamp == "" {
		return "", ErrOwnerUnauthenticated
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", ErrOwnerUnauthenticated
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	maxSkew := h.MaxSkew
	if maxSkew <= 0 {
		maxSkew = defaultOwnerSkew
	}
	skew := now.Sub(time.Unix(seconds, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return "", ErrOwnerUnauthenticated
	}

	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return "", ErrOwnerUnauthenticated
	}
	if subtle.ConstantTimeCompare(decoded, signOwner(secret, timestamp, owner)) != 1 {
		return "", ErrOwnerUnauthenticated
	}
	return owner, nil
}

// SignOwnerAssertion produces the signature header value for owner.
func SignOwnerAssertion(secret string, timestamp string, owner string) string {
	return hex.EncodeToString(signOwner(strings.TrimSpace(secret), timestamp, owner))
}

func signOwner(secret string, timestamp string, owner string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + owner))
	return mac.Sum(nil)
}

func headerOr(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
