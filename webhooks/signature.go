package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "Signature"
	TimestampHeader = "Timestamp"
	signaturePrefix = "sha256="

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrSignatureMissing  = errors.New("webhooks: signature is required")
	ErrSignatureMismatch = errors.New("webhooks: signature verification failed")
	ErrTimestampSkew     = errors.New("webhooks: timestamp outside tolerance")
)

// Sign returns sha256=<hex> over timestamp + "." + body.
func Sign(secret string, timestamp string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(signatureMAC(secret, timestamp, body))
}

func signatureMAC(secret string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// Verify checks a delivery on the receiving side. The timestamp header holds
// unix seconds; a tolerance of zero disables the freshness check.
func Verify(secret string, signature string, timestamp string, body []byte, tolerance time.Duration, now time.Time) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrSignatureMissing
	}
	if tolerance > 0 {
		seconds, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("webhooks: parse timestamp: %w", err)
		}
		skew := now.Sub(time.Unix(seconds, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrTimestampSkew
		}
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return fmt.Errorf("webhooks: decode hex signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, signatureMAC(secret, timestamp, body)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyRequest reads and verifies an inbound delivery and returns its body.
func VerifyRequest(r *http.Request, secret string, tolerance time.Duration) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, fmt.Errorf("webhooks: request body is required")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("webhooks: read body: %w", err)
	}
	if err := Verify(secret, r.Header.Get(SignatureHeader), r.Header.Get(TimestampHeader), body, tolerance, time.Now()); err != nil {
		return nil, err
	}
	return body, nil
}
