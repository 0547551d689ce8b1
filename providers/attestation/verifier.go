// Package attestation verifies owner biometric assertions against an
// external attestation service.
package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	"github.com/goliatone/go-agentpay/transport"
)

const (
	defaultVerifyPath     = "/v1/assertions/verify"
	defaultRequestTimeout = 10 * time.Second
)

type Config struct {
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url" json:"base_url" toml:"base_url"`
	VerifyPath     string        `koanf:"verify_path" mapstructure:"verify_path" json:"verify_path" toml:"verify_path"`
	APIKey         string        `koanf:"api_key" mapstructure:"api_key" json:"api_key" toml:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" toml:"request_timeout"`
}

// Verifier implements core.BiometricVerifier.
type Verifier struct {
	cfg    Config
	client *transport.Client
}

func New(cfg Config, doer transport.HTTPDoer) (*Verifier, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("attestation: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("attestation: invalid base url: %w", err)
	}
	if strings.TrimSpace(cfg.VerifyPath) == "" {
		cfg.VerifyPath = defaultVerifyPath
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Verifier{cfg: cfg, client: transport.NewClient(doer)}, nil
}

type verifyPayload struct {
	OwnerID   string `json:"owner_id"`
	Challenge string `json:"challenge"`
	Assertion []byte `json:"assertion"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Counter  uint32 `json:"counter"`
}

// Verify reports a rejected assertion as Verified=false; only transport and
// upstream failures are errors.
func (v *Verifier) Verify(ctx context.Context, assertion core.BiometricAssertion) (core.BiometricResult, error) {
	if v == nil {
		return core.BiometricResult{}, fmt.Errorf("attestation: verifier is nil")
	}
	body, err := json.Marshal(verifyPayload{
		OwnerID:   strings.TrimSpace(assertion.OwnerID),
		Challenge: assertion.Challenge,
		Assertion: assertion.Payload,
	})
	if err != nil {
		return core.BiometricResult{}, fmt.Errorf("attestation: encode request: %w", err)
	}
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if key := strings.TrimSpace(v.cfg.APIKey); key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	res, err := v.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     v.cfg.BaseURL + v.cfg.VerifyPath,
		Headers: headers,
		Body:    body,
		Timeout: v.cfg.RequestTimeout,
	})
	if err != nil {
		return core.BiometricResult{}, err
	}
	switch {
	case res.StatusCode == http.StatusUnprocessableEntity:
		return core.BiometricResult{Verified: false}, nil
	case !res.OK():
		return core.BiometricResult{}, transport.StatusError(res, fmt.Sprintf("attestation: verify returned %d", res.StatusCode))
	}
	var decoded verifyResponse
	if err := res.DecodeJSON(&decoded); err != nil {
		return core.BiometricResult{}, err
	}
	return core.BiometricResult{Verified: decoded.Verified, Counter: decoded.Counter}, nil
}

var _ core.BiometricVerifier = (*Verifier)(nil)
