// Package push delivers owner notifications through an HTTP push gateway.
package push

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
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultSendPath       = "/v1/notifications"
	defaultRequestTimeout = 10 * time.Second
)

type Config struct {
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url" json:"base_url" toml:"base_url"`
	SendPath       string        `koanf:"send_path" mapstructure:"send_path" json:"send_path" toml:"send_path"`
	APIKey         string        `koanf:"api_key" mapstructure:"api_key" json:"api_key" toml:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" toml:"request_timeout"`
}

// Sender implements core.NotificationSender.
type Sender struct {
	cfg    Config
	client *transport.Client
	logger glog.Logger
}

func New(cfg Config, doer transport.HTTPDoer, logger glog.Logger) (*Sender, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("push: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("push: invalid base url: %w", err)
	}
	if strings.TrimSpace(cfg.SendPath) == "" {
		cfg.SendPath = defaultSendPath
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &Sender{cfg: cfg, client: transport.NewClient(doer), logger: logger}, nil
}

type sendPayload struct {
	UserID  string         `json:"user_id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Notify forwards the idempotency key so the gateway can collapse retries;
// a 409 means the gateway already accepted that key.
func (s *Sender) Notify(ctx context.Context, req core.NotificationRequest) (core.NotificationResult, error) {
	if s == nil {
		return core.NotificationResult{}, fmt.Errorf("push: sender is nil")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return core.NotificationResult{}, fmt.Errorf("push: user id is required")
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(sendPayload{UserID: req.UserID, Type: req.Type, Payload: payload})
	if err != nil {
		return core.NotificationResult{}, fmt.Errorf("push: encode request: %w", err)
	}
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers["Idempotency-Key"] = key
	}
	if apiKey := strings.TrimSpace(s.cfg.APIKey); apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	res, err := s.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     s.cfg.BaseURL + s.cfg.SendPath,
		Headers: headers,
		Body:    body,
		Timeout: s.cfg.RequestTimeout,
	})
	if err != nil {
		return core.NotificationResult{}, err
	}
	if res.StatusCode == http.StatusConflict {
		s.logger.Debug("push notification replayed", "type", req.Type, "idempotency_key", req.IdempotencyKey)
		return core.NotificationResult{Delivered: true, Replayed: true}, nil
	}
	if !res.OK() {
		return core.NotificationResult{}, transport.StatusError(res, fmt.Sprintf("push: gateway returned %d", res.StatusCode))
	}
	var decoded sendResponse
	if len(strings.TrimSpace(string(res.Body))) > 0 {
		if err := res.DecodeJSON(&decoded); err != nil {
			return core.NotificationResult{}, err
		}
	}
	return core.NotificationResult{Delivered: true, MessageID: decoded.MessageID}, nil
}

var _ core.NotificationSender = (*Sender)(nil)
