package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sealedSecretPrefix = "enc:"

const (
	defaultDeliveryLogLimit = 50
	maxDeliveryLogLimit     = 500
)

type RegisterWebhookRequest struct {
	MerchantID string
	URL        string
	Secret     string
	Events     []string
	Enabled    *bool
}

// RegisterWebhook upserts the merchant's single subscription. The signing
// secret is sealed with the configured SecretProvider before it is stored.
func (s *Service) RegisterWebhook(ctx context.Context, req RegisterWebhookRequest) (sub WebhookSubscription, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"merchant_id": req.MerchantID}
	defer func() {
		fields["webhook_id"] = sub.ID
		s.observeOperation(ctx, startedAt, "register_webhook", err, fields)
	}()

	if s.webhooks == nil {
		return WebhookSubscription{}, s.mapError(errStoreUnavailable("webhook subscription"))
	}
	merchantID := strings.TrimSpace(req.MerchantID)
	if merchantID == "" {
		return WebhookSubscription{}, s.mapError(newBadInputError("core: merchant id is required", "merchant_id"))
	}
	target, parseErr := url.Parse(strings.TrimSpace(req.URL))
	if parseErr != nil || (target.Scheme != "https" && target.Scheme != "http") || target.Host == "" {
		return WebhookSubscription{}, s.mapError(newBadInputError("core: webhook url must be an absolute http(s) url", "url"))
	}
	if strings.TrimSpace(req.Secret) == "" {
		return WebhookSubscription{}, s.mapError(newBadInputError("core: webhook secret is required", "secret"))
	}
	events := NormalizePermissions(req.Events)
	if len(events) == 0 {
		return WebhookSubscription{}, s.mapError(newBadInputError("core: at least one event is required", "events"))
	}
	sealed, err := SealWebhookSecret(ctx, s.secretProvider, req.Secret)
	if err != nil {
		return WebhookSubscription{}, s.mapError(err)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := s.now()
	sub, err = s.webhooks.Upsert(ctx, WebhookSubscription{
		ID:         uuid.NewString(),
		MerchantID: merchantID,
		URL:        target.String(),
		Secret:     sealed,
		Events:     events,
		Enabled:    enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return WebhookSubscription{}, s.mapError(err)
	}
	sub.Secret = ""
	return sub, nil
}

func (s *Service) ListDeliveryLogs(ctx context.Context, filter DeliveryLogFilter) (page DeliveryLogPage, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"webhook_id": filter.WebhookID, "event": filter.EventType}
	defer func() {
		fields["total"] = page.Total
		s.observeOperation(ctx, startedAt, "list_delivery_logs", err, fields)
	}()

	if s.deliveryLogs == nil {
		return DeliveryLogPage{}, s.mapError(errStoreUnavailable("delivery log"))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultDeliveryLogLimit
	}
	if filter.Limit > maxDeliveryLogLimit {
		filter.Limit = maxDeliveryLogLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	page, err = s.deliveryLogs.List(ctx, filter)
	if err != nil {
		return DeliveryLogPage{}, s.mapError(err)
	}
	return page, nil
}

// SealWebhookSecret encrypts a signing secret for storage. Without a provider
// the secret is stored as given.
func SealWebhookSecret(ctx context.Context, provider SecretProvider, secret string) (string, error) {
	if provider == nil {
		return secret, nil
	}
	ciphertext, err := provider.Encrypt(ctx, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("core: seal webhook secret: %w", err)
	}
	return sealedSecretPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func OpenWebhookSecret(ctx context.Context, provider SecretProvider, stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedSecretPrefix) {
		return stored, nil
	}
	if provider == nil {
		return "", fmt.Errorf("core: webhook secret is sealed but no secret provider is configured")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedSecretPrefix))
	if err != nil {
		return "", fmt.Errorf("core: decode webhook secret: %w", err)
	}
	plaintext, err := provider.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("core: open webhook secret: %w", err)
	}
	return string(plaintext), nil
}
