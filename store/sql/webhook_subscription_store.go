package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookSubscriptionStore keeps one subscription per merchant.
type WebhookSubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookSubscriptionRecord]
}

func NewWebhookSubscriptionStore(db *bun.DB) (*WebhookSubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookSubscriptionRecord](db, webhookSubscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook subscription repository wiring: %w", err)
		}
	}
	return &WebhookSubscriptionStore{db: db, repo: repo}, nil
}

func (s *WebhookSubscriptionStore) Upsert(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return core.WebhookSubscription{}, errNotConfigured("webhook subscription")
	}
	record := newWebhookSubscriptionRecord(sub)
	if record.MerchantID == "" {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: merchant id is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (merchant_id) DO UPDATE").
		Set("url = EXCLUDED.url").
		Set("secret = EXCLUDED.secret").
		Set("events = EXCLUDED.events").
		Set("enabled = EXCLUDED.enabled").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.WebhookSubscription{}, classify(err)
	}
	return s.GetByMerchant(ctx, record.MerchantID)
}

func (s *WebhookSubscriptionStore) GetByMerchant(ctx context.Context, merchantID string) (core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return core.WebhookSubscription{}, errNotConfigured("webhook subscription")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("merchant_id", "=", strings.TrimSpace(merchantID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.WebhookSubscription{}, classify(err)
	}
	if len(records) == 0 {
		return core.WebhookSubscription{}, core.ErrRecordNotFound
	}
	return records[0].toDomain(), nil
}

// ListEnabled filters event membership in Go; the events column is a JSON
// array and the filter has to behave the same on SQLite and Postgres.
func (s *WebhookSubscriptionStore) ListEnabled(ctx context.Context, eventType string) ([]core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("webhook subscription")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.enabled = ?", true)
		}),
		repository.OrderBy("merchant_id ASC"),
	)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]core.WebhookSubscription, 0, len(records))
	for _, record := range records {
		sub := record.toDomain()
		if sub.Wants(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

var _ core.WebhookSubscriptionStore = (*WebhookSubscriptionStore)(nil)
