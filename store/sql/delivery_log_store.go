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

// DeliveryLogStore is append-only.
type DeliveryLogStore struct {
	repo repository.Repository[*deliveryLogRecord]
}

func NewDeliveryLogStore(db *bun.DB) (*DeliveryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryLogRecord](db, deliveryLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery log repository wiring: %w", err)
		}
	}
	return &DeliveryLogStore{repo: repo}, nil
}

func (s *DeliveryLogStore) Append(ctx context.Context, log core.DeliveryLog) error {
	if s == nil || s.repo == nil {
		return errNotConfigured("delivery log")
	}
	if strings.TrimSpace(log.WebhookID) == "" {
		return fmt.Errorf("sqlstore: webhook id is required")
	}
	id := strings.TrimSpace(log.ID)
	if id == "" {
		id = uuid.NewString()
	}
	attemptedAt := log.AttemptedAt.UTC()
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}
	_, err := s.repo.Create(ctx, &deliveryLogRecord{
		ID:          id,
		WebhookID:   strings.TrimSpace(log.WebhookID),
		EventID:     strings.TrimSpace(log.EventID),
		EventType:   strings.TrimSpace(log.EventType),
		StatusCode:  log.StatusCode,
		Error:       log.Error,
		DurationMs:  log.DurationMs,
		AttemptedAt: attemptedAt,
	})
	return classify(err)
}

func (s *DeliveryLogStore) List(ctx context.Context, filter core.DeliveryLogFilter) (core.DeliveryLogPage, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryLogPage{}, errNotConfigured("delivery log")
	}
	criteria := []repository.SelectCriteria{}
	if webhookID := strings.TrimSpace(filter.WebhookID); webhookID != "" {
		criteria = append(criteria, repository.SelectBy("webhook_id", "=", webhookID))
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		criteria = append(criteria, repository.SelectBy("event_type", "=", eventType))
	}
	criteria = append(criteria,
		repository.OrderBy("attempted_at ASC"),
		repository.SelectPaginate(filter.Limit, filter.Offset),
	)
	records, total, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.DeliveryLogPage{}, classify(err)
	}
	page := core.DeliveryLogPage{Items: make([]core.DeliveryLog, 0, len(records)), Total: total}
	for _, record := range records {
		page.Items = append(page.Items, record.toDomain())
	}
	return page, nil
}

var _ core.DeliveryLogStore = (*DeliveryLogStore)(nil)
