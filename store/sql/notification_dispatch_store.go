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

const dispatchStatusDelivered = "delivered"

// NotificationDispatchStore is the idempotency ledger for push notifications.
// A key counts as seen only once a delivery succeeded.
type NotificationDispatchStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationDispatchRecord]
}

func NewNotificationDispatchStore(db *bun.DB) (*NotificationDispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationDispatchRecord](db, notificationDispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification dispatch repository wiring: %w", err)
		}
	}
	return &NotificationDispatchStore{db: db, repo: repo}, nil
}

func (s *NotificationDispatchStore) Seen(ctx context.Context, idempotencyKey string) (bool, error) {
	if s == nil || s.repo == nil {
		return false, errNotConfigured("notification dispatch")
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return false, fmt.Errorf("sqlstore: idempotency key is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("idempotency_key", "=", key),
		repository.SelectBy("status", "=", dispatchStatusDelivered),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// Record upserts by idempotency key so a failed attempt can later be
// overwritten by a successful retry.
func (s *NotificationDispatchStore) Record(ctx context.Context, input core.NotificationDispatchRecord) error {
	if s == nil || s.db == nil {
		return errNotConfigured("notification dispatch")
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return fmt.Errorf("sqlstore: idempotency key is required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return fmt.Errorf("sqlstore: user id is required")
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = dispatchStatusDelivered
	}
	now := time.Now().UTC()
	record := &notificationDispatchRecord{
		ID:          uuid.NewString(),
		Idempotency: key,
		UserID:      strings.TrimSpace(input.UserID),
		Type:        strings.TrimSpace(input.Type),
		Status:      status,
		Error:       strings.TrimSpace(input.Error),
		Metadata:    core.RedactSensitiveMap(input.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (idempotency_key) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("error = EXCLUDED.error").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return classify(err)
}

var _ core.NotificationDispatchLedger = (*NotificationDispatchStore)(nil)
