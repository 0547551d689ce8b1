package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type OAuthClientStore struct {
	db   *bun.DB
	repo repository.Repository[*oauthClientRecord]
}

func NewOAuthClientStore(db *bun.DB) (*OAuthClientStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*oauthClientRecord](db, oauthClientHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid oauth client repository wiring: %w", err)
		}
	}
	return &OAuthClientStore{db: db, repo: repo}, nil
}

func (s *OAuthClientStore) Upsert(ctx context.Context, client core.OAuthClient) (core.OAuthClient, error) {
	if s == nil || s.db == nil {
		return core.OAuthClient{}, errNotConfigured("oauth client")
	}
	record := newOAuthClientRecord(client)
	if record.ClientID == "" {
		return core.OAuthClient{}, fmt.Errorf("sqlstore: client id is required")
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
		On("CONFLICT (client_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("redirect_uris = EXCLUDED.redirect_uris").
		Set("allowed_scopes = EXCLUDED.allowed_scopes").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.OAuthClient{}, classify(err)
	}
	return s.Get(ctx, record.ClientID)
}

func (s *OAuthClientStore) Get(ctx context.Context, clientID string) (core.OAuthClient, error) {
	if s == nil || s.repo == nil {
		return core.OAuthClient{}, errNotConfigured("oauth client")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("client_id", "=", strings.TrimSpace(clientID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.OAuthClient{}, classify(err)
	}
	if len(records) == 0 {
		return core.OAuthClient{}, core.ErrRecordNotFound
	}
	return records[0].toDomain(), nil
}

var _ core.OAuthClientStore = (*OAuthClientStore)(nil)
