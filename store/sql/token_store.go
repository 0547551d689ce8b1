package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	"github.com/uptrace/bun"
)

// TokenStore persists token digests only.
type TokenStore struct {
	db bun.IDB
}

func NewTokenStore(db bun.IDB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Save(ctx context.Context, record core.AccessTokenRecord) error {
	if s == nil || s.db == nil {
		return errNotConfigured("token")
	}
	if _, err := s.db.NewInsert().Model(newAccessTokenRecord(record)).Exec(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, tokenHash string) (core.AccessTokenRecord, error) {
	if s == nil || s.db == nil {
		return core.AccessTokenRecord{}, errNotConfigured("token")
	}
	record := &accessTokenRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", strings.TrimSpace(tokenHash)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.AccessTokenRecord{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *TokenStore) Revoke(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured("token")
	}
	res, err := s.db.NewUpdate().
		Model((*accessTokenRecord)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("token_hash = ?", strings.TrimSpace(tokenHash)).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *TokenStore) RevokeAllForAgent(ctx context.Context, agentID string, at time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNotConfigured("token")
	}
	res, err := s.db.NewUpdate().
		Model((*accessTokenRecord)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("agent_id = ?", strings.TrimSpace(agentID)).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

var _ core.TokenStore = (*TokenStore)(nil)
