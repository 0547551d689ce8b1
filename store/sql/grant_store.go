package sqlstore

import (
	"context"
	"strings"

	"github.com/goliatone/go-agentpay/core"
	"github.com/uptrace/bun"
)

type GrantStore struct {
	db bun.IDB
}

func NewGrantStore(db bun.IDB) *GrantStore {
	return &GrantStore{db: db}
}

func (s *GrantStore) Create(ctx context.Context, grant core.AuthorizationGrant) (core.AuthorizationGrant, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationGrant{}, errNotConfigured("grant")
	}
	record := newGrantRecord(grant)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.AuthorizationGrant{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *GrantStore) Get(ctx context.Context, id string) (core.AuthorizationGrant, error) {
	return s.getBy(ctx, "id", id)
}

func (s *GrantStore) GetByUserCode(ctx context.Context, userCode string) (core.AuthorizationGrant, error) {
	return s.getBy(ctx, "user_code", userCode)
}

func (s *GrantStore) GetByCodeHash(ctx context.Context, codeHash string) (core.AuthorizationGrant, error) {
	return s.getBy(ctx, "code_hash", codeHash)
}

func (s *GrantStore) getBy(ctx context.Context, column, value string) (core.AuthorizationGrant, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationGrant{}, errNotConfigured("grant")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.AuthorizationGrant{}, core.ErrRecordNotFound
	}
	record := &grantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.AuthorizationGrant{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *GrantStore) Update(ctx context.Context, grant core.AuthorizationGrant, expected core.GrantStatus) error {
	if s == nil || s.db == nil {
		return errNotConfigured("grant")
	}
	record := newGrantRecord(grant)
	res, err := s.db.NewUpdate().
		Model(record).
		Column(
			"status", "user_code", "code_hash", "user_id", "agent_id",
			"limits", "currency", "scope", "token_issued_at", "updated_at",
		).
		Where("id = ?", record.ID).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	return checkConditionalUpdate(ctx, s.db, res, (*grantRecord)(nil), record.ID)
}

var _ core.GrantStore = (*GrantStore)(nil)
