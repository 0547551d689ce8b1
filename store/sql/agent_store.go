package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	"github.com/uptrace/bun"
)

type AgentStore struct {
	db bun.IDB
}

func NewAgentStore(db bun.IDB) *AgentStore {
	return &AgentStore{db: db}
}

func (s *AgentStore) Create(ctx context.Context, agent core.Agent) (core.Agent, error) {
	if s == nil || s.db == nil {
		return core.Agent{}, errNotConfigured("agent")
	}
	record := newAgentRecord(agent)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Agent{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *AgentStore) Get(ctx context.Context, id string) (core.Agent, error) {
	return s.getBy(ctx, "id", id)
}

func (s *AgentStore) GetByClientID(ctx context.Context, clientID string) (core.Agent, error) {
	return s.getBy(ctx, "client_id", clientID)
}

func (s *AgentStore) getBy(ctx context.Context, column, value string) (core.Agent, error) {
	if s == nil || s.db == nil {
		return core.Agent{}, errNotConfigured("agent")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.Agent{}, core.ErrRecordNotFound
	}
	record := &agentRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Agent{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *AgentStore) Update(ctx context.Context, agent core.Agent, expected core.AgentStatus) (core.Agent, error) {
	if s == nil || s.db == nil {
		return core.Agent{}, errNotConfigured("agent")
	}
	record := newAgentRecord(agent)
	res, err := s.db.NewUpdate().
		Model(record).
		Column(
			"client_secret_hash", "name", "permissions",
			"per_transaction_limit", "daily_limit", "monthly_limit",
			"currency", "status", "last_used_at", "secret_rotated_at", "updated_at",
		).
		Where("id = ?", record.ID).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return core.Agent{}, classify(err)
	}
	if err := s.checkTransition(ctx, res, record.ID); err != nil {
		return core.Agent{}, err
	}
	return record.toDomain(), nil
}

func (s *AgentStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return errNotConfigured("agent")
	}
	res, err := s.db.NewUpdate().
		Model((*agentRecord)(nil)).
		Set("last_used_at = ?", at.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

// checkTransition separates a missing row from a row whose status moved.
func (s *AgentStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	return checkConditionalUpdate(ctx, s.db, res, (*agentRecord)(nil), id)
}

// checkConditionalUpdate reports ErrStaleTransition when a status-guarded
// update matched no row but the row exists.
func checkConditionalUpdate(ctx context.Context, db bun.IDB, res sql.Result, model any, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	exists, err := db.NewSelect().Model(model).Where("?TableAlias.id = ?", id).Exists(ctx)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return core.ErrRecordNotFound
	}
	return core.ErrStaleTransition
}

var _ core.AgentStore = (*AgentStore)(nil)
