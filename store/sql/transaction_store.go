package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type TransactionStore struct {
	db bun.IDB
}

func NewTransactionStore(db bun.IDB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, errNotConfigured("transaction")
	}
	record := newTransactionRecord(tx)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Transaction{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *TransactionStore) Get(ctx context.Context, id string) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, errNotConfigured("transaction")
	}
	record := &transactionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Transaction{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, expected core.TransactionStatus, next core.TransactionStatus, at time.Time) error {
	if s == nil || s.db == nil {
		return errNotConfigured("transaction")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*transactionRecord)(nil)).
		Set("status = ?", string(next)).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	return checkConditionalUpdate(ctx, s.db, res, (*transactionRecord)(nil), id)
}

// SumCompleted totals completed spend created at or after since.
func (s *TransactionStore) SumCompleted(ctx context.Context, agentID string, currency string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotConfigured("transaction")
	}
	var total int64
	err := s.db.NewSelect().
		Model((*transactionRecord)(nil)).
		ColumnExpr("COALESCE(SUM(?TableAlias.amount), 0)").
		Where("?TableAlias.agent_id = ?", strings.TrimSpace(agentID)).
		Where("?TableAlias.currency = ?", strings.TrimSpace(currency)).
		Where("?TableAlias.status = ?", string(core.TransactionStatusCompleted)).
		Where("?TableAlias.created_at >= ?", since.UTC()).
		Scan(ctx, &total)
	if err != nil {
		return 0, classify(err)
	}
	return total, nil
}

// TransactionHistory pages an agent's transactions, newest first.
type TransactionHistory struct {
	repo repository.Repository[*transactionRecord]
}

func (h *TransactionHistory) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]core.Transaction, int, error) {
	if h == nil || h.repo == nil {
		return nil, 0, errNotConfigured("transaction history")
	}
	if limit <= 0 {
		limit = 50
	}
	records, total, err := h.repo.List(ctx,
		repository.SelectBy("agent_id", "=", strings.TrimSpace(agentID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, offset),
	)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

var _ core.TransactionStore = (*TransactionStore)(nil)
