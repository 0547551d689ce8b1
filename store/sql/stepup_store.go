package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	"github.com/uptrace/bun"
)

type StepUpStore struct {
	db bun.IDB
}

func NewStepUpStore(db bun.IDB) *StepUpStore {
	return &StepUpStore{db: db}
}

func (s *StepUpStore) Create(ctx context.Context, req core.StepUpRequest) (core.StepUpRequest, error) {
	if s == nil || s.db == nil {
		return core.StepUpRequest{}, errNotConfigured("step-up")
	}
	record := newStepUpRecord(req)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.StepUpRequest{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *StepUpStore) Get(ctx context.Context, id string) (core.StepUpRequest, error) {
	if s == nil || s.db == nil {
		return core.StepUpRequest{}, errNotConfigured("step-up")
	}
	record := &stepUpRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.StepUpRequest{}, classify(err)
	}
	return record.toDomain(), nil
}

func (s *StepUpStore) Update(ctx context.Context, req core.StepUpRequest, expected core.StepUpStatus) error {
	if s == nil || s.db == nil {
		return errNotConfigured("step-up")
	}
	record := newStepUpRecord(req)
	res, err := s.db.NewUpdate().
		Model(record).
		Column(
			"status", "approved_payment_method_id", "rejection_reason",
			"transaction_id", "decided_at", "updated_at",
		).
		Where("id = ?", record.ID).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	return checkConditionalUpdate(ctx, s.db, res, (*stepUpRecord)(nil), record.ID)
}

func (s *StepUpStore) RejectPendingForAgent(ctx context.Context, agentID string, reason string, at time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNotConfigured("step-up")
	}
	at = at.UTC()
	res, err := s.db.NewUpdate().
		Model((*stepUpRecord)(nil)).
		Set("status = ?", string(core.StepUpStatusRejected)).
		Set("rejection_reason = ?", reason).
		Set("decided_at = ?", at).
		Set("updated_at = ?", at).
		Where("agent_id = ?", strings.TrimSpace(agentID)).
		Where("status = ?", string(core.StepUpStatusPending)).
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

var _ core.StepUpStore = (*StepUpStore)(nil)
