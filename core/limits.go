package core

import (
	"context"
	"strings"
	"time"
)

// PeriodBoundaries are the starts of the spending periods a purchase is
// counted against. Daily aligns to the operational timezone, monthly to UTC.
type PeriodBoundaries struct {
	DailyStart   time.Time `json:"daily_start"`
	MonthlyStart time.Time `json:"monthly_start"`
}

type SpendingUsage struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

type RemainingLimits struct {
	PerTransaction int64 `json:"per_transaction"`
	Daily          int64 `json:"daily"`
	Monthly        int64 `json:"monthly"`
}

// LimitDecision is the outcome of evaluating a proposed amount. A denial is a
// normal result carrying the trigger, not an error.
type LimitDecision struct {
	Allowed    bool             `json:"allowed"`
	Trigger    TriggerType      `json:"trigger,omitempty"`
	Remaining  RemainingLimits  `json:"remaining"`
	Usage      SpendingUsage    `json:"usage"`
	Boundaries PeriodBoundaries `json:"-"`
}

type SpendingUsageReport struct {
	AgentID    string           `json:"agent_id"`
	Currency   string           `json:"currency"`
	Limits     SpendingLimits   `json:"limits"`
	Usage      SpendingUsage    `json:"usage"`
	Remaining  RemainingLimits  `json:"remaining"`
	Boundaries PeriodBoundaries `json:"boundaries"`
}

// ComputePeriodBoundaries returns the start of the day in loc and the start of
// the month in UTC, both expressed in UTC.
func ComputePeriodBoundaries(now time.Time, loc *time.Location) PeriodBoundaries {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	dailyStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	utc := now.UTC()
	monthlyStart := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	return PeriodBoundaries{
		DailyStart:   dailyStart.UTC(),
		MonthlyStart: monthlyStart,
	}
}

func ValidateLimits(perTransaction int64, daily int64, monthly int64) error {
	return SpendingLimits{PerTransaction: perTransaction, Daily: daily, Monthly: monthly}.Validate()
}

// EvaluateLimits checks per-transaction, then daily, then monthly ceilings.
func EvaluateLimits(limits SpendingLimits, usage SpendingUsage, amount int64) LimitDecision {
	decision := LimitDecision{
		Allowed:   true,
		Usage:     usage,
		Remaining: remainingLimits(limits, usage),
	}
	switch {
	case amount > limits.PerTransaction:
		decision.Allowed = false
		decision.Trigger = TriggerPerTransaction
	case usage.Daily+amount > limits.Daily:
		decision.Allowed = false
		decision.Trigger = TriggerDailyLimit
	case usage.Monthly+amount > limits.Monthly:
		decision.Allowed = false
		decision.Trigger = TriggerMonthlyLimit
	}
	return decision
}

func remainingLimits(limits SpendingLimits, usage SpendingUsage) RemainingLimits {
	return RemainingLimits{
		PerTransaction: floorZero(limits.PerTransaction),
		Daily:          floorZero(limits.Daily - usage.Daily),
		Monthly:        floorZero(limits.Monthly - usage.Monthly),
	}
}

func floorZero(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

func (s *Service) PeriodBoundaries(now time.Time) PeriodBoundaries {
	return ComputePeriodBoundaries(now, s.location)
}

// Usage recomputes completed spend since each boundary on every call.
func (s *Service) Usage(ctx context.Context, agentID string, currency string, boundaries PeriodBoundaries) (SpendingUsage, error) {
	if s.transactions == nil {
		return SpendingUsage{}, s.mapError(errStoreUnavailable("transaction"))
	}
	currency = normalizeCurrency(currency)
	daily, err := s.transactions.SumCompleted(ctx, agentID, currency, boundaries.DailyStart)
	if err != nil {
		return SpendingUsage{}, s.mapError(err)
	}
	monthly, err := s.transactions.SumCompleted(ctx, agentID, currency, boundaries.MonthlyStart)
	if err != nil {
		return SpendingUsage{}, s.mapError(err)
	}
	return SpendingUsage{Daily: daily, Monthly: monthly}, nil
}

func (s *Service) CheckSpendingLimits(ctx context.Context, agent Agent, amount int64) (LimitDecision, error) {
	boundaries := s.PeriodBoundaries(s.now())
	usage, err := s.Usage(ctx, agent.ID, agent.Currency, boundaries)
	if err != nil {
		return LimitDecision{}, err
	}
	decision := EvaluateLimits(agent.Limits, usage, amount)
	decision.Boundaries = boundaries
	return decision, nil
}

func (s *Service) GetSpendingUsage(ctx context.Context, agentID string, ownerID string) (report SpendingUsageReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_spending_usage", err, fields)
	}()

	agent, err := s.ownedAgent(ctx, agentID, ownerID)
	if err != nil {
		return SpendingUsageReport{}, err
	}
	boundaries := s.PeriodBoundaries(s.now())
	usage, err := s.Usage(ctx, agent.ID, agent.Currency, boundaries)
	if err != nil {
		return SpendingUsageReport{}, err
	}
	return SpendingUsageReport{
		AgentID:    agent.ID,
		Currency:   agent.Currency,
		Limits:     agent.Limits,
		Usage:      usage,
		Remaining:  remainingLimits(agent.Limits, usage),
		Boundaries: boundaries,
	}, nil
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
