package query

import (
	"context"

	"github.com/goliatone/go-agentpay/core"
)

type AgentReader interface {
	GetAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error)
	GetSpendingUsage(ctx context.Context, agentID string, ownerID string) (core.SpendingUsageReport, error)
}

type StepUpReader interface {
	GetStepUp(ctx context.Context, lookup core.StepUpLookup) (core.StepUpRequest, error)
}

type DeliveryLogReader interface {
	ListDeliveryLogs(ctx context.Context, filter core.DeliveryLogFilter) (core.DeliveryLogPage, error)
}

type TokenIntrospector interface {
	Introspect(ctx context.Context, token string) (core.IntrospectionResult, error)
}

// TransactionHistoryReader is satisfied by *sqlstore.TransactionHistory.
type TransactionHistoryReader interface {
	ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]core.Transaction, int, error)
}

type GetAgentQuery struct {
	reader AgentReader
}

func NewGetAgentQuery(reader AgentReader) *GetAgentQuery {
	return &GetAgentQuery{reader: reader}
}

func (q *GetAgentQuery) Query(ctx context.Context, msg GetAgentMessage) (core.Agent, error) {
	if q == nil || q.reader == nil {
		return core.Agent{}, queryDependencyError("query: agent reader is required")
	}
	return q.reader.GetAgent(ctx, msg.AgentID, msg.OwnerID)
}

type GetSpendingUsageQuery struct {
	reader AgentReader
}

func NewGetSpendingUsageQuery(reader AgentReader) *GetSpendingUsageQuery {
	return &GetSpendingUsageQuery{reader: reader}
}

func (q *GetSpendingUsageQuery) Query(ctx context.Context, msg GetSpendingUsageMessage) (core.SpendingUsageReport, error) {
	if q == nil || q.reader == nil {
		return core.SpendingUsageReport{}, queryDependencyError("query: agent reader is required")
	}
	return q.reader.GetSpendingUsage(ctx, msg.AgentID, msg.OwnerID)
}

type ListTransactionsQuery struct {
	reader TransactionHistoryReader
}

func NewListTransactionsQuery(reader TransactionHistoryReader) *ListTransactionsQuery {
	return &ListTransactionsQuery{reader: reader}
}

func (q *ListTransactionsQuery) Query(ctx context.Context, msg ListTransactionsMessage) (TransactionPage, error) {
	if q == nil || q.reader == nil {
		return TransactionPage{}, queryDependencyError("query: transaction history reader is required")
	}
	items, total, err := q.reader.ListByAgent(ctx, msg.AgentID, msg.Limit, msg.Offset)
	if err != nil {
		return TransactionPage{}, err
	}
	if items == nil {
		items = []core.Transaction{}
	}
	return TransactionPage{Items: items, Total: total}, nil
}

type GetStepUpQuery struct {
	reader StepUpReader
}

func NewGetStepUpQuery(reader StepUpReader) *GetStepUpQuery {
	return &GetStepUpQuery{reader: reader}
}

func (q *GetStepUpQuery) Query(ctx context.Context, msg GetStepUpMessage) (core.StepUpRequest, error) {
	if q == nil || q.reader == nil {
		return core.StepUpRequest{}, queryDependencyError("query: step-up reader is required")
	}
	return q.reader.GetStepUp(ctx, msg.Lookup)
}

type ListDeliveryLogsQuery struct {
	reader DeliveryLogReader
}

func NewListDeliveryLogsQuery(reader DeliveryLogReader) *ListDeliveryLogsQuery {
	return &ListDeliveryLogsQuery{reader: reader}
}

func (q *ListDeliveryLogsQuery) Query(ctx context.Context, msg ListDeliveryLogsMessage) (core.DeliveryLogPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryLogPage{}, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.ListDeliveryLogs(ctx, msg.Filter)
}

type IntrospectTokenQuery struct {
	introspector TokenIntrospector
}

func NewIntrospectTokenQuery(introspector TokenIntrospector) *IntrospectTokenQuery {
	return &IntrospectTokenQuery{introspector: introspector}
}

func (q *IntrospectTokenQuery) Query(ctx context.Context, msg IntrospectTokenMessage) (core.IntrospectionResult, error) {
	if q == nil || q.introspector == nil {
		return core.IntrospectionResult{}, queryDependencyError("query: token introspector is required")
	}
	return q.introspector.Introspect(ctx, msg.Token)
}
