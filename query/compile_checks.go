package query

import (
	"github.com/goliatone/go-agentpay/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetAgentMessage, core.Agent]                       = (*GetAgentQuery)(nil)
	_ gocmd.Querier[GetSpendingUsageMessage, core.SpendingUsageReport] = (*GetSpendingUsageQuery)(nil)
	_ gocmd.Querier[ListTransactionsMessage, TransactionPage]          = (*ListTransactionsQuery)(nil)
	_ gocmd.Querier[GetStepUpMessage, core.StepUpRequest]              = (*GetStepUpQuery)(nil)
	_ gocmd.Querier[ListDeliveryLogsMessage, core.DeliveryLogPage]     = (*ListDeliveryLogsQuery)(nil)
	_ gocmd.Querier[IntrospectTokenMessage, core.IntrospectionResult]  = (*IntrospectTokenQuery)(nil)

	_ AgentReader       = (*core.Service)(nil)
	_ StepUpReader      = (*core.Service)(nil)
	_ DeliveryLogReader = (*core.Service)(nil)
	_ TokenIntrospector = (*core.Service)(nil)
)
