package query

import (
	"strings"

	"github.com/goliatone/go-agentpay/core"
)

const (
	TypeGetAgent         = "agentpay.query.agent.get"
	TypeGetSpendingUsage = "agentpay.query.agent.spending_usage"
	TypeListTransactions = "agentpay.query.agent.transactions"
	TypeGetStepUp        = "agentpay.query.step_up.get"
	TypeListDeliveryLogs = "agentpay.query.webhook.delivery_logs"
	TypeIntrospectToken  = "agentpay.query.token.introspect"
	maxTransactionsPage  = 200
	maxDeliveryLogsPage  = 200
)

type GetAgentMessage struct {
	AgentID string
	OwnerID string
}

func (GetAgentMessage) Type() string { return TypeGetAgent }

func (m GetAgentMessage) Validate() error {
	return validateAgentOwner(m.AgentID, m.OwnerID)
}

type GetSpendingUsageMessage struct {
	AgentID string
	OwnerID string
}

func (GetSpendingUsageMessage) Type() string { return TypeGetSpendingUsage }

func (m GetSpendingUsageMessage) Validate() error {
	return validateAgentOwner(m.AgentID, m.OwnerID)
}

// ListTransactionsMessage pages an agent's history. Ownership is checked by
// the caller before the query runs.
type ListTransactionsMessage struct {
	AgentID string
	Limit   int
	Offset  int
}

func (ListTransactionsMessage) Type() string { return TypeListTransactions }

func (m ListTransactionsMessage) Validate() error {
	if strings.TrimSpace(m.AgentID) == "" {
		return queryValidationError("agent_id", "agent id is required")
	}
	if m.Limit < 0 || m.Limit > maxTransactionsPage {
		return queryValidationError("limit", "limit must be between 0 and 200")
	}
	if m.Offset < 0 {
		return queryValidationError("offset", "offset must not be negative")
	}
	return nil
}

type TransactionPage struct {
	Items []core.Transaction `json:"items"`
	Total int                `json:"total"`
}

type GetStepUpMessage struct {
	Lookup core.StepUpLookup
}

func (GetStepUpMessage) Type() string { return TypeGetStepUp }

func (m GetStepUpMessage) Validate() error {
	if strings.TrimSpace(m.Lookup.ID) == "" {
		return queryValidationError("id", "step-up id is required")
	}
	if strings.TrimSpace(m.Lookup.AgentID) == "" && strings.TrimSpace(m.Lookup.OwnerID) == "" {
		return queryValidationError("owner_id", "agent id or owner id is required")
	}
	return nil
}

type ListDeliveryLogsMessage struct {
	Filter core.DeliveryLogFilter
}

func (ListDeliveryLogsMessage) Type() string { return TypeListDeliveryLogs }

func (m ListDeliveryLogsMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > maxDeliveryLogsPage {
		return queryValidationError("limit", "limit must be between 0 and 200")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must not be negative")
	}
	return nil
}

type IntrospectTokenMessage struct {
	Token string
}

func (IntrospectTokenMessage) Type() string { return TypeIntrospectToken }

func (m IntrospectTokenMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return queryValidationError("token", "token is required")
	}
	return nil
}

func validateAgentOwner(agentID string, ownerID string) error {
	if strings.TrimSpace(agentID) == "" {
		return queryValidationError("agent_id", "agent id is required")
	}
	if strings.TrimSpace(ownerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}
