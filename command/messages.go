package command

import (
	"strings"

	"github.com/goliatone/go-agentpay/core"
)

const (
	TypeCreateAgent            = "agentpay.command.agent.create"
	TypeUpdateAgentLimits      = "agentpay.command.agent.update_limits"
	TypeUpdateAgentPermissions = "agentpay.command.agent.update_permissions"
	TypeSuspendAgent           = "agentpay.command.agent.suspend"
	TypeReactivateAgent        = "agentpay.command.agent.reactivate"
	TypeRevokeAgent            = "agentpay.command.agent.revoke"
	TypeRotateAgentSecret      = "agentpay.command.agent.rotate_secret"
	TypeRequestPurchase        = "agentpay.command.purchase.request"
	TypeApproveStepUp          = "agentpay.command.step_up.approve"
	TypeRejectStepUp           = "agentpay.command.step_up.reject"
	TypeSettleTransaction      = "agentpay.command.transaction.settle"
	TypeRegisterWebhook        = "agentpay.command.webhook.register"
	TypeRegisterOAuthClient    = "agentpay.command.oauth_client.register"
)

type CreateAgentMessage struct {
	Request core.CreateAgentRequest
}

func (CreateAgentMessage) Type() string { return TypeCreateAgent }

func (m CreateAgentMessage) Validate() error {
	if strings.TrimSpace(m.Request.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(m.Request.Name) == "" {
		return commandValidationError("name", "agent name is required")
	}
	return nil
}

// AgentRef addresses an owner's agent.
type AgentRef struct {
	AgentID string
	OwnerID string
}

func (r AgentRef) validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return commandValidationError("agent_id", "agent id is required")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type UpdateAgentLimitsMessage struct {
	AgentRef
	Limits core.SpendingLimits
}

func (UpdateAgentLimitsMessage) Type() string { return TypeUpdateAgentLimits }

func (m UpdateAgentLimitsMessage) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.Limits.PerTransaction < 0 || m.Limits.Daily < 0 || m.Limits.Monthly < 0 {
		return commandValidationError("limits", "limits must not be negative")
	}
	return nil
}

type UpdateAgentPermissionsMessage struct {
	AgentRef
	Permissions []string
}

func (UpdateAgentPermissionsMessage) Type() string { return TypeUpdateAgentPermissions }

func (m UpdateAgentPermissionsMessage) Validate() error { return m.validate() }

type SuspendAgentMessage struct{ AgentRef }

func (SuspendAgentMessage) Type() string { return TypeSuspendAgent }

func (m SuspendAgentMessage) Validate() error { return m.validate() }

type ReactivateAgentMessage struct{ AgentRef }

func (ReactivateAgentMessage) Type() string { return TypeReactivateAgent }

func (m ReactivateAgentMessage) Validate() error { return m.validate() }

type RevokeAgentMessage struct{ AgentRef }

func (RevokeAgentMessage) Type() string { return TypeRevokeAgent }

func (m RevokeAgentMessage) Validate() error { return m.validate() }

type RotateAgentSecretMessage struct{ AgentRef }

func (RotateAgentSecretMessage) Type() string { return TypeRotateAgentSecret }

func (m RotateAgentSecretMessage) Validate() error { return m.validate() }

type RequestPurchaseMessage struct {
	Request core.PurchaseRequest
}

func (RequestPurchaseMessage) Type() string { return TypeRequestPurchase }

func (m RequestPurchaseMessage) Validate() error {
	if strings.TrimSpace(m.Request.AgentID) == "" {
		return commandValidationError("agent_id", "agent id is required")
	}
	if m.Request.Amount <= 0 {
		return commandValidationError("amount", "amount must be positive")
	}
	if strings.TrimSpace(m.Request.MerchantID) == "" {
		return commandValidationError("merchant_id", "merchant id is required")
	}
	return nil
}

type ApproveStepUpMessage struct {
	Request core.ApproveStepUpRequest
}

func (ApproveStepUpMessage) Type() string { return TypeApproveStepUp }

func (m ApproveStepUpMessage) Validate() error {
	if strings.TrimSpace(m.Request.ID) == "" {
		return commandValidationError("id", "step-up id is required")
	}
	if strings.TrimSpace(m.Request.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(m.Request.Challenge) == "" {
		return commandValidationError("challenge", "challenge is required")
	}
	return nil
}

type RejectStepUpMessage struct {
	StepUpID string
	OwnerID  string
	Reason   string
}

func (RejectStepUpMessage) Type() string { return TypeRejectStepUp }

func (m RejectStepUpMessage) Validate() error {
	if strings.TrimSpace(m.StepUpID) == "" {
		return commandValidationError("step_up_id", "step-up id is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type Settlement string

const (
	SettlementComplete Settlement = "complete"
	SettlementFail     Settlement = "fail"
	SettlementRefund   Settlement = "refund"
)

// SettleTransactionMessage records the downstream outcome of a transaction.
type SettleTransactionMessage struct {
	TransactionID string
	Outcome       Settlement
}

func (SettleTransactionMessage) Type() string { return TypeSettleTransaction }

func (m SettleTransactionMessage) Validate() error {
	if strings.TrimSpace(m.TransactionID) == "" {
		return commandValidationError("transaction_id", "transaction id is required")
	}
	switch m.Outcome {
	case SettlementComplete, SettlementFail, SettlementRefund:
		return nil
	default:
		return commandValidationError("outcome", "outcome must be complete, fail or refund")
	}
}

type RegisterWebhookMessage struct {
	Request core.RegisterWebhookRequest
}

func (RegisterWebhookMessage) Type() string { return TypeRegisterWebhook }

func (m RegisterWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.MerchantID) == "" {
		return commandValidationError("merchant_id", "merchant id is required")
	}
	if strings.TrimSpace(m.Request.URL) == "" {
		return commandValidationError("url", "webhook url is required")
	}
	return nil
}

type RegisterOAuthClientMessage struct {
	Client core.OAuthClient
}

func (RegisterOAuthClientMessage) Type() string { return TypeRegisterOAuthClient }

func (m RegisterOAuthClientMessage) Validate() error {
	if strings.TrimSpace(m.Client.ClientID) == "" {
		return commandValidationError("client_id", "client id is required")
	}
	if len(m.Client.RedirectURIs) == 0 {
		return commandValidationError("redirect_uris", "at least one redirect uri is required")
	}
	return nil
}
