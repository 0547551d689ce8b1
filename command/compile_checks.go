package command

import (
	"github.com/goliatone/go-agentpay/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[CreateAgentMessage]            = (*CreateAgentCommand)(nil)
	_ gocmd.Commander[UpdateAgentLimitsMessage]      = (*UpdateAgentLimitsCommand)(nil)
	_ gocmd.Commander[UpdateAgentPermissionsMessage] = (*UpdateAgentPermissionsCommand)(nil)
	_ gocmd.Commander[SuspendAgentMessage]           = (*SuspendAgentCommand)(nil)
	_ gocmd.Commander[ReactivateAgentMessage]        = (*ReactivateAgentCommand)(nil)
	_ gocmd.Commander[RevokeAgentMessage]            = (*RevokeAgentCommand)(nil)
	_ gocmd.Commander[RotateAgentSecretMessage]      = (*RotateAgentSecretCommand)(nil)
	_ gocmd.Commander[RequestPurchaseMessage]        = (*RequestPurchaseCommand)(nil)
	_ gocmd.Commander[ApproveStepUpMessage]          = (*ApproveStepUpCommand)(nil)
	_ gocmd.Commander[RejectStepUpMessage]           = (*RejectStepUpCommand)(nil)
	_ gocmd.Commander[SettleTransactionMessage]      = (*SettleTransactionCommand)(nil)
	_ gocmd.Commander[RegisterWebhookMessage]        = (*RegisterWebhookCommand)(nil)
	_ gocmd.Commander[RegisterOAuthClientMessage]    = (*RegisterOAuthClientCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
