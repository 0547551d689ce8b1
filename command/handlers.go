package command

import (
	"context"

	"github.com/goliatone/go-agentpay/core"
	gocmd "github.com/goliatone/go-command"
)

type AgentService interface {
	CreateAgent(ctx context.Context, req core.CreateAgentRequest) (core.AgentCredentials, error)
	UpdateAgentLimits(ctx context.Context, agentID string, ownerID string, limits core.SpendingLimits) (core.Agent, error)
	UpdateAgentPermissions(ctx context.Context, agentID string, ownerID string, permissions []string) (core.Agent, error)
	SuspendAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error)
	ReactivateAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error)
	RevokeAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error)
	RotateAgentSecret(ctx context.Context, agentID string, ownerID string) (core.AgentCredentials, error)
}

type PaymentService interface {
	RequestPurchase(ctx context.Context, req core.PurchaseRequest) (core.PurchaseResult, error)
	ApproveStepUp(ctx context.Context, req core.ApproveStepUpRequest) (core.StepUpApproval, error)
	RejectStepUp(ctx context.Context, stepUpID string, ownerID string, reason string) (core.StepUpRequest, error)
	CompleteTransaction(ctx context.Context, transactionID string) (core.Transaction, error)
	FailTransaction(ctx context.Context, transactionID string) (core.Transaction, error)
	RefundTransaction(ctx context.Context, transactionID string) (core.Transaction, error)
}

type RegistrationService interface {
	RegisterWebhook(ctx context.Context, req core.RegisterWebhookRequest) (core.WebhookSubscription, error)
	RegisterOAuthClient(ctx context.Context, client core.OAuthClient) (core.OAuthClient, error)
}

// MutatingService is the full write surface; *core.Service satisfies it.
type MutatingService interface {
	AgentService
	PaymentService
	RegistrationService
}

type CreateAgentCommand struct {
	service AgentService
}

func NewCreateAgentCommand(service AgentService) *CreateAgentCommand {
	return &CreateAgentCommand{service: service}
}

func (c *CreateAgentCommand) Execute(ctx context.Context, msg CreateAgentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.CreateAgent(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateAgentLimitsCommand struct {
	service AgentService
}

func NewUpdateAgentLimitsCommand(service AgentService) *UpdateAgentLimitsCommand {
	return &UpdateAgentLimitsCommand{service: service}
}

func (c *UpdateAgentLimitsCommand) Execute(ctx context.Context, msg UpdateAgentLimitsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.UpdateAgentLimits(ctx, msg.AgentID, msg.OwnerID, msg.Limits)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateAgentPermissionsCommand struct {
	service AgentService
}

func NewUpdateAgentPermissionsCommand(service AgentService) *UpdateAgentPermissionsCommand {
	return &UpdateAgentPermissionsCommand{service: service}
}

func (c *UpdateAgentPermissionsCommand) Execute(ctx context.Context, msg UpdateAgentPermissionsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.UpdateAgentPermissions(ctx, msg.AgentID, msg.OwnerID, msg.Permissions)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SuspendAgentCommand struct {
	service AgentService
}

func NewSuspendAgentCommand(service AgentService) *SuspendAgentCommand {
	return &SuspendAgentCommand{service: service}
}

func (c *SuspendAgentCommand) Execute(ctx context.Context, msg SuspendAgentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.SuspendAgent(ctx, msg.AgentID, msg.OwnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReactivateAgentCommand struct {
	service AgentService
}

func NewReactivateAgentCommand(service AgentService) *ReactivateAgentCommand {
	return &ReactivateAgentCommand{service: service}
}

func (c *ReactivateAgentCommand) Execute(ctx context.Context, msg ReactivateAgentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.ReactivateAgent(ctx, msg.AgentID, msg.OwnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeAgentCommand struct {
	service AgentService
}

func NewRevokeAgentCommand(service AgentService) *RevokeAgentCommand {
	return &RevokeAgentCommand{service: service}
}

func (c *RevokeAgentCommand) Execute(ctx context.Context, msg RevokeAgentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.RevokeAgent(ctx, msg.AgentID, msg.OwnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RotateAgentSecretCommand struct {
	service AgentService
}

func NewRotateAgentSecretCommand(service AgentService) *RotateAgentSecretCommand {
	return &RotateAgentSecretCommand{service: service}
}

func (c *RotateAgentSecretCommand) Execute(ctx context.Context, msg RotateAgentSecretMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.RotateAgentSecret(ctx, msg.AgentID, msg.OwnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RequestPurchaseCommand struct {
	service PaymentService
}

func NewRequestPurchaseCommand(service PaymentService) *RequestPurchaseCommand {
	return &RequestPurchaseCommand{service: service}
}

func (c *RequestPurchaseCommand) Execute(ctx context.Context, msg RequestPurchaseMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payment service is required")
	}
	out, err := c.service.RequestPurchase(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ApproveStepUpCommand struct {
	service PaymentService
}

func NewApproveStepUpCommand(service PaymentService) *ApproveStepUpCommand {
	return &ApproveStepUpCommand{service: service}
}

func (c *ApproveStepUpCommand) Execute(ctx context.Context, msg ApproveStepUpMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payment service is required")
	}
	out, err := c.service.ApproveStepUp(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RejectStepUpCommand struct {
	service PaymentService
}

func NewRejectStepUpCommand(service PaymentService) *RejectStepUpCommand {
	return &RejectStepUpCommand{service: service}
}

func (c *RejectStepUpCommand) Execute(ctx context.Context, msg RejectStepUpMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payment service is required")
	}
	out, err := c.service.RejectStepUp(ctx, msg.StepUpID, msg.OwnerID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SettleTransactionCommand struct {
	service PaymentService
}

func NewSettleTransactionCommand(service PaymentService) *SettleTransactionCommand {
	return &SettleTransactionCommand{service: service}
}

func (c *SettleTransactionCommand) Execute(ctx context.Context, msg SettleTransactionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payment service is required")
	}
	var (
		out core.Transaction
		err error
	)
	switch msg.Outcome {
	case SettlementComplete:
		out, err = c.service.CompleteTransaction(ctx, msg.TransactionID)
	case SettlementFail:
		out, err = c.service.FailTransaction(ctx, msg.TransactionID)
	case SettlementRefund:
		out, err = c.service.RefundTransaction(ctx, msg.TransactionID)
	default:
		return msg.Validate()
	}
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RegisterWebhookCommand struct {
	service RegistrationService
}

func NewRegisterWebhookCommand(service RegistrationService) *RegisterWebhookCommand {
	return &RegisterWebhookCommand{service: service}
}

func (c *RegisterWebhookCommand) Execute(ctx context.Context, msg RegisterWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: registration service is required")
	}
	out, err := c.service.RegisterWebhook(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RegisterOAuthClientCommand struct {
	service RegistrationService
}

func NewRegisterOAuthClientCommand(service RegistrationService) *RegisterOAuthClientCommand {
	return &RegisterOAuthClientCommand{service: service}
}

func (c *RegisterOAuthClientCommand) Execute(ctx context.Context, msg RegisterOAuthClientMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: registration service is required")
	}
	out, err := c.service.RegisterOAuthClient(ctx, msg.Client)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
