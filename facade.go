package agentpay

import (
	"fmt"
	"reflect"

	agentcommand "github.com/goliatone/go-agentpay/command"
	"github.com/goliatone/go-agentpay/core"
	agentquery "github.com/goliatone/go-agentpay/query"
)

type CommandQueryService interface {
	agentcommand.MutatingService
	agentquery.AgentReader
	agentquery.StepUpReader
	agentquery.DeliveryLogReader
	agentquery.TokenIntrospector
}

type Commands struct {
	CreateAgent            *agentcommand.CreateAgentCommand
	UpdateAgentLimits      *agentcommand.UpdateAgentLimitsCommand
	UpdateAgentPermissions *agentcommand.UpdateAgentPermissionsCommand
	SuspendAgent           *agentcommand.SuspendAgentCommand
	ReactivateAgent        *agentcommand.ReactivateAgentCommand
	RevokeAgent            *agentcommand.RevokeAgentCommand
	RotateAgentSecret      *agentcommand.RotateAgentSecretCommand
	RequestPurchase        *agentcommand.RequestPurchaseCommand
	ApproveStepUp          *agentcommand.ApproveStepUpCommand
	RejectStepUp           *agentcommand.RejectStepUpCommand
	SettleTransaction      *agentcommand.SettleTransactionCommand
	RegisterWebhook        *agentcommand.RegisterWebhookCommand
	RegisterOAuthClient    *agentcommand.RegisterOAuthClientCommand
}

type Queries struct {
	GetAgent         *agentquery.GetAgentQuery
	GetSpendingUsage *agentquery.GetSpendingUsageQuery
	ListTransactions *agentquery.ListTransactionsQuery
	GetStepUp        *agentquery.GetStepUpQuery
	ListDeliveryLogs *agentquery.ListDeliveryLogsQuery
	IntrospectToken  *agentquery.IntrospectTokenQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	history agentquery.TransactionHistoryReader
}

func WithTransactionHistory(reader agentquery.TransactionHistoryReader) FacadeOption {
	return func(options *facadeOptions) {
		options.history = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("agentpay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	history := cfg.history
	if history == nil {
		history = resolveTransactionHistory(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateAgent:            agentcommand.NewCreateAgentCommand(service),
		UpdateAgentLimits:      agentcommand.NewUpdateAgentLimitsCommand(service),
		UpdateAgentPermissions: agentcommand.NewUpdateAgentPermissionsCommand(service),
		SuspendAgent:           agentcommand.NewSuspendAgentCommand(service),
		ReactivateAgent:        agentcommand.NewReactivateAgentCommand(service),
		RevokeAgent:            agentcommand.NewRevokeAgentCommand(service),
		RotateAgentSecret:      agentcommand.NewRotateAgentSecretCommand(service),
		RequestPurchase:        agentcommand.NewRequestPurchaseCommand(service),
		ApproveStepUp:          agentcommand.NewApproveStepUpCommand(service),
		RejectStepUp:           agentcommand.NewRejectStepUpCommand(service),
		SettleTransaction:      agentcommand.NewSettleTransactionCommand(service),
		RegisterWebhook:        agentcommand.NewRegisterWebhookCommand(service),
		RegisterOAuthClient:    agentcommand.NewRegisterOAuthClientCommand(service),
	}
	facade.queries = Queries{
		GetAgent:         agentquery.NewGetAgentQuery(service),
		GetSpendingUsage: agentquery.NewGetSpendingUsageQuery(service),
		ListTransactions: agentquery.NewListTransactionsQuery(history),
		GetStepUp:        agentquery.NewGetStepUpQuery(service),
		ListDeliveryLogs: agentquery.NewListDeliveryLogsQuery(service),
		IntrospectToken:  agentquery.NewIntrospectTokenQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveTransactionHistory finds a TransactionHistory accessor on the
// configured repository factory without importing the SQL store.
func resolveTransactionHistory(service CommandQueryService) agentquery.TransactionHistoryReader {
	if service == nil {
		return nil
	}
	if reader, ok := service.(agentquery.TransactionHistoryReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	deps := provider.Dependencies()
	if deps.RepositoryFactory == nil {
		return nil
	}

	factoryValue := reflect.ValueOf(deps.RepositoryFactory)
	if !factoryValue.IsValid() {
		return nil
	}
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return nil
	}
	method := factoryValue.MethodByName("TransactionHistory")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok || len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	reader, ok := candidate.Interface().(agentquery.TransactionHistoryReader)
	if !ok {
		return nil
	}
	return reader
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
