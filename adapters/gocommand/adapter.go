package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	agentcommand "github.com/goliatone/go-agentpay/command"
	agentquery "github.com/goliatone/go-agentpay/query"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Services are the handlers the bus routes to. *core.Service satisfies every
// field except History, which is served by the SQL transaction history.
type Services struct {
	Mutations    agentcommand.MutatingService
	Agents       agentquery.AgentReader
	StepUps      agentquery.StepUpReader
	DeliveryLogs agentquery.DeliveryLogReader
	Tokens       agentquery.TokenIntrospector
	History      agentquery.TransactionHistoryReader
}

// Bus registers every agentpay command and query with a go-command registry
// and the process dispatcher.
type Bus struct {
	registry      *command.Registry
	subscriptions []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can also run from a queue.
func (b *Bus) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

// Mount subscribes handlers for every configured service and initializes
// the registry. A failure unsubscribes whatever was already mounted.
func (b *Bus) Mount(services Services, runnerOpts ...runner.Option) (err error) {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if svc := services.Mutations; svc != nil {
		if err := errors.Join(
			mountCommand(b, agentcommand.NewCreateAgentCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewUpdateAgentLimitsCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewUpdateAgentPermissionsCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewSuspendAgentCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewReactivateAgentCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewRevokeAgentCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewRotateAgentSecretCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewRequestPurchaseCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewApproveStepUpCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewRejectStepUpCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewSettleTransactionCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewRegisterWebhookCommand(svc), runnerOpts...),
			mountCommand(b, agentcommand.NewRegisterOAuthClientCommand(svc), runnerOpts...),
		); err != nil {
			return err
		}
	}
	if services.Agents != nil {
		if err := errors.Join(
			mountQuery(b, agentquery.NewGetAgentQuery(services.Agents), runnerOpts...),
			mountQuery(b, agentquery.NewGetSpendingUsageQuery(services.Agents), runnerOpts...),
		); err != nil {
			return err
		}
	}
	if services.StepUps != nil {
		if err := mountQuery(b, agentquery.NewGetStepUpQuery(services.StepUps), runnerOpts...); err != nil {
			return err
		}
	}
	if services.DeliveryLogs != nil {
		if err := mountQuery(b, agentquery.NewListDeliveryLogsQuery(services.DeliveryLogs), runnerOpts...); err != nil {
			return err
		}
	}
	if services.Tokens != nil {
		if err := mountQuery(b, agentquery.NewIntrospectTokenQuery(services.Tokens), runnerOpts...); err != nil {
			return err
		}
	}
	if services.History != nil {
		if err := mountQuery(b, agentquery.NewListTransactionsQuery(services.History), runnerOpts...); err != nil {
			return err
		}
	}
	return b.registry.Initialize()
}

// Close removes every subscription this bus created.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func mountCommand[T any](b *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	b.subscriptions = append(b.subscriptions, subscription)
	return nil
}

func mountQuery[T any, R any](b *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	b.subscriptions = append(b.subscriptions, subscription)
	return nil
}

// Dispatch validates msg and runs its command, returning the stored result.
func Dispatch[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	result, _ := collector.Load()
	return result, nil
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}
