package sqlstore

import (
	"context"
	"fmt"

	"github.com/goliatone/go-agentpay/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithAgentCache puts agent reads behind a go-repository-cache service.
func WithAgentCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

// RepositoryFactory builds every store over one bun database and doubles as
// the core.UnitOfWork.
type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	agents       core.AgentStore
	cachedAgents *CachedAgentStore
	tokens       *TokenStore
	transactions *TransactionStore
	history      *TransactionHistory
	stepUps      *StepUpStore
	grants       *GrantStore
	clients      *OAuthClientStore
	webhooks     *WebhookSubscriptionStore
	deliveryLogs *DeliveryLogStore
	dispatches   *NotificationDispatchStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.agents != nil && f.tokens != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) initStores() error {
	f.agents = NewAgentStore(f.db)
	if f.cache != nil {
		cached, err := NewCachedAgentStore(f.agents, f.cache)
		if err != nil {
			return err
		}
		f.cachedAgents = cached
		f.agents = cached
	}
	f.tokens = NewTokenStore(f.db)
	f.transactions = NewTransactionStore(f.db)
	f.stepUps = NewStepUpStore(f.db)
	f.grants = NewGrantStore(f.db)

	historyRepo := repository.NewRepository[*transactionRecord](f.db, transactionHandlers())
	if validator, ok := historyRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid transaction repository wiring: %w", err)
		}
	}
	f.history = &TransactionHistory{repo: historyRepo}

	clients, err := NewOAuthClientStore(f.db)
	if err != nil {
		return err
	}
	f.clients = clients
	webhooks, err := NewWebhookSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	f.webhooks = webhooks
	deliveryLogs, err := NewDeliveryLogStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryLogs = deliveryLogs
	dispatches, err := NewNotificationDispatchStore(f.db)
	if err != nil {
		return err
	}
	f.dispatches = dispatches
	return nil
}

func (f *RepositoryFactory) Agents() core.AgentStore {
	if f == nil {
		return nil
	}
	return f.agents
}

func (f *RepositoryFactory) Tokens() core.TokenStore {
	if f == nil {
		return nil
	}
	return f.tokens
}

func (f *RepositoryFactory) Transactions() core.TransactionStore {
	if f == nil {
		return nil
	}
	return f.transactions
}

func (f *RepositoryFactory) TransactionHistory() *TransactionHistory {
	if f == nil {
		return nil
	}
	return f.history
}

func (f *RepositoryFactory) StepUps() core.StepUpStore {
	if f == nil {
		return nil
	}
	return f.stepUps
}

func (f *RepositoryFactory) Grants() core.GrantStore {
	if f == nil {
		return nil
	}
	return f.grants
}

func (f *RepositoryFactory) OAuthClients() core.OAuthClientStore {
	if f == nil {
		return nil
	}
	return f.clients
}

func (f *RepositoryFactory) WebhookSubscriptions() core.WebhookSubscriptionStore {
	if f == nil {
		return nil
	}
	return f.webhooks
}

func (f *RepositoryFactory) DeliveryLogs() core.DeliveryLogStore {
	if f == nil {
		return nil
	}
	return f.deliveryLogs
}

func (f *RepositoryFactory) NotificationDispatches() core.NotificationDispatchLedger {
	if f == nil {
		return nil
	}
	return f.dispatches
}

func (f *RepositoryFactory) UnitOfWork() core.UnitOfWork {
	return f
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// RunInTx binds agent, token, grant, transaction and step-up stores to one
// bun transaction. Cached agent entries written inside it are dropped after
// commit.
func (f *RepositoryFactory) RunInTx(ctx context.Context, fn func(ctx context.Context, stores core.TxStores) error) error {
	if f == nil || f.db == nil {
		return errNotConfigured("unit of work")
	}
	var touched map[string]string
	err := f.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		stores := newTxStores(tx)
		touched = stores.agents.touched
		return fn(ctx, stores)
	})
	if err != nil {
		return err
	}
	if f.cachedAgents != nil {
		for id, clientID := range touched {
			if clientID == "" {
				if agent, getErr := NewAgentStore(f.db).Get(ctx, id); getErr == nil {
					clientID = agent.ClientID
				}
			}
			if invalidateErr := f.cachedAgents.Invalidate(ctx, id, clientID); invalidateErr != nil {
				return invalidateErr
			}
		}
	}
	return nil
}

type txStores struct {
	agents       *trackingAgentStore
	tokens       *TokenStore
	grants       *GrantStore
	transactions *TransactionStore
	stepUps      *StepUpStore
}

func newTxStores(tx bun.Tx) *txStores {
	return &txStores{
		agents:       &trackingAgentStore{AgentStore: NewAgentStore(tx), touched: map[string]string{}},
		tokens:       NewTokenStore(tx),
		grants:       NewGrantStore(tx),
		transactions: NewTransactionStore(tx),
		stepUps:      NewStepUpStore(tx),
	}
}

func (s *txStores) Agents() core.AgentStore             { return s.agents }
func (s *txStores) Tokens() core.TokenStore             { return s.tokens }
func (s *txStores) Grants() core.GrantStore             { return s.grants }
func (s *txStores) Transactions() core.TransactionStore { return s.transactions }
func (s *txStores) StepUps() core.StepUpStore           { return s.stepUps }

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
