package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config            Config
	location          *time.Location
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	refreshScheduler  RefreshBackoffScheduler
	agents            AgentStore
	tokens            TokenStore
	transactions      TransactionStore
	stepUps           StepUpStore
	grants            GrantStore
	clients           OAuthClientStore
	webhooks          WebhookSubscriptionStore
	deliveryLogs      DeliveryLogStore
	unitOfWork        UnitOfWork
	tokenCodec        TokenCodec
	vault             *CredentialVault
	notifier          NotificationSender
	cardTokens        CardTokenProvider
	biometrics        BiometricVerifier
	emitter           EventEmitter
	taskRunner        *BoundedTaskRunner
	challenges        *ChallengeCache
	clock             func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	SecretProvider    SecretProvider
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	TokenCodec        TokenCodec
	Notifier          NotificationSender
	CardTokens        CardTokenProvider
	Biometrics        BiometricVerifier
	Emitter           EventEmitter
	TaskRunner        *BoundedTaskRunner
	Challenges        *ChallengeCache
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve(defaultServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(defaultServiceName); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	location, err := finalConfig.Location()
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.stores == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			builder.stores = stores
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.stores = stores
		}
	}

	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: finalConfig.Refresh.InitialBackoff,
			Max:     finalConfig.Refresh.MaxBackoff,
		}
	}
	if builder.vault == nil {
		builder.vault = NewCredentialVault(finalConfig.SecretHashCost)
	}
	if builder.challenges == nil {
		builder.challenges = NewChallengeCache(finalConfig.StepUp.ChallengeTTL)
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	svc := &Service{
		config:            finalConfig,
		location:          location,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		refreshScheduler:  builder.refreshScheduler,
		tokenCodec:        builder.tokenCodec,
		vault:             builder.vault,
		cardTokens:        builder.cardTokens,
		biometrics:        builder.biometrics,
		challenges:        builder.challenges,
		clock:             builder.clock,
	}
	if stores := builder.stores; stores != nil {
		svc.agents = stores.Agents()
		svc.tokens = stores.Tokens()
		svc.transactions = stores.Transactions()
		svc.stepUps = stores.StepUps()
		svc.grants = stores.Grants()
		svc.clients = stores.OAuthClients()
		svc.webhooks = stores.WebhookSubscriptions()
		svc.deliveryLogs = stores.DeliveryLogs()
		svc.unitOfWork = stores.UnitOfWork()
	}

	if builder.notifier != nil {
		var ledger NotificationDispatchLedger
		if builder.stores != nil {
			ledger = builder.stores.NotificationDispatches()
		}
		svc.notifier = NewIdempotentNotifier(builder.notifier, ledger)
	}

	svc.taskRunner = builder.taskRunner
	svc.emitter = builder.emitter
	if svc.emitter == nil && builder.dispatcher != nil {
		if svc.taskRunner == nil {
			svc.taskRunner = NewBoundedTaskRunner(defaultTaskRunnerConcurrency)
		}
		emitter, emitErr := NewDispatchEmitter(builder.dispatcher, svc.taskRunner)
		if emitErr != nil {
			return nil, mapBuildError(builder.errorMapper, emitErr)
		}
		svc.emitter = emitter
	}
	if svc.taskRunner != nil && svc.taskRunner.OnComplete == nil {
		svc.taskRunner.OnComplete = svc.observeTask
	}

	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		SecretProvider:    s.secretProvider,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		TokenCodec:        s.tokenCodec,
		Notifier:          s.notifier,
		CardTokens:        s.cardTokens,
		Biometrics:        s.biometrics,
		Emitter:           s.emitter,
		TaskRunner:        s.taskRunner,
		Challenges:        s.challenges,
	}
}

// Wait blocks until background event dispatch has drained.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.taskRunner.Wait()
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func errStoreUnavailable(name string) error {
	return goerrors.New(fmt.Sprintf("core: %s store is not configured", name), goerrors.CategoryInternal).
		WithTextCode(ErrorInternal)
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	if s.unitOfWork == nil {
		return s.mapError(errStoreUnavailable("unit of work"))
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

// ownedAgent treats an ownership mismatch exactly like a missing agent.
func (s *Service) ownedAgent(ctx context.Context, agentID string, ownerID string) (Agent, error) {
	if s.agents == nil {
		return Agent{}, s.mapError(errStoreUnavailable("agent"))
	}
	agentID = strings.TrimSpace(agentID)
	ownerID = strings.TrimSpace(ownerID)
	if agentID == "" {
		return Agent{}, s.mapError(newBadInputError("core: agent id is required", "agent_id"))
	}
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		if isNotFound(err) {
			return Agent{}, s.mapError(newNotFoundError("agent"))
		}
		return Agent{}, s.mapError(err)
	}
	if ownerID == "" || agent.OwnerID != ownerID {
		return Agent{}, s.mapError(newNotFoundError("agent"))
	}
	return agent, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRecordNotFound) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return false
}

func isStaleTransition(err error) bool {
	return errors.Is(err, ErrStaleTransition)
}
