package agentpay

import "github.com/goliatone/go-agentpay/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type (
	AgentStore               = core.AgentStore
	TokenStore               = core.TokenStore
	TransactionStore         = core.TransactionStore
	StepUpStore              = core.StepUpStore
	GrantStore               = core.GrantStore
	OAuthClientStore         = core.OAuthClientStore
	WebhookSubscriptionStore = core.WebhookSubscriptionStore
	DeliveryLogStore         = core.DeliveryLogStore
	StoreProvider            = core.StoreProvider
	SecretProvider           = core.SecretProvider
	NotificationSender       = core.NotificationSender
	CardTokenProvider        = core.CardTokenProvider
	BiometricVerifier        = core.BiometricVerifier
	WebhookDispatcher        = core.WebhookDispatcher
	EventEmitter             = core.EventEmitter
)

type (
	CreateAgentRequest     = core.CreateAgentRequest
	PurchaseRequest        = core.PurchaseRequest
	PurchaseResult         = core.PurchaseResult
	ApproveStepUpRequest   = core.ApproveStepUpRequest
	RegisterWebhookRequest = core.RegisterWebhookRequest
	TokenRequest           = core.TokenRequest
	TokenResponse          = core.TokenResponse
)

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithSecretProvider          = core.WithSecretProvider
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithStores                  = core.WithStores
	WithTokenCodec              = core.WithTokenCodec
	WithCredentialVault         = core.WithCredentialVault
	WithNotificationSender      = core.WithNotificationSender
	WithCardTokenProvider       = core.WithCardTokenProvider
	WithBiometricVerifier       = core.WithBiometricVerifier
	WithEventEmitter            = core.WithEventEmitter
	WithWebhookDispatcher       = core.WithWebhookDispatcher
	WithTaskRunner              = core.WithTaskRunner
	WithChallengeCache          = core.WithChallengeCache
	WithClock                   = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
