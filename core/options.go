package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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
	stores            StoreProvider
	tokenCodec        TokenCodec
	vault             *CredentialVault
	notifier          NotificationSender
	cardTokens        CardTokenProvider
	biometrics        BiometricVerifier
	emitter           EventEmitter
	dispatcher        WebhookDispatcher
	taskRunner        *BoundedTaskRunner
	challenges        *ChallengeCache
	clock             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

// WithSecretProvider encrypts webhook signing secrets at rest.
func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRefreshBackoffScheduler(scheduler RefreshBackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.refreshScheduler = scheduler
	}
}

func WithStores(stores StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.stores = stores
	}
}

func WithTokenCodec(codec TokenCodec) Option {
	return func(b *serviceBuilder) {
		b.tokenCodec = codec
	}
}

func WithCredentialVault(vault *CredentialVault) Option {
	return func(b *serviceBuilder) {
		b.vault = vault
	}
}

func WithNotificationSender(sender NotificationSender) Option {
	return func(b *serviceBuilder) {
		b.notifier = sender
	}
}

func WithCardTokenProvider(provider CardTokenProvider) Option {
	return func(b *serviceBuilder) {
		b.cardTokens = provider
	}
}

func WithBiometricVerifier(verifier BiometricVerifier) Option {
	return func(b *serviceBuilder) {
		b.biometrics = verifier
	}
}

// WithEventEmitter overrides how lifecycle events leave the service. When
// unset and a dispatcher is configured, events are dispatched through the
// bounded task runner.
func WithEventEmitter(emitter EventEmitter) Option {
	return func(b *serviceBuilder) {
		b.emitter = emitter
	}
}

func WithWebhookDispatcher(dispatcher WebhookDispatcher) Option {
	return func(b *serviceBuilder) {
		b.dispatcher = dispatcher
	}
}

func WithTaskRunner(runner *BoundedTaskRunner) Option {
	return func(b *serviceBuilder) {
		b.taskRunner = runner
	}
}

func WithChallengeCache(cache *ChallengeCache) Option {
	return func(b *serviceBuilder) {
		b.challenges = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve(defaultServiceName, nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticRawConfigLoader serves an already decoded configuration map,
// typically the contents of the daemon's TOML file.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap drops zero values from non-default layers so a partially
// populated runtime Config only overrides what it sets.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	putDuration := func(target map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	putInt := func(target map[string]any, key string, value int) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	section := func(key string, fill func(map[string]any)) {
		values := map[string]any{}
		fill(values)
		if len(values) > 0 {
			layer[key] = values
		}
	}

	putString(layer, "service_name", cfg.ServiceName)
	putString(layer, "issuer", cfg.Issuer)
	putString(layer, "operational_timezone", cfg.OperationalTimezone)
	putInt(layer, "secret_hash_cost", cfg.SecretHashCost)
	section("token", func(m map[string]any) {
		putDuration(m, "ttl", cfg.Token.TTL)
		putDuration(m, "legacy_window", cfg.Token.LegacyWindow)
	})
	section("device", func(m map[string]any) {
		putDuration(m, "ttl", cfg.Device.TTL)
		putDuration(m, "interval", cfg.Device.Interval)
		putString(m, "user_code_prefix", cfg.Device.UserCodePrefix)
		putString(m, "verification_uri", cfg.Device.VerificationURI)
	})
	section("authorization", func(m map[string]any) {
		putDuration(m, "ttl", cfg.Authorization.TTL)
	})
	section("step_up", func(m map[string]any) {
		putDuration(m, "ttl", cfg.StepUp.TTL)
		putDuration(m, "challenge_ttl", cfg.StepUp.ChallengeTTL)
	})
	section("webhook", func(m map[string]any) {
		putDuration(m, "timeout", cfg.Webhook.Timeout)
	})
	section("refresh", func(m map[string]any) {
		putInt(m, "max_attempts", cfg.Refresh.MaxAttempts)
		putDuration(m, "initial_backoff", cfg.Refresh.InitialBackoff)
		putDuration(m, "max_backoff", cfg.Refresh.MaxBackoff)
	})
	return layer
}
