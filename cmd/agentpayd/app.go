package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	gocommandadapter "github.com/goliatone/go-agentpay/adapters/gocommand"
	gologgeradapter "github.com/goliatone/go-agentpay/adapters/gologger"
	"github.com/goliatone/go-agentpay/auth"
	agentcommand "github.com/goliatone/go-agentpay/command"
	"github.com/goliatone/go-agentpay/core"
	agentpaymigrations "github.com/goliatone/go-agentpay/migrations"
	"github.com/goliatone/go-agentpay/providers/attestation"
	"github.com/goliatone/go-agentpay/providers/cardnetwork"
	"github.com/goliatone/go-agentpay/providers/push"
	"github.com/goliatone/go-agentpay/ratelimit"
	"github.com/goliatone/go-agentpay/security"
	"github.com/goliatone/go-agentpay/server"
	sqlstore "github.com/goliatone/go-agentpay/store/sql"
	"github.com/goliatone/go-agentpay/webhooks"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"golang.org/x/time/rate"
)

// app owns every long lived collaborator of the daemon.
type app struct {
	cfg        daemonConfig
	components *gologgeradapter.Components
	logger     glog.Logger

	client  *persistence.Client
	factory *sqlstore.RepositoryFactory
	service *core.Service
	bus     *gocommandadapter.Bus
	handler http.Handler
}

func newApp(ctx context.Context, file fileConfig, components *gologgeradapter.Components) (_ *app, err error) {
	a := &app{
		cfg:        file.Daemon,
		components: components,
		logger:     components.Root(),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.client, err = openDatabase(ctx, a.cfg.Database); err != nil {
		return nil, err
	}

	var factoryOpts []sqlstore.FactoryOption
	if a.cfg.AgentCache.Enabled {
		cacheConfig := repositorycache.DefaultConfig()
		if a.cfg.AgentCache.TTL > 0 {
			cacheConfig.TTL = a.cfg.AgentCache.TTL
		}
		cacheService, cacheErr := repositorycache.NewCacheService(cacheConfig)
		if cacheErr != nil {
			return nil, fmt.Errorf("agentpayd: agent cache: %w", cacheErr)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithAgentCache(cacheService))
	}
	if a.factory, err = sqlstore.NewRepositoryFactoryFromPersistence(a.client, factoryOpts...); err != nil {
		return nil, fmt.Errorf("agentpayd: repository factory: %w", err)
	}

	appKey, err := security.NewAppKeySecretProviderFromString(a.cfg.Keys.AppKey, security.WithKeyID(a.cfg.Keys.AppKeyID))
	if err != nil {
		return nil, fmt.Errorf("agentpayd: app key: %w", err)
	}
	secrets, err := security.NewKeyringSecretProvider(appKey)
	if err != nil {
		return nil, fmt.Errorf("agentpayd: keyring: %w", err)
	}

	serviceCfg := core.DefaultConfig()
	configProvider := core.NewCfgxConfigProvider(core.NewStaticRawConfigLoader(file.Service))
	loaded, err := configProvider.Load(ctx, serviceCfg)
	if err != nil {
		return nil, fmt.Errorf("agentpayd: service config: %w", err)
	}

	signing, err := loadSigningKey(a.cfg.Keys.SigningKeyFile, a.logger)
	if err != nil {
		return nil, err
	}
	codecOpts := []security.CodecOption{security.WithIssuer(loaded.Issuer)}
	if legacy := strings.TrimSpace(a.cfg.Keys.LegacyHS256Secret); legacy != "" && loaded.Token.LegacyWindow > 0 {
		codecOpts = append(codecOpts, security.WithLegacyHS256([]byte(legacy), security.WindowFrom(time.Now(), loaded.Token.LegacyWindow)))
	}
	codec, err := security.NewJWTCodec(signing, codecOpts...)
	if err != nil {
		return nil, fmt.Errorf("agentpayd: token codec: %w", err)
	}

	dispatcher := webhookDispatcher(a.factory, secrets, loaded, a.cfg.Webhooks, components.For(gologgeradapter.ComponentWebhooks))

	cards, err := cardnetwork.New(a.cfg.CardNetwork.Config,
		&cardnetwork.FileCredentialStore{Path: a.cfg.CardNetwork.CredentialFile, Secrets: secrets},
		cardnetwork.WithLogger(components.For(gologgeradapter.ComponentCardNetwork)),
	)
	if err != nil {
		return nil, fmt.Errorf("agentpayd: card network: %w", err)
	}

	opts := []core.Option{
		core.WithLoggerProvider(components.Provider()),
		core.WithConfigProvider(configProvider),
		core.WithPersistenceClient(a.client),
		core.WithRepositoryFactory(a.factory),
		core.WithSecretProvider(secrets),
		core.WithTokenCodec(codec),
		core.WithCardTokenProvider(cards),
		core.WithWebhookDispatcher(dispatcher),
	}
	if strings.TrimSpace(a.cfg.Attestation.BaseURL) != "" {
		verifier, verifierErr := attestation.New(a.cfg.Attestation, nil)
		if verifierErr != nil {
			return nil, fmt.Errorf("agentpayd: attestation: %w", verifierErr)
		}
		opts = append(opts, core.WithBiometricVerifier(verifier))
	}
	if strings.TrimSpace(a.cfg.Push.BaseURL) != "" {
		sender, senderErr := push.New(a.cfg.Push, nil, components.For(gologgeradapter.ComponentService))
		if senderErr != nil {
			return nil, fmt.Errorf("agentpayd: push: %w", senderErr)
		}
		opts = append(opts, core.WithNotificationSender(sender))
	}

	if a.service, err = core.NewService(serviceCfg, opts...); err != nil {
		return nil, fmt.Errorf("agentpayd: service: %w", err)
	}
	cards.BindRotationPersister(a.service)

	a.bus = gocommandadapter.NewBus(nil)
	if err = a.bus.AddQueueResolver("queue", jobqueuecommand.NewRegistry()); err != nil {
		return nil, fmt.Errorf("agentpayd: queue resolver: %w", err)
	}
	if err = a.bus.Mount(gocommandadapter.Services{
		Mutations:    a.service,
		Agents:       a.service,
		StepUps:      a.service,
		DeliveryLogs: a.service,
		Tokens:       a.service,
		History:      a.factory.TransactionHistory(),
	}); err != nil {
		return nil, fmt.Errorf("agentpayd: mount commands: %w", err)
	}
	if err = seedOAuthClients(ctx, a.cfg.OAuthClients); err != nil {
		return nil, err
	}

	resources, err := auth.NewResourceServerRegistry(core.NewCredentialVault(loaded.SecretHashCost), a.cfg.ResourceServers...)
	if err != nil {
		return nil, fmt.Errorf("agentpayd: resource servers: %w", err)
	}
	srv, err := server.New(server.Config{
		Backend:         a.service,
		ResourceServers: resources,
		Owners:          ownerResolver(a.cfg.OwnerAuth),
		Keys:            codec,
		TokenLimiter:    perMinuteLimiter("token", a.cfg.RateLimit.TokenPerMinute, a.cfg.RateLimit.TokenBurst),
		DeviceLimiter:   perMinuteLimiter("device", a.cfg.RateLimit.DevicePerMinute, a.cfg.RateLimit.DeviceBurst),
		Logger:          components.For(gologgeradapter.ComponentServer),
	})
	if err != nil {
		return nil, fmt.Errorf("agentpayd: server: %w", err)
	}
	a.handler = srv
	return a, nil
}

// close drains background work before releasing the database.
func (a *app) close() {
	if a == nil {
		return
	}
	if a.service != nil {
		a.service.Wait()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err.Error())
		}
	}
}

func (c databaseConfig) GetDebug() bool              { return c.Debug }
func (c databaseConfig) GetDriver() string           { return c.Driver }
func (c databaseConfig) GetServer() string           { return c.DSN }
func (databaseConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (databaseConfig) GetOtelIdentifier() string     { return "agentpayd" }

func openDatabase(ctx context.Context, cfg databaseConfig) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	schemaDialect, err := agentpaymigrations.ForDriver(driver)
	if err != nil {
		return nil, err
	}
	var dialect schema.Dialect = sqlitedialect.New()
	if schemaDialect == agentpaymigrations.DialectPostgres {
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("agentpayd: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("agentpayd: persistence: %w", err)
	}
	if !cfg.AutoMigrate {
		return client, nil
	}

	if err := agentpaymigrations.Apply(ctx, schemaDialect, func(_ context.Context, source agentpaymigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("agentpayd: migrate: %w", err)
	}
	return client, nil
}

// loadSigningKey reads a PEM Ed25519 key. Without one an ephemeral key is
// generated, which invalidates every token on restart.
func loadSigningKey(path string, logger glog.Logger) (security.SigningKey, error) {
	if strings.TrimSpace(path) == "" {
		logger.Warn("no signing key configured, generating an ephemeral key")
		return security.GenerateSigningKey(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return security.SigningKey{}, fmt.Errorf("agentpayd: read signing key: %w", err)
	}
	key, err := security.ParseSigningKeyPEM(data)
	if err != nil {
		return security.SigningKey{}, fmt.Errorf("agentpayd: parse signing key: %w", err)
	}
	return key, nil
}

func webhookDispatcher(factory *sqlstore.RepositoryFactory, secrets core.SecretProvider, cfg core.Config, hooks webhooksConfig, logger glog.Logger) core.WebhookDispatcher {
	dispatcher := webhooks.NewDispatcher(factory.WebhookSubscriptions(), factory.DeliveryLogs(), secrets)
	dispatcher.Logger = logger
	if cfg.Webhook.Timeout > 0 {
		dispatcher.Timeout = cfg.Webhook.Timeout
	}
	if hooks.Concurrency > 0 {
		dispatcher.Concurrency = hooks.Concurrency
	}
	return dispatcher
}

func ownerResolver(cfg ownerAuthConfig) auth.OwnerResolver {
	if strings.EqualFold(strings.TrimSpace(cfg.Mode), "hmac") {
		return auth.HMACOwnerResolver{Secret: cfg.Secret, OwnerHeader: cfg.Header}
	}
	return auth.HeaderOwnerResolver{Header: cfg.Header}
}

func perMinuteLimiter(bucket string, perMinute int, burst int) *ratelimit.KeyedLimiter {
	if perMinute <= 0 {
		return nil
	}
	return ratelimit.NewKeyedLimiter(ratelimit.Options{
		Bucket: bucket,
		Rate:   rate.Every(time.Minute / time.Duration(perMinute)),
		Burst:  burst,
	})
}

func seedOAuthClients(ctx context.Context, clients []oauthClientConfig) error {
	for _, client := range clients {
		_, err := gocommandadapter.Dispatch[agentcommand.RegisterOAuthClientMessage, core.OAuthClient](ctx, agentcommand.RegisterOAuthClientMessage{
			Client: core.OAuthClient{
				ClientID:      client.ClientID,
				Name:          client.Name,
				RedirectURIs:  client.RedirectURIs,
				AllowedScopes: client.AllowedScopes,
			},
		})
		if err != nil {
			return fmt.Errorf("agentpayd: seed oauth client %q: %w", client.ClientID, err)
		}
	}
	return nil
}
