package agentpay_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	agentpay "github.com/goliatone/go-agentpay"
	"github.com/goliatone/go-agentpay/core"
	agentpaymigrations "github.com/goliatone/go-agentpay/migrations"
	agentquery "github.com/goliatone/go-agentpay/query"
	"github.com/goliatone/go-agentpay/security"
	sqlstore "github.com/goliatone/go-agentpay/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"
)

type sqliteConfig struct {
	dsn string
}

func (sqliteConfig) GetDebug() bool                { return false }
func (sqliteConfig) GetDriver() string             { return "sqlite3" }
func (c sqliteConfig) GetServer() string           { return c.dsn }
func (sqliteConfig) GetPingTimeout() time.Duration { return time.Second }
func (sqliteConfig) GetOtelIdentifier() string     { return "go-agentpay-composition" }

type recordingCards struct {
	mu    sync.Mutex
	mints []core.MintRequest
}

func (c *recordingCards) Mint(_ context.Context, req core.MintRequest) (core.MintedCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mints = append(c.mints, req)
	return core.MintedCredential{
		Token:     fmt.Sprintf("tok_%d", len(c.mints)),
		TokenID:   fmt.Sprintf("ct_%d", len(c.mints)),
		ExpiresAt: time.Now().Add(10 * time.Minute).UTC(),
	}, nil
}

func TestDownstreamComposition_PurchaseThroughSQLStores(t *testing.T) {
	ctx := context.Background()
	client := newCompositionClient(t)

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	signing, err := security.GenerateSigningKey(nil)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	codec, err := security.NewJWTCodec(signing)
	if err != nil {
		t.Fatalf("new jwt codec: %v", err)
	}
	secrets, err := security.NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	cards := &recordingCards{}

	cfg := agentpay.DefaultConfig()
	cfg.SecretHashCost = bcrypt.MinCost
	svc, err := agentpay.NewService(cfg,
		agentpay.WithPersistenceClient(client),
		agentpay.WithRepositoryFactory(factory),
		agentpay.WithTokenCodec(codec),
		agentpay.WithSecretProvider(secrets),
		agentpay.WithCardTokenProvider(cards),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	creds, err := svc.CreateAgent(ctx, agentpay.CreateAgentRequest{
		OwnerID:     "owner_1",
		Name:        "grocery agent",
		Permissions: []string{"payments:purchase"},
		Limits:      core.SpendingLimits{PerTransaction: 5000, Daily: 10000, Monthly: 50000},
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	token, err := svc.ExchangeToken(ctx, agentpay.TokenRequest{
		GrantType:    core.GrantTypeClientCredentials,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scope:        "payments:purchase",
	})
	if err != nil {
		t.Fatalf("exchange token: %v", err)
	}
	agent, claims, err := svc.AuthenticateAgent(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("authenticate agent: %v", err)
	}
	if agent.ID != creds.Agent.ID || claims.Scope != "payments:purchase" {
		t.Fatalf("unexpected authenticated agent %+v claims %+v", agent, claims)
	}

	result, err := svc.RequestPurchase(ctx, agentpay.PurchaseRequest{
		AgentID:         agent.ID,
		Amount:          2500,
		Currency:        "USD",
		MerchantID:      "m_1",
		MerchantName:    "Corner Shop",
		PaymentMethodID: "pm_1",
	})
	if err != nil {
		t.Fatalf("request purchase: %v", err)
	}
	if result.Outcome != core.PurchaseApproved || result.Credential == nil {
		t.Fatalf("expected approved purchase, got %+v", result)
	}

	facade, err := agentpay.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	page, err := facade.Queries().ListTransactions.Query(ctx, agentquery.ListTransactionsMessage{AgentID: agent.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list transactions through facade: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Amount != 2500 {
		t.Fatalf("unexpected transaction page %+v", page)
	}

	if _, err := svc.CompleteTransaction(ctx, result.Transaction.ID); err != nil {
		t.Fatalf("complete transaction: %v", err)
	}
	usage, err := facade.Queries().GetSpendingUsage.Query(ctx, agentquery.GetSpendingUsageMessage{AgentID: agent.ID, OwnerID: "owner_1"})
	if err != nil {
		t.Fatalf("spending usage: %v", err)
	}
	if usage.Usage.Daily != 2500 {
		t.Fatalf("expected daily usage to include the completed purchase, got %+v", usage)
	}
}

func newCompositionClient(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:agentpay-composition-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(sqliteConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := agentpaymigrations.Apply(ctx, agentpaymigrations.DialectSQLite, func(_ context.Context, source agentpaymigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}); err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}
