package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type AgentStore interface {
	Create(ctx context.Context, agent Agent) (Agent, error)
	Get(ctx context.Context, id string) (Agent, error)
	GetByClientID(ctx context.Context, clientID string) (Agent, error)
	// Update persists the mutable agent fields when the stored status still
	// equals expected; otherwise it returns ErrStaleTransition.
	Update(ctx context.Context, agent Agent, expected AgentStatus) (Agent, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type TokenStore interface {
	Save(ctx context.Context, record AccessTokenRecord) error
	Get(ctx context.Context, tokenHash string) (AccessTokenRecord, error)
	// Revoke sets revoked_at only when it is still unset.
	Revoke(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	RevokeAllForAgent(ctx context.Context, agentID string, at time.Time) (int, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	UpdateStatus(ctx context.Context, id string, expected TransactionStatus, next TransactionStatus, at time.Time) error
	SumCompleted(ctx context.Context, agentID string, currency string, since time.Time) (int64, error)
}

type StepUpStore interface {
	Create(ctx context.Context, req StepUpRequest) (StepUpRequest, error)
	Get(ctx context.Context, id string) (StepUpRequest, error)
	Update(ctx context.Context, req StepUpRequest, expected StepUpStatus) error
	// RejectPendingForAgent closes every pending request of the agent and
	// reports how many changed.
	RejectPendingForAgent(ctx context.Context, agentID string, reason string, at time.Time) (int, error)
}

type GrantStore interface {
	Create(ctx context.Context, grant AuthorizationGrant) (AuthorizationGrant, error)
	Get(ctx context.Context, id string) (AuthorizationGrant, error)
	GetByUserCode(ctx context.Context, userCode string) (AuthorizationGrant, error)
	GetByCodeHash(ctx context.Context, codeHash string) (AuthorizationGrant, error)
	Update(ctx context.Context, grant AuthorizationGrant, expected GrantStatus) error
}

type OAuthClientStore interface {
	Upsert(ctx context.Context, client OAuthClient) (OAuthClient, error)
	Get(ctx context.Context, clientID string) (OAuthClient, error)
}

type WebhookSubscriptionStore interface {
	Upsert(ctx context.Context, sub WebhookSubscription) (WebhookSubscription, error)
	GetByMerchant(ctx context.Context, merchantID string) (WebhookSubscription, error)
	ListEnabled(ctx context.Context, eventType string) ([]WebhookSubscription, error)
}

type DeliveryLogFilter struct {
	WebhookID string
	EventType string
	Limit     int
	Offset    int
}

type DeliveryLogPage struct {
	Items []DeliveryLog
	Total int
}

type DeliveryLogStore interface {
	Append(ctx context.Context, log DeliveryLog) error
	List(ctx context.Context, filter DeliveryLogFilter) (DeliveryLogPage, error)
}

type NotificationDispatchRecord struct {
	IdempotencyKey string
	UserID         string
	Type           string
	Status         string
	Error          string
	Metadata       map[string]any
}

type NotificationDispatchLedger interface {
	Seen(ctx context.Context, idempotencyKey string) (bool, error)
	Record(ctx context.Context, record NotificationDispatchRecord) error
}

// TxStores exposes stores bound to a single store transaction.
type TxStores interface {
	Agents() AgentStore
	Tokens() TokenStore
	Grants() GrantStore
	Transactions() TransactionStore
	StepUps() StepUpStore
}

type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}

type StoreProvider interface {
	TxStores
	OAuthClients() OAuthClientStore
	WebhookSubscriptions() WebhookSubscriptionStore
	DeliveryLogs() DeliveryLogStore
	NotificationDispatches() NotificationDispatchLedger
	UnitOfWork() UnitOfWork
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type NotificationRequest struct {
	UserID         string
	Type           string
	Payload        map[string]any
	IdempotencyKey string
}

type NotificationResult struct {
	Delivered bool
	Replayed  bool
	MessageID string
}

// NotificationSender is the push transport owned by the host application.
type NotificationSender interface {
	Notify(ctx context.Context, req NotificationRequest) (NotificationResult, error)
}

type MintRequest struct {
	PaymentMethodID string
	MerchantID      string
	Amount          int64
	Currency        string
	IdempotencyKey  string
}

type MintedCredential struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// CardTokenProvider mints single-use downstream payment credentials.
type CardTokenProvider interface {
	Mint(ctx context.Context, req MintRequest) (MintedCredential, error)
}

type BiometricAssertion struct {
	OwnerID   string
	Challenge string
	Payload   []byte
}

type BiometricResult struct {
	Verified bool
	Counter  uint32
}

type BiometricVerifier interface {
	Verify(ctx context.Context, assertion BiometricAssertion) (BiometricResult, error)
}

type DispatchReport struct {
	EventID   string
	EventType string
	Attempted int
	Delivered int
	Failed    int
}

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, event LifecycleEvent) (DispatchReport, error)
}

// EventEmitter hands lifecycle events off the request path.
type EventEmitter interface {
	Emit(ctx context.Context, event LifecycleEvent) error
}
