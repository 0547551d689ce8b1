package sqlstore

import (
	"time"

	"github.com/goliatone/go-agentpay/core"
	"github.com/uptrace/bun"
)

type agentRecord struct {
	bun.BaseModel `bun:"table:agentpay_agents,alias:ag"`

	ID                  string     `bun:"id,pk"`
	OwnerID             string     `bun:"owner_id,notnull"`
	ClientID            string     `bun:"client_id,notnull,unique"`
	ClientSecretHash    string     `bun:"client_secret_hash,notnull"`
	Name                string     `bun:"name,notnull"`
	Permissions         []string   `bun:"permissions,type:jsonb,notnull"`
	PerTransactionLimit int64      `bun:"per_transaction_limit,notnull"`
	DailyLimit          int64      `bun:"daily_limit,notnull"`
	MonthlyLimit        int64      `bun:"monthly_limit,notnull"`
	Currency            string     `bun:"currency,notnull"`
	Status              string     `bun:"status,notnull"`
	LastUsedAt          *time.Time `bun:"last_used_at,nullzero"`
	SecretRotatedAt     *time.Time `bun:"secret_rotated_at,nullzero"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type accessTokenRecord struct {
	bun.BaseModel `bun:"table:agentpay_access_tokens,alias:at"`

	TokenHash string     `bun:"token_hash,pk"`
	AgentID   string     `bun:"agent_id,notnull"`
	Scope     string     `bun:"scope,notnull"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	RevokedAt *time.Time `bun:"revoked_at,nullzero"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type transactionRecord struct {
	bun.BaseModel `bun:"table:agentpay_transactions,alias:trx"`

	ID                 string    `bun:"id,pk"`
	AgentID            string    `bun:"agent_id,notnull"`
	Amount             int64     `bun:"amount,notnull"`
	Currency           string    `bun:"currency,notnull"`
	MerchantID         string    `bun:"merchant_id,notnull"`
	Status             string    `bun:"status,notnull"`
	ApprovalType       string    `bun:"approval_type,notnull"`
	StepUpRequestID    *string   `bun:"step_up_request_id"`
	CredentialID       string    `bun:"credential_id,notnull"`
	DailyPeriodStart   time.Time `bun:"daily_period_start,notnull"`
	MonthlyPeriodStart time.Time `bun:"monthly_period_start,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type stepUpRecord struct {
	bun.BaseModel `bun:"table:agentpay_step_up_requests,alias:su"`

	ID                       string     `bun:"id,pk"`
	AgentID                  string     `bun:"agent_id,notnull"`
	OwnerID                  string     `bun:"owner_id,notnull"`
	Amount                   int64      `bun:"amount,notnull"`
	Currency                 string     `bun:"currency,notnull"`
	MerchantID               string     `bun:"merchant_id,notnull"`
	MerchantName             string     `bun:"merchant_name,notnull"`
	Reason                   string     `bun:"reason,notnull"`
	TriggerType              string     `bun:"trigger_type,notnull"`
	Status                   string     `bun:"status,notnull"`
	RequestedPaymentMethodID string     `bun:"requested_payment_method_id,notnull"`
	ApprovedPaymentMethodID  string     `bun:"approved_payment_method_id,notnull"`
	RejectionReason          string     `bun:"rejection_reason,notnull"`
	TransactionID            *string    `bun:"transaction_id"`
	ExpiresAt                time.Time  `bun:"expires_at,notnull"`
	DecidedAt                *time.Time `bun:"decided_at,nullzero"`
	CreatedAt                time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt                time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// grantRecord stores user_code and code_hash as NULL when empty so the
// unique indexes only cover live codes.
type grantRecord struct {
	bun.BaseModel `bun:"table:agentpay_authorization_grants,alias:gr"`

	ID                  string               `bun:"id,pk"`
	Flow                string               `bun:"flow,notnull"`
	ClientID            string               `bun:"client_id,notnull"`
	RedirectURI         string               `bun:"redirect_uri,notnull"`
	CodeChallenge       string               `bun:"code_challenge,notnull"`
	CodeChallengeMethod string               `bun:"code_challenge_method,notnull"`
	State               string               `bun:"state,notnull"`
	Scope               string               `bun:"scope,notnull"`
	Status              string               `bun:"status,notnull"`
	UserCode            *string              `bun:"user_code"`
	CodeHash            *string              `bun:"code_hash"`
	UserID              string               `bun:"user_id,notnull"`
	AgentID             string               `bun:"agent_id,notnull"`
	Limits              *core.SpendingLimits `bun:"limits,type:jsonb"`
	Currency            string               `bun:"currency,notnull"`
	ExpiresAt           time.Time            `bun:"expires_at,notnull"`
	TokenIssuedAt       *time.Time           `bun:"token_issued_at,nullzero"`
	CreatedAt           time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type oauthClientRecord struct {
	bun.BaseModel `bun:"table:agentpay_oauth_clients,alias:oc"`

	ClientID      string    `bun:"client_id,pk"`
	Name          string    `bun:"name,notnull"`
	RedirectURIs  []string  `bun:"redirect_uris,type:jsonb,notnull"`
	AllowedScopes []string  `bun:"allowed_scopes,type:jsonb,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookSubscriptionRecord struct {
	bun.BaseModel `bun:"table:agentpay_webhook_subscriptions,alias:ws"`

	ID         string    `bun:"id,pk"`
	MerchantID string    `bun:"merchant_id,notnull,unique"`
	URL        string    `bun:"url,notnull"`
	Secret     string    `bun:"secret,notnull"`
	Events     []string  `bun:"events,type:jsonb,notnull"`
	Enabled    bool      `bun:"enabled,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryLogRecord struct {
	bun.BaseModel `bun:"table:agentpay_webhook_delivery_logs,alias:wdl"`

	ID          string    `bun:"id,pk"`
	WebhookID   string    `bun:"webhook_id,notnull"`
	EventID     string    `bun:"event_id,notnull"`
	EventType   string    `bun:"event_type,notnull"`
	StatusCode  int       `bun:"status_code,notnull"`
	Error       string    `bun:"error,notnull"`
	DurationMs  int64     `bun:"duration_ms,notnull"`
	AttemptedAt time.Time `bun:"attempted_at,notnull"`
}

type notificationDispatchRecord struct {
	bun.BaseModel `bun:"table:agentpay_notification_dispatches,alias:nd"`

	ID          string         `bun:"id,pk"`
	Idempotency string         `bun:"idempotency_key,notnull,unique"`
	UserID      string         `bun:"user_id,notnull"`
	Type        string         `bun:"type,notnull"`
	Status      string         `bun:"status,notnull"`
	Error       string         `bun:"error,notnull"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
