package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrRecordNotFound         = errors.New("core: record not found")
	ErrStaleTransition        = errors.New("core: record status changed concurrently")
	ErrDuplicate              = errors.New("core: record already exists")
	ErrInvalidSpendingLimits  = errors.New("core: invalid spending limits")
	ErrInvalidAgentTransition = errors.New("core: invalid agent status transition")
)

type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusSuspended AgentStatus = "suspended"
	AgentStatusRevoked   AgentStatus = "revoked"
)

// SpendingLimits are expressed in minor currency units.
type SpendingLimits struct {
	PerTransaction int64 `json:"per_transaction"`
	Daily          int64 `json:"daily"`
	Monthly        int64 `json:"monthly"`
}

// Validate enforces perTransaction <= daily <= monthly with non-negative values.
func (l SpendingLimits) Validate() error {
	if l.PerTransaction < 0 || l.Daily < 0 || l.Monthly < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidSpendingLimits)
	}
	if l.PerTransaction > l.Daily {
		return fmt.Errorf("%w: per-transaction limit %d exceeds daily limit %d", ErrInvalidSpendingLimits, l.PerTransaction, l.Daily)
	}
	if l.Daily > l.Monthly {
		return fmt.Errorf("%w: daily limit %d exceeds monthly limit %d", ErrInvalidSpendingLimits, l.Daily, l.Monthly)
	}
	return nil
}

type Agent struct {
	ID               string
	OwnerID          string
	ClientID         string
	ClientSecretHash string
	Name             string
	Permissions      []string
	Limits           SpendingLimits
	Currency         string
	Status           AgentStatus
	LastUsedAt       *time.Time
	SecretRotatedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a Agent) Active() bool {
	return a.Status == AgentStatusActive
}

// TransitionTo applies a status change. Revoked is terminal.
func (a *Agent) TransitionTo(status AgentStatus, now time.Time) error {
	if a == nil {
		return nil
	}
	if a.Status == status {
		return nil
	}
	if !agentTransitionAllowed(a.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidAgentTransition, a.Status, status)
	}
	a.Status = status
	a.UpdatedAt = now
	return nil
}

func agentTransitionAllowed(current, next AgentStatus) bool {
	allowed := map[AgentStatus]map[AgentStatus]struct{}{
		AgentStatusActive: {
			AgentStatusSuspended: {},
			AgentStatusRevoked:   {},
		},
		AgentStatusSuspended: {
			AgentStatusActive:  {},
			AgentStatusRevoked: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type AccessTokenRecord struct {
	TokenHash string
	AgentID   string
	Scope     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (r AccessTokenRecord) Revoked() bool {
	return r.RevokedAt != nil
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

type ApprovalType string

const (
	ApprovalTypeAuto   ApprovalType = "auto"
	ApprovalTypeStepUp ApprovalType = "step_up"
)

type Transaction struct {
	ID                 string
	AgentID            string
	Amount             int64
	Currency           string
	MerchantID         string
	Status             TransactionStatus
	ApprovalType       ApprovalType
	StepUpRequestID    string
	CredentialID       string
	DailyPeriodStart   time.Time
	MonthlyPeriodStart time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func transactionTransitionAllowed(current, next TransactionStatus) bool {
	switch current {
	case TransactionStatusPending:
		return next == TransactionStatusCompleted || next == TransactionStatusFailed
	case TransactionStatusCompleted:
		return next == TransactionStatusRefunded
	default:
		return false
	}
}

type StepUpStatus string

const (
	StepUpStatusPending  StepUpStatus = "pending"
	StepUpStatusApproved StepUpStatus = "approved"
	StepUpStatusRejected StepUpStatus = "rejected"
	StepUpStatusExpired  StepUpStatus = "expired"
)

func (s StepUpStatus) Terminal() bool {
	switch s {
	case StepUpStatusApproved, StepUpStatusRejected, StepUpStatusExpired:
		return true
	case StepUpStatusPending:
		return false
	}
	return true
}

type TriggerType string

const (
	TriggerPerTransaction TriggerType = "per_transaction"
	TriggerDailyLimit     TriggerType = "daily_limit"
	TriggerMonthlyLimit   TriggerType = "monthly_limit"
)

type StepUpRequest struct {
	ID                       string
	AgentID                  string
	OwnerID                  string
	Amount                   int64
	Currency                 string
	MerchantID               string
	MerchantName             string
	Reason                   string
	TriggerType              TriggerType
	Status                   StepUpStatus
	RequestedPaymentMethodID string
	ApprovedPaymentMethodID  string
	RejectionReason          string
	TransactionID            string
	ExpiresAt                time.Time
	DecidedAt                *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

type GrantFlow string

const (
	GrantFlowDevice            GrantFlow = "device"
	GrantFlowAuthorizationCode GrantFlow = "authorization_code"
)

type GrantStatus string

const (
	GrantStatusPendingClaim          GrantStatus = "pending_claim"
	GrantStatusPending               GrantStatus = "pending"
	GrantStatusPendingIdentification GrantStatus = "pending_identification"
	GrantStatusPendingApproval       GrantStatus = "pending_approval"
	GrantStatusApproved              GrantStatus = "approved"
	GrantStatusRejected              GrantStatus = "rejected"
	GrantStatusExpired               GrantStatus = "expired"
	GrantStatusUsed                  GrantStatus = "used"
)

// AuthorizationGrant is one attempt at a device or authorization code flow.
// UserCode is only set for device grants; CodeHash and CodeChallenge only for
// authorization code grants.
type AuthorizationGrant struct {
	ID                  string
	Flow                GrantFlow
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Scope               string
	Status              GrantStatus
	UserCode            string
	CodeHash            string
	UserID              string
	AgentID             string
	Limits              *SpendingLimits
	Currency            string
	ExpiresAt           time.Time
	TokenIssuedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (g AuthorizationGrant) ExpiredAt(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}

type OAuthClient struct {
	ClientID      string
	Name          string
	RedirectURIs  []string
	AllowedScopes []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type WebhookSubscription struct {
	ID         string
	MerchantID string
	URL        string
	Secret     string
	Events     []string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s WebhookSubscription) Wants(eventType string) bool {
	if !s.Enabled {
		return false
	}
	for _, event := range s.Events {
		if event == eventType || event == "*" {
			return true
		}
	}
	return false
}

type DeliveryLog struct {
	ID          string
	WebhookID   string
	EventID     string
	EventType   string
	StatusCode  int
	Error       string
	DurationMs  int64
	AttemptedAt time.Time
}

const (
	EventAgentRevoked       = "agent.revoked"
	EventAgentSuspended     = "agent.suspended"
	EventAgentSecretRotated = "agent.secret_rotated"
	EventTokenRevoked       = "token.revoked"
	EventStepUpApproved     = "step_up.approved"
	EventStepUpRejected     = "step_up.rejected"
)

// LifecycleEvent is the unit handed to webhook subscribers.
type LifecycleEvent struct {
	ID         string
	Type       string
	Data       map[string]any
	OccurredAt time.Time
}

// NormalizePermissions trims, lowercases, dedupes and sorts a permission set.
func NormalizePermissions(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

// ParseScope splits a space delimited scope string into a normalized set.
func ParseScope(scope string) []string {
	return NormalizePermissions(strings.Fields(scope))
}

func FormatScope(values []string) string {
	return strings.Join(NormalizePermissions(values), " ")
}

// IntersectScope returns requested ∩ permitted. An empty request grants the
// full permitted set.
func IntersectScope(requested []string, permitted []string) []string {
	permittedSet := NormalizePermissions(permitted)
	if len(requested) == 0 {
		return permittedSet
	}
	allowed := make(map[string]struct{}, len(permittedSet))
	for _, value := range permittedSet {
		allowed[value] = struct{}{}
	}
	out := make([]string, 0, len(requested))
	for _, value := range NormalizePermissions(requested) {
		if _, ok := allowed[value]; ok {
			out = append(out, value)
		}
	}
	return out
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
