package server

import (
	"time"

	"github.com/goliatone/go-agentpay/core"
)

type agentView struct {
	ID              string              `json:"id"`
	OwnerID         string              `json:"owner_id"`
	ClientID        string              `json:"client_id"`
	Name            string              `json:"name"`
	Permissions     []string            `json:"permissions"`
	Limits          core.SpendingLimits `json:"limits"`
	Currency        string              `json:"currency"`
	Status          core.AgentStatus    `json:"status"`
	LastUsedAt      *time.Time          `json:"last_used_at,omitempty"`
	SecretRotatedAt *time.Time          `json:"secret_rotated_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newAgentView(agent core.Agent) agentView {
	permissions := agent.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	return agentView{
		ID:              agent.ID,
		OwnerID:         agent.OwnerID,
		ClientID:        agent.ClientID,
		Name:            agent.Name,
		Permissions:     permissions,
		Limits:          agent.Limits,
		Currency:        agent.Currency,
		Status:          agent.Status,
		LastUsedAt:      agent.LastUsedAt,
		SecretRotatedAt: agent.SecretRotatedAt,
		CreatedAt:       agent.CreatedAt,
		UpdatedAt:       agent.UpdatedAt,
	}
}

// credentialsView is the only response that carries a client secret.
type credentialsView struct {
	Agent        agentView `json:"agent"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
}

func newCredentialsView(creds core.AgentCredentials) credentialsView {
	return credentialsView{
		Agent:        newAgentView(creds.Agent),
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}
}

type transactionView struct {
	ID              string                 `json:"id"`
	AgentID         string                 `json:"agent_id"`
	Amount          int64                  `json:"amount"`
	Currency        string                 `json:"currency"`
	MerchantID      string                 `json:"merchant_id,omitempty"`
	Status          core.TransactionStatus `json:"status"`
	ApprovalType    core.ApprovalType      `json:"approval_type"`
	StepUpRequestID string                 `json:"step_up_request_id,omitempty"`
	CredentialID    string                 `json:"credential_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func newTransactionView(tx core.Transaction) transactionView {
	return transactionView{
		ID:              tx.ID,
		AgentID:         tx.AgentID,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		MerchantID:      tx.MerchantID,
		Status:          tx.Status,
		ApprovalType:    tx.ApprovalType,
		StepUpRequestID: tx.StepUpRequestID,
		CredentialID:    tx.CredentialID,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
}

type credentialView struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type stepUpView struct {
	ID                       string            `json:"id"`
	AgentID                  string            `json:"agent_id"`
	Amount                   int64             `json:"amount"`
	Currency                 string            `json:"currency"`
	MerchantID               string            `json:"merchant_id,omitempty"`
	MerchantName             string            `json:"merchant_name,omitempty"`
	Reason                   string            `json:"reason,omitempty"`
	TriggerType              core.TriggerType  `json:"trigger_type"`
	Status                   core.StepUpStatus `json:"status"`
	RequestedPaymentMethodID string            `json:"requested_payment_method_id,omitempty"`
	ApprovedPaymentMethodID  string            `json:"approved_payment_method_id,omitempty"`
	RejectionReason          string            `json:"rejection_reason,omitempty"`
	TransactionID            string            `json:"transaction_id,omitempty"`
	ExpiresAt                time.Time         `json:"expires_at"`
	DecidedAt                *time.Time        `json:"decided_at,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
}

func newStepUpView(req core.StepUpRequest) stepUpView {
	return stepUpView{
		ID:                       req.ID,
		AgentID:                  req.AgentID,
		Amount:                   req.Amount,
		Currency:                 req.Currency,
		MerchantID:               req.MerchantID,
		MerchantName:             req.MerchantName,
		Reason:                   req.Reason,
		TriggerType:              req.TriggerType,
		Status:                   req.Status,
		RequestedPaymentMethodID: req.RequestedPaymentMethodID,
		ApprovedPaymentMethodID:  req.ApprovedPaymentMethodID,
		RejectionReason:          req.RejectionReason,
		TransactionID:            req.TransactionID,
		ExpiresAt:                req.ExpiresAt,
		DecidedAt:                req.DecidedAt,
		CreatedAt:                req.CreatedAt,
	}
}

type purchaseView struct {
	Outcome     core.PurchaseOutcome `json:"outcome"`
	Decision    core.LimitDecision   `json:"decision"`
	Transaction *transactionView     `json:"transaction,omitempty"`
	Credential  *credentialView      `json:"credential,omitempty"`
	StepUp      *stepUpView          `json:"step_up,omitempty"`
}

func newPurchaseView(result core.PurchaseResult) purchaseView {
	view := purchaseView{Outcome: result.Outcome, Decision: result.Decision}
	if result.Transaction != nil {
		tx := newTransactionView(*result.Transaction)
		view.Transaction = &tx
	}
	if result.Credential != nil {
		view.Credential = &credentialView{
			Token:     result.Credential.Token,
			TokenID:   result.Credential.TokenID,
			ExpiresAt: result.Credential.ExpiresAt,
		}
	}
	if result.StepUp != nil {
		stepUp := newStepUpView(*result.StepUp)
		view.StepUp = &stepUp
	}
	return view
}

type approvalView struct {
	StepUp      stepUpView      `json:"step_up"`
	Transaction transactionView `json:"transaction"`
	Credential  credentialView  `json:"credential"`
}

func newApprovalView(approval core.StepUpApproval) approvalView {
	return approvalView{
		StepUp:      newStepUpView(approval.Request),
		Transaction: newTransactionView(approval.Transaction),
		Credential: credentialView{
			Token:     approval.Credential.Token,
			TokenID:   approval.Credential.TokenID,
			ExpiresAt: approval.Credential.ExpiresAt,
		},
	}
}

type grantView struct {
	ID        string           `json:"id"`
	Flow      core.GrantFlow   `json:"flow"`
	ClientID  string           `json:"client_id"`
	Scope     string           `json:"scope,omitempty"`
	Status    core.GrantStatus `json:"status"`
	AgentID   string           `json:"agent_id,omitempty"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func newGrantView(grant core.AuthorizationGrant) grantView {
	return grantView{
		ID:        grant.ID,
		Flow:      grant.Flow,
		ClientID:  grant.ClientID,
		Scope:     grant.Scope,
		Status:    grant.Status,
		AgentID:   grant.AgentID,
		ExpiresAt: grant.ExpiresAt,
	}
}

type sessionView struct {
	GrantID   string    `json:"grant_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// webhookView never echoes the signing secret.
type webhookView struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	URL        string    `json:"url"`
	Events     []string  `json:"events"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newWebhookView(sub core.WebhookSubscription) webhookView {
	return webhookView{
		ID:         sub.ID,
		MerchantID: sub.MerchantID,
		URL:        sub.URL,
		Events:     sub.Events,
		Enabled:    sub.Enabled,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
}
