package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
)

func newAgentRecord(in core.Agent) *agentRecord {
	return &agentRecord{
		ID:                  strings.TrimSpace(in.ID),
		OwnerID:             strings.TrimSpace(in.OwnerID),
		ClientID:            strings.TrimSpace(in.ClientID),
		ClientSecretHash:    in.ClientSecretHash,
		Name:                in.Name,
		Permissions:         copyStrings(in.Permissions),
		PerTransactionLimit: in.Limits.PerTransaction,
		DailyLimit:          in.Limits.Daily,
		MonthlyLimit:        in.Limits.Monthly,
		Currency:            in.Currency,
		Status:              string(in.Status),
		LastUsedAt:          cloneTime(in.LastUsedAt),
		SecretRotatedAt:     cloneTime(in.SecretRotatedAt),
		CreatedAt:           in.CreatedAt.UTC(),
		UpdatedAt:           in.UpdatedAt.UTC(),
	}
}

func (r *agentRecord) toDomain() core.Agent {
	return core.Agent{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		ClientID:         r.ClientID,
		ClientSecretHash: r.ClientSecretHash,
		Name:             r.Name,
		Permissions:      copyStrings(r.Permissions),
		Limits: core.SpendingLimits{
			PerTransaction: r.PerTransactionLimit,
			Daily:          r.DailyLimit,
			Monthly:        r.MonthlyLimit,
		},
		Currency:        r.Currency,
		Status:          core.AgentStatus(r.Status),
		LastUsedAt:      cloneTime(r.LastUsedAt),
		SecretRotatedAt: cloneTime(r.SecretRotatedAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func newAccessTokenRecord(in core.AccessTokenRecord) *accessTokenRecord {
	return &accessTokenRecord{
		TokenHash: strings.TrimSpace(in.TokenHash),
		AgentID:   strings.TrimSpace(in.AgentID),
		Scope:     in.Scope,
		ExpiresAt: in.ExpiresAt.UTC(),
		RevokedAt: cloneTime(in.RevokedAt),
		CreatedAt: in.CreatedAt.UTC(),
	}
}

func (r *accessTokenRecord) toDomain() core.AccessTokenRecord {
	return core.AccessTokenRecord{
		TokenHash: r.TokenHash,
		AgentID:   r.AgentID,
		Scope:     r.Scope,
		ExpiresAt: r.ExpiresAt.UTC(),
		RevokedAt: cloneTime(r.RevokedAt),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func newTransactionRecord(in core.Transaction) *transactionRecord {
	return &transactionRecord{
		ID:                 strings.TrimSpace(in.ID),
		AgentID:            strings.TrimSpace(in.AgentID),
		Amount:             in.Amount,
		Currency:           in.Currency,
		MerchantID:         in.MerchantID,
		Status:             string(in.Status),
		ApprovalType:       string(in.ApprovalType),
		StepUpRequestID:    nullableString(in.StepUpRequestID),
		CredentialID:       in.CredentialID,
		DailyPeriodStart:   in.DailyPeriodStart.UTC(),
		MonthlyPeriodStart: in.MonthlyPeriodStart.UTC(),
		CreatedAt:          in.CreatedAt.UTC(),
		UpdatedAt:          in.UpdatedAt.UTC(),
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	return core.Transaction{
		ID:                 r.ID,
		AgentID:            r.AgentID,
		Amount:             r.Amount,
		Currency:           r.Currency,
		MerchantID:         r.MerchantID,
		Status:             core.TransactionStatus(r.Status),
		ApprovalType:       core.ApprovalType(r.ApprovalType),
		StepUpRequestID:    stringValue(r.StepUpRequestID),
		CredentialID:       r.CredentialID,
		DailyPeriodStart:   r.DailyPeriodStart.UTC(),
		MonthlyPeriodStart: r.MonthlyPeriodStart.UTC(),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func newStepUpRecord(in core.StepUpRequest) *stepUpRecord {
	return &stepUpRecord{
		ID:                       strings.TrimSpace(in.ID),
		AgentID:                  strings.TrimSpace(in.AgentID),
		OwnerID:                  strings.TrimSpace(in.OwnerID),
		Amount:                   in.Amount,
		Currency:                 in.Currency,
		MerchantID:               in.MerchantID,
		MerchantName:             in.MerchantName,
		Reason:                   in.Reason,
		TriggerType:              string(in.TriggerType),
		Status:                   string(in.Status),
		RequestedPaymentMethodID: in.RequestedPaymentMethodID,
		ApprovedPaymentMethodID:  in.ApprovedPaymentMethodID,
		RejectionReason:          in.RejectionReason,
		TransactionID:            nullableString(in.TransactionID),
		ExpiresAt:                in.ExpiresAt.UTC(),
		DecidedAt:                cloneTime(in.DecidedAt),
		CreatedAt:                in.CreatedAt.UTC(),
		UpdatedAt:                in.UpdatedAt.UTC(),
	}
}

func (r *stepUpRecord) toDomain() core.StepUpRequest {
	return core.StepUpRequest{
		ID:                       r.ID,
		AgentID:                  r.AgentID,
		OwnerID:                  r.OwnerID,
		Amount:                   r.Amount,
		Currency:                 r.Currency,
		MerchantID:               r.MerchantID,
		MerchantName:             r.MerchantName,
		Reason:                   r.Reason,
		TriggerType:              core.TriggerType(r.TriggerType),
		Status:                   core.StepUpStatus(r.Status),
		RequestedPaymentMethodID: r.RequestedPaymentMethodID,
		ApprovedPaymentMethodID:  r.ApprovedPaymentMethodID,
		RejectionReason:          r.RejectionReason,
		TransactionID:            stringValue(r.TransactionID),
		ExpiresAt:                r.ExpiresAt.UTC(),
		DecidedAt:                cloneTime(r.DecidedAt),
		CreatedAt:                r.CreatedAt.UTC(),
		UpdatedAt:                r.UpdatedAt.UTC(),
	}
}

func newGrantRecord(in core.AuthorizationGrant) *grantRecord {
	return &grantRecord{
		ID:                  strings.TrimSpace(in.ID),
		Flow:                string(in.Flow),
		ClientID:            strings.TrimSpace(in.ClientID),
		RedirectURI:         in.RedirectURI,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		State:               in.State,
		Scope:               in.Scope,
		Status:              string(in.Status),
		UserCode:            nullableString(in.UserCode),
		CodeHash:            nullableString(in.CodeHash),
		UserID:              in.UserID,
		AgentID:             in.AgentID,
		Limits:              cloneLimits(in.Limits),
		Currency:            in.Currency,
		ExpiresAt:           in.ExpiresAt.UTC(),
		TokenIssuedAt:       cloneTime(in.TokenIssuedAt),
		CreatedAt:           in.CreatedAt.UTC(),
		UpdatedAt:           in.UpdatedAt.UTC(),
	}
}

func (r *grantRecord) toDomain() core.AuthorizationGrant {
	return core.AuthorizationGrant{
		ID:                  r.ID,
		Flow:                core.GrantFlow(r.Flow),
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		State:               r.State,
		Scope:               r.Scope,
		Status:              core.GrantStatus(r.Status),
		UserCode:            stringValue(r.UserCode),
		CodeHash:            stringValue(r.CodeHash),
		UserID:              r.UserID,
		AgentID:             r.AgentID,
		Limits:              cloneLimits(r.Limits),
		Currency:            r.Currency,
		ExpiresAt:           r.ExpiresAt.UTC(),
		TokenIssuedAt:       cloneTime(r.TokenIssuedAt),
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

func newOAuthClientRecord(in core.OAuthClient) *oauthClientRecord {
	return &oauthClientRecord{
		ClientID:      strings.TrimSpace(in.ClientID),
		Name:          in.Name,
		RedirectURIs:  copyStrings(in.RedirectURIs),
		AllowedScopes: copyStrings(in.AllowedScopes),
		CreatedAt:     in.CreatedAt.UTC(),
		UpdatedAt:     in.UpdatedAt.UTC(),
	}
}

func (r *oauthClientRecord) toDomain() core.OAuthClient {
	return core.OAuthClient{
		ClientID:      r.ClientID,
		Name:          r.Name,
		RedirectURIs:  copyStrings(r.RedirectURIs),
		AllowedScopes: copyStrings(r.AllowedScopes),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func newWebhookSubscriptionRecord(in core.WebhookSubscription) *webhookSubscriptionRecord {
	return &webhookSubscriptionRecord{
		ID:         strings.TrimSpace(in.ID),
		MerchantID: strings.TrimSpace(in.MerchantID),
		URL:        strings.TrimSpace(in.URL),
		Secret:     in.Secret,
		Events:     copyStrings(in.Events),
		Enabled:    in.Enabled,
		CreatedAt:  in.CreatedAt.UTC(),
		UpdatedAt:  in.UpdatedAt.UTC(),
	}
}

func (r *webhookSubscriptionRecord) toDomain() core.WebhookSubscription {
	return core.WebhookSubscription{
		ID:         r.ID,
		MerchantID: r.MerchantID,
		URL:        r.URL,
		Secret:     r.Secret,
		Events:     copyStrings(r.Events),
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (r *deliveryLogRecord) toDomain() core.DeliveryLog {
	return core.DeliveryLog{
		ID:          r.ID,
		WebhookID:   r.WebhookID,
		EventID:     r.EventID,
		EventType:   r.EventType,
		StatusCode:  r.StatusCode,
		Error:       r.Error,
		DurationMs:  r.DurationMs,
		AttemptedAt: r.AttemptedAt.UTC(),
	}
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func cloneLimits(input *core.SpendingLimits) *core.SpendingLimits {
	if input == nil {
		return nil
	}
	value := *input
	return &value
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
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
