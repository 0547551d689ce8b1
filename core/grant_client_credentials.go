package core

import (
	"context"
	"strings"
	"time"
)

// ExchangeClientCredentials authenticates an agent by its own client id and
// secret. Unknown clients, wrong secrets and inactive agents are all reported
// as invalid_client, and each path spends one secret comparison.
func (s *Service) ExchangeClientCredentials(ctx context.Context, clientID string, clientSecret string, scope string, audience string) (resp TokenResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"client_id": clientID, "flow": GrantTypeClientCredentials}
	defer func() {
		fields["agent_id"] = resp.AgentID
		s.observeOperation(ctx, startedAt, "exchange_client_credentials", err, fields)
	}()

	clientID = strings.TrimSpace(clientID)
	if clientID == "" || clientSecret == "" {
		return TokenResponse{}, NewOAuthError(OAuthInvalidRequest, "client_id and client_secret are required")
	}
	if s.agents == nil || s.tokens == nil {
		return TokenResponse{}, s.mapError(errStoreUnavailable("agent"))
	}

	agent, err := s.agents.GetByClientID(ctx, clientID)
	if err != nil {
		if !isNotFound(err) {
			return TokenResponse{}, s.mapError(err)
		}
		s.vault.VerifySecret("", clientSecret)
		return TokenResponse{}, NewOAuthError(OAuthInvalidClient, "")
	}
	if !s.vault.VerifySecret(agent.ClientSecretHash, clientSecret) {
		return TokenResponse{}, NewOAuthError(OAuthInvalidClient, "")
	}
	if !agent.Active() {
		return TokenResponse{}, NewOAuthError(OAuthInvalidClient, "")
	}

	resp, err = s.issueForAgent(ctx, s.tokens, issuableAgent{
		Agent:    agent,
		Scope:    ParseScope(scope),
		Audience: audience,
		Flow:     GrantTypeClientCredentials,
	})
	if err != nil {
		return TokenResponse{}, err
	}
	if touchErr := s.agents.TouchLastUsed(ctx, agent.ID, s.now()); touchErr != nil {
		s.logWarn(ctx, "agent last used update failed", map[string]any{"agent_id": agent.ID, "error": touchErr.Error()})
	}
	return resp, nil
}
