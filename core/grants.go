package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string
	Audience     string
	Code         string
	CodeVerifier string
	RedirectURI  string
	DeviceCode   string
}

// TokenResponse reports the remaining lifetime in seconds, never an absolute
// expiry.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
}

// issuableAgent is the common shape every grant flow reduces to before a
// token is minted.
type issuableAgent struct {
	Agent    Agent
	Scope    []string
	Audience string
	Flow     string
	GrantID  string
}

var grantTransitions = map[GrantFlow]map[GrantStatus]map[GrantStatus]struct{}{
	GrantFlowDevice: {
		GrantStatusPendingClaim: {
			GrantStatusPending: {},
			GrantStatusExpired: {},
		},
		GrantStatusPending: {
			GrantStatusApproved: {},
			GrantStatusRejected: {},
			GrantStatusExpired:  {},
		},
		GrantStatusApproved: {
			GrantStatusUsed:    {},
			GrantStatusExpired: {},
		},
	},
	GrantFlowAuthorizationCode: {
		GrantStatusPendingIdentification: {
			GrantStatusPendingApproval: {},
			GrantStatusExpired:         {},
		},
		GrantStatusPendingApproval: {
			GrantStatusApproved: {},
			GrantStatusRejected: {},
			GrantStatusExpired:  {},
		},
		GrantStatusApproved: {
			GrantStatusUsed:    {},
			GrantStatusExpired: {},
		},
	},
}

func grantTransitionAllowed(flow GrantFlow, current GrantStatus, next GrantStatus) bool {
	_, ok := grantTransitions[flow][current][next]
	return ok
}

// ExchangeToken is the single token endpoint entry point. Every failure is an
// *OAuthError in the fixed vocabulary.
func (s *Service) ExchangeToken(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	switch strings.TrimSpace(req.GrantType) {
	case GrantTypeClientCredentials:
		return s.ExchangeClientCredentials(ctx, req.ClientID, req.ClientSecret, req.Scope, req.Audience)
	case GrantTypeAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req.Code, req.CodeVerifier, req.ClientID, req.RedirectURI)
	case GrantTypeDeviceCode:
		poll, err := s.PollDeviceToken(ctx, req.DeviceCode, req.ClientID)
		if err != nil {
			return TokenResponse{}, AsOAuthError(err)
		}
		return poll.TokenResponse()
	case "":
		return TokenResponse{}, NewOAuthError(OAuthInvalidRequest, "grant_type is required")
	default:
		return TokenResponse{}, NewOAuthError(OAuthUnsupportedGrantType, "")
	}
}

// resolveIssuableAgent loads the agent a grant resolved to and requires it to
// be active.
func (s *Service) resolveIssuableAgent(ctx context.Context, agents AgentStore, agentID string) (Agent, error) {
	agent, err := agents.Get(ctx, agentID)
	if err != nil {
		if isNotFound(err) {
			return Agent{}, NewOAuthError(OAuthInvalidGrant, "agent not found")
		}
		return Agent{}, err
	}
	if !agent.Active() {
		return Agent{}, NewOAuthError(OAuthInvalidGrant, fmt.Sprintf("agent is %s", agent.Status))
	}
	return agent, nil
}

func (s *Service) issueForAgent(ctx context.Context, tokens TokenStore, issuable issuableAgent) (TokenResponse, error) {
	issued, err := s.issueToken(ctx, tokens, issuable.Agent, issuable.Scope, issuable.Audience)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: issued.Token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   secondsUntil(s.now(), issued.ExpiresAt),
		Scope:       issued.Scope,
		AgentID:     issuable.Agent.ID,
	}, nil
}

func secondsUntil(now time.Time, at time.Time) int64 {
	remaining := at.Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int64(math.Ceil(remaining))
}

func (s *Service) loadGrant(ctx context.Context, id string, flow GrantFlow) (AuthorizationGrant, error) {
	if s.grants == nil {
		return AuthorizationGrant{}, s.mapError(errStoreUnavailable("grant"))
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return AuthorizationGrant{}, s.mapError(newBadInputError("core: grant id is required", "grant_id"))
	}
	grant, err := s.grants.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return AuthorizationGrant{}, s.mapError(newNotFoundError("authorization grant"))
		}
		return AuthorizationGrant{}, s.mapError(err)
	}
	if grant.Flow != flow {
		return AuthorizationGrant{}, s.mapError(newNotFoundError("authorization grant"))
	}
	return grant, nil
}

// expireGrantIfDue applies lazy expiry to a non-terminal grant.
func (s *Service) expireGrantIfDue(ctx context.Context, grants GrantStore, grant AuthorizationGrant) (AuthorizationGrant, error) {
	if !grant.ExpiredAt(s.now()) || !grantTransitionAllowed(grant.Flow, grant.Status, GrantStatusExpired) {
		return grant, nil
	}
	expected := grant.Status
	expired := grant
	expired.Status = GrantStatusExpired
	expired.UserCode = ""
	expired.UpdatedAt = s.now()
	if err := grants.Update(ctx, expired, expected); err != nil {
		if isStaleTransition(err) {
			return grants.Get(ctx, grant.ID)
		}
		return AuthorizationGrant{}, err
	}
	return expired, nil
}

// transitionGrant writes next only if the stored status still equals the
// grant's current status.
func (s *Service) transitionGrant(ctx context.Context, grants GrantStore, grant AuthorizationGrant, next GrantStatus, mutate func(*AuthorizationGrant)) (AuthorizationGrant, error) {
	if !grantTransitionAllowed(grant.Flow, grant.Status, next) {
		return AuthorizationGrant{}, newStateConflictError("authorization grant", string(grant.Status))
	}
	expected := grant.Status
	updated := grant
	updated.Status = next
	updated.UpdatedAt = s.now()
	if mutate != nil {
		mutate(&updated)
	}
	if err := grants.Update(ctx, updated, expected); err != nil {
		if isStaleTransition(err) {
			current := "unknown"
			if latest, getErr := grants.Get(ctx, grant.ID); getErr == nil {
				current = string(latest.Status)
			}
			return AuthorizationGrant{}, newStateConflictError("authorization grant", current)
		}
		return AuthorizationGrant{}, err
	}
	return updated, nil
}

func (s *Service) RegisterOAuthClient(ctx context.Context, client OAuthClient) (registered OAuthClient, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"client_id": client.ClientID}
	defer func() {
		s.observeOperation(ctx, startedAt, "register_oauth_client", err, fields)
	}()

	if s.clients == nil {
		return OAuthClient{}, s.mapError(errStoreUnavailable("oauth client"))
	}
	client.ClientID = strings.TrimSpace(client.ClientID)
	if client.ClientID == "" {
		return OAuthClient{}, s.mapError(newBadInputError("core: client id is required", "client_id"))
	}
	redirects := make([]string, 0, len(client.RedirectURIs))
	for _, uri := range client.RedirectURIs {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		if _, parseErr := parseRedirectPattern(uri); parseErr != nil {
			return OAuthClient{}, s.mapError(newBadInputError(parseErr.Error(), "redirect_uris"))
		}
		redirects = append(redirects, uri)
	}
	client.RedirectURIs = redirects
	client.AllowedScopes = NormalizePermissions(client.AllowedScopes)
	now := s.now()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now
	registered, err = s.clients.Upsert(ctx, client)
	if err != nil {
		return OAuthClient{}, s.mapError(err)
	}
	return registered, nil
}

// resolveOAuthClient maps an unknown client to invalid_client.
func (s *Service) resolveOAuthClient(ctx context.Context, clientID string) (OAuthClient, error) {
	if s.clients == nil {
		return OAuthClient{}, s.mapError(errStoreUnavailable("oauth client"))
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return OAuthClient{}, NewOAuthError(OAuthInvalidRequest, "client_id is required")
	}
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if isNotFound(err) {
			return OAuthClient{}, NewOAuthError(OAuthInvalidClient, "")
		}
		return OAuthClient{}, s.mapError(err)
	}
	return client, nil
}

// clientScope narrows a requested scope to what the client may ask for. A
// client without an allow-list may request anything.
func clientScope(client OAuthClient, requested string) []string {
	scope := ParseScope(requested)
	if len(client.AllowedScopes) == 0 {
		return scope
	}
	return IntersectScope(scope, client.AllowedScopes)
}
