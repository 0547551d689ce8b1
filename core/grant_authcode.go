package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const authorizationCodeBytes = 32

type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Scope               string
}

type AuthorizationSession struct {
	GrantID   string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

type AuthorizationDecision struct {
	GrantID  string
	OwnerID  string
	Approve  bool
	Name     string
	Limits   SpendingLimits
	Currency string
}

// AuthorizationRedirect is where the user agent is sent after a decision. Code
// is empty when the owner denied the request.
type AuthorizationRedirect struct {
	RedirectURI string
	Code        string
	State       string
}

// StartAuthorization opens an anonymous authorization code session. Client
// and redirect problems are reported to the caller, never by redirecting.
func (s *Service) StartAuthorization(ctx context.Context, req AuthorizationRequest) (session AuthorizationSession, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"client_id": req.ClientID, "flow": string(GrantFlowAuthorizationCode)}
	defer func() {
		fields["grant_id"] = session.GrantID
		s.observeOperation(ctx, startedAt, "start_authorization", err, fields)
	}()

	if s.grants == nil {
		return AuthorizationSession{}, s.mapError(errStoreUnavailable("grant"))
	}
	client, err := s.resolveOAuthClient(ctx, req.ClientID)
	if err != nil {
		return AuthorizationSession{}, err
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if !MatchRedirectURI(client.RedirectURIs, redirectURI) {
		return AuthorizationSession{}, NewOAuthError(OAuthInvalidRequest, "redirect_uri is not registered")
	}
	if err := validateCodeChallenge(strings.TrimSpace(req.CodeChallenge), req.CodeChallengeMethod); err != nil {
		return AuthorizationSession{}, NewOAuthError(OAuthInvalidRequest, err.Error())
	}

	now := s.now()
	grant, err := s.grants.Create(ctx, AuthorizationGrant{
		ID:                  uuid.NewString(),
		Flow:                GrantFlowAuthorizationCode,
		ClientID:            client.ClientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       strings.TrimSpace(req.CodeChallenge),
		CodeChallengeMethod: CodeChallengeMethodS256,
		State:               req.State,
		Scope:               FormatScope(clientScope(client, req.Scope)),
		Status:              GrantStatusPendingIdentification,
		ExpiresAt:           now.Add(s.config.Authorization.TTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		return AuthorizationSession{}, s.mapError(err)
	}
	return AuthorizationSession{
		GrantID:   grant.ID,
		ClientID:  grant.ClientID,
		Scope:     grant.Scope,
		ExpiresAt: grant.ExpiresAt,
	}, nil
}

// IdentifyAuthorization binds the anonymous session to the signed in owner.
func (s *Service) IdentifyAuthorization(ctx context.Context, grantID string, ownerID string) (grant AuthorizationGrant, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"grant_id": grantID, "owner_id": ownerID, "flow": string(GrantFlowAuthorizationCode)}
	defer func() {
		s.observeOperation(ctx, startedAt, "identify_authorization", err, fields)
	}()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return AuthorizationGrant{}, s.mapError(newBadInputError("core: owner id is required", "owner_id"))
	}
	current, err := s.liveAuthorizationGrant(ctx, grantID, GrantStatusPendingIdentification)
	if err != nil {
		return AuthorizationGrant{}, err
	}
	grant, err = s.transitionGrant(ctx, s.grants, current, GrantStatusPendingApproval, func(next *AuthorizationGrant) {
		next.UserID = ownerID
	})
	if err != nil {
		return AuthorizationGrant{}, s.mapError(err)
	}
	return grant, nil
}

// DecideAuthorization records the owner's decision and returns the redirect
// carrying either a single use code or error=access_denied.
func (s *Service) DecideAuthorization(ctx context.Context, decision AuthorizationDecision) (redirect AuthorizationRedirect, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"grant_id": decision.GrantID,
		"owner_id": decision.OwnerID,
		"approve":  decision.Approve,
		"flow":     string(GrantFlowAuthorizationCode),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "decide_authorization", err, fields)
	}()

	current, err := s.liveAuthorizationGrant(ctx, decision.GrantID, GrantStatusPendingApproval)
	if err != nil {
		return AuthorizationRedirect{}, err
	}
	ownerID := strings.TrimSpace(decision.OwnerID)
	if ownerID == "" || current.UserID != ownerID {
		return AuthorizationRedirect{}, s.mapError(newNotFoundError("authorization grant"))
	}

	if !decision.Approve {
		grant, err := s.transitionGrant(ctx, s.grants, current, GrantStatusRejected, nil)
		if err != nil {
			return AuthorizationRedirect{}, s.mapError(err)
		}
		return AuthorizationRedirect{
			RedirectURI: appendRedirectQuery(grant.RedirectURI, url.Values{"error": {string(OAuthAccessDenied)}}, grant.State),
			State:       grant.State,
		}, nil
	}

	if err := decision.Limits.Validate(); err != nil {
		return AuthorizationRedirect{}, s.mapError(newBadInputError(err.Error(), "limits"))
	}
	currency := normalizeCurrency(decision.Currency)
	if len(currency) != 3 {
		return AuthorizationRedirect{}, s.mapError(newBadInputError("core: currency must be an ISO 4217 code", "currency"))
	}
	code, err := generateAuthorizationCode()
	if err != nil {
		return AuthorizationRedirect{}, s.mapError(err)
	}
	limits := decision.Limits
	grant, err := s.transitionGrant(ctx, s.grants, current, GrantStatusApproved, func(next *AuthorizationGrant) {
		next.CodeHash = authorizationCodeDigest(code)
		next.Limits = &limits
		next.Currency = currency
	})
	if err != nil {
		return AuthorizationRedirect{}, s.mapError(err)
	}
	return AuthorizationRedirect{
		RedirectURI: appendRedirectQuery(grant.RedirectURI, url.Values{"code": {code}}, grant.State),
		Code:        code,
		State:       grant.State,
	}, nil
}

// ExchangeAuthorizationCode spends an approved code. The grant flips to used
// inside the same store transaction that resolves the agent and stores the
// token, so a replayed code always fails with invalid_grant.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, code string, verifier string, clientID string, redirectURI string) (resp TokenResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"client_id": clientID, "flow": string(GrantFlowAuthorizationCode)}
	defer func() {
		fields["agent_id"] = resp.AgentID
		s.observeOperation(ctx, startedAt, "exchange_authorization_code", err, fields)
	}()

	code = strings.TrimSpace(code)
	if code == "" {
		return TokenResponse{}, NewOAuthError(OAuthInvalidRequest, "code is required")
	}
	if strings.TrimSpace(verifier) == "" {
		return TokenResponse{}, NewOAuthError(OAuthInvalidRequest, "code_verifier is required")
	}
	if s.grants == nil {
		return TokenResponse{}, s.mapError(errStoreUnavailable("grant"))
	}

	grant, err := s.grants.GetByCodeHash(ctx, authorizationCodeDigest(code))
	if err != nil {
		if isNotFound(err) {
			return TokenResponse{}, NewOAuthError(OAuthInvalidGrant, "")
		}
		return TokenResponse{}, s.mapError(err)
	}
	fields["grant_id"] = grant.ID
	grant, err = s.expireGrantIfDue(ctx, s.grants, grant)
	if err != nil {
		return TokenResponse{}, s.mapError(err)
	}
	if grant.Flow != GrantFlowAuthorizationCode ||
		grant.Status != GrantStatusApproved ||
		grant.ClientID != strings.TrimSpace(clientID) ||
		grant.RedirectURI != strings.TrimSpace(redirectURI) ||
		!VerifyPKCE(grant.CodeChallenge, strings.TrimSpace(verifier)) {
		return TokenResponse{}, NewOAuthError(OAuthInvalidGrant, "")
	}

	err = s.runInTx(ctx, func(ctx context.Context, stores TxStores) error {
		issuedAt := s.now()
		if _, transitionErr := s.transitionGrant(ctx, stores.Grants(), grant, GrantStatusUsed, func(next *AuthorizationGrant) {
			next.AgentID = delegatedAgentID(grant.ClientID, grant.UserID)
			next.TokenIssuedAt = &issuedAt
		}); transitionErr != nil {
			return transitionErr
		}
		agent, resolveErr := s.upsertDelegatedAgent(ctx, stores.Agents(), grant)
		if resolveErr != nil {
			return resolveErr
		}
		var issueErr error
		resp, issueErr = s.issueForAgent(ctx, stores.Tokens(), issuableAgent{
			Agent:   agent,
			Scope:   ParseScope(grant.Scope),
			Flow:    string(GrantFlowAuthorizationCode),
			GrantID: grant.ID,
		})
		return issueErr
	})
	if err != nil {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && rich.TextCode == ErrorStateConflict {
			return TokenResponse{}, NewOAuthError(OAuthInvalidGrant, "")
		}
		return TokenResponse{}, s.mapError(err)
	}
	return resp, nil
}

// delegatedAgentID names the agent that represents one client acting for one
// owner, so repeated authorizations resolve to the same agent.
func delegatedAgentID(clientID string, ownerID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("agentpay:delegation:"+clientID+":"+ownerID)).String()
}

// upsertDelegatedAgent creates the delegated agent on first use. On reuse the
// newly approved scope is merged into its permissions and the approved limits
// replace the old ones.
func (s *Service) upsertDelegatedAgent(ctx context.Context, agents AgentStore, grant AuthorizationGrant) (Agent, error) {
	agentID := delegatedAgentID(grant.ClientID, grant.UserID)
	limits := SpendingLimits{}
	if grant.Limits != nil {
		limits = *grant.Limits
	}

	existing, err := agents.Get(ctx, agentID)
	if err != nil && !isNotFound(err) {
		return Agent{}, err
	}
	if err != nil {
		agent, _, buildErr := s.newAgent(agentID, CreateAgentRequest{
			OwnerID:     grant.UserID,
			Name:        grant.ClientID,
			Permissions: ParseScope(grant.Scope),
			Limits:      limits,
			Currency:    grant.Currency,
		})
		if buildErr != nil {
			return Agent{}, buildErr
		}
		return agents.Create(ctx, agent)
	}

	if !existing.Active() {
		return Agent{}, NewOAuthError(OAuthInvalidGrant, "agent is "+string(existing.Status))
	}
	expected := existing.Status
	existing.Permissions = NormalizePermissions(append(existing.Permissions, ParseScope(grant.Scope)...))
	existing.Limits = limits
	existing.UpdatedAt = s.now()
	return agents.Update(ctx, existing, expected)
}

// liveAuthorizationGrant loads an authorization code grant, applies lazy
// expiry and requires the given status.
func (s *Service) liveAuthorizationGrant(ctx context.Context, grantID string, required GrantStatus) (AuthorizationGrant, error) {
	current, err := s.loadGrant(ctx, grantID, GrantFlowAuthorizationCode)
	if err != nil {
		return AuthorizationGrant{}, err
	}
	current, err = s.expireGrantIfDue(ctx, s.grants, current)
	if err != nil {
		return AuthorizationGrant{}, s.mapError(err)
	}
	if current.Status == GrantStatusExpired {
		return AuthorizationGrant{}, s.mapError(newExpiredError("authorization grant"))
	}
	if current.Status != required {
		return AuthorizationGrant{}, s.mapError(newStateConflictError("authorization grant", string(current.Status)))
	}
	return current, nil
}

func generateAuthorizationCode() (string, error) {
	raw := make([]byte, authorizationCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func authorizationCodeDigest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func appendRedirectQuery(redirectURI string, values url.Values, state string) string {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	query := parsed.Query()
	for key, list := range values {
		for _, value := range list {
			query.Add(key, value)
		}
	}
	if state != "" {
		query.Set("state", state)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
