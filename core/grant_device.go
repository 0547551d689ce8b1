package core

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const userCodeAttempts = 5

type DeviceAuthorizationRequest struct {
	ClientID string
	Scope    string
}

type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// DeviceDecision is the owner's answer to a claimed device grant. Limits and
// Currency configure the agent created on approval.
type DeviceDecision struct {
	GrantID  string
	OwnerID  string
	Approve  bool
	Name     string
	Limits   SpendingLimits
	Currency string
}

type DevicePollStatus string

const (
	DevicePollPending DevicePollStatus = "pending"
	DevicePollDenied  DevicePollStatus = "denied"
	DevicePollExpired DevicePollStatus = "expired"
	DevicePollIssued  DevicePollStatus = "issued"
)

// DevicePollResult is a normal return for every non-terminal and terminal
// grant state. Only an unknown or spent device code is an error.
type DevicePollResult struct {
	Status   DevicePollStatus
	Token    *TokenResponse
	Interval int64
}

func (r DevicePollResult) TokenResponse() (TokenResponse, error) {
	switch r.Status {
	case DevicePollIssued:
		if r.Token == nil {
			return TokenResponse{}, NewOAuthError(OAuthServerError, "")
		}
		return *r.Token, nil
	case DevicePollPending:
		return TokenResponse{}, NewOAuthError(OAuthAuthorizationPending, "")
	case DevicePollDenied:
		return TokenResponse{}, NewOAuthError(OAuthAccessDenied, "")
	case DevicePollExpired:
		return TokenResponse{}, NewOAuthError(OAuthExpiredToken, "")
	default:
		return TokenResponse{}, NewOAuthError(OAuthInvalidGrant, "")
	}
}

func (s *Service) StartDeviceAuthorization(ctx context.Context, req DeviceAuthorizationRequest) (resp DeviceAuthorizationResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"client_id": req.ClientID, "flow": string(GrantFlowDevice)}
	defer func() {
		fields["grant_id"] = resp.DeviceCode
		s.observeOperation(ctx, startedAt, "start_device_authorization", err, fields)
	}()

	if s.grants == nil {
		return DeviceAuthorizationResponse{}, s.mapError(errStoreUnavailable("grant"))
	}
	client, err := s.resolveOAuthClient(ctx, req.ClientID)
	if err != nil {
		return DeviceAuthorizationResponse{}, err
	}
	now := s.now()
	grant := AuthorizationGrant{
		ID:        uuid.NewString(),
		Flow:      GrantFlowDevice,
		ClientID:  client.ClientID,
		Scope:     FormatScope(clientScope(client, req.Scope)),
		Status:    GrantStatusPendingClaim,
		ExpiresAt: now.Add(s.config.Device.TTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var created AuthorizationGrant
	for attempt := 0; attempt < userCodeAttempts; attempt++ {
		grant.UserCode, err = GenerateUserCode(s.config.Device.UserCodePrefix, nil)
		if err != nil {
			return DeviceAuthorizationResponse{}, s.mapError(err)
		}
		created, err = s.grants.Create(ctx, grant)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) {
			return DeviceAuthorizationResponse{}, s.mapError(err)
		}
	}
	if err != nil {
		return DeviceAuthorizationResponse{}, s.mapError(err)
	}

	return DeviceAuthorizationResponse{
		DeviceCode:              created.ID,
		UserCode:                created.UserCode,
		VerificationURI:         s.config.Device.VerificationURI,
		VerificationURIComplete: verificationURIComplete(s.config.Device.VerificationURI, created.UserCode),
		ExpiresIn:               secondsUntil(now, created.ExpiresAt),
		Interval:                int64(s.config.Device.Interval / time.Second),
	}, nil
}

func verificationURIComplete(base string, userCode string) string {
	if strings.TrimSpace(base) == "" {
		return ""
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	query.Set("user_code", userCode)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// ClaimDeviceCode binds a pairing code to the owner entering it. The code can
// be claimed once; the transition to pending prompts the owner to decide.
func (s *Service) ClaimDeviceCode(ctx context.Context, userCode string, ownerID string) (grant AuthorizationGrant, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"owner_id": ownerID, "flow": string(GrantFlowDevice)}
	defer func() {
		fields["grant_id"] = grant.ID
		s.observeOperation(ctx, startedAt, "claim_device_code", err, fields)
	}()

	if s.grants == nil {
		return AuthorizationGrant{}, s.mapError(errStoreUnavailable("grant"))
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return AuthorizationGrant{}, s.mapError(newBadInputError("core: owner id is required", "owner_id"))
	}
	code := NormalizeUserCode(userCode)
	if !ValidUserCode(code) {
		return AuthorizationGrant{}, s.mapError(newBadInputError("core: user code is malformed", "user_code"))
	}

	current, err := s.grants.GetByUserCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return AuthorizationGrant{}, s.mapError(newNotFoundError("pairing code"))
		}
		return AuthorizationGrant{}, s.mapError(err)
	}
	current, err = s.expireGrantIfDue(ctx, s.grants, current)
	if err != nil {
		return AuthorizationGrant{}, s.mapError(err)
	}
	if current.Status == GrantStatusExpired {
		return AuthorizationGrant{}, s.mapError(newExpiredError("pairing code"))
	}
	if current.Status != GrantStatusPendingClaim {
		return AuthorizationGrant{}, s.mapError(newStateConflictError("pairing code", string(current.Status)))
	}

	grant, err = s.transitionGrant(ctx, s.grants, current, GrantStatusPending, func(next *AuthorizationGrant) {
		next.UserID = ownerID
	})
	if err != nil {
		return AuthorizationGrant{}, s.mapError(err)
	}

	s.notifyOwner(ctx, NotificationRequest{
		UserID:         ownerID,
		Type:           NotificationDeviceAuthorization,
		IdempotencyKey: "device-claim:" + grant.ID,
		Payload: map[string]any{
			"grant_id":   grant.ID,
			"client_id":  grant.ClientID,
			"scope":      grant.Scope,
			"expires_at": grant.ExpiresAt,
		},
	})
	return grant, nil
}

// DecideDeviceAuthorization records the owner's decision. Approval creates
// the agent and resolves the grant in one store transaction, and clears the
// pairing code so it cannot be looked up again.
func (s *Service) DecideDeviceAuthorization(ctx context.Context, decision DeviceDecision) (grant AuthorizationGrant, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"grant_id": decision.GrantID,
		"owner_id": decision.OwnerID,
		"approve":  decision.Approve,
		"flow":     string(GrantFlowDevice),
	}
	defer func() {
		fields["agent_id"] = grant.AgentID
		s.observeOperation(ctx, startedAt, "decide_device_authorization", err, fields)
	}()

	current, err := s.loadGrant(ctx, decision.GrantID, GrantFlowDevice)
	if err != nil {
		return AuthorizationGrant{}, err
	}
	ownerID := strings.TrimSpace(decision.OwnerID)
	if ownerID == "" || current.UserID != ownerID {
		return AuthorizationGrant{}, s.mapError(newNotFoundError("authorization grant"))
	}
	current, err = s.expireGrantIfDue(ctx, s.grants, current)
	if err != nil {
		return AuthorizationGrant{}, s.mapError(err)
	}
	if current.Status == GrantStatusExpired {
		return AuthorizationGrant{}, s.mapError(newExpiredError("authorization grant"))
	}
	if current.Status != GrantStatusPending {
		return AuthorizationGrant{}, s.mapError(newStateConflictError("authorization grant", string(current.Status)))
	}

	if !decision.Approve {
		grant, err = s.transitionGrant(ctx, s.grants, current, GrantStatusRejected, func(next *AuthorizationGrant) {
			next.UserCode = ""
		})
		if err != nil {
			return AuthorizationGrant{}, s.mapError(err)
		}
		return grant, nil
	}

	// The device flow has no client secret exchange; the generated secret is
	// discarded and the agent authenticates through the issued token.
	agent, _, err := s.newAgent(uuid.NewString(), CreateAgentRequest{
		OwnerID:     ownerID,
		Name:        decision.Name,
		Permissions: ParseScope(current.Scope),
		Limits:      decision.Limits,
		Currency:    decision.Currency,
	})
	if err != nil {
		return AuthorizationGrant{}, err
	}
	limits := decision.Limits
	err = s.runInTx(ctx, func(ctx context.Context, stores TxStores) error {
		created, createErr := stores.Agents().Create(ctx, agent)
		if createErr != nil {
			return createErr
		}
		var transitionErr error
		grant, transitionErr = s.transitionGrant(ctx, stores.Grants(), current, GrantStatusApproved, func(next *AuthorizationGrant) {
			next.AgentID = created.ID
			next.Limits = &limits
			next.Currency = created.Currency
			next.UserCode = ""
		})
		return transitionErr
	})
	if err != nil {
		return AuthorizationGrant{}, s.mapError(err)
	}
	return grant, nil
}

// PollDeviceToken answers a device poll. Pending, denied and expired grants
// are reported through the result; an approved grant is spent here and the
// token is issued in the same store transaction.
func (s *Service) PollDeviceToken(ctx context.Context, deviceCode string, clientID string) (result DevicePollResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"grant_id": deviceCode, "client_id": clientID, "flow": string(GrantFlowDevice)}
	defer func() {
		fields["poll_status"] = string(result.Status)
		s.observeOperation(ctx, startedAt, "poll_device_token", err, fields)
	}()

	interval := int64(s.config.Device.Interval / time.Second)
	if strings.TrimSpace(deviceCode) == "" {
		return DevicePollResult{}, NewOAuthError(OAuthInvalidRequest, "device_code is required")
	}
	if s.grants == nil {
		return DevicePollResult{}, s.mapError(errStoreUnavailable("grant"))
	}
	grant, err := s.grants.Get(ctx, strings.TrimSpace(deviceCode))
	if err != nil {
		if isNotFound(err) {
			return DevicePollResult{}, NewOAuthError(OAuthInvalidGrant, "")
		}
		return DevicePollResult{}, s.mapError(err)
	}
	if grant.Flow != GrantFlowDevice || grant.ClientID != strings.TrimSpace(clientID) {
		return DevicePollResult{}, NewOAuthError(OAuthInvalidGrant, "")
	}
	grant, err = s.expireGrantIfDue(ctx, s.grants, grant)
	if err != nil {
		return DevicePollResult{}, s.mapError(err)
	}

	switch grant.Status {
	case GrantStatusPendingClaim, GrantStatusPending:
		return DevicePollResult{Status: DevicePollPending, Interval: interval}, nil
	case GrantStatusRejected:
		return DevicePollResult{Status: DevicePollDenied, Interval: interval}, nil
	case GrantStatusExpired:
		return DevicePollResult{Status: DevicePollExpired, Interval: interval}, nil
	case GrantStatusApproved:
	default:
		return DevicePollResult{}, NewOAuthError(OAuthInvalidGrant, "")
	}

	var token TokenResponse
	err = s.runInTx(ctx, func(ctx context.Context, stores TxStores) error {
		agent, resolveErr := s.resolveIssuableAgent(ctx, stores.Agents(), grant.AgentID)
		if resolveErr != nil {
			return resolveErr
		}
		issuedAt := s.now()
		if _, transitionErr := s.transitionGrant(ctx, stores.Grants(), grant, GrantStatusUsed, func(next *AuthorizationGrant) {
			next.TokenIssuedAt = &issuedAt
		}); transitionErr != nil {
			return transitionErr
		}
		var issueErr error
		token, issueErr = s.issueForAgent(ctx, stores.Tokens(), issuableAgent{
			Agent:   agent,
			Scope:   ParseScope(grant.Scope),
			Flow:    string(GrantFlowDevice),
			GrantID: grant.ID,
		})
		return issueErr
	})
	if err != nil {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && rich.TextCode == ErrorStateConflict {
			return DevicePollResult{}, NewOAuthError(OAuthInvalidGrant, "")
		}
		return DevicePollResult{}, s.mapError(err)
	}
	fields["agent_id"] = grant.AgentID
	return DevicePollResult{Status: DevicePollIssued, Token: &token, Interval: interval}, nil
}
