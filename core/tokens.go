package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const TokenTypeBearer = "Bearer"

// TokenClaims is the bearer token payload. Algorithm and KeyID are populated
// by TokenCodec.Verify and ignored by Sign.
type TokenClaims struct {
	ID          string
	Subject     string
	ClientID    string
	OwnerID     string
	Permissions []string
	Scope       string
	Audience    []string
	Issuer      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Algorithm   string
	KeyID       string
}

// TokenCodec signs and verifies bearer tokens. Verify must reject tokens
// signed with any algorithm outside the codec's accepted set.
type TokenCodec interface {
	Sign(ctx context.Context, claims TokenClaims) (string, error)
	Verify(ctx context.Context, token string) (TokenClaims, error)
}

type IssuedToken struct {
	Token     string
	TokenHash string
	Scope     string
	ExpiresAt time.Time
}

// IntrospectionResult is the relying party view of a token. Inactive tokens
// carry only Active=false unless the token is valid but its agent is not.
type IntrospectionResult struct {
	Active         bool            `json:"active"`
	ClientID       string          `json:"client_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	OwnerID        string          `json:"owner_id,omitempty"`
	Permissions    []string        `json:"permissions,omitempty"`
	Scope          string          `json:"scope,omitempty"`
	SpendingLimits *SpendingLimits `json:"spending_limits,omitempty"`
	CurrentUsage   *SpendingUsage  `json:"current_usage,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	AgentStatus    AgentStatus     `json:"agent_status,omitempty"`
	ExpiresAt      int64           `json:"exp,omitempty"`
}

// TokenDigest is the only form in which issued tokens are persisted.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

func (s *Service) IssueToken(ctx context.Context, agent Agent, scope []string, audience string) (IssuedToken, error) {
	if s.tokens == nil {
		return IssuedToken{}, s.mapError(errStoreUnavailable("token"))
	}
	return s.issueToken(ctx, s.tokens, agent, scope, audience)
}

func (s *Service) issueToken(ctx context.Context, tokens TokenStore, agent Agent, scope []string, audience string) (IssuedToken, error) {
	if s.tokenCodec == nil {
		return IssuedToken{}, s.mapError(fmt.Errorf("core: token codec is not configured"))
	}
	now := s.now()
	granted := IntersectScope(scope, agent.Permissions)
	claims := TokenClaims{
		ID:          uuid.NewString(),
		Subject:     agent.ID,
		ClientID:    agent.ClientID,
		OwnerID:     agent.OwnerID,
		Permissions: NormalizePermissions(agent.Permissions),
		Scope:       FormatScope(granted),
		Issuer:      s.config.Issuer,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.Token.TTL),
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		claims.Audience = []string{audience}
	}
	token, err := s.tokenCodec.Sign(ctx, claims)
	if err != nil {
		return IssuedToken{}, s.mapError(err)
	}
	issued := IssuedToken{
		Token:     token,
		TokenHash: TokenDigest(token),
		Scope:     claims.Scope,
		ExpiresAt: claims.ExpiresAt,
	}
	if err := tokens.Save(ctx, AccessTokenRecord{
		TokenHash: issued.TokenHash,
		AgentID:   agent.ID,
		Scope:     issued.Scope,
		ExpiresAt: issued.ExpiresAt,
		CreatedAt: now,
	}); err != nil {
		return IssuedToken{}, s.mapError(err)
	}
	return issued, nil
}

// VerifyToken checks signature, issuer and expiry only. It reports false
// instead of an error for any token that does not verify.
func (s *Service) VerifyToken(ctx context.Context, token string) (TokenClaims, bool) {
	if s == nil || s.tokenCodec == nil {
		return TokenClaims{}, false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenClaims{}, false
	}
	claims, err := s.tokenCodec.Verify(ctx, token)
	if err != nil {
		return TokenClaims{}, false
	}
	return claims, true
}

// IsTokenRevoked treats a digest missing from the store as not revoked.
func (s *Service) IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if s.tokens == nil {
		return false, s.mapError(errStoreUnavailable("token"))
	}
	record, err := s.tokens.Get(ctx, tokenHash)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, s.mapError(err)
	}
	return record.Revoked(), nil
}

func (s *Service) Introspect(ctx context.Context, token string) (result IntrospectionResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["active"] = result.Active
		s.observeOperation(ctx, startedAt, "introspect", err, fields)
	}()

	claims, ok := s.VerifyToken(ctx, token)
	if !ok {
		return IntrospectionResult{Active: false}, nil
	}
	fields["agent_id"] = claims.Subject
	revoked, err := s.IsTokenRevoked(ctx, TokenDigest(token))
	if err != nil {
		return IntrospectionResult{}, err
	}
	if revoked {
		return IntrospectionResult{Active: false}, nil
	}
	if s.agents == nil {
		return IntrospectionResult{}, s.mapError(errStoreUnavailable("agent"))
	}
	agent, err := s.agents.Get(ctx, claims.Subject)
	if err != nil {
		if isNotFound(err) {
			return IntrospectionResult{Active: false}, nil
		}
		return IntrospectionResult{}, s.mapError(err)
	}
	if !agent.Active() {
		return IntrospectionResult{Active: false, AgentID: agent.ID, AgentStatus: agent.Status}, nil
	}

	usage, err := s.Usage(ctx, agent.ID, agent.Currency, s.PeriodBoundaries(s.now()))
	if err != nil {
		return IntrospectionResult{}, err
	}
	limits := agent.Limits
	return IntrospectionResult{
		Active:         true,
		ClientID:       agent.ClientID,
		AgentID:        agent.ID,
		OwnerID:        agent.OwnerID,
		Permissions:    NormalizePermissions(agent.Permissions),
		Scope:          claims.Scope,
		SpendingLimits: &limits,
		CurrentUsage:   &usage,
		Currency:       agent.Currency,
		AgentStatus:    agent.Status,
		ExpiresAt:      claims.ExpiresAt.Unix(),
	}, nil
}

// AuthenticateAgent resolves a presented bearer token to its live, active
// agent. It is the guard for agent facing endpoints.
func (s *Service) AuthenticateAgent(ctx context.Context, token string) (Agent, TokenClaims, error) {
	claims, ok := s.VerifyToken(ctx, token)
	if !ok {
		return Agent{}, TokenClaims{}, s.mapError(newUnauthorizedError("core: invalid bearer token"))
	}
	revoked, err := s.IsTokenRevoked(ctx, TokenDigest(token))
	if err != nil {
		return Agent{}, TokenClaims{}, err
	}
	if revoked {
		return Agent{}, TokenClaims{}, s.mapError(newUnauthorizedError("core: bearer token revoked"))
	}
	if s.agents == nil {
		return Agent{}, TokenClaims{}, s.mapError(errStoreUnavailable("agent"))
	}
	agent, err := s.agents.Get(ctx, claims.Subject)
	if err != nil || !agent.Active() {
		return Agent{}, TokenClaims{}, s.mapError(newUnauthorizedError("core: agent is not active"))
	}
	return agent, claims, nil
}

// RevokeToken is monotonic: a second revocation keeps the first timestamp.
func (s *Service) RevokeToken(ctx context.Context, tokenHash string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_token", err, fields)
	}()

	if s.tokens == nil {
		return s.mapError(errStoreUnavailable("token"))
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return s.mapError(newBadInputError("core: token hash is required", "token_hash"))
	}
	record, err := s.tokens.Get(ctx, tokenHash)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return s.mapError(err)
	}
	fields["agent_id"] = record.AgentID
	changed, err := s.tokens.Revoke(ctx, tokenHash, s.now())
	if err != nil {
		return s.mapError(err)
	}
	if changed {
		s.emit(ctx, EventTokenRevoked, map[string]any{
			"agent_id":   record.AgentID,
			"token_hash": tokenHash,
		})
	}
	return nil
}

// RevokeTokenValue backs the public revocation endpoint. Unknown or malformed
// tokens succeed silently.
func (s *Service) RevokeTokenValue(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return s.RevokeToken(ctx, TokenDigest(token))
}

func (s *Service) RevokeAllTokens(ctx context.Context, agentID string) (count int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID}
	defer func() {
		fields["revoked"] = count
		s.observeOperation(ctx, startedAt, "revoke_all_tokens", err, fields)
	}()

	if s.tokens == nil {
		return 0, s.mapError(errStoreUnavailable("token"))
	}
	count, err = s.tokens.RevokeAllForAgent(ctx, agentID, s.now())
	if err != nil {
		return 0, s.mapError(err)
	}
	return count, nil
}
