package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CreateAgentRequest struct {
	OwnerID     string
	Name        string
	Permissions []string
	Limits      SpendingLimits
	Currency    string
}

// AgentCredentials carries the plaintext client secret, which is returned
// only from creation and rotation.
type AgentCredentials struct {
	Agent        Agent
	ClientID     string
	ClientSecret string
}

func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (creds AgentCredentials, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"owner_id": req.OwnerID}
	defer func() {
		fields["agent_id"] = creds.Agent.ID
		s.observeOperation(ctx, startedAt, "create_agent", err, fields)
	}()

	if s.agents == nil {
		return AgentCredentials{}, s.mapError(errStoreUnavailable("agent"))
	}
	agent, secret, err := s.newAgent(uuid.NewString(), req)
	if err != nil {
		return AgentCredentials{}, err
	}
	created, err := s.agents.Create(ctx, agent)
	if err != nil {
		return AgentCredentials{}, s.mapError(err)
	}
	return AgentCredentials{Agent: created, ClientID: created.ClientID, ClientSecret: secret}, nil
}

// newAgent builds an active agent with fresh client credentials.
func (s *Service) newAgent(id string, req CreateAgentRequest) (Agent, string, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return Agent{}, "", s.mapError(newBadInputError("core: owner id is required", "owner_id"))
	}
	if err := req.Limits.Validate(); err != nil {
		return Agent{}, "", s.mapError(newBadInputError(err.Error(), "limits"))
	}
	currency := normalizeCurrency(req.Currency)
	if len(currency) != 3 {
		return Agent{}, "", s.mapError(newBadInputError("core: currency must be an ISO 4217 code", "currency"))
	}
	clientID, err := s.vault.GenerateClientID()
	if err != nil {
		return Agent{}, "", s.mapError(err)
	}
	secret, err := s.vault.GenerateClientSecret()
	if err != nil {
		return Agent{}, "", s.mapError(err)
	}
	hash, err := s.vault.HashSecret(secret)
	if err != nil {
		return Agent{}, "", s.mapError(err)
	}
	now := s.now()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = clientID
	}
	return Agent{
		ID:               id,
		OwnerID:          ownerID,
		ClientID:         clientID,
		ClientSecretHash: hash,
		Name:             name,
		Permissions:      NormalizePermissions(req.Permissions),
		Limits:           req.Limits,
		Currency:         currency,
		Status:           AgentStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, secret, nil
}

func (s *Service) GetAgent(ctx context.Context, agentID string, ownerID string) (Agent, error) {
	return s.ownedAgent(ctx, agentID, ownerID)
}

func (s *Service) UpdateAgentLimits(ctx context.Context, agentID string, ownerID string, limits SpendingLimits) (agent Agent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_agent_limits", err, fields)
	}()

	if err := limits.Validate(); err != nil {
		return Agent{}, s.mapError(newBadInputError(err.Error(), "limits"))
	}
	return s.mutateAgent(ctx, agentID, ownerID, func(current *Agent) error {
		if current.Status == AgentStatusRevoked {
			return newStateConflictError("agent", string(current.Status))
		}
		current.Limits = limits
		return nil
	})
}

func (s *Service) UpdateAgentPermissions(ctx context.Context, agentID string, ownerID string, permissions []string) (agent Agent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_agent_permissions", err, fields)
	}()

	return s.mutateAgent(ctx, agentID, ownerID, func(current *Agent) error {
		if current.Status == AgentStatusRevoked {
			return newStateConflictError("agent", string(current.Status))
		}
		current.Permissions = NormalizePermissions(permissions)
		return nil
	})
}

func (s *Service) SuspendAgent(ctx context.Context, agentID string, ownerID string) (agent Agent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "suspend_agent", err, fields)
	}()

	agent, err = s.transitionAgent(ctx, agentID, ownerID, AgentStatusSuspended)
	if err != nil {
		return Agent{}, err
	}
	s.emit(ctx, EventAgentSuspended, agentEventData(agent))
	return agent, nil
}

func (s *Service) ReactivateAgent(ctx context.Context, agentID string, ownerID string) (agent Agent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "reactivate_agent", err, fields)
	}()

	return s.transitionAgent(ctx, agentID, ownerID, AgentStatusActive)
}

// RevokeAgent soft deletes the agent and revokes every live token in the same
// transaction. Subscribers are notified after commit.
func (s *Service) RevokeAgent(ctx context.Context, agentID string, ownerID string) (agent Agent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_agent", err, fields)
	}()

	current, err := s.ownedAgent(ctx, agentID, ownerID)
	if err != nil {
		return Agent{}, err
	}
	expected := current.Status
	now := s.now()
	if err := current.TransitionTo(AgentStatusRevoked, now); err != nil {
		return Agent{}, s.mapError(newStateConflictError("agent", string(expected)))
	}

	revokedTokens, rejectedStepUps := 0, 0
	err = s.runInTx(ctx, func(ctx context.Context, stores TxStores) error {
		updated, updateErr := stores.Agents().Update(ctx, current, expected)
		if updateErr != nil {
			return updateErr
		}
		agent = updated
		count, revokeErr := stores.Tokens().RevokeAllForAgent(ctx, updated.ID, now)
		if revokeErr != nil {
			return revokeErr
		}
		revokedTokens = count
		rejected, rejectErr := stores.StepUps().RejectPendingForAgent(ctx, updated.ID, stepUpAgentRevokedReason, now)
		rejectedStepUps = rejected
		return rejectErr
	})
	if err != nil {
		return Agent{}, s.conflictOnStale(ctx, err, agentID)
	}
	fields["revoked_tokens"] = revokedTokens
	fields["rejected_step_ups"] = rejectedStepUps
	s.emit(ctx, EventAgentRevoked, agentEventData(agent))
	return agent, nil
}

// RotateAgentSecret replaces the client secret and revokes outstanding tokens
// so sessions minted under the old secret end with it.
func (s *Service) RotateAgentSecret(ctx context.Context, agentID string, ownerID string) (creds AgentCredentials, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": agentID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "rotate_agent_secret", err, fields)
	}()

	current, err := s.ownedAgent(ctx, agentID, ownerID)
	if err != nil {
		return AgentCredentials{}, err
	}
	if current.Status == AgentStatusRevoked {
		return AgentCredentials{}, s.mapError(newStateConflictError("agent", string(current.Status)))
	}
	secret, err := s.vault.GenerateClientSecret()
	if err != nil {
		return AgentCredentials{}, s.mapError(err)
	}
	hash, err := s.vault.HashSecret(secret)
	if err != nil {
		return AgentCredentials{}, s.mapError(err)
	}
	now := s.now()
	expected := current.Status
	current.ClientSecretHash = hash
	current.SecretRotatedAt = &now
	current.UpdatedAt = now

	var updated Agent
	err = s.runInTx(ctx, func(ctx context.Context, stores TxStores) error {
		var updateErr error
		updated, updateErr = stores.Agents().Update(ctx, current, expected)
		if updateErr != nil {
			return updateErr
		}
		_, revokeErr := stores.Tokens().RevokeAllForAgent(ctx, updated.ID, now)
		return revokeErr
	})
	if err != nil {
		return AgentCredentials{}, s.conflictOnStale(ctx, err, agentID)
	}
	s.emit(ctx, EventAgentSecretRotated, agentEventData(updated))
	return AgentCredentials{Agent: updated, ClientID: updated.ClientID, ClientSecret: secret}, nil
}

func (s *Service) transitionAgent(ctx context.Context, agentID string, ownerID string, next AgentStatus) (Agent, error) {
	return s.mutateAgent(ctx, agentID, ownerID, func(current *Agent) error {
		previous := current.Status
		if err := current.TransitionTo(next, s.now()); err != nil {
			return newStateConflictError("agent", string(previous))
		}
		return nil
	})
}

// mutateAgent applies fn to a fresh read and writes it back only if the
// status did not change in between.
func (s *Service) mutateAgent(ctx context.Context, agentID string, ownerID string, fn func(current *Agent) error) (Agent, error) {
	current, err := s.ownedAgent(ctx, agentID, ownerID)
	if err != nil {
		return Agent{}, err
	}
	expected := current.Status
	if err := fn(&current); err != nil {
		return Agent{}, s.mapError(err)
	}
	current.UpdatedAt = s.now()
	updated, err := s.agents.Update(ctx, current, expected)
	if err != nil {
		return Agent{}, s.conflictOnStale(ctx, err, agentID)
	}
	return updated, nil
}

// conflictOnStale converts a lost check-then-write race into a conflict that
// reports the status now stored.
func (s *Service) conflictOnStale(ctx context.Context, err error, agentID string) error {
	if !isStaleTransition(err) {
		return s.mapError(err)
	}
	current := "unknown"
	if s.agents != nil {
		if agent, getErr := s.agents.Get(ctx, agentID); getErr == nil {
			current = string(agent.Status)
		}
	}
	return s.mapError(newStateConflictError("agent", current))
}

func agentEventData(agent Agent) map[string]any {
	return map[string]any{
		"agent_id":  agent.ID,
		"client_id": agent.ClientID,
		"owner_id":  agent.OwnerID,
		"status":    string(agent.Status),
	}
}
