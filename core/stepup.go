package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PurchaseOutcome string

const (
	PurchaseApproved         PurchaseOutcome = "approved"
	PurchaseStepUpRequired   PurchaseOutcome = "step_up_required"
	stepUpMintIdempotencyKey                 = "step_up:"
	stepUpAgentRevokedReason                 = "agent revoked"
)

type PurchaseRequest struct {
	AgentID         string
	Amount          int64
	Currency        string
	MerchantID      string
	MerchantName    string
	PaymentMethodID string
}

// PurchaseResult is a value for both outcomes: Credential and Transaction are
// set when approved, StepUp when escalated.
type PurchaseResult struct {
	Outcome     PurchaseOutcome
	Decision    LimitDecision
	Transaction *Transaction
	Credential  *MintedCredential
	StepUp      *StepUpRequest
}

type StepUpLookup struct {
	ID      string
	AgentID string
	OwnerID string
}

type ApproveStepUpRequest struct {
	ID              string
	OwnerID         string
	Challenge       string
	Assertion       []byte
	PaymentMethodID string
}

type StepUpApproval struct {
	Request     StepUpRequest
	Transaction Transaction
	Credential  MintedCredential
}

func (s *Service) RequestPurchase(ctx context.Context, req PurchaseRequest) (result PurchaseResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"agent_id": req.AgentID, "amount": req.Amount, "currency": req.Currency}
	defer func() {
		fields["outcome"] = string(result.Outcome)
		if result.Decision.Trigger != "" {
			fields["trigger"] = string(result.Decision.Trigger)
		}
		s.observeOperation(ctx, startedAt, "request_purchase", err, fields)
	}()

	if err := validatePurchase(req); err != nil {
		return PurchaseResult{}, s.mapError(err)
	}
	if s.agents == nil || s.transactions == nil || s.stepUps == nil {
		return PurchaseResult{}, s.mapError(errStoreUnavailable("purchase"))
	}
	agent, err := s.agents.Get(ctx, strings.TrimSpace(req.AgentID))
	if err != nil {
		if isNotFound(err) {
			return PurchaseResult{}, s.mapError(newNotFoundError("agent"))
		}
		return PurchaseResult{}, s.mapError(err)
	}
	if !agent.Active() {
		return PurchaseResult{}, s.mapError(newUnauthorizedError("core: agent is not active"))
	}
	if normalizeCurrency(req.Currency) != agent.Currency {
		return PurchaseResult{}, s.mapError(newBadInputError(
			fmt.Sprintf("core: currency %s does not match agent currency %s", normalizeCurrency(req.Currency), agent.Currency),
			"currency",
		))
	}

	decision, err := s.CheckSpendingLimits(ctx, agent, req.Amount)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !decision.Allowed {
		stepUp, stepErr := s.openStepUp(ctx, agent, req, decision)
		if stepErr != nil {
			return PurchaseResult{}, stepErr
		}
		return PurchaseResult{Outcome: PurchaseStepUpRequired, Decision: decision, StepUp: &stepUp}, nil
	}

	transactionID := uuid.NewString()
	credential, err := s.mintCredential(ctx, MintRequest{
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		MerchantID:      strings.TrimSpace(req.MerchantID),
		Amount:          req.Amount,
		Currency:        agent.Currency,
		IdempotencyKey:  transactionID,
	})
	if err != nil {
		return PurchaseResult{Decision: decision}, err
	}
	now := s.now()
	created, err := s.transactions.Create(ctx, Transaction{
		ID:                 transactionID,
		AgentID:            agent.ID,
		Amount:             req.Amount,
		Currency:           agent.Currency,
		MerchantID:         strings.TrimSpace(req.MerchantID),
		Status:             TransactionStatusPending,
		ApprovalType:       ApprovalTypeAuto,
		CredentialID:       credential.TokenID,
		DailyPeriodStart:   decision.Boundaries.DailyStart,
		MonthlyPeriodStart: decision.Boundaries.MonthlyStart,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return PurchaseResult{Decision: decision}, s.mapError(err)
	}
	fields["transaction_id"] = created.ID
	if touchErr := s.agents.TouchLastUsed(ctx, agent.ID, now); touchErr != nil {
		s.logWarn(ctx, "agent last used update failed", map[string]any{"agent_id": agent.ID, "error": touchErr.Error()})
	}
	return PurchaseResult{
		Outcome:     PurchaseApproved,
		Decision:    decision,
		Transaction: &created,
		Credential:  &credential,
	}, nil
}

func validatePurchase(req PurchaseRequest) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return newBadInputError("core: agent id is required", "agent_id")
	}
	if req.Amount <= 0 {
		return newBadInputError("core: amount must be positive", "amount")
	}
	if strings.TrimSpace(req.MerchantID) == "" {
		return newBadInputError("core: merchant id is required", "merchant_id")
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return newBadInputError("core: payment method id is required", "payment_method_id")
	}
	return nil
}

func (s *Service) openStepUp(ctx context.Context, agent Agent, req PurchaseRequest, decision LimitDecision) (StepUpRequest, error) {
	now := s.now()
	stepUp, err := s.stepUps.Create(ctx, StepUpRequest{
		ID:                       uuid.NewString(),
		AgentID:                  agent.ID,
		OwnerID:                  agent.OwnerID,
		Amount:                   req.Amount,
		Currency:                 agent.Currency,
		MerchantID:               strings.TrimSpace(req.MerchantID),
		MerchantName:             strings.TrimSpace(req.MerchantName),
		Reason:                   stepUpReason(decision, req.Amount),
		TriggerType:              decision.Trigger,
		Status:                   StepUpStatusPending,
		RequestedPaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		ExpiresAt:                now.Add(s.config.StepUp.TTL),
		CreatedAt:                now,
		UpdatedAt:                now,
	})
	if err != nil {
		return StepUpRequest{}, s.mapError(err)
	}
	s.notifyOwner(ctx, NotificationRequest{
		UserID:         agent.OwnerID,
		Type:           NotificationStepUpRequested,
		IdempotencyKey: stepUp.ID,
		Payload: map[string]any{
			"step_up_id":    stepUp.ID,
			"agent_id":      agent.ID,
			"agent_name":    agent.Name,
			"amount":        stepUp.Amount,
			"currency":      stepUp.Currency,
			"merchant_id":   stepUp.MerchantID,
			"merchant_name": stepUp.MerchantName,
			"reason":        stepUp.Reason,
			"expires_at":    stepUp.ExpiresAt,
		},
	})
	return stepUp, nil
}

func stepUpReason(decision LimitDecision, amount int64) string {
	switch decision.Trigger {
	case TriggerPerTransaction:
		return fmt.Sprintf("amount %d exceeds per-transaction limit of %d", amount, decision.Remaining.PerTransaction)
	case TriggerDailyLimit:
		return fmt.Sprintf("amount %d exceeds remaining daily limit of %d", amount, decision.Remaining.Daily)
	case TriggerMonthlyLimit:
		return fmt.Sprintf("amount %d exceeds remaining monthly limit of %d", amount, decision.Remaining.Monthly)
	default:
		return "spending limit exceeded"
	}
}

// GetStepUp expires a stale pending request on read. An expired request is
// returned as a value with StepUpStatusExpired; only a missing or foreign
// request is an error.
func (s *Service) GetStepUp(ctx context.Context, lookup StepUpLookup) (StepUpRequest, error) {
	req, err := s.loadStepUp(ctx, lookup)
	if err != nil {
		return StepUpRequest{}, err
	}
	return s.expireStepUpIfDue(ctx, req)
}

func (s *Service) IssueApprovalChallenge(ctx context.Context, stepUpID string, ownerID string) (challenge ApprovalChallenge, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"step_up_id": stepUpID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "issue_approval_challenge", err, fields)
	}()

	req, err := s.pendingStepUp(ctx, StepUpLookup{ID: stepUpID, OwnerID: ownerID})
	if err != nil {
		return ApprovalChallenge{}, err
	}
	if err := s.requireStepUpAgentActive(ctx, req); err != nil {
		return ApprovalChallenge{}, err
	}
	challenge, err = s.challenges.Issue(req.ID)
	if err != nil {
		return ApprovalChallenge{}, s.mapError(err)
	}
	if challenge.ExpiresAt.After(req.ExpiresAt) {
		challenge.ExpiresAt = req.ExpiresAt
	}
	return challenge, nil
}

// ApproveStepUp mints a new credential for exactly the requested amount on
// every approval; credentials are never reused.
func (s *Service) ApproveStepUp(ctx context.Context, req ApproveStepUpRequest) (approval StepUpApproval, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"step_up_id": req.ID, "owner_id": req.OwnerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "approve_step_up", err, fields)
	}()

	current, err := s.pendingStepUp(ctx, StepUpLookup{ID: req.ID, OwnerID: req.OwnerID})
	if err != nil {
		return StepUpApproval{}, err
	}
	if err := s.challenges.Consume(current.ID, req.Challenge); err != nil {
		return StepUpApproval{}, s.mapError(newUnauthorizedError(err.Error()))
	}
	if s.biometrics == nil {
		return StepUpApproval{}, s.mapError(fmt.Errorf("core: biometric verifier is not configured"))
	}
	verdict, err := s.biometrics.Verify(ctx, BiometricAssertion{
		OwnerID:   current.OwnerID,
		Challenge: req.Challenge,
		Payload:   req.Assertion,
	})
	if err != nil {
		return StepUpApproval{}, s.mapError(newUpstreamError(err, "biometric_verifier"))
	}
	if !verdict.Verified {
		return StepUpApproval{}, s.mapError(newUnauthorizedError("core: biometric verification failed"))
	}

	// Re-read after the out of band checks: the request may have been decided
	// or expired while the owner was prompted.
	current, err = s.pendingStepUp(ctx, StepUpLookup{ID: current.ID, OwnerID: current.OwnerID})
	if err != nil {
		return StepUpApproval{}, err
	}
	if err := s.requireStepUpAgentActive(ctx, current); err != nil {
		return StepUpApproval{}, err
	}

	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	if paymentMethodID == "" {
		paymentMethodID = current.RequestedPaymentMethodID
	}
	credential, err := s.mintCredential(ctx, MintRequest{
		PaymentMethodID: paymentMethodID,
		MerchantID:      current.MerchantID,
		Amount:          current.Amount,
		Currency:        current.Currency,
		IdempotencyKey:  stepUpMintIdempotencyKey + current.ID + ":" + uuid.NewString(),
	})
	if err != nil {
		return StepUpApproval{}, err
	}

	now := s.now()
	boundaries := s.PeriodBoundaries(now)
	transaction := Transaction{
		ID:                 uuid.NewString(),
		AgentID:            current.AgentID,
		Amount:             current.Amount,
		Currency:           current.Currency,
		MerchantID:         current.MerchantID,
		Status:             TransactionStatusPending,
		ApprovalType:       ApprovalTypeStepUp,
		StepUpRequestID:    current.ID,
		CredentialID:       credential.TokenID,
		DailyPeriodStart:   boundaries.DailyStart,
		MonthlyPeriodStart: boundaries.MonthlyStart,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	approved := current
	approved.Status = StepUpStatusApproved
	approved.ApprovedPaymentMethodID = paymentMethodID
	approved.TransactionID = transaction.ID
	approved.DecidedAt = &now
	approved.UpdatedAt = now

	err = s.runInTx(ctx, func(ctx context.Context, stores TxStores) error {
		if updateErr := stores.StepUps().Update(ctx, approved, StepUpStatusPending); updateErr != nil {
			return updateErr
		}
		created, createErr := stores.Transactions().Create(ctx, transaction)
		transaction = created
		return createErr
	})
	if err != nil {
		// The card network already issued the credential; nothing references
		// it now, so leave a trail for the owner's wallet to void it.
		fields["orphaned_credential_id"] = credential.TokenID
		s.logError(ctx, "step-up credential orphaned by concurrent decision", map[string]any{
			"step_up_id":             current.ID,
			"agent_id":               current.AgentID,
			"merchant_id":            current.MerchantID,
			"orphaned_credential_id": credential.TokenID,
		})
		return StepUpApproval{}, s.stepUpConflict(ctx, err, current.ID)
	}
	fields["transaction_id"] = transaction.ID
	s.emit(ctx, EventStepUpApproved, map[string]any{
		"step_up_id":     approved.ID,
		"agent_id":       approved.AgentID,
		"owner_id":       approved.OwnerID,
		"amount":         approved.Amount,
		"currency":       approved.Currency,
		"merchant_id":    approved.MerchantID,
		"transaction_id": transaction.ID,
	})
	return StepUpApproval{Request: approved, Transaction: transaction, Credential: credential}, nil
}

func (s *Service) RejectStepUp(ctx context.Context, stepUpID string, ownerID string, reason string) (rejected StepUpRequest, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"step_up_id": stepUpID, "owner_id": ownerID}
	defer func() {
		s.observeOperation(ctx, startedAt, "reject_step_up", err, fields)
	}()

	current, err := s.pendingStepUp(ctx, StepUpLookup{ID: stepUpID, OwnerID: ownerID})
	if err != nil {
		return StepUpRequest{}, err
	}
	now := s.now()
	rejected = current
	rejected.Status = StepUpStatusRejected
	rejected.RejectionReason = reason
	rejected.DecidedAt = &now
	rejected.UpdatedAt = now
	if err := s.stepUps.Update(ctx, rejected, StepUpStatusPending); err != nil {
		return StepUpRequest{}, s.stepUpConflict(ctx, err, current.ID)
	}
	s.emit(ctx, EventStepUpRejected, map[string]any{
		"step_up_id": rejected.ID,
		"agent_id":   rejected.AgentID,
		"owner_id":   rejected.OwnerID,
		"reason":     rejected.RejectionReason,
	})
	return rejected, nil
}

func (s *Service) loadStepUp(ctx context.Context, lookup StepUpLookup) (StepUpRequest, error) {
	if s.stepUps == nil {
		return StepUpRequest{}, s.mapError(errStoreUnavailable("step-up"))
	}
	id := strings.TrimSpace(lookup.ID)
	if id == "" {
		return StepUpRequest{}, s.mapError(newBadInputError("core: step-up id is required", "id"))
	}
	req, err := s.stepUps.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return StepUpRequest{}, s.mapError(newNotFoundError("step-up request"))
		}
		return StepUpRequest{}, s.mapError(err)
	}
	agentID := strings.TrimSpace(lookup.AgentID)
	ownerID := strings.TrimSpace(lookup.OwnerID)
	if agentID == "" && ownerID == "" {
		return StepUpRequest{}, s.mapError(newNotFoundError("step-up request"))
	}
	if (agentID != "" && req.AgentID != agentID) || (ownerID != "" && req.OwnerID != ownerID) {
		return StepUpRequest{}, s.mapError(newNotFoundError("step-up request"))
	}
	return req, nil
}

// pendingStepUp loads a request that must still be open; decided requests
// conflict with their actual status and lapsed ones report expiry.
func (s *Service) pendingStepUp(ctx context.Context, lookup StepUpLookup) (StepUpRequest, error) {
	req, err := s.loadStepUp(ctx, lookup)
	if err != nil {
		return StepUpRequest{}, err
	}
	req, err = s.expireStepUpIfDue(ctx, req)
	if err != nil {
		return StepUpRequest{}, err
	}
	switch req.Status {
	case StepUpStatusPending:
		return req, nil
	case StepUpStatusExpired:
		return StepUpRequest{}, s.mapError(newExpiredError("step-up request"))
	case StepUpStatusApproved, StepUpStatusRejected:
		return StepUpRequest{}, s.mapError(newStateConflictError("step-up request", string(req.Status)))
	}
	return StepUpRequest{}, s.mapError(newStateConflictError("step-up request", string(req.Status)))
}

func (s *Service) expireStepUpIfDue(ctx context.Context, req StepUpRequest) (StepUpRequest, error) {
	now := s.now()
	if req.Status != StepUpStatusPending || now.Before(req.ExpiresAt) {
		return req, nil
	}
	expired := req
	expired.Status = StepUpStatusExpired
	expired.UpdatedAt = now
	if err := s.stepUps.Update(ctx, expired, StepUpStatusPending); err != nil {
		if isStaleTransition(err) {
			latest, getErr := s.stepUps.Get(ctx, req.ID)
			if getErr != nil {
				return StepUpRequest{}, s.mapError(getErr)
			}
			return latest, nil
		}
		return StepUpRequest{}, s.mapError(err)
	}
	return expired, nil
}

// requireStepUpAgentActive blocks decisions on behalf of an agent that was
// suspended or revoked after the request was opened.
func (s *Service) requireStepUpAgentActive(ctx context.Context, req StepUpRequest) error {
	if s.agents == nil {
		return s.mapError(errStoreUnavailable("agent"))
	}
	agent, err := s.agents.Get(ctx, req.AgentID)
	if err != nil {
		if isNotFound(err) {
			return s.mapError(newNotFoundError("agent"))
		}
		return s.mapError(err)
	}
	if !agent.Active() {
		return s.mapError(newStateConflictError("agent", string(agent.Status)))
	}
	return nil
}

func (s *Service) stepUpConflict(ctx context.Context, err error, id string) error {
	if !isStaleTransition(err) {
		return s.mapError(err)
	}
	current := "unknown"
	if latest, getErr := s.stepUps.Get(ctx, id); getErr == nil {
		current = string(latest.Status)
	}
	return s.mapError(newStateConflictError("step-up request", current))
}

func (s *Service) mintCredential(ctx context.Context, req MintRequest) (MintedCredential, error) {
	if s.cardTokens == nil {
		return MintedCredential{}, s.mapError(fmt.Errorf("core: card token provider is not configured"))
	}
	credential, err := s.cardTokens.Mint(ctx, req)
	if err != nil {
		return MintedCredential{}, s.mapError(newUpstreamError(err, "card_token_provider"))
	}
	return credential, nil
}

func (s *Service) CompleteTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	return s.transitionTransaction(ctx, "complete_transaction", transactionID, TransactionStatusCompleted)
}

func (s *Service) FailTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	return s.transitionTransaction(ctx, "fail_transaction", transactionID, TransactionStatusFailed)
}

func (s *Service) RefundTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	return s.transitionTransaction(ctx, "refund_transaction", transactionID, TransactionStatusRefunded)
}

func (s *Service) transitionTransaction(ctx context.Context, operation string, transactionID string, next TransactionStatus) (transaction Transaction, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"transaction_id": transactionID, "next_status": string(next)}
	defer func() {
		s.observeOperation(ctx, startedAt, operation, err, fields)
	}()

	if s.transactions == nil {
		return Transaction{}, s.mapError(errStoreUnavailable("transaction"))
	}
	transaction, err = s.transactions.Get(ctx, strings.TrimSpace(transactionID))
	if err != nil {
		if isNotFound(err) {
			return Transaction{}, s.mapError(newNotFoundError("transaction"))
		}
		return Transaction{}, s.mapError(err)
	}
	if !transactionTransitionAllowed(transaction.Status, next) {
		return Transaction{}, s.mapError(newStateConflictError("transaction", string(transaction.Status)))
	}
	now := s.now()
	if err := s.transactions.UpdateStatus(ctx, transaction.ID, transaction.Status, next, now); err != nil {
		if isStaleTransition(err) {
			current := "unknown"
			if latest, getErr := s.transactions.Get(ctx, transaction.ID); getErr == nil {
				current = string(latest.Status)
			}
			return Transaction{}, s.mapError(newStateConflictError("transaction", current))
		}
		return Transaction{}, s.mapError(err)
	}
	transaction.Status = next
	transaction.UpdatedAt = now
	return transaction, nil
}
