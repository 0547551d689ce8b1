package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-agentpay/core"
	gocmd "github.com/goliatone/go-command"
)

type stubMutatingService struct {
	createAgentFn       func(ctx context.Context, req core.CreateAgentRequest) (core.AgentCredentials, error)
	agentTransitionFn   func(ctx context.Context, op string, agentID string, ownerID string) (core.Agent, error)
	updateLimitsFn      func(ctx context.Context, agentID string, ownerID string, limits core.SpendingLimits) (core.Agent, error)
	updatePermissionsFn func(ctx context.Context, agentID string, ownerID string, permissions []string) (core.Agent, error)
	rotateFn            func(ctx context.Context, agentID string, ownerID string) (core.AgentCredentials, error)
	purchaseFn          func(ctx context.Context, req core.PurchaseRequest) (core.PurchaseResult, error)
	approveFn           func(ctx context.Context, req core.ApproveStepUpRequest) (core.StepUpApproval, error)
	rejectFn            func(ctx context.Context, stepUpID string, ownerID string, reason string) (core.StepUpRequest, error)
	settleFn            func(ctx context.Context, op string, transactionID string) (core.Transaction, error)
	registerWebhookFn   func(ctx context.Context, req core.RegisterWebhookRequest) (core.WebhookSubscription, error)
	registerClientFn    func(ctx context.Context, client core.OAuthClient) (core.OAuthClient, error)
}

func (s stubMutatingService) CreateAgent(ctx context.Context, req core.CreateAgentRequest) (core.AgentCredentials, error) {
	return s.createAgentFn(ctx, req)
}

func (s stubMutatingService) UpdateAgentLimits(ctx context.Context, agentID string, ownerID string, limits core.SpendingLimits) (core.Agent, error) {
	return s.updateLimitsFn(ctx, agentID, ownerID, limits)
}

func (s stubMutatingService) UpdateAgentPermissions(ctx context.Context, agentID string, ownerID string, permissions []string) (core.Agent, error) {
	return s.updatePermissionsFn(ctx, agentID, ownerID, permissions)
}

func (s stubMutatingService) SuspendAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error) {
	return s.agentTransitionFn(ctx, "suspend", agentID, ownerID)
}

func (s stubMutatingService) ReactivateAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error) {
	return s.agentTransitionFn(ctx, "reactivate", agentID, ownerID)
}

func (s stubMutatingService) RevokeAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error) {
	return s.agentTransitionFn(ctx, "revoke", agentID, ownerID)
}

func (s stubMutatingService) RotateAgentSecret(ctx context.Context, agentID string, ownerID string) (core.AgentCredentials, error) {
	return s.rotateFn(ctx, agentID, ownerID)
}

func (s stubMutatingService) RequestPurchase(ctx context.Context, req core.PurchaseRequest) (core.PurchaseResult, error) {
	return s.purchaseFn(ctx, req)
}

func (s stubMutatingService) ApproveStepUp(ctx context.Context, req core.ApproveStepUpRequest) (core.StepUpApproval, error) {
	return s.approveFn(ctx, req)
}

func (s stubMutatingService) RejectStepUp(ctx context.Context, stepUpID string, ownerID string, reason string) (core.StepUpRequest, error) {
	return s.rejectFn(ctx, stepUpID, ownerID, reason)
}

func (s stubMutatingService) CompleteTransaction(ctx context.Context, transactionID string) (core.Transaction, error) {
	return s.settleFn(ctx, "complete", transactionID)
}

func (s stubMutatingService) FailTransaction(ctx context.Context, transactionID string) (core.Transaction, error) {
	return s.settleFn(ctx, "fail", transactionID)
}

func (s stubMutatingService) RefundTransaction(ctx context.Context, transactionID string) (core.Transaction, error) {
	return s.settleFn(ctx, "refund", transactionID)
}

func (s stubMutatingService) RegisterWebhook(ctx context.Context, req core.RegisterWebhookRequest) (core.WebhookSubscription, error) {
	return s.registerWebhookFn(ctx, req)
}

func (s stubMutatingService) RegisterOAuthClient(ctx context.Context, client core.OAuthClient) (core.OAuthClient, error) {
	return s.registerClientFn(ctx, client)
}

func TestCreateAgentCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	svc := stubMutatingService{
		createAgentFn: func(_ context.Context, req core.CreateAgentRequest) (core.AgentCredentials, error) {
			if req.OwnerID != "owner_1" || req.Name != "shopper" {
				t.Fatalf("unexpected create request: %#v", req)
			}
			return core.AgentCredentials{ClientID: "apc_1", ClientSecret: "aps_1"}, nil
		},
	}

	collector := gocmd.NewResult[core.AgentCredentials]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewCreateAgentCommand(svc).Execute(ctx, CreateAgentMessage{Request: core.CreateAgentRequest{
		OwnerID: "owner_1",
		Name:    "shopper",
	}})
	if err != nil {
		t.Fatalf("execute create agent: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.ClientID != "apc_1" || result.ClientSecret != "aps_1" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestAgentTransitionCommands_Delegate(t *testing.T) {
	calls := []string{}
	svc := stubMutatingService{
		agentTransitionFn: func(_ context.Context, op string, agentID string, ownerID string) (core.Agent, error) {
			if agentID != "ag_1" || ownerID != "owner_1" {
				t.Fatalf("unexpected %s payload: %q %q", op, agentID, ownerID)
			}
			calls = append(calls, op)
			return core.Agent{ID: agentID}, nil
		},
	}
	ref := AgentRef{AgentID: "ag_1", OwnerID: "owner_1"}
	ctx := context.Background()

	if err := NewSuspendAgentCommand(svc).Execute(ctx, SuspendAgentMessage{ref}); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if err := NewReactivateAgentCommand(svc).Execute(ctx, ReactivateAgentMessage{ref}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if err := NewRevokeAgentCommand(svc).Execute(ctx, RevokeAgentMessage{ref}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(calls) != 3 || calls[0] != "suspend" || calls[1] != "reactivate" || calls[2] != "revoke" {
		t.Fatalf("unexpected call order %v", calls)
	}
}

func TestRequestPurchaseCommand_StoresStepUpOutcome(t *testing.T) {
	svc := stubMutatingService{
		purchaseFn: func(_ context.Context, req core.PurchaseRequest) (core.PurchaseResult, error) {
			return core.PurchaseResult{
				Outcome: core.PurchaseStepUpRequired,
				StepUp:  &core.StepUpRequest{ID: "su_1", AgentID: req.AgentID},
			}, nil
		},
	}
	collector := gocmd.NewResult[core.PurchaseResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewRequestPurchaseCommand(svc).Execute(ctx, RequestPurchaseMessage{Request: core.PurchaseRequest{
		AgentID: "ag_1", Amount: 1500, MerchantID: "m_1",
	}}); err != nil {
		t.Fatalf("execute purchase: %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.Outcome != core.PurchaseStepUpRequired || result.StepUp == nil || result.StepUp.ID != "su_1" {
		t.Fatalf("unexpected purchase result: %#v", result)
	}
}

func TestSettleTransactionCommand_RoutesByOutcome(t *testing.T) {
	for _, outcome := range []Settlement{SettlementComplete, SettlementFail, SettlementRefund} {
		t.Run(string(outcome), func(t *testing.T) {
			var got string
			svc := stubMutatingService{
				settleFn: func(_ context.Context, op string, transactionID string) (core.Transaction, error) {
					got = op
					return core.Transaction{ID: transactionID}, nil
				},
			}
			if err := NewSettleTransactionCommand(svc).Execute(context.Background(), SettleTransactionMessage{
				TransactionID: "tx_1",
				Outcome:       outcome,
			}); err != nil {
				t.Fatalf("settle: %v", err)
			}
			if got != string(outcome) {
				t.Fatalf("expected %s, got %s", outcome, got)
			}
		})
	}
}

func TestRejectAndRegisterCommands_Delegate(t *testing.T) {
	rejected := false
	registered := false
	svc := stubMutatingService{
		rejectFn: func(_ context.Context, stepUpID string, ownerID string, reason string) (core.StepUpRequest, error) {
			rejected = stepUpID == "su_1" && ownerID == "owner_1" && reason == "not me"
			return core.StepUpRequest{ID: stepUpID, Status: core.StepUpStatusRejected}, nil
		},
		registerWebhookFn: func(_ context.Context, req core.RegisterWebhookRequest) (core.WebhookSubscription, error) {
			registered = req.MerchantID == "m_1"
			return core.WebhookSubscription{ID: "wh_1", MerchantID: req.MerchantID}, nil
		},
	}
	if err := NewRejectStepUpCommand(svc).Execute(context.Background(), RejectStepUpMessage{
		StepUpID: "su_1", OwnerID: "owner_1", Reason: "not me",
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := NewRegisterWebhookCommand(svc).Execute(context.Background(), RegisterWebhookMessage{
		Request: core.RegisterWebhookRequest{MerchantID: "m_1", URL: "https://m.example/hook"},
	}); err != nil {
		t.Fatalf("register webhook: %v", err)
	}
	if !rejected || !registered {
		t.Fatalf("expected both delegations, rejected=%v registered=%v", rejected, registered)
	}
}

func TestMessages_Validate(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"create agent without owner":  CreateAgentMessage{Request: core.CreateAgentRequest{Name: "x"}},
		"limits without agent":        UpdateAgentLimitsMessage{AgentRef: AgentRef{OwnerID: "o"}},
		"negative limits":             UpdateAgentLimitsMessage{AgentRef: AgentRef{AgentID: "a", OwnerID: "o"}, Limits: core.SpendingLimits{Daily: -1}},
		"purchase without amount":     RequestPurchaseMessage{Request: core.PurchaseRequest{AgentID: "a", MerchantID: "m"}},
		"approve without challenge":   ApproveStepUpMessage{Request: core.ApproveStepUpRequest{ID: "su", OwnerID: "o"}},
		"settle with unknown outcome": SettleTransactionMessage{TransactionID: "tx", Outcome: "void"},
		"client without redirect":     RegisterOAuthClientMessage{Client: core.OAuthClient{ClientID: "c"}},
	}
	for name, msg := range cases {
		if err := msg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := (SuspendAgentMessage{AgentRef{AgentID: "a", OwnerID: "o"}}).Validate(); err != nil {
		t.Fatalf("expected valid suspend message: %v", err)
	}
}
