package server

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-agentpay/adapters/gocommand"
	"github.com/goliatone/go-agentpay/auth"
	agentcommand "github.com/goliatone/go-agentpay/command"
	"github.com/goliatone/go-agentpay/core"
	agentquery "github.com/goliatone/go-agentpay/query"
	"github.com/gorilla/mux"
)

// PurchaseScope must be present in a bearer token's scope to spend.
const PurchaseScope = "payments:purchase"

type purchaseBody struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	MerchantID      string `json:"merchant_id"`
	MerchantName    string `json:"merchant_name"`
	PaymentMethodID string `json:"payment_method_id"`
}

// handlePurchase answers 201 with a credential or 202 with the pending
// step-up request.
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request, agent core.Agent, claims core.TokenClaims) {
	if mux.Vars(r)["id"] != agent.ID {
		writeError(w, forbidden("token does not belong to this agent"))
		return
	}
	if !hasScope(claims.Scope, PurchaseScope) {
		writeError(w, forbidden("token scope does not allow purchases"))
		return
	}
	var body purchaseBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	result, err := gocommand.Dispatch[agentcommand.RequestPurchaseMessage, core.PurchaseResult](r.Context(), agentcommand.RequestPurchaseMessage{
		Request: core.PurchaseRequest{
			AgentID:         agent.ID,
			Amount:          body.Amount,
			Currency:        body.Currency,
			MerchantID:      body.MerchantID,
			MerchantName:    body.MerchantName,
			PaymentMethodID: body.PaymentMethodID,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Outcome == core.PurchaseStepUpRequired {
		status = http.StatusAccepted
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, newPurchaseView(result))
}

// handleGetStepUp serves both the polling agent (bearer) and the owner.
func (s *Server) handleGetStepUp(w http.ResponseWriter, r *http.Request) {
	lookup := core.StepUpLookup{ID: mux.Vars(r)["id"]}
	if token, ok := auth.BearerToken(r); ok {
		agent, _, err := s.backend.AuthenticateAgent(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		lookup.AgentID = agent.ID
	} else {
		ownerID, err := s.owners.ResolveOwner(r)
		if err != nil || ownerID == "" {
			writeError(w, unauthorized("owner or agent authentication required"))
			return
		}
		lookup.OwnerID = ownerID
	}
	stepUp, err := gocommand.Query[agentquery.GetStepUpMessage, core.StepUpRequest](r.Context(), agentquery.GetStepUpMessage{Lookup: lookup})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStepUpView(stepUp))
}

func (s *Server) handleStepUpChallenge(w http.ResponseWriter, r *http.Request, ownerID string) {
	challenge, err := s.backend.IssueApprovalChallenge(r.Context(), mux.Vars(r)["id"], ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, challenge)
}

// approveBody carries the biometric assertion base64 encoded.
type approveBody struct {
	Challenge       string `json:"challenge"`
	Assertion       []byte `json:"assertion"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) handleStepUpApprove(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body approveBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	approval, err := gocommand.Dispatch[agentcommand.ApproveStepUpMessage, core.StepUpApproval](r.Context(), agentcommand.ApproveStepUpMessage{
		Request: core.ApproveStepUpRequest{
			ID:              mux.Vars(r)["id"],
			OwnerID:         ownerID,
			Challenge:       body.Challenge,
			Assertion:       body.Assertion,
			PaymentMethodID: body.PaymentMethodID,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newApprovalView(approval))
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleStepUpReject(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body rejectBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	rejected, err := gocommand.Dispatch[agentcommand.RejectStepUpMessage, core.StepUpRequest](r.Context(), agentcommand.RejectStepUpMessage{
		StepUpID: mux.Vars(r)["id"],
		OwnerID:  ownerID,
		Reason:   body.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStepUpView(rejected))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, credential auth.ResourceServerCredential) {
	vars := mux.Vars(r)
	tx, err := gocommand.Dispatch[agentcommand.SettleTransactionMessage, core.Transaction](r.Context(), agentcommand.SettleTransactionMessage{
		TransactionID: vars["id"],
		Outcome:       agentcommand.Settlement(vars["outcome"]),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("transaction settled", "transaction_id", tx.ID, "status", string(tx.Status), "resource_server", credential.ID)
	writeJSON(w, http.StatusOK, newTransactionView(tx))
}

type webhookBody struct {
	URL     string   `json:"url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

// handleRegisterWebhook upserts the calling merchant's subscription; the
// merchant id is the authenticated resource server id.
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request, credential auth.ResourceServerCredential) {
	var body webhookBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	sub, err := gocommand.Dispatch[agentcommand.RegisterWebhookMessage, core.WebhookSubscription](r.Context(), agentcommand.RegisterWebhookMessage{
		Request: core.RegisterWebhookRequest{
			MerchantID: credential.ID,
			URL:        body.URL,
			Secret:     body.Secret,
			Events:     body.Events,
			Enabled:    body.Enabled,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookView(sub))
}

func hasScope(scope string, want string) bool {
	for _, granted := range strings.Fields(scope) {
		if granted == want {
			return true
		}
	}
	return false
}
