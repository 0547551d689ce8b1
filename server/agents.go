package server

import (
	"net/http"

	"github.com/goliatone/go-agentpay/adapters/gocommand"
	agentcommand "github.com/goliatone/go-agentpay/command"
	"github.com/goliatone/go-agentpay/core"
	agentquery "github.com/goliatone/go-agentpay/query"
	"github.com/gorilla/mux"
)

type createAgentBody struct {
	Name        string              `json:"name"`
	Permissions []string            `json:"permissions"`
	Limits      core.SpendingLimits `json:"limits"`
	Currency    string              `json:"currency"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body createAgentBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	creds, err := gocommand.Dispatch[agentcommand.CreateAgentMessage, core.AgentCredentials](r.Context(), agentcommand.CreateAgentMessage{
		Request: core.CreateAgentRequest{
			OwnerID:     ownerID,
			Name:        body.Name,
			Permissions: body.Permissions,
			Limits:      body.Limits,
			Currency:    body.Currency,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, newCredentialsView(creds))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request, ownerID string) {
	agent, err := gocommand.Query[agentquery.GetAgentMessage, core.Agent](r.Context(), agentquery.GetAgentMessage{
		AgentID: mux.Vars(r)["id"],
		OwnerID: ownerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(agent))
}

func (s *Server) handleUpdateLimits(w http.ResponseWriter, r *http.Request, ownerID string) {
	var limits core.SpendingLimits
	if err := decodeJSON(w, r, &limits); err != nil {
		writeError(w, err)
		return
	}
	agent, err := gocommand.Dispatch[agentcommand.UpdateAgentLimitsMessage, core.Agent](r.Context(), agentcommand.UpdateAgentLimitsMessage{
		AgentRef: agentRef(r, ownerID),
		Limits:   limits,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(agent))
}

type permissionsBody struct {
	Permissions []string `json:"permissions"`
}

func (s *Server) handleUpdatePermissions(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body permissionsBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	agent, err := gocommand.Dispatch[agentcommand.UpdateAgentPermissionsMessage, core.Agent](r.Context(), agentcommand.UpdateAgentPermissionsMessage{
		AgentRef:    agentRef(r, ownerID),
		Permissions: body.Permissions,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(agent))
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request, ownerID string) {
	ref := agentRef(r, ownerID)
	var (
		agent core.Agent
		err   error
	)
	switch mux.Vars(r)["action"] {
	case "suspend":
		agent, err = gocommand.Dispatch[agentcommand.SuspendAgentMessage, core.Agent](r.Context(), agentcommand.SuspendAgentMessage{AgentRef: ref})
	case "reactivate":
		agent, err = gocommand.Dispatch[agentcommand.ReactivateAgentMessage, core.Agent](r.Context(), agentcommand.ReactivateAgentMessage{AgentRef: ref})
	case "revoke":
		agent, err = gocommand.Dispatch[agentcommand.RevokeAgentMessage, core.Agent](r.Context(), agentcommand.RevokeAgentMessage{AgentRef: ref})
	default:
		err = badRequest("unknown agent action")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(agent))
}

func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request, ownerID string) {
	creds, err := gocommand.Dispatch[agentcommand.RotateAgentSecretMessage, core.AgentCredentials](r.Context(), agentcommand.RotateAgentSecretMessage{
		AgentRef: agentRef(r, ownerID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newCredentialsView(creds))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, ownerID string) {
	report, err := gocommand.Query[agentquery.GetSpendingUsageMessage, core.SpendingUsageReport](r.Context(), agentquery.GetSpendingUsageMessage{
		AgentID: mux.Vars(r)["id"],
		OwnerID: ownerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type transactionPageView struct {
	Items []transactionView `json:"items"`
	Total int               `json:"total"`
}

// handleListTransactions checks ownership through the agent lookup first;
// the history reader itself is keyed by agent only.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, ownerID string) {
	agentID := mux.Vars(r)["id"]
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := gocommand.Query[agentquery.GetAgentMessage, core.Agent](r.Context(), agentquery.GetAgentMessage{
		AgentID: agentID,
		OwnerID: ownerID,
	}); err != nil {
		writeError(w, err)
		return
	}
	page, err := gocommand.Query[agentquery.ListTransactionsMessage, agentquery.TransactionPage](r.Context(), agentquery.ListTransactionsMessage{
		AgentID: agentID,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	view := transactionPageView{Items: make([]transactionView, 0, len(page.Items)), Total: page.Total}
	for _, tx := range page.Items {
		view.Items = append(view.Items, newTransactionView(tx))
	}
	writeJSON(w, http.StatusOK, view)
}

func agentRef(r *http.Request, ownerID string) agentcommand.AgentRef {
	return agentcommand.AgentRef{AgentID: mux.Vars(r)["id"], OwnerID: ownerID}
}
