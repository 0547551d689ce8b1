package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-agentpay/auth"
	"github.com/goliatone/go-agentpay/core"
	"github.com/gorilla/mux"
)

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeOAuthError(w, err)
		return
	}
	clientID, clientSecret := auth.ClientCredentials(r)
	resp, err := s.backend.ExchangeToken(r.Context(), core.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostFormValue("scope"),
		Audience:     r.PostFormValue("audience"),
		Code:         r.PostFormValue("code"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		DeviceCode:   r.PostFormValue("device_code"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeOAuthError(w, err)
		return
	}
	clientID, _ := auth.ClientCredentials(r)
	resp, err := s.backend.StartDeviceAuthorization(r.Context(), core.DeviceAuthorizationRequest{
		ClientID: clientID,
		Scope:    r.PostFormValue("scope"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

type deviceClaimBody struct {
	UserCode string `json:"user_code"`
}

func (s *Server) handleDeviceClaim(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body deviceClaimBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	grant, err := s.backend.ClaimDeviceCode(r.Context(), body.UserCode, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantView(grant))
}

// decisionBody configures the agent created when the owner approves.
type decisionBody struct {
	GrantID  string              `json:"grant_id"`
	Approve  bool                `json:"approve"`
	Name     string              `json:"name"`
	Limits   core.SpendingLimits `json:"limits"`
	Currency string              `json:"currency"`
}

func (s *Server) handleDeviceDecision(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body decisionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	grant, err := s.backend.DecideDeviceAuthorization(r.Context(), core.DeviceDecision{
		GrantID:  body.GrantID,
		OwnerID:  ownerID,
		Approve:  body.Approve,
		Name:     body.Name,
		Limits:   body.Limits,
		Currency: body.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantView(grant))
}

// handleAuthorize opens the session the host UI renders. Client and redirect
// problems are answered here, never by redirecting.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if responseType := query.Get("response_type"); responseType != "" && responseType != "code" {
		writeError(w, badRequest("response_type must be code"))
		return
	}
	session, err := s.backend.StartAuthorization(r.Context(), core.AuthorizationRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		State:               query.Get("state"),
		Scope:               query.Get("scope"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		GrantID:   session.GrantID,
		ClientID:  session.ClientID,
		Scope:     session.Scope,
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleAuthorizeIdentify(w http.ResponseWriter, r *http.Request, ownerID string) {
	grant, err := s.backend.IdentifyAuthorization(r.Context(), mux.Vars(r)["id"], ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantView(grant))
}

type redirectView struct {
	RedirectTo string `json:"redirect_to"`
}

func (s *Server) handleAuthorizeDecision(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body decisionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	redirect, err := s.backend.DecideAuthorization(r.Context(), core.AuthorizationDecision{
		GrantID:  mux.Vars(r)["id"],
		OwnerID:  ownerID,
		Approve:  body.Approve,
		Name:     body.Name,
		Limits:   body.Limits,
		Currency: body.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	location, err := redirectLocation(redirect)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redirectView{RedirectTo: location})
}

// redirectLocation appends code and state, or error=access_denied when the
// owner declined.
func redirectLocation(redirect core.AuthorizationRedirect) (string, error) {
	target, err := url.Parse(strings.TrimSpace(redirect.RedirectURI))
	if err != nil || target.Scheme == "" {
		return "", badRequest("invalid redirect uri")
	}
	values := target.Query()
	if redirect.Code != "" {
		values.Set("code", redirect.Code)
	} else {
		values.Set("error", string(core.OAuthAccessDenied))
	}
	if redirect.State != "" {
		values.Set("state", redirect.State)
	}
	target.RawQuery = values.Encode()
	return target.String(), nil
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request, credential auth.ResourceServerCredential) {
	if err := parseForm(w, r); err != nil {
		writeOAuthError(w, err)
		return
	}
	token := strings.TrimSpace(r.PostFormValue("token"))
	if token == "" {
		writeJSON(w, http.StatusOK, core.IntrospectionResult{Active: false})
		return
	}
	result, err := s.backend.Introspect(r.Context(), token)
	if err != nil {
		s.logger.Error("token introspection failed", "resource_server", credential.ID, "error", err.Error())
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, result)
}

// handleRevoke answers 200 with an empty body whatever the token was.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err == nil {
		if token := strings.TrimSpace(r.PostFormValue("token")); token != "" {
			if err := s.backend.RevokeTokenValue(r.Context(), token); err != nil {
				s.logger.Warn("token revocation failed", "error", err.Error())
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}
