package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/goliatone/go-agentpay/auth"
	"github.com/goliatone/go-agentpay/core"
	"github.com/goliatone/go-agentpay/ratelimit"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/gorilla/mux"
)

// Backend is the protocol surface served directly. Owner and agent
// mutations go through the command bus instead.
type Backend interface {
	ExchangeToken(ctx context.Context, req core.TokenRequest) (core.TokenResponse, error)
	StartDeviceAuthorization(ctx context.Context, req core.DeviceAuthorizationRequest) (core.DeviceAuthorizationResponse, error)
	ClaimDeviceCode(ctx context.Context, userCode string, ownerID string) (core.AuthorizationGrant, error)
	DecideDeviceAuthorization(ctx context.Context, decision core.DeviceDecision) (core.AuthorizationGrant, error)
	StartAuthorization(ctx context.Context, req core.AuthorizationRequest) (core.AuthorizationSession, error)
	IdentifyAuthorization(ctx context.Context, grantID string, ownerID string) (core.AuthorizationGrant, error)
	DecideAuthorization(ctx context.Context, decision core.AuthorizationDecision) (core.AuthorizationRedirect, error)
	Introspect(ctx context.Context, token string) (core.IntrospectionResult, error)
	RevokeTokenValue(ctx context.Context, token string) error
	AuthenticateAgent(ctx context.Context, token string) (core.Agent, core.TokenClaims, error)
	IssueApprovalChallenge(ctx context.Context, stepUpID string, ownerID string) (core.ApprovalChallenge, error)
}

// KeySet publishes token verification keys; *security.JWTCodec satisfies it.
type KeySet interface {
	JWKS() jose.JSONWebKeySet
}

type Config struct {
	Backend         Backend
	ResourceServers *auth.ResourceServerRegistry
	Owners          auth.OwnerResolver
	Keys            KeySet
	TokenLimiter    *ratelimit.KeyedLimiter
	DeviceLimiter   *ratelimit.KeyedLimiter
	Logger          glog.Logger
}

type Server struct {
	backend       Backend
	resources     *auth.ResourceServerRegistry
	owners        auth.OwnerResolver
	keys          KeySet
	tokenLimiter  *ratelimit.KeyedLimiter
	deviceLimiter *ratelimit.KeyedLimiter
	logger        glog.Logger
	router        *mux.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("server: backend is required")
	}
	if cfg.ResourceServers == nil {
		return nil, fmt.Errorf("server: resource server registry is required")
	}
	if cfg.Owners == nil {
		return nil, fmt.Errorf("server: owner resolver is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("server: key set is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	s := &Server{
		backend:       cfg.Backend,
		resources:     cfg.ResourceServers,
		owners:        cfg.Owners,
		keys:          cfg.Keys,
		tokenLimiter:  cfg.TokenLimiter,
		deviceLimiter: cfg.DeviceLimiter,
		logger:        logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/jwks.json", s.handleJWKS).Methods(http.MethodGet)

	oauth := r.PathPrefix("/oauth").Subrouter()
	oauth.Handle("/token", s.throttle(s.tokenLimiter, formClientKey, http.HandlerFunc(s.handleToken))).Methods(http.MethodPost)
	oauth.Handle("/device_authorization", s.throttle(s.deviceLimiter, formClientKey, http.HandlerFunc(s.handleDeviceAuthorization))).Methods(http.MethodPost)
	oauth.HandleFunc("/device/claim", s.ownerOnly(s.handleDeviceClaim)).Methods(http.MethodPost)
	oauth.HandleFunc("/device/decision", s.ownerOnly(s.handleDeviceDecision)).Methods(http.MethodPost)
	oauth.HandleFunc("/authorize", s.handleAuthorize).Methods(http.MethodGet)
	oauth.HandleFunc("/authorize/{id}/identify", s.ownerOnly(s.handleAuthorizeIdentify)).Methods(http.MethodPost)
	oauth.HandleFunc("/authorize/{id}/decision", s.ownerOnly(s.handleAuthorizeDecision)).Methods(http.MethodPost)
	oauth.HandleFunc("/introspect", s.resourceServerOnly(s.handleIntrospect)).Methods(http.MethodPost)
	oauth.HandleFunc("/revoke", s.handleRevoke).Methods(http.MethodPost)

	r.HandleFunc("/agents", s.ownerOnly(s.handleCreateAgent)).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}", s.ownerOnly(s.handleGetAgent)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/limits", s.ownerOnly(s.handleUpdateLimits)).Methods(http.MethodPut)
	r.HandleFunc("/agents/{id}/permissions", s.ownerOnly(s.handleUpdatePermissions)).Methods(http.MethodPut)
	r.HandleFunc("/agents/{id}/{action:suspend|reactivate|revoke}", s.ownerOnly(s.handleAgentStatus)).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/secret", s.ownerOnly(s.handleRotateSecret)).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/usage", s.ownerOnly(s.handleUsage)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/transactions", s.ownerOnly(s.handleListTransactions)).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/purchases", s.agentOnly(s.handlePurchase)).Methods(http.MethodPost)

	r.HandleFunc("/step-up/{id}", s.handleGetStepUp).Methods(http.MethodGet)
	r.HandleFunc("/step-up/{id}/challenge", s.ownerOnly(s.handleStepUpChallenge)).Methods(http.MethodPost)
	r.HandleFunc("/step-up/{id}/approve", s.ownerOnly(s.handleStepUpApprove)).Methods(http.MethodPost)
	r.HandleFunc("/step-up/{id}/reject", s.ownerOnly(s.handleStepUpReject)).Methods(http.MethodPost)

	r.HandleFunc("/transactions/{id}/{outcome:complete|fail|refund}", s.resourceServerOnly(s.handleSettle)).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/subscriptions", s.resourceServerOnly(s.handleRegisterWebhook)).Methods(http.MethodPut)
	return r
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

func (s *Server) ownerOnly(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := s.owners.ResolveOwner(r)
		if err != nil || ownerID == "" {
			writeError(w, unauthorized("owner authentication required"))
			return
		}
		next(w, r, ownerID)
	}
}

type agentHandler func(w http.ResponseWriter, r *http.Request, agent core.Agent, claims core.TokenClaims)

func (s *Server) agentOnly(next agentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentpay"`)
			writeError(w, unauthorized("bearer token required"))
			return
		}
		agent, claims, err := s.backend.AuthenticateAgent(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentpay", error="invalid_token"`)
			writeError(w, err)
			return
		}
		next(w, r, agent, claims)
	}
}

type resourceServerHandler func(w http.ResponseWriter, r *http.Request, credential auth.ResourceServerCredential)

func (s *Server) resourceServerOnly(next resourceServerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential, err := s.resources.AuthenticateRequest(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="agentpay"`)
			writeError(w, unauthorized("resource server authentication required"))
			return
		}
		next(w, r, credential)
	}
}

// throttle keys buckets with key(r), falling back to the remote address.
func (s *Server) throttle(limiter *ratelimit.KeyedLimiter, key func(*http.Request) string, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucketKey := key(r)
		if bucketKey == "" {
			bucketKey = remoteHost(r)
		}
		if err := limiter.Allow(bucketKey); err != nil {
			s.logger.Warn("request throttled", "path", r.URL.Path, "key", bucketKey)
			writeOAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func formClientKey(r *http.Request) string {
	if id, _, ok := r.BasicAuth(); ok && id != "" {
		return "client:" + id
	}
	if id := r.PostFormValue("client_id"); id != "" {
		return "client:" + id
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		}
		if recorder.status >= http.StatusInternalServerError {
			s.logger.Error("http request failed", fields...)
			return
		}
		s.logger.Debug("http request", fields...)
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, s.keys.JWKS())
}

var _ Backend = (*core.Service)(nil)
