package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-agentpay/core"
	"github.com/goliatone/go-agentpay/ratelimit"
	goerrors "github.com/goliatone/go-errors"
)

const defaultMaxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the service error envelope. Throttling adds a
// Retry-After header.
func writeError(w http.ResponseWriter, err error) {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		w.Header().Set("Retry-After", strconv.Itoa(throttled.RetryAfterSeconds()))
		err = throttled.ToServiceError()
	}
	status, detail := describeError(err)
	writeJSON(w, status, errorBody{Error: detail})
}

// writeOAuthError renders the token endpoint vocabulary.
func writeOAuthError(w http.ResponseWriter, err error) {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		w.Header().Set("Retry-After", strconv.Itoa(throttled.RetryAfterSeconds()))
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusTooManyRequests, oauthErrorBody{
			Error:            string(core.OAuthInvalidRequest),
			ErrorDescription: "rate limit exceeded",
		})
		return
	}
	oauthErr := core.AsOAuthError(err)
	status := oauthErr.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="agentpay"`)
	}
	w.Header().Set("Cache-Control", "no-store")
	description := oauthErr.Description
	if oauthErr.Code == core.OAuthServerError {
		description = ""
	}
	writeJSON(w, status, oauthErrorBody{Error: string(oauthErr.Code), ErrorDescription: description})
}

// describeError picks the innermost agentpay error in the chain so wrappers
// added by the command runner do not mask the domain category.
func describeError(err error) (int, errorDetail) {
	var first, domain *goerrors.Error
	for current := err; current != nil; current = errors.Unwrap(current) {
		rich, ok := current.(*goerrors.Error)
		if !ok {
			continue
		}
		if first == nil {
			first = rich
		}
		if strings.HasPrefix(rich.TextCode, "AGENTPAY_") || strings.HasPrefix(rich.TextCode, "OAUTH_") {
			domain = rich
		}
	}
	if domain == nil {
		var oauthErr *core.OAuthError
		if errors.As(err, &oauthErr) {
			domain = oauthErr.ToServiceError()
		}
	}
	selected := domain
	if selected == nil {
		selected = first
	}
	if selected == nil {
		return http.StatusInternalServerError, errorDetail{Code: core.ErrorInternal, Message: "An unexpected error occurred"}
	}
	if selected.Category == goerrors.CategoryInternal {
		code := selected.TextCode
		if code == "" {
			code = core.ErrorInternal
		}
		return http.StatusInternalServerError, errorDetail{Code: code, Message: "An unexpected error occurred"}
	}
	status := selected.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	code := selected.TextCode
	if code == "" {
		code = core.ErrorInternal
	}
	return status, errorDetail{Code: code, Message: selected.Message, Metadata: publicMetadata(selected.Metadata)}
}

// publicMetadata keeps only the keys clients act on.
func publicMetadata(metadata map[string]any) map[string]any {
	out := map[string]any{}
	for _, key := range []string{"current_status", "resource", "retry_after_ms", "bucket"} {
		if value, ok := metadata[key]; ok {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func badRequest(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

func unauthorized(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.ErrorUnauthorized)
}

func forbidden(message string) error {
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(core.ErrorForbidden)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return badRequest("request body is required")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes))
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest(fmt.Sprintf("invalid json body: %v", err))
	}
	return nil
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return core.NewOAuthError(core.OAuthInvalidRequest, "malformed form body")
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, badRequest(fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return value, nil
}
