package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput             = "AGENTPAY_BAD_INPUT"
	ErrorNotFound             = "AGENTPAY_NOT_FOUND"
	ErrorStateConflict        = "AGENTPAY_STATE_CONFLICT"
	ErrorExpired              = "AGENTPAY_EXPIRED"
	ErrorUnauthorized         = "AGENTPAY_UNAUTHORIZED"
	ErrorForbidden            = "AGENTPAY_FORBIDDEN"
	ErrorRateLimited          = "AGENTPAY_RATE_LIMITED"
	ErrorUpstreamFailure      = "AGENTPAY_UPSTREAM_FAILURE"
	ErrorCriticalPersistence  = "AGENTPAY_CRITICAL_PERSISTENCE"
	ErrorInternal             = "AGENTPAY_INTERNAL_ERROR"
	oauthTextCodePrefix       = "OAUTH_"
	metadataCurrentStatusKey  = "current_status"
	metadataResourceKey       = "resource"
	metadataRecoveryActionKey = "recovery"
)

type OAuthErrorCode string

const (
	OAuthInvalidRequest       OAuthErrorCode = "invalid_request"
	OAuthInvalidClient        OAuthErrorCode = "invalid_client"
	OAuthInvalidGrant         OAuthErrorCode = "invalid_grant"
	OAuthUnsupportedGrantType OAuthErrorCode = "unsupported_grant_type"
	OAuthAuthorizationPending OAuthErrorCode = "authorization_pending"
	OAuthExpiredToken         OAuthErrorCode = "expired_token"
	OAuthAccessDenied         OAuthErrorCode = "access_denied"
	OAuthServerError          OAuthErrorCode = "server_error"
)

// OAuthError is a token endpoint failure in the fixed wire vocabulary.
type OAuthError struct {
	Code        OAuthErrorCode
	Description string
}

func NewOAuthError(code OAuthErrorCode, description string) *OAuthError {
	return &OAuthError{Code: code, Description: strings.TrimSpace(description)}
}

func (e *OAuthError) Error() string {
	if e == nil {
		return ""
	}
	if e.Description == "" {
		return "oauth: " + string(e.Code)
	}
	return fmt.Sprintf("oauth: %s: %s", e.Code, e.Description)
}

func (e *OAuthError) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case OAuthInvalidClient:
		return http.StatusUnauthorized
	case OAuthServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (e *OAuthError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryBadInput
	switch e.Code {
	case OAuthInvalidClient:
		category = goerrors.CategoryAuth
	case OAuthAccessDenied:
		category = goerrors.CategoryAuthz
	case OAuthServerError:
		category = goerrors.CategoryInternal
	}
	return goerrors.New(e.Error(), category).
		WithCode(e.HTTPStatus()).
		WithTextCode(oauthTextCodePrefix + strings.ToUpper(string(e.Code)))
}

// AsOAuthError recovers the wire error from a raw or mapped error. Errors
// outside the vocabulary become server_error.
func AsOAuthError(err error) *OAuthError {
	if err == nil {
		return nil
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		textCode := strings.TrimSpace(richErr.TextCode)
		if strings.HasPrefix(textCode, oauthTextCodePrefix) {
			code := OAuthErrorCode(strings.ToLower(strings.TrimPrefix(textCode, oauthTextCodePrefix)))
			return NewOAuthError(code, richErr.Message)
		}
		switch richErr.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return NewOAuthError(OAuthInvalidRequest, richErr.Message)
		case goerrors.CategoryAuth:
			return NewOAuthError(OAuthInvalidClient, "")
		case goerrors.CategoryAuthz:
			return NewOAuthError(OAuthAccessDenied, "")
		case goerrors.CategoryNotFound, goerrors.CategoryConflict:
			return NewOAuthError(OAuthInvalidGrant, "")
		}
	}
	return NewOAuthError(OAuthServerError, "")
}

// CriticalPersistenceError marks a write whose loss cannot be recovered
// automatically because the upstream already invalidated the prior state.
type CriticalPersistenceError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *CriticalPersistenceError) Error() string {
	return fmt.Sprintf("core: critical persistence failure for %s after %d attempts: %v", e.Resource, e.Attempts, e.Err)
}

func (e *CriticalPersistenceError) Unwrap() error {
	return e.Err
}

func (e *CriticalPersistenceError) ToServiceError() *goerrors.Error {
	return goerrors.Wrap(e.Err, goerrors.CategoryInternal, e.Error()).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCriticalPersistence).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{
			metadataResourceKey:       e.Resource,
			"attempts":                e.Attempts,
			metadataRecoveryActionKey: "manual",
		})
}

func IsCriticalPersistenceError(err error) bool {
	var critical *CriticalPersistenceError
	if errors.As(err, &critical) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == ErrorCriticalPersistence
	}
	return false
}

func newBadInputError(message string, field string) *goerrors.Error {
	if field == "" {
		return goerrors.New(message, goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(ErrorBadInput)
	}
	return goerrors.NewValidation(message, goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// newNotFoundError is also returned for ownership mismatches so callers
// cannot probe for resources they do not own.
func newNotFoundError(resource string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("core: %s not found", resource), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorNotFound).
		WithMetadata(map[string]any{metadataResourceKey: resource})
}

func newStateConflictError(resource string, current string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("core: %s is %s", resource, current), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorStateConflict).
		WithMetadata(map[string]any{
			metadataResourceKey:      resource,
			metadataCurrentStatusKey: current,
		})
}

func newExpiredError(resource string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("core: %s expired", resource), goerrors.CategoryOperation).
		WithCode(http.StatusGone).
		WithTextCode(ErrorExpired).
		WithMetadata(map[string]any{
			metadataResourceKey:      resource,
			metadataCurrentStatusKey: "expired",
		})
}

func newUnauthorizedError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorUnauthorized)
}

func newUpstreamError(err error, collaborator string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("core: %s call failed", collaborator)).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorUpstreamFailure).
		WithMetadata(map[string]any{"collaborator": collaborator})
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr.ToServiceError()
	}
	var critical *CriticalPersistenceError
	if errors.As(err, &critical) {
		return critical.ToServiceError()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrRecordNotFound):
		return newNotFoundError("record")
	case errors.Is(err, ErrStaleTransition):
		return ensureServiceErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(ErrorStateConflict))
	case errors.Is(err, ErrDuplicate):
		return ensureServiceErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(ErrorStateConflict))
	case errors.Is(err, ErrInvalidSpendingLimits):
		return newBadInputError(err.Error(), "limits")
	case errors.Is(err, ErrInvalidAgentTransition):
		return ensureServiceErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(ErrorStateConflict))
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "rate limit"):
		return ensureServiceErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryRateLimit))
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return ensureServiceErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryBadInput))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorStateConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorUpstreamFailure
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
