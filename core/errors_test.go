package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		textCode string
		status   int
	}{
		{"record not found", fmt.Errorf("load: %w", ErrRecordNotFound), ErrorNotFound, http.StatusNotFound},
		{"stale transition", ErrStaleTransition, ErrorStateConflict, http.StatusConflict},
		{"duplicate", ErrDuplicate, ErrorStateConflict, http.StatusConflict},
		{"invalid limits", ErrInvalidSpendingLimits, ErrorBadInput, http.StatusBadRequest},
		{"rate limit text", stderrors.New("upstream rate limit hit"), ErrorRateLimited, http.StatusTooManyRequests},
		{"oauth", NewOAuthError(OAuthInvalidGrant, ""), "OAUTH_INVALID_GRANT", http.StatusBadRequest},
		{"critical", &CriticalPersistenceError{Resource: "issuer", Attempts: 3, Err: stderrors.New("down")}, ErrorCriticalPersistence, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := serviceErrorMapper(tt.err)
			if mapped.TextCode != tt.textCode {
				t.Fatalf("expected text code %q, got %q", tt.textCode, mapped.TextCode)
			}
			if mapped.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, mapped.Code)
			}
		})
	}
}

func TestStateConflictCarriesCurrentStatus(t *testing.T) {
	err := newStateConflictError("step-up request", "approved")
	if err.Metadata[metadataCurrentStatusKey] != "approved" || err.Metadata[metadataResourceKey] != "step-up request" {
		t.Fatalf("unexpected conflict metadata %#v", err.Metadata)
	}
	if err.Category != goerrors.CategoryConflict {
		t.Fatalf("expected conflict category, got %q", err.Category)
	}
}

func TestAsOAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want OAuthErrorCode
	}{
		{"raw", NewOAuthError(OAuthAccessDenied, ""), OAuthAccessDenied},
		{"mapped", NewOAuthError(OAuthExpiredToken, "").ToServiceError(), OAuthExpiredToken},
		{"bad input", newBadInputError("core: missing", "field"), OAuthInvalidRequest},
		{"not found", newNotFoundError("grant"), OAuthInvalidGrant},
		{"unknown", stderrors.New("boom"), OAuthServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AsOAuthError(tt.err); got.Code != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got.Code)
			}
		})
	}
	if AsOAuthError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestOAuthErrorHTTPStatus(t *testing.T) {
	if got := NewOAuthError(OAuthInvalidClient, "").HTTPStatus(); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid_client, got %d", got)
	}
	if got := NewOAuthError(OAuthAuthorizationPending, "").HTTPStatus(); got != http.StatusBadRequest {
		t.Fatalf("expected 400 for authorization_pending, got %d", got)
	}
	if got := NewOAuthError(OAuthServerError, "").HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for server_error, got %d", got)
	}
}

func TestServiceMethods_MapErrorsToStableServiceCodes(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	_, err := fixture.svc.GetAgent(ctx, "", "owner_1")
	requireTextCode(t, err, ErrorBadInput)

	_, err = fixture.svc.GetStepUp(ctx, StepUpLookup{ID: "missing", OwnerID: "owner_1"})
	requireTextCode(t, err, ErrorNotFound)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Code != http.StatusNotFound {
		t.Fatalf("expected go-errors envelope with 404, got %T %v", err, err)
	}
}
