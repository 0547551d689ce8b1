package auth

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-agentpay/core"
)

func TestResourceServerRegistry_Authenticate(t *testing.T) {
	vault := core.NewCredentialVault(4)
	hash, err := vault.HashSecret("rs_secret")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	registry, err := NewResourceServerRegistry(vault, ResourceServerCredential{ID: "gateway", Name: "Card gateway", SecretHash: hash})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	credential, err := registry.Authenticate("gateway", "rs_secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if credential.Name != "Card gateway" {
		t.Fatalf("unexpected credential %+v", credential)
	}
	if _, err := registry.Authenticate("gateway", "wrong"); !errors.Is(err, ErrInvalidResourceServer) {
		t.Fatalf("expected wrong secret rejected, got %v", err)
	}
	if _, err := registry.Authenticate("unknown", "rs_secret"); !errors.Is(err, ErrInvalidResourceServer) {
		t.Fatalf("expected unknown server rejected, got %v", err)
	}

	req := httptest.NewRequest("POST", "/oauth/introspect", nil)
	req.SetBasicAuth("gateway", "rs_secret")
	if _, err := registry.AuthenticateRequest(req); err != nil {
		t.Fatalf("authenticate request: %v", err)
	}
	if _, err := registry.AuthenticateRequest(httptest.NewRequest("POST", "/oauth/introspect", nil)); err == nil {
		t.Fatalf("expected missing basic auth rejected")
	}
}

func TestResourceServerRegistry_RejectsAgentClientIDs(t *testing.T) {
	registry, err := NewResourceServerRegistry(core.NewCredentialVault(4))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.Register(ResourceServerCredential{ID: core.ClientIDPrefix + "abc", SecretHash: "hash"}); err == nil {
		t.Fatalf("expected agent-prefixed id rejected")
	}
	if err := registry.Register(ResourceServerCredential{ID: "gateway"}); err == nil {
		t.Fatalf("expected missing secret hash rejected")
	}
}

func TestHMACOwnerResolver(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := HMACOwnerResolver{Secret: "owner-secret", Now: func() time.Time { return now }}
	timestamp := strconv.FormatInt(now.Unix(), 10)

	req := httptest.NewRequest("GET", "/step-up/su_1", nil)
	req.Header.Set(DefaultOwnerHeader, "owner_1")
	req.Header.Set(DefaultTimestampHeader, timestamp)
	req.Header.Set(DefaultSignatureHeader, SignOwnerAssertion("owner-secret", timestamp, "owner_1"))
	owner, err := resolver.ResolveOwner(req)
	if err != nil {
		t.Fatalf("resolve owner: %v", err)
	}
	if owner != "owner_1" {
		t.Fatalf("expected owner_1, got %q", owner)
	}

	req.Header.Set(DefaultOwnerHeader, "owner_2")
	if _, err := resolver.ResolveOwner(req); !errors.Is(err, ErrOwnerUnauthenticated) {
		t.Fatalf("expected swapped owner rejected, got %v", err)
	}

	req.Header.Set(DefaultOwnerHeader, "owner_1")
	resolver.Now = func() time.Time { return now.Add(time.Hour) }
	if _, err := resolver.ResolveOwner(req); !errors.Is(err, ErrOwnerUnauthenticated) {
		t.Fatalf("expected stale assertion rejected, got %v", err)
	}
}

func TestHeaderOwnerResolver(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if _, err := (HeaderOwnerResolver{}).ResolveOwner(req); !errors.Is(err, ErrOwnerUnauthenticated) {
		t.Fatalf("expected missing header rejected, got %v", err)
	}
	req.Header.Set("X-User", " owner_9 ")
	owner, err := HeaderOwnerResolver{Header: "X-User"}.ResolveOwner(req)
	if err != nil || owner != "owner_9" {
		t.Fatalf("expected owner_9, got %q (%v)", owner, err)
	}
}

func TestBearerTokenAndClientCredentials(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer abc.def")
	if token, ok := BearerToken(req); !ok || token != "abc.def" {
		t.Fatalf("expected bearer token, got %q %v", token, ok)
	}
	req.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(req); ok {
		t.Fatalf("expected basic scheme ignored")
	}

	form := url.Values{"client_id": {"apc_1"}, "client_secret": {"aps_1"}}
	post := httptest.NewRequest("POST", "/oauth/token", strings.NewReader(form.Encode()))
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	id, secret := ClientCredentials(post)
	if id != "apc_1" || secret != "aps_1" {
		t.Fatalf("unexpected form credentials %q %q", id, secret)
	}
	post.SetBasicAuth("apc_2", "aps_2")
	id, secret = ClientCredentials(post)
	if id != "apc_2" || secret != "aps_2" {
		t.Fatalf("expected basic auth preferred, got %q %q", id, secret)
	}
}
