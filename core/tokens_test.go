package core

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	fixture := newServiceFixture(t)
	creds := fixture.seedAgent(t, SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000})
	ctx := context.Background()

	issued, err := fixture.svc.IssueToken(ctx, creds.Agent, []string{"payments:purchase", "admin"}, "https://merchant.example")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if issued.TokenHash != TokenDigest(issued.Token) {
		t.Fatalf("expected stored hash to be the token digest")
	}
	if issued.Scope != "payments:purchase" {
		t.Fatalf("expected scope narrowed to agent permissions, got %q", issued.Scope)
	}
	if !issued.ExpiresAt.Equal(fixtureNow.Add(defaultAccessTokenTTL)) {
		t.Fatalf("unexpected expiry %s", issued.ExpiresAt)
	}

	claims, ok := fixture.svc.VerifyToken(ctx, issued.Token)
	if !ok {
		t.Fatalf("expected issued token to verify")
	}
	if claims.Subject != creds.Agent.ID || claims.OwnerID != "owner_1" || claims.ClientID != creds.ClientID {
		t.Fatalf("unexpected identity claims %+v", claims)
	}
	if !reflect.DeepEqual(claims.Permissions, creds.Agent.Permissions) {
		t.Fatalf("expected permissions %v, got %v", creds.Agent.Permissions, claims.Permissions)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "https://merchant.example" {
		t.Fatalf("expected audience claim, got %v", claims.Audience)
	}

	stored, err := fixture.stores.Tokens().Get(ctx, issued.TokenHash)
	if err != nil {
		t.Fatalf("expected digest persisted: %v", err)
	}
	if stored.AgentID != creds.Agent.ID {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	if _, ok := fixture.svc.VerifyToken(ctx, "not-a-token"); ok {
		t.Fatalf("expected garbage token to fail verification")
	}
}

func TestRevokeThenIntrospectIsInactive(t *testing.T) {
	fixture := newServiceFixture(t)
	creds := fixture.seedAgent(t, SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000})
	ctx := context.Background()

	issued, err := fixture.svc.IssueToken(ctx, creds.Agent, nil, "")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	before, err := fixture.svc.Introspect(ctx, issued.Token)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if !before.Active || before.AgentID != creds.Agent.ID || before.SpendingLimits == nil || before.CurrentUsage == nil {
		t.Fatalf("expected active introspection with limits and usage, got %+v", before)
	}
	if before.Currency != "CAD" || before.AgentStatus != AgentStatusActive {
		t.Fatalf("unexpected introspection %+v", before)
	}

	if err := fixture.svc.RevokeToken(ctx, issued.TokenHash); err != nil {
		t.Fatalf("revoke token: %v", err)
	}
	after, err := fixture.svc.Introspect(ctx, issued.Token)
	if err != nil {
		t.Fatalf("introspect after revoke: %v", err)
	}
	if after.Active {
		t.Fatalf("expected revoked token to be inactive")
	}
	if _, _, err := fixture.svc.AuthenticateAgent(ctx, issued.Token); err == nil {
		t.Fatalf("expected revoked token to fail authentication")
	}
}

func TestRevokeToken_IsMonotonic(t *testing.T) {
	fixture := newServiceFixture(t)
	creds := fixture.seedAgent(t, SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000})
	ctx := context.Background()

	issued, err := fixture.svc.IssueToken(ctx, creds.Agent, nil, "")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if err := fixture.svc.RevokeToken(ctx, issued.TokenHash); err != nil {
		t.Fatalf("revoke token: %v", err)
	}
	first, _ := fixture.stores.Tokens().Get(ctx, issued.TokenHash)

	fixture.clock.Advance(time.Minute)
	if err := fixture.svc.RevokeToken(ctx, issued.TokenHash); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	second, _ := fixture.stores.Tokens().Get(ctx, issued.TokenHash)
	if !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Fatalf("expected first revocation time to be kept, got %s then %s", first.RevokedAt, second.RevokedAt)
	}
	if got := fixture.emitter.types(); len(got) != 1 || got[0] != EventTokenRevoked {
		t.Fatalf("expected a single token.revoked event, got %v", got)
	}
}

func TestRevokeTokenValue_UnknownTokenSucceeds(t *testing.T) {
	fixture := newServiceFixture(t)
	if err := fixture.svc.RevokeTokenValue(context.Background(), "fake.unknown"); err != nil {
		t.Fatalf("expected unknown token revocation to succeed silently, got %v", err)
	}
	if err := fixture.svc.RevokeTokenValue(context.Background(), ""); err != nil {
		t.Fatalf("expected empty token revocation to succeed silently, got %v", err)
	}
}

func TestIsTokenRevoked_MissingDigestFailsOpen(t *testing.T) {
	fixture := newServiceFixture(t)
	revoked, err := fixture.svc.IsTokenRevoked(context.Background(), TokenDigest("never-issued"))
	if err != nil {
		t.Fatalf("is token revoked: %v", err)
	}
	if revoked {
		t.Fatalf("expected missing digest to be treated as not revoked")
	}
}

func TestIntrospect_InactiveAgent(t *testing.T) {
	fixture := newServiceFixture(t)
	creds := fixture.seedAgent(t, SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000})
	ctx := context.Background()

	issued, err := fixture.svc.IssueToken(ctx, creds.Agent, nil, "")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := fixture.svc.SuspendAgent(ctx, creds.Agent.ID, "owner_1"); err != nil {
		t.Fatalf("suspend agent: %v", err)
	}
	result, err := fixture.svc.Introspect(ctx, issued.Token)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if result.Active || result.AgentStatus != AgentStatusSuspended {
		t.Fatalf("expected inactive result carrying suspended status, got %+v", result)
	}
	if result.SpendingLimits != nil || result.OwnerID != "" {
		t.Fatalf("expected inactive result to omit agent detail, got %+v", result)
	}
}

func TestRevokeAgent_RevokesTokensAtomically(t *testing.T) {
	fixture := newServiceFixture(t)
	creds := fixture.seedAgent(t, SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000})
	ctx := context.Background()

	first, _ := fixture.svc.IssueToken(ctx, creds.Agent, nil, "")
	second, _ := fixture.svc.IssueToken(ctx, creds.Agent, nil, "")

	revoked, err := fixture.svc.RevokeAgent(ctx, creds.Agent.ID, "owner_1")
	if err != nil {
		t.Fatalf("revoke agent: %v", err)
	}
	if revoked.Status != AgentStatusRevoked {
		t.Fatalf("expected revoked status, got %q", revoked.Status)
	}
	for _, hash := range []string{first.TokenHash, second.TokenHash} {
		record, _ := fixture.stores.Tokens().Get(ctx, hash)
		if !record.Revoked() {
			t.Fatalf("expected token %s revoked with its agent", hash)
		}
	}
	if got := fixture.emitter.types(); len(got) != 1 || got[0] != EventAgentRevoked {
		t.Fatalf("expected agent.revoked event, got %v", got)
	}
	if _, err := fixture.svc.ReactivateAgent(ctx, creds.Agent.ID, "owner_1"); err == nil {
		t.Fatalf("expected revoked agent to stay revoked")
	}
}
