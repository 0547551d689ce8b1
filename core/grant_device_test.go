package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func startDevice(t *testing.T, fixture *serviceFixture) DeviceAuthorizationResponse {
	t.Helper()
	fixture.registerClient(t, "cli_terminal")
	resp, err := fixture.svc.StartDeviceAuthorization(context.Background(), DeviceAuthorizationRequest{
		ClientID: "cli_terminal",
		Scope:    "payments:purchase admin",
	})
	if err != nil {
		t.Fatalf("start device authorization: %v", err)
	}
	return resp
}

func deviceTokenRequest(deviceCode string) TokenRequest {
	return TokenRequest{GrantType: GrantTypeDeviceCode, DeviceCode: deviceCode, ClientID: "cli_terminal"}
}

func TestStartDeviceAuthorization(t *testing.T) {
	fixture := newServiceFixture(t)
	resp := startDevice(t, fixture)

	if !ValidUserCode(resp.UserCode) || !strings.HasPrefix(resp.UserCode, defaultUserCodePrefix+"-") {
		t.Fatalf("unexpected user code %q", resp.UserCode)
	}
	if resp.ExpiresIn != int64(defaultDeviceCodeTTL/time.Second) || resp.Interval != 5 {
		t.Fatalf("unexpected timing %+v", resp)
	}
	if resp.VerificationURIComplete != "https://wallet.example/device?user_code="+resp.UserCode {
		t.Fatalf("unexpected complete verification uri %q", resp.VerificationURIComplete)
	}
	grant, err := fixture.stores.Grants().Get(context.Background(), resp.DeviceCode)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if grant.Status != GrantStatusPendingClaim || grant.Scope != "payments:purchase" {
		t.Fatalf("unexpected stored grant %+v", grant)
	}

	_, err = fixture.svc.StartDeviceAuthorization(context.Background(), DeviceAuthorizationRequest{ClientID: "cli_unknown"})
	requireOAuthError(t, err, OAuthInvalidClient)
}

func TestDeviceFlow_ApproveIssuesTokenOnce(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	resp := startDevice(t, fixture)

	_, err := fixture.svc.ExchangeToken(ctx, deviceTokenRequest(resp.DeviceCode))
	requireOAuthError(t, err, OAuthAuthorizationPending)

	claimed, err := fixture.svc.ClaimDeviceCode(ctx, strings.ToLower(resp.UserCode), "owner_1")
	if err != nil {
		t.Fatalf("claim device code: %v", err)
	}
	if claimed.Status != GrantStatusPending || claimed.UserID != "owner_1" {
		t.Fatalf("unexpected claimed grant %+v", claimed)
	}
	sent := fixture.notifier.sent()
	if len(sent) != 1 || sent[0].Type != NotificationDeviceAuthorization || sent[0].IdempotencyKey != "device-claim:"+claimed.ID {
		t.Fatalf("expected one device authorization notification, got %+v", sent)
	}

	_, err = fixture.svc.ExchangeToken(ctx, deviceTokenRequest(resp.DeviceCode))
	requireOAuthError(t, err, OAuthAuthorizationPending)

	approved, err := fixture.svc.DecideDeviceAuthorization(ctx, DeviceDecision{
		GrantID:  claimed.ID,
		OwnerID:  "owner_1",
		Approve:  true,
		Name:     "terminal agent",
		Limits:   SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000},
		Currency: "cad",
	})
	if err != nil {
		t.Fatalf("approve device authorization: %v", err)
	}
	if approved.Status != GrantStatusApproved || approved.AgentID == "" || approved.UserCode != "" {
		t.Fatalf("unexpected approved grant %+v", approved)
	}

	token, err := fixture.svc.ExchangeToken(ctx, deviceTokenRequest(resp.DeviceCode))
	if err != nil {
		t.Fatalf("exchange device code: %v", err)
	}
	if token.AgentID != approved.AgentID || token.TokenType != TokenTypeBearer || token.Scope != "payments:purchase" {
		t.Fatalf("unexpected token response %+v", token)
	}
	claims, ok := fixture.svc.VerifyToken(ctx, token.AccessToken)
	if !ok || claims.OwnerID != "owner_1" {
		t.Fatalf("expected token bound to owner_1, got %+v (%v)", claims, ok)
	}

	agent, err := fixture.svc.GetAgent(ctx, approved.AgentID, "owner_1")
	if err != nil {
		t.Fatalf("get device agent: %v", err)
	}
	if agent.Currency != "CAD" || agent.Limits.Daily != 20000 {
		t.Fatalf("unexpected device agent %+v", agent)
	}

	_, err = fixture.svc.ExchangeToken(ctx, deviceTokenRequest(resp.DeviceCode))
	requireOAuthError(t, err, OAuthInvalidGrant)

	used, _ := fixture.stores.Grants().Get(ctx, resp.DeviceCode)
	if used.Status != GrantStatusUsed || used.TokenIssuedAt == nil {
		t.Fatalf("expected grant spent, got %+v", used)
	}
}

func TestDeviceFlow_PairingCodeClaimsOnce(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.registerClient(t, "cli_terminal")
	ctx := context.Background()

	if _, err := fixture.stores.Grants().Create(ctx, AuthorizationGrant{
		ID:        "grant_seeded",
		Flow:      GrantFlowDevice,
		ClientID:  "cli_terminal",
		UserCode:  "PFX-ABCDEF-GH2345",
		Scope:     "payments:purchase",
		Status:    GrantStatusPendingClaim,
		ExpiresAt: fixtureNow.Add(10 * time.Minute),
		CreatedAt: fixtureNow,
		UpdatedAt: fixtureNow,
	}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	if _, err := fixture.svc.ClaimDeviceCode(ctx, " pfx-abcdef-gh2345 ", "owner_1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := fixture.svc.ClaimDeviceCode(ctx, "PFX-ABCDEF-GH2345", "owner_2")
	requireTextCode(t, err, ErrorStateConflict)

	grant, _ := fixture.stores.Grants().Get(ctx, "grant_seeded")
	if grant.UserID != "owner_1" {
		t.Fatalf("expected first claimant to keep the grant, got %q", grant.UserID)
	}

	_, err = fixture.svc.ClaimDeviceCode(ctx, "PFX-ABCDEF-GH234", "owner_1")
	requireTextCode(t, err, ErrorBadInput)
	_, err = fixture.svc.ClaimDeviceCode(ctx, "PFX-ZZZZZZ-ZZZZZZ", "owner_1")
	requireTextCode(t, err, ErrorNotFound)
}

func TestDeviceFlow_RejectReportsAccessDenied(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	resp := startDevice(t, fixture)

	claimed, err := fixture.svc.ClaimDeviceCode(ctx, resp.UserCode, "owner_1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = fixture.svc.DecideDeviceAuthorization(ctx, DeviceDecision{GrantID: claimed.ID, OwnerID: "owner_2", Approve: true})
	requireTextCode(t, err, ErrorNotFound)

	rejected, err := fixture.svc.DecideDeviceAuthorization(ctx, DeviceDecision{GrantID: claimed.ID, OwnerID: "owner_1"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != GrantStatusRejected || rejected.UserCode != "" {
		t.Fatalf("unexpected rejected grant %+v", rejected)
	}
	_, err = fixture.svc.ExchangeToken(ctx, deviceTokenRequest(resp.DeviceCode))
	requireOAuthError(t, err, OAuthAccessDenied)

	_, err = fixture.svc.DecideDeviceAuthorization(ctx, DeviceDecision{GrantID: claimed.ID, OwnerID: "owner_1", Approve: true})
	requireTextCode(t, err, ErrorStateConflict)
}

func TestDeviceFlow_ExpiresLazily(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	resp := startDevice(t, fixture)

	fixture.clock.Advance(defaultDeviceCodeTTL + time.Second)

	_, err := fixture.svc.ExchangeToken(ctx, deviceTokenRequest(resp.DeviceCode))
	requireOAuthError(t, err, OAuthExpiredToken)

	grant, _ := fixture.stores.Grants().Get(ctx, resp.DeviceCode)
	if grant.Status != GrantStatusExpired || grant.UserCode != "" {
		t.Fatalf("expected grant expired with its code released, got %+v", grant)
	}
	_, err = fixture.svc.ClaimDeviceCode(ctx, resp.UserCode, "owner_1")
	requireTextCode(t, err, ErrorNotFound)
}

func TestDeviceFlow_PollRejectsForeignClient(t *testing.T) {
	fixture := newServiceFixture(t)
	resp := startDevice(t, fixture)

	_, err := fixture.svc.ExchangeToken(context.Background(), TokenRequest{
		GrantType:  GrantTypeDeviceCode,
		DeviceCode: resp.DeviceCode,
		ClientID:   "cli_other",
	})
	requireOAuthError(t, err, OAuthInvalidGrant)

	_, err = fixture.svc.ExchangeToken(context.Background(), deviceTokenRequest(""))
	requireOAuthError(t, err, OAuthInvalidRequest)
}

func TestExchangeToken_GrantTypes(t *testing.T) {
	fixture := newServiceFixture(t)

	_, err := fixture.svc.ExchangeToken(context.Background(), TokenRequest{GrantType: "password"})
	requireOAuthError(t, err, OAuthUnsupportedGrantType)

	_, err = fixture.svc.ExchangeToken(context.Background(), TokenRequest{})
	requireOAuthError(t, err, OAuthInvalidRequest)
}
