package agentpay

import (
	"path/filepath"
	"testing"

	"github.com/goliatone/go-agentpay/providers/attestation"
	"github.com/goliatone/go-agentpay/providers/cardnetwork"
	"github.com/goliatone/go-agentpay/providers/push"
)

func TestProviderFactories(t *testing.T) {
	store := &cardnetwork.FileCredentialStore{Path: filepath.Join(t.TempDir(), "network.json")}
	if _, err := CardNetworkProvider(cardnetwork.Config{BaseURL: "https://network.example", ClientID: "client"}, store); err != nil {
		t.Fatalf("card network provider: %v", err)
	}
	if _, err := CardNetworkProvider(cardnetwork.Config{ClientID: "client"}, store); err == nil {
		t.Fatalf("expected missing base url rejected")
	}

	verifier, err := AttestationVerifier(attestation.Config{BaseURL: "https://attest.example"}, nil)
	if err != nil || verifier == nil {
		t.Fatalf("attestation verifier: %v", err)
	}
	sender, err := PushNotificationSender(push.Config{BaseURL: "https://push.example"}, nil, nil)
	if err != nil || sender == nil {
		t.Fatalf("push sender: %v", err)
	}
	if _, err := PushNotificationSender(push.Config{}, nil, nil); err == nil {
		t.Fatalf("expected missing push base url rejected")
	}
}
