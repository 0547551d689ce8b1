package agentpay

import (
	"github.com/goliatone/go-agentpay/core"
	"github.com/goliatone/go-agentpay/providers/attestation"
	"github.com/goliatone/go-agentpay/providers/cardnetwork"
	"github.com/goliatone/go-agentpay/providers/push"
	"github.com/goliatone/go-agentpay/transport"
	glog "github.com/goliatone/go-logger/glog"
)

func CardNetworkProvider(cfg cardnetwork.Config, store cardnetwork.CredentialStore, opts ...cardnetwork.Option) (*cardnetwork.Provider, error) {
	return cardnetwork.New(cfg, store, opts...)
}

func AttestationVerifier(cfg attestation.Config, doer transport.HTTPDoer) (core.BiometricVerifier, error) {
	return attestation.New(cfg, doer)
}

func PushNotificationSender(cfg push.Config, doer transport.HTTPDoer, logger glog.Logger) (core.NotificationSender, error) {
	return push.New(cfg, doer, logger)
}
