package security

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-agentpay/core"
)

// RetiredKey is a previous app key kept around for decryption only.
type RetiredKey struct {
	Provider *AppKeySecretProvider
	Window   KeyRotationWindow
}

// KeyringSecretProvider encrypts with the active key and decrypts with
// whichever key the envelope names, as long as that key's window allows.
type KeyringSecretProvider struct {
	active  *AppKeySecretProvider
	retired map[string]RetiredKey
	now     func() time.Time
}

type KeyringOption func(*KeyringSecretProvider)

func WithRetiredKey(key RetiredKey) KeyringOption {
	return func(k *KeyringSecretProvider) {
		if key.Provider == nil {
			return
		}
		k.retired[keyringIndex(key.Provider.KeyID(), key.Provider.Version())] = key
	}
}

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *KeyringSecretProvider) {
		if now != nil {
			k.now = now
		}
	}
}

func NewKeyringSecretProvider(active *AppKeySecretProvider, opts ...KeyringOption) (*KeyringSecretProvider, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active key is required")
	}
	keyring := &KeyringSecretProvider{
		active:  active,
		retired: map[string]RetiredKey{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keyring)
		}
	}
	return keyring, nil
}

func (k *KeyringSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	return k.active.Encrypt(ctx, plaintext)
}

func (k *KeyringSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	if meta.KeyID == k.active.KeyID() && meta.Version == k.active.Version() {
		return k.active.Decrypt(ctx, ciphertext)
	}
	retired, ok := k.retired[keyringIndex(meta.KeyID, meta.Version)]
	if !ok {
		return nil, fmt.Errorf("security: no key for %q version %d", meta.KeyID, meta.Version)
	}
	if !retired.Window.Allows(k.now()) {
		return nil, fmt.Errorf("security: key %q version %d is outside its rotation window", meta.KeyID, meta.Version)
	}
	return retired.Provider.Decrypt(ctx, ciphertext)
}

func keyringIndex(keyID string, version int) string {
	return fmt.Sprintf("%s@%d", keyID, version)
}

var _ core.SecretProvider = (*KeyringSecretProvider)(nil)
