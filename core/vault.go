package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	ClientIDPrefix     = "apc_"
	ClientSecretPrefix = "aps_"

	clientIDEntropyBytes     = 24
	clientSecretEntropyBytes = 32
)

// CredentialVault generates agent client identifiers and secrets and hashes
// secrets for storage.
type CredentialVault struct {
	cost      int
	random    io.Reader
	dummyOnce sync.Once
	dummyHash []byte
}

func NewCredentialVault(cost int) *CredentialVault {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultSecretHashCost
	}
	return &CredentialVault{cost: cost, random: rand.Reader}
}

func (v *CredentialVault) GenerateClientID() (string, error) {
	return v.generate(ClientIDPrefix, clientIDEntropyBytes)
}

// GenerateClientSecret returns a plaintext secret that must be shown to the
// caller exactly once and never stored.
func (v *CredentialVault) GenerateClientSecret() (string, error) {
	return v.generate(ClientSecretPrefix, clientSecretEntropyBytes)
}

func (v *CredentialVault) HashSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("core: client secret is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), v.hashCost())
	if err != nil {
		return "", fmt.Errorf("core: hash client secret: %w", err)
	}
	return string(hash), nil
}

func (v *CredentialVault) VerifySecret(hash string, secret string) bool {
	if strings.TrimSpace(hash) == "" || secret == "" {
		v.burnComparison(secret)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func (v *CredentialVault) generate(prefix string, size int) (string, error) {
	reader := rand.Reader
	if v != nil && v.random != nil {
		reader = v.random
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", fmt.Errorf("core: generate credential: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func (v *CredentialVault) hashCost() int {
	if v == nil || v.cost == 0 {
		return defaultSecretHashCost
	}
	return v.cost
}

// burnComparison spends one bcrypt comparison so unknown clients take as long
// to reject as known ones.
func (v *CredentialVault) burnComparison(secret string) {
	if v == nil {
		return
	}
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("agentpay-unknown-client"), v.hashCost())
	})
	if len(v.dummyHash) > 0 {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(secret))
	}
}
