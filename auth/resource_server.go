package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-agentpay/core"
)

var ErrInvalidResourceServer = errors.New("auth: invalid resource server credentials")

// ResourceServerCredential is a merchant or payment gateway allowed to
// introspect agent tokens. Its id space is separate from agent client ids.
type ResourceServerCredential struct {
	ID         string `koanf:"id" mapstructure:"id" json:"id" toml:"id"`
	Name       string `koanf:"name" mapstructure:"name" json:"name" toml:"name"`
	SecretHash string `koanf:"secret_hash" mapstructure:"secret_hash" json:"secret_hash" toml:"secret_hash"`
}

type ResourceServerRegistry struct {
	vault *core.CredentialVault

	mu      sync.RWMutex
	servers map[string]ResourceServerCredential
}

func NewResourceServerRegistry(vault *core.CredentialVault, credentials ...ResourceServerCredential) (*ResourceServerRegistry, error) {
	if vault == nil {
		vault = core.NewCredentialVault(0)
	}
	registry := &ResourceServerRegistry{vault: vault, servers: map[string]ResourceServerCredential{}}
	for _, credential := range credentials {
		if err := registry.Register(credential); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *ResourceServerRegistry) Register(credential ResourceServerCredential) error {
	id := strings.TrimSpace(credential.ID)
	if id == "" {
		return fmt.Errorf("auth: resource server id is required")
	}
	if strings.HasPrefix(id, core.ClientIDPrefix) {
		return fmt.Errorf("auth: resource server id %q collides with the agent client id prefix", id)
	}
	if strings.TrimSpace(credential.SecretHash) == "" {
		return fmt.Errorf("auth: resource server %q secret hash is required", id)
	}
	credential.ID = id
	credential.Name = strings.TrimSpace(credential.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[id] = credential
	return nil
}

// Authenticate verifies id and secret. Unknown ids cost the same bcrypt
// comparison as known ones.
func (r *ResourceServerRegistry) Authenticate(id string, secret string) (ResourceServerCredential, error) {
	if r == nil {
		return ResourceServerCredential{}, ErrInvalidResourceServer
	}
	r.mu.RLock()
	credential, ok := r.servers[strings.TrimSpace(id)]
	r.mu.RUnlock()

	hash := ""
	if ok {
		hash = credential.SecretHash
	}
	if !r.vault.VerifySecret(hash, secret) || !ok {
		return ResourceServerCredential{}, ErrInvalidResourceServer
	}
	return credential, nil
}

// AuthenticateRequest reads HTTP Basic credentials.
func (r *ResourceServerRegistry) AuthenticateRequest(req *http.Request) (ResourceServerCredential, error) {
	if req == nil {
		return ResourceServerCredential{}, ErrInvalidResourceServer
	}
	id, secret, ok := req.BasicAuth()
	if !ok {
		return ResourceServerCredential{}, ErrInvalidResourceServer
	}
	return r.Authenticate(id, secret)
}
