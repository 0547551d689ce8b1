package cardnetwork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
)

var ErrNoCredential = errors.New("cardnetwork: no stored credential")

// Credential is the upstream OAuth pair the provider authenticates with.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c Credential) usable(now time.Time, skew time.Duration) bool {
	return strings.TrimSpace(c.AccessToken) != "" && now.Add(skew).Before(c.ExpiresAt)
}

type CredentialStore interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, credential Credential) error
}

// FileCredentialStore keeps the credential in a single file, sealed with the
// secret provider when one is configured. Writes replace the file atomically.
type FileCredentialStore struct {
	Path    string
	Secrets core.SecretProvider
}

func (s *FileCredentialStore) Load(ctx context.Context) (Credential, error) {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return Credential{}, fmt.Errorf("cardnetwork: credential path is required")
	}
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("cardnetwork: read credential: %w", err)
	}
	if s.Secrets != nil {
		raw, err = s.Secrets.Decrypt(ctx, raw)
		if err != nil {
			return Credential{}, fmt.Errorf("cardnetwork: open credential: %w", err)
		}
	}
	var credential Credential
	if err := json.Unmarshal(raw, &credential); err != nil {
		return Credential{}, fmt.Errorf("cardnetwork: decode credential: %w", err)
	}
	return credential, nil
}

func (s *FileCredentialStore) Save(ctx context.Context, credential Credential) error {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("cardnetwork: credential path is required")
	}
	raw, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("cardnetwork: encode credential: %w", err)
	}
	if s.Secrets != nil {
		raw, err = s.Secrets.Encrypt(ctx, raw)
		if err != nil {
			return fmt.Errorf("cardnetwork: seal credential: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".cardnetwork-*")
	if err != nil {
		return fmt.Errorf("cardnetwork: create temp credential: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cardnetwork: write credential: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cardnetwork: chmod credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cardnetwork: close credential: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("cardnetwork: replace credential: %w", err)
	}
	return nil
}
