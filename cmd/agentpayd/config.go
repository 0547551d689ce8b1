package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/auth"
	"github.com/goliatone/go-agentpay/providers/attestation"
	"github.com/goliatone/go-agentpay/providers/cardnetwork"
	"github.com/goliatone/go-agentpay/providers/push"
	"github.com/goliatone/go-config/cfgx"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the decoded TOML file: the [daemon] table configures the
// process, the [service] table is handed to the core config provider.
type fileConfig struct {
	Daemon  daemonConfig
	Service map[string]any
}

type daemonConfig struct {
	Listen          string          `koanf:"listen" mapstructure:"listen"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	LogLevel        string          `koanf:"log_level" mapstructure:"log_level"`
	LogFormat       string          `koanf:"log_format" mapstructure:"log_format"`
	Database        databaseConfig  `koanf:"database" mapstructure:"database"`
	Keys            keysConfig      `koanf:"keys" mapstructure:"keys"`
	RateLimit       rateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit"`
	OwnerAuth       ownerAuthConfig `koanf:"owner_auth" mapstructure:"owner_auth"`
	AgentCache      cacheConfig     `koanf:"agent_cache" mapstructure:"agent_cache"`
	Webhooks        webhooksConfig  `koanf:"webhooks" mapstructure:"webhooks"`

	ResourceServers []auth.ResourceServerCredential `koanf:"resource_servers" mapstructure:"resource_servers"`
	OAuthClients    []oauthClientConfig             `koanf:"oauth_clients" mapstructure:"oauth_clients"`

	CardNetwork cardnetworkConfig  `koanf:"card_network" mapstructure:"card_network"`
	Attestation attestation.Config `koanf:"attestation" mapstructure:"attestation"`
	Push        push.Config        `koanf:"push" mapstructure:"push"`
}

type databaseConfig struct {
	Driver      string `koanf:"driver" mapstructure:"driver"`
	DSN         string `koanf:"dsn" mapstructure:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate" mapstructure:"auto_migrate"`
	Debug       bool   `koanf:"debug" mapstructure:"debug"`
}

type keysConfig struct {
	SigningKeyFile string `koanf:"signing_key_file" mapstructure:"signing_key_file"`
	AppKey         string `koanf:"app_key" mapstructure:"app_key"`
	AppKeyID       string `koanf:"app_key_id" mapstructure:"app_key_id"`
	// LegacyHS256Secret verifies tokens signed before the EdDSA switch for
	// service.token.legacy_window after startup.
	LegacyHS256Secret string `koanf:"legacy_hs256_secret" mapstructure:"legacy_hs256_secret"`
}

type rateLimitConfig struct {
	TokenPerMinute  int `koanf:"token_per_minute" mapstructure:"token_per_minute"`
	TokenBurst      int `koanf:"token_burst" mapstructure:"token_burst"`
	DevicePerMinute int `koanf:"device_per_minute" mapstructure:"device_per_minute"`
	DeviceBurst     int `koanf:"device_burst" mapstructure:"device_burst"`
}

type ownerAuthConfig struct {
	Mode   string `koanf:"mode" mapstructure:"mode"`
	Header string `koanf:"header" mapstructure:"header"`
	Secret string `koanf:"secret" mapstructure:"secret"`
}

type cacheConfig struct {
	Enabled bool          `koanf:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type webhooksConfig struct {
	Concurrency int `koanf:"concurrency" mapstructure:"concurrency"`
}

type oauthClientConfig struct {
	ClientID      string   `koanf:"client_id" mapstructure:"client_id"`
	Name          string   `koanf:"name" mapstructure:"name"`
	RedirectURIs  []string `koanf:"redirect_uris" mapstructure:"redirect_uris"`
	AllowedScopes []string `koanf:"allowed_scopes" mapstructure:"allowed_scopes"`
}

type cardnetworkConfig struct {
	cardnetwork.Config `koanf:",squash" mapstructure:",squash"`
	CredentialFile     string `koanf:"credential_file" mapstructure:"credential_file"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Listen:          ":8080",
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
		Database: databaseConfig{
			Driver:      "sqlite3",
			DSN:         "file:agentpay.db?_foreign_keys=on",
			AutoMigrate: true,
		},
		RateLimit: rateLimitConfig{
			TokenPerMinute:  60,
			TokenBurst:      10,
			DevicePerMinute: 12,
			DeviceBurst:     3,
		},
		OwnerAuth:  ownerAuthConfig{Mode: "header"},
		AgentCache: cacheConfig{Enabled: true, TTL: 30 * time.Second},
		Webhooks:   webhooksConfig{Concurrency: 8},
		CardNetwork: cardnetworkConfig{
			CredentialFile: "cardnetwork-credential.json",
		},
	}
}

func (c *daemonConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("config: database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(c.Keys.AppKey) == "" {
		return fmt.Errorf("config: keys.app_key is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.OwnerAuth.Mode)) {
	case "header":
	case "hmac":
		if strings.TrimSpace(c.OwnerAuth.Secret) == "" {
			return fmt.Errorf("config: owner_auth.secret is required in hmac mode")
		}
	default:
		return fmt.Errorf("config: owner_auth.mode must be header or hmac, got %q", c.OwnerAuth.Mode)
	}
	if strings.TrimSpace(c.CardNetwork.BaseURL) == "" {
		return fmt.Errorf("config: card_network.base_url is required")
	}
	return nil
}

// loadConfig reads path (when set) and builds the daemon config over the
// defaults. The [service] table is returned raw.
func loadConfig(path string) (fileConfig, error) {
	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fileConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &raw); err != nil {
			return fileConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return buildConfig(raw)
}

func buildConfig(raw map[string]any) (fileConfig, error) {
	daemonRaw, _ := raw["daemon"].(map[string]any)
	if daemonRaw == nil {
		daemonRaw = map[string]any{}
	}
	daemon, err := cfgx.Build[daemonConfig](daemonRaw,
		cfgx.WithDefaults(defaultDaemonConfig()),
		cfgx.WithValidator[daemonConfig]((*daemonConfig).Validate),
	)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config: build daemon config: %w", err)
	}
	serviceRaw, _ := raw["service"].(map[string]any)
	return fileConfig{Daemon: daemon, Service: serviceRaw}, nil
}
