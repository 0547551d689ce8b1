package core

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultServiceName         = "agentpay"
	defaultIssuer              = "agentpay"
	defaultOperationalTimezone = "America/Toronto"
	defaultAccessTokenTTL      = time.Hour
	defaultDeviceCodeTTL       = 15 * time.Minute
	defaultDevicePollInterval  = 5 * time.Second
	defaultUserCodePrefix      = "PAY"
	defaultAuthorizationTTL    = 10 * time.Minute
	defaultStepUpTTL           = 10 * time.Minute
	defaultChallengeTTL        = 5 * time.Minute
	defaultWebhookTimeout      = 10 * time.Second
	defaultRefreshAttempts     = 3
	defaultRefreshInitial      = 200 * time.Millisecond
	defaultRefreshMax          = 2 * time.Second
	defaultLegacyTokenWindow   = 0
	defaultSecretHashCost      = 12
)

type TokenConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl"`
	// LegacyWindow keeps HS256 tokens verifiable after the switch to EdDSA.
	// Zero disables legacy verification.
	LegacyWindow time.Duration `koanf:"legacy_window" mapstructure:"legacy_window"`
}

type DeviceConfig struct {
	TTL             time.Duration `koanf:"ttl" mapstructure:"ttl"`
	Interval        time.Duration `koanf:"interval" mapstructure:"interval"`
	UserCodePrefix  string        `koanf:"user_code_prefix" mapstructure:"user_code_prefix"`
	VerificationURI string        `koanf:"verification_uri" mapstructure:"verification_uri"`
}

type AuthorizationConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type StepUpConfig struct {
	TTL          time.Duration `koanf:"ttl" mapstructure:"ttl"`
	ChallengeTTL time.Duration `koanf:"challenge_ttl" mapstructure:"challenge_ttl"`
}

type WebhookConfig struct {
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type RefreshConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type Config struct {
	ServiceName         string              `koanf:"service_name" mapstructure:"service_name"`
	Issuer              string              `koanf:"issuer" mapstructure:"issuer"`
	OperationalTimezone string              `koanf:"operational_timezone" mapstructure:"operational_timezone"`
	SecretHashCost      int                 `koanf:"secret_hash_cost" mapstructure:"secret_hash_cost"`
	Token               TokenConfig         `koanf:"token" mapstructure:"token"`
	Device              DeviceConfig        `koanf:"device" mapstructure:"device"`
	Authorization       AuthorizationConfig `koanf:"authorization" mapstructure:"authorization"`
	StepUp              StepUpConfig        `koanf:"step_up" mapstructure:"step_up"`
	Webhook             WebhookConfig       `koanf:"webhook" mapstructure:"webhook"`
	Refresh             RefreshConfig       `koanf:"refresh" mapstructure:"refresh"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:         defaultServiceName,
		Issuer:              defaultIssuer,
		OperationalTimezone: defaultOperationalTimezone,
		SecretHashCost:      defaultSecretHashCost,
		Token: TokenConfig{
			TTL:          defaultAccessTokenTTL,
			LegacyWindow: defaultLegacyTokenWindow,
		},
		Device: DeviceConfig{
			TTL:            defaultDeviceCodeTTL,
			Interval:       defaultDevicePollInterval,
			UserCodePrefix: defaultUserCodePrefix,
		},
		Authorization: AuthorizationConfig{TTL: defaultAuthorizationTTL},
		StepUp: StepUpConfig{
			TTL:          defaultStepUpTTL,
			ChallengeTTL: defaultChallengeTTL,
		},
		Webhook: WebhookConfig{Timeout: defaultWebhookTimeout},
		Refresh: RefreshConfig{
			MaxAttempts:    defaultRefreshAttempts,
			InitialBackoff: defaultRefreshInitial,
			MaxBackoff:     defaultRefreshMax,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("core: issuer is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.SecretHashCost < bcrypt.MinCost || c.SecretHashCost > bcrypt.MaxCost {
		return fmt.Errorf("core: secret_hash_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("core: token.ttl must be positive")
	}
	if c.Token.LegacyWindow < 0 {
		return fmt.Errorf("core: token.legacy_window must not be negative")
	}
	if c.Device.TTL <= 0 || c.Device.Interval <= 0 {
		return fmt.Errorf("core: device.ttl and device.interval must be positive")
	}
	if c.Authorization.TTL <= 0 {
		return fmt.Errorf("core: authorization.ttl must be positive")
	}
	if c.StepUp.TTL <= 0 {
		return fmt.Errorf("core: step_up.ttl must be positive")
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("core: webhook.timeout must be positive")
	}
	if c.Refresh.MaxAttempts <= 0 {
		return fmt.Errorf("core: refresh.max_attempts must be positive")
	}
	return nil
}

// Location resolves the timezone that daily and monthly spending periods are
// aligned to.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.OperationalTimezone)
	if name == "" {
		name = defaultOperationalTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("core: invalid operational_timezone %q: %w", name, err)
	}
	return loc, nil
}
