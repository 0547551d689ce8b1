package cardnetwork

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-agentpay/core"
	"github.com/goliatone/go-agentpay/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultTokenPath      = "/oauth/token"
	defaultMintPath       = "/v1/network-tokens"
	defaultRequestTimeout = 15 * time.Second
	defaultRefreshSkew    = 30 * time.Second
	defaultLockTTL        = 30 * time.Second
	defaultLockWait       = 5 * time.Second
	lockRetryDelay        = 50 * time.Millisecond
)

type Config struct {
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url" json:"base_url" toml:"base_url"`
	TokenPath      string        `koanf:"token_path" mapstructure:"token_path" json:"token_path" toml:"token_path"`
	MintPath       string        `koanf:"mint_path" mapstructure:"mint_path" json:"mint_path" toml:"mint_path"`
	ClientID       string        `koanf:"client_id" mapstructure:"client_id" json:"client_id" toml:"client_id"`
	ClientSecret   string        `koanf:"client_secret" mapstructure:"client_secret" json:"client_secret" toml:"client_secret"`
	RefreshToken   string        `koanf:"refresh_token" mapstructure:"refresh_token" json:"refresh_token" toml:"refresh_token"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" toml:"request_timeout"`
	RefreshSkew    time.Duration `koanf:"refresh_skew" mapstructure:"refresh_skew" json:"refresh_skew" toml:"refresh_skew"`
}

// RotationPersister is satisfied by *core.Service.
type RotationPersister interface {
	PersistRotatedCredential(ctx context.Context, resource string, persist func(ctx context.Context) error) error
}

type Option func(*Provider)

func WithHTTPClient(doer transport.HTTPDoer) Option {
	return func(p *Provider) {
		if doer != nil {
			p.client = transport.NewClient(doer)
		}
	}
}

// WithRotationPersister routes rotated credential writes through the
// service's retrying persistence.
func WithRotationPersister(persister RotationPersister) Option {
	return func(p *Provider) {
		if persister != nil {
			p.persister = persister
		}
	}
}

func WithRefreshLocker(locker core.RefreshLocker) Option {
	return func(p *Provider) {
		if locker != nil {
			p.locker = locker
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// Provider implements core.CardTokenProvider.
type Provider struct {
	cfg       Config
	client    *transport.Client
	store     CredentialStore
	persister RotationPersister
	locker    core.RefreshLocker
	logger    glog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current Credential
}

type directPersister struct{}

func (directPersister) PersistRotatedCredential(ctx context.Context, _ string, persist func(ctx context.Context) error) error {
	return persist(ctx)
}

func New(cfg Config, store CredentialStore, opts ...Option) (*Provider, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cardnetwork: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("cardnetwork: invalid base url: %w", err)
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("cardnetwork: client id is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cardnetwork: credential store is required")
	}
	if strings.TrimSpace(cfg.TokenPath) == "" {
		cfg.TokenPath = defaultTokenPath
	}
	if strings.TrimSpace(cfg.MintPath) == "" {
		cfg.MintPath = defaultMintPath
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = defaultRefreshSkew
	}

	p := &Provider{
		cfg:       cfg,
		client:    transport.NewClient(nil),
		store:     store,
		persister: directPersister{},
		locker:    core.NewMemoryRefreshLocker(),
		logger:    glog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

type mintPayload struct {
	PaymentMethodID string `json:"payment_method_id"`
	MerchantID      string `json:"merchant_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type mintResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BindRotationPersister sets the persister after construction, for when the
// service that persists rotations is built with this provider.
func (p *Provider) BindRotationPersister(persister RotationPersister) {
	if p == nil || persister == nil {
		return
	}
	p.mu.Lock()
	p.persister = persister
	p.mu.Unlock()
}

func (p *Provider) Mint(ctx context.Context, req core.MintRequest) (core.MintedCredential, error) {
	if p == nil {
		return core.MintedCredential{}, fmt.Errorf("cardnetwork: provider is nil")
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return core.MintedCredential{}, fmt.Errorf("cardnetwork: payment method id is required")
	}
	body, err := json.Marshal(mintPayload{
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		MerchantID:      strings.TrimSpace(req.MerchantID),
		Amount:          req.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
	})
	if err != nil {
		return core.MintedCredential{}, fmt.Errorf("cardnetwork: encode mint request: %w", err)
	}

	credential, err := p.accessCredential(ctx, false)
	if err != nil {
		return core.MintedCredential{}, err
	}
	res, err := p.mint(ctx, credential, body, req.IdempotencyKey)
	if err != nil {
		return core.MintedCredential{}, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		// the network revoked the access token early
		credential, err = p.accessCredential(ctx, true)
		if err != nil {
			return core.MintedCredential{}, err
		}
		res, err = p.mint(ctx, credential, body, req.IdempotencyKey)
		if err != nil {
			return core.MintedCredential{}, err
		}
	}
	if !res.OK() {
		return core.MintedCredential{}, transport.StatusError(res, fmt.Sprintf("cardnetwork: mint returned %d", res.StatusCode))
	}

	var minted mintResponse
	if err := res.DecodeJSON(&minted); err != nil {
		return core.MintedCredential{}, err
	}
	if strings.TrimSpace(minted.Token) == "" {
		return core.MintedCredential{}, fmt.Errorf("cardnetwork: mint response missing token")
	}
	return core.MintedCredential{
		Token:     minted.Token,
		TokenID:   minted.TokenID,
		ExpiresAt: minted.ExpiresAt.UTC(),
	}, nil
}

func (p *Provider) mint(ctx context.Context, credential Credential, body []byte, idempotencyKey string) (transport.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + credential.AccessToken,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		headers["Idempotency-Key"] = key
	}
	return p.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     p.cfg.BaseURL + p.cfg.MintPath,
		Headers: headers,
		Body:    body,
		Timeout: p.cfg.RequestTimeout,
	})
}

// accessCredential returns a usable access token, refreshing when it is near
// expiry or when force is set.
func (p *Provider) accessCredential(ctx context.Context, force bool) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !force && p.current.usable(now, p.cfg.RefreshSkew) {
		return p.current, nil
	}
	stale := p.current.AccessToken

	handle, err := p.acquire(ctx)
	if err != nil {
		return Credential{}, err
	}
	defer func() { _ = handle.Unlock(context.WithoutCancel(ctx)) }()

	stored, err := p.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoCredential):
		stored = Credential{RefreshToken: strings.TrimSpace(p.cfg.RefreshToken)}
	case err != nil:
		return Credential{}, err
	}
	if stored.RefreshToken == "" && p.current.RefreshToken != "" {
		stored = p.current
	}
	// another worker may have refreshed while we waited for the lock
	if stored.usable(now, p.cfg.RefreshSkew) && (!force || stored.AccessToken != stale) {
		p.current = stored
		return stored, nil
	}
	if strings.TrimSpace(stored.RefreshToken) == "" {
		return Credential{}, fmt.Errorf("cardnetwork: no refresh token available")
	}

	next, err := p.refresh(ctx, stored.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	// the previous refresh token is already invalid upstream
	p.current = next
	if err := p.persister.PersistRotatedCredential(ctx, p.resource(), func(ctx context.Context) error {
		return p.store.Save(ctx, next)
	}); err != nil {
		p.logger.Error("card network credential rotation not persisted",
			"resource", p.resource(), "error", err.Error())
		return Credential{}, err
	}
	return next, nil
}

func (p *Provider) acquire(ctx context.Context) (core.LockHandle, error) {
	deadline := p.now().Add(defaultLockWait)
	for {
		handle, err := p.locker.Acquire(ctx, p.resource(), defaultLockTTL)
		if err == nil {
			return handle, nil
		}
		if !p.now().Before(deadline) {
			return nil, fmt.Errorf("cardnetwork: acquire refresh lock: %w", err)
		}
		timer := time.NewTimer(lockRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.cfg.ClientID)

	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}
	if p.cfg.ClientSecret != "" {
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID+":"+p.cfg.ClientSecret))
	}
	res, err := p.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     p.cfg.BaseURL + p.cfg.TokenPath,
		Headers: headers,
		Body:    []byte(form.Encode()),
		Timeout: p.cfg.RequestTimeout,
	})
	if err != nil {
		return Credential{}, err
	}
	if !res.OK() {
		return Credential{}, transport.StatusError(res, fmt.Sprintf("cardnetwork: refresh returned %d", res.StatusCode))
	}
	var token tokenResponse
	if err := res.DecodeJSON(&token); err != nil {
		return Credential{}, err
	}
	if token.Error != "" || strings.TrimSpace(token.AccessToken) == "" {
		return Credential{}, fmt.Errorf("cardnetwork: refresh response missing access token")
	}

	next := Credential{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		ExpiresAt:    p.now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	if token.ExpiresIn <= 0 {
		next.ExpiresAt = p.now().Add(time.Hour)
	}
	return next, nil
}

func (p *Provider) resource() string {
	return "card_network:" + p.cfg.ClientID
}

var _ core.CardTokenProvider = (*Provider)(nil)
