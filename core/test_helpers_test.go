package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("sealed:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "sealed:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "sealed:"))
}

// memoryStores backs every store with maps guarded by one mutex. RunInTx
// snapshots the maps and restores them when fn fails.
type memoryStores struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	agents       map[string]Agent
	tokens       map[string]AccessTokenRecord
	transactions map[string]Transaction
	stepUps      map[string]StepUpRequest
	grants       map[string]AuthorizationGrant
	clients      map[string]OAuthClient
	webhooks     map[string]WebhookSubscription
	deliveries   []DeliveryLog
	dispatches   map[string]NotificationDispatchRecord
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		agents:       map[string]Agent{},
		tokens:       map[string]AccessTokenRecord{},
		transactions: map[string]Transaction{},
		stepUps:      map[string]StepUpRequest{},
		grants:       map[string]AuthorizationGrant{},
		clients:      map[string]OAuthClient{},
		webhooks:     map[string]WebhookSubscription{},
		dispatches:   map[string]NotificationDispatchRecord{},
	}
}

func (m *memoryStores) Agents() AgentStore                             { return memoryAgentStore{m} }
func (m *memoryStores) Tokens() TokenStore                             { return memoryTokenStore{m} }
func (m *memoryStores) Transactions() TransactionStore                 { return memoryTransactionStore{m} }
func (m *memoryStores) StepUps() StepUpStore                           { return memoryStepUpStore{m} }
func (m *memoryStores) Grants() GrantStore                             { return memoryGrantStore{m} }
func (m *memoryStores) OAuthClients() OAuthClientStore                 { return memoryClientStore{m} }
func (m *memoryStores) WebhookSubscriptions() WebhookSubscriptionStore { return memoryWebhookStore{m} }
func (m *memoryStores) DeliveryLogs() DeliveryLogStore                 { return memoryDeliveryLogStore{m} }
func (m *memoryStores) NotificationDispatches() NotificationDispatchLedger {
	return memoryDispatchLedger{m}
}
func (m *memoryStores) UnitOfWork() UnitOfWork { return m }

func (m *memoryStores) RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	agents := copyMap(m.agents)
	tokens := copyMap(m.tokens)
	transactions := copyMap(m.transactions)
	stepUps := copyMap(m.stepUps)
	grants := copyMap(m.grants)
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.agents = agents
		m.tokens = tokens
		m.transactions = transactions
		m.stepUps = stepUps
		m.grants = grants
		m.mu.Unlock()
		return err
	}
	return nil
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

type memoryAgentStore struct{ m *memoryStores }

func (s memoryAgentStore) Create(_ context.Context, agent Agent) (Agent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.agents[agent.ID]; ok {
		return Agent{}, ErrDuplicate
	}
	for _, existing := range s.m.agents {
		if existing.ClientID == agent.ClientID {
			return Agent{}, ErrDuplicate
		}
	}
	s.m.agents[agent.ID] = agent
	return agent, nil
}

func (s memoryAgentStore) Get(_ context.Context, id string) (Agent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	agent, ok := s.m.agents[id]
	if !ok {
		return Agent{}, ErrRecordNotFound
	}
	return agent, nil
}

func (s memoryAgentStore) GetByClientID(_ context.Context, clientID string) (Agent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, agent := range s.m.agents {
		if agent.ClientID == clientID {
			return agent, nil
		}
	}
	return Agent{}, ErrRecordNotFound
}

func (s memoryAgentStore) Update(_ context.Context, agent Agent, expected AgentStatus) (Agent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	current, ok := s.m.agents[agent.ID]
	if !ok {
		return Agent{}, ErrRecordNotFound
	}
	if current.Status != expected {
		return Agent{}, ErrStaleTransition
	}
	s.m.agents[agent.ID] = agent
	return agent, nil
}

func (s memoryAgentStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	agent, ok := s.m.agents[id]
	if !ok {
		return ErrRecordNotFound
	}
	agent.LastUsedAt = &at
	s.m.agents[id] = agent
	return nil
}

type memoryTokenStore struct{ m *memoryStores }

func (s memoryTokenStore) Save(_ context.Context, record AccessTokenRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.tokens[record.TokenHash]; ok {
		return ErrDuplicate
	}
	s.m.tokens[record.TokenHash] = record
	return nil
}

func (s memoryTokenStore) Get(_ context.Context, tokenHash string) (AccessTokenRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	record, ok := s.m.tokens[tokenHash]
	if !ok {
		return AccessTokenRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (s memoryTokenStore) Revoke(_ context.Context, tokenHash string, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	record, ok := s.m.tokens[tokenHash]
	if !ok || record.RevokedAt != nil {
		return false, nil
	}
	record.RevokedAt = &at
	s.m.tokens[tokenHash] = record
	return true, nil
}

func (s memoryTokenStore) RevokeAllForAgent(_ context.Context, agentID string, at time.Time) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	count := 0
	for hash, record := range s.m.tokens {
		if record.AgentID != agentID || record.RevokedAt != nil {
			continue
		}
		revokedAt := at
		record.RevokedAt = &revokedAt
		s.m.tokens[hash] = record
		count++
	}
	return count, nil
}

type memoryTransactionStore struct{ m *memoryStores }

func (s memoryTransactionStore) Create(_ context.Context, tx Transaction) (Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.transactions[tx.ID]; ok {
		return Transaction{}, ErrDuplicate
	}
	s.m.transactions[tx.ID] = tx
	return tx, nil
}

func (s memoryTransactionStore) Get(_ context.Context, id string) (Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tx, ok := s.m.transactions[id]
	if !ok {
		return Transaction{}, ErrRecordNotFound
	}
	return tx, nil
}

func (s memoryTransactionStore) UpdateStatus(_ context.Context, id string, expected TransactionStatus, next TransactionStatus, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tx, ok := s.m.transactions[id]
	if !ok {
		return ErrRecordNotFound
	}
	if tx.Status != expected {
		return ErrStaleTransition
	}
	tx.Status = next
	tx.UpdatedAt = at
	s.m.transactions[id] = tx
	return nil
}

func (s memoryTransactionStore) SumCompleted(_ context.Context, agentID string, currency string, since time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var total int64
	for _, tx := range s.m.transactions {
		if tx.AgentID != agentID || tx.Currency != currency || tx.Status != TransactionStatusCompleted {
			continue
		}
		if tx.CreatedAt.Before(since) {
			continue
		}
		total += tx.Amount
	}
	return total, nil
}

type memoryStepUpStore struct{ m *memoryStores }

func (s memoryStepUpStore) Create(_ context.Context, req StepUpRequest) (StepUpRequest, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.stepUps[req.ID] = req
	return req, nil
}

func (s memoryStepUpStore) Get(_ context.Context, id string) (StepUpRequest, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	req, ok := s.m.stepUps[id]
	if !ok {
		return StepUpRequest{}, ErrRecordNotFound
	}
	return req, nil
}

func (s memoryStepUpStore) Update(_ context.Context, req StepUpRequest, expected StepUpStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	current, ok := s.m.stepUps[req.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if current.Status != expected {
		return ErrStaleTransition
	}
	s.m.stepUps[req.ID] = req
	return nil
}

func (s memoryStepUpStore) RejectPendingForAgent(_ context.Context, agentID string, reason string, at time.Time) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	count := 0
	for id, req := range s.m.stepUps {
		if req.AgentID != agentID || req.Status != StepUpStatusPending {
			continue
		}
		decidedAt := at
		req.Status = StepUpStatusRejected
		req.RejectionReason = reason
		req.DecidedAt = &decidedAt
		req.UpdatedAt = at
		s.m.stepUps[id] = req
		count++
	}
	return count, nil
}

type memoryGrantStore struct{ m *memoryStores }

func (s memoryGrantStore) Create(_ context.Context, grant AuthorizationGrant) (AuthorizationGrant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.grants[grant.ID]; ok {
		return AuthorizationGrant{}, ErrDuplicate
	}
	if grant.UserCode != "" {
		for _, existing := range s.m.grants {
			if existing.UserCode == grant.UserCode {
				return AuthorizationGrant{}, ErrDuplicate
			}
		}
	}
	s.m.grants[grant.ID] = grant
	return grant, nil
}

func (s memoryGrantStore) Get(_ context.Context, id string) (AuthorizationGrant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	grant, ok := s.m.grants[id]
	if !ok {
		return AuthorizationGrant{}, ErrRecordNotFound
	}
	return grant, nil
}

func (s memoryGrantStore) GetByUserCode(_ context.Context, userCode string) (AuthorizationGrant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, grant := range s.m.grants {
		if userCode != "" && grant.UserCode == userCode {
			return grant, nil
		}
	}
	return AuthorizationGrant{}, ErrRecordNotFound
}

func (s memoryGrantStore) GetByCodeHash(_ context.Context, codeHash string) (AuthorizationGrant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, grant := range s.m.grants {
		if codeHash != "" && grant.CodeHash == codeHash {
			return grant, nil
		}
	}
	return AuthorizationGrant{}, ErrRecordNotFound
}

func (s memoryGrantStore) Update(_ context.Context, grant AuthorizationGrant, expected GrantStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	current, ok := s.m.grants[grant.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if current.Status != expected {
		return ErrStaleTransition
	}
	s.m.grants[grant.ID] = grant
	return nil
}

type memoryClientStore struct{ m *memoryStores }

func (s memoryClientStore) Upsert(_ context.Context, client OAuthClient) (OAuthClient, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.clients[client.ClientID] = client
	return client, nil
}

func (s memoryClientStore) Get(_ context.Context, clientID string) (OAuthClient, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	client, ok := s.m.clients[clientID]
	if !ok {
		return OAuthClient{}, ErrRecordNotFound
	}
	return client, nil
}

type memoryWebhookStore struct{ m *memoryStores }

func (s memoryWebhookStore) Upsert(_ context.Context, sub WebhookSubscription) (WebhookSubscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if existing, ok := s.m.webhooks[sub.MerchantID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	}
	s.m.webhooks[sub.MerchantID] = sub
	return sub, nil
}

func (s memoryWebhookStore) GetByMerchant(_ context.Context, merchantID string) (WebhookSubscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub, ok := s.m.webhooks[merchantID]
	if !ok {
		return WebhookSubscription{}, ErrRecordNotFound
	}
	return sub, nil
}

func (s memoryWebhookStore) ListEnabled(_ context.Context, eventType string) ([]WebhookSubscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []WebhookSubscription{}
	for _, sub := range s.m.webhooks {
		if sub.Wants(eventType) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out, nil
}

type memoryDeliveryLogStore struct{ m *memoryStores }

func (s memoryDeliveryLogStore) Append(_ context.Context, log DeliveryLog) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.deliveries = append(s.m.deliveries, log)
	return nil
}

func (s memoryDeliveryLogStore) List(_ context.Context, filter DeliveryLogFilter) (DeliveryLogPage, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	matched := []DeliveryLog{}
	for _, log := range s.m.deliveries {
		if filter.WebhookID != "" && log.WebhookID != filter.WebhookID {
			continue
		}
		if filter.EventType != "" && log.EventType != filter.EventType {
			continue
		}
		matched = append(matched, log)
	}
	page := DeliveryLogPage{Total: len(matched)}
	if filter.Offset < len(matched) {
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[filter.Offset:end]
	}
	return page, nil
}

type memoryDispatchLedger struct{ m *memoryStores }

func (l memoryDispatchLedger) Seen(_ context.Context, key string) (bool, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	record, ok := l.m.dispatches[key]
	return ok && record.Status == notificationStatusDelivered, nil
}

func (l memoryDispatchLedger) Record(_ context.Context, record NotificationDispatchRecord) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.m.dispatches[record.IdempotencyKey] = record
	return nil
}

var _ StoreProvider = (*memoryStores)(nil)
var _ UnitOfWork = (*memoryStores)(nil)

// fakeTokenCodec encodes claims as JSON without a signature. Tokens not
// produced by it fail verification.
type fakeTokenCodec struct{}

const fakeTokenPrefix = "fake."

func (fakeTokenCodec) Sign(_ context.Context, claims TokenClaims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return fakeTokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func (fakeTokenCodec) Verify(_ context.Context, token string) (TokenClaims, error) {
	if !strings.HasPrefix(token, fakeTokenPrefix) {
		return TokenClaims{}, fmt.Errorf("fake codec: unknown token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, fakeTokenPrefix))
	if err != nil {
		return TokenClaims{}, err
	}
	var claims TokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return TokenClaims{}, err
	}
	claims.Algorithm = "none"
	return claims, nil
}

type stubCardTokenProvider struct {
	mu       sync.Mutex
	requests []MintRequest
	err      error
}

func (p *stubCardTokenProvider) Mint(_ context.Context, req MintRequest) (MintedCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return MintedCredential{}, p.err
	}
	p.requests = append(p.requests, req)
	id := fmt.Sprintf("ctk_%d", len(p.requests))
	return MintedCredential{
		Token:     "card-token-" + id,
		TokenID:   id,
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (p *stubCardTokenProvider) minted() []MintRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MintRequest(nil), p.requests...)
}

type stubBiometricVerifier struct {
	verified bool
	err      error
	calls    int
}

func (v *stubBiometricVerifier) Verify(context.Context, BiometricAssertion) (BiometricResult, error) {
	v.calls++
	if v.err != nil {
		return BiometricResult{}, v.err
	}
	return BiometricResult{Verified: v.verified, Counter: uint32(v.calls)}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []NotificationRequest
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, req NotificationRequest) (NotificationResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	if n.err != nil {
		return NotificationResult{}, n.err
	}
	return NotificationResult{Delivered: true, MessageID: fmt.Sprintf("msg_%d", len(n.requests))}, nil
}

func (n *recordingNotifier) sent() []NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotificationRequest(nil), n.requests...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []LifecycleEvent
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, event LifecycleEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.Type)
	}
	return out
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// testClock is a settable clock shared by the service and the challenge cache.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc        *Service
	stores     *memoryStores
	clock      *testClock
	cards      *stubCardTokenProvider
	biometrics *stubBiometricVerifier
	notifier   *recordingNotifier
	emitter    *recordingEmitter
	logger     *captureLogger
	metrics    *captureMetricsRecorder
}

// fixtureNow is a Tuesday mid-afternoon in Toronto.
var fixtureNow = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		stores:     newMemoryStores(),
		clock:      newTestClock(fixtureNow),
		cards:      &stubCardTokenProvider{},
		biometrics: &stubBiometricVerifier{verified: true},
		notifier:   &recordingNotifier{},
		emitter:    &recordingEmitter{},
		logger:     newCaptureLogger(),
		metrics:    &captureMetricsRecorder{},
	}
	challenges := NewChallengeCache(defaultChallengeTTL)
	challenges.Now = fixture.clock.Now

	cfg := DefaultConfig()
	cfg.SecretHashCost = bcrypt.MinCost
	cfg.Device.VerificationURI = "https://wallet.example/device"

	base := []Option{
		WithStores(fixture.stores),
		WithTokenCodec(fakeTokenCodec{}),
		WithCardTokenProvider(fixture.cards),
		WithBiometricVerifier(fixture.biometrics),
		WithNotificationSender(fixture.notifier),
		WithEventEmitter(fixture.emitter),
		WithChallengeCache(challenges),
		WithClock(fixture.clock.Now),
		WithLoggerProvider(stubLoggerProvider{logger: fixture.logger}),
		WithLogger(fixture.logger),
		WithMetricsRecorder(fixture.metrics),
		WithSecretProvider(testSecretProvider{}),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

// seedAgent creates an active agent with CAD limits in minor units.
func (f *serviceFixture) seedAgent(t *testing.T, limits SpendingLimits) AgentCredentials {
	t.Helper()
	creds, err := f.svc.CreateAgent(context.Background(), CreateAgentRequest{
		OwnerID:     "owner_1",
		Name:        "shopping assistant",
		Permissions: []string{"payments:purchase", "payments:read"},
		Limits:      limits,
		Currency:    "CAD",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return creds
}

func (f *serviceFixture) registerClient(t *testing.T, clientID string, redirects ...string) OAuthClient {
	t.Helper()
	client, err := f.svc.RegisterOAuthClient(context.Background(), OAuthClient{
		ClientID:      clientID,
		Name:          clientID,
		RedirectURIs:  redirects,
		AllowedScopes: []string{"payments:purchase", "payments:read"},
	})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	return client
}

func requireOAuthError(t *testing.T, err error, code OAuthErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected oauth error %q, got nil", code)
	}
	oauthErr := AsOAuthError(err)
	if oauthErr.Code != code {
		t.Fatalf("expected oauth error %q, got %q (%v)", code, oauthErr.Code, err)
	}
}

func requireTextCode(t *testing.T, err error, textCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", textCode)
	}
	if got := errorTextCode(err); got != textCode {
		t.Fatalf("expected text code %q, got %q (%v)", textCode, got, err)
	}
}

func errorTextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}
