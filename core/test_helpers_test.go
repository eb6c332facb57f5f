package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type testCipher struct{}

func (testCipher) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	if len(plaintext) == 0 {
		return nil, nil, fmt.Errorf("test cipher: plaintext is required")
	}
	nonce := []byte(uuid.NewString()[:12])
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nonce, nil
}

func (testCipher) Decrypt(ciphertext []byte, nonce []byte) ([]byte, error) {
	value := string(ciphertext)
	if len(nonce) == 0 || !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("%w: test cipher rejected ciphertext", ErrIntegrity)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return decoded, nil
}

type testProvider struct {
	mu           sync.Mutex
	exchangeErr  error
	discoverErr  error
	refreshErr   error
	exchanged    []string
	refreshCalls int
	userToken    TokenSet
	accounts     []DiscoveredAccount
	refreshed    TokenSet
	onRefresh    func(ProviderRefreshRequest)
}

func (p *testProvider) ID() string { return "meta" }

func (p *testProvider) AuthorizationURL(state string, scopes []Scope) (string, error) {
	return "https://auth.example/dialog?state=" + state + "&scope=" + strings.Join(ScopeStrings(scopes), ","), nil
}

func (p *testProvider) Exchange(_ context.Context, code string) (TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanged = append(p.exchanged, code)
	if p.exchangeErr != nil {
		return TokenSet{}, p.exchangeErr
	}
	if p.userToken.AccessSecret == "" {
		return TokenSet{AccessSecret: "user-token", TokenType: "bearer"}, nil
	}
	return p.userToken, nil
}

func (p *testProvider) Discover(context.Context, TokenSet) ([]DiscoveredAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discoverErr != nil {
		return nil, p.discoverErr
	}
	return append([]DiscoveredAccount(nil), p.accounts...), nil
}

func (p *testProvider) Refresh(_ context.Context, req ProviderRefreshRequest) (TokenSet, error) {
	p.mu.Lock()
	p.refreshCalls++
	hook := p.onRefresh
	refreshErr := p.refreshErr
	refreshed := p.refreshed
	p.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if refreshErr != nil {
		return TokenSet{}, refreshErr
	}
	return refreshed, nil
}

func (p *testProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

type memoryTenantStore struct {
	mu      sync.Mutex
	tenants map[string]Tenant
}

func newMemoryTenantStore() *memoryTenantStore {
	return &memoryTenantStore{tenants: map[string]Tenant{}}
}

func (s *memoryTenantStore) Create(_ context.Context, in CreateTenantInput) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	tenant := Tenant{ID: uuid.NewString(), Slug: in.Slug, Name: in.Name, Status: TenantStatusActive, CreatedAt: now, UpdatedAt: now}
	s.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (s *memoryTenantStore) Get(_ context.Context, tenantID string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
	}
	return tenant, nil
}

func (s *memoryTenantStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
	return nil
}

type memoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]ConnectedAccount
}

func newMemoryAccountStore() *memoryAccountStore {
	return &memoryAccountStore{accounts: map[string]ConnectedAccount{}}
}

func (s *memoryAccountStore) Upsert(_ context.Context, tenantID string, in UpsertAccountInput) (ConnectedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	syncedAt := in.SyncedAt
	for id, existing := range s.accounts {
		if existing.TenantID == tenantID && existing.Platform == in.Platform && existing.ProviderAccountID == in.ProviderAccountID {
			existing.DisplayName = in.DisplayName
			existing.Username = in.Username
			existing.Kind = in.Kind
			existing.ParentAccountID = in.ParentAccountID
			existing.Active = true
			existing.LastSyncedAt = &syncedAt
			existing.UpdatedAt = syncedAt
			s.accounts[id] = existing
			return existing, nil
		}
	}
	account := ConnectedAccount{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Platform:          in.Platform,
		ProviderAccountID: in.ProviderAccountID,
		DisplayName:       in.DisplayName,
		Username:          in.Username,
		Kind:              in.Kind,
		ParentAccountID:   in.ParentAccountID,
		Active:            true,
		LastSyncedAt:      &syncedAt,
		CreatedAt:         syncedAt,
		UpdatedAt:         syncedAt,
	}
	s.accounts[account.ID] = account
	return account, nil
}

func (s *memoryAccountStore) Get(_ context.Context, tenantID string, accountID string) (ConnectedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return ConnectedAccount{}, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	return account, nil
}

func (s *memoryAccountStore) FindByProviderID(_ context.Context, tenantID string, platform Platform, providerAccountID string) (ConnectedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.TenantID == tenantID && account.Platform == platform && account.ProviderAccountID == providerAccountID {
			return account, nil
		}
	}
	return ConnectedAccount{}, fmt.Errorf("%w: account %s:%s", ErrNotFound, platform, providerAccountID)
}

func (s *memoryAccountStore) ListByTenant(_ context.Context, tenantID string) ([]ConnectedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ConnectedAccount{}
	for _, account := range s.accounts {
		if account.TenantID == tenantID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderAccountID < out[j].ProviderAccountID })
	return out, nil
}

func (s *memoryAccountStore) Deactivate(_ context.Context, tenantID string, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	account.Active = false
	s.accounts[accountID] = account
	return nil
}

type memoryCredentialStore struct {
	mu          sync.Mutex
	credentials map[string]Credential
	replaceHook func()
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{credentials: map[string]Credential{}}
}

func (s *memoryCredentialStore) SaveCurrent(_ context.Context, tenantID string, in SaveCredentialInput) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	version := 0
	for id, existing := range s.credentials {
		if existing.TenantID != tenantID || existing.AccountID != in.AccountID || existing.Kind != in.Kind {
			continue
		}
		if existing.Version > version {
			version = existing.Version
		}
		if !existing.Revoked {
			existing.Revoked = true
			existing.RevokedAt = &now
			existing.RevokedReason = "superseded"
			s.credentials[id] = existing
		}
	}
	credential := Credential{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		AccountID:  in.AccountID,
		Kind:       in.Kind,
		Ciphertext: append([]byte(nil), in.Ciphertext...),
		Nonce:      append([]byte(nil), in.Nonce...),
		TokenType:  in.TokenType,
		Scopes:     append([]string(nil), in.Scopes...),
		IssuedAt:   in.IssuedAt,
		ExpiresAt:  cloneTimePointer(in.ExpiresAt),
		Version:    version + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.credentials[credential.ID] = credential
	return credential, nil
}

func (s *memoryCredentialStore) GetCurrent(_ context.Context, tenantID string, accountID string, kind CredentialKind) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current Credential
	found := false
	for _, credential := range s.credentials {
		if credential.TenantID != tenantID || credential.AccountID != accountID || credential.Kind != kind {
			continue
		}
		if !found || credential.Version > current.Version {
			current = credential
			found = true
		}
	}
	if !found {
		return Credential{}, fmt.Errorf("%w: %s credential for account %s", ErrNotFound, kind, accountID)
	}
	return current, nil
}

func (s *memoryCredentialStore) Get(_ context.Context, tenantID string, credentialID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[credentialID]
	if !ok || credential.TenantID != tenantID {
		return Credential{}, fmt.Errorf("%w: credential %s", ErrNotFound, credentialID)
	}
	return credential, nil
}

func (s *memoryCredentialStore) ReplaceSecret(_ context.Context, tenantID string, in ReplaceSecretInput) (Credential, error) {
	if s.replaceHook != nil {
		s.replaceHook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[in.CredentialID]
	if !ok || credential.TenantID != tenantID {
		return Credential{}, fmt.Errorf("%w: credential %s", ErrNotFound, in.CredentialID)
	}
	if credential.Revoked || credential.Version != in.ExpectedVersion {
		return Credential{}, fmt.Errorf("%w: credential %s", ErrVersionConflict, in.CredentialID)
	}
	refreshedAt := in.RefreshedAt
	credential.Ciphertext = append([]byte(nil), in.Ciphertext...)
	credential.Nonce = append([]byte(nil), in.Nonce...)
	credential.ExpiresAt = cloneTimePointer(in.ExpiresAt)
	credential.LastRefreshedAt = &refreshedAt
	credential.Version++
	credential.UpdatedAt = refreshedAt
	s.credentials[credential.ID] = credential
	return credential, nil
}

func (s *memoryCredentialStore) Revoke(_ context.Context, tenantID string, credentialID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[credentialID]
	if !ok || credential.TenantID != tenantID {
		return fmt.Errorf("%w: credential %s", ErrNotFound, credentialID)
	}
	now := time.Now().UTC()
	credential.Revoked = true
	credential.RevokedAt = &now
	credential.RevokedReason = reason
	s.credentials[credentialID] = credential
	return nil
}

func (s *memoryCredentialStore) RevokeForAccount(_ context.Context, tenantID string, accountID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, credential := range s.credentials {
		if credential.TenantID == tenantID && credential.AccountID == accountID && !credential.Revoked {
			credential.Revoked = true
			credential.RevokedAt = &now
			credential.RevokedReason = reason
			s.credentials[id] = credential
		}
	}
	return nil
}

func (s *memoryCredentialStore) TouchLastUsed(_ context.Context, tenantID string, credentialID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[credentialID]
	if !ok || credential.TenantID != tenantID {
		return fmt.Errorf("%w: credential %s", ErrNotFound, credentialID)
	}
	credential.LastUsedAt = &at
	s.credentials[credentialID] = credential
	return nil
}

func (s *memoryCredentialStore) ListCurrentByTenant(_ context.Context, tenantID string) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Credential{}
	for _, credential := range s.credentials {
		if credential.TenantID == tenantID && !credential.Revoked {
			out = append(out, credential)
		}
	}
	return out, nil
}

func (s *memoryCredentialStore) ListExpiring(_ context.Context, in ListExpiringInput) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Credential{}
	for _, credential := range s.credentials {
		if credential.Revoked || credential.Kind != CredentialKindAccess {
			continue
		}
		if credential.ExpiresAt != nil {
			if !credential.ExpiresAt.After(in.ExpiresBefore) {
				out = append(out, credential)
			}
			continue
		}
		if !in.VerifiedBefore.IsZero() && credential.LastVerifiedAt().Before(in.VerifiedBefore) {
			out = append(out, credential)
		}
	}
	return out, nil
}

func (s *memoryCredentialStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.credentials)
}

type memoryRefreshEventStore struct {
	mu     sync.Mutex
	events []RefreshEvent
	err    error
}

func (s *memoryRefreshEventStore) Append(_ context.Context, tenantID string, event RefreshEvent) (RefreshEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return RefreshEvent{}, s.err
	}
	event.ID = uuid.NewString()
	event.TenantID = tenantID
	s.events = append(s.events, event)
	return event, nil
}

func (s *memoryRefreshEventStore) ListByCredential(_ context.Context, tenantID string, credentialID string) ([]RefreshEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []RefreshEvent{}
	for _, event := range s.events {
		if event.TenantID == tenantID && event.CredentialID == credentialID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *memoryRefreshEventStore) snapshot() []RefreshEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RefreshEvent(nil), s.events...)
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]AuthorizationState
}

func (s *memoryStateStore) Save(_ context.Context, state AuthorizationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(state.Token) == "" {
		return fmt.Errorf("test state store: token is required")
	}
	s.states[state.Token] = state
	return nil
}

func (s *memoryStateStore) Consume(_ context.Context, token string, now time.Time) (AuthorizationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[token]
	if !ok || state.Consumed || state.Expired(now) {
		return AuthorizationState{}, fmt.Errorf("%w: state not usable", ErrInvalidState)
	}
	consumedAt := now
	state.Consumed = true
	state.ConsumedAt = &consumedAt
	s.states[token] = state
	return state, nil
}

func (s *memoryStateStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for token, state := range s.states {
		if state.Expired(now) {
			delete(s.states, token)
			deleted++
		}
	}
	return deleted, nil
}

type testStores struct {
	tenants     *memoryTenantStore
	accounts    *memoryAccountStore
	credentials *memoryCredentialStore
	events      *memoryRefreshEventStore
	states      *memoryStateStore
}

func newTestStores() *testStores {
	return &testStores{
		tenants:     newMemoryTenantStore(),
		accounts:    newMemoryAccountStore(),
		credentials: newMemoryCredentialStore(),
		events:      &memoryRefreshEventStore{},
		states:      &memoryStateStore{states: map[string]AuthorizationState{}},
	}
}

func (s *testStores) TenantStore() TenantStore { return s.tenants }
func (s *testStores) AccountStore() AccountStore { return s.accounts }
func (s *testStores) CredentialStore() CredentialStore { return s.credentials }
func (s *testStores) RefreshEventStore() RefreshEventStore { return s.events }
func (s *testStores) AuthorizationStateStore() AuthorizationStateStore { return s.states }

type serviceFixture struct {
	svc      *Service
	stores   *testStores
	provider *testProvider
	now      time.Time
}

func newServiceFixture(t testing.TB, opts ...Option) *serviceFixture {
	stores := newTestStores()
	provider := &testProvider{}
	fixture := &serviceFixture{stores: stores, provider: provider, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{
		WithRepositoryFactory(stores),
		WithCipher(testCipher{}),
		WithProvider(provider),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithClock(func() time.Time { return fixture.now }),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func (f *serviceFixture) tenant(t testing.TB) Tenant {
	tenant, err := f.svc.CreateTenant(context.Background(), CreateTenantInput{Slug: "acme-" + uuid.NewString()[:8], Name: "Acme"})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// connect seeds one page account with an access credential expiring at
// expiresAt.
func (f *serviceFixture) connect(t testing.TB, tenantID string, pageID string, secret string, expiresAt *time.Time) (ConnectedAccount, Credential) {
	ctx := context.Background()
	account, err := f.stores.accounts.Upsert(ctx, tenantID, UpsertAccountInput{
		Platform:          PlatformFacebook,
		ProviderAccountID: pageID,
		DisplayName:       "Page " + pageID,
		Kind:              AccountKindPage,
		SyncedAt:          f.now,
	})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	credential, err := f.svc.storeSecret(ctx, tenantID, account.ID, CredentialKindAccess, secret, TokenSet{TokenType: "bearer", ExpiresAt: expiresAt}, f.now)
	if err != nil {
		t.Fatalf("store secret: %v", err)
	}
	return account, credential
}

func timePtr(value time.Time) *time.Time {
	return &value
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
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
