package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// CredentialCipher encrypts secret material under a single process key.
type CredentialCipher interface {
	Encrypt(plaintext []byte) (ciphertext []byte, nonce []byte, err error)
	Decrypt(ciphertext []byte, nonce []byte) ([]byte, error)
}

// TokenSet is what a provider hands back from an exchange or refresh.
type TokenSet struct {
	AccessSecret  string
	RefreshSecret string
	TokenType     string
	Scopes        []string
	ExpiresAt     *time.Time
}

type DiscoveredAccount struct {
	Platform          Platform
	ProviderAccountID string
	DisplayName       string
	Username          string
	Kind              AccountKind
	// ParentProviderAccountID links a secondary account to the page it was
	// discovered through.
	ParentProviderAccountID string
	// Token is the credential scoped to this account.
	Token TokenSet
}

type ProviderRefreshRequest struct {
	Kind          CredentialKind
	AccountKind   AccountKind
	AccessSecret  string
	RefreshSecret string
	ExpiresAt     *time.Time
}

// Provider is the upstream identity/resource provider.
type Provider interface {
	ID() string
	AuthorizationURL(state string, scopes []Scope) (string, error)
	Exchange(ctx context.Context, code string) (TokenSet, error)
	Discover(ctx context.Context, userToken TokenSet) ([]DiscoveredAccount, error)
	Refresh(ctx context.Context, req ProviderRefreshRequest) (TokenSet, error)
}

type TenantStore interface {
	Create(ctx context.Context, in CreateTenantInput) (Tenant, error)
	Get(ctx context.Context, tenantID string) (Tenant, error)
	Delete(ctx context.Context, tenantID string) error
}

type AccountStore interface {
	Upsert(ctx context.Context, tenantID string, in UpsertAccountInput) (ConnectedAccount, error)
	Get(ctx context.Context, tenantID string, accountID string) (ConnectedAccount, error)
	FindByProviderID(ctx context.Context, tenantID string, platform Platform, providerAccountID string) (ConnectedAccount, error)
	ListByTenant(ctx context.Context, tenantID string) ([]ConnectedAccount, error)
	Deactivate(ctx context.Context, tenantID string, accountID string) error
}

type CredentialStore interface {
	SaveCurrent(ctx context.Context, tenantID string, in SaveCredentialInput) (Credential, error)
	GetCurrent(ctx context.Context, tenantID string, accountID string, kind CredentialKind) (Credential, error)
	Get(ctx context.Context, tenantID string, credentialID string) (Credential, error)
	ReplaceSecret(ctx context.Context, tenantID string, in ReplaceSecretInput) (Credential, error)
	Revoke(ctx context.Context, tenantID string, credentialID string, reason string) error
	RevokeForAccount(ctx context.Context, tenantID string, accountID string, reason string) error
	TouchLastUsed(ctx context.Context, tenantID string, credentialID string, at time.Time) error
	ListCurrentByTenant(ctx context.Context, tenantID string) ([]Credential, error)
	// ListExpiring is the only read that spans tenants; the refresh sweep
	// is its sole caller.
	ListExpiring(ctx context.Context, in ListExpiringInput) ([]Credential, error)
}

type RefreshEventStore interface {
	Append(ctx context.Context, tenantID string, event RefreshEvent) (RefreshEvent, error)
	ListByCredential(ctx context.Context, tenantID string, credentialID string) ([]RefreshEvent, error)
}

type AuthorizationStateStore interface {
	Save(ctx context.Context, state AuthorizationState) error
	// Consume marks the state used in one storage operation. Missing,
	// consumed or expired states fail with ErrInvalidState.
	Consume(ctx context.Context, token string, now time.Time) (AuthorizationState, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// StoreProvider is implemented by repository factories.
type StoreProvider interface {
	TenantStore() TenantStore
	AccountStore() AccountStore
	CredentialStore() CredentialStore
	RefreshEventStore() RefreshEventStore
	AuthorizationStateStore() AuthorizationStateStore
}

// JobIDRefreshCredential identifies queued single-credential refresh jobs.
const JobIDRefreshCredential = "credentials.refresh"

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
