package credentials

import "github.com/goliatone/go-credentials/core"

type Config = core.Config

type ProviderConfig = core.ProviderConfig

type CipherConfig = core.CipherConfig

type SchedulerConfig = core.SchedulerConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Provider = core.Provider
type CredentialCipher = core.CredentialCipher
type TenantStore = core.TenantStore
type AccountStore = core.AccountStore
type CredentialStore = core.CredentialStore
type RefreshEventStore = core.RefreshEventStore
type AuthorizationStateStore = core.AuthorizationStateStore

type AccountRef = core.AccountRef

type StartAuthorizationRequest = core.StartAuthorizationRequest

type CompleteAuthorizationRequest = core.CompleteAuthorizationRequest

type UsableCredential = core.UsableCredential

type HealthSummary = core.HealthSummary

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithCipher                  = core.WithCipher
	WithProvider                = core.WithProvider
	WithTenantStore             = core.WithTenantStore
	WithAccountStore            = core.WithAccountStore
	WithCredentialStore         = core.WithCredentialStore
	WithRefreshEventStore       = core.WithRefreshEventStore
	WithAuthorizationStateStore = core.WithAuthorizationStateStore
	WithClock                   = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
