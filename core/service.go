package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	cipher            CredentialCipher
	provider          Provider
	tenantStore       TenantStore
	accountStore      AccountStore
	credentialStore   CredentialStore
	refreshEventStore RefreshEventStore
	stateStore        AuthorizationStateStore
	clock             func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Cipher            CredentialCipher
	Provider          Provider
	TenantStore       TenantStore
	AccountStore      AccountStore
	CredentialStore   CredentialStore
	RefreshEventStore RefreshEventStore
	StateStore        AuthorizationStateStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("credentials", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("credentials"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if factory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.tenantStore == nil {
				builder.tenantStore = stores.TenantStore()
			}
			if builder.accountStore == nil {
				builder.accountStore = stores.AccountStore()
			}
			if builder.credentialStore == nil {
				builder.credentialStore = stores.CredentialStore()
			}
			if builder.refreshEventStore == nil {
				builder.refreshEventStore = stores.RefreshEventStore()
			}
			if builder.stateStore == nil {
				builder.stateStore = stores.AuthorizationStateStore()
			}
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		cipher:            builder.cipher,
		provider:          builder.provider,
		tenantStore:       builder.tenantStore,
		accountStore:      builder.accountStore,
		credentialStore:   builder.credentialStore,
		refreshEventStore: builder.refreshEventStore,
		stateStore:        builder.stateStore,
		clock:             builder.clock,
	}, nil
}

// RepositoryStoreFactory builds stores lazily from a persistence client.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		Cipher:            s.cipher,
		Provider:          s.provider,
		TenantStore:       s.tenantStore,
		AccountStore:      s.accountStore,
		CredentialStore:   s.credentialStore,
		RefreshEventStore: s.refreshEventStore,
		StateStore:        s.stateStore,
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) requireStores(operation string) error {
	switch {
	case s == nil:
		return fmt.Errorf("core: service is nil")
	case s.accountStore == nil:
		return fmt.Errorf("core: account store is required for %s", operation)
	case s.credentialStore == nil:
		return fmt.Errorf("core: credential store is required for %s", operation)
	case s.cipher == nil:
		return fmt.Errorf("core: credential cipher is required for %s", operation)
	}
	return nil
}

// resolveAccount applies the id lookup first and the provider identity
// lookup second. Only the strategy matching the populated fields runs.
func (s *Service) resolveAccount(ctx context.Context, tenantID string, ref AccountRef) (ConnectedAccount, error) {
	if err := ref.Validate(); err != nil {
		return ConnectedAccount{}, err
	}
	if id := strings.TrimSpace(ref.AccountID); id != "" {
		account, err := s.accountStore.Get(ctx, tenantID, id)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrNotFound) || strings.TrimSpace(ref.ProviderAccountID) == "" {
			return ConnectedAccount{}, err
		}
	}
	platform, err := ParsePlatform(string(ref.Platform))
	if err != nil {
		return ConnectedAccount{}, fmt.Errorf("%w: %v", ErrInvalidAccountRef, err)
	}
	return s.accountStore.FindByProviderID(ctx, tenantID, platform, strings.TrimSpace(ref.ProviderAccountID))
}
