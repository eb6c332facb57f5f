package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-credentials/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithTenantCache fronts tenant reads with a go-repository-cache service.
func WithTenantCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.tenantCache = cacheService
	}
}

type RepositoryFactory struct {
	db          *bun.DB
	tenantCache repositorycache.CacheService

	tenantStore             core.TenantStore
	accountStore            *AccountStore
	credentialStore         *CredentialStore
	refreshEventStore       *RefreshEventStore
	authorizationStateStore *AuthorizationStateStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.tenantStore != nil && f.credentialStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) TenantStore() core.TenantStore {
	if f == nil {
		return nil
	}
	return f.tenantStore
}

func (f *RepositoryFactory) AccountStore() core.AccountStore {
	if f == nil || f.accountStore == nil {
		return nil
	}
	return f.accountStore
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil || f.credentialStore == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) RefreshEventStore() core.RefreshEventStore {
	if f == nil || f.refreshEventStore == nil {
		return nil
	}
	return f.refreshEventStore
}

func (f *RepositoryFactory) AuthorizationStateStore() core.AuthorizationStateStore {
	if f == nil || f.authorizationStateStore == nil {
		return nil
	}
	return f.authorizationStateStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	tenantStore, err := NewTenantStore(f.db)
	if err != nil {
		return err
	}
	f.tenantStore = tenantStore
	if f.tenantCache != nil {
		cached, cacheErr := NewCachedTenantStore(tenantStore, f.tenantCache)
		if cacheErr != nil {
			return cacheErr
		}
		f.tenantStore = cached
	}

	if f.accountStore, err = NewAccountStore(f.db); err != nil {
		return err
	}
	if f.credentialStore, err = NewCredentialStore(f.db); err != nil {
		return err
	}
	if f.refreshEventStore, err = NewRefreshEventStore(f.db); err != nil {
		return err
	}
	if f.authorizationStateStore, err = NewAuthorizationStateStore(f.db); err != nil {
		return err
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
