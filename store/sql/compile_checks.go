package sqlstore

import "github.com/goliatone/go-credentials/core"

var (
	_ core.TenantStore             = (*TenantStore)(nil)
	_ core.TenantStore             = (*CachedTenantStore)(nil)
	_ core.AccountStore            = (*AccountStore)(nil)
	_ core.CredentialStore         = (*CredentialStore)(nil)
	_ core.RefreshEventStore       = (*RefreshEventStore)(nil)
	_ core.AuthorizationStateStore = (*AuthorizationStateStore)(nil)
	_ core.StoreProvider           = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory  = (*RepositoryFactory)(nil)
)
