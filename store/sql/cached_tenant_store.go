package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-credentials/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const tenantCacheKeyPrefix = "go-credentials::tenant::v1"

// CachedTenantStore serves tenant reads from a go-repository-cache service.
// Tenants are immutable here apart from deletion, which invalidates the key.
type CachedTenantStore struct {
	base  core.TenantStore
	cache repositorycache.CacheService
}

func NewCachedTenantStore(base core.TenantStore, cacheService repositorycache.CacheService) (*CachedTenantStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base tenant store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: tenant cache service is required")
	}
	return &CachedTenantStore{base: base, cache: cacheService}, nil
}

// TenantCacheKey returns go-credentials::tenant::v1::<tenant_id> with the id
// URL-path escaped.
func TenantCacheKey(tenantID string) (string, error) {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: tenant id is required for cache key")
	}
	return tenantCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedTenantStore) Create(ctx context.Context, in core.CreateTenantInput) (core.Tenant, error) {
	if s == nil || s.base == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	return s.base.Create(ctx, in)
}

func (s *CachedTenantStore) Get(ctx context.Context, tenantID string) (core.Tenant, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	cacheKey, err := TenantCacheKey(tenantID)
	if err != nil {
		return core.Tenant{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Tenant, error) {
		return s.base.Get(ctx, strings.TrimSpace(tenantID))
	})
}

func (s *CachedTenantStore) Delete(ctx context.Context, tenantID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	if err := s.base.Delete(ctx, tenantID); err != nil {
		return err
	}
	cacheKey, err := TenantCacheKey(tenantID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
