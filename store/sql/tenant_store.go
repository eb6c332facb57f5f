package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TenantStore struct {
	db   *bun.DB
	repo repository.Repository[*tenantRecord]
}

func NewTenantStore(db *bun.DB) (*TenantStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tenantRecord](db, tenantHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid tenant repository wiring: %w", err)
		}
	}
	return &TenantStore{db: db, repo: repo}, nil
}

func (s *TenantStore) Create(ctx context.Context, in core.CreateTenantInput) (core.Tenant, error) {
	if s == nil || s.repo == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant slug is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = slug
	}
	now := time.Now().UTC()
	record := &tenantRecord{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      name,
		Status:    string(core.TenantStatusActive),
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Tenant{}, err
	}
	return created.toDomain(), nil
}

func (s *TenantStore) Get(ctx context.Context, tenantID string) (core.Tenant, error) {
	if s == nil || s.db == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	record := &tenantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(tenantID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Tenant{}, fmt.Errorf("%w: tenant %s", core.ErrNotFound, tenantID)
		}
		return core.Tenant{}, err
	}
	return record.toDomain(), nil
}

// Delete removes the tenant; accounts, credentials and refresh events go
// with it through the foreign key cascade.
func (s *TenantStore) Delete(ctx context.Context, tenantID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*tenantRecord)(nil)).
		Where("id = ?", strings.TrimSpace(tenantID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return fmt.Errorf("%w: tenant %s", core.ErrNotFound, tenantID)
	}
	return nil
}
