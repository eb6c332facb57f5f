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
	"github.com/uptrace/bun"
)

type AccountStore struct {
	db   *bun.DB
	repo repository.Repository[*accountRecord]
}

func NewAccountStore(db *bun.DB) (*AccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*accountRecord](db, accountHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid account repository wiring: %w", err)
		}
	}
	return &AccountStore{db: db, repo: repo}, nil
}

// Upsert inserts the account or refreshes the mutable columns of the row
// matching (tenant, platform, provider account id). Upserted accounts are
// always active.
func (s *AccountStore) Upsert(ctx context.Context, tenantID string, in core.UpsertAccountInput) (core.ConnectedAccount, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.ConnectedAccount{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	providerAccountID := strings.TrimSpace(in.ProviderAccountID)
	if tenantID == "" || providerAccountID == "" {
		return core.ConnectedAccount{}, fmt.Errorf("sqlstore: tenant id and provider account id are required")
	}
	now := time.Now().UTC()
	syncedAt := in.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = now
	}
	syncedAt = syncedAt.UTC()

	var out core.ConnectedAccount
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &accountRecord{}
		selectErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.tenant_id = ?", tenantID).
			Where("?TableAlias.platform = ?", string(in.Platform)).
			Where("?TableAlias.provider_account_id = ?", providerAccountID).
			Limit(1).
			Scan(ctx)
		if selectErr != nil && !errors.Is(selectErr, sql.ErrNoRows) {
			return selectErr
		}
		if errors.Is(selectErr, sql.ErrNoRows) {
			record := newAccountRecord(tenantID, in, now)
			record.LastSyncedAt = &syncedAt
			created, createErr := s.repo.CreateTx(ctx, tx, record)
			if createErr != nil {
				return createErr
			}
			out = created.toDomain()
			return nil
		}

		existing.DisplayName = in.DisplayName
		existing.Username = in.Username
		existing.Kind = string(in.Kind)
		existing.ParentAccountID = optionalString(in.ParentAccountID)
		existing.Active = true
		existing.LastSyncedAt = &syncedAt
		existing.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(existing).
			Column("display_name", "username", "kind", "parent_account_id", "active", "last_synced_at", "updated_at").
			WherePK().
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.ConnectedAccount{}, err
	}
	return out, nil
}

func (s *AccountStore) Get(ctx context.Context, tenantID string, accountID string) (core.ConnectedAccount, error) {
	if s == nil || s.db == nil {
		return core.ConnectedAccount{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	record := &accountRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.id = ?", strings.TrimSpace(accountID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ConnectedAccount{}, fmt.Errorf("%w: account %s", core.ErrNotFound, accountID)
		}
		return core.ConnectedAccount{}, err
	}
	return record.toDomain(), nil
}

func (s *AccountStore) FindByProviderID(ctx context.Context, tenantID string, platform core.Platform, providerAccountID string) (core.ConnectedAccount, error) {
	if s == nil || s.db == nil {
		return core.ConnectedAccount{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	record := &accountRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.platform = ?", string(platform)).
		Where("?TableAlias.provider_account_id = ?", strings.TrimSpace(providerAccountID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ConnectedAccount{}, fmt.Errorf("%w: account %s:%s", core.ErrNotFound, platform, providerAccountID)
		}
		return core.ConnectedAccount{}, err
	}
	return record.toDomain(), nil
}

func (s *AccountStore) ListByTenant(ctx context.Context, tenantID string) ([]core.ConnectedAccount, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: account store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.OrderBy("provider_account_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ConnectedAccount, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *AccountStore) Deactivate(ctx context.Context, tenantID string, accountID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: account store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*accountRecord)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("id = ?", strings.TrimSpace(accountID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return fmt.Errorf("%w: account %s", core.ErrNotFound, accountID)
	}
	return nil
}
