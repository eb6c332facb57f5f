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

const supersededReason = "superseded"

type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{db: db, repo: repo}, nil
}

// SaveCurrent supersedes the current credential of the same kind and inserts
// the new one at the next version in a single transaction.
func (s *CredentialStore) SaveCurrent(ctx context.Context, tenantID string, in core.SaveCredentialInput) (core.Credential, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	accountID := strings.TrimSpace(in.AccountID)
	if tenantID == "" || accountID == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: tenant id and account id are required")
	}
	if in.Kind == "" {
		in.Kind = core.CredentialKindAccess
	}
	in.AccountID = accountID
	now := time.Now().UTC()

	var created core.Credential
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, updateErr := tx.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("revoked = ?", true).
			Set("revoked_at = ?", now).
			Set("revoked_reason = ?", supersededReason).
			Set("updated_at = ?", now).
			Where("tenant_id = ?", tenantID).
			Where("account_id = ?", accountID).
			Where("kind = ?", string(in.Kind)).
			Where("revoked = ?", false).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}

		nextVersion, versionErr := s.nextVersion(ctx, tx, accountID, in.Kind)
		if versionErr != nil {
			return versionErr
		}

		record := newCredentialRecord(tenantID, in, nextVersion, now)
		inserted, createErr := s.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		created = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return created, nil
}

// GetCurrent returns the highest version for (account, kind), revoked or
// not, so callers can tell a revoked credential from a missing one.
func (s *CredentialStore) GetCurrent(ctx context.Context, tenantID string, accountID string, kind core.CredentialKind) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("account_id", "=", strings.TrimSpace(accountID)),
		repository.SelectBy("kind", "=", string(kind)),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, err
	}
	if len(records) == 0 {
		return core.Credential{}, fmt.Errorf("%w: %s credential for account %s", core.ErrNotFound, kind, accountID)
	}
	return records[0].toDomain(), nil
}

func (s *CredentialStore) Get(ctx context.Context, tenantID string, credentialID string) (core.Credential, error) {
	if s == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	return s.getWith(ctx, s.db, tenantID, credentialID)
}

func (s *CredentialStore) getWith(ctx context.Context, db bun.IDB, tenantID string, credentialID string) (core.Credential, error) {
	record := &credentialRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.id = ?", strings.TrimSpace(credentialID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, fmt.Errorf("%w: credential %s", core.ErrNotFound, credentialID)
		}
		return core.Credential{}, err
	}
	return record.toDomain(), nil
}

// ReplaceSecret is the only refresh write path. The update matches on the
// version the caller read; zero affected rows means another writer won.
func (s *CredentialStore) ReplaceSecret(ctx context.Context, tenantID string, in core.ReplaceSecretInput) (core.Credential, error) {
	if s == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	credentialID := strings.TrimSpace(in.CredentialID)
	if credentialID == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: credential id is required")
	}
	refreshedAt := in.RefreshedAt
	if refreshedAt.IsZero() {
		refreshedAt = time.Now()
	}
	refreshedAt = refreshedAt.UTC()

	var updated core.Credential
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, updateErr := tx.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("ciphertext = ?", append([]byte(nil), in.Ciphertext...)).
			Set("nonce = ?", append([]byte(nil), in.Nonce...)).
			Set("expires_at = ?", cloneTime(in.ExpiresAt)).
			Set("last_refreshed_at = ?", refreshedAt).
			Set("version = version + 1").
			Set("updated_at = ?", refreshedAt).
			Where("tenant_id = ?", tenantID).
			Where("id = ?", credentialID).
			Where("version = ?", in.ExpectedVersion).
			Where("revoked = ?", false).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		affected, affErr := result.RowsAffected()
		if affErr != nil {
			return affErr
		}
		if affected == 0 {
			if _, getErr := s.getWith(ctx, tx, tenantID, credentialID); getErr != nil {
				return getErr
			}
			return fmt.Errorf("%w: credential %s expected version %d", core.ErrVersionConflict, credentialID, in.ExpectedVersion)
		}
		current, getErr := s.getWith(ctx, tx, tenantID, credentialID)
		if getErr != nil {
			return getErr
		}
		updated = current
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return updated, nil
}

func (s *CredentialStore) Revoke(ctx context.Context, tenantID string, credentialID string, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", now).
		Set("revoked_reason = ?", revokeReason(reason)).
		Set("updated_at = ?", now).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("id = ?", strings.TrimSpace(credentialID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return fmt.Errorf("%w: credential %s", core.ErrNotFound, credentialID)
	}
	return nil
}

func (s *CredentialStore) RevokeForAccount(ctx context.Context, tenantID string, accountID string, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", now).
		Set("revoked_reason = ?", revokeReason(reason)).
		Set("updated_at = ?", now).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("account_id = ?", strings.TrimSpace(accountID)).
		Where("revoked = ?", false).
		Exec(ctx)
	return err
}

func (s *CredentialStore) TouchLastUsed(ctx context.Context, tenantID string, credentialID string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("last_used_at = ?", at.UTC()).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("id = ?", strings.TrimSpace(credentialID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return fmt.Errorf("%w: credential %s", core.ErrNotFound, credentialID)
	}
	return nil
}

func (s *CredentialStore) ListCurrentByTenant(ctx context.Context, tenantID string) ([]core.Credential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		selectNotRevoked(),
		repository.OrderBy("account_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	return toCredentials(records), nil
}

// ListExpiring spans every tenant. It returns current access credentials that
// expire at or before ExpiresBefore, plus non-expiring ones whose last
// verification predates VerifiedBefore.
func (s *CredentialStore) ListExpiring(ctx context.Context, in core.ListExpiringInput) ([]core.Credential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	expiresBefore := in.ExpiresBefore.UTC()
	verifiedBefore := in.VerifiedBefore.UTC()
	criteria := []repository.SelectCriteria{
		repository.SelectBy("kind", "=", string(core.CredentialKindAccess)),
		selectNotRevoked(),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				q = q.Where("?TableAlias.expires_at IS NOT NULL AND ?TableAlias.expires_at <= ?", expiresBefore)
				if !in.VerifiedBefore.IsZero() {
					q = q.WhereOr(
						"?TableAlias.expires_at IS NULL AND COALESCE(?TableAlias.last_refreshed_at, ?TableAlias.issued_at) < ?",
						verifiedBefore,
					)
				}
				return q
			})
		}),
		repository.OrderBy("expires_at ASC"),
	}
	if in.Limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(in.Limit, 0))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	return toCredentials(records), nil
}

func (s *CredentialStore) nextVersion(ctx context.Context, tx bun.Tx, accountID string, kind core.CredentialKind) (int, error) {
	var maxVersion int
	if err := tx.NewSelect().
		Model((*credentialRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.kind = ?", string(kind)).
		Scan(ctx, &maxVersion); err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

func toCredentials(records []*credentialRecord) []core.Credential {
	out := make([]core.Credential, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}

func revokeReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "revoked"
	}
	return reason
}

func selectNotRevoked() repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.revoked = ?", false)
	})
}
