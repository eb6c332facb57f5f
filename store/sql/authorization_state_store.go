package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/uptrace/bun"
)

type AuthorizationStateStore struct {
	db *bun.DB
}

func NewAuthorizationStateStore(db *bun.DB) (*AuthorizationStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &AuthorizationStateStore{db: db}, nil
}

func (s *AuthorizationStateStore) Save(ctx context.Context, state core.AuthorizationState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	record := newAuthorizationStateRecord(state)
	if record.Token == "" || record.TenantID == "" {
		return fmt.Errorf("sqlstore: state token and tenant id are required")
	}
	if record.ExpiresAt.IsZero() {
		return fmt.Errorf("sqlstore: state expiration is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

// Consume flips the consumed flag with one conditional update; the affected
// row count decides which caller wins.
func (s *AuthorizationStateStore) Consume(ctx context.Context, token string, now time.Time) (core.AuthorizationState, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationState{}, fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.AuthorizationState{}, fmt.Errorf("%w: state is required", core.ErrInvalidState)
	}
	now = now.UTC()

	var consumed core.AuthorizationState
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, updateErr := tx.NewUpdate().
			Model((*authorizationStateRecord)(nil)).
			Set("consumed = ?", true).
			Set("consumed_at = ?", now).
			Where("token = ?", token).
			Where("consumed = ?", false).
			Where("expires_at > ?", now).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		affected, affErr := result.RowsAffected()
		if affErr != nil {
			return affErr
		}
		if affected == 0 {
			return fmt.Errorf("%w: state not found, expired or already used", core.ErrInvalidState)
		}
		record := &authorizationStateRecord{}
		if selectErr := tx.NewSelect().
			Model(record).
			Where("?TableAlias.token = ?", token).
			Limit(1).
			Scan(ctx); selectErr != nil {
			if errors.Is(selectErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: state not found", core.ErrInvalidState)
			}
			return selectErr
		}
		consumed = record.toDomain()
		return nil
	})
	if err != nil {
		return core.AuthorizationState{}, err
	}
	return consumed, nil
}

func (s *AuthorizationStateStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*authorizationStateRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
