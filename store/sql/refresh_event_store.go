package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RefreshEventStore is append-only.
type RefreshEventStore struct {
	repo repository.Repository[*refreshEventRecord]
}

func NewRefreshEventStore(db *bun.DB) (*RefreshEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*refreshEventRecord](db, refreshEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid refresh event repository wiring: %w", err)
		}
	}
	return &RefreshEventStore{repo: repo}, nil
}

func (s *RefreshEventStore) Append(ctx context.Context, tenantID string, event core.RefreshEvent) (core.RefreshEvent, error) {
	if s == nil || s.repo == nil {
		return core.RefreshEvent{}, fmt.Errorf("sqlstore: refresh event store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || strings.TrimSpace(event.CredentialID) == "" {
		return core.RefreshEvent{}, fmt.Errorf("sqlstore: tenant id and credential id are required")
	}
	if event.Outcome == "" {
		return core.RefreshEvent{}, fmt.Errorf("sqlstore: refresh outcome is required")
	}
	created, err := s.repo.Create(ctx, newRefreshEventRecord(tenantID, event, time.Now().UTC()))
	if err != nil {
		return core.RefreshEvent{}, err
	}
	return created.toDomain(), nil
}

func (s *RefreshEventStore) ListByCredential(ctx context.Context, tenantID string, credentialID string) ([]core.RefreshEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: refresh event store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("credential_id", "=", strings.TrimSpace(credentialID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.RefreshEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
