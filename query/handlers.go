package query

import (
	"context"

	"github.com/goliatone/go-credentials/core"
)

type CredentialReader interface {
	GetUsableCredential(ctx context.Context, tenantID string, ref core.AccountRef) (core.UsableCredential, error)
}

type HealthReader interface {
	TenantHealth(ctx context.Context, tenantID string) (core.HealthSummary, error)
}

type AccountReader interface {
	ListAccounts(ctx context.Context, tenantID string) ([]core.ConnectedAccount, error)
}

type RefreshEventReader interface {
	ListRefreshEvents(ctx context.Context, tenantID string, credentialID string) ([]core.RefreshEvent, error)
}

type UsableCredentialQuery struct {
	reader CredentialReader
}

func NewUsableCredentialQuery(reader CredentialReader) *UsableCredentialQuery {
	return &UsableCredentialQuery{reader: reader}
}

func (q *UsableCredentialQuery) Query(ctx context.Context, msg UsableCredentialMessage) (core.UsableCredential, error) {
	if q == nil || q.reader == nil {
		return core.UsableCredential{}, queryDependencyError("query: credential reader is required")
	}
	return q.reader.GetUsableCredential(ctx, msg.TenantID, msg.Account)
}

type TenantHealthQuery struct {
	reader HealthReader
}

func NewTenantHealthQuery(reader HealthReader) *TenantHealthQuery {
	return &TenantHealthQuery{reader: reader}
}

func (q *TenantHealthQuery) Query(ctx context.Context, msg TenantHealthMessage) (core.HealthSummary, error) {
	if q == nil || q.reader == nil {
		return core.HealthSummary{}, queryDependencyError("query: health reader is required")
	}
	return q.reader.TenantHealth(ctx, msg.TenantID)
}

type ListAccountsQuery struct {
	reader AccountReader
}

func NewListAccountsQuery(reader AccountReader) *ListAccountsQuery {
	return &ListAccountsQuery{reader: reader}
}

func (q *ListAccountsQuery) Query(ctx context.Context, msg ListAccountsMessage) ([]core.ConnectedAccount, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: account reader is required")
	}
	return q.reader.ListAccounts(ctx, msg.TenantID)
}

type ListRefreshEventsQuery struct {
	reader RefreshEventReader
}

func NewListRefreshEventsQuery(reader RefreshEventReader) *ListRefreshEventsQuery {
	return &ListRefreshEventsQuery{reader: reader}
}

func (q *ListRefreshEventsQuery) Query(ctx context.Context, msg ListRefreshEventsMessage) ([]core.RefreshEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: refresh event reader is required")
	}
	return q.reader.ListRefreshEvents(ctx, msg.TenantID, msg.CredentialID)
}
