package query

import (
	"strings"

	"github.com/goliatone/go-credentials/core"
	"github.com/google/uuid"
)

const (
	TypeUsableCredential  = "credentials.query.credential.usable"
	TypeTenantHealth      = "credentials.query.tenant.health"
	TypeListAccounts      = "credentials.query.accounts.list"
	TypeListRefreshEvents = "credentials.query.refresh_events.list"
)

type UsableCredentialMessage struct {
	TenantID string
	Account  core.AccountRef
}

func (UsableCredentialMessage) Type() string { return TypeUsableCredential }

func (m UsableCredentialMessage) Validate() error {
	if err := validateTenantID(m.TenantID); err != nil {
		return err
	}
	return queryWrapValidation(m.Account.Validate(), "query: invalid account reference")
}

type TenantHealthMessage struct {
	TenantID string
}

func (TenantHealthMessage) Type() string { return TypeTenantHealth }

func (m TenantHealthMessage) Validate() error {
	return validateTenantID(m.TenantID)
}

type ListAccountsMessage struct {
	TenantID string
}

func (ListAccountsMessage) Type() string { return TypeListAccounts }

func (m ListAccountsMessage) Validate() error {
	return validateTenantID(m.TenantID)
}

type ListRefreshEventsMessage struct {
	TenantID     string
	CredentialID string
}

func (ListRefreshEventsMessage) Type() string { return TypeListRefreshEvents }

func (m ListRefreshEventsMessage) Validate() error {
	if err := validateTenantID(m.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.CredentialID) == "" {
		return queryValidationError("credential_id", "credential id is required")
	}
	return nil
}

func validateTenantID(tenantID string) error {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return queryValidationError("tenant_id", "tenant id must be a uuid")
	}
	return nil
}
