package command

import (
	"strings"

	"github.com/goliatone/go-credentials/core"
	"github.com/google/uuid"
)

const (
	TypeStartAuthorization    = "credentials.command.authorization.start"
	TypeCompleteAuthorization = "credentials.command.authorization.complete"
	TypeDisconnectAccount     = "credentials.command.account.disconnect"
	TypeRefreshCredential     = "credentials.command.credential.refresh"
	TypeRecordUsage           = "credentials.command.credential.record_usage"
	TypeCreateTenant          = "credentials.command.tenant.create"
)

type StartAuthorizationMessage struct {
	Request core.StartAuthorizationRequest
}

func (StartAuthorizationMessage) Type() string { return TypeStartAuthorization }

func (m StartAuthorizationMessage) Validate() error {
	return validateTenantID(m.Request.TenantID)
}

type CompleteAuthorizationMessage struct {
	Request core.CompleteAuthorizationRequest
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type DisconnectAccountMessage struct {
	TenantID string
	Account  core.AccountRef
	Reason   string
}

func (DisconnectAccountMessage) Type() string { return TypeDisconnectAccount }

func (m DisconnectAccountMessage) Validate() error {
	if err := validateTenantID(m.TenantID); err != nil {
		return err
	}
	return commandWrapValidation(m.Account.Validate(), "command: invalid account reference")
}

type RefreshCredentialMessage struct {
	TenantID     string
	CredentialID string
	Trigger      core.RefreshTrigger
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	if err := validateTenantID(m.TenantID); err != nil {
		return err
	}
	if _, err := uuid.Parse(strings.TrimSpace(m.CredentialID)); err != nil {
		return commandValidationError("credential_id", "credential id must be a uuid")
	}
	switch m.Trigger {
	case "", core.RefreshTriggerManual, core.RefreshTriggerSweep, core.RefreshTriggerJob:
		return nil
	default:
		return commandValidationError("trigger", "unknown refresh trigger")
	}
}

type RecordUsageMessage struct {
	TenantID string
	Account  core.AccountRef
}

func (RecordUsageMessage) Type() string { return TypeRecordUsage }

func (m RecordUsageMessage) Validate() error {
	if err := validateTenantID(m.TenantID); err != nil {
		return err
	}
	return commandWrapValidation(m.Account.Validate(), "command: invalid account reference")
}

type CreateTenantMessage struct {
	Input core.CreateTenantInput
}

func (CreateTenantMessage) Type() string { return TypeCreateTenant }

func (m CreateTenantMessage) Validate() error {
	if strings.TrimSpace(m.Input.Slug) == "" {
		return commandValidationError("slug", "tenant slug is required")
	}
	return nil
}

func validateTenantID(tenantID string) error {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return commandValidationError("tenant_id", "tenant id must be a uuid")
	}
	return nil
}
