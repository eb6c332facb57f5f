package scheduler

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const (
	ParamTenantID     = "tenant_id"
	ParamCredentialID = "credential_id"
	ParamVersion      = "version"

	refreshDedupPolicy = "drop"
)

// NewRefreshJobMessage builds the queue message for one credential. The
// idempotency key pins the version so a credential is enqueued at most once
// per version.
func NewRefreshJobMessage(credential core.Credential) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      core.JobIDRefreshCredential,
		ScriptPath: core.JobIDRefreshCredential,
		Parameters: map[string]any{
			ParamTenantID:     credential.TenantID,
			ParamCredentialID: credential.ID,
			ParamVersion:      credential.Version,
		},
		IdempotencyKey: RefreshIdempotencyKey(credential),
		DedupPolicy:    refreshDedupPolicy,
	}
}

func RefreshIdempotencyKey(credential core.Credential) string {
	return fmt.Sprintf("%s:%d", credential.ID, credential.Version)
}

// RefreshJobTarget extracts the tenant and credential a refresh job points at.
func RefreshJobTarget(msg *core.JobExecutionMessage) (tenantID string, credentialID string, err error) {
	if msg == nil {
		return "", "", fmt.Errorf("scheduler: job message is required")
	}
	if strings.TrimSpace(msg.JobID) != core.JobIDRefreshCredential {
		return "", "", fmt.Errorf("scheduler: unsupported job %q", msg.JobID)
	}
	tenantID = readStringParam(msg.Parameters, ParamTenantID)
	credentialID = readStringParam(msg.Parameters, ParamCredentialID)
	if tenantID == "" || credentialID == "" {
		return "", "", fmt.Errorf("scheduler: refresh job requires %s and %s", ParamTenantID, ParamCredentialID)
	}
	return tenantID, credentialID, nil
}

func readStringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	switch value := params[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	default:
		return ""
	}
}
