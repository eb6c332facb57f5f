package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/google/uuid"
)

func (r *tenantRecord) toDomain() core.Tenant {
	if r == nil {
		return core.Tenant{}
	}
	return core.Tenant{
		ID:        r.ID,
		Slug:      r.Slug,
		Name:      r.Name,
		Status:    core.TenantStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func newAccountRecord(tenantID string, in core.UpsertAccountInput, now time.Time) *accountRecord {
	syncedAt := in.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = now
	}
	return &accountRecord{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Platform:          string(in.Platform),
		ProviderAccountID: strings.TrimSpace(in.ProviderAccountID),
		DisplayName:       in.DisplayName,
		Username:          in.Username,
		Kind:              string(in.Kind),
		ParentAccountID:   optionalString(in.ParentAccountID),
		Active:            true,
		LastSyncedAt:      &syncedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *accountRecord) toDomain() core.ConnectedAccount {
	if r == nil {
		return core.ConnectedAccount{}
	}
	account := core.ConnectedAccount{
		ID:                r.ID,
		TenantID:          r.TenantID,
		Platform:          core.Platform(r.Platform),
		ProviderAccountID: r.ProviderAccountID,
		DisplayName:       r.DisplayName,
		Username:          r.Username,
		Kind:              core.AccountKind(r.Kind),
		Active:            r.Active,
		LastSyncedAt:      cloneTime(r.LastSyncedAt),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.ParentAccountID != nil {
		account.ParentAccountID = *r.ParentAccountID
	}
	return account
}

func newCredentialRecord(tenantID string, in core.SaveCredentialInput, version int, now time.Time) *credentialRecord {
	issuedAt := in.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}
	scopes := append([]string{}, in.Scopes...)
	return &credentialRecord{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		AccountID:  strings.TrimSpace(in.AccountID),
		Kind:       string(in.Kind),
		Ciphertext: append([]byte(nil), in.Ciphertext...),
		Nonce:      append([]byte(nil), in.Nonce...),
		TokenType:  in.TokenType,
		Scopes:     scopes,
		IssuedAt:   issuedAt.UTC(),
		ExpiresAt:  cloneTime(in.ExpiresAt),
		Version:    version,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	return core.Credential{
		ID:              r.ID,
		TenantID:        r.TenantID,
		AccountID:       r.AccountID,
		Kind:            core.CredentialKind(r.Kind),
		Ciphertext:      append([]byte(nil), r.Ciphertext...),
		Nonce:           append([]byte(nil), r.Nonce...),
		TokenType:       r.TokenType,
		Scopes:          append([]string(nil), r.Scopes...),
		IssuedAt:        r.IssuedAt,
		ExpiresAt:       cloneTime(r.ExpiresAt),
		LastRefreshedAt: cloneTime(r.LastRefreshedAt),
		LastUsedAt:      cloneTime(r.LastUsedAt),
		Revoked:         r.Revoked,
		RevokedAt:       cloneTime(r.RevokedAt),
		RevokedReason:   r.RevokedReason,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func newRefreshEventRecord(tenantID string, event core.RefreshEvent, now time.Time) *refreshEventRecord {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	trigger := event.Trigger
	if trigger == "" {
		trigger = core.RefreshTriggerManual
	}
	return &refreshEventRecord{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		CredentialID:  strings.TrimSpace(event.CredentialID),
		OldExpiresAt:  cloneTime(event.OldExpiresAt),
		NewExpiresAt:  cloneTime(event.NewExpiresAt),
		Outcome:       string(event.Outcome),
		ErrorDetail:   event.ErrorDetail,
		TriggerSource: string(trigger),
		CreatedAt:     createdAt.UTC(),
	}
}

func (r *refreshEventRecord) toDomain() core.RefreshEvent {
	if r == nil {
		return core.RefreshEvent{}
	}
	return core.RefreshEvent{
		ID:           r.ID,
		TenantID:     r.TenantID,
		CredentialID: r.CredentialID,
		OldExpiresAt: cloneTime(r.OldExpiresAt),
		NewExpiresAt: cloneTime(r.NewExpiresAt),
		Outcome:      core.RefreshOutcome(r.Outcome),
		ErrorDetail:  r.ErrorDetail,
		Trigger:      core.RefreshTrigger(r.TriggerSource),
		CreatedAt:    r.CreatedAt,
	}
}

func newAuthorizationStateRecord(state core.AuthorizationState) *authorizationStateRecord {
	return &authorizationStateRecord{
		Token:          strings.TrimSpace(state.Token),
		TenantID:       strings.TrimSpace(state.TenantID),
		RedirectTarget: state.RedirectTarget,
		ClientIP:       state.ClientIP,
		UserAgent:      state.UserAgent,
		Consumed:       state.Consumed,
		ConsumedAt:     cloneTime(state.ConsumedAt),
		CreatedAt:      state.CreatedAt.UTC(),
		ExpiresAt:      state.ExpiresAt.UTC(),
	}
}

func (r *authorizationStateRecord) toDomain() core.AuthorizationState {
	if r == nil {
		return core.AuthorizationState{}
	}
	return core.AuthorizationState{
		Token:          r.Token,
		TenantID:       r.TenantID,
		RedirectTarget: r.RedirectTarget,
		ClientIP:       r.ClientIP,
		UserAgent:      r.UserAgent,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		Consumed:       r.Consumed,
		ConsumedAt:     cloneTime(r.ConsumedAt),
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}
