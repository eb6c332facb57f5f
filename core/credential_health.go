package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetUsableCredential returns plaintext only for a current credential that
// has not expired. It never writes.
func (s *Service) GetUsableCredential(ctx context.Context, tenantID string, ref AccountRef) (usable UsableCredential, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID, "account_ref": ref.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_usable_credential", err, fields)
	}()

	if err = s.requireStores("get_usable_credential"); err != nil {
		err = s.mapError(err)
		return UsableCredential{}, err
	}
	tenantID, err = validateTenantID(tenantID)
	if err != nil {
		err = s.mapError(err)
		return UsableCredential{}, err
	}
	account, err := s.resolveAccount(ctx, tenantID, ref)
	if err != nil {
		err = s.mapError(err)
		return UsableCredential{}, err
	}
	fields["platform"] = string(account.Platform)
	if !account.Active {
		err = s.mapError(fmt.Errorf("%w: account %s is disconnected", ErrRevoked, account.ID))
		return UsableCredential{}, err
	}

	credential, err := s.credentialStore.GetCurrent(ctx, tenantID, account.ID, CredentialKindAccess)
	if err != nil {
		err = s.mapError(err)
		return UsableCredential{}, err
	}
	fields["credential_id"] = credential.ID
	if credential.Revoked {
		err = s.mapError(fmt.Errorf("%w: %s", ErrRevoked, credential.RevokedReason))
		return UsableCredential{}, err
	}
	if credential.IsExpired(s.now()) {
		err = s.mapError(fmt.Errorf("%w: credential %s expired at %s", ErrCredentialExpired, credential.ID, credential.ExpiresAt.Format(time.RFC3339)))
		return UsableCredential{}, err
	}

	plaintext, err := s.cipher.Decrypt(credential.Ciphertext, credential.Nonce)
	if err != nil {
		s.logError(ctx, "credential failed integrity check, tenant must re-authorize", map[string]any{
			"tenant_id":     tenantID,
			"account_id":    account.ID,
			"credential_id": credential.ID,
		})
		err = s.mapError(integrityError(err))
		return UsableCredential{}, err
	}

	return UsableCredential{
		AccountID:    account.ID,
		CredentialID: credential.ID,
		Platform:     account.Platform,
		Secret:       string(plaintext),
		TokenType:    credential.TokenType,
		ExpiresAt:    cloneTimePointer(credential.ExpiresAt),
	}, nil
}

// RecordUsage stamps last_used_at on the current access credential. Callers
// invoke it after a successful provider call.
func (s *Service) RecordUsage(ctx context.Context, tenantID string, ref AccountRef) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID, "account_ref": ref.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "record_usage", err, fields)
	}()

	if err = s.requireStores("record_usage"); err != nil {
		err = s.mapError(err)
		return err
	}
	tenantID, err = validateTenantID(tenantID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	account, err := s.resolveAccount(ctx, tenantID, ref)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	credential, err := s.credentialStore.GetCurrent(ctx, tenantID, account.ID, CredentialKindAccess)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.credentialStore.TouchLastUsed(ctx, tenantID, credential.ID, s.now()); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// RefreshCredential loads a credential by id and refreshes it.
func (s *Service) RefreshCredential(ctx context.Context, tenantID string, credentialID string, trigger RefreshTrigger) (RefreshResult, error) {
	if err := s.requireStores("refresh_credential"); err != nil {
		return RefreshResult{}, s.mapError(err)
	}
	tenantID, err := validateTenantID(tenantID)
	if err != nil {
		return RefreshResult{}, s.mapError(err)
	}
	credential, err := s.credentialStore.Get(ctx, tenantID, strings.TrimSpace(credentialID))
	if err != nil {
		return RefreshResult{}, s.mapError(err)
	}
	return s.RefreshOne(ctx, credential, trigger)
}

// RefreshOne asks the provider for a new secret and writes it guarded by the
// version read in credential. Losing that race is reported as Skipped with a
// nil error. On failure the stored credential is left untouched.
func (s *Service) RefreshOne(ctx context.Context, credential Credential, trigger RefreshTrigger) (result RefreshResult, err error) {
	startedAt := time.Now().UTC()
	if trigger == "" {
		trigger = RefreshTriggerManual
	}
	fields := map[string]any{
		"tenant_id":     credential.TenantID,
		"credential_id": credential.ID,
		"version":       credential.Version,
		"trigger":       string(trigger),
	}
	defer func() {
		if result.Outcome != "" {
			fields["outcome"] = string(result.Outcome)
		}
		fields["skipped"] = result.Skipped
		s.observeOperation(ctx, startedAt, "refresh_credential", err, fields)
	}()

	if err = s.requireStores("refresh_credential"); err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	if s.provider == nil {
		err = s.mapError(fmt.Errorf("core: provider is required"))
		return RefreshResult{}, err
	}
	if s.refreshEventStore == nil {
		err = s.mapError(fmt.Errorf("core: refresh event store is required"))
		return RefreshResult{}, err
	}
	tenantID, err := validateTenantID(credential.TenantID)
	if err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	if credential.Revoked {
		err = s.mapError(fmt.Errorf("%w: %s", ErrRevoked, credential.RevokedReason))
		return RefreshResult{}, err
	}
	if credential.Kind != CredentialKindAccess {
		err = s.mapError(fmt.Errorf("core: only access credentials are refreshed, got %q", credential.Kind))
		return RefreshResult{}, err
	}

	account, err := s.accountStore.Get(ctx, tenantID, credential.AccountID)
	if err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	fields["platform"] = string(account.Platform)
	if !account.Active {
		err = s.mapError(fmt.Errorf("%w: account %s is disconnected", ErrRevoked, account.ID))
		return RefreshResult{}, err
	}

	accessSecret, err := s.cipher.Decrypt(credential.Ciphertext, credential.Nonce)
	if err != nil {
		result, err = s.revokeForIntegrity(ctx, tenantID, credential, Credential{}, "credential failed integrity check", err, trigger)
		return result, err
	}

	request := ProviderRefreshRequest{
		Kind:         credential.Kind,
		AccountKind:  account.Kind,
		AccessSecret: string(accessSecret),
		ExpiresAt:    cloneTimePointer(credential.ExpiresAt),
	}
	refreshCredential, hasRefresh, err := s.currentRefreshCredential(ctx, tenantID, account.ID)
	if err != nil {
		err = s.mapError(err)
		return RefreshResult{}, err
	}
	if hasRefresh {
		refreshSecret, decryptErr := s.cipher.Decrypt(refreshCredential.Ciphertext, refreshCredential.Nonce)
		if decryptErr != nil {
			result, err = s.revokeForIntegrity(ctx, tenantID, credential, refreshCredential, "refresh credential failed integrity check", decryptErr, trigger)
			return result, err
		}
		request.RefreshSecret = string(refreshSecret)
	}

	callCtx, cancel := s.withProviderTimeout(ctx)
	token, providerErr := s.provider.Refresh(callCtx, request)
	cancel()
	if providerErr == nil && strings.TrimSpace(token.AccessSecret) == "" {
		providerErr = fmt.Errorf("provider returned an empty access secret")
	}
	if providerErr != nil {
		if errors.Is(providerErr, ErrProviderRevoked) {
			return s.revokeAfterRefresh(ctx, tenantID, credential, providerErr, trigger)
		}
		providerErr = redactError(providerErr)
		s.appendRefreshEvent(ctx, tenantID, credential, nil, RefreshOutcomeFailed, providerErr.Error(), trigger)
		result.Outcome = RefreshOutcomeFailed
		err = s.mapError(fmt.Errorf("%w: %w", ErrRefreshFailed, providerErr))
		return result, err
	}

	ciphertext, nonce, err := s.cipher.Encrypt([]byte(token.AccessSecret))
	if err != nil {
		err = s.mapError(fmt.Errorf("core: encrypt refreshed credential: %w", err))
		return RefreshResult{}, err
	}
	updated, err := s.credentialStore.ReplaceSecret(ctx, tenantID, ReplaceSecretInput{
		CredentialID:    credential.ID,
		ExpectedVersion: credential.Version,
		Ciphertext:      ciphertext,
		Nonce:           nonce,
		ExpiresAt:       cloneTimePointer(token.ExpiresAt),
		RefreshedAt:     s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			err = nil
			result = RefreshResult{Skipped: true, Credential: credential}
			return result, nil
		}
		err = s.mapError(err)
		return RefreshResult{}, err
	}

	if hasRefresh && strings.TrimSpace(token.RefreshSecret) != "" && token.RefreshSecret != request.RefreshSecret {
		s.rotateRefreshCredential(ctx, tenantID, refreshCredential, token.RefreshSecret)
	}

	s.appendRefreshEvent(ctx, tenantID, credential, updated.ExpiresAt, RefreshOutcomeSuccess, "", trigger)
	result = RefreshResult{Outcome: RefreshOutcomeSuccess, Credential: updated}
	return result, nil
}

func (s *Service) revokeAfterRefresh(
	ctx context.Context,
	tenantID string,
	credential Credential,
	cause error,
	trigger RefreshTrigger,
) (RefreshResult, error) {
	reason := "provider reported credential invalid"
	cause = redactError(cause)
	if err := s.credentialStore.Revoke(ctx, tenantID, credential.ID, reason); err != nil {
		return RefreshResult{}, s.mapError(err)
	}
	s.appendRefreshEvent(ctx, tenantID, credential, nil, RefreshOutcomeRevoked, cause.Error(), trigger)
	credential.Revoked = true
	credential.RevokedReason = reason
	return RefreshResult{Outcome: RefreshOutcomeRevoked, Credential: credential}, s.mapError(fmt.Errorf("%w: %v", ErrRevoked, cause))
}

// revokeForIntegrity takes a credential that no longer decrypts out of
// rotation. The tenant has to re-authorize the account to get a new one.
func (s *Service) revokeForIntegrity(
	ctx context.Context,
	tenantID string,
	credential Credential,
	refreshCredential Credential,
	detail string,
	cause error,
	trigger RefreshTrigger,
) (RefreshResult, error) {
	s.logError(ctx, "credential failed integrity check, tenant must re-authorize", map[string]any{
		"tenant_id":     tenantID,
		"account_id":    credential.AccountID,
		"credential_id": credential.ID,
	})
	if err := s.credentialStore.Revoke(ctx, tenantID, credential.ID, RevokedReasonIntegrity); err != nil {
		return RefreshResult{}, s.mapError(err)
	}
	if refreshCredential.ID != "" {
		if err := s.credentialStore.Revoke(ctx, tenantID, refreshCredential.ID, RevokedReasonIntegrity); err != nil {
			return RefreshResult{}, s.mapError(err)
		}
	}
	s.appendRefreshEvent(ctx, tenantID, credential, nil, RefreshOutcomeRevoked, detail, trigger)
	credential.Revoked = true
	credential.RevokedReason = RevokedReasonIntegrity
	return RefreshResult{Outcome: RefreshOutcomeRevoked, Credential: credential}, s.mapError(integrityError(cause))
}

func (s *Service) currentRefreshCredential(ctx context.Context, tenantID string, accountID string) (Credential, bool, error) {
	credential, err := s.credentialStore.GetCurrent(ctx, tenantID, accountID, CredentialKindRefresh)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	if credential.Revoked {
		return Credential{}, false, nil
	}
	return credential, true, nil
}

func (s *Service) rotateRefreshCredential(ctx context.Context, tenantID string, current Credential, secret string) {
	ciphertext, nonce, err := s.cipher.Encrypt([]byte(secret))
	if err == nil {
		_, err = s.credentialStore.ReplaceSecret(ctx, tenantID, ReplaceSecretInput{
			CredentialID:    current.ID,
			ExpectedVersion: current.Version,
			Ciphertext:      ciphertext,
			Nonce:           nonce,
			RefreshedAt:     s.now(),
		})
	}
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		s.logError(ctx, "rotate refresh credential failed", map[string]any{
			"tenant_id":     tenantID,
			"credential_id": current.ID,
			"error":         err.Error(),
		})
	}
}

func (s *Service) appendRefreshEvent(
	ctx context.Context,
	tenantID string,
	credential Credential,
	newExpiresAt *time.Time,
	outcome RefreshOutcome,
	detail string,
	trigger RefreshTrigger,
) {
	_, err := s.refreshEventStore.Append(ctx, tenantID, RefreshEvent{
		TenantID:     tenantID,
		CredentialID: credential.ID,
		OldExpiresAt: cloneTimePointer(credential.ExpiresAt),
		NewExpiresAt: cloneTimePointer(newExpiresAt),
		Outcome:      outcome,
		ErrorDetail:  RedactErrorText(strings.TrimSpace(detail)),
		Trigger:      trigger,
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.logError(ctx, "append refresh event failed", map[string]any{
			"tenant_id":     tenantID,
			"credential_id": credential.ID,
			"outcome":       string(outcome),
			"error":         err.Error(),
		})
	}
}

// ListExpiring spans all tenants. A lookahead of zero uses the configured
// window. Non-expiring credentials are included once their last verification
// is older than the liveness interval.
func (s *Service) ListExpiring(ctx context.Context, lookahead time.Duration) ([]Credential, error) {
	if s == nil || s.credentialStore == nil {
		return nil, s.mapError(fmt.Errorf("core: credential store is required"))
	}
	if lookahead <= 0 {
		lookahead = s.config.ExpiringLookahead
	}
	if lookahead <= 0 {
		lookahead = DefaultExpiringLookahead
	}
	now := s.now()
	in := ListExpiringInput{ExpiresBefore: now.Add(lookahead)}
	if s.config.LivenessInterval > 0 {
		in.VerifiedBefore = now.Add(-s.config.LivenessInterval)
	}
	credentials, err := s.credentialStore.ListExpiring(ctx, in)
	if err != nil {
		return nil, s.mapError(err)
	}
	return credentials, nil
}

func (s *Service) TenantHealth(ctx context.Context, tenantID string) (summary HealthSummary, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID}
	defer func() {
		fields["active"] = summary.Active
		fields["expired"] = summary.Expired
		fields["expiring_soon"] = summary.ExpiringSoon
		s.observeOperation(ctx, startedAt, "tenant_health", err, fields)
	}()

	if err = s.requireStores("tenant_health"); err != nil {
		err = s.mapError(err)
		return HealthSummary{}, err
	}
	tenantID, err = validateTenantID(tenantID)
	if err != nil {
		err = s.mapError(err)
		return HealthSummary{}, err
	}
	accounts, err := s.accountStore.ListByTenant(ctx, tenantID)
	if err != nil {
		err = s.mapError(err)
		return HealthSummary{}, err
	}
	credentials, err := s.credentialStore.ListCurrentByTenant(ctx, tenantID)
	if err != nil {
		err = s.mapError(err)
		return HealthSummary{}, err
	}

	lookahead := s.config.ExpiringLookahead
	if lookahead <= 0 {
		lookahead = DefaultExpiringLookahead
	}
	now := s.now()
	summary = HealthSummary{
		TenantID:           tenantID,
		AccountsByPlatform: map[Platform]int{},
	}
	activeAccounts := map[string]struct{}{}
	for _, account := range accounts {
		if !account.Active {
			continue
		}
		activeAccounts[account.ID] = struct{}{}
		summary.TotalAccounts++
		summary.AccountsByPlatform[account.Platform]++
	}
	for _, credential := range credentials {
		if credential.Kind != CredentialKindAccess || credential.Revoked {
			continue
		}
		if _, ok := activeAccounts[credential.AccountID]; !ok {
			continue
		}
		summary.Active++
		switch {
		case credential.IsExpired(now):
			summary.Expired++
		case credential.ExpiresWithin(now, lookahead):
			summary.ExpiringSoon++
		}
	}
	summary.Healthy = summary.Active - summary.Expired - summary.ExpiringSoon
	return summary, nil
}

func (s *Service) ListAccounts(ctx context.Context, tenantID string) ([]ConnectedAccount, error) {
	if s == nil || s.accountStore == nil {
		return nil, s.mapError(fmt.Errorf("core: account store is required"))
	}
	tenantID, err := validateTenantID(tenantID)
	if err != nil {
		return nil, s.mapError(err)
	}
	accounts, err := s.accountStore.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return accounts, nil
}

func (s *Service) ListRefreshEvents(ctx context.Context, tenantID string, credentialID string) ([]RefreshEvent, error) {
	if s == nil || s.refreshEventStore == nil {
		return nil, s.mapError(fmt.Errorf("core: refresh event store is required"))
	}
	tenantID, err := validateTenantID(tenantID)
	if err != nil {
		return nil, s.mapError(err)
	}
	events, err := s.refreshEventStore.ListByCredential(ctx, tenantID, strings.TrimSpace(credentialID))
	if err != nil {
		return nil, s.mapError(err)
	}
	return events, nil
}

// CleanupAuthorizationStates deletes every state past its expiration,
// consumed or not.
func (s *Service) CleanupAuthorizationStates(ctx context.Context) (deleted int64, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["deleted"] = deleted
		s.observeOperation(ctx, startedAt, "cleanup_authorization_states", err, fields)
	}()
	if s == nil || s.stateStore == nil {
		err = s.mapError(fmt.Errorf("core: authorization state store is required"))
		return 0, err
	}
	deleted, err = s.stateStore.DeleteExpired(ctx, s.now())
	if err != nil {
		err = s.mapError(err)
		return 0, err
	}
	return deleted, nil
}

func integrityError(cause error) error {
	if errors.Is(cause, ErrIntegrity) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrIntegrity, cause)
}
