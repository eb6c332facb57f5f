package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (s *Service) CreateTenant(ctx context.Context, in CreateTenantInput) (tenant Tenant, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"slug": in.Slug}
	defer func() {
		fields["tenant_id"] = tenant.ID
		s.observeOperation(ctx, startedAt, "create_tenant", err, fields)
	}()

	if s == nil || s.tenantStore == nil {
		err = s.mapError(fmt.Errorf("core: tenant store is required"))
		return Tenant{}, err
	}
	in.Slug = strings.TrimSpace(strings.ToLower(in.Slug))
	in.Name = strings.TrimSpace(in.Name)
	if in.Slug == "" {
		err = s.mapError(fmt.Errorf("core: tenant slug is required"))
		return Tenant{}, err
	}
	if in.Name == "" {
		in.Name = in.Slug
	}
	tenant, err = s.tenantStore.Create(ctx, in)
	if err != nil {
		err = s.mapError(err)
		return Tenant{}, err
	}
	return tenant, nil
}

// StartAuthorization persists a fresh state token for the tenant and returns
// the provider URL that embeds it.
func (s *Service) StartAuthorization(ctx context.Context, req StartAuthorizationRequest) (start AuthorizationStart, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": req.TenantID}
	defer func() {
		s.observeOperation(ctx, startedAt, "start_authorization", err, fields)
	}()

	if s == nil || s.provider == nil {
		err = s.mapError(fmt.Errorf("core: provider is required"))
		return AuthorizationStart{}, err
	}
	if s.stateStore == nil {
		err = s.mapError(fmt.Errorf("core: authorization state store is required"))
		return AuthorizationStart{}, err
	}
	tenantID, err := validateTenantID(req.TenantID)
	if err != nil {
		err = s.mapError(err)
		return AuthorizationStart{}, err
	}
	if err = s.ensureTenantActive(ctx, tenantID); err != nil {
		err = s.mapError(err)
		return AuthorizationStart{}, err
	}
	fields["provider_id"] = s.provider.ID()

	token, err := generateStateToken()
	if err != nil {
		err = s.mapError(err)
		return AuthorizationStart{}, err
	}
	now := s.now()
	ttl := s.config.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	state := AuthorizationState{
		Token:          token,
		TenantID:       tenantID,
		RedirectTarget: strings.TrimSpace(req.RedirectTarget),
		ClientIP:       strings.TrimSpace(req.ClientIP),
		UserAgent:      strings.TrimSpace(req.UserAgent),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	authURL, err := s.provider.AuthorizationURL(token, s.config.RequestedScopes())
	if err != nil {
		err = s.mapError(err)
		return AuthorizationStart{}, err
	}
	if err = s.stateStore.Save(ctx, state); err != nil {
		err = s.mapError(err)
		return AuthorizationStart{}, err
	}

	fields["phase"] = string(HandshakeInitiated)
	return AuthorizationStart{URL: authURL, State: token, ExpiresAt: state.ExpiresAt}, nil
}

// CompleteAuthorization consumes the state before any provider call. A
// consumed state stays consumed even when the exchange later fails.
func (s *Service) CompleteAuthorization(ctx context.Context, req CompleteAuthorizationRequest) (completion AuthorizationCompletion, err error) {
	startedAt := time.Now().UTC()
	handshake := Handshake{State: req.State, Phase: HandshakeInitiated}
	fields := map[string]any{}
	defer func() {
		fields["phase"] = string(handshake.Phase)
		fields["accounts"] = len(completion.Accounts)
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	if err = s.requireStores("complete_authorization"); err != nil {
		err = s.mapError(err)
		return AuthorizationCompletion{}, err
	}
	if s.provider == nil {
		err = s.mapError(fmt.Errorf("core: provider is required"))
		return AuthorizationCompletion{}, err
	}
	if s.stateStore == nil {
		err = s.mapError(fmt.Errorf("core: authorization state store is required"))
		return AuthorizationCompletion{}, err
	}
	_ = handshake.TransitionTo(HandshakeCallbackReceived)

	state, err := s.stateStore.Consume(ctx, strings.TrimSpace(req.State), s.now())
	if err != nil {
		_ = handshake.TransitionTo(HandshakeRejected)
		err = s.mapError(err)
		return AuthorizationCompletion{}, err
	}
	fields["tenant_id"] = state.TenantID
	fields["provider_id"] = s.provider.ID()

	code := strings.TrimSpace(req.Code)
	if code == "" {
		_ = handshake.TransitionTo(HandshakeRejected)
		err = s.mapError(fmt.Errorf("%w: authorization code is missing", ErrExchangeFailed))
		return AuthorizationCompletion{}, err
	}

	userToken, err := s.exchange(ctx, code)
	if err != nil {
		_ = handshake.TransitionTo(HandshakeRejected)
		err = s.mapError(err)
		return AuthorizationCompletion{}, err
	}
	discovered, err := s.discover(ctx, userToken)
	if err != nil {
		_ = handshake.TransitionTo(HandshakeRejected)
		err = s.mapError(err)
		return AuthorizationCompletion{}, err
	}
	_ = handshake.TransitionTo(HandshakeExchanged)

	summaries, err := s.persistDiscovered(ctx, state.TenantID, discovered)
	if err != nil {
		err = s.mapError(err)
		return AuthorizationCompletion{}, err
	}

	completion = AuthorizationCompletion{
		TenantID:       state.TenantID,
		RedirectTarget: state.RedirectTarget,
		Accounts:       summaries,
	}
	return completion, nil
}

func (s *Service) exchange(ctx context.Context, code string) (TokenSet, error) {
	callCtx, cancel := s.withProviderTimeout(ctx)
	defer cancel()
	token, err := s.provider.Exchange(callCtx, code)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %v", ErrExchangeFailed, redactError(err))
	}
	if strings.TrimSpace(token.AccessSecret) == "" {
		return TokenSet{}, fmt.Errorf("%w: provider returned an empty access secret", ErrExchangeFailed)
	}
	return token, nil
}

func (s *Service) discover(ctx context.Context, userToken TokenSet) ([]DiscoveredAccount, error) {
	callCtx, cancel := s.withProviderTimeout(ctx)
	defer cancel()
	accounts, err := s.provider.Discover(callCtx, userToken)
	if err != nil {
		return nil, fmt.Errorf("%w: account discovery: %v", ErrExchangeFailed, redactError(err))
	}
	return accounts, nil
}

func (s *Service) persistDiscovered(ctx context.Context, tenantID string, discovered []DiscoveredAccount) ([]AccountSummary, error) {
	now := s.now()
	parents := map[string]string{}
	summaries := make([]AccountSummary, 0, len(discovered))

	for _, item := range discovered {
		platform, err := ParsePlatform(string(item.Platform))
		if err != nil {
			return nil, err
		}
		providerAccountID := strings.TrimSpace(item.ProviderAccountID)
		if providerAccountID == "" {
			return nil, fmt.Errorf("core: discovered %s account without provider id", platform)
		}
		if strings.TrimSpace(item.Token.AccessSecret) == "" {
			return nil, fmt.Errorf("core: discovered account %s has no scoped credential", providerAccountID)
		}

		account, err := s.accountStore.Upsert(ctx, tenantID, UpsertAccountInput{
			Platform:          platform,
			ProviderAccountID: providerAccountID,
			DisplayName:       strings.TrimSpace(item.DisplayName),
			Username:          strings.TrimSpace(item.Username),
			Kind:              item.Kind,
			ParentAccountID:   parents[strings.TrimSpace(item.ParentProviderAccountID)],
			SyncedAt:          now,
		})
		if err != nil {
			return nil, err
		}
		if platform == PlatformFacebook {
			parents[providerAccountID] = account.ID
		}

		credential, err := s.storeSecret(ctx, tenantID, account.ID, CredentialKindAccess, item.Token.AccessSecret, item.Token, now)
		if err != nil {
			return nil, err
		}
		if refresh := strings.TrimSpace(item.Token.RefreshSecret); refresh != "" {
			if _, err := s.storeSecret(ctx, tenantID, account.ID, CredentialKindRefresh, refresh, TokenSet{TokenType: item.Token.TokenType}, now); err != nil {
				return nil, err
			}
		}

		summaries = append(summaries, AccountSummary{
			AccountID:         account.ID,
			Platform:          account.Platform,
			ProviderAccountID: account.ProviderAccountID,
			DisplayName:       account.DisplayName,
			Kind:              account.Kind,
			ExpiresAt:         cloneTimePointer(credential.ExpiresAt),
		})
	}
	return summaries, nil
}

func (s *Service) storeSecret(
	ctx context.Context,
	tenantID string,
	accountID string,
	kind CredentialKind,
	secret string,
	token TokenSet,
	issuedAt time.Time,
) (Credential, error) {
	ciphertext, nonce, err := s.cipher.Encrypt([]byte(secret))
	if err != nil {
		return Credential{}, fmt.Errorf("core: encrypt %s credential: %w", kind, err)
	}
	var expiresAt *time.Time
	if kind == CredentialKindAccess {
		expiresAt = cloneTimePointer(token.ExpiresAt)
	}
	return s.credentialStore.SaveCurrent(ctx, tenantID, SaveCredentialInput{
		AccountID:  accountID,
		Kind:       kind,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		TokenType:  strings.TrimSpace(token.TokenType),
		Scopes:     append([]string(nil), token.Scopes...),
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
	})
}

// DisconnectAccount deactivates the account and revokes its current
// credentials. History rows are kept.
func (s *Service) DisconnectAccount(ctx context.Context, tenantID string, ref AccountRef, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID, "account_ref": ref.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect_account", err, fields)
	}()

	if err = s.requireStores("disconnect_account"); err != nil {
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
	fields["platform"] = string(account.Platform)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "disconnected"
	}
	if err = s.accountStore.Deactivate(ctx, tenantID, account.ID); err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.credentialStore.RevokeForAccount(ctx, tenantID, account.ID, reason); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) ensureTenantActive(ctx context.Context, tenantID string) error {
	if s.tenantStore == nil {
		return nil
	}
	tenant, err := s.tenantStore.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.Status != "" && tenant.Status != TenantStatusActive {
		return fmt.Errorf("%w: tenant %s is %s", ErrInvalidTenantID, tenantID, tenant.Status)
	}
	return nil
}

func (s *Service) withProviderTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
