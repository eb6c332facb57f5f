package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGetUsableCredential_ReturnsPlaintext(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, credential := fixture.connect(t, tenant.ID, "page-1", "live-secret", timePtr(fixture.now.Add(time.Hour)))

	usable, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID})
	if err != nil {
		t.Fatalf("get usable credential: %v", err)
	}
	if usable.Secret != "live-secret" {
		t.Fatalf("expected plaintext secret, got %q", usable.Secret)
	}
	if usable.CredentialID != credential.ID || usable.Platform != PlatformFacebook {
		t.Fatalf("unexpected usable credential: %+v", usable)
	}
}

func TestGetUsableCredential_ExpiredNeverReturnsPlaintext(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, _ := fixture.connect(t, tenant.ID, "page-1", "old-secret", timePtr(fixture.now.Add(-time.Minute)))

	usable, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID})
	if !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expected credential expired, got %v", err)
	}
	if usable.Secret != "" {
		t.Fatalf("expected no plaintext for expired credential")
	}
}

func TestGetUsableCredential_NilExpiryIsUsable(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	fixture.connect(t, tenant.ID, "page-1", "page-secret", nil)

	usable, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{Platform: PlatformFacebook, ProviderAccountID: "page-1"})
	if err != nil {
		t.Fatalf("get usable credential: %v", err)
	}
	if usable.ExpiresAt != nil {
		t.Fatalf("expected nil expiry, got %v", usable.ExpiresAt)
	}
}

func TestGetUsableCredential_TamperedCiphertextFailsIntegrity(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, credential := fixture.connect(t, tenant.ID, "page-1", "secret", timePtr(fixture.now.Add(time.Hour)))

	fixture.stores.credentials.mu.Lock()
	tampered := fixture.stores.credentials.credentials[credential.ID]
	tampered.Ciphertext = []byte("garbage")
	fixture.stores.credentials.credentials[credential.ID] = tampered
	fixture.stores.credentials.mu.Unlock()

	_, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity failure, got %v", err)
	}
}

func TestGetUsableCredential_TenantIsolation(t *testing.T) {
	fixture := newServiceFixture(t)
	tenantA := fixture.tenant(t)
	tenantB := fixture.tenant(t)
	account, _ := fixture.connect(t, tenantA.ID, "page-1", "secret-a", timePtr(fixture.now.Add(time.Hour)))

	_, err := fixture.svc.GetUsableCredential(context.Background(), tenantB.ID, AccountRef{AccountID: account.ID})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected tenant B lookup to miss tenant A account, got %v", err)
	}
	_, err = fixture.svc.GetUsableCredential(context.Background(), tenantB.ID, AccountRef{Platform: PlatformFacebook, ProviderAccountID: "page-1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected provider id lookup to be tenant scoped, got %v", err)
	}
}

func TestGetUsableCredential_InvalidReference(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)

	_, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{})
	if !errors.Is(err, ErrInvalidAccountRef) {
		t.Fatalf("expected invalid account ref, got %v", err)
	}
	_, err = fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{ProviderAccountID: "page-1", Platform: "myspace"})
	if !errors.Is(err, ErrInvalidAccountRef) {
		t.Fatalf("expected invalid platform rejection, got %v", err)
	}
}

func TestRecordUsage_StampsLastUsed(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, credential := fixture.connect(t, tenant.ID, "page-1", "secret", timePtr(fixture.now.Add(time.Hour)))

	if _, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID}); err != nil {
		t.Fatalf("get usable credential: %v", err)
	}
	stored, _ := fixture.stores.credentials.Get(context.Background(), tenant.ID, credential.ID)
	if stored.LastUsedAt != nil {
		t.Fatalf("expected reads to leave last_used_at untouched")
	}

	if err := fixture.svc.RecordUsage(context.Background(), tenant.ID, AccountRef{AccountID: account.ID}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	stored, _ = fixture.stores.credentials.Get(context.Background(), tenant.ID, credential.ID)
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(fixture.now) {
		t.Fatalf("expected last_used_at stamped at %s, got %v", fixture.now, stored.LastUsedAt)
	}
}

func TestRefreshOne_SuccessReplacesSecret(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(2*24*time.Hour)))
	newExpiry := fixture.now.Add(60 * 24 * time.Hour)
	fixture.provider.refreshed = TokenSet{AccessSecret: "new", ExpiresAt: &newExpiry}

	result, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerManual)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.Outcome != RefreshOutcomeSuccess || result.Skipped {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Credential.Version != credential.Version+1 {
		t.Fatalf("expected version bump, got %d", result.Credential.Version)
	}

	usable, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID})
	if err != nil {
		t.Fatalf("get usable credential: %v", err)
	}
	if usable.Secret != "new" {
		t.Fatalf("expected refreshed secret, got %q", usable.Secret)
	}

	events := fixture.stores.events.snapshot()
	if len(events) != 1 || events[0].Outcome != RefreshOutcomeSuccess || events[0].Trigger != RefreshTriggerManual {
		t.Fatalf("expected one success event, got %+v", events)
	}
	if events[0].NewExpiresAt == nil || !events[0].NewExpiresAt.Equal(newExpiry) {
		t.Fatalf("expected new expiry on event, got %v", events[0].NewExpiresAt)
	}
}

func TestRefreshOne_StaleVersionIsSkipped(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	_, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshed = TokenSet{AccessSecret: "new", ExpiresAt: timePtr(fixture.now.Add(48 * time.Hour))}

	if _, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerSweep); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	result, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerSweep)
	if err != nil {
		t.Fatalf("expected stale refresh to be silent, got %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected stale refresh to be skipped, got %+v", result)
	}
	if got := len(fixture.stores.events.snapshot()); got != 1 {
		t.Fatalf("expected only the winning refresh to be recorded, got %d events", got)
	}
}

func TestRefreshOne_ConcurrentRefreshesHaveOneWinner(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	_, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshed = TokenSet{AccessSecret: "new", ExpiresAt: timePtr(fixture.now.Add(48 * time.Hour))}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		skipped int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerSweep)
			if err != nil {
				t.Errorf("refresh: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Skipped {
				skipped++
			} else if result.Outcome == RefreshOutcomeSuccess {
				success++
			}
		}()
	}
	wg.Wait()

	if success != 1 || skipped != workers-1 {
		t.Fatalf("expected 1 success and %d skipped, got success=%d skipped=%d", workers-1, success, skipped)
	}
	current, err := fixture.stores.credentials.Get(context.Background(), tenant.ID, credential.ID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if current.Version != credential.Version+1 {
		t.Fatalf("expected exactly one version bump, got %d", current.Version)
	}
}

func TestRefreshOne_ProviderFailureLeavesCredential(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshErr = errors.New("graph unavailable")

	result, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerSweep)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected refresh failed, got %v", err)
	}
	if result.Outcome != RefreshOutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", result.Outcome)
	}
	usable, err := fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID})
	if err != nil {
		t.Fatalf("expected old credential to stay usable: %v", err)
	}
	if usable.Secret != "old" {
		t.Fatalf("expected old secret, got %q", usable.Secret)
	}
	events := fixture.stores.events.snapshot()
	if len(events) != 1 || events[0].Outcome != RefreshOutcomeFailed || events[0].ErrorDetail == "" {
		t.Fatalf("expected failed event with detail, got %+v", events)
	}
}

func TestRefreshOne_ProviderRevocationRevokesCredential(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	account, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshErr = fmt.Errorf("%w: token invalidated by user", ErrProviderRevoked)

	result, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerJob)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
	if result.Outcome != RefreshOutcomeRevoked {
		t.Fatalf("expected revoked outcome, got %q", result.Outcome)
	}
	_, err = fixture.svc.GetUsableCredential(context.Background(), tenant.ID, AccountRef{AccountID: account.ID})
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected revoked credential to be unusable, got %v", err)
	}
	events := fixture.stores.events.snapshot()
	if len(events) != 1 || events[0].Outcome != RefreshOutcomeRevoked {
		t.Fatalf("expected revoked event, got %+v", events)
	}
}

func TestRefreshOne_EventAppendFailureKeepsSuccess(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	_, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshed = TokenSet{AccessSecret: "new"}
	fixture.stores.events.err = errors.New("audit table locked")

	result, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerSweep)
	if err != nil {
		t.Fatalf("expected refresh to succeed despite audit failure, got %v", err)
	}
	if result.Outcome != RefreshOutcomeSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestRefreshOne_RotatesRefreshSecret(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	ctx := context.Background()
	account, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	if _, err := fixture.svc.storeSecret(ctx, tenant.ID, account.ID, CredentialKindRefresh, "rt-old", TokenSet{}, fixture.now); err != nil {
		t.Fatalf("store refresh secret: %v", err)
	}
	var seen ProviderRefreshRequest
	fixture.provider.onRefresh = func(req ProviderRefreshRequest) { seen = req }
	fixture.provider.refreshed = TokenSet{AccessSecret: "new", RefreshSecret: "rt-new"}

	if _, err := fixture.svc.RefreshOne(ctx, credential, RefreshTriggerManual); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if seen.RefreshSecret != "rt-old" || seen.AccessSecret != "old" {
		t.Fatalf("expected provider to receive decrypted secrets, got %+v", seen)
	}
	refresh, err := fixture.stores.credentials.GetCurrent(ctx, tenant.ID, account.ID, CredentialKindRefresh)
	if err != nil {
		t.Fatalf("get refresh credential: %v", err)
	}
	plaintext, err := testCipher{}.Decrypt(refresh.Ciphertext, refresh.Nonce)
	if err != nil {
		t.Fatalf("decrypt refresh credential: %v", err)
	}
	if string(plaintext) != "rt-new" {
		t.Fatalf("expected rotated refresh secret, got %q", plaintext)
	}
}

func TestRefreshCredential_LoadsByID(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	_, credential := fixture.connect(t, tenant.ID, "page-1", "old", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshed = TokenSet{AccessSecret: "new"}

	result, err := fixture.svc.RefreshCredential(context.Background(), tenant.ID, credential.ID, "")
	if err != nil {
		t.Fatalf("refresh credential: %v", err)
	}
	if result.Outcome != RefreshOutcomeSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	events, err := fixture.svc.ListRefreshEvents(context.Background(), tenant.ID, credential.ID)
	if err != nil {
		t.Fatalf("list refresh events: %v", err)
	}
	if len(events) != 1 || events[0].Trigger != RefreshTriggerManual {
		t.Fatalf("expected manual trigger default, got %+v", events)
	}

	_, err = fixture.svc.RefreshCredential(context.Background(), tenant.ID, uuid.NewString(), RefreshTriggerManual)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown credential, got %v", err)
	}
}

func TestListExpiring_IncludesWindowAndStaleNonExpiring(t *testing.T) {
	fixture := newServiceFixture(t)
	tenantA := fixture.tenant(t)
	tenantB := fixture.tenant(t)
	_, soon := fixture.connect(t, tenantA.ID, "page-soon", "a", timePtr(fixture.now.Add(3*24*time.Hour)))
	fixture.connect(t, tenantA.ID, "page-later", "b", timePtr(fixture.now.Add(30*24*time.Hour)))
	_, other := fixture.connect(t, tenantB.ID, "page-b", "c", timePtr(fixture.now.Add(time.Hour)))
	fixture.connect(t, tenantB.ID, "page-fresh", "d", nil)

	fixture.now = fixture.now.Add(time.Minute)
	expiring, err := fixture.svc.ListExpiring(context.Background(), 0)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	ids := map[string]bool{}
	for _, credential := range expiring {
		ids[credential.ID] = true
	}
	if len(ids) != 2 || !ids[soon.ID] || !ids[other.ID] {
		t.Fatalf("expected soon-expiring credentials across tenants, got %d: %v", len(ids), ids)
	}

	fixture.now = fixture.now.Add(DefaultLivenessInterval + time.Hour)
	expiring, err = fixture.svc.ListExpiring(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	foundNilExpiry := false
	for _, credential := range expiring {
		if credential.ExpiresAt == nil {
			foundNilExpiry = true
		}
	}
	if !foundNilExpiry {
		t.Fatalf("expected stale non-expiring credential to be due for verification")
	}
}

func TestTenantHealth_ClassifiesCredentials(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	fixture.connect(t, tenant.ID, "page-ok", "a", timePtr(fixture.now.Add(30*24*time.Hour)))
	fixture.connect(t, tenant.ID, "page-soon", "b", timePtr(fixture.now.Add(2*24*time.Hour)))
	fixture.connect(t, tenant.ID, "page-expired", "c", timePtr(fixture.now.Add(-time.Hour)))
	fixture.connect(t, tenant.ID, "page-forever", "d", nil)
	gone, _ := fixture.connect(t, tenant.ID, "page-gone", "e", timePtr(fixture.now.Add(time.Hour)))
	if err := fixture.svc.DisconnectAccount(context.Background(), tenant.ID, AccountRef{AccountID: gone.ID}, "user request"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	summary, err := fixture.svc.TenantHealth(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("tenant health: %v", err)
	}
	if summary.TotalAccounts != 4 {
		t.Fatalf("expected 4 active accounts, got %d", summary.TotalAccounts)
	}
	if summary.Active != 4 || summary.Expired != 1 || summary.ExpiringSoon != 1 || summary.Healthy != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.AccountsByPlatform[PlatformFacebook] != 4 {
		t.Fatalf("expected facebook count 4, got %d", summary.AccountsByPlatform[PlatformFacebook])
	}
}

func TestCleanupAuthorizationStates_DeletesExpired(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	ctx := context.Background()
	if _, err := fixture.svc.StartAuthorization(ctx, StartAuthorizationRequest{TenantID: tenant.ID}); err != nil {
		t.Fatalf("start authorization: %v", err)
	}
	live, err := fixture.svc.StartAuthorization(ctx, StartAuthorizationRequest{TenantID: tenant.ID})
	if err != nil {
		t.Fatalf("start authorization: %v", err)
	}

	deleted, err := fixture.svc.CleanupAuthorizationStates(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected nothing to delete yet, got %d", deleted)
	}

	fixture.now = fixture.now.Add(DefaultStateTTL + time.Second)
	deleted, err = fixture.svc.CleanupAuthorizationStates(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 expired states deleted, got %d", deleted)
	}
	_, err = fixture.stores.states.Consume(ctx, live.State, fixture.now)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected cleaned state to be gone, got %v", err)
	}
}

func TestRefreshOne_TamperedCiphertextRevokesForReauthorization(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	ctx := context.Background()
	account, credential := fixture.connect(t, tenant.ID, "page-1", "secret", timePtr(fixture.now.Add(24*time.Hour)))

	fixture.stores.credentials.mu.Lock()
	tampered := fixture.stores.credentials.credentials[credential.ID]
	tampered.Ciphertext = []byte("garbage")
	fixture.stores.credentials.credentials[credential.ID] = tampered
	fixture.stores.credentials.mu.Unlock()

	due, err := fixture.svc.ListExpiring(ctx, 0)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one due credential, got %d (%v)", len(due), err)
	}
	result, err := fixture.svc.RefreshOne(ctx, due[0], RefreshTriggerSweep)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity failure, got %v", err)
	}
	if result.Outcome != RefreshOutcomeRevoked {
		t.Fatalf("expected revoked outcome, got %q", result.Outcome)
	}
	if fixture.provider.calls() != 0 {
		t.Fatalf("expected the provider to be skipped")
	}

	stored, err := fixture.stores.credentials.Get(ctx, tenant.ID, credential.ID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if !stored.Revoked || stored.RevokedReason != RevokedReasonIntegrity {
		t.Fatalf("expected integrity revocation, got revoked=%v reason=%q", stored.Revoked, stored.RevokedReason)
	}
	due, err = fixture.svc.ListExpiring(ctx, 0)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected revoked credential to leave the sweep, got %d (%v)", len(due), err)
	}
	if _, err := fixture.svc.GetUsableCredential(ctx, tenant.ID, AccountRef{AccountID: account.ID}); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected revoked on read, got %v", err)
	}
	events := fixture.stores.events.snapshot()
	if len(events) != 1 || events[0].Outcome != RefreshOutcomeRevoked {
		t.Fatalf("expected one revoked event, got %+v", events)
	}
}

func TestRefreshOne_ProviderErrorTextIsScrubbed(t *testing.T) {
	fixture := newServiceFixture(t)
	tenant := fixture.tenant(t)
	_, credential := fixture.connect(t, tenant.ID, "page-1", "PAGE-TOKEN-PLAINTEXT", timePtr(fixture.now.Add(time.Hour)))
	fixture.provider.refreshErr = errors.New(`meta: graph request: Get "https://graph.example/v18.0/debug_token?access_token=app-1%7Capp-secret-XYZ&input_token=PAGE-TOKEN-PLAINTEXT": EOF`)

	_, err := fixture.svc.RefreshOne(context.Background(), credential, RefreshTriggerSweep)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected refresh failed, got %v", err)
	}
	events := fixture.stores.events.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}
	for _, text := range []string{err.Error(), events[0].ErrorDetail} {
		if strings.Contains(text, "PAGE-TOKEN-PLAINTEXT") || strings.Contains(text, "app-secret-XYZ") {
			t.Fatalf("expected secrets to be scrubbed, got %s", text)
		}
	}
}
