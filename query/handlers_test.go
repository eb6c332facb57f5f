package query

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-credentials/core"
	goerrors "github.com/goliatone/go-errors"
)

const testTenantID = "6f1c7a3e-2b4d-4e8f-9a0b-1c2d3e4f5a6b"

type stubReader struct {
	usable     core.UsableCredential
	usableErr  error
	health     core.HealthSummary
	accounts   []core.ConnectedAccount
	events     []core.RefreshEvent
	lastTenant string
	lastRef    core.AccountRef
}

func (s *stubReader) GetUsableCredential(_ context.Context, tenantID string, ref core.AccountRef) (core.UsableCredential, error) {
	s.lastTenant = tenantID
	s.lastRef = ref
	return s.usable, s.usableErr
}

func (s *stubReader) TenantHealth(_ context.Context, tenantID string) (core.HealthSummary, error) {
	s.lastTenant = tenantID
	return s.health, nil
}

func (s *stubReader) ListAccounts(_ context.Context, tenantID string) ([]core.ConnectedAccount, error) {
	s.lastTenant = tenantID
	return s.accounts, nil
}

func (s *stubReader) ListRefreshEvents(_ context.Context, tenantID string, _ string) ([]core.RefreshEvent, error) {
	s.lastTenant = tenantID
	return s.events, nil
}

func TestUsableCredentialQuery_DelegatesToReader(t *testing.T) {
	reader := &stubReader{usable: core.UsableCredential{AccountID: "a1", Secret: "s"}}
	ref := core.AccountRef{Platform: core.PlatformFacebook, ProviderAccountID: "page_1"}

	out, err := NewUsableCredentialQuery(reader).Query(context.Background(), UsableCredentialMessage{
		TenantID: testTenantID,
		Account:  ref,
	})
	if err != nil {
		t.Fatalf("query usable credential: %v", err)
	}
	if out.AccountID != "a1" || reader.lastTenant != testTenantID || reader.lastRef != ref {
		t.Fatalf("unexpected delegation: out=%#v tenant=%q ref=%#v", out, reader.lastTenant, reader.lastRef)
	}

	reader.usableErr = core.ErrCredentialExpired
	if _, err := NewUsableCredentialQuery(reader).Query(context.Background(), UsableCredentialMessage{TenantID: testTenantID, Account: ref}); !errors.Is(err, core.ErrCredentialExpired) {
		t.Fatalf("expected reader error to propagate, got %v", err)
	}
}

func TestReadQueries_DelegateToReader(t *testing.T) {
	reader := &stubReader{
		health:   core.HealthSummary{TenantID: testTenantID, TotalAccounts: 2, Healthy: 1},
		accounts: []core.ConnectedAccount{{ID: "a1"}, {ID: "a2"}},
		events:   []core.RefreshEvent{{ID: "e1", Outcome: core.RefreshOutcomeSuccess}},
	}
	ctx := context.Background()

	health, err := NewTenantHealthQuery(reader).Query(ctx, TenantHealthMessage{TenantID: testTenantID})
	if err != nil || health.TotalAccounts != 2 {
		t.Fatalf("unexpected health result %#v err=%v", health, err)
	}
	accounts, err := NewListAccountsQuery(reader).Query(ctx, ListAccountsMessage{TenantID: testTenantID})
	if err != nil || len(accounts) != 2 {
		t.Fatalf("unexpected accounts result %#v err=%v", accounts, err)
	}
	events, err := NewListRefreshEventsQuery(reader).Query(ctx, ListRefreshEventsMessage{TenantID: testTenantID, CredentialID: "c1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("unexpected events result %#v err=%v", events, err)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	_, err := NewTenantHealthQuery(nil).Query(context.Background(), TenantHealthMessage{TenantID: testTenantID})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

func TestMessages_ValidateReturnsRichErrors(t *testing.T) {
	for name, msg := range map[string]interface{ Validate() error }{
		"usable missing ref":   UsableCredentialMessage{TenantID: testTenantID},
		"health bad tenant":    TenantHealthMessage{TenantID: "acme"},
		"accounts no tenant":   ListAccountsMessage{},
		"events no credential": ListRefreshEventsMessage{TenantID: testTenantID},
	} {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %v", name, err)
		}
		if rich.TextCode != core.ErrorBadInput {
			t.Fatalf("%s: expected %q text code, got %q", name, core.ErrorBadInput, rich.TextCode)
		}
	}

	if err := (UsableCredentialMessage{TenantID: testTenantID, Account: core.AccountRef{AccountID: testTenantID}}).Validate(); err != nil {
		t.Fatalf("expected valid usable credential message, got %v", err)
	}
	if (TenantHealthMessage{}).Type() != "credentials.query.tenant.health" {
		t.Fatalf("unexpected tenant health type")
	}
}
