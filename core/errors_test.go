package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		status   int
	}{
		{fmt.Errorf("%w: replayed", ErrInvalidState), ErrorInvalidState, http.StatusUnauthorized},
		{fmt.Errorf("%w: gcm open", ErrIntegrity), ErrorIntegrity, http.StatusInternalServerError},
		{fmt.Errorf("%w: user removed app", ErrProviderRevoked), ErrorRevoked, http.StatusForbidden},
		{ErrCredentialExpired, ErrorCredentialExpired, http.StatusUnauthorized},
		{fmt.Errorf("%w: invalid_grant", ErrExchangeFailed), ErrorExchangeFailed, http.StatusBadGateway},
		{ErrVersionConflict, ErrorVersionConflict, http.StatusConflict},
		{fmt.Errorf("%w: account", ErrNotFound), ErrorNotFound, http.StatusNotFound},
		{ErrInvalidTenantID, ErrorBadInput, http.StatusBadRequest},
		{stderrors.New("core: tenant slug is required"), ErrorBadInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		mapped := serviceErrorMapper(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected text code %q, got %q", tc.err, tc.textCode, mapped.TextCode)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, mapped.Code)
		}
	}
}

func TestServiceErrorMapper_PreservesSentinels(t *testing.T) {
	mapped := serviceErrorMapper(fmt.Errorf("%w: expired at noon", ErrCredentialExpired))
	if !stderrors.Is(mapped, ErrCredentialExpired) {
		t.Fatalf("expected mapped error to keep sentinel in chain")
	}
	again := serviceErrorMapper(mapped)
	if again.TextCode != ErrorCredentialExpired {
		t.Fatalf("expected remapping to be stable, got %q", again.TextCode)
	}
}

func TestServiceMethods_MapErrorsToStableServiceCodes(t *testing.T) {
	fixture := newServiceFixture(t)

	_, err := fixture.svc.GetUsableCredential(context.Background(), "", AccountRef{AccountID: "x"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", richErr.TextCode)
	}

	_, err = fixture.svc.CompleteAuthorization(context.Background(), CompleteAuthorizationRequest{Code: "c", State: "s"})
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorInvalidState {
		t.Fatalf("expected invalid state text code, got %q", richErr.TextCode)
	}
}
