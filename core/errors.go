package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrInvalidState      = errors.New("core: invalid authorization state")
	ErrExchangeFailed    = errors.New("core: grant exchange failed")
	ErrRefreshFailed     = errors.New("core: credential refresh failed")
	ErrCredentialExpired = errors.New("core: credential expired")
	ErrRevoked           = errors.New("core: credential revoked")
	ErrIntegrity         = errors.New("core: credential integrity check failed")
	ErrNotFound          = errors.New("core: not found")
	ErrVersionConflict   = errors.New("core: credential version conflict")
	ErrProviderRevoked   = errors.New("core: provider reports credential invalid")
	ErrInvalidTenantID   = errors.New("core: invalid tenant id")
	ErrInvalidAccountRef = errors.New("core: invalid account reference")
	ErrUnsupportedScope  = errors.New("core: unsupported scope")
	ErrRateLimited       = errors.New("core: provider rate limited")
)

const (
	ErrorBadInput          = "CREDENTIALS_BAD_INPUT"
	ErrorInvalidState      = "CREDENTIALS_INVALID_STATE"
	ErrorExchangeFailed    = "CREDENTIALS_EXCHANGE_FAILED"
	ErrorRefreshFailed     = "CREDENTIALS_REFRESH_FAILED"
	ErrorCredentialExpired = "CREDENTIALS_EXPIRED"
	ErrorRevoked           = "CREDENTIALS_REVOKED"
	ErrorIntegrity         = "CREDENTIALS_INTEGRITY"
	ErrorNotFound          = "CREDENTIALS_NOT_FOUND"
	ErrorVersionConflict   = "CREDENTIALS_VERSION_CONFLICT"
	ErrorRateLimited       = "CREDENTIALS_RATE_LIMITED"
	ErrorInternal          = "CREDENTIALS_INTERNAL_ERROR"
)

type errorClass struct {
	sentinel error
	category goerrors.Category
	textCode string
}

// Ordered: the first sentinel found in the chain wins.
var errorClasses = []errorClass{
	{ErrInvalidState, goerrors.CategoryAuth, ErrorInvalidState},
	{ErrIntegrity, goerrors.CategoryInternal, ErrorIntegrity},
	{ErrRevoked, goerrors.CategoryAuthz, ErrorRevoked},
	{ErrProviderRevoked, goerrors.CategoryAuthz, ErrorRevoked},
	{ErrCredentialExpired, goerrors.CategoryAuth, ErrorCredentialExpired},
	{ErrExchangeFailed, goerrors.CategoryExternal, ErrorExchangeFailed},
	{ErrRateLimited, goerrors.CategoryRateLimit, ErrorRateLimited},
	{ErrRefreshFailed, goerrors.CategoryExternal, ErrorRefreshFailed},
	{ErrVersionConflict, goerrors.CategoryConflict, ErrorVersionConflict},
	{ErrNotFound, goerrors.CategoryNotFound, ErrorNotFound},
	{ErrInvalidTenantID, goerrors.CategoryValidation, ErrorBadInput},
	{ErrInvalidAccountRef, goerrors.CategoryValidation, ErrorBadInput},
	{ErrUnsupportedScope, goerrors.CategoryValidation, ErrorBadInput},
	{ErrInvalidPlatform, goerrors.CategoryValidation, ErrorBadInput},
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	for _, class := range errorClasses {
		if errors.Is(err, class.sentinel) {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) && richErr.TextCode == class.textCode {
				return ensureServiceErrorEnvelope(richErr)
			}
			return ensureServiceErrorEnvelope(
				goerrors.Wrap(err, class.category, err.Error()).
					WithTextCode(class.textCode),
			)
		}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err, goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorVersionConflict
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
