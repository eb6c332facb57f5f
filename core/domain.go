package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidHandshakeTransition = errors.New("core: invalid handshake phase transition")
	ErrInvalidPlatform            = errors.New("core: invalid platform")
)

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

type Tenant struct {
	ID        string
	Slug      string
	Name      string
	Status    TenantStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateTenantInput struct {
	Slug string
	Name string
}

type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

func ParsePlatform(value string) (Platform, error) {
	switch Platform(strings.TrimSpace(strings.ToLower(value))) {
	case PlatformFacebook:
		return PlatformFacebook, nil
	case PlatformInstagram:
		return PlatformInstagram, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, value)
	}
}

type AccountKind string

const (
	AccountKindPage              AccountKind = "page"
	AccountKindInstagramBusiness AccountKind = "instagram_business"
)

type ConnectedAccount struct {
	ID                string
	TenantID          string
	Platform          Platform
	ProviderAccountID string
	DisplayName       string
	Username          string
	Kind              AccountKind
	ParentAccountID   string
	Active            bool
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertAccountInput is keyed by (tenant, platform, provider account id).
type UpsertAccountInput struct {
	Platform          Platform
	ProviderAccountID string
	DisplayName       string
	Username          string
	Kind              AccountKind
	ParentAccountID   string
	SyncedAt          time.Time
}

// AccountSummary is returned to callers completing a handshake.
type AccountSummary struct {
	AccountID         string
	Platform          Platform
	ProviderAccountID string
	DisplayName       string
	Kind              AccountKind
	ExpiresAt         *time.Time
}

// AccountRef resolves an account either by its id or by its provider
// identity. The id strategy is tried first.
type AccountRef struct {
	AccountID         string
	Platform          Platform
	ProviderAccountID string
}

func (r AccountRef) Validate() error {
	if strings.TrimSpace(r.AccountID) != "" {
		if _, err := uuid.Parse(strings.TrimSpace(r.AccountID)); err != nil {
			return fmt.Errorf("%w: account id %q is not a uuid", ErrInvalidAccountRef, r.AccountID)
		}
		return nil
	}
	if strings.TrimSpace(r.ProviderAccountID) == "" {
		return fmt.Errorf("%w: account id or provider account id is required", ErrInvalidAccountRef)
	}
	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccountRef, err)
	}
	return nil
}

func (r AccountRef) String() string {
	if id := strings.TrimSpace(r.AccountID); id != "" {
		return id
	}
	return string(r.Platform) + ":" + strings.TrimSpace(r.ProviderAccountID)
}

type CredentialKind string

const (
	CredentialKindAccess  CredentialKind = "access"
	CredentialKindRefresh CredentialKind = "refresh"
)

// RevokedReasonIntegrity marks a credential that stopped decrypting and needs
// the tenant to re-authorize the account.
const RevokedReasonIntegrity = "integrity_failure_reauthorize"

type Credential struct {
	ID              string
	TenantID        string
	AccountID       string
	Kind            CredentialKind
	Ciphertext      []byte
	Nonce           []byte
	TokenType       string
	Scopes          []string
	IssuedAt        time.Time
	ExpiresAt       *time.Time
	LastRefreshedAt *time.Time
	LastUsedAt      *time.Time
	Revoked         bool
	RevokedAt       *time.Time
	RevokedReason   string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether the credential expired strictly before now. A nil
// expiration never expires.
func (c Credential) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(now)
}

func (c Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// LastVerifiedAt is the latest time the provider confirmed the credential.
func (c Credential) LastVerifiedAt() time.Time {
	if c.LastRefreshedAt != nil && c.LastRefreshedAt.After(c.IssuedAt) {
		return *c.LastRefreshedAt
	}
	return c.IssuedAt
}

type SaveCredentialInput struct {
	AccountID  string
	Kind       CredentialKind
	Ciphertext []byte
	Nonce      []byte
	TokenType  string
	Scopes     []string
	IssuedAt   time.Time
	ExpiresAt  *time.Time
}

// ReplaceSecretInput carries the version the writer read. The write is
// rejected with ErrVersionConflict when the stored version differs.
type ReplaceSecretInput struct {
	CredentialID    string
	ExpectedVersion int
	Ciphertext      []byte
	Nonce           []byte
	ExpiresAt       *time.Time
	RefreshedAt     time.Time
}

type ListExpiringInput struct {
	ExpiresBefore  time.Time
	VerifiedBefore time.Time
	Limit          int
}

type RefreshOutcome string

const (
	RefreshOutcomeSuccess RefreshOutcome = "success"
	RefreshOutcomeFailed  RefreshOutcome = "failed"
	RefreshOutcomeRevoked RefreshOutcome = "revoked"
)

type RefreshTrigger string

const (
	RefreshTriggerSweep  RefreshTrigger = "sweep"
	RefreshTriggerManual RefreshTrigger = "manual"
	RefreshTriggerJob    RefreshTrigger = "job"
)

type RefreshEvent struct {
	ID           string
	TenantID     string
	CredentialID string
	OldExpiresAt *time.Time
	NewExpiresAt *time.Time
	Outcome      RefreshOutcome
	ErrorDetail  string
	Trigger      RefreshTrigger
	CreatedAt    time.Time
}

type RefreshResult struct {
	Outcome    RefreshOutcome
	Credential Credential
	// Skipped is set when a concurrent writer refreshed the credential first.
	Skipped bool
}

type AuthorizationState struct {
	Token          string
	TenantID       string
	RedirectTarget string
	ClientIP       string
	UserAgent      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Consumed       bool
	ConsumedAt     *time.Time
}

func (s AuthorizationState) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

type StartAuthorizationRequest struct {
	TenantID       string
	RedirectTarget string
	ClientIP       string
	UserAgent      string
}

type AuthorizationStart struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

type CompleteAuthorizationRequest struct {
	Code  string
	State string
}

type AuthorizationCompletion struct {
	TenantID       string
	RedirectTarget string
	Accounts       []AccountSummary
}

type UsableCredential struct {
	AccountID    string
	CredentialID string
	Platform     Platform
	Secret       string
	TokenType    string
	ExpiresAt    *time.Time
}

type HealthSummary struct {
	TenantID           string
	TotalAccounts      int
	Active             int
	ExpiringSoon       int
	Expired            int
	Healthy            int
	AccountsByPlatform map[Platform]int
}

type HandshakePhase string

const (
	HandshakeInitiated        HandshakePhase = "initiated"
	HandshakeCallbackReceived HandshakePhase = "callback_received"
	HandshakeExchanged        HandshakePhase = "exchanged"
	HandshakeRejected         HandshakePhase = "rejected"
)

// Handshake tracks one in-flight authorization for observability.
type Handshake struct {
	State string
	Phase HandshakePhase
}

func (h *Handshake) TransitionTo(phase HandshakePhase) error {
	if h == nil {
		return nil
	}
	if !handshakeTransitionAllowed(h.Phase, phase) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidHandshakeTransition, h.Phase, phase)
	}
	h.Phase = phase
	return nil
}

func handshakeTransitionAllowed(current, next HandshakePhase) bool {
	allowed := map[HandshakePhase]map[HandshakePhase]struct{}{
		HandshakeInitiated: {
			HandshakeCallbackReceived: {},
		},
		HandshakeCallbackReceived: {
			HandshakeExchanged: {},
			HandshakeRejected:  {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

func validateTenantID(tenantID string) (string, error) {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return "", fmt.Errorf("%w: tenant id is required", ErrInvalidTenantID)
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return "", fmt.Errorf("%w: %q is not a uuid", ErrInvalidTenantID, tenantID)
	}
	return trimmed, nil
}

func cloneTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}
