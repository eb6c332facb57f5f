package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tenantRecord struct {
	bun.BaseModel `bun:"table:tenants,alias:t"`

	ID        string    `bun:"id,pk"`
	Slug      string    `bun:"slug,notnull"`
	Name      string    `bun:"name,notnull"`
	Status    string    `bun:"status,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type accountRecord struct {
	bun.BaseModel `bun:"table:connected_accounts,alias:ca"`

	ID                string     `bun:"id,pk"`
	TenantID          string     `bun:"tenant_id,notnull"`
	Platform          string     `bun:"platform,notnull"`
	ProviderAccountID string     `bun:"provider_account_id,notnull"`
	DisplayName       string     `bun:"display_name,notnull"`
	Username          string     `bun:"username,notnull"`
	Kind              string     `bun:"kind,notnull"`
	ParentAccountID   *string    `bun:"parent_account_id"`
	Active            bool       `bun:"active,notnull"`
	LastSyncedAt      *time.Time `bun:"last_synced_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:cr"`

	ID              string     `bun:"id,pk"`
	TenantID        string     `bun:"tenant_id,notnull"`
	AccountID       string     `bun:"account_id,notnull"`
	Kind            string     `bun:"kind,notnull"`
	Ciphertext      []byte     `bun:"ciphertext,notnull"`
	Nonce           []byte     `bun:"nonce,notnull"`
	TokenType       string     `bun:"token_type,notnull"`
	Scopes          []string   `bun:"scopes,type:jsonb,notnull"`
	IssuedAt        time.Time  `bun:"issued_at,notnull"`
	ExpiresAt       *time.Time `bun:"expires_at,nullzero"`
	LastRefreshedAt *time.Time `bun:"last_refreshed_at,nullzero"`
	LastUsedAt      *time.Time `bun:"last_used_at,nullzero"`
	Revoked         bool       `bun:"revoked,notnull"`
	RevokedAt       *time.Time `bun:"revoked_at,nullzero"`
	RevokedReason   string     `bun:"revoked_reason,notnull"`
	Version         int        `bun:"version,notnull"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type refreshEventRecord struct {
	bun.BaseModel `bun:"table:credential_refresh_events,alias:cre"`

	ID            string     `bun:"id,pk"`
	TenantID      string     `bun:"tenant_id,notnull"`
	CredentialID  string     `bun:"credential_id,notnull"`
	OldExpiresAt  *time.Time `bun:"old_expires_at,nullzero"`
	NewExpiresAt  *time.Time `bun:"new_expires_at,nullzero"`
	Outcome       string     `bun:"outcome,notnull"`
	ErrorDetail   string     `bun:"error_detail,notnull"`
	TriggerSource string     `bun:"trigger_source,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type authorizationStateRecord struct {
	bun.BaseModel `bun:"table:authorization_states,alias:aus"`

	Token          string     `bun:"token,pk"`
	TenantID       string     `bun:"tenant_id,notnull"`
	RedirectTarget string     `bun:"redirect_target,notnull"`
	ClientIP       string     `bun:"client_ip,notnull"`
	UserAgent      string     `bun:"user_agent,notnull"`
	Consumed       bool       `bun:"consumed,notnull"`
	ConsumedAt     *time.Time `bun:"consumed_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull"`
}
