package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "go-credentials:authorization_state"

// Client is the subset of the go-redis client the state store needs.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

type Option func(*AuthorizationStateStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *AuthorizationStateStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthorizationStateStore) {
		if now != nil {
			s.now = now
		}
	}
}

// AuthorizationStateStore keeps pending authorization states in Redis. Keys
// expire with the state, and GETDEL makes consumption single use.
type AuthorizationStateStore struct {
	client Client
	prefix string
	now    func() time.Time
}

type stateEntry struct {
	Token          string    `json:"token"`
	TenantID       string    `json:"tenant_id"`
	RedirectTarget string    `json:"redirect_target,omitempty"`
	ClientIP       string    `json:"client_ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func NewAuthorizationStateStore(client Client, opts ...Option) (*AuthorizationStateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	store := &AuthorizationStateStore{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *AuthorizationStateStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *AuthorizationStateStore) Save(ctx context.Context, state core.AuthorizationState) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: store is not configured")
	}
	token := strings.TrimSpace(state.Token)
	if token == "" {
		return fmt.Errorf("redisstore: state token is required")
	}
	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("redisstore: state %q is already expired", token)
	}
	payload, err := json.Marshal(stateEntry{
		Token:          token,
		TenantID:       state.TenantID,
		RedirectTarget: state.RedirectTarget,
		ClientIP:       state.ClientIP,
		UserAgent:      state.UserAgent,
		CreatedAt:      state.CreatedAt.UTC(),
		ExpiresAt:      state.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("redisstore: encode state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: save state: %w", err)
	}
	return nil
}

func (s *AuthorizationStateStore) Consume(ctx context.Context, token string, now time.Time) (core.AuthorizationState, error) {
	if s == nil || s.client == nil {
		return core.AuthorizationState{}, fmt.Errorf("redisstore: store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.AuthorizationState{}, fmt.Errorf("%w: state token is missing", core.ErrInvalidState)
	}
	raw, err := s.client.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.AuthorizationState{}, fmt.Errorf("%w: state not found or already used", core.ErrInvalidState)
		}
		return core.AuthorizationState{}, fmt.Errorf("redisstore: consume state: %w", err)
	}
	var entry stateEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return core.AuthorizationState{}, fmt.Errorf("redisstore: decode state: %w", err)
	}
	state := core.AuthorizationState{
		Token:          entry.Token,
		TenantID:       entry.TenantID,
		RedirectTarget: entry.RedirectTarget,
		ClientIP:       entry.ClientIP,
		UserAgent:      entry.UserAgent,
		CreatedAt:      entry.CreatedAt,
		ExpiresAt:      entry.ExpiresAt,
	}
	if state.Expired(now) {
		return core.AuthorizationState{}, fmt.Errorf("%w: state expired", core.ErrInvalidState)
	}
	consumedAt := now.UTC()
	state.Consumed = true
	state.ConsumedAt = &consumedAt
	return state, nil
}

// DeleteExpired is a no-op; Redis expires keys on its own.
func (s *AuthorizationStateStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ core.AuthorizationStateStore = (*AuthorizationStateStore)(nil)
