package memorystore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/jellydator/ttlcache/v3"
)

// AuthorizationStateStore is an in-process state store for single-node
// deployments and tests.
type AuthorizationStateStore struct {
	cache *ttlcache.Cache[string, core.AuthorizationState]
	now   func() time.Time
}

type Option func(*AuthorizationStateStore)

func WithClock(now func() time.Time) Option {
	return func(s *AuthorizationStateStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAuthorizationStateStore(opts ...Option) *AuthorizationStateStore {
	store := &AuthorizationStateStore{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, core.AuthorizationState](core.DefaultStateTTL),
			ttlcache.WithDisableTouchOnHit[string, core.AuthorizationState](),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Start runs the background eviction loop until Stop is called.
func (s *AuthorizationStateStore) Start() {
	go s.cache.Start()
}

func (s *AuthorizationStateStore) Stop() {
	s.cache.Stop()
}

func (s *AuthorizationStateStore) Save(_ context.Context, state core.AuthorizationState) error {
	token := strings.TrimSpace(state.Token)
	if token == "" {
		return fmt.Errorf("memorystore: state token is required")
	}
	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("memorystore: state %q is already expired", token)
	}
	state.Token = token
	state.Consumed = false
	state.ConsumedAt = nil
	s.cache.Set(token, state, ttl)
	return nil
}

func (s *AuthorizationStateStore) Consume(_ context.Context, token string, now time.Time) (core.AuthorizationState, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return core.AuthorizationState{}, fmt.Errorf("%w: state token is missing", core.ErrInvalidState)
	}
	item, ok := s.cache.GetAndDelete(token)
	if !ok || item == nil {
		return core.AuthorizationState{}, fmt.Errorf("%w: state not found or already used", core.ErrInvalidState)
	}
	state := item.Value()
	if state.Expired(now) {
		return core.AuthorizationState{}, fmt.Errorf("%w: state expired", core.ErrInvalidState)
	}
	consumedAt := now.UTC()
	state.Consumed = true
	state.ConsumedAt = &consumedAt
	return state, nil
}

// DeleteExpired removes states expired at now plus any the cache already
// considers expired. Items() and Len() both hide the latter, so the count
// comes from the cache eviction metric.
func (s *AuthorizationStateStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	before := s.cache.Metrics().Evictions
	for token, item := range s.cache.Items() {
		if item.Value().Expired(now) {
			s.cache.Delete(token)
		}
	}
	s.cache.DeleteExpired()
	return int64(s.cache.Metrics().Evictions - before), nil
}

func (s *AuthorizationStateStore) Len() int {
	return s.cache.Len()
}

var _ core.AuthorizationStateStore = (*AuthorizationStateStore)(nil)
