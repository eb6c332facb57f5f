// Package ratelimit tracks provider throttling signals and refuses calls
// while a provider asked us to back off.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-credentials/core"
	goerrors "github.com/goliatone/go-errors"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one throttling bucket, e.g. the app or a single page.
type Key struct {
	ProviderID string
	BucketKey  string
}

// ResponseMeta is what AfterCall needs from a provider response.
type ResponseMeta struct {
	StatusCode int
	Headers    http.Header
	// ErrorCode is the provider error code decoded from the body, if any.
	ErrorCode int
}

type State struct {
	Key            Key
	UsagePercent   int
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	ProviderID string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: provider %q bucket %q throttled for %s",
		strings.TrimSpace(e.ProviderID),
		strings.TrimSpace(e.BucketKey),
		e.RetryAfter,
	)
}

func (e ThrottledError) Unwrap() error {
	return core.ErrRateLimited
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": strings.TrimSpace(e.ProviderID),
		"bucket_key":  strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// Graph error codes that mean "slow down" rather than "this call is wrong".
var throttleErrorCodes = map[int]struct{}{
	4:   {}, // application request limit
	17:  {}, // user request limit
	32:  {}, // page request limit
	613: {}, // calls exceed the rate limit
}

func isThrottleCode(code int) bool {
	if _, ok := throttleErrorCodes[code]; ok {
		return true
	}
	// business use case limits
	return code >= 80001 && code <= 80014
}

type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// UsageCeiling is the usage percentage at which calls stop.
	UsageCeiling int
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Hour,
		UsageCeiling:   100,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	state, err := p.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{ProviderID: key.ProviderID, BucketKey: key.BucketKey, RetryAfter: until.Sub(now)}
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	usage := usageFromHeaders(res.Headers)
	regain := regainFromHeaders(res.Headers)
	state.LastStatus = res.StatusCode
	state.UsagePercent = usage
	state.UpdatedAt = now

	retryAfter, hasRetryAfter := parseRetryAfter(res.Headers, now)
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}

	throttled := res.StatusCode == http.StatusTooManyRequests ||
		isThrottleCode(res.ErrorCode) ||
		regain > 0 ||
		usage >= p.usageCeiling()
	if !throttled {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	var delay time.Duration
	switch {
	case hasRetryAfter:
		delay = retryAfter
	case regain > 0:
		delay = regain
	default:
		delay = p.nextBackoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) usageCeiling() int {
	if p != nil && p.UsageCeiling > 0 {
		return p.UsageCeiling
	}
	return 100
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Hour
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return delay
}

type appUsage struct {
	CallCount    int `json:"call_count"`
	TotalCPUTime int `json:"total_cputime"`
	TotalTime    int `json:"total_time"`
}

func (u appUsage) max() int {
	return max(u.CallCount, u.TotalCPUTime, u.TotalTime)
}

type businessUsage struct {
	appUsage
	Type                        string `json:"type"`
	EstimatedTimeToRegainAccess int    `json:"estimated_time_to_regain_access"`
}

// usageFromHeaders returns the highest usage percentage reported by any of
// the Graph usage headers.
func usageFromHeaders(headers http.Header) int {
	highest := 0
	for _, name := range []string{"X-App-Usage", "X-Page-Usage", "X-Ad-Account-Usage"} {
		raw := strings.TrimSpace(headers.Get(name))
		if raw == "" {
			continue
		}
		var usage appUsage
		if err := json.Unmarshal([]byte(raw), &usage); err == nil {
			highest = max(highest, usage.max())
		}
	}
	for _, usage := range businessUsages(headers) {
		highest = max(highest, usage.max())
	}
	return highest
}

// regainFromHeaders returns the longest wait announced in
// X-Business-Use-Case-Usage. The header reports minutes.
func regainFromHeaders(headers http.Header) time.Duration {
	longest := 0
	for _, usage := range businessUsages(headers) {
		longest = max(longest, usage.EstimatedTimeToRegainAccess)
	}
	return time.Duration(longest) * time.Minute
}

func businessUsages(headers http.Header) []businessUsage {
	raw := strings.TrimSpace(headers.Get("X-Business-Use-Case-Usage"))
	if raw == "" {
		return nil
	}
	var byObject map[string][]businessUsage
	if err := json.Unmarshal([]byte(raw), &byObject); err != nil {
		return nil
	}
	var out []businessUsage
	for _, usages := range byObject {
		out = append(out, usages...)
	}
	return out
}

func parseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func normalizeKey(key Key) Key {
	return Key{
		ProviderID: strings.TrimSpace(strings.ToLower(key.ProviderID)),
		BucketKey:  strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[Key]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[Key]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeKey(key)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key] = state
	return nil
}
