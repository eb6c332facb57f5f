package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultStateTTL          = 10 * time.Minute
	DefaultExpiringLookahead = 7 * 24 * time.Hour
	DefaultLivenessInterval  = 30 * 24 * time.Hour
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultRefreshInterval   = 24 * time.Hour
	DefaultCleanupInterval   = time.Hour
	DefaultGraphVersion      = "v18.0"
)

type ProviderConfig struct {
	AppID        string   `koanf:"app_id" mapstructure:"app_id"`
	AppSecret    string   `koanf:"app_secret" mapstructure:"app_secret"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	GraphVersion string   `koanf:"graph_version" mapstructure:"graph_version"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
}

type CipherConfig struct {
	Key   string `koanf:"key" mapstructure:"key"`
	KeyID string `koanf:"key_id" mapstructure:"key_id"`
}

type SchedulerConfig struct {
	RefreshInterval   time.Duration `koanf:"refresh_interval" mapstructure:"refresh_interval"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval" mapstructure:"cleanup_interval"`
	SweepConcurrency  int           `koanf:"sweep_concurrency" mapstructure:"sweep_concurrency"`
	RefreshTimeout    time.Duration `koanf:"refresh_timeout" mapstructure:"refresh_timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second" mapstructure:"requests_per_second"`
}

type Config struct {
	ServiceName       string          `koanf:"service_name" mapstructure:"service_name"`
	Provider          ProviderConfig  `koanf:"provider" mapstructure:"provider"`
	Cipher            CipherConfig    `koanf:"cipher" mapstructure:"cipher"`
	StateTTL          time.Duration   `koanf:"state_ttl" mapstructure:"state_ttl"`
	ExpiringLookahead time.Duration   `koanf:"expiring_lookahead" mapstructure:"expiring_lookahead"`
	LivenessInterval  time.Duration   `koanf:"liveness_interval" mapstructure:"liveness_interval"`
	HTTPTimeout       time.Duration   `koanf:"http_timeout" mapstructure:"http_timeout"`
	Scheduler         SchedulerConfig `koanf:"scheduler" mapstructure:"scheduler"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "credentials",
		Provider: ProviderConfig{
			GraphVersion: DefaultGraphVersion,
			Scopes:       ScopeStrings(DefaultScopes()),
		},
		StateTTL:          DefaultStateTTL,
		ExpiringLookahead: DefaultExpiringLookahead,
		LivenessInterval:  DefaultLivenessInterval,
		HTTPTimeout:       DefaultHTTPTimeout,
		Scheduler: SchedulerConfig{
			RefreshInterval:   DefaultRefreshInterval,
			CleanupInterval:   DefaultCleanupInterval,
			SweepConcurrency:  4,
			RefreshTimeout:    30 * time.Second,
			RequestsPerSecond: 5,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if _, err := ParseScopes(c.Provider.Scopes); err != nil {
		return err
	}
	if redirect := strings.TrimSpace(c.Provider.RedirectURI); redirect != "" {
		parsed, err := url.Parse(redirect)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: provider.redirect_uri %q is invalid", redirect)
		}
	}
	if c.StateTTL < 0 || c.ExpiringLookahead < 0 || c.LivenessInterval < 0 || c.HTTPTimeout < 0 {
		return fmt.Errorf("core: durations must not be negative")
	}
	if c.Scheduler.SweepConcurrency < 0 {
		return fmt.Errorf("core: scheduler.sweep_concurrency must not be negative")
	}
	if c.Scheduler.RequestsPerSecond < 0 {
		return fmt.Errorf("core: scheduler.requests_per_second must not be negative")
	}
	return nil
}

// RequestedScopes returns the validated scope set.
func (c Config) RequestedScopes() []Scope {
	scopes, err := ParseScopes(c.Provider.Scopes)
	if err != nil || len(scopes) == 0 {
		return DefaultScopes()
	}
	return scopes
}
