package meta

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/ratelimit"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/time/rate"
)

const ProviderID = "meta"

const (
	DefaultAuthBaseURL  = "https://www.facebook.com"
	DefaultGraphBaseURL = "https://graph.facebook.com"

	defaultUserTokenTTL = 60 * 24 * time.Hour
	defaultHTTPTimeout  = core.DefaultHTTPTimeout
	defaultRate         = 5
)

type Config struct {
	AppID        string
	AppSecret    string
	RedirectURI  string
	GraphVersion string
	Scopes       []core.Scope

	// AuthBaseURL and GraphBaseURL are overridable for tests.
	AuthBaseURL  string
	GraphBaseURL string

	HTTPTimeout       time.Duration
	RequestsPerSecond float64
}

// ConfigFromCore maps the service configuration onto provider settings.
func ConfigFromCore(cfg core.Config) Config {
	return Config{
		AppID:             cfg.Provider.AppID,
		AppSecret:         cfg.Provider.AppSecret,
		RedirectURI:       cfg.Provider.RedirectURI,
		GraphVersion:      cfg.Provider.GraphVersion,
		Scopes:            cfg.RequestedScopes(),
		HTTPTimeout:       cfg.HTTPTimeout,
		RequestsPerSecond: cfg.Scheduler.RequestsPerSecond,
	}
}

type Option func(*Provider)

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLimiter(limiter *rate.Limiter) Option {
	return func(p *Provider) {
		if limiter != nil {
			p.limiter = limiter
		}
	}
}

// WithThrottlePolicy replaces the in-memory throttle tracking, e.g. to share
// backoff windows between processes.
func WithThrottlePolicy(policy *ratelimit.AdaptivePolicy) Option {
	return func(p *Provider) {
		if policy != nil {
			p.throttle = policy
		}
	}
}

// Provider talks to the Meta Graph API for Facebook pages and the Instagram
// business accounts linked to them.
type Provider struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	throttle   *ratelimit.AdaptivePolicy
	logger     core.Logger
	now        func() time.Time
}

func New(cfg Config, opts ...Option) (*Provider, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AppSecret = strings.TrimSpace(cfg.AppSecret)
	if cfg.AppID == "" {
		return nil, fmt.Errorf("meta: app id is required")
	}
	if cfg.AppSecret == "" {
		return nil, fmt.Errorf("meta: app secret is required")
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, fmt.Errorf("meta: redirect uri is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = core.DefaultScopes()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRate
	}
	cfg.AuthBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AuthBaseURL), "/")
	cfg.GraphBaseURL = strings.TrimRight(strings.TrimSpace(cfg.GraphBaseURL), "/")
	cfg.GraphVersion = strings.Trim(strings.TrimSpace(cfg.GraphVersion), "/")

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	p := &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		throttle:   ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = glog.Ensure(p.logger)
	p.oauth = &oauth2.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppSecret,
		RedirectURL:  strings.TrimSpace(cfg.RedirectURI),
		Scopes:       core.ScopeStrings(cfg.Scopes),
		Endpoint:     p.endpoint(),
	}
	return p, nil
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) AuthorizationURL(state string, scopes []core.Scope) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", fmt.Errorf("meta: state is required")
	}
	if len(scopes) == 0 {
		scopes = p.cfg.Scopes
	}
	return p.oauth.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("scope", strings.Join(core.ScopeStrings(scopes), ",")),
		oauth2.SetAuthURLParam("response_type", "code"),
	), nil
}

// Exchange trades an authorization code for a user token.
func (p *Provider) Exchange(ctx context.Context, code string) (core.TokenSet, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenSet{}, fmt.Errorf("meta: authorization code is required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return core.TokenSet{}, err
	}
	token, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return core.TokenSet{}, fmt.Errorf("meta: exchange code: %w", err)
	}
	return p.tokenSet(token.AccessToken, token.TokenType, token.Expiry), nil
}

func (p *Provider) tokenSet(accessToken, tokenType string, expiry time.Time) core.TokenSet {
	expiresAt := p.now().UTC().Add(defaultUserTokenTTL)
	if !expiry.IsZero() {
		expiresAt = expiry.UTC()
	}
	tokenType = strings.ToLower(strings.TrimSpace(tokenType))
	if tokenType == "" {
		tokenType = "bearer"
	}
	return core.TokenSet{
		AccessSecret: accessToken,
		TokenType:    tokenType,
		Scopes:       core.ScopeStrings(p.cfg.Scopes),
		ExpiresAt:    &expiresAt,
	}
}

func (p *Provider) endpoint() oauth2.Endpoint {
	if p.cfg.GraphVersion == "" && p.cfg.AuthBaseURL == "" && p.cfg.GraphBaseURL == "" {
		endpoint := facebook.Endpoint
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		return endpoint
	}
	return oauth2.Endpoint{
		AuthURL:   p.authBaseURL() + p.versionPrefix() + "/dialog/oauth",
		TokenURL:  p.graphBaseURL() + p.versionPrefix() + "/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) authBaseURL() string {
	if p.cfg.AuthBaseURL != "" {
		return p.cfg.AuthBaseURL
	}
	return DefaultAuthBaseURL
}

func (p *Provider) graphBaseURL() string {
	if p.cfg.GraphBaseURL != "" {
		return p.cfg.GraphBaseURL
	}
	return DefaultGraphBaseURL
}

func (p *Provider) versionPrefix() string {
	if p.cfg.GraphVersion == "" {
		return ""
	}
	return "/" + p.cfg.GraphVersion
}

var _ core.Provider = (*Provider)(nil)
