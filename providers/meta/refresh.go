package meta

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
)

const tokenTypeUser = "USER"

type debugTokenData struct {
	AppID     string `json:"app_id"`
	Type      string `json:"type"`
	IsValid   bool   `json:"is_valid"`
	ExpiresAt int64  `json:"expires_at"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type accessTokenPayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresh verifies the credential with debug_token. User tokens that expire
// are extended; page tokens keep their secret and take the reported expiry.
func (p *Provider) Refresh(ctx context.Context, req core.ProviderRefreshRequest) (core.TokenSet, error) {
	secret := strings.TrimSpace(req.AccessSecret)
	if secret == "" {
		return core.TokenSet{}, fmt.Errorf("meta: access secret is required")
	}

	info, err := p.debugToken(ctx, secret)
	if err != nil {
		return core.TokenSet{}, err
	}
	if !info.IsValid {
		reason := "token is no longer valid"
		if info.Error != nil && strings.TrimSpace(info.Error.Message) != "" {
			reason = info.Error.Message
		}
		return core.TokenSet{}, fmt.Errorf("%w: %s", core.ErrProviderRevoked, reason)
	}

	if strings.EqualFold(info.Type, tokenTypeUser) && info.ExpiresAt > 0 {
		return p.extendUserToken(ctx, secret)
	}

	token := core.TokenSet{
		AccessSecret: secret,
		TokenType:    "bearer",
		Scopes:       core.ScopeStrings(p.cfg.Scopes),
	}
	if info.ExpiresAt > 0 {
		expiresAt := time.Unix(info.ExpiresAt, 0).UTC()
		token.ExpiresAt = &expiresAt
	}
	return token, nil
}

func (p *Provider) debugToken(ctx context.Context, inputToken string) (debugTokenData, error) {
	params := url.Values{}
	params.Set("input_token", inputToken)

	var payload struct {
		Data debugTokenData `json:"data"`
	}
	if err := p.get(ctx, "debug_token", p.appToken(), params, &payload); err != nil {
		return debugTokenData{}, fmt.Errorf("meta: debug token: %w", err)
	}
	return payload.Data, nil
}

// extendUserToken swaps a user token for a fresh long-lived one.
func (p *Provider) extendUserToken(ctx context.Context, userToken string) (core.TokenSet, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", p.cfg.AppID)
	params.Set("client_secret", p.cfg.AppSecret)
	params.Set("fb_exchange_token", userToken)

	var payload accessTokenPayload
	if err := p.get(ctx, "oauth/access_token", "", params, &payload); err != nil {
		return core.TokenSet{}, fmt.Errorf("meta: extend user token: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenSet{}, fmt.Errorf("meta: extend user token: response missing access token")
	}
	var expiry time.Time
	if payload.ExpiresIn > 0 {
		expiry = p.now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return p.tokenSet(payload.AccessToken, payload.TokenType, expiry), nil
}

func (p *Provider) appToken() string {
	return p.cfg.AppID + "|" + p.cfg.AppSecret
}
