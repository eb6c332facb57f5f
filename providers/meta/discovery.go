package meta

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const pageFields = "id,name,access_token,category,instagram_business_account"

type graphPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Category    string `json:"category"`
	Instagram   *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account"`
}

type graphBusiness struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type instagramProfile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

// Discover lists every page the user manages, personally or through a
// business portfolio, and the Instagram business accounts linked to them.
// Each account carries the page-scoped token, never the user token.
func (p *Provider) Discover(ctx context.Context, userToken core.TokenSet) ([]core.DiscoveredAccount, error) {
	secret := strings.TrimSpace(userToken.AccessSecret)
	if secret == "" {
		return nil, fmt.Errorf("meta: user access token is required")
	}

	personal, err := listAll[graphPage](ctx, p, "me/accounts", secret, fieldParams(pageFields))
	if err != nil {
		return nil, fmt.Errorf("meta: list pages: %w", err)
	}
	pages := mergePages(personal, p.businessPages(ctx, secret))

	out := make([]core.DiscoveredAccount, 0, len(pages))
	for _, page := range pages {
		if strings.TrimSpace(page.AccessToken) == "" {
			p.logger.Warn("meta: page has no page token, skipping", "page_id", page.ID)
			continue
		}
		pageToken := core.TokenSet{
			AccessSecret: page.AccessToken,
			TokenType:    "bearer",
			Scopes:       core.ScopeStrings(p.cfg.Scopes),
		}
		out = append(out, core.DiscoveredAccount{
			Platform:          core.PlatformFacebook,
			ProviderAccountID: page.ID,
			DisplayName:       page.Name,
			Kind:              core.AccountKindPage,
			Token:             pageToken,
		})

		if page.Instagram == nil || strings.TrimSpace(page.Instagram.ID) == "" {
			continue
		}
		profile, err := p.instagramProfile(ctx, page.Instagram.ID, page.AccessToken)
		if err != nil {
			p.logger.Warn("meta: instagram profile lookup failed", "page_id", page.ID, "instagram_id", page.Instagram.ID, "error", err)
			profile = instagramProfile{ID: page.Instagram.ID}
		}
		displayName := profile.Name
		if displayName == "" {
			displayName = profile.Username
		}
		out = append(out, core.DiscoveredAccount{
			Platform:                core.PlatformInstagram,
			ProviderAccountID:       page.Instagram.ID,
			DisplayName:             displayName,
			Username:                profile.Username,
			Kind:                    core.AccountKindInstagramBusiness,
			ParentProviderAccountID: page.ID,
			Token:                   pageToken,
		})
	}
	return out, nil
}

// businessPages never fails discovery; portfolios the user cannot read are
// logged and skipped.
func (p *Provider) businessPages(ctx context.Context, userToken string) []graphPage {
	businesses, err := listAll[graphBusiness](ctx, p, "me/businesses", userToken, fieldParams("id,name"))
	if err != nil {
		p.logger.Warn("meta: list businesses failed", "error", err)
		return nil
	}
	var pages []graphPage
	for _, business := range businesses {
		if strings.TrimSpace(business.ID) == "" {
			continue
		}
		found, err := listAll[graphPage](ctx, p, business.ID+"/client_pages", userToken, fieldParams(pageFields))
		if err != nil || len(found) == 0 {
			if err != nil {
				p.logger.Debug("meta: client_pages unavailable, trying owned_pages", "business_id", business.ID, "error", err)
			}
			found, err = listAll[graphPage](ctx, p, business.ID+"/owned_pages", userToken, fieldParams(pageFields))
			if err != nil {
				p.logger.Warn("meta: list business pages failed", "business_id", business.ID, "business", business.Name, "error", err)
				continue
			}
		}
		pages = append(pages, found...)
	}
	return pages
}

func (p *Provider) instagramProfile(ctx context.Context, instagramID string, pageToken string) (instagramProfile, error) {
	var profile instagramProfile
	if err := p.get(ctx, instagramID, pageToken, fieldParams("username,name,profile_picture_url"), &profile); err != nil {
		return instagramProfile{}, err
	}
	if profile.ID == "" {
		profile.ID = instagramID
	}
	return profile, nil
}

// mergePages dedupes by page id; the first occurrence wins so personal pages
// take precedence over business ones.
func mergePages(groups ...[]graphPage) []graphPage {
	seen := map[string]struct{}{}
	out := make([]graphPage, 0)
	for _, group := range groups {
		for _, page := range group {
			id := strings.TrimSpace(page.ID)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, page)
		}
	}
	return out
}
