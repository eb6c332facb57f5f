package core

import (
	"fmt"
	"slices"
	"strings"
)

// Scope is a provider permission this module knows how to request.
type Scope string

const (
	ScopePagesShowList           Scope = "pages_show_list"
	ScopePagesReadEngagement     Scope = "pages_read_engagement"
	ScopePagesManagePosts        Scope = "pages_manage_posts"
	ScopePagesManageMetadata     Scope = "pages_manage_metadata"
	ScopePagesReadUserContent    Scope = "pages_read_user_content"
	ScopeBusinessManagement      Scope = "business_management"
	ScopeInstagramBasic          Scope = "instagram_basic"
	ScopeInstagramContentPublish Scope = "instagram_content_publish"
	ScopeInstagramManageComments Scope = "instagram_manage_comments"
	ScopeInstagramManageInsights Scope = "instagram_manage_insights"
	ScopePublicProfile           Scope = "public_profile"
)

var supportedScopes = []Scope{
	ScopePagesShowList,
	ScopePagesReadEngagement,
	ScopePagesManagePosts,
	ScopePagesManageMetadata,
	ScopePagesReadUserContent,
	ScopeBusinessManagement,
	ScopeInstagramBasic,
	ScopeInstagramContentPublish,
	ScopeInstagramManageComments,
	ScopeInstagramManageInsights,
	ScopePublicProfile,
}

// DefaultScopes is the set requested when configuration names none.
func DefaultScopes() []Scope {
	return []Scope{
		ScopePagesShowList,
		ScopePagesReadEngagement,
		ScopePagesManagePosts,
		ScopeBusinessManagement,
		ScopeInstagramBasic,
		ScopeInstagramContentPublish,
	}
}

func SupportedScopes() []Scope {
	return append([]Scope(nil), supportedScopes...)
}

// ParseScopes normalizes and validates scope names. Duplicates are dropped and
// the input order is kept.
func ParseScopes(values []string) ([]Scope, error) {
	out := make([]Scope, 0, len(values))
	for _, value := range values {
		normalized := Scope(strings.TrimSpace(strings.ToLower(value)))
		if normalized == "" {
			continue
		}
		if !slices.Contains(supportedScopes, normalized) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScope, value)
		}
		if slices.Contains(out, normalized) {
			continue
		}
		out = append(out, normalized)
	}
	return out, nil
}

func ScopeStrings(scopes []Scope) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		out = append(out, string(scope))
	}
	return out
}
