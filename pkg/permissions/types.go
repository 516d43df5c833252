package permissions

import (
	"time"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
)

// FeedPermission is a user's role on one feed
type FeedPermission struct {
	DID             string    `json:"did"`
	URI             string    `json:"uri"`
	FeedName        string    `json:"feed_name"`
	Role            auth.Role `json:"role"`
	AllowedServices []string  `json:"allowed_services"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// OwnedFeed is a feed generator the identity provider reports as published
// by a user
type OwnedFeed struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// Moderator is a feed moderator joined with their profile summary
type Moderator struct {
	DID         string    `json:"did"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	URI         string    `json:"uri"`
	FeedName    string    `json:"feed_name"`
	Role        auth.Role `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

var authority = map[auth.Action][]auth.Role{
	auth.ActionModPromote:  {auth.RoleAdmin},
	auth.ActionModDemote:   {auth.RoleAdmin},
	auth.ActionUserBan:     {auth.RoleAdmin},
	auth.ActionUserUnban:   {auth.RoleAdmin},
	auth.ActionPostDelete:  {auth.RoleMod, auth.RoleAdmin},
	auth.ActionPostRestore: {auth.RoleMod, auth.RoleAdmin},
}

// CanPerform reports whether role may take action. Unknown actions are
// allowed to nobody.
func CanPerform(role auth.Role, action auth.Action) bool {
	for _, allowed := range authority[action] {
		if role == allowed {
			return true
		}
	}
	return false
}
