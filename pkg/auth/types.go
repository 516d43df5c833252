package auth

// Role is a user's standing on a single feed
type Role string

const (
	RoleUser  Role = "user"  // No moderation rights
	RoleMod   Role = "mod"   // Can delete and restore posts
	RoleAdmin Role = "admin" // Feed owner, manages moderators and bans
)

// Priority orders roles: admin 3, mod 2, user 1. Unknown roles are 0.
func (r Role) Priority() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleMod:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r.Priority() > 0
}

// AtLeast reports whether r ranks at or above other
func (r Role) AtLeast(other Role) bool {
	return r.Priority() >= other.Priority()
}

// Action is a moderation action recorded in the moderation log
type Action string

const (
	ActionPostDelete  Action = "post_delete"
	ActionPostRestore Action = "post_restore"
	ActionUserBan     Action = "user_ban"
	ActionUserUnban   Action = "user_unban"
	ActionModPromote  Action = "mod_promote"
	ActionModDemote   Action = "mod_demote"
)

// Actions lists every known action
var Actions = []Action{
	ActionPostDelete,
	ActionPostRestore,
	ActionUserBan,
	ActionUserUnban,
	ActionModPromote,
	ActionModDemote,
}

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// AuthContext holds the authenticated caller for a request
type AuthContext struct {
	DID         string          `json:"did"`
	Handle      string          `json:"handle"`
	RolesByFeed map[string]Role `json:"rolesByFeed"`
}

// RoleOn returns the caller's role on a feed, RoleUser when none is recorded
func (ac *AuthContext) RoleOn(uri string) Role {
	if ac == nil {
		return RoleUser
	}
	if role, ok := ac.RolesByFeed[uri]; ok && role.Valid() {
		return role
	}
	return RoleUser
}
