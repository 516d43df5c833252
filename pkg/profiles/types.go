package profiles

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
)

// ErrProfileNotFound is returned when no profile row exists for a DID
var ErrProfileNotFound = errors.New("profile not found")

// Profile is a user as last seen at login. Associated and Labels are
// stored as received from the AppView.
type Profile struct {
	DID         string          `json:"did"`
	Handle      string          `json:"handle"`
	DisplayName string          `json:"displayName,omitempty"`
	Avatar      string          `json:"avatar,omitempty"`
	Associated  json.RawMessage `json:"associated,omitempty"`
	Labels      json.RawMessage `json:"labels,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// EnrichedProfile is a profile with the user's role on every feed they
// have a permission row for
type EnrichedProfile struct {
	Profile
	RolesByFeed map[string]auth.Role `json:"rolesByFeed"`
}

// UserFeed is a feed the user can moderate
type UserFeed struct {
	URI             string    `json:"uri"`
	DisplayName     string    `json:"displayName"`
	Description     string    `json:"description,omitempty"`
	Avatar          string    `json:"avatar,omitempty"`
	Role            auth.Role `json:"role"`
	AllowedServices []string  `json:"allowedServices"`
}

// FeedList is the reply of the user feeds endpoint
type FeedList struct {
	Feeds       []UserFeed `json:"feeds"`
	DefaultFeed *UserFeed  `json:"defaultFeed"`
}
