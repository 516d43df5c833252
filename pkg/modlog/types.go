package modlog

import (
	"encoding/json"
	"time"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Entry is one row of the moderation log
type Entry struct {
	ID            int64           `json:"id"`
	URI           string          `json:"uri"`
	PerformedBy   string          `json:"performed_by"`
	Action        auth.Action     `json:"action"`
	TargetUserDID string          `json:"target_user_did,omitempty"`
	TargetPostURI string          `json:"target_post_uri,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`

	Performer  *ProfileSummary `json:"performed_by_profile,omitempty"`
	TargetUser *ProfileSummary `json:"target_user_profile,omitempty"`
}

// ProfileSummary is the slice of a profile joined into log entries
type ProfileSummary struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Order is the created_at sort direction
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// Filter selects log entries. Zero values mean "no constraint"; From and To
// bound created_at inclusively.
type Filter struct {
	URI           string
	Action        auth.Action
	PerformedBy   string
	TargetUserDID string
	TargetPostURI string
	From          *time.Time
	To            *time.Time
	Order         Order
	Limit         int

	// Actions restricts results to a set of actions. Used for role
	// redaction; Action narrows further.
	Actions []auth.Action
}

func (f Filter) normalized() Filter {
	if f.Order != OrderAsc {
		f.Order = OrderDesc
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// NewMetadata marshals v for Entry.Metadata. A nil v or a marshal failure
// yields no metadata.
func NewMetadata(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
