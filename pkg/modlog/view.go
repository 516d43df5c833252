package modlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
)

// ErrForbidden is returned when a role may not read the log at all
var ErrForbidden = errors.New("insufficient role to view moderation log")

// ModVisibleActions are the only actions moderators may see
var ModVisibleActions = []auth.Action{
	auth.ActionUserBan,
	auth.ActionUserUnban,
	auth.ActionPostDelete,
	auth.ActionPostRestore,
}

// AdminView is a log entry as shown to feed admins
type AdminView struct {
	ID            int64           `json:"id"`
	URI           string          `json:"uri"`
	PerformedBy   string          `json:"performed_by"`
	Action        auth.Action     `json:"action"`
	TargetUserDID string          `json:"target_user_did,omitempty"`
	TargetPostURI string          `json:"target_post_uri,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Performer     *ProfileSummary `json:"performed_by_profile,omitempty"`
	TargetUser    *ProfileSummary `json:"target_user_profile,omitempty"`
}

// ModView is a log entry as shown to moderators. It has no performer
// fields so moderators cannot see which peer acted.
type ModView struct {
	ID            int64           `json:"id"`
	URI           string          `json:"uri"`
	Action        auth.Action     `json:"action"`
	TargetUserDID string          `json:"target_user_did,omitempty"`
	TargetPostURI string          `json:"target_post_uri,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	TargetUser    *ProfileSummary `json:"target_user_profile,omitempty"`
}

func toAdminView(e Entry) AdminView {
	return AdminView{
		ID:            e.ID,
		URI:           e.URI,
		PerformedBy:   e.PerformedBy,
		Action:        e.Action,
		TargetUserDID: e.TargetUserDID,
		TargetPostURI: e.TargetPostURI,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
		Performer:     e.Performer,
		TargetUser:    e.TargetUser,
	}
}

func toModView(e Entry) ModView {
	return ModView{
		ID:            e.ID,
		URI:           e.URI,
		Action:        e.Action,
		TargetUserDID: e.TargetUserDID,
		TargetPostURI: e.TargetPostURI,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
		TargetUser:    e.TargetUser,
	}
}

// Reader queries log entries
type Reader interface {
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Viewer applies role redaction on top of a Reader
type Viewer struct {
	reader Reader
}

// NewViewer creates a viewer
func NewViewer(reader Reader) *Viewer {
	return &Viewer{reader: reader}
}

// Admin returns every matching entry with all fields
func (v *Viewer) Admin(ctx context.Context, filter Filter) ([]AdminView, error) {
	entries, err := v.reader.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]AdminView, len(entries))
	for i, e := range entries {
		views[i] = toAdminView(e)
	}
	return views, nil
}

// Mod returns matching ban/unban/delete/restore entries without performer
// fields. A performer filter is ignored since it would reveal who acted.
func (v *Viewer) Mod(ctx context.Context, filter Filter) ([]ModView, error) {
	if filter.Action != "" && !modVisible(filter.Action) {
		return []ModView{}, nil
	}
	filter.PerformedBy = ""
	filter.Actions = ModVisibleActions

	entries, err := v.reader.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]ModView, 0, len(entries))
	for _, e := range entries {
		if !modVisible(e.Action) {
			continue
		}
		views = append(views, toModView(e))
	}
	return views, nil
}

// ForRole dispatches to Admin or Mod. Any other role gets ErrForbidden
// without a query being issued.
func (v *Viewer) ForRole(ctx context.Context, role auth.Role, filter Filter) (interface{}, error) {
	switch role {
	case auth.RoleAdmin:
		return v.Admin(ctx, filter)
	case auth.RoleMod:
		return v.Mod(ctx, filter)
	default:
		return nil, ErrForbidden
	}
}

func modVisible(a auth.Action) bool {
	for _, visible := range ModVisibleActions {
		if a == visible {
			return true
		}
	}
	return false
}
