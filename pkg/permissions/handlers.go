package permissions

import (
	"fmt"
	"net/http"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/gorilla/mux"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/middleware"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// RoleChangeRequest is the body of promote and demote
type RoleChangeRequest struct {
	TargetUserDID string `json:"targetUserDid"`
	URI           string `json:"uri"`
	FeedName      string `json:"feedName"`
}

// Handlers serves the permissions API
type Handlers struct {
	engine *Engine
}

// NewHandlers creates permissions handlers
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions/promote", h.Promote).Methods("POST")
	router.HandleFunc("/permissions/demote", h.Demote).Methods("POST")
	router.HandleFunc("/permissions/moderators", h.ListModerators).Methods("GET")
}

// Promote handles POST /api/permissions/promote
func (h *Handlers) Promote(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, auth.RoleMod, auth.ActionModPromote)
}

// Demote handles POST /api/permissions/demote
func (h *Handlers) Demote(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, auth.RoleUser, auth.ActionModDemote)
}

func (h *Handlers) changeRole(w http.ResponseWriter, r *http.Request, role auth.Role, action auth.Action) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req RoleChangeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TargetUserDID, "targetUserDid") ||
		!httputil.RequireNonEmpty(w, req.URI, "uri") {
		return
	}
	if _, err := syntax.ParseDID(req.TargetUserDID); err != nil {
		httputil.WriteBadRequest(w, "targetUserDid must be a valid DID")
		return
	}
	if _, err := syntax.ParseATURI(req.URI); err != nil {
		httputil.WriteBadRequest(w, "uri must be a valid AT-URI")
		return
	}

	if !h.engine.CanPerformAction(ctx, authCtx.DID, action, req.URI) {
		httputil.WriteForbidden(w, "only the feed admin can change moderators")
		return
	}

	// Feed admins are set by ownership sync, never through this endpoint
	current := h.engine.GetRole(ctx, req.TargetUserDID, req.URI)
	if current == auth.RoleAdmin {
		httputil.WriteForbidden(w, "cannot change the role of a feed admin")
		return
	}
	if current == role {
		httputil.WriteErrorMessage(w, http.StatusConflict, fmt.Sprintf("user already has role %s on this feed", role))
		return
	}

	if !h.engine.SetFeedRole(ctx, req.TargetUserDID, req.URI, role, authCtx.DID, req.FeedName) {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"success": true,
		"did":     req.TargetUserDID,
		"uri":     req.URI,
		"role":    role,
	})
}

// ListModerators handles GET /api/permissions/moderators?uri=
func (h *Handlers) ListModerators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	uri := r.URL.Query().Get("uri")
	if !httputil.RequireNonEmpty(w, uri, "uri") {
		return
	}
	if h.engine.GetRole(ctx, authCtx.DID, uri) != auth.RoleAdmin {
		httputil.WriteForbidden(w, "only the feed admin can list moderators")
		return
	}

	mods, err := h.engine.ListModerators(ctx, uri)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("uri", uri).Error("failed to list moderators")
		httputil.WriteInternalError(w)
		return
	}
	if mods == nil {
		mods = []Moderator{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"moderators": mods})
}
