package profiles

import (
	"errors"
	"net/http"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/gorilla/mux"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/middleware"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// Handlers serves profile and feed list endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates profile handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers routes that need a session
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/profile", h.GetProfile).Methods("GET")
}

// RegisterPublicRoutes registers routes that need no session
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/feeds/user-feeds", h.GetUserFeeds).Methods("GET")
}

// GetProfile handles GET /api/profile
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	profile, err := h.service.Enriched(ctx, authCtx.DID)
	if errors.Is(err, ErrProfileNotFound) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to load profile")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"profile": profile})
}

// GetUserFeeds handles GET /feeds/user-feeds?userDid=
func (h *Handlers) GetUserFeeds(w http.ResponseWriter, r *http.Request) {
	did := r.URL.Query().Get("userDid")
	if !httputil.RequireNonEmpty(w, did, "userDid") {
		return
	}
	if _, err := syntax.ParseDID(did); err != nil {
		httputil.WriteBadRequest(w, "userDid must be a valid DID")
		return
	}

	httputil.WriteSuccess(w, h.service.UserFeeds(r.Context(), did))
}
