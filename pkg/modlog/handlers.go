package modlog

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/middleware"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// RoleResolver returns a user's role on a feed
type RoleResolver interface {
	GetRole(ctx context.Context, did, uri string) auth.Role
}

// Handlers serves the moderation log API
type Handlers struct {
	viewer *Viewer
	roles  RoleResolver
}

// NewHandlers creates log handlers
func NewHandlers(reader Reader, roles RoleResolver) *Handlers {
	return &Handlers{viewer: NewViewer(reader), roles: roles}
}

// RegisterRoutes registers routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/logs", h.QueryLogs).Methods("GET")
}

// QueryLogs handles GET /api/logs
func (h *Handlers) QueryLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	q := r.URL.Query()
	uri := q.Get("uri")
	if !httputil.RequireNonEmpty(w, uri, "uri") {
		return
	}

	filter := Filter{
		URI:           uri,
		PerformedBy:   q.Get("performed_by"),
		TargetUserDID: q.Get("target_user_did"),
		TargetPostURI: q.Get("target_post_uri"),
	}

	if action := q.Get("action"); action != "" {
		filter.Action = auth.Action(action)
		if !filter.Action.Valid() {
			httputil.WriteBadRequest(w, "invalid action")
			return
		}
	}

	switch order := Order(q.Get("order")); order {
	case "", OrderDesc, OrderAsc:
		filter.Order = order
	default:
		httputil.WriteBadRequest(w, "order must be asc or desc")
		return
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultLimit); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.From, err = httputil.ParseQueryTime(r, "from"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.To, err = httputil.ParseQueryTime(r, "to"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.To != nil && len(q.Get("to")) == len("2006-01-02") {
		// A bare date covers the whole day
		end := filter.To.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		httputil.WriteBadRequest(w, "to must not be before from")
		return
	}

	role := h.roles.GetRole(ctx, authCtx.DID, uri)
	logs, err := h.viewer.ForRole(ctx, role, filter)
	if errors.Is(err, ErrForbidden) {
		httputil.WriteForbidden(w, "insufficient permissions to view moderation logs")
		return
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("uri", uri).Error("failed to query moderation logs")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"logs": logs,
		"role": role,
	})
}
