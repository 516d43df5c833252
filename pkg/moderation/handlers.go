package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/gorilla/mux"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/middleware"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// MaxReportsPerRequest caps the size of a report batch
const MaxReportsPerRequest = 50

// ReportOptionLister reads the report reason catalogue. *Store implements it.
type ReportOptionLister interface {
	ListReportOptions(ctx context.Context) ([]ReportOption, error)
}

// Handlers serves the moderation API
type Handlers struct {
	dispatcher *Dispatcher
	registry   *Registry
	options    ReportOptionLister
}

// NewHandlers creates moderation handlers
func NewHandlers(dispatcher *Dispatcher, registry *Registry, options ReportOptionLister) *Handlers {
	return &Handlers{dispatcher: dispatcher, registry: registry, options: options}
}

// RegisterRoutes registers routes on an authenticated router. The report
// route is returned separately so callers can rate limit it.
func (h *Handlers) RegisterRoutes(router *mux.Router) *mux.Route {
	router.HandleFunc("/moderation/services", h.ListServices).Methods("GET")
	router.HandleFunc("/moderation/report-options", h.ListReportOptions).Methods("GET")
	return router.Handle("/moderation/report", http.HandlerFunc(h.SubmitReports)).Methods("POST")
}

// SubmitReports handles POST /api/moderation/report. The body is a single
// report or an array of them; the reply is always an array of summaries.
func (h *Handlers) SubmitReports(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	reports, err := decodeReports(body)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	for i, report := range reports {
		if err := validateReport(report); err != nil {
			httputil.WriteBadRequest(w, fmt.Sprintf("report %d: %s", i, err))
			return
		}
	}

	summaries := h.dispatcher.SubmitReports(r.Context(), authCtx.DID, reports)
	httputil.WriteSuccess(w, summaries)
}

func decodeReports(body []byte) ([]Report, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is required")
	}

	var reports []Report
	if body[0] == '[' {
		if err := json.Unmarshal(body, &reports); err != nil {
			return nil, fmt.Errorf("invalid JSON in request body")
		}
	} else {
		var report Report
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("invalid JSON in request body")
		}
		reports = []Report{report}
	}

	if len(reports) == 0 {
		return nil, fmt.Errorf("at least one report is required")
	}
	if len(reports) > MaxReportsPerRequest {
		return nil, fmt.Errorf("at most %d reports per request", MaxReportsPerRequest)
	}
	return reports, nil
}

func validateReport(report Report) error {
	if report.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if _, err := syntax.ParseATURI(report.URI); err != nil {
		return fmt.Errorf("uri must be a valid AT-URI")
	}
	if report.TargetedPostURI == "" && report.TargetedUserDID == "" {
		return fmt.Errorf("targetedPostUri or targetedUserDid is required")
	}
	if report.TargetedPostURI != "" {
		if _, err := syntax.ParseATURI(report.TargetedPostURI); err != nil {
			return fmt.Errorf("targetedPostUri must be a valid AT-URI")
		}
	}
	if report.TargetedUserDID != "" {
		if _, err := syntax.ParseDID(report.TargetedUserDID); err != nil {
			return fmt.Errorf("targetedUserDid must be a valid DID")
		}
	}
	if report.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

// ListServices handles GET /api/moderation/services?uri=
func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uri := r.URL.Query().Get("uri")
	if uri != "" {
		if _, err := bsky.FeedOwner(uri); err != nil {
			httputil.WriteBadRequest(w, "uri must be an AT-URI with a DID authority")
			return
		}
	}

	services, err := h.registry.EligibleForFeed(ctx, uri)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("uri", uri).Error("failed to list moderation services")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"services": services})
}

// ListReportOptions handles GET /api/moderation/report-options. A read
// failure yields an empty catalogue.
func (h *Handlers) ListReportOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	options, err := h.options.ListReportOptions(ctx)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to list report options")
		options = nil
	}
	if options == nil {
		options = []ReportOption{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"options": options})
}
