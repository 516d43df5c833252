package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/profiles"
)

// SessionCookieName carries the session JWT for browser clients
const SessionCookieName = "safeskies_session"

// Syncer refreshes a user's profile and feed permissions at login
type Syncer interface {
	Login(ctx context.Context, actor string) (*profiles.EnrichedProfile, error)
}

// Sessions issues and verifies session tokens
type Sessions interface {
	Issue(did, handle string) (string, error)
	Verify(token string) (*auth.SessionClaims, error)
	TTL() time.Duration
}

// HandlerConfig configures the auth endpoints
type HandlerConfig struct {
	// ClientURL is the frontend the callback redirects back to
	ClientURL    string
	ClientName   string
	CookieSecure bool
	DevLogin     bool
}

// Handlers serves the /auth and /oauth endpoints
type Handlers struct {
	client   *Client
	syncer   Syncer
	sessions Sessions
	config   HandlerConfig
	logger   *observability.Logger
}

// NewHandlers creates auth handlers
func NewHandlers(client *Client, syncer Syncer, sessions Sessions, config HandlerConfig, logger *observability.Logger) *Handlers {
	if config.ClientName == "" {
		config.ClientName = "Safe Skies"
	}
	return &Handlers{
		client:   client,
		syncer:   syncer,
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
}

// RegisterRoutes registers the auth routes and returns the subrouter so
// callers can attach rate limiting
func (h *Handlers) RegisterRoutes(router *mux.Router) *mux.Router {
	router.HandleFunc("/oauth/client-metadata.json", h.ClientMetadata).Methods("GET")

	authRouter := router.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/signin", h.SignIn).Methods("GET")
	authRouter.HandleFunc("/callback", h.Callback).Methods("GET")
	authRouter.HandleFunc("/logout", h.Logout).Methods("POST")
	if h.config.DevLogin {
		authRouter.HandleFunc("/dev-login", h.DevLogin).Methods("POST")
	}
	return authRouter
}

// SignIn handles GET /auth/signin?handle=
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimPrefix(strings.TrimSpace(r.URL.Query().Get("handle")), "@")
	if !httputil.RequireNonEmpty(w, handle, "handle") {
		return
	}

	authURL, err := h.client.AuthorizeURL(r.Context(), handle)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to start oauth login")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"url": authURL})
}

// Callback handles GET /auth/callback. Failures redirect to the frontend
// with an error message instead of answering with JSON.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	session, err := h.client.Callback(ctx, r.URL.Query())
	if err != nil {
		logger.WithError(err).Warn("oauth callback failed")
		h.redirectError(w, r, err.Error())
		return
	}

	profile, err := h.syncer.Login(ctx, session.DID)
	if err != nil {
		logger.WithError(err).WithField("did", session.DID).Error("login sync failed")
		h.redirectError(w, r, "failed to load profile: "+err.Error())
		return
	}

	token, err := h.sessions.Issue(profile.DID, profile.Handle)
	if err != nil {
		logger.WithError(err).Error("failed to issue session token")
		h.redirectError(w, r, "failed to create session: "+err.Error())
		return
	}

	h.setSessionCookie(w, token)
	http.Redirect(w, r, h.clientRedirect("token", token), http.StatusFound)
}

// Logout handles POST /auth/logout. It always clears the cookie; the stored
// OAuth session is removed when the request carries a valid session token.
// A failed removal is logged and does not keep the cookie alive.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if token := sessionToken(r); token != "" {
		if claims, err := h.sessions.Verify(token); err == nil {
			if err := h.client.Revoke(ctx, claims.DID()); err != nil {
				observability.FromContext(ctx).WithError(err).WithField("did", claims.DID()).
					Error("failed to revoke oauth session")
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

type devLoginRequest struct {
	Handle string `json:"handle"`
}

// DevLogin handles POST /auth/dev-login. It skips the OAuth round trip but
// runs the same sync as a real login.
func (h *Handlers) DevLogin(w http.ResponseWriter, r *http.Request) {
	var req devLoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	handle := strings.TrimPrefix(strings.TrimSpace(req.Handle), "@")
	if !httputil.RequireNonEmpty(w, handle, "handle") {
		return
	}

	ctx := r.Context()
	profile, err := h.syncer.Login(ctx, handle)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("handle", handle).Error("dev login sync failed")
		httputil.WriteInternalError(w)
		return
	}

	token, err := h.sessions.Issue(profile.DID, profile.Handle)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to issue session token")
		httputil.WriteInternalError(w)
		return
	}

	h.setSessionCookie(w, token)
	httputil.WriteSuccess(w, map[string]interface{}{
		"token":   token,
		"profile": profile,
	})
}

// ClientMetadata handles GET /oauth/client-metadata.json
func (h *Handlers) ClientMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	httputil.WriteSuccess(w, h.client.Metadata(h.config.ClientName, h.config.ClientURL))
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.sessions.TTL().Seconds()),
	})
}

// redirectError sends the failure reason back to the frontend. The message
// is flattened to one printable line and capped at maxErrorLength.
func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, h.clientRedirect("error", sanitizeError(message)), http.StatusFound)
}

const maxErrorLength = 200

func sanitizeError(message string) string {
	message = strings.Join(strings.FieldsFunc(message, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}), " ")
	if runes := []rune(message); len(runes) > maxErrorLength {
		message = string(runes[:maxErrorLength])
	}
	if message == "" {
		return "login failed"
	}
	return message
}

func (h *Handlers) clientRedirect(key, value string) string {
	return strings.TrimRight(h.config.ClientURL, "/") + "/oauth/callback?" + url.Values{key: {value}}.Encode()
}

// sessionToken reads the session token from the Authorization header or
// the session cookie
func sessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
