package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/contextkeys"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/httputil"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// TokenVerifier validates a session token
type TokenVerifier interface {
	Verify(token string) (*auth.SessionClaims, error)
}

// RoleLister loads a user's role on every feed they have a permission row for
type RoleLister interface {
	ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error)
}

// AuthMiddleware authenticates Bearer session tokens
type AuthMiddleware struct {
	verifier TokenVerifier
	roles    RoleLister
	logger   *observability.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier TokenVerifier, roles RoleLister, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		roles:    roles,
		logger:   logger,
	}
}

// Handler rejects requests without a valid token and injects the
// AuthContext for the rest.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.verifier.Verify(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("rejected session token")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		did := claims.DID()
		roles, err := m.roles.ListFeedRoles(r.Context(), did)
		if err != nil {
			// Fail closed: no elevated roles for this request.
			m.logger.WithError(err).WithField("did", did).Error("failed to load feed roles")
			roles = map[string]auth.Role{}
		}

		authCtx := &auth.AuthContext{
			DID:         did,
			Handle:      claims.Handle,
			RolesByFeed: roles,
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserDID(ctx, did)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthFromContext(r.Context())
}

// AuthFromContext extracts auth context from ctx
func AuthFromContext(ctx context.Context) *auth.AuthContext {
	authCtx, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// WithAuthContext attaches authCtx the same way Handler does. Used by tests
// and by routes that authenticate through another path.
func WithAuthContext(ctx context.Context, authCtx *auth.AuthContext) context.Context {
	ctx = contextkeys.WithAuth(ctx, authCtx)
	return contextkeys.WithUserDID(ctx, authCtx.DID)
}

// RequireFeedRole creates middleware that checks the caller's role on the
// feed named by the uri query parameter.
func RequireFeedRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			uri := r.URL.Query().Get("uri")
			if uri == "" {
				httputil.WriteBadRequest(w, "uri is required")
				return
			}

			if !authCtx.RoleOn(uri).AtLeast(role) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
