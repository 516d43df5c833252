package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

type handlerFixture struct {
	router   *mux.Router
	client   *Client
	syncer   *fakeSyncer
	sessions *auth.SessionManager
}

func newHandlerFixture(t *testing.T, devLogin bool) *handlerFixture {
	ts := newTokenServer(t)
	client, _ := newTestClient(t, ts)
	sessions, err := auth.NewSessionManager("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	syncer := &fakeSyncer{}
	handlers := NewHandlers(client, syncer, sessions, HandlerConfig{
		ClientURL:    "https://app.example.com/",
		CookieSecure: true,
		DevLogin:     devLogin,
	}, observability.NewNopLogger())

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return &handlerFixture{router: router, client: client, syncer: syncer, sessions: sessions}
}

func (f *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func TestHandlers_SignIn(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(httptest.NewRequest("GET", "/auth/signin?handle=@"+testHandle, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	u, err := url.Parse(body["url"])
	require.NoError(t, err)
	assert.Equal(t, testHandle, u.Query().Get("login_hint"))

	rec = f.do(httptest.NewRequest("GET", "/auth/signin", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "handle is required")
}

func TestHandlers_Callback(t *testing.T) {
	t.Run("success sets cookie and redirects with token", func(t *testing.T) {
		f := newHandlerFixture(t, false)
		state, _ := startLogin(t, f.client)

		rec := f.do(httptest.NewRequest("GET", "/auth/callback?state="+state+"&code=abc", nil))
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", location.Host)
		assert.Equal(t, "/oauth/callback", location.Path)

		token := location.Query().Get("token")
		require.NotEmpty(t, token)
		claims, err := f.sessions.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, testDID, claims.DID())
		assert.Equal(t, testHandle, claims.Handle)

		cookie := sessionCookie(rec)
		require.NotNil(t, cookie)
		assert.Equal(t, token, cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.True(t, cookie.Secure)
		assert.Equal(t, 3600, cookie.MaxAge)

		assert.Equal(t, []string{testDID}, f.syncer.calls())
	})

	t.Run("unknown state echoes the cause", func(t *testing.T) {
		f := newHandlerFixture(t, false)

		rec := f.do(httptest.NewRequest("GET", "/auth/callback?state=unknown&code=abc", nil))
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, ErrUnknownState.Error(), location.Query().Get("error"))
		assert.Empty(t, location.Query().Get("token"))
		assert.Nil(t, sessionCookie(rec))
		assert.Empty(t, f.syncer.calls())
	})

	t.Run("provider error is echoed", func(t *testing.T) {
		f := newHandlerFixture(t, false)

		rec := f.do(httptest.NewRequest("GET", "/auth/callback?error=access_denied&error_description=user+cancelled", nil))
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		message := location.Query().Get("error")
		assert.Contains(t, message, "access_denied")
		assert.Contains(t, message, "user cancelled")
		assert.Nil(t, sessionCookie(rec))
	})

	t.Run("sync failure echoes the cause", func(t *testing.T) {
		f := newHandlerFixture(t, false)
		f.syncer.err = errSyncFailed
		state, _ := startLogin(t, f.client)

		rec := f.do(httptest.NewRequest("GET", "/auth/callback?state="+state+"&code=abc", nil))
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		message := location.Query().Get("error")
		assert.Contains(t, message, "failed to load profile")
		assert.Contains(t, message, "appview unavailable")
		assert.Nil(t, sessionCookie(rec))
	})
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "authorization failed: access_denied", "authorization failed: access_denied"},
		{"newlines collapsed", "token exchange failed:\n\tbad gateway", "token exchange failed: bad gateway"},
		{"control characters dropped", "bad\x00state", "bad state"},
		{"empty falls back", "  ", "login failed"},
		{"long message capped", strings.Repeat("x", 500), strings.Repeat("x", maxErrorLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeError(tt.in))
		})
	}
}

func TestHandlers_Logout(t *testing.T) {
	f := newHandlerFixture(t, false)
	state, _ := startLogin(t, f.client)
	rec := f.do(httptest.NewRequest("GET", "/auth/callback?state="+state+"&code=abc", nil))
	token := sessionCookie(rec).Value

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec = f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)

	_, err := f.client.Session(req.Context(), testDID)
	assert.ErrorIs(t, err, ErrNoSession)

	// Without a session the cookie is still cleared.
	rec = f.do(httptest.NewRequest("POST", "/auth/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, sessionCookie(rec))
}

func TestHandlers_Logout_RevokeFailureStillClearsCookie(t *testing.T) {
	f := newHandlerFixture(t, false)
	state, _ := startLogin(t, f.client)
	rec := f.do(httptest.NewRequest("GET", "/auth/callback?state="+state+"&code=abc", nil))
	token := sessionCookie(rec).Value

	f.client.sessions = failingDelStore{Store: f.client.sessions}

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestHandlers_DevLogin(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		f := newHandlerFixture(t, false)
		rec := f.do(httptest.NewRequest("POST", "/auth/dev-login", strings.NewReader(`{"handle":"alice.bsky.social"}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("runs the login sync", func(t *testing.T) {
		f := newHandlerFixture(t, true)
		rec := f.do(httptest.NewRequest("POST", "/auth/dev-login", strings.NewReader(`{"handle":"@alice.bsky.social"}`)))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Token   string `json:"token"`
			Profile struct {
				DID string `json:"did"`
			} `json:"profile"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, testDID, body.Profile.DID)
		assert.NotEmpty(t, body.Token)
		assert.Equal(t, []string{testHandle}, f.syncer.calls())
	})

	t.Run("sync failure", func(t *testing.T) {
		f := newHandlerFixture(t, true)
		f.syncer.err = errSyncFailed
		rec := f.do(httptest.NewRequest("POST", "/auth/dev-login", strings.NewReader(`{"handle":"alice.bsky.social"}`)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "appview")
	})

	t.Run("missing handle", func(t *testing.T) {
		f := newHandlerFixture(t, true)
		rec := f.do(httptest.NewRequest("POST", "/auth/dev-login", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_ClientMetadata(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(httptest.NewRequest("GET", "/oauth/client-metadata.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var meta ClientMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://api.example.com/oauth/client-metadata.json", meta.ClientID)
	assert.Equal(t, "Safe Skies", meta.ClientName)
	assert.Equal(t, "https://app.example.com/", meta.ClientURI)
}
