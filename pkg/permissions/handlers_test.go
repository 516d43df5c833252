package permissions

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/middleware"
)

type handlerFixture struct {
	repo   *memRepo
	rec    *memRecorder
	router *mux.Router
}

func setupHandlers(t *testing.T) *handlerFixture {
	t.Helper()
	repo := newMemRepo()
	repo.rows[key(ownerDID, feed1)] = FeedPermission{DID: ownerDID, URI: feed1, FeedName: "One", Role: auth.RoleAdmin}
	repo.rows[key("did:plc:mod1", feed1)] = FeedPermission{DID: "did:plc:mod1", URI: feed1, FeedName: "One", Role: auth.RoleMod}

	rec := &memRecorder{}
	router := mux.NewRouter()
	NewHandlers(newTestEngine(repo, rec, &mapCatalog{})).RegisterRoutes(router)
	return &handlerFixture{repo: repo, rec: rec, router: router}
}

func (f *handlerFixture) do(method, path, did string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if did != "" {
		req = req.WithContext(middleware.WithAuthContext(req.Context(), &auth.AuthContext{DID: did}))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPromote(t *testing.T) {
	f := setupHandlers(t)

	rec := f.do("POST", "/permissions/promote", ownerDID, RoleChangeRequest{
		TargetUserDID: "did:plc:newmod",
		URI:           feed1,
		FeedName:      "One",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "mod", body["role"])

	assert.Equal(t, auth.RoleMod, f.repo.rows[key("did:plc:newmod", feed1)].Role)
	require.Len(t, f.rec.entries, 1)
	assert.Equal(t, auth.ActionModPromote, f.rec.entries[0].Action)
}

func TestDemote(t *testing.T) {
	f := setupHandlers(t)

	rec := f.do("POST", "/permissions/demote", ownerDID, RoleChangeRequest{TargetUserDID: "did:plc:mod1", URI: feed1})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, auth.RoleUser, f.repo.rows[key("did:plc:mod1", feed1)].Role)
	assert.Equal(t, "One", f.repo.rows[key("did:plc:mod1", feed1)].FeedName)
	require.Len(t, f.rec.entries, 1)
	assert.Equal(t, auth.ActionModDemote, f.rec.entries[0].Action)
}

func TestChangeRole_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		did    string
		body   interface{}
		status int
	}{
		{"unauthenticated", "/permissions/promote", "", RoleChangeRequest{TargetUserDID: "did:plc:x", URI: feed1}, http.StatusUnauthorized},
		{"missing target", "/permissions/promote", ownerDID, RoleChangeRequest{URI: feed1}, http.StatusBadRequest},
		{"missing uri", "/permissions/promote", ownerDID, RoleChangeRequest{TargetUserDID: "did:plc:x"}, http.StatusBadRequest},
		{"bad did", "/permissions/promote", ownerDID, RoleChangeRequest{TargetUserDID: "bob", URI: feed1}, http.StatusBadRequest},
		{"bad uri", "/permissions/promote", ownerDID, RoleChangeRequest{TargetUserDID: "did:plc:x", URI: "https://example.com"}, http.StatusBadRequest},
		{"mod cannot promote", "/permissions/promote", "did:plc:mod1", RoleChangeRequest{TargetUserDID: "did:plc:x", URI: feed1}, http.StatusForbidden},
		{"stranger cannot demote", "/permissions/demote", "did:plc:stranger", RoleChangeRequest{TargetUserDID: "did:plc:mod1", URI: feed1}, http.StatusForbidden},
		{"admin target untouchable", "/permissions/demote", ownerDID, RoleChangeRequest{TargetUserDID: ownerDID, URI: feed1}, http.StatusForbidden},
		{"demote user without row", "/permissions/demote", ownerDID, RoleChangeRequest{TargetUserDID: "did:plc:nobody", URI: feed1}, http.StatusConflict},
		{"promote existing mod", "/permissions/promote", ownerDID, RoleChangeRequest{TargetUserDID: "did:plc:mod1", URI: feed1}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupHandlers(t)
			rec := f.do("POST", tt.path, tt.did, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Empty(t, f.rec.entries)
			assert.Len(t, f.repo.rows, 2)
			assert.Equal(t, auth.RoleMod, f.repo.rows[key("did:plc:mod1", feed1)].Role)
		})
	}
}

func TestChangeRole_LogFailureIs500(t *testing.T) {
	f := setupHandlers(t)
	f.rec.err = assert.AnError

	rec := f.do("POST", "/permissions/promote", ownerDID, RoleChangeRequest{TargetUserDID: "did:plc:x", URI: feed1})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListModerators(t *testing.T) {
	f := setupHandlers(t)

	t.Run("admin", func(t *testing.T) {
		rec := f.do("GET", "/permissions/moderators?uri="+feed1, ownerDID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Moderators []Moderator `json:"moderators"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Moderators, 1)
		assert.Equal(t, "did:plc:mod1", body.Moderators[0].DID)
	})

	t.Run("mod forbidden", func(t *testing.T) {
		rec := f.do("GET", "/permissions/moderators?uri="+feed1, "did:plc:mod1", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing uri", func(t *testing.T) {
		rec := f.do("GET", "/permissions/moderators", ownerDID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		rec := f.do("GET", "/permissions/moderators?uri="+feed9, "did:plc:owner", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		f.repo.rows[key(ownerDID, feed9)] = FeedPermission{DID: ownerDID, URI: feed9, Role: auth.RoleAdmin}
		rec = f.do("GET", "/permissions/moderators?uri="+feed9, ownerDID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"moderators":[]}`, rec.Body.String())
	})
}
