package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/kv"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/profiles"
)

const (
	testDID    = "did:plc:alice"
	testHandle = "alice.bsky.social"
)

// tokenServer is a fake authorization server token endpoint
type tokenServer struct {
	*httptest.Server
	mu       sync.Mutex
	sub      string
	status   int
	lastForm map[string]string
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{sub: testDID, status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		ts.mu.Lock()
		ts.lastForm = map[string]string{}
		for k := range r.PostForm {
			ts.lastForm[k] = r.PostForm.Get(k)
		}
		status, sub := ts.status, ts.sub
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-" + r.PostForm.Get("code"),
			"refresh_token": "refresh-token",
			"token_type":    "DPoP",
			"expires_in":    3600,
			"scope":         "atproto transition:generic",
			"sub":           sub,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form(key string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm[key]
}

// newEncryptedStores returns encrypted state and session stores backed by
// a miniredis instance
func newEncryptedStores(t *testing.T) (*miniredis.Miniredis, kv.Store, kv.Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	key := bytes.Repeat([]byte{7}, 32)
	states, err := kv.NewEncrypted(kv.NewRedisStore(client, "auth_states:", 10*time.Minute), key)
	require.NoError(t, err)
	sessions, err := kv.NewEncrypted(kv.NewRedisStore(client, "auth_sessions:", 0), key)
	require.NoError(t, err)
	return mr, states, sessions
}

func newTestClient(t *testing.T, ts *tokenServer) (*Client, *miniredis.Miniredis) {
	mr, states, sessions := newEncryptedStores(t)
	config := ConfigFromPublicURL("https://api.example.com", "https://bsky.social/oauth/authorize",
		ts.URL+"/oauth/token", []string{"atproto", "transition:generic"}, 10*time.Minute)
	return NewClient(config, states, sessions), mr
}

type fakeSyncer struct {
	mu     sync.Mutex
	actors []string
	err    error
}

func (f *fakeSyncer) Login(_ context.Context, actor string) (*profiles.EnrichedProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actors = append(f.actors, actor)
	if f.err != nil {
		return nil, f.err
	}
	return &profiles.EnrichedProfile{
		Profile:     profiles.Profile{DID: testDID, Handle: testHandle},
		RolesByFeed: map[string]auth.Role{},
	}, nil
}

func (f *fakeSyncer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actors...)
}

var errSyncFailed = errors.New("appview unavailable")

// failingDelStore wraps a store whose deletes always fail
type failingDelStore struct {
	kv.Store
}

func (failingDelStore) Del(context.Context, string) error {
	return errors.New("session store unavailable")
}
