package profiles

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/modlog"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/permissions"
)

type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]Profile
	err      error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profiles: map[string]Profile{}}
}

func (m *memProfiles) Upsert(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.profiles[p.DID] = p
	return nil
}

func (m *memProfiles) Get(ctx context.Context, did string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[did]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

// memPermissions backs a real permissions.Engine
type memPermissions struct {
	mu   sync.Mutex
	rows map[string]permissions.FeedPermission
}

func newMemPermissions() *memPermissions {
	return &memPermissions{rows: map[string]permissions.FeedPermission{}}
}

func (m *memPermissions) GetRole(ctx context.Context, did, uri string) (auth.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[did+"|"+uri]
	return p.Role, ok, nil
}

func (m *memPermissions) ListByDID(ctx context.Context, did string) ([]permissions.FeedPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []permissions.FeedPermission
	for _, p := range m.rows {
		if p.DID == did {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (m *memPermissions) ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error) {
	perms, _ := m.ListByDID(ctx, did)
	roles := map[string]auth.Role{}
	for _, p := range perms {
		roles[p.URI] = p.Role
	}
	return roles, nil
}

func (m *memPermissions) Upsert(ctx context.Context, p permissions.FeedPermission) error {
	return m.UpsertMany(ctx, []permissions.FeedPermission{p})
}

func (m *memPermissions) UpsertMany(ctx context.Context, perms []permissions.FeedPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		k := p.DID + "|" + p.URI
		if prev, ok := m.rows[k]; ok {
			p.CreatedBy = prev.CreatedBy
			if p.FeedName == "" {
				p.FeedName = prev.FeedName
			}
		}
		m.rows[k] = p
	}
	return nil
}

func (m *memPermissions) EnsureProfile(ctx context.Context, did string) error { return nil }

func (m *memPermissions) ListModerators(ctx context.Context, uri string) ([]permissions.Moderator, error) {
	return nil, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(ctx context.Context, e modlog.Entry) error { return nil }

type fakeDirectory struct {
	profiles map[string]bsky.ProfileView
	feeds    map[string][]bsky.FeedView
	meta     map[string]bsky.FeedView
	feedsErr error
	metaErr  error
	lookups  [][]string
}

func (f *fakeDirectory) GetProfile(ctx context.Context, actor string) (*bsky.ProfileView, error) {
	p, ok := f.profiles[actor]
	if !ok {
		return nil, fmt.Errorf("profile %s not found", actor)
	}
	return &p, nil
}

func (f *fakeDirectory) GetActorFeeds(ctx context.Context, actor string) ([]bsky.FeedView, error) {
	if f.feedsErr != nil {
		return nil, f.feedsErr
	}
	return f.feeds[actor], nil
}

func (f *fakeDirectory) GetFeedGenerators(ctx context.Context, uris []string) ([]bsky.FeedView, error) {
	f.lookups = append(f.lookups, uris)
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	var out []bsky.FeedView
	for _, uri := range uris {
		if v, ok := f.meta[uri]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}
