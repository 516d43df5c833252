package permissions

import (
	"context"
	"sort"
	"sync"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/modlog"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[string]FeedPermission
	profiles  map[string]bool
	getCalls  int
	getErr    error
	upsertErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]FeedPermission{}, profiles: map[string]bool{}}
}

func key(did, uri string) string { return did + "|" + uri }

func (m *memRepo) GetRole(ctx context.Context, did, uri string) (auth.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return "", false, m.getErr
	}
	p, ok := m.rows[key(did, uri)]
	return p.Role, ok, nil
}

func (m *memRepo) ListByDID(ctx context.Context, did string) ([]FeedPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FeedPermission
	for _, p := range m.rows {
		if p.DID == did {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (m *memRepo) ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error) {
	perms, _ := m.ListByDID(ctx, did)
	roles := map[string]auth.Role{}
	for _, p := range perms {
		roles[p.URI] = p.Role
	}
	return roles, nil
}

func (m *memRepo) Upsert(ctx context.Context, p FeedPermission) error {
	return m.UpsertMany(ctx, []FeedPermission{p})
}

func (m *memRepo) UpsertMany(ctx context.Context, perms []FeedPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, p := range perms {
		if prev, ok := m.rows[key(p.DID, p.URI)]; ok {
			p.CreatedBy = prev.CreatedBy
			p.CreatedAt = prev.CreatedAt
			if p.FeedName == "" {
				p.FeedName = prev.FeedName
			}
		}
		m.rows[key(p.DID, p.URI)] = p
	}
	return nil
}

func (m *memRepo) EnsureProfile(ctx context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[did] = true
	return nil
}

func (m *memRepo) ListModerators(ctx context.Context, uri string) ([]Moderator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mods []Moderator
	for _, p := range m.rows {
		if p.URI == uri && p.Role == auth.RoleMod {
			mods = append(mods, Moderator{DID: p.DID, Handle: p.DID, URI: uri, FeedName: p.FeedName, Role: p.Role})
		}
	}
	return mods, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []modlog.Entry
	err     error
}

func (r *memRecorder) Record(ctx context.Context, e modlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

type mapCatalog struct {
	byAdmin map[string][]string
	err     error
}

func (c *mapCatalog) ServicesForAdmin(ctx context.Context, adminDID string) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.byAdmin[adminDID], nil
}
