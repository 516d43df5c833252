package moderation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/modlog"
)

const (
	ownerDID  = "did:plc:owner"
	otherDID  = "did:plc:other"
	modDID    = "did:plc:mod1"
	ownerFeed = "at://did:plc:owner/app.bsky.feed.generator/one"
	otherFeed = "at://did:plc:other/app.bsky.feed.generator/two"
)

type memServiceStore struct {
	mu        sync.Mutex
	services  []Service
	err       error
	listCalls int
	upserts   []Service
	// honorCtx fails loads whose context is already done
	honorCtx bool
}

func (m *memServiceStore) ListServices(ctx context.Context) ([]Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Service, len(m.services))
	copy(out, m.services)
	return out, nil
}

func (m *memServiceStore) UpsertService(ctx context.Context, svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.upserts = append(m.upserts, svc)
	for i, existing := range m.services {
		if existing.Value == svc.Value {
			m.services[i] = svc
			return nil
		}
	}
	m.services = append(m.services, svc)
	return nil
}

func (m *memServiceStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func defaultServices() []Service {
	return []Service{
		{Value: "ozone", Label: "Ozone"},
		{Value: "blacksky", Label: "Blacksky", AdminDID: ownerDID},
	}
}

// feedAuthorizer allows post_delete for listed did|uri pairs
type feedAuthorizer map[string]bool

func (f feedAuthorizer) CanPerformAction(ctx context.Context, did string, action auth.Action, uri string) bool {
	return action == auth.ActionPostDelete && f[did+"|"+uri]
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

type fakeDestination struct {
	name  string
	err   error
	calls int32
	last  atomic.Value
}

func (f *fakeDestination) Name() string { return f.name }

func (f *fakeDestination) Send(ctx context.Context, report Report) error {
	atomic.AddInt32(&f.calls, 1)
	f.last.Store(report)
	return f.err
}

func (f *fakeDestination) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type panicAuthorizer struct{}

func (panicAuthorizer) CanPerformAction(context.Context, string, auth.Action, string) bool {
	panic("authorizer exploded")
}
