package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

type dispatchFixture struct {
	store      *memServiceStore
	recorder   *memRecorder
	metrics    *observability.Metrics
	dispatcher *Dispatcher
}

func newDispatchFixture(services []Service, destinations ...Destination) *dispatchFixture {
	store := &memServiceStore{services: services}
	recorder := &memRecorder{}
	metrics := observability.NewNopMetrics()
	authz := feedAuthorizer{
		ownerDID + "|" + ownerFeed: true,
		modDID + "|" + ownerFeed:   true,
		ownerDID + "|" + otherFeed: true,
	}
	config := DispatcherConfig{
		CallTimeout:   time.Second,
		Deadline:      5 * time.Second,
		MaxConcurrent: 2,
		Retry:         RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}

	d := NewDispatcher(NewRegistry(store, time.Minute, nil), authz, recorder, config, observability.NewNopLogger(), metrics)
	for _, dest := range destinations {
		d.Register(dest)
	}
	return &dispatchFixture{store: store, recorder: recorder, metrics: metrics, dispatcher: d}
}

func postReport(uri string, services ...string) Report {
	r := Report{
		URI:             uri,
		FeedName:        "One",
		TargetedPostURI: "at://did:plc:target/app.bsky.feed.post/3k",
		TargetedPostCID: "bafyreib2rxk3rh6kzwq",
		TargetedUserDID: "did:plc:target",
		Reason:          "com.atproto.moderation.defs#reasonSpam",
	}
	for _, s := range services {
		r.ToServices = append(r.ToServices, ServiceRef{Value: s})
	}
	return r
}

func resultFor(t *testing.T, s Summary, service string) Result {
	t.Helper()
	var found []Result
	for _, r := range s.Results {
		if r.Service == service {
			found = append(found, r)
		}
	}
	require.Len(t, found, 1, "results for %s", service)
	return found[0]
}

func TestDispatcher_OneFailingDestination(t *testing.T) {
	ozone := &fakeDestination{name: "ozone", err: errors.New("upstream 502")}
	blacksky := &fakeDestination{name: "blacksky"}
	f := newDispatchFixture(defaultServices(), ozone, blacksky)

	summaries := f.dispatcher.SubmitReports(context.Background(), modDID, []Report{postReport(ownerFeed, "ozone", "blacksky")})

	require.Len(t, summaries, 1)
	s := summaries[0]
	require.Len(t, s.Results, 3)

	assert.Equal(t, StatusError, resultFor(t, s, "ozone").Status)
	assert.Contains(t, resultFor(t, s, "ozone").Message, "upstream 502")
	assert.Equal(t, StatusSuccess, resultFor(t, s, "blacksky").Status)
	assert.Equal(t, StatusSuccess, resultFor(t, s, ResultLog).Status)
	assert.True(t, s.Failed())

	assert.Equal(t, 2, ozone.callCount(), "transient failure retried")
	assert.Equal(t, 1, blacksky.callCount())

	require.Len(t, f.recorder.entries, 1)
	entry := f.recorder.entries[0]
	assert.Equal(t, auth.ActionPostDelete, entry.Action)
	assert.Equal(t, modDID, entry.PerformedBy)
	assert.Equal(t, "did:plc:target", entry.TargetUserDID)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Metadata, &meta))
	assert.Equal(t, "com.atproto.moderation.defs#reasonSpam", meta["reason"])
	assert.Len(t, meta["outcomes"], 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DispatchTotal.WithLabelValues("ozone", StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DispatchTotal.WithLabelValues("blacksky", StatusSuccess)))
}

func TestDispatcher_IneligibleServiceDoesNotBlockOthers(t *testing.T) {
	ozone := &fakeDestination{name: "ozone"}
	blacksky := &fakeDestination{name: "blacksky"}
	f := newDispatchFixture(defaultServices(), ozone, blacksky)

	summaries := f.dispatcher.SubmitReports(context.Background(), ownerDID, []Report{postReport(otherFeed, "blacksky", "ozone")})

	s := summaries[0]
	assert.Equal(t, StatusError, resultFor(t, s, "blacksky").Status)
	assert.Equal(t, "service not available for this feed", resultFor(t, s, "blacksky").Message)
	assert.Equal(t, StatusSuccess, resultFor(t, s, "ozone").Status)
	assert.Equal(t, StatusSuccess, resultFor(t, s, ResultLog).Status)
	assert.Zero(t, blacksky.callCount())
}

func TestDispatcher_UnknownAndUnconfiguredServices(t *testing.T) {
	services := append(defaultServices(), Service{Value: "northsky", Label: "Northsky"})
	f := newDispatchFixture(services, &fakeDestination{name: "ozone"})

	summaries := f.dispatcher.SubmitReports(context.Background(), ownerDID, []Report{postReport(ownerFeed, "nope", "northsky", "ozone", "ozone")})

	s := summaries[0]
	require.Len(t, s.Results, 4, "duplicate services are delivered once")
	assert.Equal(t, "unknown moderation service", resultFor(t, s, "nope").Message)
	assert.Equal(t, "no delivery configured for service", resultFor(t, s, "northsky").Message)
	assert.Equal(t, StatusSuccess, resultFor(t, s, "ozone").Status)
}

func TestDispatcher_LogFailureIsCaptured(t *testing.T) {
	f := newDispatchFixture(defaultServices(), &fakeDestination{name: "ozone"})
	f.recorder.err = errors.New("logs table locked")

	summaries := f.dispatcher.SubmitReports(context.Background(), ownerDID, []Report{postReport(ownerFeed, "ozone")})

	s := summaries[0]
	assert.Equal(t, StatusSuccess, resultFor(t, s, "ozone").Status)
	logResult := resultFor(t, s, ResultLog)
	assert.Equal(t, StatusError, logResult.Status)
	assert.Contains(t, logResult.Message, "logs table locked")
}

func TestDispatcher_RegistryFailurePerService(t *testing.T) {
	f := newDispatchFixture(nil, &fakeDestination{name: "ozone"})
	f.store.err = errors.New("connection refused")

	summaries := f.dispatcher.SubmitReports(context.Background(), ownerDID, []Report{postReport(ownerFeed, "ozone")})

	s := summaries[0]
	assert.Equal(t, "moderation services unavailable", resultFor(t, s, "ozone").Message)
	assert.Equal(t, StatusSuccess, resultFor(t, s, ResultLog).Status, "log is attempted regardless")
}

func TestDispatcher_UnauthorizedReport(t *testing.T) {
	ozone := &fakeDestination{name: "ozone"}
	f := newDispatchFixture(defaultServices(), ozone)

	summaries := f.dispatcher.SubmitReports(context.Background(), "did:plc:stranger", []Report{postReport(ownerFeed, "ozone")})

	require.Len(t, summaries[0].Results, 1)
	assert.Equal(t, ResultAuthorization, summaries[0].Results[0].Service)
	assert.Zero(t, ozone.callCount())
	assert.Empty(t, f.recorder.entries)
}

func TestDispatcher_PanicStillRecordsReport(t *testing.T) {
	ozone := &fakeDestination{name: "ozone"}
	f := newDispatchFixture(defaultServices(), ozone)
	f.dispatcher.authz = panicAuthorizer{}

	reports := []Report{postReport(ownerFeed, "ozone"), postReport(otherFeed, "ozone")}
	summaries := f.dispatcher.SubmitReports(context.Background(), ownerDID, reports)

	require.Len(t, summaries, 2)
	for i, s := range summaries {
		assert.Equal(t, reports[i].URI, s.URI)
		assert.True(t, s.Failed())
		dispatch := resultFor(t, s, ResultDispatch)
		assert.Equal(t, StatusError, dispatch.Status)
		assert.Equal(t, "internal error", dispatch.Message)
		assert.Equal(t, StatusSuccess, resultFor(t, s, ResultLog).Status)
	}
	assert.Zero(t, ozone.callCount())
	assert.Len(t, f.recorder.entries, 2)
}

func TestDispatcher_ReportsAreIsolated(t *testing.T) {
	ozone := &fakeDestination{name: "ozone"}
	f := newDispatchFixture(defaultServices(), ozone)

	reports := []Report{
		postReport(ownerFeed, "ozone"),
		postReport(otherFeed, "ozone"),
		postReport("at://did:plc:nobody/app.bsky.feed.generator/x", "ozone"),
		postReport(ownerFeed),
	}
	summaries := f.dispatcher.SubmitReports(context.Background(), modDID, reports)

	require.Len(t, summaries, 4)
	for i, s := range summaries {
		assert.Equal(t, reports[i].URI, s.URI, "summaries keep input order")
	}
	assert.False(t, summaries[0].Failed())
	assert.Equal(t, ResultAuthorization, summaries[1].Results[0].Service)
	assert.Equal(t, ResultAuthorization, summaries[2].Results[0].Service)
	require.Len(t, summaries[3].Results, 1, "no services still logs")
	assert.Equal(t, ResultLog, summaries[3].Results[0].Service)

	assert.Equal(t, 1, ozone.callCount())
	assert.Len(t, f.recorder.entries, 2)
}

func TestDispatcher_DeadlineStillLogs(t *testing.T) {
	hang := &blockingDestination{name: "ozone"}
	f := newDispatchFixture(defaultServices(), hang)
	f.dispatcher.config.Deadline = 20 * time.Millisecond
	f.dispatcher.config.CallTimeout = time.Hour

	start := time.Now()
	summaries := f.dispatcher.SubmitReports(context.Background(), ownerDID, []Report{postReport(ownerFeed, "ozone")})

	assert.Less(t, time.Since(start), 2*time.Second)
	s := summaries[0]
	assert.Equal(t, StatusError, resultFor(t, s, "ozone").Status)
	assert.Equal(t, StatusSuccess, resultFor(t, s, ResultLog).Status)
	assert.Len(t, f.recorder.entries, 1)
}

type blockingDestination struct{ name string }

func (b *blockingDestination) Name() string { return b.name }

func (b *blockingDestination) Send(ctx context.Context, report Report) error {
	<-ctx.Done()
	return ctx.Err()
}
