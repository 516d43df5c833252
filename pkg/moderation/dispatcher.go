package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/modlog"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// logWriteTimeout bounds the log append, which runs even after the
// dispatch deadline has passed
const logWriteTimeout = 5 * time.Second

// Authorizer decides whether a user may act on a feed
type Authorizer interface {
	CanPerformAction(ctx context.Context, did string, action auth.Action, uri string) bool
}

// LogRecorder appends to the moderation log
type LogRecorder interface {
	Record(ctx context.Context, entry modlog.Entry) error
}

// DispatcherConfig bounds report delivery
type DispatcherConfig struct {
	// CallTimeout bounds a single attempt against one destination
	CallTimeout time.Duration
	// Deadline bounds a whole SubmitReports call
	Deadline time.Duration
	// MaxConcurrent caps reports processed at once
	MaxConcurrent int
	Retry         RetryConfig
}

// DefaultDispatcherConfig returns the default dispatch bounds
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		CallTimeout:   10 * time.Second,
		Deadline:      30 * time.Second,
		MaxConcurrent: 4,
		Retry:         DefaultRetryConfig(),
	}
}

// Dispatcher forwards reports to their destination services
type Dispatcher struct {
	registry     *Registry
	authz        Authorizer
	recorder     LogRecorder
	destinations map[string]Destination
	retry        *RetryPolicy
	config       DispatcherConfig
	logger       *observability.Logger
	metrics      *observability.Metrics
	mu           sync.RWMutex
}

// NewDispatcher creates a dispatcher with no destinations. metrics may be nil.
func NewDispatcher(registry *Registry, authz Authorizer, recorder LogRecorder, config DispatcherConfig, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.Deadline <= 0 {
		config.Deadline = defaults.Deadline
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}

	return &Dispatcher{
		registry:     registry,
		authz:        authz,
		recorder:     recorder,
		destinations: make(map[string]Destination),
		retry:        NewRetryPolicy(config.Retry),
		config:       config,
		logger:       logger,
		metrics:      metrics,
	}
}

// Register adds a destination keyed by its name, replacing any previous one
func (d *Dispatcher) Register(dest Destination) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destinations[dest.Name()] = dest
}

func (d *Dispatcher) destination(name string) (Destination, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dest, ok := d.destinations[name]
	return dest, ok
}

// SubmitReports processes every report independently and returns one
// Summary per report, in input order. A failing report never affects the
// others.
func (d *Dispatcher) SubmitReports(ctx context.Context, actingDID string, reports []Report) []Summary {
	ctx, cancel := context.WithTimeout(ctx, d.config.Deadline)
	defer cancel()

	summaries := make([]Summary, len(reports))

	var g errgroup.Group
	g.SetLimit(d.config.MaxConcurrent)
	for i, report := range reports {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					summaries[i] = d.recovered(ctx, actingDID, report, r)
				}
			}()
			summaries[i] = d.submit(ctx, actingDID, report)
			return nil
		})
	}
	// closures never return an error
	_ = g.Wait()

	return summaries
}

// recovered builds the summary for a report whose processing panicked. The
// log append is still attempted.
func (d *Dispatcher) recovered(ctx context.Context, actingDID string, report Report, cause interface{}) Summary {
	logger := d.logger.WithFields(map[string]interface{}{
		"uri":   report.URI,
		"actor": actingDID,
	})
	logger.Errorf("panic dispatching report: %v", cause)

	results := []Result{{Service: ResultDispatch, Status: StatusError, Message: "internal error"}}
	return Summary{
		URI:             report.URI,
		TargetedPostURI: report.TargetedPostURI,
		TargetedUserDID: report.TargetedUserDID,
		Results:         append(results, d.record(ctx, logger, actingDID, report, dedupe(report.ToServices), results)),
	}
}

func (d *Dispatcher) submit(ctx context.Context, actingDID string, report Report) Summary {
	summary := Summary{
		URI:             report.URI,
		TargetedPostURI: report.TargetedPostURI,
		TargetedUserDID: report.TargetedUserDID,
	}
	logger := d.logger.WithFields(map[string]interface{}{
		"uri":   report.URI,
		"actor": actingDID,
	})

	if !d.authz.CanPerformAction(ctx, actingDID, auth.ActionPostDelete, report.URI) {
		logger.Warn("report rejected, actor cannot moderate feed")
		summary.Results = []Result{{
			Service: ResultAuthorization,
			Status:  StatusError,
			Message: "not permitted to moderate this feed",
		}}
		return summary
	}

	services := dedupe(report.ToServices)
	results := make([]Result, len(services))

	var wg sync.WaitGroup
	for i, value := range services {
		wg.Add(1)
		go func(i int, value string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("service", value).Errorf("panic delivering report: %v", r)
					results[i] = Result{Service: value, Status: StatusError, Message: "internal error"}
				}
			}()
			results[i] = d.deliver(ctx, logger, report, value)
		}(i, value)
	}
	wg.Wait()

	summary.Results = append(results, d.record(ctx, logger, actingDID, report, services, results))
	return summary
}

func (d *Dispatcher) deliver(ctx context.Context, logger *observability.Logger, report Report, value string) Result {
	result := Result{Service: value, Status: StatusError}
	logger = logger.WithField("service", value)

	svc, found, err := d.registry.Lookup(ctx, value)
	if err != nil {
		logger.WithError(err).Error("failed to load moderation services")
		result.Message = "moderation services unavailable"
		d.observe(value, "registry_error", 0)
		return result
	}
	if !found {
		result.Message = "unknown moderation service"
		d.observe(value, "unknown", 0)
		return result
	}

	if !svc.Global() {
		owner, err := bsky.FeedOwner(report.URI)
		if err != nil || !eligible(svc, owner) {
			logger.Warn("service not eligible for feed")
			result.Message = "service not available for this feed"
			d.observe(value, "ineligible", 0)
			return result
		}
	}

	dest, ok := d.destination(value)
	if !ok {
		result.Message = "no delivery configured for service"
		d.observe(value, "unconfigured", 0)
		return result
	}

	start := time.Now()
	attempts, err := d.retry.Do(ctx, d.config.CallTimeout, func(ctx context.Context) error {
		return dest.Send(ctx, report)
	})
	elapsed := time.Since(start)

	if err != nil {
		logger.WithError(err).WithField("attempts", attempts).Error("report delivery failed")
		result.Message = err.Error()
		d.observe(value, StatusError, elapsed)
		return result
	}

	result.Status = StatusSuccess
	d.observe(value, StatusSuccess, elapsed)
	return result
}

// record appends the single moderation log entry for a report. It runs
// detached from the dispatch deadline so an abandoned request still leaves
// its audit row.
func (d *Dispatcher) record(ctx context.Context, logger *observability.Logger, actingDID string, report Report, services []string, results []Result) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	err := d.recorder.Record(ctx, modlog.Entry{
		URI:           report.URI,
		PerformedBy:   actingDID,
		Action:        auth.ActionPostDelete,
		TargetUserDID: report.TargetedUserDID,
		TargetPostURI: report.TargetedPostURI,
		Metadata: modlog.NewMetadata(map[string]interface{}{
			"reason":          report.Reason,
			"additional_info": report.AdditionalInfo,
			"feed_name":       report.FeedName,
			"services":        services,
			"outcomes":        results,
		}),
	})
	if err != nil {
		logger.WithError(err).Error("failed to record report in moderation log")
		return Result{Service: ResultLog, Status: StatusError, Message: fmt.Sprintf("failed to record moderation log: %v", err)}
	}
	return Result{Service: ResultLog, Status: StatusSuccess}
}

func (d *Dispatcher) observe(service, status string, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.DispatchTotal.WithLabelValues(service, status).Inc()
	if elapsed > 0 {
		d.metrics.DispatchDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	}
}

func dedupe(refs []ServiceRef) []string {
	seen := make(map[string]bool, len(refs))
	values := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Value == "" || seen[ref.Value] {
			continue
		}
		seen[ref.Value] = true
		values = append(values, ref.Value)
	}
	return values
}
