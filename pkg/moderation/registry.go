package moderation

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// DefaultRegistryTTL is how long a loaded service list is served from memory
const DefaultRegistryTTL = 5 * time.Minute

const servicesKey = "services"

// registryLoadTimeout bounds a shared load, which outlives any single caller
const registryLoadTimeout = 10 * time.Second

// ServiceStore is the persistence behind the registry. *Store implements it.
type ServiceStore interface {
	ListServices(ctx context.Context) ([]Service, error)
	UpsertService(ctx context.Context, svc Service) error
}

// Registry serves the moderation service list from an expiring cache.
// Load failures are returned to the caller, never masked with stale data.
type Registry struct {
	store   ServiceStore
	cache   *expirable.LRU[string, []Service]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewRegistry creates a registry. ttl <= 0 uses DefaultRegistryTTL.
// metrics may be nil.
func NewRegistry(store ServiceStore, ttl time.Duration, metrics *observability.Metrics) *Registry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &Registry{
		store:   store,
		cache:   expirable.NewLRU[string, []Service](1, nil, ttl),
		metrics: metrics,
	}
}

// Services returns every configured service
func (r *Registry) Services(ctx context.Context) ([]Service, error) {
	if services, ok := r.cache.Get(servicesKey); ok {
		if r.metrics != nil {
			r.metrics.RegistryCacheHits.Inc()
		}
		return services, nil
	}
	if r.metrics != nil {
		r.metrics.RegistryCacheMisses.Inc()
	}

	v, err, _ := r.group.Do(servicesKey, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryLoadTimeout)
		defer cancel()

		services, err := r.store.ListServices(loadCtx)
		if err != nil {
			return nil, err
		}
		if services == nil {
			services = []Service{}
		}
		r.cache.Add(servicesKey, services)
		return services, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Service), nil
}

// Lookup finds a service by value
func (r *Registry) Lookup(ctx context.Context, value string) (Service, bool, error) {
	services, err := r.Services(ctx)
	if err != nil {
		return Service{}, false, err
	}
	for _, svc := range services {
		if svc.Value == value {
			return svc, true, nil
		}
	}
	return Service{}, false, nil
}

// IsServiceEligibleForFeed reports whether a feed owned by feedOwnerDID may
// use the service. Unknown services are not eligible.
func (r *Registry) IsServiceEligibleForFeed(ctx context.Context, value, feedOwnerDID string) (bool, error) {
	svc, found, err := r.Lookup(ctx, value)
	if err != nil || !found {
		return false, err
	}
	return eligible(svc, feedOwnerDID), nil
}

// EligibleForFeed returns the services a feed may use. The owner is the
// feed URI's DID authority. An empty feedURI returns every service.
func (r *Registry) EligibleForFeed(ctx context.Context, feedURI string) ([]Service, error) {
	services, err := r.Services(ctx)
	if err != nil {
		return nil, err
	}
	if feedURI == "" {
		return services, nil
	}

	owner, err := bsky.FeedOwner(feedURI)
	if err != nil {
		return nil, err
	}

	out := make([]Service, 0, len(services))
	for _, svc := range services {
		if eligible(svc, owner) {
			out = append(out, svc)
		}
	}
	return out, nil
}

// ServicesForAdmin returns the values of services gated to adminDID
func (r *Registry) ServicesForAdmin(ctx context.Context, adminDID string) ([]string, error) {
	services, err := r.Services(ctx)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, svc := range services {
		if !svc.Global() && svc.AdminDID == adminDID {
			values = append(values, svc.Value)
		}
	}
	return values, nil
}

// Save writes a service and drops the cached list
func (r *Registry) Save(ctx context.Context, svc Service) error {
	err := r.store.UpsertService(ctx, svc)
	r.Invalidate()
	return err
}

// Invalidate drops the cached list so the next read reloads it
func (r *Registry) Invalidate() {
	r.cache.Purge()
}

func eligible(svc Service, feedOwnerDID string) bool {
	return svc.Global() || (feedOwnerDID != "" && svc.AdminDID == feedOwnerDID)
}
