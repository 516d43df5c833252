package permissions

import (
	"context"
	"strconv"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/modlog"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// Repository is the persistence the engine needs. *Store implements it.
type Repository interface {
	GetRole(ctx context.Context, did, uri string) (auth.Role, bool, error)
	ListByDID(ctx context.Context, did string) ([]FeedPermission, error)
	ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error)
	Upsert(ctx context.Context, p FeedPermission) error
	UpsertMany(ctx context.Context, perms []FeedPermission) error
	EnsureProfile(ctx context.Context, did string) error
	ListModerators(ctx context.Context, uri string) ([]Moderator, error)
}

// LogRecorder appends to the moderation log
type LogRecorder interface {
	Record(ctx context.Context, entry modlog.Entry) error
}

// ServiceCatalog lists the moderation services configured for a feed admin
type ServiceCatalog interface {
	ServicesForAdmin(ctx context.Context, adminDID string) ([]string, error)
}

// Engine resolves roles, gates actions and keeps feed permissions in sync
// with feed ownership.
type Engine struct {
	repo      Repository
	recorder  LogRecorder
	catalog   ServiceCatalog
	universal string
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewEngine creates a permission engine. universalService is added to every
// feed's allowed services. metrics may be nil.
func NewEngine(repo Repository, recorder LogRecorder, catalog ServiceCatalog, universalService string, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		repo:      repo,
		recorder:  recorder,
		catalog:   catalog,
		universal: universalService,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetRole returns the stored role, RoleUser when none exists. Lookup errors
// are logged and also yield RoleUser.
func (e *Engine) GetRole(ctx context.Context, did, uri string) auth.Role {
	role, found, err := e.repo.GetRole(ctx, did, uri)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"did": did,
			"uri": uri,
		}).Error("role lookup failed, treating as user")
		return auth.RoleUser
	}
	if !found || !role.Valid() {
		return auth.RoleUser
	}
	return role
}

// CanPerformAction reports whether did may take action on the feed. An
// empty did or uri is refused without a lookup.
func (e *Engine) CanPerformAction(ctx context.Context, did string, action auth.Action, uri string) bool {
	if did == "" || uri == "" {
		e.observe(action, false)
		return false
	}
	allowed := CanPerform(e.GetRole(ctx, did, uri), action)
	e.observe(action, allowed)
	return allowed
}

func (e *Engine) observe(action auth.Action, allowed bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.AuthorizationTotal.WithLabelValues(string(action), strconv.FormatBool(allowed)).Inc()
}

// AllowedServices returns the universal service followed by every service
// configured for ownerDID. A catalog failure leaves only the universal
// service.
func (e *Engine) AllowedServices(ctx context.Context, ownerDID string) []string {
	services := []string{e.universal}
	if ownerDID == "" || e.catalog == nil {
		return services
	}

	owned, err := e.catalog.ServicesForAdmin(ctx, ownerDID)
	if err != nil {
		e.logger.WithError(err).WithField("owner", ownerDID).Warn("failed to load moderation services")
		return services
	}
	for _, s := range owned {
		if s != "" && !contains(services, s) {
			services = append(services, s)
		}
	}
	return services
}

// ReconcilePermissions makes the user admin of every feed in ownedFeeds and
// returns the user's resulting permission set. Feeds without a URI are
// skipped. Rows for feeds absent from ownedFeeds are kept as they are.
// Running it twice with the same inputs yields the same rows.
func (e *Engine) ReconcilePermissions(ctx context.Context, userDID string, ownedFeeds []OwnedFeed, existing []FeedPermission) ([]FeedPermission, error) {
	byURI := make(map[string]int, len(existing))
	result := make([]FeedPermission, len(existing))
	copy(result, existing)
	for i, p := range result {
		byURI[p.URI] = i
	}

	var upserts []FeedPermission
	seen := make(map[string]bool, len(ownedFeeds))
	for _, feed := range ownedFeeds {
		if feed.URI == "" || seen[feed.URI] {
			continue
		}
		seen[feed.URI] = true

		owner, err := bsky.FeedOwner(feed.URI)
		if err != nil {
			e.logger.WithError(err).WithField("uri", feed.URI).Debug("feed uri has no did authority, using login did")
			owner = userDID
		}

		p := FeedPermission{
			DID:             userDID,
			URI:             feed.URI,
			FeedName:        feed.Name,
			Role:            auth.RoleAdmin,
			AllowedServices: e.AllowedServices(ctx, owner),
			CreatedBy:       userDID,
		}

		if i, ok := byURI[feed.URI]; ok {
			prev := result[i]
			p.CreatedBy = prev.CreatedBy
			p.CreatedAt = prev.CreatedAt
			if p.FeedName == "" {
				p.FeedName = prev.FeedName
			}
			result[i] = p
		} else {
			byURI[feed.URI] = len(result)
			result = append(result, p)
		}
		upserts = append(upserts, p)
	}

	if err := e.repo.UpsertMany(ctx, upserts); err != nil {
		return nil, err
	}
	return result, nil
}

// SetFeedRole assigns role to targetDID on a feed and records a
// mod_promote (role mod) or mod_demote entry. It reports false on any
// failure after logging it.
func (e *Engine) SetFeedRole(ctx context.Context, targetDID, uri string, role auth.Role, actingDID, feedName string) bool {
	logger := e.logger.WithFields(map[string]interface{}{
		"target": targetDID,
		"uri":    uri,
		"role":   string(role),
		"actor":  actingDID,
	})

	if targetDID == "" || uri == "" || actingDID == "" || !role.Valid() {
		logger.Warn("refusing role change with missing fields")
		return false
	}

	if err := e.repo.EnsureProfile(ctx, targetDID); err != nil {
		logger.WithError(err).Error("failed to ensure target profile")
		return false
	}

	owner, err := bsky.FeedOwner(uri)
	if err != nil {
		owner = actingDID
	}

	err = e.repo.Upsert(ctx, FeedPermission{
		DID:             targetDID,
		URI:             uri,
		FeedName:        feedName,
		Role:            role,
		AllowedServices: e.AllowedServices(ctx, owner),
		CreatedBy:       actingDID,
	})
	if err != nil {
		logger.WithError(err).Error("failed to upsert feed permission")
		return false
	}

	action := auth.ActionModDemote
	if role == auth.RoleMod {
		action = auth.ActionModPromote
	}
	err = e.recorder.Record(ctx, modlog.Entry{
		URI:           uri,
		PerformedBy:   actingDID,
		Action:        action,
		TargetUserDID: targetDID,
		Metadata: modlog.NewMetadata(map[string]string{
			"role":      string(role),
			"feed_name": feedName,
		}),
	})
	if err != nil {
		logger.WithError(err).Error("role changed but moderation log write failed")
		return false
	}

	logger.Info("feed role updated")
	return true
}

// ListPermissions returns every permission row for did
func (e *Engine) ListPermissions(ctx context.Context, did string) ([]FeedPermission, error) {
	return e.repo.ListByDID(ctx, did)
}

// ListFeedRoles returns did's role keyed by feed uri
func (e *Engine) ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error) {
	return e.repo.ListFeedRoles(ctx, did)
}

// ListModerators returns the moderators of a feed
func (e *Engine) ListModerators(ctx context.Context, uri string) ([]Moderator, error) {
	return e.repo.ListModerators(ctx, uri)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
