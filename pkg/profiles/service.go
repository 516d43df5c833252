package profiles

import (
	"context"
	"fmt"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/bsky"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/permissions"
)

// Repository persists profiles. *Store implements it.
type Repository interface {
	Upsert(ctx context.Context, p Profile) error
	Get(ctx context.Context, did string) (*Profile, error)
}

// PermissionSync is the part of the permission engine the sync uses.
// *permissions.Engine implements it.
type PermissionSync interface {
	ListPermissions(ctx context.Context, did string) ([]permissions.FeedPermission, error)
	ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error)
	ReconcilePermissions(ctx context.Context, userDID string, owned []permissions.OwnedFeed, existing []permissions.FeedPermission) ([]permissions.FeedPermission, error)
}

// Directory looks up actors and feeds on the AppView. *bsky.Client
// implements it.
type Directory interface {
	GetProfile(ctx context.Context, actor string) (*bsky.ProfileView, error)
	GetActorFeeds(ctx context.Context, actor string) ([]bsky.FeedView, error)
	GetFeedGenerators(ctx context.Context, uris []string) ([]bsky.FeedView, error)
}

// Service runs profile sync and builds profile views
type Service struct {
	repo           Repository
	perms          PermissionSync
	directory      Directory
	defaultFeedURI string
	logger         *observability.Logger
}

// NewService creates a profile service. defaultFeedURI may be empty, in
// which case the user's first admin feed is their default.
func NewService(repo Repository, perms PermissionSync, directory Directory, defaultFeedURI string, logger *observability.Logger) *Service {
	return &Service{
		repo:           repo,
		perms:          perms,
		directory:      directory,
		defaultFeedURI: defaultFeedURI,
		logger:         logger,
	}
}

// Login fetches the actor's profile and published feeds from the AppView
// and syncs them. When the feed list cannot be fetched the sync runs with
// no owned feeds, which leaves stored permissions as they are.
func (s *Service) Login(ctx context.Context, actor string) (*EnrichedProfile, error) {
	identity, err := s.directory.GetProfile(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	owned, err := s.directory.GetActorFeeds(ctx, identity.DID)
	if err != nil {
		s.logger.WithError(err).WithField("did", identity.DID).Warn("feed ownership unavailable, keeping stored permissions")
		owned = nil
	}

	return s.SyncOnLogin(ctx, *identity, owned)
}

// SyncOnLogin upserts the profile, makes the user admin of every feed they
// own and returns the refreshed profile with roles. Each step is its own
// statement; rerunning the sync converges on the same rows.
func (s *Service) SyncOnLogin(ctx context.Context, identity bsky.ProfileView, ownedFeeds []bsky.FeedView) (*EnrichedProfile, error) {
	logger := s.logger.WithField("did", identity.DID)

	err := s.repo.Upsert(ctx, Profile{
		DID:         identity.DID,
		Handle:      identity.Handle,
		DisplayName: identity.DisplayName,
		Avatar:      identity.Avatar,
		Associated:  identity.Associated,
		Labels:      identity.Labels,
	})
	if err != nil {
		return nil, err
	}

	existing, err := s.perms.ListPermissions(ctx, identity.DID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}

	owned := make([]permissions.OwnedFeed, 0, len(ownedFeeds))
	for _, feed := range ownedFeeds {
		owned = append(owned, permissions.OwnedFeed{URI: feed.URI, Name: feed.DisplayName})
	}
	if _, err := s.perms.ReconcilePermissions(ctx, identity.DID, owned, existing); err != nil {
		return nil, fmt.Errorf("failed to reconcile permissions: %w", err)
	}

	profile, err := s.Enriched(ctx, identity.DID)
	if err != nil {
		return nil, err
	}

	logger.WithField("owned_feeds", len(owned)).Info("profile synced")
	return profile, nil
}

// Enriched returns the stored profile with roles by feed. A failed role
// read yields an empty role map.
func (s *Service) Enriched(ctx context.Context, did string) (*EnrichedProfile, error) {
	profile, err := s.repo.Get(ctx, did)
	if err != nil {
		return nil, err
	}

	roles, err := s.perms.ListFeedRoles(ctx, did)
	if err != nil {
		s.logger.WithError(err).WithField("did", did).Warn("failed to load feed roles")
		roles = nil
	}
	if roles == nil {
		roles = map[string]auth.Role{}
	}

	return &EnrichedProfile{Profile: *profile, RolesByFeed: roles}, nil
}

// UserFeeds lists the feeds did can moderate, with AppView metadata when
// available, and picks a default feed
func (s *Service) UserFeeds(ctx context.Context, did string) *FeedList {
	logger := s.logger.WithField("did", did)

	perms, err := s.perms.ListPermissions(ctx, did)
	if err != nil {
		logger.WithError(err).Warn("failed to load permissions for feed list")
		perms = nil
	}

	var uris []string
	for _, p := range perms {
		if p.Role.AtLeast(auth.RoleMod) {
			uris = append(uris, p.URI)
		}
	}
	lookup := uris
	if s.defaultFeedURI != "" && !containsString(uris, s.defaultFeedURI) {
		lookup = append(append([]string(nil), uris...), s.defaultFeedURI)
	}

	meta := make(map[string]bsky.FeedView, len(lookup))
	if len(lookup) > 0 {
		views, err := s.directory.GetFeedGenerators(ctx, lookup)
		if err != nil {
			logger.WithError(err).Warn("feed metadata unavailable")
		}
		for _, v := range views {
			meta[v.URI] = v
		}
	}

	list := &FeedList{Feeds: []UserFeed{}}
	for _, p := range perms {
		if !p.Role.AtLeast(auth.RoleMod) {
			continue
		}
		feed := UserFeed{
			URI:             p.URI,
			DisplayName:     p.FeedName,
			Role:            p.Role,
			AllowedServices: p.AllowedServices,
		}
		if v, ok := meta[p.URI]; ok {
			if v.DisplayName != "" {
				feed.DisplayName = v.DisplayName
			}
			feed.Description = v.Description
			feed.Avatar = v.Avatar
		}
		if feed.AllowedServices == nil {
			feed.AllowedServices = []string{}
		}
		list.Feeds = append(list.Feeds, feed)
	}

	list.DefaultFeed = s.defaultFeed(list.Feeds, meta)
	return list
}

func (s *Service) defaultFeed(feeds []UserFeed, meta map[string]bsky.FeedView) *UserFeed {
	if s.defaultFeedURI != "" {
		for i := range feeds {
			if feeds[i].URI == s.defaultFeedURI {
				return &feeds[i]
			}
		}
		feed := UserFeed{URI: s.defaultFeedURI, Role: auth.RoleUser, AllowedServices: []string{}}
		if v, ok := meta[s.defaultFeedURI]; ok {
			feed.DisplayName = v.DisplayName
			feed.Description = v.Description
			feed.Avatar = v.Avatar
		}
		return &feed
	}

	for i := range feeds {
		if feeds[i].Role == auth.RoleAdmin {
			return &feeds[i]
		}
	}
	if len(feeds) > 0 {
		return &feeds[0]
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
