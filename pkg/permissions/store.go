package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store handles feed_permissions persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new permissions store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetRole returns the stored role for (did, uri). found is false when no
// row exists.
func (s *Store) GetRole(ctx context.Context, did, uri string) (role auth.Role, found bool, err error) {
	query := `SELECT role FROM feed_permissions WHERE did = $1 AND uri = $2`

	err = s.db.QueryRowContext(ctx, query, did, uri).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get role: %w", err)
	}
	return role, true, nil
}

// ListByDID returns every permission row for a user
func (s *Store) ListByDID(ctx context.Context, did string) ([]FeedPermission, error) {
	query := `
		SELECT did, uri, feed_name, role, allowed_services, COALESCE(created_by, ''), created_at
		FROM feed_permissions
		WHERE did = $1
		ORDER BY created_at ASC, uri ASC
	`

	rows, err := s.db.QueryContext(ctx, query, did)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []FeedPermission
	for rows.Next() {
		var p FeedPermission
		if err := rows.Scan(&p.DID, &p.URI, &p.FeedName, &p.Role, pq.Array(&p.AllowedServices), &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListFeedRoles returns the user's role keyed by feed uri
func (s *Store) ListFeedRoles(ctx context.Context, did string) (map[string]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uri, role FROM feed_permissions WHERE did = $1`, did)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]auth.Role)
	for rows.Next() {
		var uri string
		var role auth.Role
		if err := rows.Scan(&uri, &role); err != nil {
			return nil, fmt.Errorf("failed to scan feed role: %w", err)
		}
		roles[uri] = role
	}
	return roles, rows.Err()
}

// Upsert writes one permission row keyed by (did, uri)
func (s *Store) Upsert(ctx context.Context, p FeedPermission) error {
	return s.UpsertMany(ctx, []FeedPermission{p})
}

// UpsertMany writes rows in a single statement. Conflicting (did, uri) rows
// take the new role, feed name and services.
func (s *Store) UpsertMany(ctx context.Context, perms []FeedPermission) error {
	if len(perms) == 0 {
		return nil
	}

	q := psql.Insert("feed_permissions").
		Columns("did", "uri", "feed_name", "role", "allowed_services", "created_by")
	for _, p := range perms {
		services := p.AllowedServices
		if services == nil {
			services = []string{}
		}
		q = q.Values(p.DID, p.URI, p.FeedName, string(p.Role), pq.Array(services), nullable(p.CreatedBy))
	}
	q = q.Suffix(`ON CONFLICT (did, uri) DO UPDATE SET
		role = EXCLUDED.role,
		feed_name = CASE WHEN EXCLUDED.feed_name = '' THEN feed_permissions.feed_name ELSE EXCLUDED.feed_name END,
		allowed_services = EXCLUDED.allowed_services`)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build permission upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert permissions: %w", err)
	}
	return nil
}

// EnsureProfile creates a placeholder profile (handle = did) when none
// exists, so permission rows never reference a missing profile.
func (s *Store) EnsureProfile(ctx context.Context, did string) error {
	query := `
		INSERT INTO profiles (did, handle)
		VALUES ($1, $1)
		ON CONFLICT (did) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, did); err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// ListModerators returns the mods of a feed with their profile summaries
func (s *Store) ListModerators(ctx context.Context, uri string) ([]Moderator, error) {
	query := `
		SELECT fp.did, COALESCE(p.handle, fp.did), COALESCE(p.display_name, ''), COALESCE(p.avatar, ''),
			fp.uri, fp.feed_name, fp.role, fp.created_at
		FROM feed_permissions fp
		LEFT JOIN profiles p ON p.did = fp.did
		WHERE fp.uri = $1 AND fp.role = 'mod'
		ORDER BY fp.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to list moderators: %w", err)
	}
	defer rows.Close()

	var mods []Moderator
	for rows.Next() {
		var m Moderator
		if err := rows.Scan(&m.DID, &m.Handle, &m.DisplayName, &m.Avatar, &m.URI, &m.FeedName, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan moderator: %w", err)
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
