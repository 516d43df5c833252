package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Store handles profiles persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new profile store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts a profile or overwrites every mutable field of an
// existing one
func (s *Store) Upsert(ctx context.Context, p Profile) error {
	query := `
		INSERT INTO profiles (did, handle, display_name, avatar, associated, labels)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (did) DO UPDATE SET
			handle = EXCLUDED.handle,
			display_name = EXCLUDED.display_name,
			avatar = EXCLUDED.avatar,
			associated = EXCLUDED.associated,
			labels = EXCLUDED.labels,
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		p.DID,
		p.Handle,
		nullString(p.DisplayName),
		nullString(p.Avatar),
		nullJSON(p.Associated),
		nullJSON(p.Labels),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Get returns the profile for did or ErrProfileNotFound
func (s *Store) Get(ctx context.Context, did string) (*Profile, error) {
	query := `
		SELECT did, handle, COALESCE(display_name, ''), COALESCE(avatar, ''), associated, labels, created_at, updated_at
		FROM profiles
		WHERE did = $1
	`

	var p Profile
	var associated, labels []byte
	err := s.db.QueryRowContext(ctx, query, did).Scan(
		&p.DID, &p.Handle, &p.DisplayName, &p.Avatar, &associated, &labels, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if len(associated) > 0 {
		p.Associated = json.RawMessage(associated)
	}
	if len(labels) > 0 {
		p.Labels = json.RawMessage(labels)
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullJSON binds raw JSON as text; lib/pq would send []byte as bytea
func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
