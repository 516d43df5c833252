package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tables usable as a PostgresStore
const (
	TableAuthStates   = "auth_states"
	TableAuthSessions = "auth_sessions"
)

// PostgresStore keeps values in one of the auth_* tables
type PostgresStore struct {
	db    *sql.DB
	table string
	ttl   time.Duration
}

// NewPostgresStore creates a store over table. A zero ttl keeps rows until
// they are deleted. Only TableAuthStates and TableAuthSessions are accepted.
func NewPostgresStore(db *sql.DB, table string, ttl time.Duration) (*PostgresStore, error) {
	if table != TableAuthStates && table != TableAuthSessions {
		return nil, fmt.Errorf("unsupported kv table %q", table)
	}
	return &PostgresStore{db: db, table: table, ttl: ttl}, nil
}

// Get returns the value for key, ErrNotFound if missing or expired
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, s.table)

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s.table, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	var expiresAt sql.NullTime
	if s.ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(s.ttl).UTC(), Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, created_at = NOW()
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.table, err)
	}
	return nil
}

// Del removes key. Deleting a missing key is not an error.
func (s *PostgresStore) Del(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", s.table, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= NOW()`, s.table)
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", s.table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return n, nil
}
