package modlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// Store appends to and queries the logs table
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewStore creates a log store. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// Record appends entry. Failures are returned to the caller; an audit row
// that cannot be written is never dropped silently.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.URI == "" || entry.PerformedBy == "" {
		return fmt.Errorf("log entry requires uri and performed_by")
	}
	if !entry.Action.Valid() {
		return fmt.Errorf("unknown moderation action %q", entry.Action)
	}

	// JSONB must be bound as text; lib/pq sends []byte as bytea.
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		metadata = sql.NullString{String: string(entry.Metadata), Valid: true}
	}

	query := `
		INSERT INTO logs (uri, performed_by, action, target_user_did, target_post_uri, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.URI,
		entry.PerformedBy,
		string(entry.Action),
		nullString(entry.TargetUserDID),
		nullString(entry.TargetPostURI),
		metadata,
	)

	s.observe(entry, err)
	if err != nil {
		return fmt.Errorf("failed to record moderation log: %w", err)
	}
	return nil
}

func (s *Store) observe(entry Entry, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ModerationLogWrites.WithLabelValues(string(entry.Action), status).Inc()
}

// Query returns entries matching filter with performer and target profile
// summaries joined in when those profiles exist.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	filter = filter.normalized()

	query := `
		SELECT l.id, l.uri, l.performed_by, l.action,
			COALESCE(l.target_user_did, ''), COALESCE(l.target_post_uri, ''), l.metadata, l.created_at,
			pb.did, pb.handle, pb.display_name, pb.avatar,
			tu.did, tu.handle, tu.display_name, tu.avatar
		FROM logs l
		LEFT JOIN profiles pb ON pb.did = l.performed_by
		LEFT JOIN profiles tu ON tu.did = l.target_user_did
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filter.URI != "" {
		query += fmt.Sprintf(" AND l.uri = $%d", argCount)
		args = append(args, filter.URI)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND l.action = $%d", argCount)
		args = append(args, string(filter.Action))
		argCount++
	}

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		query += fmt.Sprintf(" AND l.action = ANY($%d)", argCount)
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.PerformedBy != "" {
		query += fmt.Sprintf(" AND l.performed_by = $%d", argCount)
		args = append(args, filter.PerformedBy)
		argCount++
	}

	if filter.TargetUserDID != "" {
		query += fmt.Sprintf(" AND l.target_user_did = $%d", argCount)
		args = append(args, filter.TargetUserDID)
		argCount++
	}

	if filter.TargetPostURI != "" {
		query += fmt.Sprintf(" AND l.target_post_uri = $%d", argCount)
		args = append(args, filter.TargetPostURI)
		argCount++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND l.created_at >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND l.created_at <= $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	if filter.Order == OrderAsc {
		query += " ORDER BY l.created_at ASC, l.id ASC"
	} else {
		query += " ORDER BY l.created_at DESC, l.id DESC"
	}

	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderation log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var metadata []byte
		var performer, target nullProfile
		err := rows.Scan(
			&e.ID, &e.URI, &e.PerformedBy, &e.Action,
			&e.TargetUserDID, &e.TargetPostURI, &metadata, &e.CreatedAt,
			&performer.did, &performer.handle, &performer.displayName, &performer.avatar,
			&target.did, &target.handle, &target.displayName, &target.avatar,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan moderation log: %w", err)
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		e.Performer = performer.summary()
		e.TargetUser = target.summary()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read moderation log: %w", err)
	}

	return entries, nil
}

type nullProfile struct {
	did, handle, displayName, avatar sql.NullString
}

func (p nullProfile) summary() *ProfileSummary {
	if !p.did.Valid {
		return nil
	}
	return &ProfileSummary{
		DID:         p.did.String,
		Handle:      p.handle.String,
		DisplayName: p.displayName.String,
		Avatar:      p.avatar.String,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
