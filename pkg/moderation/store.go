package moderation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store handles moderation_services and report_options persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new moderation store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListServices returns every configured moderation service
func (s *Store) ListServices(ctx context.Context) ([]Service, error) {
	query := `
		SELECT value, label, COALESCE(admin_did, ''), created_at
		FROM moderation_services
		ORDER BY created_at ASC, value ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list moderation services: %w", err)
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.Value, &svc.Label, &svc.AdminDID, &svc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan moderation service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// UpsertService inserts or replaces a service by value. Callers outside
// this package should go through Registry.Save so the cache is dropped.
func (s *Store) UpsertService(ctx context.Context, svc Service) error {
	query, args, err := psql.Insert("moderation_services").
		Columns("value", "label", "admin_did").
		Values(svc.Value, svc.Label, sql.NullString{String: svc.AdminDID, Valid: svc.AdminDID != ""}).
		Suffix("ON CONFLICT (value) DO UPDATE SET label = EXCLUDED.label, admin_did = EXCLUDED.admin_did").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build service upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert moderation service: %w", err)
	}
	return nil
}

// ListReportOptions returns the report reason catalogue in display order
func (s *Store) ListReportOptions(ctx context.Context) ([]ReportOption, error) {
	query := `
		SELECT id, title, description, reason, position
		FROM report_options
		ORDER BY position ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list report options: %w", err)
	}
	defer rows.Close()

	var options []ReportOption
	for rows.Next() {
		var opt ReportOption
		if err := rows.Scan(&opt.ID, &opt.Title, &opt.Description, &opt.Reason, &opt.Position); err != nil {
			return nil, fmt.Errorf("failed to scan report option: %w", err)
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

// UpsertReportOption inserts or replaces a report option by id
func (s *Store) UpsertReportOption(ctx context.Context, opt ReportOption) error {
	query, args, err := psql.Insert("report_options").
		Columns("id", "title", "description", "reason", "position").
		Values(opt.ID, opt.Title, opt.Description, opt.Reason, opt.Position).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			reason = EXCLUDED.reason,
			position = EXCLUDED.position`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build report option upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert report option: %w", err)
	}
	return nil
}
