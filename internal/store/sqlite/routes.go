package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// RouteStore implements store.RouteStore on SQLite. Deletion is a tombstone
// timestamp; default read paths filter tombstoned rows.
type RouteStore struct {
	db *sql.DB
}

func NewRouteStore(db *sql.DB) *RouteStore {
	return &RouteStore{db: db}
}

const routeColumns = `id, pattern, instance_name, target_agent, priority, policy,
	session_name, channel, deleted_at, created_at, updated_at`

func scanRoute(row interface{ Scan(...any) error }) (*store.Route, error) {
	var r store.Route
	var policy sql.NullString
	var deleted sql.NullTime
	err := row.Scan(&r.ID, &r.Pattern, &r.Instance, &r.Agent, &r.Priority, &policy,
		&r.SessionName, &r.Channel, &deleted, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if policy.Valid && policy.String != "" {
		var p store.RoutePolicy
		if json.Unmarshal([]byte(policy.String), &p) == nil {
			r.Policy = &p
		}
	}
	r.DeletedAt = nullTime(deleted)
	return &r, nil
}

func encodePolicy(p *store.RoutePolicy) any {
	if p == nil {
		return nil
	}
	return encodeJSON(p)
}

func (s *RouteStore) Create(ctx context.Context, r *store.Route) error {
	if r.Pattern == "" || r.Instance == "" {
		return fmt.Errorf("%w: route needs pattern and instance", store.ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO routes (id, pattern, instance_name, target_agent, priority,
			 policy, session_name, channel, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Pattern, r.Instance, r.Agent, r.Priority,
			encodePolicy(r.Policy), r.SessionName, r.Channel, r.CreatedAt, r.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("route %s@%s: %w", r.Pattern, r.Instance, store.ErrConflict)
		}
		return err
	})
}

func (s *RouteStore) Get(ctx context.Context, pattern, instance string) (*store.Route, error) {
	r, err := scanRoute(s.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM routes
		 WHERE pattern = ? AND instance_name = ? AND deleted_at IS NULL`,
		pattern, instance))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("route %s@%s: %w", pattern, instance, store.ErrNotFound)
	}
	return r, err
}

func (s *RouteStore) ListByInstance(ctx context.Context, instance string) ([]store.Route, error) {
	return s.list(ctx,
		`SELECT `+routeColumns+` FROM routes
		 WHERE instance_name = ? AND deleted_at IS NULL
		 ORDER BY priority DESC, pattern`, instance)
}

func (s *RouteStore) ListAll(ctx context.Context, instance string) ([]store.Route, error) {
	return s.list(ctx,
		`SELECT `+routeColumns+` FROM routes
		 WHERE instance_name = ?
		 ORDER BY priority DESC, pattern`, instance)
}

func (s *RouteStore) list(ctx context.Context, query string, args ...any) ([]store.Route, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *RouteStore) Update(ctx context.Context, r *store.Route) error {
	r.UpdatedAt = time.Now().UTC()
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE routes SET target_agent = ?, priority = ?, policy = ?,
			 session_name = ?, channel = ?, updated_at = ?
			 WHERE pattern = ? AND instance_name = ? AND deleted_at IS NULL`,
			r.Agent, r.Priority, encodePolicy(r.Policy),
			r.SessionName, r.Channel, r.UpdatedAt, r.Pattern, r.Instance)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("route %s@%s: %w", r.Pattern, r.Instance, store.ErrNotFound)
		}
		return nil
	})
}

func (s *RouteStore) Delete(ctx context.Context, pattern, instance string) error {
	return withRetry(ctx, func() error {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			`UPDATE routes SET deleted_at = ?, updated_at = ?
			 WHERE pattern = ? AND instance_name = ? AND deleted_at IS NULL`,
			now, now, pattern, instance)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("route %s@%s: %w", pattern, instance, store.ErrNotFound)
		}
		return nil
	})
}

func (s *RouteStore) Restore(ctx context.Context, pattern, instance string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE routes SET deleted_at = NULL, updated_at = ?
			 WHERE pattern = ? AND instance_name = ? AND deleted_at IS NOT NULL`,
			time.Now().UTC(), pattern, instance)
		if isUniqueViolation(err) {
			// A live route with the same pattern was created after the delete.
			return fmt.Errorf("route %s@%s: %w", pattern, instance, store.ErrConflict)
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("route %s@%s: %w", pattern, instance, store.ErrNotFound)
		}
		return nil
	})
}
