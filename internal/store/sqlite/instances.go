package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// InstanceStore implements store.InstanceStore on SQLite.
type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

const instanceColumns = `id, name, channel_type, connector_id, default_agent,
	dm_policy, group_policy, dm_scope, allow_from, group_allow, created_at, updated_at`

func scanInstance(row interface{ Scan(...any) error }) (*store.Instance, error) {
	var inst store.Instance
	var allowFrom, groupAllow string
	err := row.Scan(&inst.ID, &inst.Name, &inst.ChannelType, &inst.ConnectorID,
		&inst.DefaultAgent, &inst.DMPolicy, &inst.GroupPolicy, &inst.DMScope,
		&allowFrom, &groupAllow, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.AllowFrom = decodeStrings(allowFrom)
	inst.GroupAllow = decodeStrings(groupAllow)
	return &inst, nil
}

func validateInstance(inst *store.Instance) error {
	if inst.Name == "" || inst.ChannelType == "" {
		return fmt.Errorf("%w: instance needs name and channel type", store.ErrInvalidInput)
	}
	if inst.DMPolicy == "" {
		inst.DMPolicy = store.DMOpen
	}
	if inst.GroupPolicy == "" {
		inst.GroupPolicy = store.GroupOpen
	}
	if _, err := store.ParseDMPolicy(string(inst.DMPolicy)); err != nil {
		return err
	}
	if _, err := store.ParseGroupPolicy(string(inst.GroupPolicy)); err != nil {
		return err
	}
	return nil
}

func (s *InstanceStore) Create(ctx context.Context, inst *store.Instance) error {
	if err := validateInstance(inst); err != nil {
		return err
	}
	if inst.ID == "" {
		inst.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO instances (`+instanceColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, inst.Name, inst.ChannelType, inst.ConnectorID, inst.DefaultAgent,
			inst.DMPolicy, inst.GroupPolicy, inst.DMScope,
			encodeJSON(inst.AllowFrom), encodeJSON(inst.GroupAllow),
			inst.CreatedAt, inst.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("instance %s: %w", inst.Name, store.ErrConflict)
		}
		return err
	})
}

func (s *InstanceStore) GetByName(ctx context.Context, name string) (*store.Instance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instance %s: %w", name, store.ErrNotFound)
	}
	return inst, err
}

func (s *InstanceStore) List(ctx context.Context) ([]store.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (s *InstanceStore) Update(ctx context.Context, inst *store.Instance) error {
	if err := validateInstance(inst); err != nil {
		return err
	}
	inst.UpdatedAt = time.Now().UTC()
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE instances SET channel_type = ?, connector_id = ?, default_agent = ?,
			 dm_policy = ?, group_policy = ?, dm_scope = ?, allow_from = ?, group_allow = ?,
			 updated_at = ? WHERE name = ?`,
			inst.ChannelType, inst.ConnectorID, inst.DefaultAgent,
			inst.DMPolicy, inst.GroupPolicy, inst.DMScope,
			encodeJSON(inst.AllowFrom), encodeJSON(inst.GroupAllow),
			inst.UpdatedAt, inst.Name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("instance %s: %w", inst.Name, store.ErrNotFound)
		}
		return nil
	})
}

func (s *InstanceStore) Delete(ctx context.Context, name string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("instance %s: %w", name, store.ErrNotFound)
		}
		return nil
	})
}
