package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// ContactStore implements store.ContactStore on SQLite.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

const contactColumns = `id, name, email, status, reply_mode, tags, notes, opt_out,
	interaction_count, last_inbound_at, last_outbound_at, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*store.Contact, error) {
	var c store.Contact
	var tags, notes string
	var lastIn, lastOut sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Status, &c.ReplyMode, &tags, &notes,
		&c.OptOut, &c.InteractionCount, &lastIn, &lastOut, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Tags = decodeStrings(tags)
	c.Notes = decodeStringMap(notes)
	c.LastInboundAt = nullTime(lastIn)
	c.LastOutboundAt = nullTime(lastOut)
	return &c, nil
}

func (s *ContactStore) Create(ctx context.Context, c *store.Contact) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.Status == "" {
		c.Status = store.StatusAllowed
	}
	if _, err := store.ParseContactStatus(string(c.Status)); err != nil {
		return err
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO contacts (id, name, email, status, reply_mode, tags, notes, opt_out,
			 interaction_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Email, c.Status, c.ReplyMode,
			encodeJSON(c.Tags), encodeJSON(c.Notes), c.OptOut,
			c.InteractionCount, c.CreatedAt, c.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("contact %s: %w", c.ID, store.ErrConflict)
		}
		return err
	})
}

func (s *ContactStore) GetByID(ctx context.Context, id string) (*store.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("contact %s: %w", id, store.ErrNotFound)
	}
	return c, err
}

func (s *ContactStore) GetByIdentity(ctx context.Context, platform, value string) (*store.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE id = (SELECT contact_id FROM identities WHERE platform = ? AND value = ?)`,
		platform, value))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("identity %s/%s: %w", platform, value, store.ErrNotFound)
	}
	return c, err
}

func (s *ContactStore) List(ctx context.Context) ([]store.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *ContactStore) Update(ctx context.Context, id string, upd store.ContactUpdate) (*store.Contact, error) {
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		cur.Name = *upd.Name
	}
	if upd.Email != nil {
		cur.Email = *upd.Email
	}
	if upd.ReplyMode != nil {
		cur.ReplyMode = *upd.ReplyMode
	}
	if upd.Tags != nil {
		cur.Tags = *upd.Tags
	}
	if upd.OptOut != nil {
		cur.OptOut = *upd.OptOut
	}
	if upd.Status != nil {
		if _, err := store.ParseContactStatus(string(*upd.Status)); err != nil {
			return nil, err
		}
		cur.Status = *upd.Status
	}
	if len(upd.Notes) > 0 {
		if cur.Notes == nil {
			cur.Notes = make(map[string]string)
		}
		for k, v := range upd.Notes {
			if v == "" {
				delete(cur.Notes, k)
			} else {
				cur.Notes[k] = v
			}
		}
	}
	cur.UpdatedAt = time.Now().UTC()

	err = withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET name = ?, email = ?, status = ?, reply_mode = ?,
			 tags = ?, notes = ?, opt_out = ?, updated_at = ? WHERE id = ?`,
			cur.Name, cur.Email, cur.Status, cur.ReplyMode,
			encodeJSON(cur.Tags), encodeJSON(cur.Notes), cur.OptOut, cur.UpdatedAt, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *ContactStore) FillName(ctx context.Context, id, name string) error {
	if name == "" {
		return nil
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET name = ?, updated_at = ? WHERE id = ? AND name = ''`,
			name, time.Now().UTC(), id)
		return err
	})
}

func (s *ContactStore) SetStatus(ctx context.Context, id string, status store.ContactStatus) error {
	if _, err := store.ParseContactStatus(string(status)); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("contact %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}

func (s *ContactStore) Delete(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("contact %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}

func (s *ContactStore) AddIdentity(ctx context.Context, ident store.Identity) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT contact_id FROM identities WHERE platform = ? AND value = ?`,
		ident.Platform, ident.Value).Scan(&owner)
	switch {
	case err == nil && owner == ident.ContactID:
		return nil // already linked
	case err == nil:
		return fmt.Errorf("identity %s/%s owned by %s: %w",
			ident.Platform, ident.Value, owner, store.ErrConflict)
	case err != sql.ErrNoRows:
		return err
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO identities (platform, value, contact_id, is_primary, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			ident.Platform, ident.Value, ident.ContactID, ident.Primary, time.Now().UTC())
		if isUniqueViolation(err) {
			// Lost the insert race; the concurrent winner owns the pair now.
			return fmt.Errorf("identity %s/%s: %w", ident.Platform, ident.Value, store.ErrConflict)
		}
		return err
	})
}

func (s *ContactStore) ListIdentities(ctx context.Context, contactID string) ([]store.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, value, contact_id, is_primary, created_at
		 FROM identities WHERE contact_id = ? ORDER BY created_at`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Identity
	for rows.Next() {
		var i store.Identity
		if err := rows.Scan(&i.Platform, &i.Value, &i.ContactID, &i.Primary, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *ContactStore) Merge(ctx context.Context, targetID, sourceID string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		target, err := scanContact(tx.QueryRowContext(ctx,
			`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, targetID))
		if err == sql.ErrNoRows {
			return fmt.Errorf("merge target %s: %w", targetID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		source, err := scanContact(tx.QueryRowContext(ctx,
			`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, sourceID))
		if err == sql.ErrNoRows {
			return fmt.Errorf("merge source %s: %w", sourceID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}

		// Fill only empty target fields from source.
		if target.Name == "" {
			target.Name = source.Name
		}
		if target.Email == "" {
			target.Email = source.Email
		}
		if len(target.Tags) == 0 {
			target.Tags = source.Tags
		}
		if len(target.Notes) == 0 {
			target.Notes = source.Notes
		}
		target.InteractionCount += source.InteractionCount

		if _, err := tx.ExecContext(ctx,
			`UPDATE identities SET contact_id = ? WHERE contact_id = ?`,
			targetID, sourceID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE contacts SET name = ?, email = ?, tags = ?, notes = ?,
			 interaction_count = ?, updated_at = ? WHERE id = ?`,
			target.Name, target.Email, encodeJSON(target.Tags), encodeJSON(target.Notes),
			target.InteractionCount, time.Now().UTC(), targetID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contacts WHERE id = ?`, sourceID); err != nil {
			return err
		}

		return tx.Commit()
	})
}

func (s *ContactStore) RecordInbound(ctx context.Context, id string, at time.Time) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET interaction_count = interaction_count + 1,
			 last_inbound_at = ?, updated_at = ? WHERE id = ?`,
			at, time.Now().UTC(), id)
		return err
	})
}

func (s *ContactStore) RecordOutbound(ctx context.Context, id string, at time.Time) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET interaction_count = interaction_count + 1,
			 last_outbound_at = ?, updated_at = ? WHERE id = ?`,
			at, time.Now().UTC(), id)
		return err
	})
}
