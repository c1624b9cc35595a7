package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// SessionStore implements store.SessionStore on Postgres. Counter mutations
// are single UPDATE statements so concurrent writers never lose increments.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, session_key, name, agent_id, model_override, thinking_override,
	input_tokens, output_tokens, ephemeral, expires_at, last_channel, last_account,
	last_chat_id, last_context::text, queue_mode, compaction_count, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*store.Session, error) {
	var s store.Session
	var expires sql.NullTime
	var lastCtx string
	err := row.Scan(&s.ID, &s.Key, &s.Name, &s.AgentID, &s.ModelOverride, &s.ThinkingOverride,
		&s.InputTokens, &s.OutputTokens, &s.Ephemeral, &expires,
		&s.LastChannel, &s.LastAccount, &s.LastChatID, &lastCtx,
		&s.QueueMode, &s.CompactionCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = nullTime(expires)
	s.LastContext = decodeStringMap(lastCtx)
	return &s, nil
}

func (s *SessionStore) Create(ctx context.Context, sess *store.Session) error {
	if sess.Key == "" {
		return fmt.Errorf("%w: session needs a key", store.ErrInvalidInput)
	}
	if sess.ID == "" {
		sess.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, session_key, name, agent_id, model_override,
		 thinking_override, ephemeral, expires_at, queue_mode, last_context,
		 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sess.ID, sess.Key, sess.Name, sess.AgentID, sess.ModelOverride,
		sess.ThinkingOverride, sess.Ephemeral, sess.ExpiresAt, sess.QueueMode,
		encodeJSON(sess.LastContext), sess.CreatedAt, sess.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("session %s: %w", sess.Key, store.ErrConflict)
	}
	return err
}

func (s *SessionStore) GetByKey(ctx context.Context, key string) (*store.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_key = $1`, key))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", key, store.ErrNotFound)
	}
	return sess, err
}

func (s *SessionStore) GetByName(ctx context.Context, name string) (*store.Session, error) {
	if name == "" {
		return nil, fmt.Errorf("session: %w", store.ErrNotFound)
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE name = $1 ORDER BY updated_at DESC LIMIT 1`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", name, store.ErrNotFound)
	}
	return sess, err
}

func (s *SessionStore) FindByChatID(ctx context.Context, chatID string) (*store.Session, error) {
	if chatID == "" {
		return nil, fmt.Errorf("session: %w", store.ErrNotFound)
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE last_chat_id = $1 ORDER BY updated_at DESC LIMIT 1`, chatID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session for chat %s: %w", chatID, store.ErrNotFound)
	}
	return sess, err
}

func (s *SessionStore) List(ctx context.Context, agentID string) ([]store.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC`
	args := []any{}
	if agentID != "" {
		query = `SELECT ` + sessionColumns + ` FROM sessions WHERE agent_id = $1 ORDER BY updated_at DESC`
		args = append(args, agentID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// update applies a SET clause written with ?-placeholders, rewriting them to
// $n positions so both backends share the same call sites.
func (s *SessionStore) update(ctx context.Context, key, set string, args ...any) error {
	n := 0
	for strings.Contains(set, "?") {
		n++
		set = strings.Replace(set, "?", fmt.Sprintf("$%d", n), 1)
	}
	args = append(args, time.Now().UTC(), key)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE sessions SET %s, updated_at = $%d WHERE session_key = $%d`,
			set, n+1, n+2), args...)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("session %s: %w", key, store.ErrNotFound)
	}
	return nil
}

func (s *SessionStore) SetName(ctx context.Context, key, name string) error {
	return s.update(ctx, key, `name = ?`, name)
}

func (s *SessionStore) SetOverrides(ctx context.Context, key, model, thinking string) error {
	return s.update(ctx, key, `model_override = ?, thinking_override = ?`, model, thinking)
}

func (s *SessionStore) SetQueueMode(ctx context.Context, key, mode string) error {
	return s.update(ctx, key, `queue_mode = ?`, mode)
}

func (s *SessionStore) AddTokens(ctx context.Context, key string, input, output int64) error {
	return s.update(ctx, key,
		`input_tokens = input_tokens + ?, output_tokens = output_tokens + ?`, input, output)
}

func (s *SessionStore) IncrementCompaction(ctx context.Context, key string) error {
	return s.update(ctx, key, `compaction_count = compaction_count + 1`)
}

func (s *SessionStore) RecordDelivery(ctx context.Context, key, channel, account, chatID string, deliveryCtx map[string]string) error {
	return s.update(ctx, key,
		`last_channel = ?, last_account = ?, last_chat_id = ?, last_context = ?`,
		channel, account, chatID, encodeJSON(deliveryCtx))
}

func (s *SessionStore) SetEphemeral(ctx context.Context, key string, expiresAt time.Time) error {
	return s.update(ctx, key, `ephemeral = TRUE, expires_at = ?`, expiresAt.UTC())
}

func (s *SessionStore) MakePermanent(ctx context.Context, key string) error {
	return s.update(ctx, key, `ephemeral = FALSE, expires_at = NULL`)
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = $1`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", key, store.ErrNotFound)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions
		 WHERE ephemeral = TRUE AND expires_at IS NOT NULL AND expires_at < $1
		 RETURNING session_key`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
