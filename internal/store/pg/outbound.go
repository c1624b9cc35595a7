package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// OutboundStore implements store.OutboundStore on Postgres. The pending→active
// claim is a conditional UPDATE so two overlapping ticks can never both win
// the same entry.
type OutboundStore struct {
	db *sql.DB
}

func NewOutboundStore(db *sql.DB) *OutboundStore {
	return &OutboundStore{db: db}
}

const queueColumns = `id, name, instructions, interval_ms, agent_id, hours_start, hours_end,
	timezone, schedule, follow_up::text, max_rounds, status, processed, sent, skipped,
	next_run_at, last_run_at, last_status, last_error, created_at, updated_at`

const entryColumns = `id, queue_id, contact_id, position, status, qualification,
	rounds_completed, context::text, last_processed_at, last_sent_at, last_response_at,
	last_response, last_error, sender_identity, pending_receipt, created_at, updated_at`

func scanQueue(row interface{ Scan(...any) error }) (*store.OutboundQueue, error) {
	var q store.OutboundQueue
	var followUp string
	var nextRun, lastRun sql.NullTime
	err := row.Scan(&q.ID, &q.Name, &q.Instructions, &q.IntervalMs, &q.AgentID,
		&q.HoursStart, &q.HoursEnd, &q.Timezone, &q.Schedule, &followUp, &q.MaxRounds,
		&q.Status, &q.Processed, &q.Sent, &q.Skipped,
		&nextRun, &lastRun, &q.LastStatus, &q.LastError, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if followUp != "" {
		json.Unmarshal([]byte(followUp), &q.FollowUp)
	}
	if len(q.FollowUp) == 0 {
		q.FollowUp = nil
	}
	q.NextRunAt = nullTime(nextRun)
	q.LastRunAt = nullTime(lastRun)
	return &q, nil
}

func scanEntry(row interface{ Scan(...any) error }) (*store.OutboundEntry, error) {
	var e store.OutboundEntry
	var entryCtx string
	var processed, sent, responded sql.NullTime
	err := row.Scan(&e.ID, &e.QueueID, &e.ContactID, &e.Position, &e.Status, &e.Qualification,
		&e.RoundsCompleted, &entryCtx, &processed, &sent, &responded,
		&e.LastResponse, &e.LastError, &e.SenderIdentity, &e.PendingReceipt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Context = decodeStringMap(entryCtx)
	e.LastProcessedAt = nullTime(processed)
	e.LastSentAt = nullTime(sent)
	e.LastResponseAt = nullTime(responded)
	return &e, nil
}

func (s *OutboundStore) CreateQueue(ctx context.Context, q *store.OutboundQueue) error {
	if q.Name == "" {
		return fmt.Errorf("%w: queue needs a name", store.ErrInvalidInput)
	}
	if q.IntervalMs <= 0 {
		return fmt.Errorf("%w: queue interval must be positive", store.ErrInvalidInput)
	}
	for qual := range q.FollowUp {
		if _, err := store.ParseQualification(string(qual)); err != nil {
			return err
		}
	}
	if q.ID == "" {
		q.ID = uuid.Must(uuid.NewV7()).String()
	}
	if q.Status == "" {
		q.Status = store.QueuePaused
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbound_queues (id, name, instructions, interval_ms, agent_id,
		 hours_start, hours_end, timezone, schedule, follow_up, max_rounds, status,
		 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		q.ID, q.Name, q.Instructions, q.IntervalMs, q.AgentID,
		q.HoursStart, q.HoursEnd, q.Timezone, q.Schedule,
		encodeJSON(q.FollowUp), q.MaxRounds, q.Status, q.CreatedAt, q.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("queue %s: %w", q.Name, store.ErrConflict)
	}
	return err
}

func (s *OutboundStore) GetQueue(ctx context.Context, id string) (*store.OutboundQueue, error) {
	q, err := scanQueue(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM outbound_queues WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue %s: %w", id, store.ErrNotFound)
	}
	return q, err
}

func (s *OutboundStore) GetQueueByName(ctx context.Context, name string) (*store.OutboundQueue, error) {
	q, err := scanQueue(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM outbound_queues WHERE name = $1`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue %s: %w", name, store.ErrNotFound)
	}
	return q, err
}

func (s *OutboundStore) ListQueues(ctx context.Context) ([]store.OutboundQueue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM outbound_queues ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OutboundQueue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *OutboundStore) SetQueueStatus(ctx context.Context, id string, status store.QueueStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_queues SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) RecordQueueRun(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time, lastStatus, lastError string, processed, sent, skipped int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_queues SET last_run_at = $1, next_run_at = $2, last_status = $3,
		 last_error = $4, processed = processed + $5, sent = sent + $6, skipped = skipped + $7,
		 updated_at = $8 WHERE id = $9`,
		lastRunAt.UTC(), nextRunAt, lastStatus, lastError,
		processed, sent, skipped, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) DeleteQueue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbound_queues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) AddEntry(ctx context.Context, e *store.OutboundEntry) error {
	if e.QueueID == "" {
		return fmt.Errorf("%w: entry needs a queue", store.ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.Status == "" {
		e.Status = store.EntryPending
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	if e.Position == 0 {
		// Append at the tail by default.
		row := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM outbound_entries WHERE queue_id = $1`,
			e.QueueID)
		if err := row.Scan(&e.Position); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbound_entries (id, queue_id, contact_id, position, status,
		 qualification, rounds_completed, context, sender_identity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.QueueID, e.ContactID, e.Position, e.Status,
		e.Qualification, e.RoundsCompleted, encodeJSON(e.Context),
		e.SenderIdentity, e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *OutboundStore) GetEntry(ctx context.Context, id string) (*store.OutboundEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM outbound_entries WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return e, err
}

func (s *OutboundStore) ListEntries(ctx context.Context, queueID string) ([]store.OutboundEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM outbound_entries WHERE queue_id = $1 ORDER BY position`,
		queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OutboundEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *OutboundStore) CountOpenEntries(ctx context.Context, queueID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbound_entries
		 WHERE queue_id = $1 AND status IN ('pending', 'active')`, queueID).Scan(&n)
	return n, err
}

func (s *OutboundStore) ClaimEntry(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET status = 'active', updated_at = $1
		 WHERE id = $2 AND status = 'pending'`,
		time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *OutboundStore) RecordEntrySend(ctx context.Context, id string, at time.Time, senderIdentity string, nextStatus store.EntryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET status = $1, rounds_completed = rounds_completed + 1,
		 last_sent_at = $2, last_processed_at = $3, sender_identity = $4, pending_receipt = TRUE,
		 last_error = '', updated_at = $5 WHERE id = $6`,
		nextStatus, at.UTC(), at.UTC(), senderIdentity, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) SetEntryStatus(ctx context.Context, id string, status store.EntryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) SetEntryError(ctx context.Context, id string, msg string, status store.EntryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET last_error = $1, status = $2,
		 last_processed_at = $3, updated_at = $4 WHERE id = $5`,
		msg, status, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) SetQualification(ctx context.Context, id string, q store.Qualification) error {
	if _, err := store.ParseQualification(string(q)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET qualification = $1, updated_at = $2 WHERE id = $3`,
		q, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) RecordEntryResponse(ctx context.Context, id string, at time.Time, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET last_response_at = $1, last_response = $2,
		 pending_receipt = FALSE, updated_at = $3 WHERE id = $4`,
		at.UTC(), text, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *OutboundStore) FindEntryBySender(ctx context.Context, senderIdentity string) (*store.OutboundEntry, error) {
	if senderIdentity == "" {
		return nil, fmt.Errorf("entry: %w", store.ErrNotFound)
	}
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM outbound_entries
		 WHERE sender_identity = $1 AND last_sent_at IS NOT NULL
		 ORDER BY last_sent_at DESC LIMIT 1`, senderIdentity))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry for %s: %w", senderIdentity, store.ErrNotFound)
	}
	return e, err
}

func (s *OutboundStore) ResetEntry(ctx context.Context, id string, full bool) error {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}

	entryCtx := e.Context
	if full {
		// A full reset keeps only the contact's name in context.
		kept := map[string]string{}
		if name, ok := entryCtx["name"]; ok {
			kept["name"] = name
		}
		entryCtx = kept
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE outbound_entries SET status = 'pending', qualification = '',
		 rounds_completed = 0, context = $1, last_processed_at = NULL,
		 last_sent_at = NULL, last_response_at = NULL, last_response = '',
		 last_error = '', pending_receipt = FALSE, updated_at = $2 WHERE id = $3`,
		encodeJSON(entryCtx), time.Now().UTC(), id)
	return err
}

func (s *OutboundStore) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbound_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}
