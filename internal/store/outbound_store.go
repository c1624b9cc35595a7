package store

import (
	"context"
	"fmt"
	"time"
)

// QueueStatus is the lifecycle state of an outbound queue.
type QueueStatus string

const (
	QueueActive    QueueStatus = "active"
	QueuePaused    QueueStatus = "paused"
	QueueCompleted QueueStatus = "completed"
)

// EntryStatus is the lifecycle state of one outbound entry.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryActive  EntryStatus = "active"
	EntryDone    EntryStatus = "done"
	EntrySkipped EntryStatus = "skipped"
	EntryError   EntryStatus = "error"
)

// Qualification classifies an entry from its replies and alters follow-up
// cadence. Empty means not yet qualified.
type Qualification string

const (
	QualCold       Qualification = "cold"
	QualWarm       Qualification = "warm"
	QualInterested Qualification = "interested"
	QualQualified  Qualification = "qualified"
	QualRejected   Qualification = "rejected"
)

// ParseQualification validates a qualification string at the boundary.
// The empty string is valid (clears the qualification).
func ParseQualification(s string) (Qualification, error) {
	switch Qualification(s) {
	case "", QualCold, QualWarm, QualInterested, QualQualified, QualRejected:
		return Qualification(s), nil
	}
	return "", fmt.Errorf("%w: qualification %q", ErrInvalidInput, s)
}

// OutboundQueue drives agent-initiated conversations over its entries.
type OutboundQueue struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions,omitempty"` // prompt for the sending agent
	IntervalMs   int64  `json:"interval_ms"`            // base cadence between rounds
	AgentID      string `json:"agent_id"`

	// Active-hours window in the queue's timezone ("09:00".."18:00");
	// empty start/end means always active. Schedule optionally holds a cron
	// expression that additionally gates ticks.
	HoursStart string `json:"hours_start,omitempty"`
	HoursEnd   string `json:"hours_end,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Schedule   string `json:"schedule,omitempty"`

	// FollowUp maps qualification → delay minutes; once an entry is
	// qualified, a configured delay replaces the base interval.
	FollowUp  map[Qualification]int `json:"follow_up,omitempty"`
	MaxRounds int                   `json:"max_rounds"`

	Status     QueueStatus `json:"status"`
	Processed  int         `json:"processed"`
	Sent       int         `json:"sent"`
	Skipped    int         `json:"skipped"`
	NextRunAt  *time.Time  `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time  `json:"last_run_at,omitempty"`
	LastStatus string      `json:"last_status,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// OutboundEntry is one contact's slot in a queue.
type OutboundEntry struct {
	ID        string `json:"id"`
	QueueID   string `json:"queue_id"`
	ContactID string `json:"contact_id"`
	Position  int    `json:"position"`

	Status          EntryStatus       `json:"status"`
	Qualification   Qualification     `json:"qualification,omitempty"`
	RoundsCompleted int               `json:"rounds_completed"`
	Context         map[string]string `json:"context,omitempty"` // free-form, survives rounds

	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	LastSentAt      *time.Time `json:"last_sent_at,omitempty"`
	LastResponseAt  *time.Time `json:"last_response_at,omitempty"`
	LastResponse    string     `json:"last_response,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	// SenderIdentity is the canonical identity the send went out to, kept
	// for correlating inbound replies back to this entry.
	SenderIdentity string `json:"sender_identity,omitempty"`
	PendingReceipt bool   `json:"pending_receipt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the entry can never be selected again.
func (e *OutboundEntry) Terminal(maxRounds int) bool {
	switch e.Status {
	case EntryDone, EntrySkipped, EntryError:
		return true
	}
	return maxRounds > 0 && e.RoundsCompleted >= maxRounds
}

// OutboundStore persists queues and entries.
type OutboundStore interface {
	CreateQueue(ctx context.Context, q *OutboundQueue) error
	GetQueue(ctx context.Context, id string) (*OutboundQueue, error)
	GetQueueByName(ctx context.Context, name string) (*OutboundQueue, error)
	ListQueues(ctx context.Context) ([]OutboundQueue, error)
	SetQueueStatus(ctx context.Context, id string, status QueueStatus) error
	// RecordQueueRun updates run bookkeeping and adds counter deltas
	// atomically.
	RecordQueueRun(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time, lastStatus, lastError string, processed, sent, skipped int) error
	DeleteQueue(ctx context.Context, id string) error

	AddEntry(ctx context.Context, e *OutboundEntry) error
	GetEntry(ctx context.Context, id string) (*OutboundEntry, error)
	// ListEntries returns all entries for a queue ordered by position.
	ListEntries(ctx context.Context, queueID string) ([]OutboundEntry, error)
	// CountOpenEntries counts entries that are not in a terminal status.
	CountOpenEntries(ctx context.Context, queueID string) (int, error)

	// ClaimEntry is the compare-and-set pending→active transition. It
	// returns false when the entry was not pending (already claimed by a
	// concurrent tick).
	ClaimEntry(ctx context.Context, id string) (bool, error)
	// RecordEntrySend finishes a round: stamps sent/processed times, bumps
	// rounds, stores the resolved sender identity, and moves the entry to
	// nextStatus (pending for another round, done when rounds are exhausted).
	RecordEntrySend(ctx context.Context, id string, at time.Time, senderIdentity string, nextStatus EntryStatus) error
	SetEntryStatus(ctx context.Context, id string, status EntryStatus) error
	SetEntryError(ctx context.Context, id string, msg string, status EntryStatus) error
	SetQualification(ctx context.Context, id string, q Qualification) error
	// RecordEntryResponse stores an inbound reply and clears the
	// pending-receipt marker.
	RecordEntryResponse(ctx context.Context, id string, at time.Time, text string) error
	// FindEntryBySender locates the most recent entry whose send went out to
	// the given canonical identity and still awaits a reply.
	FindEntryBySender(ctx context.Context, senderIdentity string) (*OutboundEntry, error)
	// ResetEntry returns the entry to pending, clearing rounds, timestamps,
	// responses, and qualification. With full=true the context map is also
	// cleared except its "name" key.
	ResetEntry(ctx context.Context, id string, full bool) error
	DeleteEntry(ctx context.Context, id string) error
}
