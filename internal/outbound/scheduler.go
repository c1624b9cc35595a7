package outbound

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/filipexyz/ravi-sub000/internal/sessions"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

// SendRequest is one outbound conversation turn handed to the delivery
// adapter.
type SendRequest struct {
	Queue      *store.OutboundQueue
	Entry      *store.OutboundEntry
	Contact    *store.Contact
	SessionKey string
}

// Sender performs the actual delivery. It returns the canonical identity the
// message went out to, used to correlate inbound replies back to the entry.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (sentTo string, err error)
}

// retryable marks send errors worth another attempt on a later tick.
type retryable interface {
	Retryable() bool
}

// Retryable wraps err so the scheduler returns the entry to pending instead
// of parking it in error.
func Retryable(err error) error {
	return retryableError{err}
}

type retryableError struct{ err error }

func (e retryableError) Error() string   { return e.err.Error() }
func (e retryableError) Unwrap() error   { return e.err }
func (e retryableError) Retryable() bool { return true }

// Scheduler ticks active queues and works their entries one send at a time.
// All state transitions go through the store's compare-and-set claim so
// overlapping ticks never double-send.
type Scheduler struct {
	store    store.OutboundStore
	contacts store.ContactStore
	sessions *sessions.Manager
	sender   Sender
	limiter  *rate.Limiter
	tick     time.Duration
	now      func() time.Time
	tracer   trace.Tracer
	log      *slog.Logger
	kick     chan struct{}
}

// SchedulerConfig wires a Scheduler. Limiter and Now are optional.
type SchedulerConfig struct {
	Store    store.OutboundStore
	Contacts store.ContactStore
	Sessions *sessions.Manager
	Sender   Sender
	Limiter  *rate.Limiter
	Tick     time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		contacts: cfg.Contacts,
		sessions: cfg.Sessions,
		sender:   cfg.Sender,
		limiter:  cfg.Limiter,
		tick:     cfg.Tick,
		now:      cfg.Now,
		tracer:   otel.Tracer("outbound"),
		log:      cfg.Logger,
		kick:     make(chan struct{}, 1),
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.TickAll(ctx)
		case <-s.kick:
			s.TickAll(ctx)
		}
	}
}

// Kick requests an out-of-band pass, used when queue definitions change
// between ticks. Coalesces if a kick is already pending.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// TriggerQueue runs one forced tick for a queue, bypassing the cadence,
// hours, and cron gates. Paused and completed queues are left alone.
func (s *Scheduler) TriggerQueue(ctx context.Context, queueID string) error {
	q, err := s.store.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	if q.Status != store.QueueActive {
		return nil
	}
	return s.tickQueue(ctx, q, true)
}

// TickAll runs one pass over every active queue. Queue failures are isolated:
// one broken queue never stops the others.
func (s *Scheduler) TickAll(ctx context.Context) {
	queues, err := s.store.ListQueues(ctx)
	if err != nil {
		s.log.Warn("queue list failed", "error", err)
		return
	}
	for i := range queues {
		q := &queues[i]
		if q.Status != store.QueueActive {
			continue
		}
		if err := s.TickQueue(ctx, q); err != nil && ctx.Err() == nil {
			s.log.Warn("queue tick failed", "queue", q.Name, "error", err)
		}
	}
}

// TickQueue runs one tick for a queue: gate by cadence, hours, and cron, pick
// the earliest-eligible pending entry by position, claim it, send, record.
func (s *Scheduler) TickQueue(ctx context.Context, q *store.OutboundQueue) error {
	return s.tickQueue(ctx, q, false)
}

func (s *Scheduler) tickQueue(ctx context.Context, q *store.OutboundQueue, forced bool) error {
	now := s.now()

	if !forced {
		if q.NextRunAt != nil && now.Before(*q.NextRunAt) {
			return nil
		}
		if ok, err := withinHours(q, now); err != nil {
			return err
		} else if !ok {
			return nil
		}
		if due, err := scheduleDue(q, now, s.tick); err != nil {
			return err
		} else if !due {
			return nil
		}
	}

	ctx, span := s.tracer.Start(ctx, "outbound.tick",
		trace.WithAttributes(attribute.String("queue", q.Name)))
	defer span.End()

	entry, err := s.pickEntry(ctx, q, now, forced)
	if err != nil {
		return err
	}
	if entry == nil {
		return s.maybeComplete(ctx, q, now)
	}

	// Claim before any side effect; a concurrent tick losing this CAS walks
	// away without sending.
	claimed, err := s.store.ClaimEntry(ctx, entry.ID)
	if err != nil {
		return err
	}
	if !claimed {
		span.SetAttributes(attribute.Bool("lost_claim", true))
		return nil
	}

	sent, err := s.sendEntry(ctx, q, entry, now)
	next := now.Add(time.Duration(q.IntervalMs) * time.Millisecond)
	status, errText := "ok", ""
	sentN := 0
	if err != nil {
		status, errText = "error", err.Error()
	}
	if sent {
		sentN = 1
	}
	if rerr := s.store.RecordQueueRun(ctx, q.ID, now, &next, status, errText, 1, sentN, 0); rerr != nil {
		s.log.Warn("queue run record failed", "queue", q.Name, "error", rerr)
	}
	return err
}

// pickEntry returns the earliest-eligible pending entry by position, or nil.
// A forced pick skips the follow-up delay, not the state checks.
func (s *Scheduler) pickEntry(ctx context.Context, q *store.OutboundQueue, now time.Time, forced bool) (*store.OutboundEntry, error) {
	entries, err := s.store.ListEntries(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		if e.Status != store.EntryPending || e.Terminal(q.MaxRounds) {
			continue
		}
		if !forced {
			if eligible := nextEligible(q, e); !eligible.IsZero() && now.Before(eligible) {
				continue
			}
		}
		return e, nil
	}
	return nil, nil
}

// maybeComplete moves an active queue to completed once every entry is
// terminal. Completion is observed by a tick, never invoked directly.
func (s *Scheduler) maybeComplete(ctx context.Context, q *store.OutboundQueue, now time.Time) error {
	open, err := s.store.CountOpenEntries(ctx, q.ID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	s.log.Info("queue completed", "queue", q.Name)
	return s.store.SetQueueStatus(ctx, q.ID, store.QueueCompleted)
}

// sendEntry performs one round for a claimed entry. Returns whether a send
// actually happened.
func (s *Scheduler) sendEntry(ctx context.Context, q *store.OutboundQueue, e *store.OutboundEntry, now time.Time) (bool, error) {
	var contact *store.Contact
	if e.ContactID != "" {
		var err error
		contact, err = s.contacts.GetByID(ctx, e.ContactID)
		if errors.Is(err, store.ErrNotFound) {
			// Contact removed out from under the queue: skip the slot.
			return false, s.store.SetEntryError(ctx, e.ID, "contact no longer exists", store.EntrySkipped)
		}
		if err != nil {
			return false, err
		}
		if contact.OptOut || contact.Status == store.StatusBlocked {
			return false, s.store.SetEntryError(ctx, e.ID, "contact opted out", store.EntrySkipped)
		}
	}

	key := sessions.BuildQueueSessionKey(q.AgentID, q.ID, e.ID)
	if _, err := s.sessions.GetOrCreate(ctx, key, q.AgentID); err != nil {
		return false, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	sentTo, err := s.sender.Send(ctx, SendRequest{
		Queue:      q,
		Entry:      e,
		Contact:    contact,
		SessionKey: key,
	})
	if err != nil {
		var r retryable
		if errors.As(err, &r) && r.Retryable() {
			// Back to pending; the next eligible tick retries.
			if serr := s.store.SetEntryError(ctx, e.ID, err.Error(), store.EntryPending); serr != nil {
				return false, serr
			}
			return false, err
		}
		if serr := s.store.SetEntryError(ctx, e.ID, err.Error(), store.EntryError); serr != nil {
			return false, serr
		}
		return false, err
	}

	nextStatus := store.EntryPending
	if q.MaxRounds > 0 && e.RoundsCompleted+1 >= q.MaxRounds {
		nextStatus = store.EntryDone
	}
	if err := s.store.RecordEntrySend(ctx, e.ID, now, sentTo, nextStatus); err != nil {
		return false, err
	}
	if contact != nil {
		if err := s.contacts.RecordOutbound(ctx, contact.ID, now); err != nil {
			s.log.Warn("interaction record failed", "contact", contact.ID, "error", err)
		}
	}
	s.log.Info("outbound sent", "queue", q.Name, "entry", e.ID,
		"round", e.RoundsCompleted+1, "to", sentTo, "next_status", nextStatus)
	return true, nil
}
