package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

// Manager handles session lifecycle and lookup on top of the session store.
// All counter updates go through the store's atomic increments; the manager
// never does read-modify-write on full session rows.
type Manager struct {
	store  store.SessionStore
	aborts *bus.AbortRegistry
	log    *slog.Logger
}

func NewManager(st store.SessionStore, aborts *bus.AbortRegistry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, aborts: aborts, log: log}
}

// GetOrCreate returns the session for a key, creating it if absent. A Conflict
// on create means another goroutine won the race; the winner's row is
// returned.
func (m *Manager) GetOrCreate(ctx context.Context, key, agentID string) (*store.Session, error) {
	s, err := m.store.GetByKey(ctx, key)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s = &store.Session{Key: key, AgentID: agentID}
	err = m.store.Create(ctx, s)
	if errors.Is(err, store.ErrConflict) {
		return m.store.GetByKey(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	m.log.Debug("session created", "key", key, "agent", agentID)
	return s, nil
}

// Resolve finds a session by reference: exact key first, then human-assigned
// name, then the last-delivery chat id. Used by operator commands where the
// caller may only know one of the three.
func (m *Manager) Resolve(ctx context.Context, ref string) (*store.Session, error) {
	s, err := m.store.GetByKey(ctx, ref)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	s, err = m.store.GetByName(ctx, ref)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m.store.FindByChatID(ctx, ref)
}

// RecordDelivery stores the last delivery envelope so replies can find their
// way back to the right channel and chat.
func (m *Manager) RecordDelivery(ctx context.Context, key, channel, account, chatID string, deliveryCtx map[string]string) error {
	return m.store.RecordDelivery(ctx, key, channel, account, chatID, deliveryCtx)
}

// AddUsage accumulates token counters.
func (m *Manager) AddUsage(ctx context.Context, key string, input, output int64) error {
	return m.store.AddTokens(ctx, key, input, output)
}

// Rename assigns a human name to a session.
func (m *Manager) Rename(ctx context.Context, key, name string) error {
	return m.store.SetName(ctx, key, name)
}

// SetOverrides stores model/thinking overrides. They apply on the next cold
// start of the agent process, not immediately.
func (m *Manager) SetOverrides(ctx context.Context, key, model, thinking string) error {
	return m.store.SetOverrides(ctx, key, model, thinking)
}

// SetQueueMode controls how arrivals during an active run are handled.
func (m *Manager) SetQueueMode(ctx context.Context, key, mode string) error {
	return m.store.SetQueueMode(ctx, key, mode)
}

// SetEphemeral marks a session for expiry after ttl.
func (m *Manager) SetEphemeral(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", store.ErrInvalidInput)
	}
	return m.store.SetEphemeral(ctx, key, time.Now().Add(ttl))
}

// Extend pushes an ephemeral session's expiry out by ttl from its current
// expiry, or from now when already past it.
func (m *Manager) Extend(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", store.ErrInvalidInput)
	}
	s, err := m.store.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	base := time.Now()
	if s.ExpiresAt != nil && s.ExpiresAt.After(base) {
		base = *s.ExpiresAt
	}
	return m.store.SetEphemeral(ctx, key, base.Add(ttl))
}

// MakePermanent clears the ephemeral flag and expiry.
func (m *Manager) MakePermanent(ctx context.Context, key string) error {
	return m.store.MakePermanent(ctx, key)
}

// Delete removes a session and signals any in-flight dispatch for its key to
// abort. The abort is a signal, not a guarantee that the dispatch halts
// instantly.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	if m.aborts != nil && m.aborts.Abort(key) {
		m.log.Info("aborted in-flight dispatch", "key", key)
	}
	return nil
}

// Reset deletes and recreates a session under the same key, aborting any
// in-flight dispatch. History and counters start over; the key stays stable.
func (m *Manager) Reset(ctx context.Context, key string) (*store.Session, error) {
	old, err := m.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := m.Delete(ctx, key); err != nil {
		return nil, err
	}
	fresh := &store.Session{Key: key, AgentID: old.AgentID, Name: old.Name}
	if err := m.store.Create(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// SweepExpired deletes ephemeral sessions past their expiry and aborts any
// in-flight dispatches for them. Returns the number removed.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if m.aborts != nil {
			m.aborts.Abort(k)
		}
		m.log.Info("expired session removed", "key", k)
	}
	return len(keys), nil
}

// RunSweeper sweeps expired sessions on an interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := m.SweepExpired(ctx, now); err != nil && ctx.Err() == nil {
				m.log.Warn("session sweep failed", "error", err)
			}
		}
	}
}
