package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// StatusRank orders contact statuses by confidence. A save never moves a
// contact to a lower-ranked status, and a merge keeps the higher-ranked side.
type StatusRank map[store.ContactStatus]int

// DefaultStatusRank is the standard ordering. Callers with different trust
// models can inject their own via WithStatusRank.
var DefaultStatusRank = StatusRank{
	store.StatusAllowed:    3,
	store.StatusPending:    2,
	store.StatusDiscovered: 1,
	store.StatusBlocked:    0,
}

// Graph resolves raw channel identities to contacts and keeps the
// contact/identity mapping consistent across channels.
type Graph struct {
	contacts store.ContactStore
	rank     StatusRank
	log      *slog.Logger
}

type Option func(*Graph)

func WithStatusRank(r StatusRank) Option {
	return func(g *Graph) { g.rank = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.log = l }
}

func New(contacts store.ContactStore, opts ...Option) *Graph {
	g := &Graph{
		contacts: contacts,
		rank:     DefaultStatusRank,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Resolve looks up the contact behind a raw identity. Pure lookup, never
// creates. Lookup order: canonical (platform, value), then contact id, then
// a digits-only value retried with the lid: prefix (channels sometimes report
// the anonymized id bare).
func (g *Graph) Resolve(ctx context.Context, platform, raw string) (*store.Contact, error) {
	value := Canonicalize(raw)
	if value == "" {
		return nil, fmt.Errorf("%w: empty identity", store.ErrInvalidInput)
	}

	c, err := g.contacts.GetByIdentity(ctx, platform, value)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if c, err := g.contacts.GetByID(ctx, value); err == nil {
		return c, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if isDigits(value) {
		c, err := g.contacts.GetByIdentity(ctx, platform, "lid:"+value)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("identity %s/%s: %w", platform, value, store.ErrNotFound)
}

// Upsert creates or updates the contact behind an identity with status
// allowed. Existing names are kept; the incoming name only fills a blank.
func (g *Graph) Upsert(ctx context.Context, platform, raw, name string) (*store.Contact, error) {
	return g.save(ctx, platform, raw, name, store.StatusAllowed)
}

// SavePending records a sender awaiting approval. Never downgrades a contact
// that is already allowed.
func (g *Graph) SavePending(ctx context.Context, platform, raw, name string) (*store.Contact, error) {
	return g.save(ctx, platform, raw, name, store.StatusPending)
}

// SaveDiscovered records a sender seen in passing (group traffic, mentions).
// Never downgrades pending or allowed contacts.
func (g *Graph) SaveDiscovered(ctx context.Context, platform, raw, name string) (*store.Contact, error) {
	return g.save(ctx, platform, raw, name, store.StatusDiscovered)
}

func (g *Graph) save(ctx context.Context, platform, raw, name string, status store.ContactStatus) (*store.Contact, error) {
	value := Canonicalize(raw)
	if value == "" {
		return nil, fmt.Errorf("%w: empty identity", store.ErrInvalidInput)
	}

	existing, err := g.Resolve(ctx, platform, value)
	if err == nil {
		if name != "" && existing.Name == "" {
			if err := g.contacts.FillName(ctx, existing.ID, name); err != nil {
				return nil, err
			}
			existing.Name = name
		}
		if g.rank[status] > g.rank[existing.Status] {
			if err := g.contacts.SetStatus(ctx, existing.ID, status); err != nil {
				return nil, err
			}
			existing.Status = status
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	c := &store.Contact{Name: name, Status: status}
	if err := g.contacts.Create(ctx, c); err != nil {
		return nil, err
	}
	err = g.contacts.AddIdentity(ctx, store.Identity{
		Platform:  platform,
		Value:     value,
		ContactID: c.ID,
		Primary:   true,
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent save for the same identity. The
		// uniqueness constraint is the only guard needed: drop our row and
		// return the winner.
		if derr := g.contacts.Delete(ctx, c.ID); derr != nil {
			g.log.Warn("orphan contact cleanup failed", "contact", c.ID, "error", derr)
		}
		return g.contacts.GetByIdentity(ctx, platform, value)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AddIdentity links an identity to an existing contact. A Conflict (the pair
// belongs to another contact) is surfaced so the caller can choose merge over
// rename; linking a pair the contact already owns is a no-op.
func (g *Graph) AddIdentity(ctx context.Context, contactID, platform, raw string, primary bool) error {
	value := Canonicalize(raw)
	if value == "" {
		return fmt.Errorf("%w: empty identity", store.ErrInvalidInput)
	}
	return g.contacts.AddIdentity(ctx, store.Identity{
		Platform:  platform,
		Value:     value,
		ContactID: contactID,
		Primary:   primary,
	})
}

// Merge folds source into target: identities move over, blank target fields
// fill from source, counters sum, source is deleted. Afterwards every source
// identity resolves to target.
func (g *Graph) Merge(ctx context.Context, targetID, sourceID string) error {
	if targetID == sourceID {
		return fmt.Errorf("%w: cannot merge a contact into itself", store.ErrInvalidInput)
	}
	return g.contacts.Merge(ctx, targetID, sourceID)
}

// AutoLink ties a phone identity and a channel-local (lid) identity to one
// contact once a channel reveals they are the same peer. Idempotent: linking
// an already-linked pair is a no-op, and conflicts resolve by merging rather
// than erroring.
func (g *Graph) AutoLink(ctx context.Context, platform, phoneRaw, lidRaw string) error {
	phoneVal := Canonicalize(phoneRaw)
	lidVal := Canonicalize(lidRaw)
	if phoneVal == "" || lidVal == "" {
		return fmt.Errorf("%w: autolink needs both identities", store.ErrInvalidInput)
	}
	if !IsLID(lidVal) {
		lidVal = "lid:" + lidVal
	}

	phoneC, phoneErr := g.contacts.GetByIdentity(ctx, platform, phoneVal)
	if phoneErr != nil && !errors.Is(phoneErr, store.ErrNotFound) {
		return phoneErr
	}
	lidC, lidErr := g.contacts.GetByIdentity(ctx, platform, lidVal)
	if lidErr != nil && !errors.Is(lidErr, store.ErrNotFound) {
		return lidErr
	}

	switch {
	case phoneC != nil && lidC != nil:
		if phoneC.ID == lidC.ID {
			return nil
		}
		target, source := phoneC, lidC
		if g.rank[lidC.Status] > g.rank[phoneC.Status] {
			target, source = lidC, phoneC
		}
		g.log.Info("autolink merge",
			"target", target.ID, "source", source.ID,
			"phone", phoneVal, "lid", lidVal)
		return g.contacts.Merge(ctx, target.ID, source.ID)

	case phoneC != nil:
		return g.linkQuiet(ctx, phoneC.ID, platform, lidVal)

	case lidC != nil:
		return g.linkQuiet(ctx, lidC.ID, platform, phoneVal)

	default:
		return nil
	}
}

// linkQuiet adds an identity, treating Conflict as already linked.
func (g *Graph) linkQuiet(ctx context.Context, contactID, platform, value string) error {
	err := g.contacts.AddIdentity(ctx, store.Identity{
		Platform:  platform,
		Value:     value,
		ContactID: contactID,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

// FillName sets a contact's name only when it is currently empty, so a
// push-name never overwrites an operator-assigned one.
func (g *Graph) FillName(ctx context.Context, contactID, name string) error {
	return g.contacts.FillName(ctx, contactID, name)
}

// RecordInbound bumps the contact's interaction counter for an inbound
// message.
func (g *Graph) RecordInbound(ctx context.Context, contactID string, at time.Time) error {
	return g.contacts.RecordInbound(ctx, contactID, at)
}

// RecordOutbound bumps the contact's interaction counter for an outbound
// send.
func (g *Graph) RecordOutbound(ctx context.Context, contactID string, at time.Time) error {
	return g.contacts.RecordOutbound(ctx, contactID, at)
}
