package store

import (
	"context"
	"fmt"
	"time"
)

// ContactStatus is the access status of a contact.
type ContactStatus string

const (
	StatusAllowed    ContactStatus = "allowed"
	StatusPending    ContactStatus = "pending"
	StatusBlocked    ContactStatus = "blocked"
	StatusDiscovered ContactStatus = "discovered" // seen in a group, never DMed us
)

// ParseContactStatus validates a status string at the boundary.
func ParseContactStatus(s string) (ContactStatus, error) {
	switch ContactStatus(s) {
	case StatusAllowed, StatusPending, StatusBlocked, StatusDiscovered:
		return ContactStatus(s), nil
	}
	return "", fmt.Errorf("%w: contact status %q", ErrInvalidInput, s)
}

// Contact is the canonical person/group a set of identities merge into.
type Contact struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Email            string            `json:"email,omitempty"`
	Status           ContactStatus     `json:"status"`
	ReplyMode        string            `json:"reply_mode,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Notes            map[string]string `json:"notes,omitempty"`
	OptOut           bool              `json:"opt_out,omitempty"`
	InteractionCount int               `json:"interaction_count"`
	LastInboundAt    *time.Time        `json:"last_inbound_at,omitempty"`
	LastOutboundAt   *time.Time        `json:"last_outbound_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Identity is a (platform, value) pair naming a contact on one channel.
// (platform, value) is globally unique; every identity points at exactly one
// existing contact.
type Identity struct {
	Platform  string    `json:"platform"`
	Value     string    `json:"value"`
	ContactID string    `json:"contact_id"`
	Primary   bool      `json:"primary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactUpdate carries explicit field updates; nil pointers leave the field
// untouched.
type ContactUpdate struct {
	Name      *string
	Email     *string
	ReplyMode *string
	Tags      *[]string
	Notes     map[string]string // merged key-by-key; empty value deletes the key
	OptOut    *bool
	Status    *ContactStatus
}

// ContactStore persists contacts and their identities.
type ContactStore interface {
	Create(ctx context.Context, c *Contact) error
	GetByID(ctx context.Context, id string) (*Contact, error)
	// GetByIdentity looks up the owning contact of (platform, value).
	GetByIdentity(ctx context.Context, platform, value string) (*Contact, error)
	List(ctx context.Context) ([]Contact, error)
	Update(ctx context.Context, id string, upd ContactUpdate) (*Contact, error)
	// FillName sets the name only when the stored name is empty, so a
	// lower-confidence source never overwrites an existing one.
	FillName(ctx context.Context, id, name string) error
	SetStatus(ctx context.Context, id string, status ContactStatus) error
	// Delete removes the contact and cascades its identities.
	Delete(ctx context.Context, id string) error

	// AddIdentity fails with ErrConflict when (platform, value) already
	// belongs to a different contact, and is a no-op when it already belongs
	// to the same contact.
	AddIdentity(ctx context.Context, ident Identity) error
	ListIdentities(ctx context.Context, contactID string) ([]Identity, error)

	// Merge moves all of source's identities to target, fills target's empty
	// name/email/tags/notes from source, adds interaction counters, and
	// deletes source — in a single transaction. ErrNotFound if either id is
	// absent. A partial move is never observable.
	Merge(ctx context.Context, targetID, sourceID string) error

	// RecordInbound / RecordOutbound bump the interaction counter and the
	// matching timestamp atomically (no read-modify-write).
	RecordInbound(ctx context.Context, id string, at time.Time) error
	RecordOutbound(ctx context.Context, id string, at time.Time) error
}
