package store

import (
	"context"
	"time"
)

// RoutePolicy overrides the instance policy for messages matching one route.
// Nil fields fall back to the instance.
type RoutePolicy struct {
	DMPolicy    DMPolicy    `json:"dm_policy,omitempty"`
	GroupPolicy GroupPolicy `json:"group_policy,omitempty"`
	AllowFrom   []string    `json:"allow_from,omitempty"`
	GroupAllow  []string    `json:"group_allow,omitempty"`
}

// Route maps a message pattern within a named instance to a target agent.
// Pattern forms: exact literal, "group:<id>", "lid:<id>", glob with '*', or
// the universal "*". (pattern, instance) is unique among live (non-tombstoned)
// rows.
type Route struct {
	ID          string       `json:"id"`
	Pattern     string       `json:"pattern"`
	Instance    string       `json:"instance"`
	Agent       string       `json:"agent"`
	Priority    int          `json:"priority"` // higher wins
	Policy      *RoutePolicy `json:"policy,omitempty"`
	SessionName string       `json:"session_name,omitempty"` // forced session name
	Channel     string       `json:"channel,omitempty"`       // channel type filter
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`    // soft-delete tombstone
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Deleted reports whether the route is tombstoned.
func (r *Route) Deleted() bool { return r.DeletedAt != nil }

// RouteStore persists routes with soft deletion. Default read paths filter
// tombstoned rows; ListAll exists for recovery workflows.
type RouteStore interface {
	// Create fails with ErrConflict when a live route with the same
	// (pattern, instance) exists.
	Create(ctx context.Context, r *Route) error
	// Get returns the live route for (pattern, instance).
	Get(ctx context.Context, pattern, instance string) (*Route, error)
	// ListByInstance returns live routes scoped to one instance.
	ListByInstance(ctx context.Context, instance string) ([]Route, error)
	// ListAll returns routes including tombstoned ones.
	ListAll(ctx context.Context, instance string) ([]Route, error)
	Update(ctx context.Context, r *Route) error
	// Delete sets the tombstone timestamp; the row identity is preserved.
	Delete(ctx context.Context, pattern, instance string) error
	// Restore clears the tombstone on a soft-deleted route.
	Restore(ctx context.Context, pattern, instance string) error
}
