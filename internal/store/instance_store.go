package store

import (
	"context"
	"fmt"
	"time"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMOpen    DMPolicy = "open"    // accept all
	DMPairing DMPolicy = "pairing" // deny, record pending contact for approval
	DMClosed  DMPolicy = "closed"  // deny silently
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupOpen      GroupPolicy = "open"
	GroupAllowlist GroupPolicy = "allowlist"
	GroupClosed    GroupPolicy = "closed"
)

// ParseDMPolicy validates a dm policy string at the boundary.
func ParseDMPolicy(s string) (DMPolicy, error) {
	switch DMPolicy(s) {
	case DMOpen, DMPairing, DMClosed:
		return DMPolicy(s), nil
	}
	return "", fmt.Errorf("%w: dm policy %q", ErrInvalidInput, s)
}

// ParseGroupPolicy validates a group policy string at the boundary.
func ParseGroupPolicy(s string) (GroupPolicy, error) {
	switch GroupPolicy(s) {
	case GroupOpen, GroupAllowlist, GroupClosed:
		return GroupPolicy(s), nil
	}
	return "", fmt.Errorf("%w: group policy %q", ErrInvalidInput, s)
}

// Instance is a named channel instance (one connected account on one channel
// type). The wire-level connector itself lives outside the core; the instance
// row carries the routing-relevant facts.
type Instance struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"` // unique
	ChannelType  string      `json:"channel_type"`
	ConnectorID  string      `json:"connector_id,omitempty"` // external connector handle
	DefaultAgent string      `json:"default_agent"`
	DMPolicy     DMPolicy    `json:"dm_policy"`
	GroupPolicy  GroupPolicy `json:"group_policy"`
	DMScope      string      `json:"dm_scope,omitempty"` // session key dm scope override
	AllowFrom    []string    `json:"allow_from,omitempty"`
	GroupAllow   []string    `json:"group_allow,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// InstanceStore persists channel instances.
type InstanceStore interface {
	// Create fails with ErrConflict on a duplicate name.
	Create(ctx context.Context, inst *Instance) error
	GetByName(ctx context.Context, name string) (*Instance, error)
	List(ctx context.Context) ([]Instance, error)
	Update(ctx context.Context, inst *Instance) error
	Delete(ctx context.Context, name string) error
}
