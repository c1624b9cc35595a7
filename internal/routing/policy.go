// Package routing decides where a normalized inbound message goes and whether
// its sender is allowed to talk to us at all. Route selection and the policy
// verdict are pure functions of current state so they can be tested without a
// store.
package routing

import (
	"strings"

	"github.com/filipexyz/ravi-sub000/internal/identity"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

// Policy is the effective access policy for one message: the instance policy
// with any matched-route overrides already applied.
type Policy struct {
	DMPolicy    store.DMPolicy
	GroupPolicy store.GroupPolicy
	AllowFrom   []string
	GroupAllow  []string
}

// Verdict is the outcome of a policy decision. Denial is a decision, not an
// error: when Pending is set the caller should persist a pending-approval
// contact instead of dropping the sender on the floor.
type Verdict struct {
	Allowed bool
	Pending bool
	Reason  string
}

// Decide evaluates the access policy for a sender. senderAllowed reports
// whether the sender already resolves to a contact with status allowed; the
// caller looks that up since Decide performs no I/O.
//
// Group messages run the group gate first, then fall through to the DM gate
// for the actual sender when the group itself is open.
func Decide(senderID string, isGroup bool, pol Policy, senderAllowed bool) Verdict {
	if isGroup {
		switch pol.GroupPolicy {
		case store.GroupClosed:
			return Verdict{Reason: "group policy closed"}
		case store.GroupAllowlist:
			if matchList(pol.GroupAllow, senderID) || matchList(pol.AllowFrom, senderID) || senderAllowed {
				return Verdict{Allowed: true}
			}
			return Verdict{Pending: true, Reason: "sender not in group allowlist"}
		}
	}

	// DM gate. An explicit allowFrom match or an already-allowed contact
	// bypasses the policy entirely.
	if matchList(pol.AllowFrom, senderID) || senderAllowed {
		return Verdict{Allowed: true}
	}
	switch pol.DMPolicy {
	case store.DMClosed:
		return Verdict{Reason: "dm policy closed"}
	case store.DMPairing:
		return Verdict{Pending: true, Reason: "sender awaiting pairing"}
	default:
		return Verdict{Allowed: true}
	}
}

// Effective merges a route's policy override onto the instance policy. Empty
// override fields fall back to the instance.
func Effective(inst *store.Instance, route *store.Route) Policy {
	pol := Policy{
		DMPolicy:    inst.DMPolicy,
		GroupPolicy: inst.GroupPolicy,
		AllowFrom:   inst.AllowFrom,
		GroupAllow:  inst.GroupAllow,
	}
	if route == nil || route.Policy == nil {
		return pol
	}
	o := route.Policy
	if o.DMPolicy != "" {
		pol.DMPolicy = o.DMPolicy
	}
	if o.GroupPolicy != "" {
		pol.GroupPolicy = o.GroupPolicy
	}
	if len(o.AllowFrom) > 0 {
		pol.AllowFrom = o.AllowFrom
	}
	if len(o.GroupAllow) > 0 {
		pol.GroupAllow = o.GroupAllow
	}
	return pol
}

// matchList checks a sender against an allowlist. Entries are canonicalized
// so "+55 11 9..." in config matches the stored digits form; "*" allows
// everyone.
func matchList(list []string, senderID string) bool {
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		if identity.Canonicalize(entry) == senderID {
			return true
		}
	}
	return false
}
