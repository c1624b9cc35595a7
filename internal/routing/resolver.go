package routing

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// Resolution is the outcome of a route lookup: the winning route (nil when the
// instance default applies) and the agent that should handle the message.
type Resolution struct {
	Route *store.Route
	Agent string
}

// Resolver selects routes for inbound messages.
type Resolver struct {
	routes store.RouteStore
}

func NewResolver(routes store.RouteStore) *Resolver {
	return &Resolver{routes: routes}
}

// ResolveRoute picks the live route for (instance, sender, chat). Among routes
// whose pattern matches (and whose channel filter, if set, matches), the
// highest priority wins; equal priorities break by lexicographic pattern order
// so the result never depends on storage scan order. When nothing matches, the
// instance's default agent applies.
func (r *Resolver) ResolveRoute(ctx context.Context, inst *store.Instance, senderID, chatID string, isGroup bool, channel string) (Resolution, error) {
	routes, err := r.routes.ListByInstance(ctx, inst.Name)
	if err != nil {
		return Resolution{}, err
	}

	var best *store.Route
	for i := range routes {
		rt := &routes[i]
		if rt.Channel != "" && channel != "" && rt.Channel != channel {
			continue
		}
		if !Matches(rt.Pattern, senderID, chatID, isGroup) {
			continue
		}
		if best == nil || betterRoute(rt, best) {
			best = rt
		}
	}

	if best == nil {
		return Resolution{Agent: inst.DefaultAgent}, nil
	}
	agent := best.Agent
	if agent == "" {
		agent = inst.DefaultAgent
	}
	return Resolution{Route: best, Agent: agent}, nil
}

func betterRoute(a, b *store.Route) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Pattern < b.Pattern
}

// Matches tests a route pattern against a sender and chat. Forms are checked
// in order: exact literal, group:-prefixed, lid:-prefixed, glob, universal.
func Matches(pattern, senderID, chatID string, isGroup bool) bool {
	if pattern == "" {
		return false
	}
	if pattern == senderID || pattern == chatID {
		return true
	}
	if id, ok := strings.CutPrefix(pattern, "group:"); ok {
		return isGroup && (chatID == id || chatID == pattern)
	}
	if id, ok := strings.CutPrefix(pattern, "lid:"); ok {
		return senderID == id || senderID == pattern
	}
	if pattern == "*" {
		return true
	}
	if strings.ContainsRune(pattern, '*') {
		return globMatch(pattern, senderID) || globMatch(pattern, chatID)
	}
	return false
}

func globMatch(pattern, value string) bool {
	if value == "" {
		return false
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// SortRoutes orders routes the way resolution considers them: priority
// descending, then pattern. Exposed for list displays.
func SortRoutes(routes []store.Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return betterRoute(&routes[i], &routes[j])
	})
}
