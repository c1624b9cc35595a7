// Package sessions resolves conversations to session keys and manages the
// session lifecycle on top of the session store.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation type:
//
//	DM:       {channel}:direct:{peerId}
//	Group:    {channel}:group:{groupId}
//	Outbound: queue:{queueId}:entry:{entryId}
//
// Examples:
//
//	agent:default:whatsapp:direct:5511999990000
//	agent:default:whatsapp:group:120363041234567890
//	agent:sales:queue:q-outreach:entry:01914f2a
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// DM scope modes. They control how many DMs share one session.
const (
	ScopeMain               = "main"                     // all DMs share one session per agent
	ScopePerPeer            = "per-peer"                 // one session per peer across channels
	ScopePerChannelPeer     = "per-channel-peer"         // one per (channel, peer) — default
	ScopePerAccountChanPeer = "per-account-channel-peer" // one per (account, channel, peer)
)

// BuildSessionKey builds the canonical session key for a channel conversation.
//
//	DM:    agent:{agentId}:{channel}:direct:{peerID}
//	Group: agent:{agentId}:{channel}:group:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildQueueSessionKey builds the session key for one outbound queue entry.
// Each entry gets its own conversation scope.
//
//	agent:{agentId}:queue:{queueID}:entry:{entryID}
func BuildQueueSessionKey(agentID, queueID, entryID string) string {
	return fmt.Sprintf("agent:%s:queue:%s:entry:%s", agentID, queueID, entryID)
}

// BuildNamedSessionKey builds the key for a route-forced session name. Every
// message matching the route lands in the same conversation.
//
//	agent:{agentId}:{name}
func BuildNamedSessionKey(agentID, name string) string {
	return fmt.Sprintf("agent:%s:%s", agentID, name)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an agent,
// used when dmScope is "main".
func BuildAgentMainSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// BuildScopedSessionKey builds a session key honoring the instance's dmScope.
// Groups always use the full key; dmScope only collapses DMs.
func BuildScopedSessionKey(agentID, channel, account string, kind PeerKind, chatID, dmScope string) string {
	if kind == PeerGroup {
		return BuildSessionKey(agentID, channel, kind, chatID)
	}
	switch dmScope {
	case ScopeMain:
		return BuildAgentMainSessionKey(agentID)
	case ScopePerPeer:
		return fmt.Sprintf("agent:%s:direct:%s", agentID, chatID)
	case ScopePerAccountChanPeer:
		return fmt.Sprintf("agent:%s:%s:%s:direct:%s", agentID, channel, account, chatID)
	default: // ScopePerChannelPeer or empty
		return BuildSessionKey(agentID, channel, kind, chatID)
	}
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsQueueSession reports whether a session key belongs to an outbound queue
// entry.
func IsQueueSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(rest, "queue:")
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
