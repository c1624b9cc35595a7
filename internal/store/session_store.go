package store

import (
	"context"
	"time"
)

// Session is one agent conversation scope. The key is a deterministic
// function of agent id and scope discriminator (see internal/sessions);
// identical logical conversations always map to the same key.
type Session struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name,omitempty"` // optional human-assigned name

	AgentID string `json:"agent_id"`

	// Overrides take effect on the agent process's next cold start, not
	// hot-reloaded into a running process.
	ModelOverride    string `json:"model_override,omitempty"`
	ThinkingOverride string `json:"thinking_override,omitempty"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`

	Ephemeral bool       `json:"ephemeral,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Last delivery envelope, used to route replies back.
	LastChannel string            `json:"last_channel,omitempty"`
	LastAccount string            `json:"last_account,omitempty"`
	LastChatID  string            `json:"last_chat_id,omitempty"`
	LastContext map[string]string `json:"last_context,omitempty"`

	QueueMode       string    `json:"queue_mode,omitempty"` // how mid-run arrivals are handled
	CompactionCount int       `json:"compaction_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Expired reports whether an ephemeral session has passed its expiry.
// Enforcement (the sweep) is external; this is only the predicate.
func (s *Session) Expired(now time.Time) bool {
	return s.Ephemeral && s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// SessionStore persists sessions. Counter mutations are atomic SQL increments
// so concurrent inbound/outbound touches never lose updates; full-object
// replacement is deliberately not offered.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByKey(ctx context.Context, key string) (*Session, error)
	GetByName(ctx context.Context, name string) (*Session, error)
	// FindByChatID scans the last-delivery chat id (used as the final
	// fallback of session resolution).
	FindByChatID(ctx context.Context, chatID string) (*Session, error)
	List(ctx context.Context, agentID string) ([]Session, error)

	SetName(ctx context.Context, key, name string) error
	SetOverrides(ctx context.Context, key, model, thinking string) error
	SetQueueMode(ctx context.Context, key, mode string) error
	// AddTokens accumulates counters additively (atomic increment).
	AddTokens(ctx context.Context, key string, input, output int64) error
	IncrementCompaction(ctx context.Context, key string) error
	RecordDelivery(ctx context.Context, key, channel, account, chatID string, deliveryCtx map[string]string) error

	SetEphemeral(ctx context.Context, key string, expiresAt time.Time) error
	MakePermanent(ctx context.Context, key string) error

	Delete(ctx context.Context, key string) error
	// DeleteExpired removes ephemeral sessions past expiry and returns their
	// keys so the caller can signal aborts.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}
