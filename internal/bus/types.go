// Package bus defines the message and event types exchanged between channel
// connectors, the inbound gateway, and the agent dispatch layer, plus the
// in-process bus that carries them.
package bus

import (
	"context"
	"time"
)

// RawEvent is the contract every channel connector must satisfy when handing
// an event to the gateway. Field names mirror the wire payloads connectors
// already produce; the gateway never reaches back into connector state.
type RawEvent struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`    // raw sender identity (JID, user id, ...)
	Chat      string    `json:"chat"`      // raw chat identity
	IsGroup   bool      `json:"is_group"`
	FromMe    bool      `json:"from_me"`   // self-originated echo
	Broadcast bool      `json:"broadcast"` // status/broadcast-channel origin
	PushName  string    `json:"push_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Text subtype fields, checked in declaration order; the first non-empty
	// one becomes the message text.
	Conversation string `json:"conversation,omitempty"`
	ExtendedText string `json:"extended_text,omitempty"`

	// At most one media payload is expected per event.
	Image    *RawMedia `json:"image,omitempty"`
	Video    *RawMedia `json:"video,omitempty"`
	Audio    *RawMedia `json:"audio,omitempty"`
	Document *RawMedia `json:"document,omitempty"`
	Sticker  *RawMedia `json:"sticker,omitempty"`

	Quoted   *QuotedRef `json:"quoted,omitempty"`
	Mentions []string   `json:"mentions,omitempty"` // raw mention tokens
}

// RawMedia is a single media payload on a raw event.
type RawMedia struct {
	Mimetype   string `json:"mimetype,omitempty"`
	Caption    string `json:"caption,omitempty"`
	Path       string `json:"path,omitempty"` // local path after download (external concern)
	Transcript string `json:"transcript,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// QuotedRef points at a message the event replies to.
type QuotedRef struct {
	MessageID string `json:"message_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text,omitempty"`
}

// MediaInfo is the normalized single-media descriptor on an InboundMessage.
type MediaInfo struct {
	Type     string `json:"type"` // image, video, audio, document, sticker
	Mimetype string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Path     string `json:"path,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// InboundMessage is a normalized (and possibly debounce-merged) message ready
// for agent dispatch.
type InboundMessage struct {
	Channel    string            `json:"channel"`  // channel type (whatsapp, telegram, ...)
	Account    string            `json:"account"`  // instance name
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	IsGroup    bool              `json:"is_group"`
	MessageID  string            `json:"message_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Content    string            `json:"content"`
	Media      *MediaInfo        `json:"media,omitempty"`
	Quoted     *QuotedRef        `json:"quoted,omitempty"`
	Mentions   []string          `json:"mentions,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`    // resolved target agent
	SessionKey string            `json:"session_key,omitempty"` // resolved session key
	ContactID  string            `json:"contact_id,omitempty"`  // resolved contact
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be delivered by a channel connector.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	Account  string            `json:"account"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    *MediaInfo        `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SendResult is the fire-and-forget result of a delivery capability call.
type SendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Deliverer is the outbound delivery contract implemented by channel
// connectors. All calls are capability-style: best effort, no payload beyond
// the result.
type Deliverer interface {
	SendText(ctx context.Context, channel, account, chatID, text string) SendResult
	SendMedia(ctx context.Context, channel, account, chatID string, media MediaInfo, caption string) SendResult
	SendTyping(ctx context.Context, channel, account, chatID string) SendResult
	SendReadReceipt(ctx context.Context, channel, account, chatID, messageID string) SendResult
	SendReaction(ctx context.Context, channel, account, chatID, messageID, emoji string) SendResult
}

// Event is a named cross-process signal with a small JSON-able payload.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// MessageHandler handles a merged inbound message (agent dispatch entry point).
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// EventHandler handles a broadcast event.
type EventHandler func(Event)
