// Package gateway normalizes raw channel events, applies access policy, and
// coalesces message bursts before agent dispatch.
package gateway

import (
	"strings"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/identity"
)

// Normalize converts a raw channel event into an InboundMessage. Text comes
// from the first non-empty subtype field in declaration order; at most one
// media descriptor is extracted. Returns nil for events that carry neither a
// chat identity nor a message identity.
func Normalize(raw *bus.RawEvent, channel, account string) *bus.InboundMessage {
	if raw == nil || (raw.Chat == "" && raw.MessageID == "") {
		return nil
	}

	text := raw.Conversation
	if text == "" {
		text = raw.ExtendedText
	}

	media, mediaText := extractMedia(raw)
	if text == "" {
		text = mediaText
	}

	return &bus.InboundMessage{
		Channel:    channel,
		Account:    account,
		SenderID:   identity.Canonicalize(raw.Sender),
		SenderName: raw.PushName,
		ChatID:     identity.Canonicalize(raw.Chat),
		IsGroup:    raw.IsGroup,
		MessageID:  raw.MessageID,
		Timestamp:  raw.Timestamp,
		Content:    strings.TrimSpace(text),
		Media:      media,
		Quoted:     raw.Quoted,
		Mentions:   raw.Mentions,
	}
}

// extractMedia returns the single media descriptor for an event plus the text
// it contributes (caption or transcript).
func extractMedia(raw *bus.RawEvent) (*bus.MediaInfo, string) {
	type candidate struct {
		kind string
		m    *bus.RawMedia
	}
	for _, c := range []candidate{
		{"image", raw.Image},
		{"video", raw.Video},
		{"audio", raw.Audio},
		{"document", raw.Document},
		{"sticker", raw.Sticker},
	} {
		if c.m == nil {
			continue
		}
		info := &bus.MediaInfo{
			Type:     c.kind,
			Mimetype: c.m.Mimetype,
			Caption:  c.m.Caption,
			Path:     c.m.Path,
			Size:     c.m.Size,
		}
		text := c.m.Caption
		if c.m.Transcript != "" {
			text = c.m.Transcript
		}
		return info, text
	}
	return nil, ""
}

// Filter reasons, in check order.
const (
	RejectSelfEcho  = "self-echo"
	RejectNoChat    = "no-chat"
	RejectBroadcast = "broadcast"
	RejectNoContent = "no-content"
)

// ShouldProcess runs the cheap reject filters that must pass before any
// policy or identity work. The order is fixed: self-echo, missing chat,
// broadcast origin, then (post-extraction) no content.
func ShouldProcess(raw *bus.RawEvent, msg *bus.InboundMessage) (bool, string) {
	if raw.FromMe {
		return false, RejectSelfEcho
	}
	if raw.Chat == "" {
		return false, RejectNoChat
	}
	if raw.Broadcast {
		return false, RejectBroadcast
	}
	if msg == nil || (msg.Content == "" && msg.Media == nil) {
		return false, RejectNoContent
	}
	return true, ""
}
