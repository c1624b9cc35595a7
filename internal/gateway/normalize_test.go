package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/bus"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	t.Run("conversation text", func(t *testing.T) {
		msg := Normalize(&bus.RawEvent{
			MessageID:    "m1",
			Sender:       "5511999887766@s.whatsapp.net",
			Chat:         "5511999887766@s.whatsapp.net",
			Conversation: "  hello  ",
			Timestamp:    ts,
		}, "whatsapp", "main")
		if msg == nil {
			t.Fatal("nil message")
		}
		if msg.SenderID != "5511999887766" || msg.ChatID != "5511999887766" {
			t.Errorf("ids not canonicalized: %q / %q", msg.SenderID, msg.ChatID)
		}
		if msg.Content != "hello" {
			t.Errorf("content %q", msg.Content)
		}
	})

	t.Run("extended text when conversation empty", func(t *testing.T) {
		msg := Normalize(&bus.RawEvent{MessageID: "m1", Chat: "c", ExtendedText: "linked"}, "whatsapp", "main")
		if msg.Content != "linked" {
			t.Errorf("content %q", msg.Content)
		}
	})

	t.Run("conversation wins over extended", func(t *testing.T) {
		msg := Normalize(&bus.RawEvent{MessageID: "m1", Chat: "c", Conversation: "a", ExtendedText: "b"}, "whatsapp", "main")
		if msg.Content != "a" {
			t.Errorf("content %q", msg.Content)
		}
	})

	t.Run("image caption becomes content", func(t *testing.T) {
		msg := Normalize(&bus.RawEvent{
			MessageID: "m1", Chat: "c",
			Image: &bus.RawMedia{Mimetype: "image/jpeg", Caption: "look"},
		}, "whatsapp", "main")
		if msg.Media == nil || msg.Media.Type != "image" {
			t.Fatalf("media %+v", msg.Media)
		}
		if msg.Content != "look" {
			t.Errorf("content %q", msg.Content)
		}
	})

	t.Run("audio transcript wins over caption", func(t *testing.T) {
		msg := Normalize(&bus.RawEvent{
			MessageID: "m1", Chat: "c",
			Audio: &bus.RawMedia{Caption: "voice note", Transcript: "call me back"},
		}, "whatsapp", "main")
		if msg.Content != "call me back" {
			t.Errorf("content %q", msg.Content)
		}
	})

	t.Run("explicit text wins over media caption", func(t *testing.T) {
		msg := Normalize(&bus.RawEvent{
			MessageID: "m1", Chat: "c", Conversation: "typed",
			Image: &bus.RawMedia{Caption: "captioned"},
		}, "whatsapp", "main")
		if msg.Content != "typed" {
			t.Errorf("content %q", msg.Content)
		}
		if msg.Media == nil {
			t.Error("media dropped")
		}
	})

	t.Run("no chat and no message id", func(t *testing.T) {
		if msg := Normalize(&bus.RawEvent{Conversation: "x"}, "whatsapp", "main"); msg != nil {
			t.Errorf("want nil, got %+v", msg)
		}
	})
}

func TestShouldProcess(t *testing.T) {
	base := func() *bus.RawEvent {
		return &bus.RawEvent{MessageID: "m1", Sender: "s", Chat: "c", Conversation: "hi"}
	}

	tests := []struct {
		name   string
		mutate func(*bus.RawEvent)
		reason string
	}{
		{"passes", func(e *bus.RawEvent) {}, ""},
		{"self echo", func(e *bus.RawEvent) { e.FromMe = true }, RejectSelfEcho},
		{"no chat", func(e *bus.RawEvent) { e.Chat = "" }, RejectNoChat},
		{"broadcast", func(e *bus.RawEvent) { e.Broadcast = true }, RejectBroadcast},
		{"no content", func(e *bus.RawEvent) { e.Conversation = "" }, RejectNoContent},
		// Self-echo outranks the missing chat.
		{"self echo first", func(e *bus.RawEvent) { e.FromMe = true; e.Chat = "" }, RejectSelfEcho},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := base()
			tt.mutate(raw)
			msg := Normalize(raw, "whatsapp", "main")
			ok, reason := ShouldProcess(raw, msg)
			if wantOK := tt.reason == ""; ok != wantOK || reason != tt.reason {
				t.Errorf("got ok=%v reason=%q, want ok=%v reason=%q", ok, reason, wantOK, tt.reason)
			}
		})
	}

	t.Run("media-only message passes", func(t *testing.T) {
		raw := &bus.RawEvent{MessageID: "m1", Chat: "c", Sticker: &bus.RawMedia{Mimetype: "image/webp"}}
		msg := Normalize(raw, "whatsapp", "main")
		if ok, reason := ShouldProcess(raw, msg); !ok {
			t.Errorf("rejected: %s", reason)
		}
	})
}

type fakeLookup struct {
	tags  map[string]string
	names map[string]string
}

func (f *fakeLookup) GroupTag(_ context.Context, _, memberID string) string {
	return f.tags[memberID]
}

func (f *fakeLookup) ContactName(_ context.Context, _, memberID string) string {
	return f.names[memberID]
}

func TestResolveMentions(t *testing.T) {
	lookup := &fakeLookup{
		tags:  map[string]string{"111": "team-lead"},
		names: map[string]string{"222": "Bruna"},
	}
	ctx := context.Background()

	tests := []struct {
		name   string
		text   string
		tokens []string
		want   string
	}{
		{"group tag wins", "ping @111", []string{"111@s.whatsapp.net"}, "ping @team-lead"},
		{"contact name fallback", "cc @222", []string{"222@s.whatsapp.net"}, "cc @Bruna"},
		{"unknown keeps canonical id", "hey @333", []string{"333@s.whatsapp.net"}, "hey @333"},
		{"multiple tokens", "@111 and @222", []string{"111@s.whatsapp.net", "222@s.whatsapp.net"}, "@team-lead and @Bruna"},
		{"token absent from text", "plain", []string{"111@s.whatsapp.net"}, "plain"},
		{"no tokens", "plain @111", nil, "plain @111"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveMentions(ctx, tt.text, tt.tokens, "whatsapp", "group:g1", lookup)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
