package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/bus"
)

type flushCollector struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (c *flushCollector) flush(msg bus.InboundMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *flushCollector) snapshot() []bus.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.InboundMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *flushCollector) wait(t *testing.T, n int) []bus.InboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushes, have %d", n, len(c.snapshot()))
	return nil
}

func text(account, chat, content string) bus.InboundMessage {
	return bus.InboundMessage{Account: account, ChatID: chat, Content: content}
}

func TestFireHonorsMovedDeadline(t *testing.T) {
	var c flushCollector
	d := NewDebouncer(time.Hour, c.flush)
	d.Add(text("main", "chat1", "one"))

	// Simulate an arrival landing between the timer callback firing and it
	// taking the lock: the batch deadline has moved, fire must re-arm instead
	// of flushing.
	key := "main\x00chat1"
	d.mu.Lock()
	d.batches[key].deadline = time.Now().Add(30 * time.Millisecond)
	d.mu.Unlock()

	d.fire(key)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("fired inside the window: %d flushes", len(got))
	}
	if d.Pending() != 1 {
		t.Fatalf("batch dropped, pending=%d", d.Pending())
	}

	// The re-armed timer flushes once the moved deadline passes.
	got := c.wait(t, 1)
	if got[0].Content != "one" {
		t.Errorf("flushed content %q", got[0].Content)
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	var c flushCollector
	d := NewDebouncer(50*time.Millisecond, c.flush)

	d.Add(text("main", "chat1", "one"))
	d.Add(text("main", "chat1", "two"))
	d.Add(text("main", "chat1", "three"))

	got := c.wait(t, 1)
	if len(got) != 1 {
		t.Fatalf("got %d flushes, want 1", len(got))
	}
	if got[0].Content != "one\ntwo\nthree" {
		t.Errorf("merged content %q", got[0].Content)
	}
	if d.Pending() != 0 {
		t.Errorf("pending batches after flush: %d", d.Pending())
	}
}

func TestDebouncerSeparateKeys(t *testing.T) {
	var c flushCollector
	d := NewDebouncer(30*time.Millisecond, c.flush)

	d.Add(text("main", "chat1", "a"))
	d.Add(text("main", "chat2", "b"))
	d.Add(text("other", "chat1", "c"))

	got := c.wait(t, 3)
	if len(got) != 3 {
		t.Fatalf("got %d flushes, want 3", len(got))
	}
}

func TestDebouncerGapSplitsBatches(t *testing.T) {
	var c flushCollector
	d := NewDebouncer(40*time.Millisecond, c.flush)

	d.Add(text("main", "chat1", "first"))
	c.wait(t, 1)
	d.Add(text("main", "chat1", "second"))
	got := c.wait(t, 2)

	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("got %q and %q", got[0].Content, got[1].Content)
	}
}

func TestDebouncerZeroWindowPassthrough(t *testing.T) {
	var c flushCollector
	d := NewDebouncer(0, c.flush)

	d.Add(text("main", "chat1", "now"))
	if got := c.snapshot(); len(got) != 1 || got[0].Content != "now" {
		t.Fatalf("synchronous delivery failed: %+v", got)
	}
}

func TestDebouncerFlushAll(t *testing.T) {
	var c flushCollector
	d := NewDebouncer(time.Hour, c.flush)

	d.Add(text("main", "chat1", "buffered"))
	d.Add(text("main", "chat2", "also"))
	d.FlushAll()

	if got := c.snapshot(); len(got) != 2 {
		t.Fatalf("got %d flushes, want 2", len(got))
	}
	if d.Pending() != 0 {
		t.Errorf("pending batches after drain: %d", d.Pending())
	}
}

func TestMergeBatch(t *testing.T) {
	t.Run("single message unchanged", func(t *testing.T) {
		in := text("main", "c", "solo")
		if got := MergeBatch([]bus.InboundMessage{in}); got.Content != "solo" {
			t.Errorf("got %q", got.Content)
		}
	})

	t.Run("last message is the base", func(t *testing.T) {
		msgs := []bus.InboundMessage{
			{Account: "main", ChatID: "c", Content: "hi", MessageID: "m1"},
			{Account: "main", ChatID: "c", Content: "there", MessageID: "m2",
				Media: &bus.MediaInfo{Type: "image"}},
		}
		got := MergeBatch(msgs)
		if got.MessageID != "m2" {
			t.Errorf("base message id %q", got.MessageID)
		}
		if got.Media == nil || got.Media.Type != "image" {
			t.Errorf("base media lost: %+v", got.Media)
		}
		if got.Content != "hi\nthere" {
			t.Errorf("content %q", got.Content)
		}
	})

	t.Run("earlier media render as refs", func(t *testing.T) {
		msgs := []bus.InboundMessage{
			{Content: "the report", Media: &bus.MediaInfo{Type: "document", Path: "/tmp/q3.pdf"}},
			{Media: &bus.MediaInfo{Type: "image"}},
			{Content: "thoughts?"},
		}
		got := MergeBatch(msgs)
		want := "[file: /tmp/q3.pdf] the report\n[image]\nthoughts?"
		if got.Content != want {
			t.Errorf("content %q, want %q", got.Content, want)
		}
	})
}
