package gateway

import (
	"strings"
	"sync"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/bus"
)

// Debouncer coalesces message bursts per conversation key behind a resettable
// window. Each open batch owns one timer; a new arrival for the same key
// resets that timer rather than creating a second one, so a continuous burst
// flushes only once a gap of at least the window occurs. A zero window
// disables batching.
type Debouncer struct {
	window time.Duration
	flush  func(bus.InboundMessage)

	mu      sync.Mutex
	batches map[string]*pendingBatch
}

type pendingBatch struct {
	msgs     []bus.InboundMessage
	timer    *time.Timer
	deadline time.Time
}

func NewDebouncer(window time.Duration, flush func(bus.InboundMessage)) *Debouncer {
	return &Debouncer{
		window:  window,
		flush:   flush,
		batches: make(map[string]*pendingBatch),
	}
}

func batchKey(msg *bus.InboundMessage) string {
	return msg.Account + "\x00" + msg.ChatID
}

// Add submits a message for coalescing. With a zero window it is delivered
// immediately on the caller's goroutine.
func (d *Debouncer) Add(msg bus.InboundMessage) {
	if d.window <= 0 {
		d.flush(msg)
		return
	}
	key := batchKey(&msg)

	d.mu.Lock()
	if b, ok := d.batches[key]; ok {
		b.msgs = append(b.msgs, msg)
		b.deadline = time.Now().Add(d.window)
		b.timer.Reset(d.window)
		d.mu.Unlock()
		return
	}
	b := &pendingBatch{
		msgs:     []bus.InboundMessage{msg},
		deadline: time.Now().Add(d.window),
	}
	b.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.batches[key] = b
	d.mu.Unlock()
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	b, ok := d.batches[key]
	if ok {
		// An arrival can slip in between this timer firing and the lock being
		// taken; Reset cannot un-schedule an already-fired callback, so honor
		// the moved deadline here instead of flushing early.
		if remain := time.Until(b.deadline); remain > 0 {
			b.timer.Reset(remain)
			d.mu.Unlock()
			return
		}
		delete(d.batches, key)
	}
	d.mu.Unlock()
	if !ok || len(b.msgs) == 0 {
		return
	}
	d.flush(MergeBatch(b.msgs))
}

// FlushAll drains every open batch immediately. Used on shutdown so buffered
// messages are not lost.
func (d *Debouncer) FlushAll() {
	d.mu.Lock()
	drained := d.batches
	d.batches = make(map[string]*pendingBatch)
	d.mu.Unlock()

	for _, b := range drained {
		b.timer.Stop()
		if len(b.msgs) > 0 {
			d.flush(MergeBatch(b.msgs))
		}
	}
}

// Pending returns the number of open batches. Test hook.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

// MergeBatch folds a burst into one message. The last message is the base —
// its sender, chat, and media become primary. Earlier messages contribute
// textual references in arrival order, prepended to the base's own text.
func MergeBatch(msgs []bus.InboundMessage) bus.InboundMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}
	base := msgs[len(msgs)-1]

	var parts []string
	for i := range msgs[:len(msgs)-1] {
		if ref := messageRef(&msgs[i]); ref != "" {
			parts = append(parts, ref)
		}
	}
	if base.Content != "" {
		parts = append(parts, base.Content)
	}
	base.Content = strings.Join(parts, "\n")
	return base
}

// messageRef renders an earlier batch member as text.
func messageRef(msg *bus.InboundMessage) string {
	if msg.Media == nil {
		return msg.Content
	}
	var ref string
	switch {
	case msg.Media.Type == "document" && msg.Media.Path != "":
		ref = "[file: " + msg.Media.Path + "]"
	default:
		ref = "[" + msg.Media.Type + "]"
	}
	// Content carries the caption or transcript when the event had no text.
	if msg.Content != "" {
		ref += " " + msg.Content
	}
	return ref
}
