package bus

import (
	"context"
	"sync"
)

type abortEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

// AbortRegistry tracks cancelation for in-flight agent dispatches, keyed by
// session key. Deleting or resetting a session aborts its dispatch context;
// the guarantee is that no further work is scheduled for the key, not that an
// in-flight external call halts instantly.
type AbortRegistry struct {
	mu      sync.Mutex
	gen     uint64
	entries map[string]abortEntry
}

// NewAbortRegistry creates an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{entries: make(map[string]abortEntry)}
}

// Register derives a cancelable context for a dispatch on sessionKey.
// A second registration for the same key cancels the previous dispatch first.
// The returned release func must be called when the dispatch finishes.
func (r *AbortRegistry) Register(ctx context.Context, sessionKey string) (context.Context, func()) {
	r.mu.Lock()
	if prev, ok := r.entries[sessionKey]; ok {
		prev.cancel()
	}
	dctx, cancel := context.WithCancel(ctx)
	r.gen++
	gen := r.gen
	r.entries[sessionKey] = abortEntry{cancel: cancel, gen: gen}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if cur, ok := r.entries[sessionKey]; ok && cur.gen == gen {
			delete(r.entries, sessionKey)
		}
		r.mu.Unlock()
		cancel()
	}
	return dctx, release
}

// Abort cancels any in-flight dispatch for sessionKey. Returns true if a
// dispatch was active.
func (r *AbortRegistry) Abort(sessionKey string) bool {
	r.mu.Lock()
	e, ok := r.entries[sessionKey]
	if ok {
		delete(r.entries, sessionKey)
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
	}
	return ok
}

// AbortAll cancels every in-flight dispatch (shutdown path).
func (r *AbortRegistry) AbortAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]abortEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}
