package outbound

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

// Responder correlates inbound messages with outbound entries awaiting a
// reply. The gateway calls it for every accepted inbound message; misses are
// the common case and cost one indexed lookup.
type Responder struct {
	store store.OutboundStore
	log   *slog.Logger
}

func NewResponder(st store.OutboundStore, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{store: st, log: log}
}

// RecordResponse attaches an inbound reply to the most recent entry that
// messaged this sender and still awaits a receipt.
func (r *Responder) RecordResponse(ctx context.Context, senderIdentity string, at time.Time, text string) {
	e, err := r.store.FindEntryBySender(ctx, senderIdentity)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		r.log.Warn("entry lookup failed", "sender", senderIdentity, "error", err)
		return
	}
	if !e.PendingReceipt {
		return
	}
	if err := r.store.RecordEntryResponse(ctx, e.ID, at, text); err != nil {
		r.log.Warn("response record failed", "entry", e.ID, "error", err)
		return
	}
	r.log.Info("outbound reply received", "entry", e.ID, "sender", senderIdentity)
}
