package outbound

import (
	"context"
	"fmt"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/store"
	"github.com/filipexyz/ravi-sub000/pkg/protocol"
)

// BusSender hands outbound turns to whatever connector or dispatch layer is
// subscribed on the bus. It resolves the target identity but composes no
// content; that belongs to the agent behind the event.
type BusSender struct {
	bus      *bus.MessageBus
	contacts store.ContactStore
}

func NewBusSender(b *bus.MessageBus, contacts store.ContactStore) *BusSender {
	return &BusSender{bus: b, contacts: contacts}
}

func (s *BusSender) Send(ctx context.Context, req SendRequest) (string, error) {
	target, channel, err := s.resolveTarget(ctx, req)
	if err != nil {
		return "", err
	}

	meta := map[string]string{
		"queue_id":    req.Queue.ID,
		"queue_name":  req.Queue.Name,
		"entry_id":    req.Entry.ID,
		"session_key": req.SessionKey,
		"agent_id":    req.Queue.AgentID,
	}
	if req.Queue.Instructions != "" {
		meta["instructions"] = req.Queue.Instructions
	}
	for k, v := range req.Entry.Context {
		meta["ctx."+k] = v
	}

	s.bus.Broadcast(bus.Event{
		Name: protocol.EventMessageSend,
		Payload: bus.OutboundMessage{
			Channel:  channel,
			ChatID:   target,
			Metadata: meta,
		},
	})
	return target, nil
}

// resolveTarget picks the identity to message: the one a previous round used,
// otherwise the contact's primary identity.
func (s *BusSender) resolveTarget(ctx context.Context, req SendRequest) (target, channel string, err error) {
	if req.Entry.SenderIdentity != "" {
		return req.Entry.SenderIdentity, "", nil
	}
	if req.Contact == nil {
		return "", "", fmt.Errorf("entry %s has no contact and no prior send identity", req.Entry.ID)
	}
	idents, err := s.contacts.ListIdentities(ctx, req.Contact.ID)
	if err != nil {
		return "", "", err
	}
	if len(idents) == 0 {
		return "", "", fmt.Errorf("contact %s has no identities", req.Contact.ID)
	}
	pick := idents[0]
	for _, id := range idents {
		if id.Primary {
			pick = id
			break
		}
	}
	return pick.Value, pick.Platform, nil
}
