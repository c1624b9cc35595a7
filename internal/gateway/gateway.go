package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/identity"
	"github.com/filipexyz/ravi-sub000/internal/routing"
	"github.com/filipexyz/ravi-sub000/internal/sessions"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

// ResponseRecorder lets the outbound side learn about replies from contacts
// it has messaged. Optional.
type ResponseRecorder interface {
	RecordResponse(ctx context.Context, senderIdentity string, at time.Time, text string)
}

// Gateway runs the inbound pipeline: normalize, filter, resolve identity,
// decide policy, resolve route and session, then debounce into the message
// bus for dispatch.
type Gateway struct {
	msgBus    *bus.MessageBus
	graph     *identity.Graph
	resolver  *routing.Resolver
	instances store.InstanceStore
	sessions  *sessions.Manager
	deliverer bus.Deliverer
	receipts  bool
	responses ResponseRecorder
	debouncer *Debouncer
	tracer    trace.Tracer
	log       *slog.Logger
}

// Config wires a Gateway. Deliverer and Responses may be nil.
type Config struct {
	Bus       *bus.MessageBus
	Graph     *identity.Graph
	Resolver  *routing.Resolver
	Instances store.InstanceStore
	Sessions  *sessions.Manager
	Deliverer bus.Deliverer
	// ReadReceipts marks accepted messages as read via the deliverer.
	ReadReceipts bool
	Responses    ResponseRecorder
	Debounce     time.Duration
	Logger       *slog.Logger
}

func New(cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		msgBus:    cfg.Bus,
		graph:     cfg.Graph,
		resolver:  cfg.Resolver,
		instances: cfg.Instances,
		sessions:  cfg.Sessions,
		deliverer: cfg.Deliverer,
		receipts:  cfg.ReadReceipts,
		responses: cfg.Responses,
		tracer:    otel.Tracer("gateway"),
		log:       log,
	}
	g.debouncer = NewDebouncer(cfg.Debounce, g.deliver)
	return g
}

// HandleRaw is the connector entry point: one raw channel event in, zero or
// one (possibly merged) InboundMessage out on the bus.
func (g *Gateway) HandleRaw(ctx context.Context, instanceName string, raw *bus.RawEvent) error {
	ctx, span := g.tracer.Start(ctx, "gateway.handle_raw",
		trace.WithAttributes(attribute.String("instance", instanceName)))
	defer span.End()

	inst, err := g.instances.GetByName(ctx, instanceName)
	if err != nil {
		return err
	}

	msg := Normalize(raw, inst.ChannelType, inst.Name)
	if pass, reason := ShouldProcess(raw, msg); !pass {
		span.SetAttributes(attribute.String("reject", reason))
		g.log.Debug("inbound rejected", "instance", instanceName, "reason", reason)
		return nil
	}

	contact, err := g.graph.Resolve(ctx, inst.ChannelType, msg.SenderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if contact != nil {
		if contact.Status == store.StatusBlocked {
			g.log.Debug("inbound dropped", "sender", msg.SenderID, "reason", "blocked contact")
			return nil
		}
		msg.ContactID = contact.ID
	}
	senderAllowed := contact != nil && contact.Status == store.StatusAllowed

	res, err := g.resolver.ResolveRoute(ctx, inst, msg.SenderID, msg.ChatID, msg.IsGroup, inst.ChannelType)
	if err != nil {
		return err
	}
	pol := routing.Effective(inst, res.Route)
	verdict := routing.Decide(msg.SenderID, msg.IsGroup, pol, senderAllowed)
	if !verdict.Allowed {
		span.SetAttributes(attribute.String("deny", verdict.Reason))
		if verdict.Pending {
			// Denial with pending persists the sender for later approval.
			if _, err := g.graph.SavePending(ctx, inst.ChannelType, msg.SenderID, msg.SenderName); err != nil {
				g.log.Warn("pending contact save failed", "sender", msg.SenderID, "error", err)
			}
		}
		g.log.Info("inbound denied", "instance", instanceName,
			"sender", msg.SenderID, "reason", verdict.Reason, "pending", verdict.Pending)
		return nil
	}

	if contact == nil {
		// Policy admitted an unknown sender; record them.
		saveStatus := g.graph.Upsert
		if msg.IsGroup {
			saveStatus = g.graph.SaveDiscovered
		}
		contact, err = saveStatus(ctx, inst.ChannelType, msg.SenderID, msg.SenderName)
		if err != nil {
			return err
		}
		msg.ContactID = contact.ID
	} else if msg.SenderName != "" {
		if err := g.graph.FillName(ctx, contact.ID, msg.SenderName); err != nil {
			g.log.Warn("name fill failed", "contact", contact.ID, "error", err)
		}
	}
	if err := g.graph.RecordInbound(ctx, contact.ID, msg.Timestamp); err != nil {
		g.log.Warn("interaction record failed", "contact", contact.ID, "error", err)
	}
	if g.responses != nil {
		g.responses.RecordResponse(ctx, msg.SenderID, msg.Timestamp, msg.Content)
	}

	msg.Content = ResolveMentions(ctx, msg.Content, msg.Mentions,
		inst.ChannelType, msg.ChatID, graphNames{g.graph})

	agentID := res.Agent
	var key string
	if res.Route != nil && res.Route.SessionName != "" {
		key = sessions.BuildNamedSessionKey(agentID, res.Route.SessionName)
	} else {
		key = sessions.BuildScopedSessionKey(agentID, inst.ChannelType, inst.Name,
			sessions.PeerKindFromGroup(msg.IsGroup), msg.ChatID, inst.DMScope)
	}
	sess, err := g.sessions.GetOrCreate(ctx, key, agentID)
	if err != nil {
		return err
	}
	if res.Route != nil && res.Route.SessionName != "" && sess.Name == "" {
		if err := g.sessions.Rename(ctx, key, res.Route.SessionName); err != nil {
			g.log.Warn("session rename failed", "key", key, "error", err)
		}
	}
	if err := g.sessions.RecordDelivery(ctx, key, inst.ChannelType, inst.Name, msg.ChatID, nil); err != nil {
		g.log.Warn("delivery record failed", "key", key, "error", err)
	}

	msg.AgentID = agentID
	msg.SessionKey = key

	if g.receipts && g.deliverer != nil && msg.MessageID != "" {
		g.deliverer.SendReadReceipt(ctx, inst.ChannelType, inst.Name, raw.Chat, msg.MessageID)
	}

	g.debouncer.Add(*msg)
	return nil
}

// deliver is the debounce flush target.
func (g *Gateway) deliver(msg bus.InboundMessage) {
	g.log.Info("inbound accepted", "account", msg.Account, "chat", msg.ChatID,
		"session", msg.SessionKey, "agent", msg.AgentID)
	g.msgBus.PublishInbound(msg)
}

// Drain flushes open debounce batches. Call on shutdown.
func (g *Gateway) Drain() {
	g.debouncer.FlushAll()
}

// graphNames adapts the identity graph to the mention name lookup. Group tags
// are a connector concern we do not track, so only contact names resolve.
type graphNames struct {
	graph *identity.Graph
}

func (n graphNames) GroupTag(ctx context.Context, chatID, memberID string) string {
	return ""
}

func (n graphNames) ContactName(ctx context.Context, platform, memberID string) string {
	c, err := n.graph.Resolve(ctx, platform, memberID)
	if err != nil {
		return ""
	}
	return c.Name
}
