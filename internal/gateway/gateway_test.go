package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/identity"
	"github.com/filipexyz/ravi-sub000/internal/routing"
	"github.com/filipexyz/ravi-sub000/internal/sessions"
	"github.com/filipexyz/ravi-sub000/internal/store"
	"github.com/filipexyz/ravi-sub000/internal/store/sqlite"
)

type gwFixture struct {
	gw     *Gateway
	msgBus *bus.MessageBus
	stores *store.Stores
	graph  *identity.Graph
}

func newGwFixture(t *testing.T, inst *store.Instance) *gwFixture {
	t.Helper()
	stores, err := sqlite.NewStores(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	if err := stores.Instances.Create(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	msgBus := bus.NewMessageBus()
	graph := identity.New(stores.Contacts)
	gw := New(Config{
		Bus:       msgBus,
		Graph:     graph,
		Resolver:  routing.NewResolver(stores.Routes),
		Instances: stores.Instances,
		Sessions:  sessions.NewManager(stores.Sessions, bus.NewAbortRegistry(), nil),
		Debounce:  0, // synchronous delivery in tests
	})
	return &gwFixture{gw: gw, msgBus: msgBus, stores: stores, graph: graph}
}

func (f *gwFixture) consume(t *testing.T) *bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := f.msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no message on the bus")
	}
	return &msg
}

func (f *gwFixture) empty(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if msg, ok := f.msgBus.ConsumeInbound(ctx); ok {
		t.Fatalf("unexpected message on the bus: %+v", msg)
	}
}

func dmEvent(sender, text string) *bus.RawEvent {
	return &bus.RawEvent{
		MessageID:    "m1",
		Sender:       sender + "@s.whatsapp.net",
		Chat:         sender + "@s.whatsapp.net",
		PushName:     "Maria",
		Conversation: text,
		Timestamp:    time.Now().UTC(),
	}
}

func TestHandleRawOpenDM(t *testing.T) {
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
	})
	ctx := context.Background()

	if err := f.gw.HandleRaw(ctx, "main", dmEvent("5511999887766", "hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msg := f.consume(t)
	if msg.Content != "hello" || msg.AgentID != "default" {
		t.Errorf("got %+v", msg)
	}
	if want := "agent:default:whatsapp:direct:5511999887766"; msg.SessionKey != want {
		t.Errorf("session key %q, want %q", msg.SessionKey, want)
	}

	// The unknown sender was recorded as an allowed contact.
	c, err := f.graph.Resolve(ctx, "whatsapp", "5511999887766")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != store.StatusAllowed || c.Name != "Maria" {
		t.Errorf("contact %+v", c)
	}
	if msg.ContactID != c.ID {
		t.Errorf("contact id not stamped on message")
	}
	if c.InteractionCount != 1 {
		t.Errorf("interaction count %d", c.InteractionCount)
	}
}

func TestHandleRawPairingPersistsPending(t *testing.T) {
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
		DMPolicy: store.DMPairing,
	})
	ctx := context.Background()

	if err := f.gw.HandleRaw(ctx, "main", dmEvent("5511999887766", "let me in")); err != nil {
		t.Fatal(err)
	}
	f.empty(t)

	c, err := f.graph.Resolve(ctx, "whatsapp", "5511999887766")
	if err != nil {
		t.Fatalf("pending contact not saved: %v", err)
	}
	if c.Status != store.StatusPending {
		t.Errorf("status %q, want pending", c.Status)
	}

	// Once approved, the same sender passes.
	if err := f.stores.Contacts.SetStatus(ctx, c.ID, store.StatusAllowed); err != nil {
		t.Fatal(err)
	}
	if err := f.gw.HandleRaw(ctx, "main", dmEvent("5511999887766", "again")); err != nil {
		t.Fatal(err)
	}
	if msg := f.consume(t); msg.Content != "again" {
		t.Errorf("got %+v", msg)
	}
}

func TestHandleRawBlockedDropped(t *testing.T) {
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
	})
	ctx := context.Background()

	c, err := f.graph.Upsert(ctx, "whatsapp", "5511999887766", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.stores.Contacts.SetStatus(ctx, c.ID, store.StatusBlocked); err != nil {
		t.Fatal(err)
	}

	if err := f.gw.HandleRaw(ctx, "main", dmEvent("5511999887766", "hi")); err != nil {
		t.Fatal(err)
	}
	f.empty(t)
}

func TestHandleRawGroupSenderDiscovered(t *testing.T) {
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
	})
	ctx := context.Background()

	raw := &bus.RawEvent{
		MessageID:    "m1",
		Sender:       "5511999887766@s.whatsapp.net",
		Chat:         "120363000000000001@g.us",
		IsGroup:      true,
		Conversation: "hi all",
		Timestamp:    time.Now().UTC(),
	}
	if err := f.gw.HandleRaw(ctx, "main", raw); err != nil {
		t.Fatal(err)
	}
	msg := f.consume(t)
	if want := "agent:default:whatsapp:group:group:120363000000000001"; msg.SessionKey != want {
		t.Errorf("session key %q, want %q", msg.SessionKey, want)
	}

	// Group traffic records the sender as discovered, not allowed.
	c, err := f.graph.Resolve(ctx, "whatsapp", "5511999887766")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != store.StatusDiscovered {
		t.Errorf("status %q, want discovered", c.Status)
	}
}

func TestHandleRawForcedSessionName(t *testing.T) {
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
	})
	ctx := context.Background()

	rt := &store.Route{
		Instance: "main", Pattern: "5511*", Agent: "support",
		Priority: 10, SessionName: "support-inbox",
	}
	if err := f.stores.Routes.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}

	// Two different senders matching the route share one conversation.
	if err := f.gw.HandleRaw(ctx, "main", dmEvent("5511000000001", "a")); err != nil {
		t.Fatal(err)
	}
	if err := f.gw.HandleRaw(ctx, "main", dmEvent("5511000000002", "b")); err != nil {
		t.Fatal(err)
	}
	m1, m2 := f.consume(t), f.consume(t)
	if m1.SessionKey != "agent:support:support-inbox" || m1.SessionKey != m2.SessionKey {
		t.Errorf("keys %q / %q", m1.SessionKey, m2.SessionKey)
	}
	if m1.AgentID != "support" {
		t.Errorf("agent %q", m1.AgentID)
	}

	sess, err := f.stores.Sessions.GetByName(ctx, "support-inbox")
	if err != nil {
		t.Fatalf("named session: %v", err)
	}
	if sess.Key != m1.SessionKey {
		t.Errorf("session name points at %q", sess.Key)
	}
}

func TestHandleRawSelfEchoIgnored(t *testing.T) {
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
	})
	raw := dmEvent("5511999887766", "echo")
	raw.FromMe = true
	if err := f.gw.HandleRaw(context.Background(), "main", raw); err != nil {
		t.Fatal(err)
	}
	f.empty(t)
}
