package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

func newTestStores(t *testing.T) *store.Stores {
	t.Helper()
	stores, err := NewStores(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	return stores
}

func TestRouteTombstoneLifecycle(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	r := &store.Route{Pattern: "5511*", Instance: "main", Agent: "a", Priority: 1}
	if err := stores.Routes.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	// A live duplicate is a conflict.
	dup := &store.Route{Pattern: "5511*", Instance: "main", Agent: "b"}
	if err := stores.Routes.Create(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	if err := stores.Routes.Delete(ctx, "5511*", "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := stores.Routes.Get(ctx, "5511*", "main"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("tombstoned route still readable: %v", err)
	}
	live, err := stores.Routes.ListByInstance(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Errorf("tombstoned route listed: %d", len(live))
	}
	all, err := stores.Routes.ListAll(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || !all[0].Deleted() {
		t.Errorf("ListAll: %+v", all)
	}

	// After the tombstone, the same (pattern, instance) may be recreated.
	if err := stores.Routes.Create(ctx, dup); err != nil {
		t.Fatalf("recreate after tombstone: %v", err)
	}

	// Restoring the old row would produce a duplicate live pair.
	if err := stores.Routes.Restore(ctx, "5511*", "main"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("restore over live dup: want ErrConflict, got %v", err)
	}
}

func TestRouteRestore(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	r := &store.Route{Pattern: "group:9", Instance: "main", Agent: "a"}
	if err := stores.Routes.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := stores.Routes.Delete(ctx, "group:9", "main"); err != nil {
		t.Fatal(err)
	}
	if err := stores.Routes.Restore(ctx, "group:9", "main"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := stores.Routes.Get(ctx, "group:9", "main")
	if err != nil {
		t.Fatal(err)
	}
	if got.Deleted() || got.Agent != "a" {
		t.Errorf("restored route: %+v", got)
	}

	if err := stores.Routes.Restore(ctx, "group:9", "main"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("restore of live route: want ErrNotFound, got %v", err)
	}
}

func TestRoutePolicyRoundTrip(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	r := &store.Route{
		Pattern:  "group:123",
		Instance: "main",
		Policy: &store.RoutePolicy{
			DMPolicy:   store.DMPairing,
			GroupAllow: []string{"111", "222"},
		},
	}
	if err := stores.Routes.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, err := stores.Routes.Get(ctx, "group:123", "main")
	if err != nil {
		t.Fatal(err)
	}
	if got.Policy == nil || got.Policy.DMPolicy != store.DMPairing || len(got.Policy.GroupAllow) != 2 {
		t.Errorf("policy %+v", got.Policy)
	}

	// Routes without a policy stay nil, not an empty struct.
	bare := &store.Route{Pattern: "bare", Instance: "main"}
	if err := stores.Routes.Create(ctx, bare); err != nil {
		t.Fatal(err)
	}
	got, err = stores.Routes.Get(ctx, "bare", "main")
	if err != nil {
		t.Fatal(err)
	}
	if got.Policy != nil {
		t.Errorf("nil policy round-tripped as %+v", got.Policy)
	}
}

func TestClaimEntryCAS(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	q := &store.OutboundQueue{Name: "q", IntervalMs: 1000, AgentID: "a"}
	if err := stores.Outbound.CreateQueue(ctx, q); err != nil {
		t.Fatal(err)
	}
	e := &store.OutboundEntry{QueueID: q.ID, Status: store.EntryPending}
	if err := stores.Outbound.AddEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	claimed, err := stores.Outbound.ClaimEntry(ctx, e.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim: %v %v", claimed, err)
	}
	claimed, err = stores.Outbound.ClaimEntry(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("second claim won on a non-pending entry")
	}
}

func TestResetEntry(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	q := &store.OutboundQueue{Name: "q", IntervalMs: 1000, AgentID: "a"}
	if err := stores.Outbound.CreateQueue(ctx, q); err != nil {
		t.Fatal(err)
	}
	e := &store.OutboundEntry{
		QueueID: q.ID,
		Status:  store.EntryPending,
		Context: map[string]string{"name": "Lead", "campaign": "q3"},
	}
	if err := stores.Outbound.AddEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if _, err := stores.Outbound.ClaimEntry(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if err := stores.Outbound.RecordEntrySend(ctx, e.ID, at, "5511999", store.EntryDone); err != nil {
		t.Fatal(err)
	}
	if err := stores.Outbound.SetQualification(ctx, e.ID, store.QualWarm); err != nil {
		t.Fatal(err)
	}
	if err := stores.Outbound.RecordEntryResponse(ctx, e.ID, at.Add(time.Minute), "ok"); err != nil {
		t.Fatal(err)
	}

	// Partial reset clears rounds and history but keeps context.
	if err := stores.Outbound.ResetEntry(ctx, e.ID, false); err != nil {
		t.Fatal(err)
	}
	got, err := stores.Outbound.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.EntryPending || got.RoundsCompleted != 0 ||
		got.Qualification != "" || got.LastSentAt != nil || got.LastResponse != "" {
		t.Errorf("partial reset left state: %+v", got)
	}
	if got.Context["campaign"] != "q3" {
		t.Errorf("partial reset dropped context: %+v", got.Context)
	}

	// Full reset keeps only the name.
	if err := stores.Outbound.ResetEntry(ctx, e.ID, true); err != nil {
		t.Fatal(err)
	}
	got, err = stores.Outbound.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Context["name"] != "Lead" || len(got.Context) != 1 {
		t.Errorf("full reset context: %+v", got.Context)
	}
}

func TestContactMergeCounters(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	target := &store.Contact{Status: store.StatusAllowed}
	source := &store.Contact{Name: "Src", Status: store.StatusAllowed}
	for _, c := range []*store.Contact{target, source} {
		if err := stores.Contacts.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := stores.Contacts.RecordInbound(ctx, source.ID, at); err != nil {
			t.Fatal(err)
		}
	}
	if err := stores.Contacts.RecordInbound(ctx, target.ID, at); err != nil {
		t.Fatal(err)
	}

	if err := stores.Contacts.Merge(ctx, target.ID, source.ID); err != nil {
		t.Fatal(err)
	}
	got, err := stores.Contacts.GetByID(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.InteractionCount != 4 {
		t.Errorf("merged count %d, want 4", got.InteractionCount)
	}
	if got.Name != "Src" {
		t.Errorf("blank name not filled: %q", got.Name)
	}
}

func TestInstanceDefaults(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "main", ChannelType: "whatsapp", DefaultAgent: "default"}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		t.Fatal(err)
	}
	got, err := stores.Instances.GetByName(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got.DMPolicy != store.DMOpen || got.GroupPolicy != store.GroupOpen {
		t.Errorf("defaults not applied: %+v", got)
	}

	if err := stores.Instances.Create(ctx, &store.Instance{Name: "main", ChannelType: "x"}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate name: want ErrConflict, got %v", err)
	}
	if _, err := stores.Instances.GetByName(ctx, "absent"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}

	bad := &store.Instance{Name: "bad", ChannelType: "x", DMPolicy: "sometimes"}
	if err := stores.Instances.Create(ctx, bad); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("invalid policy accepted: %v", err)
	}
}
