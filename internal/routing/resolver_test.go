package routing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/filipexyz/ravi-sub000/internal/store"
	"github.com/filipexyz/ravi-sub000/internal/store/sqlite"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		sender  string
		chat    string
		isGroup bool
		want    bool
	}{
		{"exact sender", "5511999887766", "5511999887766", "5511999887766", false, true},
		{"exact chat", "group:123", "5511999887766", "group:123", true, true},
		{"exact miss", "5511000000000", "5511999887766", "5511999887766", false, false},
		{"group prefix bare id", "group:123", "555", "123", true, true},
		{"group prefix needs group chat", "group:123", "555", "group:123", false, false},
		{"lid prefix bare sender", "lid:987", "987", "chat", false, true},
		{"lid prefix canonical sender", "lid:987", "lid:987", "chat", false, true},
		{"universal", "*", "anyone", "anywhere", false, true},
		{"glob sender", "5511*", "5511999887766", "x", false, true},
		{"glob chat", "group:12*", "555", "group:123", true, true},
		{"glob miss", "5521*", "5511999887766", "5511999887766", false, false},
		{"empty pattern", "", "x", "x", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(tt.pattern, tt.sender, tt.chat, tt.isGroup)
			if got != tt.want {
				t.Errorf("Matches(%q, %q, %q, %v) = %v, want %v",
					tt.pattern, tt.sender, tt.chat, tt.isGroup, got, tt.want)
			}
		})
	}
}

func newTestResolver(t *testing.T) (*Resolver, *store.Stores) {
	t.Helper()
	stores, err := sqlite.NewStores(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	return NewResolver(stores.Routes), stores
}

func TestResolveRoute(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "main", ChannelType: "whatsapp", DefaultAgent: "default"}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		t.Fatal(err)
	}
	seed := []store.Route{
		{Instance: "main", Pattern: "*", Agent: "catchall", Priority: 0},
		{Instance: "main", Pattern: "5511*", Agent: "brazil", Priority: 5},
		{Instance: "main", Pattern: "5511999887766", Agent: "vip", Priority: 10},
		{Instance: "main", Pattern: "group:123", Agent: "groups", Priority: 5},
		{Instance: "main", Pattern: "tg-only", Agent: "tg", Priority: 20, Channel: "telegram"},
	}
	for i := range seed {
		if err := stores.Routes.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("seed %s: %v", seed[i].Pattern, err)
		}
	}

	resolve := func(sender, chat string, isGroup bool) Resolution {
		t.Helper()
		res, err := r.ResolveRoute(ctx, inst, sender, chat, isGroup, "whatsapp")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		return res
	}

	if res := resolve("5511999887766", "5511999887766", false); res.Agent != "vip" {
		t.Errorf("exact over glob: got %q", res.Agent)
	}
	if res := resolve("5511000000001", "5511000000001", false); res.Agent != "brazil" {
		t.Errorf("glob over catchall: got %q", res.Agent)
	}
	if res := resolve("555", "group:123", true); res.Agent != "groups" {
		t.Errorf("group route: got %q", res.Agent)
	}
	if res := resolve("999", "999", false); res.Agent != "catchall" {
		t.Errorf("universal fallback: got %q", res.Agent)
	}
	// Channel filter keeps the telegram-only route out of whatsapp traffic.
	if res := resolve("tg-only", "tg-only", false); res.Agent != "catchall" {
		t.Errorf("channel filter: got %q", res.Agent)
	}
}

func TestResolveRouteTieBreak(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "main", ChannelType: "whatsapp", DefaultAgent: "default"}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		t.Fatal(err)
	}
	for _, rt := range []store.Route{
		{Instance: "main", Pattern: "55*", Agent: "b", Priority: 5},
		{Instance: "main", Pattern: "5*", Agent: "a", Priority: 5},
	} {
		rt := rt
		if err := stores.Routes.Create(ctx, &rt); err != nil {
			t.Fatal(err)
		}
	}

	// Equal priority: lexicographically smaller pattern wins, regardless of
	// insertion order.
	res, err := r.ResolveRoute(ctx, inst, "5511000000001", "5511000000001", false, "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Route == nil || res.Route.Pattern != "5*" {
		t.Errorf("got %+v, want pattern 5*", res.Route)
	}
}

func TestResolveRouteDefaultAgent(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "main", ChannelType: "whatsapp", DefaultAgent: "fallback"}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		t.Fatal(err)
	}
	// Route with an empty agent inherits the instance default.
	rt := &store.Route{Instance: "main", Pattern: "*", Priority: 1}
	if err := stores.Routes.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}

	res, err := r.ResolveRoute(ctx, inst, "x", "x", false, "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Route == nil || res.Agent != "fallback" {
		t.Errorf("got route=%v agent=%q", res.Route, res.Agent)
	}
}

func TestResolveRouteSkipsTombstoned(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "main", ChannelType: "whatsapp", DefaultAgent: "default"}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		t.Fatal(err)
	}
	rt := &store.Route{Instance: "main", Pattern: "*", Agent: "old", Priority: 1}
	if err := stores.Routes.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}
	if err := stores.Routes.Delete(ctx, "*", "main"); err != nil {
		t.Fatal(err)
	}

	res, err := r.ResolveRoute(ctx, inst, "x", "x", false, "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Route != nil {
		t.Errorf("tombstoned route matched: %+v", res.Route)
	}

	if err := stores.Routes.Restore(ctx, "*", "main"); err != nil {
		t.Fatal(err)
	}
	res, err = r.ResolveRoute(ctx, inst, "x", "x", false, "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Route == nil || res.Agent != "old" {
		t.Errorf("restored route not matched: %+v", res)
	}
}
