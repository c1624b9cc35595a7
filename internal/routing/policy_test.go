package routing

import (
	"testing"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

func TestDecideDM(t *testing.T) {
	tests := []struct {
		name          string
		pol           Policy
		senderAllowed bool
		wantAllowed   bool
		wantPending   bool
	}{
		{"open allows unknown", Policy{DMPolicy: store.DMOpen}, false, true, false},
		{"pairing defers unknown", Policy{DMPolicy: store.DMPairing}, false, false, true},
		{"pairing passes allowed contact", Policy{DMPolicy: store.DMPairing}, true, true, false},
		{"closed denies unknown", Policy{DMPolicy: store.DMClosed}, false, false, false},
		{"closed passes allowed contact", Policy{DMPolicy: store.DMClosed}, true, true, false},
		{"allowFrom bypasses closed", Policy{DMPolicy: store.DMClosed, AllowFrom: []string{"5511999887766"}}, false, true, false},
		{"allowFrom entry canonicalized", Policy{DMPolicy: store.DMClosed, AllowFrom: []string{"+55 11 99988-7766"}}, false, true, false},
		{"allowFrom wildcard", Policy{DMPolicy: store.DMClosed, AllowFrom: []string{"*"}}, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decide("5511999887766", false, tt.pol, tt.senderAllowed)
			if v.Allowed != tt.wantAllowed || v.Pending != tt.wantPending {
				t.Errorf("got allowed=%v pending=%v, want allowed=%v pending=%v",
					v.Allowed, v.Pending, tt.wantAllowed, tt.wantPending)
			}
		})
	}
}

func TestDecideGroup(t *testing.T) {
	sender := "5511999887766"

	t.Run("closed denies even allowed senders", func(t *testing.T) {
		v := Decide(sender, true, Policy{GroupPolicy: store.GroupClosed, DMPolicy: store.DMOpen}, true)
		if v.Allowed || v.Pending {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("allowlist admits listed sender", func(t *testing.T) {
		pol := Policy{GroupPolicy: store.GroupAllowlist, GroupAllow: []string{sender}}
		if v := Decide(sender, true, pol, false); !v.Allowed {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("allowlist admits allowed contact", func(t *testing.T) {
		pol := Policy{GroupPolicy: store.GroupAllowlist}
		if v := Decide(sender, true, pol, true); !v.Allowed {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("allowlist defers unknown sender as pending", func(t *testing.T) {
		pol := Policy{GroupPolicy: store.GroupAllowlist}
		v := Decide(sender, true, pol, false)
		if v.Allowed || !v.Pending {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("open group still runs the dm gate", func(t *testing.T) {
		pol := Policy{GroupPolicy: store.GroupOpen, DMPolicy: store.DMClosed}
		if v := Decide(sender, true, pol, false); v.Allowed {
			t.Errorf("closed dm gate ignored for group sender: %+v", v)
		}
		pol.DMPolicy = store.DMOpen
		if v := Decide(sender, true, pol, false); !v.Allowed {
			t.Errorf("open group, open dm denied: %+v", v)
		}
	})
}

func TestEffective(t *testing.T) {
	inst := &store.Instance{
		DMPolicy:    store.DMOpen,
		GroupPolicy: store.GroupOpen,
		AllowFrom:   []string{"111"},
	}

	t.Run("no route", func(t *testing.T) {
		pol := Effective(inst, nil)
		if pol.DMPolicy != store.DMOpen || len(pol.AllowFrom) != 1 {
			t.Errorf("got %+v", pol)
		}
	})

	t.Run("route without policy", func(t *testing.T) {
		pol := Effective(inst, &store.Route{})
		if pol.DMPolicy != store.DMOpen {
			t.Errorf("got %+v", pol)
		}
	})

	t.Run("override replaces set fields only", func(t *testing.T) {
		rt := &store.Route{Policy: &store.RoutePolicy{
			DMPolicy:  store.DMPairing,
			AllowFrom: []string{"222", "333"},
		}}
		pol := Effective(inst, rt)
		if pol.DMPolicy != store.DMPairing {
			t.Errorf("dm override lost: %+v", pol)
		}
		if pol.GroupPolicy != store.GroupOpen {
			t.Errorf("unset override leaked: %+v", pol)
		}
		if len(pol.AllowFrom) != 2 || pol.AllowFrom[0] != "222" {
			t.Errorf("allowFrom override lost: %+v", pol)
		}
	})
}
