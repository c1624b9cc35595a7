package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/filipexyz/ravi-sub000/internal/store"
	"github.com/filipexyz/ravi-sub000/internal/store/sqlite"
)

func newTestGraph(t *testing.T) (*Graph, store.ContactStore) {
	t.Helper()
	stores, err := sqlite.NewStores(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	return New(stores.Contacts), stores.Contacts
}

func TestUpsertCreatesAndResolves(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	c, err := g.Upsert(ctx, "whatsapp", "5511999887766@s.whatsapp.net", "Maria")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if c.Name != "Maria" || c.Status != store.StatusAllowed {
		t.Fatalf("got name=%q status=%q", c.Name, c.Status)
	}

	// Any spelling of the same identity resolves to the same contact.
	for _, raw := range []string{"5511999887766", "+55 11 99988-7766", "5511999887766:3@s.whatsapp.net"} {
		got, err := g.Resolve(ctx, "whatsapp", raw)
		if err != nil {
			t.Fatalf("resolve %q: %v", raw, err)
		}
		if got.ID != c.ID {
			t.Errorf("resolve %q: contact %s, want %s", raw, got.ID, c.ID)
		}
	}
}

func TestUpsertKeepsExistingName(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	c, err := g.Upsert(ctx, "whatsapp", "5511000000001", "Original")
	if err != nil {
		t.Fatal(err)
	}
	again, err := g.Upsert(ctx, "whatsapp", "5511000000001", "PushName")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != c.ID {
		t.Fatalf("upsert created a second contact")
	}
	if again.Name != "Original" {
		t.Errorf("name overwritten: got %q", again.Name)
	}
}

func TestSaveNeverDowngradesStatus(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	c, err := g.Upsert(ctx, "whatsapp", "5511000000002", "")
	if err != nil {
		t.Fatal(err)
	}

	// discovered < pending < allowed: neither save may lower the status.
	if got, err := g.SaveDiscovered(ctx, "whatsapp", "5511000000002", ""); err != nil {
		t.Fatal(err)
	} else if got.Status != store.StatusAllowed {
		t.Errorf("discovered save downgraded to %q", got.Status)
	}
	if got, err := g.SavePending(ctx, "whatsapp", "5511000000002", ""); err != nil {
		t.Fatal(err)
	} else if got.Status != store.StatusAllowed {
		t.Errorf("pending save downgraded to %q", got.Status)
	}

	// And the other direction upgrades.
	d, err := g.SaveDiscovered(ctx, "whatsapp", "5511000000003", "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != store.StatusDiscovered {
		t.Fatalf("fresh discovered contact has status %q", d.Status)
	}
	p, err := g.SavePending(ctx, "whatsapp", "5511000000003", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != d.ID || p.Status != store.StatusPending {
		t.Errorf("pending save: id=%s status=%q", p.ID, p.Status)
	}
	_ = c
}

func TestAddIdentityConflict(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	a, err := g.Upsert(ctx, "whatsapp", "5511000000004", "A")
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Upsert(ctx, "whatsapp", "5511000000005", "B")
	if err != nil {
		t.Fatal(err)
	}

	// Claiming an identity owned by another contact is a conflict.
	err = g.AddIdentity(ctx, b.ID, "whatsapp", "5511000000004", false)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	// Re-adding a pair the contact already owns is a no-op.
	if err := g.AddIdentity(ctx, a.ID, "whatsapp", "5511000000004", false); err != nil {
		t.Fatalf("idempotent add: %v", err)
	}
}

func TestMerge(t *testing.T) {
	g, contacts := newTestGraph(t)
	ctx := context.Background()

	target, err := g.Upsert(ctx, "whatsapp", "5511000000006", "")
	if err != nil {
		t.Fatal(err)
	}
	source, err := g.Upsert(ctx, "telegram", "tg:9001", "Carlos")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Merge(ctx, target.ID, source.ID); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// Source identity now resolves to target; source is gone.
	got, err := g.Resolve(ctx, "telegram", "tg:9001")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != target.ID {
		t.Errorf("source identity resolves to %s, want %s", got.ID, target.ID)
	}
	if got.Name != "Carlos" {
		t.Errorf("blank target name not filled from source: %q", got.Name)
	}
	if _, err := contacts.GetByID(ctx, source.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("source contact still exists: %v", err)
	}

	if err := g.Merge(ctx, target.ID, target.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("self-merge: want ErrInvalidInput, got %v", err)
	}
}

func TestAutoLinkAttachesUnknownSide(t *testing.T) {
	g, contacts := newTestGraph(t)
	ctx := context.Background()

	c, err := g.Upsert(ctx, "whatsapp", "5511000000007", "Ana")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.AutoLink(ctx, "whatsapp", "5511000000007", "98765000001"); err != nil {
		t.Fatalf("autolink: %v", err)
	}

	got, err := g.Resolve(ctx, "whatsapp", "lid:98765000001")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != c.ID {
		t.Errorf("lid resolves to %s, want %s", got.ID, c.ID)
	}

	// Idempotent.
	if err := g.AutoLink(ctx, "whatsapp", "5511000000007", "98765000001"); err != nil {
		t.Fatalf("second autolink: %v", err)
	}
	idents, err := contacts.ListIdentities(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(idents) != 2 {
		t.Errorf("got %d identities, want 2", len(idents))
	}
}

func TestAutoLinkMergeKeepsHigherStatus(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	phone, err := g.SaveDiscovered(ctx, "whatsapp", "5511000000008", "")
	if err != nil {
		t.Fatal(err)
	}
	lid, err := g.Upsert(ctx, "whatsapp", "lid:98765000002", "Approved")
	if err != nil {
		t.Fatal(err)
	}

	// The allowed lid contact survives the merge; the discovered phone
	// contact folds into it.
	if err := g.AutoLink(ctx, "whatsapp", "5511000000008", "98765000002"); err != nil {
		t.Fatalf("autolink: %v", err)
	}
	got, err := g.Resolve(ctx, "whatsapp", "5511000000008")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != lid.ID {
		t.Errorf("survivor is %s, want the allowed contact %s", got.ID, lid.ID)
	}
	if got.Status != store.StatusAllowed {
		t.Errorf("survivor status %q, want allowed", got.Status)
	}
	_ = phone
}

func TestAutoLinkTieFavorsPhone(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	phone, err := g.Upsert(ctx, "whatsapp", "5511000000009", "Phone")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Upsert(ctx, "whatsapp", "lid:98765000003", "Lid"); err != nil {
		t.Fatal(err)
	}

	if err := g.AutoLink(ctx, "whatsapp", "5511000000009", "98765000003"); err != nil {
		t.Fatalf("autolink: %v", err)
	}
	got, err := g.Resolve(ctx, "whatsapp", "lid:98765000003")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != phone.ID {
		t.Errorf("equal-status merge kept %s, want the phone contact %s", got.ID, phone.ID)
	}
}

func TestResolveBareLID(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	c, err := g.Upsert(ctx, "whatsapp", "lid:98765000004", "")
	if err != nil {
		t.Fatal(err)
	}
	// Channels sometimes report the anonymized id without the prefix.
	got, err := g.Resolve(ctx, "whatsapp", "98765000004")
	if err != nil {
		t.Fatalf("bare lid resolve: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("resolved %s, want %s", got.ID, c.ID)
	}
}
