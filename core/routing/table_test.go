package routing

import (
	"testing"

	"github.com/agent-fabric/connector/internal/ilpaddr"
)

func lookup(t *testing.T, tbl *Table, addr string) (string, bool) {
	t.Helper()
	a, err := ilpaddr.Parse(addr)
	if err != nil {
		t.Fatalf("parse %q: %v", addr, err)
	}
	return tbl.Lookup(a)
}

// P8: longest strict-prefix match wins.
func TestLookupLongestPrefix(t *testing.T) {
	tbl := New()
	for _, r := range []struct {
		prefix string
		hop    string
	}{
		{"g", "1"},
		{"g.x", "2"},
		{"g.x.y", "3"},
		{"g.a", "4"},
	} {
		if err := tbl.Insert(r.prefix, r.hop, 0); err != nil {
			t.Fatalf("insert %v: %v", r, err)
		}
	}

	hop, ok := lookup(t, tbl, "g.x.y.z")
	if !ok || hop != "3" {
		t.Fatalf("want hop 3, got %q ok=%v", hop, ok)
	}
}

func TestLookupShallowerFallback(t *testing.T) {
	tbl := New()
	_ = tbl.Insert("g", "1", 0)
	_ = tbl.Insert("g.a", "2", 0)

	hop, ok := lookup(t, tbl, "g.x.y.z")
	if !ok || hop != "1" {
		t.Fatalf("want hop 1, got %q ok=%v", hop, ok)
	}
}

func TestLookupNoMatch(t *testing.T) {
	tbl := New()
	_ = tbl.Insert("g.b", "1", 0)

	_, ok := lookup(t, tbl, "g.x.y.z")
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestLookupPriorityTieBreak(t *testing.T) {
	tbl := New()
	_ = tbl.Insert("g.x", "low", 1)
	_ = tbl.Insert("g.x", "high", 5)

	hop, ok := lookup(t, tbl, "g.x")
	if !ok || hop != "high" {
		t.Fatalf("want highest-priority hop, got %q ok=%v", hop, ok)
	}
}

func TestLookupInsertionOrderTieBreak(t *testing.T) {
	tbl := New()
	_ = tbl.Insert("g.x", "first", 3)
	_ = tbl.Insert("g.x", "second", 3)

	hop, ok := lookup(t, tbl, "g.x")
	if !ok || hop != "first" {
		t.Fatalf("want earliest-inserted hop on tie, got %q ok=%v", hop, ok)
	}
}

func TestDefaultRouteIsLongestPrefixLoser(t *testing.T) {
	tbl := New()
	_ = tbl.Insert("", "default", 100)
	_ = tbl.Insert("g.a", "specific", 0)

	hop, ok := lookup(t, tbl, "g.a.b")
	if !ok || hop != "specific" {
		t.Fatalf("want specific route to beat default despite lower priority, got %q ok=%v", hop, ok)
	}

	hop, ok = lookup(t, tbl, "other.thing")
	if !ok || hop != "default" {
		t.Fatalf("want default route fallback, got %q ok=%v", hop, ok)
	}
}

func TestRemoveAllForPeer(t *testing.T) {
	tbl := New()
	_ = tbl.Insert("g.x", "peerA", 0)
	_ = tbl.Insert("g.y", "peerA", 0)
	_ = tbl.Insert("g.z", "peerB", 0)

	tbl.RemoveAllForPeer("peerA")

	if _, ok := lookup(t, tbl, "g.x"); ok {
		t.Fatalf("expected g.x route removed")
	}
	if _, ok := lookup(t, tbl, "g.y"); ok {
		t.Fatalf("expected g.y route removed")
	}
	if hop, ok := lookup(t, tbl, "g.z"); !ok || hop != "peerB" {
		t.Fatalf("expected g.z route to survive, got %q ok=%v", hop, ok)
	}
}
