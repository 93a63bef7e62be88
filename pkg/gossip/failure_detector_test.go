package gossip

import (
	"testing"
	"time"
)

func TestReaper_EvictsAfterTimeoutMultiple(t *testing.T) {
	const (
		interval = 10 * time.Second
		mult     = 3
	)
	clk := newFakeClock()
	tbl := newTestTable(clk)
	r := NewReaper(tbl, interval*mult, nil)

	now := clk.Now()
	tbl.Upsert(rec("silent", now.Add(-interval*mult-time.Second)))
	tbl.Upsert(rec("edge", now.Add(-interval*mult)))
	tbl.Upsert(rec("chatty", now.Add(-interval)))

	evicted := r.Reap(now)
	if len(evicted) != 1 || evicted[0].AgentID != "silent" {
		t.Fatalf("Reap = %+v, want [silent]", evicted)
	}
	for _, id := range []string{"edge", "chatty", "self"} {
		if _, ok := tbl.Get(id); !ok {
			t.Fatalf("%s evicted, want retained", id)
		}
	}

	clk.Advance(time.Second)
	evicted = r.Reap(clk.Now())
	if len(evicted) != 1 || evicted[0].AgentID != "edge" {
		t.Fatalf("second Reap = %+v, want [edge]", evicted)
	}
}

func TestReaper_NeverEvictsSelf(t *testing.T) {
	clk := newFakeClock()
	tbl := newTestTable(clk)
	r := NewReaper(tbl, time.Second, nil)

	clk.Advance(time.Hour)
	if got := r.Reap(clk.Now()); len(got) != 0 {
		t.Fatalf("Reap = %+v, want none", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
}

func TestReaper_StaleGossipAfterEvictionDoesNotResurrect(t *testing.T) {
	clk := newFakeClock()
	tbl := newTestTable(clk)
	r := NewReaper(tbl, 30*time.Second, nil)

	lastHeard := clk.Now()
	tbl.Upsert(rec("x", lastHeard))
	clk.Advance(31 * time.Second)
	r.Reap(clk.Now())

	if tbl.Upsert(rec("x", lastHeard)) {
		t.Fatalf("gossip replaying the evicted record resurrected x")
	}
	if !tbl.Upsert(rec("x", clk.Now())) {
		t.Fatalf("fresh record after eviction rejected, want rejoin")
	}
}
