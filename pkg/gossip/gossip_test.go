package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testHeartbeat = 20 * time.Millisecond
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

func startAgent(t *testing.T, tr Transport, id string, seeds ...string) *Gossiper {
	t.Helper()
	g, err := New(Config{
		Self: AgentRecord{
			AgentID: id,
			Name:    "Agent-" + id,
			Role:    "worker",
			Skills:  []string{"go"},
		},
		Seeds:             seeds,
		HeartbeatInterval: testHeartbeat,
		CleanupInterval:   time.Hour,
		TimeoutMultiplier: 50,
		ReadTimeout:       10 * time.Millisecond,
		Logger:            zaptest.NewLogger(t),
	}, tr)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(g.Stop)
	return g
}

func knows(g *Gossiper, id string) bool {
	_, ok := g.Get(id)
	return ok
}

func TestNew_RequiresIdentityAndTransport(t *testing.T) {
	n := NewNetwork()
	tr, err := n.Listen("a")
	require.NoError(t, err)

	_, err = New(Config{}, tr)
	require.ErrorIs(t, err, ErrMissingField)

	_, err = New(Config{Self: AgentRecord{AgentID: "a"}}, nil)
	require.Error(t, err)

	g, err := New(Config{Self: AgentRecord{AgentID: "a"}}, tr)
	require.NoError(t, err)
	assert.Equal(t, "a", g.Self().Address, "advertise address defaults to the transport address")
}

func TestStart_Twice(t *testing.T) {
	n := NewNetwork()
	tr, _ := n.Listen("a")
	g := startAgent(t, tr, "a")
	require.Error(t, g.Start(context.Background()))
}

func TestGossip_TransitiveDiscovery(t *testing.T) {
	n := NewNetwork()
	trA, _ := n.Listen("a:9999")
	trB, _ := n.Listen("b:9999")
	trC, _ := n.Listen("c:9999")
	// C may never talk to A directly; A has to learn about C through B.
	n.Block("c:9999", "a:9999")

	a := startAgent(t, trA, "a")
	b := startAgent(t, trB, "b", "a:9999")

	require.Eventually(t, func() bool {
		return knows(a, "b") && knows(b, "a")
	}, waitFor, tick, "A and B should find each other after one join round trip")

	c := startAgent(t, trC, "c", "b:9999")
	require.Eventually(t, func() bool {
		return knows(a, "c") && knows(c, "a")
	}, waitFor, tick, "anti-entropy should carry C to A")

	assert.Equal(t, 2, a.Stats().OtherPeers)
}

func TestGossip_LeaveRemovesFromPeers(t *testing.T) {
	n := NewNetwork()
	trA, _ := n.Listen("a:9999")
	trB, _ := n.Listen("b:9999")
	a := startAgent(t, trA, "a")
	b := startAgent(t, trB, "b", "a:9999")

	require.Eventually(t, func() bool { return knows(a, "b") }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Leave(ctx))

	require.Eventually(t, func() bool { return !knows(a, "b") }, waitFor, tick)
	// in-flight gossip from before the leave must not bring b back
	time.Sleep(5 * testHeartbeat)
	assert.False(t, knows(a, "b"))
}

func TestGossip_LeaveIsNotOvertakenByHeartbeat(t *testing.T) {
	for i := 0; i < 20; i++ {
		n := NewNetwork()
		trA, _ := n.Listen("a:9999")
		trB, _ := n.Listen("b:9999")
		a := startAgent(t, trA, "a")

		b, err := New(Config{
			Self:              AgentRecord{AgentID: "b"},
			Seeds:             []string{"a:9999"},
			HeartbeatInterval: 200 * time.Microsecond,
			CleanupInterval:   time.Hour,
			TimeoutMultiplier: 50,
			ReadTimeout:       time.Millisecond,
			Logger:            zaptest.NewLogger(t),
		}, trB)
		require.NoError(t, err)
		require.NoError(t, b.Start(context.Background()))
		require.Eventually(t, func() bool { return knows(a, "b") && knows(b, "a") }, waitFor, tick)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, b.Leave(ctx))
		cancel()

		require.Eventually(t, func() bool { return !knows(a, "b") }, waitFor, tick, "round %d", i)
		time.Sleep(10 * time.Millisecond)
		require.False(t, knows(a, "b"), "round %d: b came back after leaving", i)
		a.Stop()
	}
}

func TestNew_TombstoneOutlivesSlowCleanup(t *testing.T) {
	n := NewNetwork()
	tr, _ := n.Listen("a:9999")
	clk := newFakeClock()

	// the reaper may take up to T*M+C to evict a record, so a tombstone
	// sized only on T*M expires while copies are still circulating
	g, err := New(Config{
		Self:              AgentRecord{AgentID: "a"},
		HeartbeatInterval: 5 * time.Second,
		CleanupInterval:   30 * time.Second,
		TimeoutMultiplier: 3,
		Clock:             clk.Now,
	}, tr)
	require.NoError(t, err)
	tbl := g.Table()

	leaveAt := clk.Now()
	require.True(t, tbl.Upsert(rec("b", leaveAt.Add(-time.Second))))
	tbl.Remove("b", leaveAt)

	clk.Advance(44 * time.Second)
	assert.False(t, tbl.Upsert(rec("b", leaveAt.Add(-time.Second))), "stale copy resurrected b")
	_, ok := tbl.Get("b")
	assert.False(t, ok)

	clk.Advance(20 * time.Second)
	assert.True(t, tbl.Upsert(rec("b", leaveAt.Add(-time.Second))), "tombstone should expire after 2*T*M+C")
}

func TestGossip_EvictsSilentPeer(t *testing.T) {
	n := NewNetwork()
	trA, _ := n.Listen("a:9999")
	trB, _ := n.Listen("b:9999")

	a, err := New(Config{
		Self:              AgentRecord{AgentID: "a"},
		HeartbeatInterval: testHeartbeat,
		CleanupInterval:   testHeartbeat,
		TimeoutMultiplier: 3,
		ReadTimeout:       10 * time.Millisecond,
	}, trA)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)

	b := startAgent(t, trB, "b", "a:9999")
	require.Eventually(t, func() bool { return knows(a, "b") }, waitFor, tick)

	b.Stop() // crash without LEAVE
	require.Eventually(t, func() bool { return !knows(a, "b") }, waitFor, tick)
}

func TestGossip_MalformedDatagramsDoNotStopTheLoop(t *testing.T) {
	n := NewNetwork()
	trA, _ := n.Listen("a:9999")
	noise, _ := n.Listen("noise:1")
	a := startAgent(t, trA, "a")

	for _, junk := range []string{"", "{", `{"type":"PING"}`, `{"type":"JOIN"}`} {
		require.NoError(t, noise.Send("a:9999", []byte(junk)))
	}

	trB, _ := n.Listen("b:9999")
	startAgent(t, trB, "b", "a:9999")
	require.Eventually(t, func() bool { return knows(a, "b") }, waitFor, tick)
}

func TestGossip_DiscoverFilters(t *testing.T) {
	n := NewNetwork()
	tr, _ := n.Listen("self:9999")
	g, err := New(Config{Self: AgentRecord{AgentID: "self", Role: "master", Skills: []string{"python"}}}, tr)
	require.NoError(t, err)

	now := time.Now()
	peers := []AgentRecord{
		{AgentID: "p1", Address: "p1:1", Role: "worker", Skills: []string{"python", "coding"}, LastSeen: now},
		{AgentID: "p2", Address: "p2:1", Role: "master", Skills: []string{"python"}, LastSeen: now},
		{AgentID: "p3", Address: "p3:1", Role: "worker", Skills: []string{"design", "ui"}, LastSeen: now},
	}
	for _, p := range peers {
		g.Table().Upsert(p)
	}

	ids := func(rs []AgentRecord) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.AgentID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, ids(g.Discover("", "")))
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids(g.Discover("python", "")))
	assert.ElementsMatch(t, []string{"p1", "p3"}, ids(g.Discover("", "worker")))
	assert.ElementsMatch(t, []string{"p1"}, ids(g.Discover("python", "worker")))
	assert.Empty(t, g.Discover("rust", ""))
	assert.Len(t, g.ListAll(), 4)

	_, ok := g.Get("missing")
	assert.False(t, ok)

	st := g.Stats()
	assert.Equal(t, "self", st.SelfID)
	assert.Equal(t, 4, st.TotalKnown)
	assert.Equal(t, 3, st.OtherPeers)
	assert.ElementsMatch(t, []string{"p1:1", "p2:1", "p3:1"}, st.KnownAddresses)
}

func TestGossip_OverUDP(t *testing.T) {
	trA, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	trB, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)

	a := startAgent(t, trA, "a")
	b := startAgent(t, trB, "b", trA.LocalAddr())

	require.Eventually(t, func() bool {
		return knows(a, "b") && knows(b, "a")
	}, waitFor, tick)
}

func TestListenUDP_BindFailureIsReported(t *testing.T) {
	tr, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer tr.Close()

	_, err = ListenUDP(tr.LocalAddr())
	require.Error(t, err)
}
