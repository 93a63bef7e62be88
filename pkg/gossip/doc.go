// Package gossip implements leaderless agent discovery. Every agent keeps a
// PeerTable of the agents it knows about, announces itself with periodic
// heartbeats, pushes its whole table to a few random peers (anti-entropy)
// and evicts peers that stay silent for too long.
//
// Conflicts are resolved by last-write-wins on each record's LastSeen, with
// explicit LEAVE and eviction fencing an id against older records. Views are
// eventually consistent; there is no ordering between agents.
//
// Typical usage:
//
//	tr, err := gossip.ListenUDP(":9999")
//	if err != nil {
//		return err
//	}
//	g, _ := gossip.New(gossip.Config{Self: self, Seeds: seeds}, tr)
//	_ = g.Start(ctx)
//	defer g.Leave(ctx)
//
// Tests and simulations can run many agents in one process over a Network of
// ChannelTransports instead of UDP.
//
// Timestamps are wall-clock UTC. Cross-host clock skew shifts which record
// wins and how early a peer is evicted, so hosts should run NTP with skew well
// below the heartbeat interval.
package gossip
