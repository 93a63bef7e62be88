package gossip

// Stats summarizes the local view of the network.
type Stats struct {
	SelfID         string   `json:"self_id"`
	TotalKnown     int      `json:"total_known"`
	OtherPeers     int      `json:"other_peers"`
	KnownAddresses []string `json:"known_addresses"`
}

// Filter keeps the records that have skill (when non-empty) and role (when
// non-empty).
func Filter(recs []AgentRecord, skill, role string) []AgentRecord {
	out := make([]AgentRecord, 0, len(recs))
	for _, r := range recs {
		if skill != "" && !r.HasSkill(skill) {
			continue
		}
		if role != "" && r.Role != role {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Discover returns the remote agents matching skill and role. Empty
// arguments do not filter.
func (g *Gossiper) Discover(skill, role string) []AgentRecord {
	return Filter(g.table.AllExceptSelf(), skill, role)
}

// Get looks up one agent, including the local one.
func (g *Gossiper) Get(id string) (AgentRecord, bool) {
	return g.table.Get(id)
}

// ListAll returns every known agent, including the local one.
func (g *Gossiper) ListAll() []AgentRecord {
	return g.table.Snapshot()
}

// Self returns the local agent's current record.
func (g *Gossiper) Self() AgentRecord {
	return g.table.Self()
}

func (g *Gossiper) Stats() Stats {
	others := g.table.AllExceptSelf()
	addrs := make([]string, 0, len(others))
	for _, p := range others {
		addrs = append(addrs, p.Address)
	}
	return Stats{
		SelfID:         g.table.SelfID(),
		TotalKnown:     len(others) + 1,
		OtherPeers:     len(others),
		KnownAddresses: addrs,
	}
}
