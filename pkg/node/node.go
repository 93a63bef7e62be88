package node

import (
	"net/http"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Membership is the read side of a gossiper that the HTTP surface needs.
type Membership interface {
	Self() gossip.AgentRecord
	Discover(skill, role string) []gossip.AgentRecord
	Get(id string) (gossip.AgentRecord, bool)
	ListAll() []gossip.AgentRecord
	Stats() gossip.Stats
}

// Node serves the local agent's view of the network over HTTP.
type Node struct {
	members Membership
}

func NewNode(m Membership) *Node {
	return &Node{members: m}
}

// Register mounts every endpoint on mux.
func (n *Node) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", n.Healthz)
	mux.Handle("GET /info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("GET /peers", telemetry.Instrument("list", http.HandlerFunc(n.Peers)))
	mux.Handle("GET /peers/{id}", telemetry.Instrument("get", http.HandlerFunc(n.Peer)))
	mux.Handle("GET /discover", telemetry.Instrument("discover", http.HandlerFunc(n.Discover)))
	mux.Handle("GET /stats", telemetry.Instrument("stats", http.HandlerFunc(n.Stats)))
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
}
