package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Healthz returns 200 OK to indicate the agent is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the process ID, current time and the local agent's record.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID   int                `json:"pid"`
		Now   time.Time          `json:"now"`
		Self  gossip.AgentRecord `json:"self"`
		Peers int                `json:"peers"`
	}
	writeJSON(w, http.StatusOK, resp{
		PID:   os.Getpid(),
		Now:   time.Now().UTC(),
		Self:  n.members.Self(),
		Peers: n.members.Stats().OtherPeers,
	})
}

// Peers lists every known agent, the local one included.
func (n *Node) Peers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.members.ListAll())
}

// Peer returns one agent by id.
func (n *Node) Peer(w http.ResponseWriter, req *http.Request) {
	rec, ok := n.members.Get(req.PathValue("id"))
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Discover filters remote agents by the optional skill and role query parameters.
func (n *Node) Discover(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	writeJSON(w, http.StatusOK, n.members.Discover(q.Get("skill"), q.Get("role")))
}

func (n *Node) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.members.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
