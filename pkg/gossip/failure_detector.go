package gossip

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
)

// Reaper evicts peers that have not been seen for longer than Timeout.
type Reaper struct {
	table   *PeerTable
	timeout time.Duration
	log     *zap.Logger
}

func NewReaper(table *PeerTable, timeout time.Duration, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{table: table, timeout: timeout, log: log}
}

// Timeout is the silence after which a peer is considered gone.
func (r *Reaper) Timeout() time.Duration { return r.timeout }

// Reap removes every peer whose last_seen is more than Timeout before now.
func (r *Reaper) Reap(now time.Time) []AgentRecord {
	evicted := r.table.Evict(now.Add(-r.timeout))
	for _, p := range evicted {
		r.log.Info("peer timed out",
			zap.String("peer_id", p.AgentID),
			zap.String("name", p.Name),
			zap.Duration("silent_for", now.Sub(p.LastSeen)))
	}
	if len(evicted) > 0 {
		telemetry.Evictions.Add(float64(len(evicted)))
		telemetry.PeersKnown.Set(float64(r.table.Len() - 1))
	}
	return evicted
}
