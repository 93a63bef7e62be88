package gossip

import (
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrmesh/pkg/kv"
)

// Status is the advertised lifecycle state of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusLeaving Status = "leaving"
)

// DefaultProtocolVersion is stamped on records that do not carry one.
const DefaultProtocolVersion = "1.0"

// AgentRecord is the identity and liveness snapshot of one agent.
type AgentRecord struct {
	AgentID          string    `json:"agent_id"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Skills           []string  `json:"skills"`
	Address          string    `json:"address"` // host:port of the gossip endpoint
	ServicePort      int       `json:"service_port,omitempty"`
	CredentialDigest string    `json:"credential_digest,omitempty"` // carried, never verified
	Status           Status    `json:"status"`
	LastSeen         time.Time `json:"last_seen"`
	ProtocolVersion  string    `json:"version"`
}

// Clone returns a copy that shares no memory with r.
func (r AgentRecord) Clone() AgentRecord {
	r.Skills = slices.Clone(r.Skills)
	return r
}

// HasSkill reports whether skill is one of the record's skills.
func (r AgentRecord) HasSkill(skill string) bool {
	return slices.Contains(r.Skills, skill)
}

func (r AgentRecord) normalized() AgentRecord {
	r = r.Clone()
	r.LastSeen = r.LastSeen.UTC()
	if r.Status == "" {
		r.Status = StatusOnline
	}
	if r.ProtocolVersion == "" {
		r.ProtocolVersion = DefaultProtocolVersion
	}
	return r
}

// TableOption customizes a PeerTable.
type TableOption func(*PeerTable)

// WithClock sets the time source used for tombstone expiry.
func WithClock(now func() time.Time) TableOption {
	return func(t *PeerTable) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTombstoneTTL sets how long removed ids stay fenced.
func WithTombstoneTTL(d time.Duration) TableOption {
	return func(t *PeerTable) {
		if d > 0 {
			t.tombstoneTTL = d
		}
	}
}

// PeerTable maps agent ids to the freshest record observed for them.
//
// Updates follow last-write-wins on LastSeen. Removals leave a tombstone so
// that a record no newer than the removal cannot bring the id back. The local
// agent's entry is only changed through Touch.
type PeerTable struct {
	mu      sync.RWMutex
	selfID  string
	records map[string]AgentRecord

	tombstones   *kv.Store[time.Time]
	tombstoneTTL time.Duration
	now          func() time.Time
}

func NewPeerTable(self AgentRecord, opts ...TableOption) *PeerTable {
	t := &PeerTable{
		selfID:       self.AgentID,
		records:      make(map[string]AgentRecord),
		tombstones:   kv.NewStore[time.Time](4096),
		tombstoneTTL: 90 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.tombstones.SetClock(t.now)
	t.records[self.AgentID] = self.normalized()
	return t
}

// SelfID returns the local agent's id.
func (t *PeerTable) SelfID() string { return t.selfID }

// Self returns a copy of the local agent's record.
func (t *PeerTable) Self() AgentRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[t.selfID].Clone()
}

// Touch refreshes the local record's LastSeen and returns the new record.
// LastSeen never moves backwards, so peers always accept the refresh.
func (t *PeerTable) Touch(now time.Time) AgentRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := t.records[t.selfID]
	now = now.UTC()
	if !now.After(self.LastSeen) {
		now = self.LastSeen.Add(time.Nanosecond)
	}
	self.LastSeen = now
	t.records[t.selfID] = self
	return self.Clone()
}

// Upsert stores r if it is newer than both the current record and any
// tombstone for its id. It reports whether the table changed.
func (t *PeerTable) Upsert(r AgentRecord) bool {
	if r.AgentID == "" || r.AgentID == t.selfID {
		return false
	}
	r = r.normalized()

	t.mu.Lock()
	defer t.mu.Unlock()

	if fence, ok := t.tombstones.Get(r.AgentID); ok {
		if !r.LastSeen.After(fence) {
			return false
		}
		t.tombstones.Delete(r.AgentID)
	}
	if cur, ok := t.records[r.AgentID]; ok && !r.LastSeen.After(cur.LastSeen) {
		return false
	}
	t.records[r.AgentID] = r
	return true
}

// Remove drops id regardless of timestamps and fences it at the later of at
// and the removed record's LastSeen. The local agent cannot be removed.
func (t *PeerTable) Remove(id string, at time.Time) bool {
	if id == "" || id == t.selfID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fence := at.UTC()
	cur, existed := t.records[id]
	if existed {
		if cur.LastSeen.After(fence) {
			fence = cur.LastSeen
		}
		delete(t.records, id)
	}
	if prev, ok := t.tombstones.Get(id); ok && prev.After(fence) {
		fence = prev
	}
	t.tombstones.Put(id, fence, t.tombstoneTTL)
	return existed
}

// Evict removes every remote record last seen before cutoff and returns them.
func (t *PeerTable) Evict(cutoff time.Time) []AgentRecord {
	cutoff = cutoff.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []AgentRecord
	for id, r := range t.records {
		if id == t.selfID || !r.LastSeen.Before(cutoff) {
			continue
		}
		delete(t.records, id)
		t.tombstones.Put(id, cutoff, t.tombstoneTTL)
		out = append(out, r)
	}
	t.tombstones.Sweep()
	sortRecords(out)
	return out
}

// Get returns a copy of the record for id.
func (t *PeerTable) Get(id string) (AgentRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	if !ok {
		return AgentRecord{}, false
	}
	return r.Clone(), true
}

// Snapshot returns a point-in-time copy of every record, self included,
// ordered by agent id.
func (t *PeerTable) Snapshot() []AgentRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AgentRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out
}

// AllExceptSelf returns a copy of every remote record, ordered by agent id.
func (t *PeerTable) AllExceptSelf() []AgentRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AgentRecord, 0, len(t.records))
	for id, r := range t.records {
		if id != t.selfID {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out
}

// RandomSample picks up to n distinct remote records.
func (t *PeerTable) RandomSample(n int) []AgentRecord {
	if n <= 0 {
		return nil
	}
	others := t.AllExceptSelf()
	rand.Shuffle(len(others), func(i, j int) {
		others[i], others[j] = others[j], others[i]
	})
	if len(others) > n {
		others = others[:n]
	}
	return others
}

// Len counts all records, self included.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func sortRecords(rs []AgentRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].AgentID < rs[j].AgentID })
}
