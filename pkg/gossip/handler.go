package gossip

import (
	"time"

	"go.uber.org/zap"
)

// Outbound is a message the handler wants sent.
type Outbound struct {
	Addr string
	Msg  Message
}

// Handler applies one inbound message to the peer table. It keeps no state
// between messages.
type Handler struct {
	table *PeerTable
	log   *zap.Logger
	now   func() time.Time
}

func NewHandler(table *PeerTable, log *zap.Logger, now func() time.Time) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Handler{table: table, log: log, now: now}
}

// Handle mutates the table for msg received from the datagram source from
// and returns any replies.
func (h *Handler) Handle(msg Message, from string) []Outbound {
	if err := msg.Validate(); err != nil {
		h.log.Debug("dropping invalid message", zap.String("from", from), zap.Error(err))
		return nil
	}
	switch msg.Type {
	case MsgJoin:
		return h.onJoin(msg, from)
	case MsgJoinAck:
		h.upsert(*msg.Agent)
		for _, p := range msg.Peers {
			h.upsert(p)
		}
	case MsgHeartbeat:
		h.upsert(*msg.Agent)
	case MsgGossip:
		for _, p := range msg.Peers {
			h.upsert(p)
		}
	case MsgLeave:
		at := h.now()
		if msg.Timestamp != nil {
			at = *msg.Timestamp
		}
		if h.table.Remove(msg.AgentID, at) {
			h.log.Info("peer left", zap.String("peer_id", msg.AgentID))
		}
	}
	return nil
}

func (h *Handler) onJoin(msg Message, from string) []Outbound {
	joiner := *msg.Agent
	if joiner.AgentID == h.table.SelfID() {
		return nil
	}
	if joiner.Address == "" {
		joiner.Address = from
	}
	if h.upsert(joiner) {
		h.log.Info("agent joined",
			zap.String("peer_id", joiner.AgentID),
			zap.String("name", joiner.Name),
			zap.String("from", from))
	}

	self := h.table.Self()
	msgs, dropped, err := PackRecords(MsgJoinAck, &self, h.table.Snapshot(), MaxDatagramSize)
	if err != nil {
		h.log.Warn("build join ack", zap.Error(err))
		return nil
	}
	for _, d := range dropped {
		h.log.Warn("record too large for a datagram", zap.String("peer_id", d.AgentID))
	}
	out := make([]Outbound, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Outbound{Addr: joiner.Address, Msg: m})
	}
	return out
}

func (h *Handler) upsert(r AgentRecord) bool {
	if r.AgentID == h.table.SelfID() {
		return false
	}
	_, known := h.table.Get(r.AgentID)
	changed := h.table.Upsert(r)
	if changed && !known {
		h.log.Info("discovered agent",
			zap.String("peer_id", r.AgentID),
			zap.String("addr", r.Address),
			zap.String("role", r.Role))
	}
	return changed
}
