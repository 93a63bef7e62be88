package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MsgType discriminates gossip datagrams.
type MsgType string

const (
	MsgJoin      MsgType = "JOIN"
	MsgJoinAck   MsgType = "JOIN_ACK"
	MsgHeartbeat MsgType = "HEARTBEAT"
	MsgGossip    MsgType = "GOSSIP"
	MsgLeave     MsgType = "LEAVE"
)

// MaxDatagramSize caps every encoded message.
const MaxDatagramSize = 4096

var (
	ErrUnknownType  = errors.New("gossip: unknown message type")
	ErrMissingField = errors.New("gossip: missing required field")
	ErrTooLarge     = errors.New("gossip: message exceeds datagram size")
)

// Message is the single wire schema shared by every message type. Which
// fields are required depends on Type:
//
//	JOIN, HEARTBEAT  Agent
//	JOIN_ACK         Agent, Peers
//	GOSSIP           Peers
//	LEAVE            AgentID (Timestamp optional)
type Message struct {
	Type      MsgType       `json:"type"`
	Agent     *AgentRecord  `json:"agent,omitempty"`
	Peers     []AgentRecord `json:"peers,omitempty"`
	AgentID   string        `json:"agent_id,omitempty"`
	Timestamp *time.Time    `json:"timestamp,omitempty"`
}

// Encode serializes m, refusing anything larger than MaxDatagramSize.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	if len(b) > MaxDatagramSize {
		return nil, fmt.Errorf("encode %s (%d bytes): %w", m.Type, len(b), ErrTooLarge)
	}
	return b, nil
}

// Decode parses and validates one datagram. Any invalid record makes the
// whole message invalid.
func Decode(b []byte) (Message, error) {
	var m Message
	if len(b) > MaxDatagramSize {
		return m, fmt.Errorf("decode (%d bytes): %w", len(b), ErrTooLarge)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	if m.Agent != nil {
		a := m.Agent.normalized()
		m.Agent = &a
	}
	for i := range m.Peers {
		m.Peers[i] = m.Peers[i].normalized()
	}
	if m.Timestamp != nil {
		ts := m.Timestamp.UTC()
		m.Timestamp = &ts
	}
	return m, nil
}

// Validate checks that the fields required by m.Type are present. A JOIN may
// omit the agent's address; the receiver uses the datagram source instead.
func (m Message) Validate() error {
	switch m.Type {
	case MsgJoin:
		if m.Agent == nil {
			return fmt.Errorf("%s agent: %w", m.Type, ErrMissingField)
		}
		return validateIdentity(m.Type, *m.Agent)
	case MsgHeartbeat:
		return validateAgent(m.Type, m.Agent)
	case MsgJoinAck:
		if err := validateAgent(m.Type, m.Agent); err != nil {
			return err
		}
		return validatePeers(m.Type, m.Peers)
	case MsgGossip:
		return validatePeers(m.Type, m.Peers)
	case MsgLeave:
		if m.AgentID == "" {
			return fmt.Errorf("%s agent_id: %w", m.Type, ErrMissingField)
		}
		return nil
	default:
		return fmt.Errorf("%q: %w", m.Type, ErrUnknownType)
	}
}

func validateAgent(t MsgType, a *AgentRecord) error {
	if a == nil {
		return fmt.Errorf("%s agent: %w", t, ErrMissingField)
	}
	return validateRecord(t, *a)
}

func validatePeers(t MsgType, peers []AgentRecord) error {
	for i, p := range peers {
		if err := validateRecord(t, p); err != nil {
			return fmt.Errorf("peer %d: %w", i, err)
		}
	}
	return nil
}

func validateRecord(t MsgType, r AgentRecord) error {
	if err := validateIdentity(t, r); err != nil {
		return err
	}
	if r.Address == "" {
		return fmt.Errorf("%s %s address: %w", t, r.AgentID, ErrMissingField)
	}
	return nil
}

func validateIdentity(t MsgType, r AgentRecord) error {
	switch {
	case r.AgentID == "":
		return fmt.Errorf("%s agent_id: %w", t, ErrMissingField)
	case r.LastSeen.IsZero():
		return fmt.Errorf("%s %s last_seen: %w", t, r.AgentID, ErrMissingField)
	}
	return nil
}

// peersFieldOverhead is the length of `,"peers":[]`.
const peersFieldOverhead = 11

// PackRecords splits recs across as many messages of type t as needed so that
// each encodes within limit bytes. Every message carries sender when it is
// non-nil. Records too large to fit any message on their own are returned as
// dropped. At least one message is always returned.
func PackRecords(t MsgType, sender *AgentRecord, recs []AgentRecord, limit int) ([]Message, []AgentRecord, error) {
	if limit <= 0 || limit > MaxDatagramSize {
		limit = MaxDatagramSize
	}
	base, err := json.Marshal(Message{Type: t, Agent: sender})
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", t, err)
	}
	budget := limit - len(base) - peersFieldOverhead
	if budget <= 0 {
		return nil, nil, fmt.Errorf("pack %s: %w", t, ErrTooLarge)
	}

	var (
		msgs    []Message
		dropped []AgentRecord
		chunk   []AgentRecord
		used    int
	)
	flush := func() {
		msgs = append(msgs, Message{Type: t, Agent: sender, Peers: chunk})
		chunk, used = nil, 0
	}
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, nil, fmt.Errorf("pack %s record %s: %w", t, r.AgentID, err)
		}
		size := len(b)
		if len(chunk) > 0 {
			size++ // separating comma
		}
		if len(b) > budget {
			dropped = append(dropped, r)
			continue
		}
		if used+size > budget {
			flush()
			size = len(b)
		}
		chunk = append(chunk, r)
		used += size
	}
	if len(chunk) > 0 || len(msgs) == 0 {
		flush()
	}
	return msgs, dropped, nil
}
