package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultCleanupInterval   = 30 * time.Second
	DefaultTimeoutMultiplier = 3
	DefaultFanout            = 3
	DefaultReadTimeout       = time.Second
)

// Config wires a Gossiper. Zero values fall back to the defaults above.
type Config struct {
	Self  AgentRecord
	Seeds []string // host:port gossip addresses contacted once at startup

	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	TimeoutMultiplier int // peers silent for HeartbeatInterval*TimeoutMultiplier are evicted
	Fanout            int // peers receiving a full snapshot each heartbeat
	ReadTimeout       time.Duration

	Logger *zap.Logger
	Clock  func() time.Time
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.TimeoutMultiplier <= 0 {
		c.TimeoutMultiplier = DefaultTimeoutMultiplier
	}
	if c.Fanout <= 0 {
		c.Fanout = DefaultFanout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Gossiper runs the membership protocol for one local agent: the receive
// loop, the heartbeat emitter and the reaper, all sharing one PeerTable.
type Gossiper struct {
	cfg     Config
	tr      Transport
	table   *PeerTable
	handler *Handler
	reaper  *Reaper
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a Gossiper on tr. The Gossiper owns tr and closes it on Stop.
func New(cfg Config, tr Transport) (*Gossiper, error) {
	if cfg.Self.AgentID == "" {
		return nil, fmt.Errorf("gossip: self agent_id: %w", ErrMissingField)
	}
	if tr == nil {
		return nil, errors.New("gossip: nil transport")
	}
	cfg.setDefaults()
	if cfg.Self.Address == "" {
		cfg.Self.Address = tr.LocalAddr()
	}
	cfg.Self.LastSeen = cfg.Clock()

	timeout := cfg.HeartbeatInterval * time.Duration(cfg.TimeoutMultiplier)
	log := cfg.Logger.With(zap.String("agent_id", cfg.Self.AgentID))
	// a tombstone must outlive every copy of the record still in flight: up to
	// one timeout on each of two hops, plus the cleanup tick that evicts it
	table := NewPeerTable(cfg.Self, WithClock(cfg.Clock), WithTombstoneTTL(2*timeout+cfg.CleanupInterval))

	return &Gossiper{
		cfg:     cfg,
		tr:      tr,
		table:   table,
		handler: NewHandler(table, log, cfg.Clock),
		reaper:  NewReaper(table, timeout, log),
		log:     log,
		now:     cfg.Clock,
	}, nil
}

// Table exposes the shared peer table.
func (g *Gossiper) Table() *PeerTable { return g.table }

// Start launches the background tasks and sends JOIN to every seed.
func (g *Gossiper) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.cancel != nil {
		g.mu.Unlock()
		return errors.New("gossip: already started")
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.mu.Unlock()

	g.log.Info("gossip started",
		zap.String("addr", g.tr.LocalAddr()),
		zap.String("advertise", g.cfg.Self.Address),
		zap.Duration("heartbeat", g.cfg.HeartbeatInterval),
		zap.Duration("timeout", g.reaper.Timeout()))

	g.wg.Add(3)
	go g.receiveLoop(ctx)
	go g.every(ctx, g.cfg.HeartbeatInterval, g.heartbeat)
	go g.every(ctx, g.cfg.CleanupInterval, func() { g.reaper.Reap(g.now()) })

	if len(g.cfg.Seeds) == 0 {
		g.log.Info("no seeds configured, waiting to be discovered")
	}
	g.Join(g.cfg.Seeds...)
	return nil
}

// Join sends a single best-effort JOIN to each address.
func (g *Gossiper) Join(addrs ...string) {
	if len(addrs) == 0 {
		return
	}
	self := g.table.Self()
	msg := Message{Type: MsgJoin, Agent: &self}
	for _, addr := range addrs {
		if addr == "" || addr == self.Address || addr == g.tr.LocalAddr() {
			continue
		}
		g.log.Debug("joining via seed", zap.String("seed", addr))
		g.send(addr, msg)
	}
}

// Leave stops the background tasks, tells every known peer we are going away
// and closes the transport. The LEAVE is stamped after the heartbeat loop has
// exited so no later HEARTBEAT can outrun it. It returns ctx.Err() if the
// shutdown outlives ctx.
func (g *Gossiper) Leave(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.stopOnce.Do(func() {
			g.halt()
			ts := g.now().UTC()
			if self := g.table.Self(); self.LastSeen.After(ts) {
				ts = self.LastSeen
			}
			g.broadcast(Message{Type: MsgLeave, AgentID: g.table.SelfID(), Timestamp: &ts})
			g.log.Info("left network")
			g.closeTransport()
		})
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the background tasks, waits for them and closes the transport.
func (g *Gossiper) Stop() {
	g.stopOnce.Do(func() {
		g.halt()
		g.closeTransport()
	})
}

func (g *Gossiper) halt() {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gossiper) closeTransport() {
	if err := g.tr.Close(); err != nil {
		g.log.Debug("close transport", zap.Error(err))
	}
}

func (g *Gossiper) every(ctx context.Context, d time.Duration, fn func()) {
	defer g.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (g *Gossiper) receiveLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, err := g.tr.Receive(g.cfg.ReadTimeout)
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrClosed):
			return
		case err != nil:
			g.log.Warn("receive", zap.Error(err))
			continue
		}
		g.process(pkt)
	}
}

// process decodes and handles one datagram, dropping anything malformed.
func (g *Gossiper) process(pkt Packet) {
	msg, err := Decode(pkt.Payload)
	if err != nil {
		reason := "malformed"
		switch {
		case errors.Is(err, ErrUnknownType):
			reason = "unknown_type"
		case errors.Is(err, ErrTooLarge):
			reason = "too_large"
		}
		telemetry.MessagesDropped.WithLabelValues(reason).Inc()
		g.log.Debug("dropping datagram", zap.String("from", pkt.From), zap.Error(err))
		return
	}
	telemetry.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	for _, out := range g.handler.Handle(msg, pkt.From) {
		g.send(out.Addr, out.Msg)
	}
	telemetry.PeersKnown.Set(float64(g.table.Len() - 1))
}

// heartbeat refreshes our own record, announces it to every peer and pushes
// the full table to a few random peers.
func (g *Gossiper) heartbeat() {
	self := g.table.Touch(g.now())
	g.broadcast(Message{Type: MsgHeartbeat, Agent: &self})

	if g.table.Len() <= 1 {
		return
	}
	targets := g.table.RandomSample(g.cfg.Fanout)
	msgs, dropped, err := PackRecords(MsgGossip, nil, g.table.Snapshot(), MaxDatagramSize)
	if err != nil {
		g.log.Warn("build gossip", zap.Error(err))
		return
	}
	for _, d := range dropped {
		g.log.Warn("record too large for a datagram", zap.String("peer_id", d.AgentID))
	}
	for _, t := range targets {
		for _, m := range msgs {
			g.send(t.Address, m)
		}
	}
}

func (g *Gossiper) broadcast(msg Message) {
	for _, p := range g.table.AllExceptSelf() {
		g.send(p.Address, msg)
	}
}

// send is fire-and-forget: failures are logged and counted, never returned.
func (g *Gossiper) send(addr string, msg Message) {
	b, err := Encode(msg)
	if err != nil {
		telemetry.SendErrors.WithLabelValues(string(msg.Type)).Inc()
		g.log.Warn("encode", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	if err := g.tr.Send(addr, b); err != nil {
		telemetry.SendErrors.WithLabelValues(string(msg.Type)).Inc()
		g.log.Debug("send failed",
			zap.String("type", string(msg.Type)),
			zap.String("to", addr),
			zap.Error(err))
		return
	}
	telemetry.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
}
