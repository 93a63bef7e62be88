package gossip

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no datagram arrived in time.
	ErrTimeout = errors.New("gossip: receive timeout")
	// ErrClosed is returned once a transport has been closed.
	ErrClosed = errors.New("gossip: transport closed")
)

// Packet is one inbound datagram.
type Packet struct {
	Payload []byte
	From    string
}

// Transport moves bounded datagrams between agents without any delivery
// guarantee. Send never waits for a reply.
type Transport interface {
	Send(addr string, payload []byte) error
	Receive(timeout time.Duration) (Packet, error)
	LocalAddr() string
	Close() error
}

// UDPTransport sends and receives on a single bound UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
	buf  []byte
}

// ListenUDP binds addr. Failing to bind is the one fatal startup error.
func ListenUDP(addr string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve gossip addr %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind gossip addr %q: %w", addr, err)
	}
	// one byte over the cap so oversized datagrams are detected, not truncated silently
	return &UDPTransport{conn: conn, buf: make([]byte, MaxDatagramSize+1)}, nil
}

func (u *UDPTransport) Send(addr string, payload []byte) error {
	if len(payload) > MaxDatagramSize {
		return ErrTooLarge
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", addr, err)
	}
	if _, err := u.conn.WriteToUDP(payload, raddr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// Receive is only safe to call from one goroutine at a time.
func (u *UDPTransport) Receive(timeout time.Duration) (Packet, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Packet{}, ErrClosed
		}
		return Packet{}, err
	}
	n, from, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return Packet{}, ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return Packet{}, ErrClosed
		}
		return Packet{}, err
	}
	payload := make([]byte, n)
	copy(payload, u.buf[:n])
	return Packet{Payload: payload, From: from.String()}, nil
}

func (u *UDPTransport) LocalAddr() string { return u.conn.LocalAddr().String() }

func (u *UDPTransport) Close() error { return u.conn.Close() }

// Network is an in-process datagram fabric for tests and simulations.
// Delivery is dropped when the receiver's queue is full or the link is
// blocked, mirroring UDP loss.
type Network struct {
	mu        sync.RWMutex
	endpoints map[string]*ChannelTransport
	blocked   map[[2]string]bool
}

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*ChannelTransport),
		blocked:   make(map[[2]string]bool),
	}
}

// Listen registers addr on the network.
func (n *Network) Listen(addr string) (*ChannelTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("bind %q: address in use", addr)
	}
	ct := &ChannelTransport{
		net:   n,
		addr:  addr,
		inbox: make(chan Packet, 256),
		done:  make(chan struct{}),
	}
	n.endpoints[addr] = ct
	return ct, nil
}

// Block silently drops every datagram sent from one address to another.
func (n *Network) Block(from, to string) {
	n.mu.Lock()
	n.blocked[[2]string{from, to}] = true
	n.mu.Unlock()
}

func (n *Network) deliver(from, to string, payload []byte) error {
	n.mu.RLock()
	dst, ok := n.endpoints[to]
	blocked := n.blocked[[2]string{from, to}]
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("send to %s: no such endpoint", to)
	}
	if blocked {
		return nil
	}
	pkt := Packet{Payload: append([]byte(nil), payload...), From: from}
	select {
	case dst.inbox <- pkt:
	case <-dst.done:
	default:
	}
	return nil
}

// ChannelTransport is a Transport bound to a Network address.
type ChannelTransport struct {
	net       *Network
	addr      string
	inbox     chan Packet
	done      chan struct{}
	closeOnce sync.Once
}

func (c *ChannelTransport) Send(addr string, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if len(payload) > MaxDatagramSize {
		return ErrTooLarge
	}
	return c.net.deliver(c.addr, addr, payload)
}

func (c *ChannelTransport) Receive(timeout time.Duration) (Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-c.inbox:
		return pkt, nil
	case <-c.done:
		return Packet{}, ErrClosed
	case <-timer.C:
		return Packet{}, ErrTimeout
	}
}

func (c *ChannelTransport) LocalAddr() string { return c.addr }

func (c *ChannelTransport) Close() error {
	c.closeOnce.Do(func() {
		c.net.mu.Lock()
		delete(c.net.endpoints, c.addr)
		c.net.mu.Unlock()
		close(c.done)
	})
	return nil
}
