package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// UDP defaults.
const (
	// DefaultUDPMaxPayload keeps datagrams under a typical path MTU.
	DefaultUDPMaxPayload = 1200

	// DefaultSendWindow is the number of datagrams a peer may have queued
	// for the socket before sends are refused.
	DefaultSendWindow = 64
)

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// Listen is the local address (e.g. ":7400").
	Listen string

	// MaxPayload is the per-datagram limit reported to callers.
	MaxPayload int

	// SendWindow bounds each peer's pending datagrams.
	SendWindow int

	// Logger is the operational logger (nil = discard).
	Logger *slog.Logger
}

// UDPTransport exchanges datagrams with peers registered by address.
// Datagrams from unregistered addresses are dropped.
type UDPTransport struct {
	cfg    UDPConfig
	conn   *net.UDPConn
	logger *slog.Logger

	handler atomic.Pointer[Handler]

	mu     sync.RWMutex
	peers  map[wire.PeerID]*udpPeer
	byAddr map[string]*udpPeer

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type udpPeer struct {
	t       *UDPTransport
	id      wire.PeerID
	addr    *net.UDPAddr
	out     chan []byte
	refused atomic.Bool
	stop    chan struct{}
}

// ListenUDP binds the socket and starts the read loop.
func ListenUDP(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultUDPMaxPayload
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = DefaultSendWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ua, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	t := &UDPTransport{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		peers:  make(map[wire.PeerID]*udpPeer),
		byAddr: make(map[string]*udpPeer),
		closed: make(chan struct{}),
	}
	var h Handler = nopHandler{}
	t.handler.Store(&h)

	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// SetHandler installs the event handler.
func (t *UDPTransport) SetHandler(h Handler) {
	if h == nil {
		h = nopHandler{}
	}
	t.handler.Store(&h)
}

func (t *UDPTransport) h() Handler { return *t.handler.Load() }

// AddPeer registers a peer at addr and starts its writer.
func (t *UDPTransport) AddPeer(id wire.PeerID, addr string) error {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if _, ok := t.peers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, id)
	}

	p := &udpPeer{
		t:    t,
		id:   id,
		addr: ua,
		out:  make(chan []byte, t.cfg.SendWindow),
		stop: make(chan struct{}),
	}
	t.peers[id] = p
	t.byAddr[ua.String()] = p

	t.wg.Add(1)
	go p.writeLoop()
	t.logger.Debug("udp peer added", "peer", id, "addr", ua)
	return nil
}

// RemovePeer unregisters a peer. Pending datagrams are discarded.
func (t *UDPTransport) RemovePeer(id wire.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return
	}
	delete(t.peers, id)
	delete(t.byAddr, p.addr.String())
	close(p.stop)
}

// Channel returns the channel to peer.
func (t *UDPTransport) Channel(peer wire.PeerID) (Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[peer]
	if !ok {
		return nil, false
	}
	return p, true
}

// Channels returns every registered peer's channel, ordered by peer ID.
func (t *UDPTransport) Channels() []Channel {
	t.mu.RLock()
	out := make([]Channel, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b Channel) int {
		switch {
		case a.Peer() < b.Peer():
			return -1
		case a.Peer() > b.Peer():
			return 1
		}
		return 0
	})
	return out
}

// Close stops all goroutines and closes the socket.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		close(t.closed)
		for id, p := range t.peers {
			close(p.stop)
			delete(t.peers, id)
		}
		clear(t.byAddr)
		t.mu.Unlock()

		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Debug("udp read failed", "error", err)
			continue
		}

		t.mu.RLock()
		p := t.byAddr[raddr.String()]
		t.mu.RUnlock()
		if p == nil {
			t.logger.Debug("datagram from unknown address", "addr", raddr)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		t.h().OnData(p.id, data)
	}
}

// Peer returns the peer ID.
func (p *udpPeer) Peer() wire.PeerID { return p.id }

// MaxPayload returns the configured datagram limit.
func (p *udpPeer) MaxPayload() int { return p.t.cfg.MaxPayload }

// Send queues a datagram; false when the send window is full.
func (p *udpPeer) Send(data []byte) bool {
	select {
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.out <- data:
		return true
	default:
	}

	// Mark before retrying so a writer that drains in between still fires
	// OnReady.
	p.refused.Store(true)
	select {
	case p.out <- data:
		return true
	default:
		return false
	}
}

func (p *udpPeer) writeLoop() {
	defer p.t.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case data := <-p.out:
			if _, err := p.t.conn.WriteToUDP(data, p.addr); err != nil {
				p.t.logger.Debug("udp write failed", "peer", p.id, "error", err)
			}
			if len(p.out) < cap(p.out) && p.refused.CompareAndSwap(true, false) {
				p.t.h().OnReady(p.id)
			}
		}
	}
}
