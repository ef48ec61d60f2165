package transport

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// LinkConfig models an in-memory link. Probabilities are in [0, 1].
type LinkConfig struct {
	// MaxPayload is the per-frame limit (an MTU-bound wireless link is ~20).
	MaxPayload int

	// Capacity is the number of accepted-but-undelivered frames a receiver
	// holds before senders are refused.
	Capacity int

	Loss    float64
	Dup     float64
	Reorder float64

	// Delay is the one-way latency; Jitter adds uniform ±jitter.
	Delay  time.Duration
	Jitter time.Duration

	// Seed for the loss/dup/reorder/jitter source (0 = time based).
	Seed int64
}

// Defaults for LinkConfig.
const (
	DefaultMemMaxPayload = 512
	DefaultMemCapacity   = 128
)

// MemHub connects MemTransports in one process. Every member can reach
// every other member.
type MemHub struct {
	mu      sync.RWMutex
	members map[wire.PeerID]*MemTransport
	cfg     LinkConfig

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMemHub creates a hub whose links follow cfg.
func NewMemHub(cfg LinkConfig) *MemHub {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMemMaxPayload
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultMemCapacity
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MemHub{
		members: make(map[wire.PeerID]*MemTransport),
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// SetLink replaces the link model for subsequent sends.
func (h *MemHub) SetLink(cfg LinkConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = h.cfg.MaxPayload
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = h.cfg.Capacity
	}
	h.cfg = cfg
}

func (h *MemHub) link() LinkConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *MemHub) roll() float64 {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Float64()
}

func (h *MemHub) delay(cfg LinkConfig) time.Duration {
	d := cfg.Delay
	if cfg.Jitter > 0 {
		h.rngMu.Lock()
		d += time.Duration(h.rng.Int63n(int64(2*cfg.Jitter))) - cfg.Jitter
		h.rngMu.Unlock()
	}
	return max(d, 0)
}

// Join adds a member with the given peer ID.
func (h *MemHub) Join(id wire.PeerID) (*MemTransport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, id)
	}
	t := &MemTransport{
		hub:     h,
		id:      id,
		inbox:   make(chan memFrame, 2*h.cfg.Capacity),
		waiters: make(map[wire.PeerID]struct{}),
		closed:  make(chan struct{}),
	}
	var hd Handler = nopHandler{}
	t.handler.Store(&hd)
	h.members[id] = t

	t.wg.Add(1)
	go t.pump()
	return t, nil
}

func (h *MemHub) member(id wire.PeerID) *MemTransport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.members[id]
}

type memFrame struct {
	from    wire.PeerID
	data    []byte
	counted bool
}

// MemTransport is one hub member.
type MemTransport struct {
	hub *MemHub
	id  wire.PeerID

	handler atomic.Pointer[Handler]

	inbox    chan memFrame
	inflight atomic.Int64

	waitMu  sync.Mutex
	waiters map[wire.PeerID]struct{}

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	sent, lost, duplicated, refused atomic.Uint64
}

// ID returns the member's peer ID.
func (t *MemTransport) ID() wire.PeerID { return t.id }

// SetHandler installs the event handler.
func (t *MemTransport) SetHandler(h Handler) {
	if h == nil {
		h = nopHandler{}
	}
	t.handler.Store(&h)
}

func (t *MemTransport) h() Handler { return *t.handler.Load() }

// Channel returns the channel to another member.
func (t *MemTransport) Channel(peer wire.PeerID) (Channel, bool) {
	if peer == t.id || t.hub.member(peer) == nil {
		return nil, false
	}
	return &memChannel{from: t, to: peer}, true
}

// Channels returns channels to every other member, ordered by peer ID.
func (t *MemTransport) Channels() []Channel {
	t.hub.mu.RLock()
	ids := make([]wire.PeerID, 0, len(t.hub.members))
	for id := range t.hub.members {
		if id != t.id {
			ids = append(ids, id)
		}
	}
	t.hub.mu.RUnlock()
	slices.Sort(ids)

	out := make([]Channel, len(ids))
	for i, id := range ids {
		out[i] = &memChannel{from: t, to: id}
	}
	return out
}

// Stats returns frames sent, lost, duplicated and refused by this member.
func (t *MemTransport) Stats() (sent, lost, duplicated, refused uint64) {
	return t.sent.Load(), t.lost.Load(), t.duplicated.Load(), t.refused.Load()
}

// Close leaves the hub.
func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() {
		t.hub.mu.Lock()
		delete(t.hub.members, t.id)
		t.hub.mu.Unlock()
		close(t.closed)
		t.wg.Wait()
	})
	return nil
}

func (t *MemTransport) pump() {
	defer t.wg.Done()
	for {
		select {
		case <-t.closed:
			return
		case f := <-t.inbox:
			t.h().OnData(f.from, f.data)
			if f.counted {
				t.inflight.Add(-1)
				t.notifyWaiters()
			}
		}
	}
}

func (t *MemTransport) notifyWaiters() {
	t.waitMu.Lock()
	if len(t.waiters) == 0 {
		t.waitMu.Unlock()
		return
	}
	waiting := make([]wire.PeerID, 0, len(t.waiters))
	for id := range t.waiters {
		waiting = append(waiting, id)
	}
	clear(t.waiters)
	t.waitMu.Unlock()

	for _, id := range waiting {
		if sender := t.hub.member(id); sender != nil {
			sender.h().OnReady(t.id)
		}
	}
}

// deliver pushes a frame into the inbox, blocking only for counted frames.
func (t *MemTransport) deliver(f memFrame) {
	if !f.counted {
		select {
		case t.inbox <- f:
		default:
		}
		return
	}
	select {
	case t.inbox <- f:
	case <-t.closed:
	}
}

type memChannel struct {
	from *MemTransport
	to   wire.PeerID
}

func (c *memChannel) Peer() wire.PeerID { return c.to }

func (c *memChannel) MaxPayload() int { return c.from.hub.link().MaxPayload }

// Send applies the link model. Oversized frames and frames for departed
// members are discarded and reported as accepted, like a radio would.
func (c *memChannel) Send(data []byte) bool {
	hub := c.from.hub
	cfg := hub.link()
	dst := hub.member(c.to)
	if dst == nil || len(data) > cfg.MaxPayload {
		c.from.lost.Add(1)
		return true
	}

	if dst.inflight.Load() >= int64(cfg.Capacity) {
		dst.waitMu.Lock()
		dst.waiters[c.from.id] = struct{}{}
		dst.waitMu.Unlock()
		// Re-check after registering so a drain in between is not missed.
		if dst.inflight.Load() >= int64(cfg.Capacity) {
			c.from.refused.Add(1)
			return false
		}
	}
	c.from.sent.Add(1)

	if hub.roll() < cfg.Loss {
		c.from.lost.Add(1)
		return true
	}

	frame := memFrame{from: c.from.id, data: slices.Clone(data), counted: true}
	dst.inflight.Add(1)
	c.schedule(dst, frame, hub.delay(cfg), hub.roll() < cfg.Reorder, cfg)

	if hub.roll() < cfg.Dup {
		c.from.duplicated.Add(1)
		dup := memFrame{from: c.from.id, data: slices.Clone(data)}
		c.schedule(dst, dup, hub.delay(cfg), false, cfg)
	}
	return true
}

func (c *memChannel) schedule(dst *MemTransport, f memFrame, d time.Duration, reorder bool, cfg LinkConfig) {
	if reorder {
		// Hold the frame back long enough for later frames to overtake it.
		d += cfg.Delay + cfg.Jitter + time.Millisecond
	}
	if d <= 0 {
		dst.deliver(f)
		return
	}
	time.AfterFunc(d, func() { dst.deliver(f) })
}
