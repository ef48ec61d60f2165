package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuesync/cuesync-go/pkg/chunk"
	"github.com/cuesync/cuesync-go/pkg/outbound"
	"github.com/cuesync/cuesync-go/pkg/transport"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// peer is the actor for one remote node. Inbound frames are handled only
// on its run goroutine, under handling.
type peer struct {
	id    wire.PeerID
	ch    transport.Channel
	reasm *chunk.Reassembler
	queue *outbound.Queue

	inbox chan []byte
	ready chan struct{}

	// handling is held while a frame is handled and while the engine
	// resets, so a reset never interleaves with a half-applied frame.
	handling sync.Mutex
	resets   atomic.Uint64

	started  atomic.Bool
	received atomic.Uint64
	dropped  atomic.Uint64
}

func newPeer(ch transport.Channel, inboxSize int, staleAfter float64, send func(*peer, []byte) bool) *peer {
	p := &peer{
		id:    ch.Peer(),
		ch:    ch,
		reasm: chunk.NewReassembler(),
		inbox: make(chan []byte, inboxSize),
		ready: make(chan struct{}, 1),
	}
	if staleAfter > 0 {
		p.reasm.SetStaleAfter(staleAfter)
	}
	p.queue = outbound.NewQueue(outbound.SenderFunc(func(frame []byte) bool {
		return send(p, frame)
	}))
	return p
}

// offer queues an inbound frame without blocking.
func (p *peer) offer(data []byte) bool {
	select {
	case p.inbox <- data:
		p.received.Add(1)
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// signalReady coalesces ready signals; one pending signal is enough.
func (p *peer) signalReady() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *peer) run(ctx context.Context, handle func(*peer, []byte)) error {
	for {
		epoch := p.resets.Load()
		select {
		case <-ctx.Done():
			return nil
		case data := <-p.inbox:
			p.handling.Lock()
			// A frame taken off the inbox before a reset belongs to the
			// discarded state.
			if p.resets.Load() == epoch {
				handle(p, data)
			}
			p.handling.Unlock()
		case <-p.ready:
			p.queue.OnReady()
		}
	}
}

// discardInbox drops frames received but not yet handled. The caller
// holds handling.
func (p *peer) discardInbox() {
	p.resets.Add(1)
	for {
		select {
		case <-p.inbox:
		default:
			return
		}
	}
}

func (p *peer) status() PeerStatus {
	sent, refused := p.queue.Stats()
	return PeerStatus{
		ID:       p.id,
		Received: p.received.Load(),
		Dropped:  p.dropped.Load(),
		Queued:   p.queue.Len(),
		Sent:     sent,
		Refused:  refused,
		Partial:  p.reasm.Pending(),
	}
}
