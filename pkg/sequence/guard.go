// Package sequence tracks the last accepted sequence number per peer and
// rejects stale or duplicate protocol messages.
package sequence

import (
	"sync"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Guard is a per-peer table of last accepted sequence numbers.
// Safe for concurrent use, though each peer is expected to be driven by a
// single owner.
type Guard struct {
	mu   sync.Mutex
	last map[wire.PeerID]uint64
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{last: make(map[wire.PeerID]uint64)}
}

// Accept records seq for peer and returns true if it is newer than the last
// accepted value. A peer with no history accepts any sequence number.
func (g *Guard) Accept(peer wire.PeerID, seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[peer]; ok && seq <= last {
		return false
	}
	g.last[peer] = seq
	return true
}

// Last returns the last accepted sequence for peer.
func (g *Guard) Last(peer wire.PeerID) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seq, ok := g.last[peer]
	return seq, ok
}

// Forget removes a single peer's history.
func (g *Guard) Forget(peer wire.PeerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, peer)
}

// Reset clears all history.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.last)
}
