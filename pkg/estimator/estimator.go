package estimator

import (
	"slices"
	"sync"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Estimator holds one Filter per remote peer, created lazily on the first
// measurement.
type Estimator struct {
	cfg Config

	mu      sync.RWMutex
	filters map[wire.PeerID]*Filter
}

// New creates an empty estimator.
func New(cfg Config) *Estimator {
	return &Estimator{
		cfg:     cfg.withDefaults(),
		filters: make(map[wire.PeerID]*Filter),
	}
}

func (e *Estimator) filter(peer wire.PeerID) *Filter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filters[peer]
}

// Predict returns the extrapolated offset for peer at now, or 0 for a peer
// with no measurements.
func (e *Estimator) Predict(peer wire.PeerID, now float64) float64 {
	f := e.filter(peer)
	if f == nil {
		return 0
	}
	return f.Predict(now)
}

// Update feeds a measurement for peer.
func (e *Estimator) Update(peer wire.PeerID, z, rtt, now float64) Result {
	f := e.filter(peer)
	if f == nil {
		e.mu.Lock()
		f = e.filters[peer]
		if f == nil {
			f = NewFilter(e.cfg)
			e.filters[peer] = f
		}
		e.mu.Unlock()
	}
	return f.Update(z, rtt, now)
}

// Snapshot returns the published state for peer.
func (e *Estimator) Snapshot(peer wire.PeerID) (Snapshot, bool) {
	f := e.filter(peer)
	if f == nil {
		return Snapshot{}, false
	}
	return f.Snapshot(), true
}

// Peers returns the peers with filter state, sorted.
func (e *Estimator) Peers() []wire.PeerID {
	e.mu.RLock()
	peers := make([]wire.PeerID, 0, len(e.filters))
	for p := range e.filters {
		peers = append(peers, p)
	}
	e.mu.RUnlock()
	slices.Sort(peers)
	return peers
}

// Remove discards the filter for one peer.
func (e *Estimator) Remove(peer wire.PeerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.filters, peer)
}

// Reset discards all filters.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.filters)
}
