package chunk

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultStaleAfter is the idle time (seconds) after which a partial message
// is discarded.
const DefaultStaleAfter = 5.0

type entry struct {
	count   uint16
	parts   map[uint16][]byte
	updated float64
}

// Reassembler collects chunk frames into complete messages.
// Times are monotonic seconds supplied by the caller.
type Reassembler struct {
	mu         sync.Mutex
	entries    map[uuid.UUID]*entry
	staleAfter float64
}

// NewReassembler creates a reassembler with the default staleness window.
func NewReassembler() *Reassembler {
	return &Reassembler{
		entries:    make(map[uuid.UUID]*entry),
		staleAfter: DefaultStaleAfter,
	}
}

// SetStaleAfter overrides the staleness window in seconds.
func (r *Reassembler) SetStaleAfter(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleAfter = seconds
}

// Accept stores one chunk frame. It returns the assembled message and true
// once every index of that message has arrived. Invalid frames return an
// error and leave state untouched.
func (r *Reassembler) Accept(frame []byte, now float64) ([]byte, bool, error) {
	h, payload, err := ParseHeader(frame)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)

	e, ok := r.entries[h.ID]
	if !ok || e.count != h.Count {
		e = &entry{count: h.Count, parts: make(map[uint16][]byte, h.Count)}
		r.entries[h.ID] = e
	}
	e.parts[h.Index] = append([]byte(nil), payload...)
	e.updated = now

	if len(e.parts) < int(e.count) {
		return nil, false, nil
	}

	size := 0
	for _, p := range e.parts {
		size += len(p)
	}
	msg := make([]byte, 0, size)
	for i := uint16(0); i < e.count; i++ {
		msg = append(msg, e.parts[i]...)
	}
	delete(r.entries, h.ID)
	return msg, true, nil
}

// Prune drops entries idle longer than the staleness window and returns how
// many were removed.
func (r *Reassembler) Prune(now float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(now)
}

func (r *Reassembler) pruneLocked(now float64) int {
	n := 0
	for id, e := range r.entries {
		if now-e.updated > r.staleAfter {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Pending returns the number of partially assembled messages.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset discards all partial messages.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}
