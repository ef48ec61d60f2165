// Package outbound provides a per-peer send queue that holds frames while
// the transport applies backpressure.
package outbound

import (
	"sync"
)

// Sender delivers one frame. It returns false when the transport cannot
// accept more data right now; the frame is then retried on the next ready
// signal.
type Sender interface {
	Send(frame []byte) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(frame []byte) bool

// Send calls f.
func (f SenderFunc) Send(frame []byte) bool { return f(frame) }

// Queue is a FIFO of pending frames for one peer. Frames are never dropped
// for backpressure; only Clear discards them.
type Queue struct {
	sender Sender

	mu       sync.Mutex
	frames   [][]byte
	flushing bool
	retry    bool
	gen      uint64
	sent     uint64
	refused  uint64
}

// NewQueue creates a queue that delivers through sender.
func NewQueue(sender Sender) *Queue {
	return &Queue{sender: sender}
}

// Enqueue appends frames and attempts a flush.
func (q *Queue) Enqueue(frames ...[]byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frames...)
	q.mu.Unlock()
	q.Flush()
}

// Flush sends frames from the head until the queue is empty or the sender
// refuses. A call made while another flush runs does not flush itself; it
// makes the running flush retry once more if its current send is refused.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.flushing {
		q.retry = true
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if len(q.frames) == 0 {
			q.flushing = false
			q.mu.Unlock()
			return
		}
		head := q.frames[0]
		gen := q.gen
		q.retry = false
		q.mu.Unlock()

		// Send runs unlocked so a sender may call back into the queue.
		ok := q.sender.Send(head)

		q.mu.Lock()
		if !ok {
			q.refused++
			if q.retry {
				// Ready was signalled while this send was in flight.
				q.mu.Unlock()
				continue
			}
			q.flushing = false
			q.mu.Unlock()
			return
		}
		q.sent++
		if gen == q.gen && len(q.frames) > 0 {
			q.frames[0] = nil
			q.frames = q.frames[1:]
		}
		q.mu.Unlock()
	}
}

// OnReady is called when the transport can accept data again.
func (q *Queue) OnReady() {
	q.Flush()
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Stats returns the number of frames sent and send attempts refused.
func (q *Queue) Stats() (sent, refused uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sent, q.refused
}

// Clear drops all queued frames.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = nil
	q.gen++
}
