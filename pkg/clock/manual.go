package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Clock whose time only moves on Advance or Set.
// Safe for concurrent use.
type Manual struct {
	mu       sync.Mutex
	now      time.Duration
	timebase Timebase
	timers   []*manualTimer
	nextID   uint64
}

type manualTimer struct {
	id      uint64
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
	clock   *Manual
}

// NewManual creates a manual clock starting at the given offset from zero.
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start, timebase: NanosecondTimebase}
}

// SetTimebase overrides the tick ratio (default one tick per nanosecond).
func (m *Manual) SetTimebase(tb Timebase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timebase = tb
}

// Now returns the current time in seconds.
func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Seconds()
}

// Ticks returns the current time in ticks.
func (m *Manual) Ticks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timebase.FromDuration(m.now)
}

// Timebase returns the tick ratio.
func (m *Manual) Timebase() Timebase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timebase
}

// AfterFunc registers f to run when the clock passes now+d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.nextID++
	t := &manualTimer{id: m.nextID, at: m.now + d, fn: f, clock: m}
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

// Pending returns the number of timers that have neither fired nor stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward by d and fires due timers in deadline order.
// Callbacks run on the caller's goroutine, outside the clock lock.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	m.runUntil(target)
}

// Set jumps to an absolute time. Moving backwards is ignored.
func (m *Manual) Set(at time.Duration) {
	m.runUntil(at)
}

func (m *Manual) runUntil(target time.Duration) {
	for {
		m.mu.Lock()
		due := m.dueLocked(target)
		if due == nil {
			if target > m.now {
				m.now = target
			}
			m.compactLocked()
			m.mu.Unlock()
			return
		}
		if due.at > m.now {
			m.now = due.at
		}
		due.fired = true
		fn := due.fn
		m.mu.Unlock()

		fn()
	}
}

// dueLocked returns the earliest live timer at or before target.
func (m *Manual) dueLocked(target time.Duration) *manualTimer {
	live := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.at <= target {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at == live[j].at {
			return live[i].id < live[j].id
		}
		return live[i].at < live[j].at
	})
	return live[0]
}

func (m *Manual) compactLocked() {
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			kept = append(kept, t)
		}
	}
	m.timers = kept
}

// Stop cancels the timer.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Compile-time interface satisfaction check.
var _ Clock = (*Manual)(nil)
