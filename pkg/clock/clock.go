package clock

import (
	"time"
)

// Timebase converts ticks to nanoseconds: ns = ticks * Numer / Denom.
type Timebase struct {
	Numer uint32
	Denom uint32
}

// NanosecondTimebase is the timebase where one tick is one nanosecond.
var NanosecondTimebase = Timebase{Numer: 1, Denom: 1}

// ToDuration converts a tick delta to a duration.
// Negative deltas convert to negative durations.
func (tb Timebase) ToDuration(ticks int64) time.Duration {
	if tb.Denom == 0 || tb.Numer == 0 {
		return time.Duration(ticks)
	}
	return time.Duration(ticks * int64(tb.Numer) / int64(tb.Denom))
}

// FromDuration converts a duration to ticks.
func (tb Timebase) FromDuration(d time.Duration) int64 {
	if tb.Denom == 0 || tb.Numer == 0 {
		return int64(d)
	}
	return int64(d) * int64(tb.Denom) / int64(tb.Numer)
}

// Timer is a cancellable single-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// Clock is the local monotonic time source.
type Clock interface {
	// Now returns monotonic seconds.
	Now() float64

	// Ticks returns the monotonic tick counter.
	Ticks() int64

	// Timebase returns the tick-to-time conversion ratio.
	Timebase() Timebase

	// AfterFunc runs f once after d. d <= 0 fires as soon as possible.
	AfterFunc(d time.Duration, f func()) Timer
}

// System is the process monotonic clock. Ticks are nanoseconds since the
// clock was created.
type System struct {
	origin time.Time
}

// NewSystem creates a system clock anchored at the current instant.
func NewSystem() *System {
	return &System{origin: time.Now()}
}

// Now returns seconds since the clock origin.
func (s *System) Now() float64 {
	return time.Since(s.origin).Seconds()
}

// Ticks returns nanoseconds since the clock origin.
func (s *System) Ticks() int64 {
	return int64(time.Since(s.origin))
}

// Timebase returns the nanosecond timebase.
func (s *System) Timebase() Timebase {
	return NanosecondTimebase
}

// AfterFunc wraps time.AfterFunc.
func (s *System) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

// Compile-time interface satisfaction checks.
var (
	_ Clock = (*System)(nil)
	_ Timer = (*time.Timer)(nil)
)
