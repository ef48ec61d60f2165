package clock

import "time"

// Offset is a Clock that reads a fixed amount ahead of (or behind) its base
// clock. Timers are delegated unchanged. Simulations use it to give
// in-process nodes distinct clocks.
type Offset struct {
	base  Clock
	delta time.Duration
}

// WithOffset returns a clock reading delta ahead of base.
func WithOffset(base Clock, delta time.Duration) *Offset {
	return &Offset{base: base, delta: delta}
}

// Delta returns the configured offset.
func (o *Offset) Delta() time.Duration { return o.delta }

// Now returns the base seconds plus the offset.
func (o *Offset) Now() float64 { return o.base.Now() + o.delta.Seconds() }

// Ticks returns the base ticks plus the offset in ticks.
func (o *Offset) Ticks() int64 {
	return o.base.Ticks() + o.base.Timebase().FromDuration(o.delta)
}

// Timebase returns the base timebase.
func (o *Offset) Timebase() Timebase { return o.base.Timebase() }

// AfterFunc delegates to the base clock.
func (o *Offset) AfterFunc(d time.Duration, f func()) Timer {
	return o.base.AfterFunc(d, f)
}

var _ Clock = (*Offset)(nil)
