// Package clock provides the monotonic time sources used by the sync engine.
//
// Two units are in play:
//   - Seconds: float64 seconds on a local monotonic scale. Used by the beacon
//     exchange and the offset estimator.
//   - Ticks: integer ticks of the local monotonic counter. Used by the
//     coordinated-start handshake, converted to wall durations through a
//     Timebase ratio (nanoseconds = ticks * Numer / Denom).
//
// The zero point of both scales is arbitrary and never crosses the wire
// without being paired with a peer timestamp from the same exchange.
//
// Manual is a deterministic Clock for tests: time only moves when Advance
// is called, and timers fire synchronously from Advance.
package clock
