// Package estimator implements the per-peer clock offset estimator.
//
// Each remote peer gets its own two-state Kalman filter over
// x = [offset, drift], with transition F = [[1, dt], [0, 1]], process noise
// Q = diag(1e-6, 1e-9)·dt and measurement variance R = max((rtt/2)², 2.5e-5).
// Measurements whose round-trip time exceeds the 95th percentile of the
// recent RTT window are gated and leave the filter untouched.
//
// Writers are expected to be serialized per peer. Readers observe a
// consistent (offset, drift, last update) snapshot at any time.
package estimator
