// Package connection supervises the master's direct links to children.
//
// A Manager keeps one link up: it dials, waits for the link to be reported
// lost, and redials with exponential backoff.
//
// # Backoff
//
//  1. Initial delay: 1 second
//  2. Doubling: 2s, 4s, 8s, 16s, 32s
//  3. Capped at 60 seconds
//  4. Reset to 1s after a successful dial
//
// Each delay gets jitter so children that disappear together are not
// redialed in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
