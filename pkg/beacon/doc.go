// Package beacon implements the continuous Beacon → Echo → FollowUp
// timestamp exchange.
//
// The parent broadcasts a Beacon carrying T1. Each child answers with an
// Echo carrying T2 (receive) and T3 (reply). The parent stamps T4 on the
// Echo and returns all four timestamps in a FollowUp addressed to that
// child, which derives one offset measurement:
//
//	rtt    = (T4 - T1) - (T3 - T2)
//	oneWay = max(0, rtt/2)
//	z      = (T1 + oneWay) - T2
//
// Measurements pass the per-parent sequence guard and feed the child's
// Kalman estimator. Envelopes that do not match the local role are
// ignored.
package beacon
