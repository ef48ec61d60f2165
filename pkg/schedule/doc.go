// Package schedule fires one action at the same instant on the master and
// every reachable child.
//
// The master keeps a direct stream connection to each child. On every new
// connection, and periodically after that, it measures the child's tick
// offset:
//
//	master -> child  Sync{t1}
//	child  -> master SyncFollowUp{t1, t2, t3}
//	master -> child  Offset{((t2 - t1) + (t3 - t4)) / 2}
//
// ScheduleSynchronizedStart picks a target in master ticks and sends
// Start{target} to every child whose offset is known. The child fires at
// local tick target - offset. A newer Start replaces a pending one.
//
// Offsets are tied to the connection that measured them and are dropped
// when it closes. They are independent of the beacon package's Kalman
// estimate.
package schedule
