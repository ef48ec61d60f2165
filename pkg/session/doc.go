// Package session ties the sync components into one node.
//
// An Engine runs in one of two roles. A parent emits beacons, answers
// echoes and acts as scheduling master for its children. A child answers
// beacons, keeps a per-parent offset estimate and fires scheduled starts
// received from the master.
//
// Every peer gets an actor goroutine. Inbound frames for a peer are
// reassembled, classified and dispatched on that goroutine, so per-peer
// state is never touched concurrently and a slow peer does not hold up the
// others. Outbound messages are encoded, split to the channel's payload
// limit and queued per peer; queued frames are retried when the transport
// signals it can accept data again.
//
// Lifecycle:
//
//	e, _ := session.New(cfg)
//	_ = e.Start(ctx)
//	offset := e.CurrentOffset("parent-1")
//	_ = e.Stop()
package session
