// Package wire defines the CBOR wire format for the cuesync protocol.
//
// All messages are CBOR maps with integer keys. Key 1 always carries the
// message Kind, which makes every message self-describing: a receiver peeks
// key 1 (PeekKind) and then decodes into the matching concrete type.
//
// # Message Kinds
//
// Beacon exchange (best effort, datagram or small-MTU link):
//   - Beacon:   parent -> children, carries T1
//   - Echo:     child -> parent, carries T1, T2, T3
//   - FollowUp: parent -> one child, carries T1..T4
//
// Coordinated start (direct per-child connection, integer ticks):
//   - Sync, SyncFollowUp, Offset, Start
//
// Connection control (stream links only):
//   - Ping, Pong, Close
//
// # Optional Timestamps
//
// Beacon timestamps are pointers. An absent key means the timestamp is not
// part of this leg of the exchange; BeaconEnvelope.Validate enforces that
// exactly the timestamps relevant to the message's position are present.
//
// # Chunk Frames
//
// A buffer whose first byte is 0xFF is a chunk frame (package chunk), never
// a CBOR message: 0xFF is the CBOR "break" code and cannot start an item.
package wire
