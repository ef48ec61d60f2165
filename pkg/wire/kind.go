package wire

// Kind identifies a message on the wire (CBOR key 1).
type Kind uint8

const (
	// KindUnknown is the zero value and never valid on the wire.
	KindUnknown Kind = 0

	// KindBeacon is the parent's periodic timestamp broadcast.
	KindBeacon Kind = 1

	// KindEcho is a child's immediate reply to a Beacon.
	KindEcho Kind = 2

	// KindFollowUp is the parent's reply to an Echo, addressed to one child.
	KindFollowUp Kind = 3

	// KindSync opens a coordinated-start offset probe.
	KindSync Kind = 10

	// KindSyncFollowUp is the child's reply to Sync.
	KindSyncFollowUp Kind = 11

	// KindOffset carries the master-computed offset back to the child.
	KindOffset Kind = 12

	// KindStart schedules the synchronized action.
	KindStart Kind = 13

	// KindPing checks connection liveness.
	KindPing Kind = 20

	// KindPong answers a ping.
	KindPong Kind = 21

	// KindClose initiates graceful connection close.
	KindClose Kind = 22
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBeacon:
		return "BEACON"
	case KindEcho:
		return "ECHO"
	case KindFollowUp:
		return "FOLLOW_UP"
	case KindSync:
		return "SYNC"
	case KindSyncFollowUp:
		return "SYNC_FOLLOW_UP"
	case KindOffset:
		return "OFFSET"
	case KindStart:
		return "START"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for every kind defined by the protocol.
func (k Kind) IsValid() bool {
	return k.IsBeacon() || k.IsSchedule() || k.IsControl()
}

// IsBeacon returns true for the beacon-exchange kinds.
func (k Kind) IsBeacon() bool {
	return k == KindBeacon || k == KindEcho || k == KindFollowUp
}

// IsSchedule returns true for the coordinated-start kinds.
func (k Kind) IsSchedule() bool {
	return k >= KindSync && k <= KindStart
}

// IsControl returns true for connection control kinds.
func (k Kind) IsControl() bool {
	return k >= KindPing && k <= KindClose
}
