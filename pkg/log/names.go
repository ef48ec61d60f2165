package log

import "slices"

// Direction is the flow of the logged message.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut

	// DirectionLocal marks events not tied to a message.
	DirectionLocal
)

// Layer is where an event was captured.
type Layer uint8

const (
	// LayerTransport is raw frames.
	LayerTransport Layer = iota

	// LayerChunk is chunk framing and reassembly.
	LayerChunk

	// LayerSync is the beacon exchange and estimator.
	LayerSync

	// LayerSchedule is the coordinated-start handshake.
	LayerSchedule
)

// Category classifies events.
type Category uint8

const (
	CategoryMessage Category = iota

	// CategoryControl is ping, pong and close.
	CategoryControl

	CategoryState
	CategoryEstimate
	CategoryError
)

// Role is the role of the logging node.
type Role uint8

const (
	// RoleUnknown is used by tools without a role.
	RoleUnknown Role = iota
	RoleParent
	RoleChild
)

// StateEntity is what a StateChangeEvent is about.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntitySession
	StateEntityStart
)

// ControlMsgType is the kind of a control message.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

var (
	directionNames   = []string{"IN", "OUT", "LOCAL"}
	layerNames       = []string{"TRANSPORT", "CHUNK", "SYNC", "SCHEDULE"}
	categoryNames    = []string{"MESSAGE", "CONTROL", "STATE", "ESTIMATE", "ERROR"}
	roleNames        = []string{"UNKNOWN", "PARENT", "CHILD"}
	stateEntityNames = []string{"CONNECTION", "SESSION", "START"}
	controlNames     = []string{"PING", "PONG", "CLOSE"}
)

func nameOf[T ~uint8](names []string, v T) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "UNKNOWN"
}

func parseName[T ~uint8](names []string, s string) (T, bool) {
	i := slices.Index(names, s)
	if i < 0 {
		return 0, false
	}
	return T(i), true
}

func (d Direction) String() string      { return nameOf(directionNames, d) }
func (l Layer) String() string          { return nameOf(layerNames, l) }
func (c Category) String() string       { return nameOf(categoryNames, c) }
func (r Role) String() string           { return nameOf(roleNames, r) }
func (s StateEntity) String() string    { return nameOf(stateEntityNames, s) }
func (c ControlMsgType) String() string { return nameOf(controlNames, c) }

// ParseLayer converts an upper-case layer name to a Layer.
func ParseLayer(s string) (Layer, bool) { return parseName[Layer](layerNames, s) }

// ParseCategory converts an upper-case category name to a Category.
func ParseCategory(s string) (Category, bool) { return parseName[Category](categoryNames, s) }

// ParseDirection converts an upper-case direction name to a Direction.
func ParseDirection(s string) (Direction, bool) { return parseName[Direction](directionNames, s) }
