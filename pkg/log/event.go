package log

import (
	"time"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Event is one protocol log record. Exactly one payload pointer is set.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the connection, when the transport has one.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	LocalRole  Role   `cbor:"6,keyasint,omitempty"`
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// LocalID is the logging node's peer ID.
	LocalID wire.PeerID `cbor:"8,keyasint,omitempty"`

	// PeerID is the remote peer.
	PeerID wire.PeerID `cbor:"9,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
	Estimate    *EstimateEvent    `cbor:"15,keyasint,omitempty"`
}

// FrameEvent records the bytes of one frame. Data holds at most a prefix
// of Size bytes when Truncated is set.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`

	// Chunked is set when the frame is a chunk rather than a full message.
	Chunked bool `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message.
type MessageEvent struct {
	// Kind is the wire message kind.
	Kind wire.Kind `cbor:"1,keyasint"`

	// Seq is the beacon sequence number (beacon kinds only).
	Seq uint64 `cbor:"2,keyasint,omitempty"`

	// Seconds holds T1..T4 of a beacon envelope, in seconds, as present.
	Seconds []float64 `cbor:"3,keyasint,omitempty"`

	// Ticks holds the tick fields of schedule messages, in field order.
	Ticks []int64 `cbor:"4,keyasint,omitempty"`

	// Dropped is set when the message was discarded, with the reason.
	Dropped string `cbor:"5,keyasint,omitempty"`
}

// EstimateEvent captures one estimator step.
type EstimateEvent struct {
	// Measured is the raw offset sample z (seconds).
	Measured float64 `cbor:"1,keyasint"`

	// RTT is the sample round-trip time (seconds).
	RTT float64 `cbor:"2,keyasint"`

	// Offset and Drift are the filter state after the step.
	Offset float64 `cbor:"3,keyasint"`
	Drift  float64 `cbor:"4,keyasint"`

	// Gated is set when the sample was discarded as an RTT outlier.
	Gated bool `cbor:"5,keyasint,omitempty"`

	// Threshold is the RTT gate in effect.
	Threshold float64 `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent records a lifecycle transition of a connection, the
// session or a scheduled start. OldState is empty for the first one.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// ControlMsgEvent records a keep-alive or close exchange on a scheduling
// link.
type ControlMsgEvent struct {
	Type     ControlMsgType `cbor:"1,keyasint"`
	Sequence uint32         `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData records a dropped frame or failed operation. Context
// names the processing stage.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Context string `cbor:"3,keyasint,omitempty"`
}

// NewMessageEvent summarizes a wire message for logging.
func NewMessageEvent(msg wire.Message) *MessageEvent {
	ev := &MessageEvent{Kind: msg.MessageKind()}
	switch m := msg.(type) {
	case *wire.BeaconEnvelope:
		ev.Seq = m.Seq
		for _, ts := range []*float64{m.TSendByParent, m.TRecvByChild, m.TEchoSendByChild, m.TRecvByParent} {
			if ts != nil {
				ev.Seconds = append(ev.Seconds, *ts)
			}
		}
	case *wire.Sync:
		ev.Ticks = []int64{m.T1}
	case *wire.SyncFollowUp:
		ev.Ticks = []int64{m.T1, m.T2, m.T3}
	case *wire.Offset:
		ev.Ticks = []int64{m.Offset}
	case *wire.Start:
		ev.Ticks = []int64{m.Target}
	case *wire.ControlMessage:
		ev.Seq = uint64(m.Sequence)
	}
	return ev
}
