package wire

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Messages are encoded with sorted integer keys and definite lengths.
// Floats keep full float64 precision so timestamps survive the trip.
var encMode = mustMode(cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	IndefLength:   cbor.IndefLengthForbidden,
	NilContainers: cbor.NilContainerAsNull,
	ShortestFloat: cbor.ShortestFloatNone,
}.EncMode)

// Decoding tolerates duplicate keys and indefinite lengths from newer peers.
var decMode = mustMode(cbor.DecOptions{
	DupMapKey:         cbor.DupMapKeyQuiet,
	IndefLength:       cbor.IndefLengthAllowed,
	ExtraReturnErrors: cbor.ExtraDecErrorNone,
}.DecMode)

func mustMode[M any](build func() (M, error)) M {
	m, err := build()
	if err != nil {
		panic("wire: cbor mode: " + err.Error())
	}
	return m
}

// Marshal encodes v with the wire encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes wire-encoded data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// newMessage returns an empty message of kind, or nil.
func newMessage(kind Kind) Message {
	switch {
	case kind.IsBeacon():
		return &BeaconEnvelope{}
	case kind.IsControl():
		return &ControlMessage{}
	}
	switch kind {
	case KindSync:
		return &Sync{}
	case KindSyncFollowUp:
		return &SyncFollowUp{}
	case KindOffset:
		return &Offset{}
	case KindStart:
		return &Start{}
	}
	return nil
}

// PeekKind reads key 1 of a CBOR message without decoding the rest.
func PeekKind(data []byte) (Kind, error) {
	if len(data) == 0 {
		return KindUnknown, ErrEmptyMessage
	}
	var head struct {
		Kind Kind `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &head); err != nil {
		return KindUnknown, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !head.Kind.IsValid() {
		return KindUnknown, fmt.Errorf("%w: %d", ErrUnknownKind, head.Kind)
	}
	return head.Kind, nil
}

// Encode validates and encodes a message. Schedule messages get their
// Kind field stamped.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Sync:
		m.Kind = KindSync
	case *SyncFollowUp:
		m.Kind = KindSyncFollowUp
	case *Offset:
		m.Kind = KindOffset
	case *Start:
		m.Kind = KindStart
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", msg.MessageKind(), err)
	}
	return encMode.Marshal(msg)
}

// Decode decodes a message into the concrete type its kind names and
// validates it.
func Decode(data []byte) (Message, error) {
	kind, err := PeekKind(data)
	if err != nil {
		return nil, err
	}
	msg := newMessage(kind)
	if msg == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err := decMode.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte, what string) (T, error) {
	var zero T
	msg, err := Decode(data)
	if err != nil {
		return zero, err
	}
	m, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not a %s", ErrUnexpectedKind, msg.MessageKind(), what)
	}
	return m, nil
}

// EncodeEnvelope encodes a beacon-exchange envelope.
func EncodeEnvelope(env *BeaconEnvelope) ([]byte, error) { return Encode(env) }

// DecodeEnvelope decodes a beacon-exchange envelope.
func DecodeEnvelope(data []byte) (*BeaconEnvelope, error) {
	return decodeAs[*BeaconEnvelope](data, "beacon envelope")
}

// EncodeControlMessage encodes a ping, pong or close.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) { return Encode(msg) }

// DecodeControlMessage decodes a ping, pong or close.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	return decodeAs[*ControlMessage](data, "control message")
}

// Equal reports whether a and b have the same wire encoding.
func Equal(a, b any) bool {
	x, err := Marshal(a)
	if err != nil {
		return false
	}
	y, err := Marshal(b)
	return err == nil && bytes.Equal(x, y)
}
