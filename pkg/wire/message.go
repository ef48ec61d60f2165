package wire

import (
	"errors"
	"fmt"
)

// Wire errors.
var (
	ErrEmptyMessage        = errors.New("empty message")
	ErrMalformed           = errors.New("malformed message")
	ErrUnknownKind         = errors.New("unknown message kind")
	ErrUnexpectedKind      = errors.New("unexpected message kind")
	ErrMissingField        = errors.New("missing required field")
	ErrUnexpectedTimestamp = errors.New("timestamp not valid for this leg")
)

// PeerID identifies a remote device within one sync session.
type PeerID string

// Message is the closed set of protocol messages.
type Message interface {
	// MessageKind returns the wire kind.
	MessageKind() Kind

	// Validate checks field presence for the kind.
	Validate() error

	isMessage()
}

// BeaconEnvelope is the tagged union {Beacon, Echo, FollowUp}.
//
// CBOR encoding:
//
//	{
//	  1: kind,              // uint8: 1=Beacon, 2=Echo, 3=FollowUp
//	  2: parentId,          // string
//	  3: childId,           // string, absent on Beacon
//	  4: seq,               // uint64
//	  5: tSendByParent,     // float64 seconds (T1)
//	  6: tRecvByChild,      // float64 seconds (T2)
//	  7: tEchoSendByChild,  // float64 seconds (T3)
//	  8: tRecvByParent      // float64 seconds (T4)
//	}
type BeaconEnvelope struct {
	Kind             Kind     `cbor:"1,keyasint"`
	ParentID         PeerID   `cbor:"2,keyasint"`
	ChildID          PeerID   `cbor:"3,keyasint,omitempty"`
	Seq              uint64   `cbor:"4,keyasint"`
	TSendByParent    *float64 `cbor:"5,keyasint,omitempty"`
	TRecvByChild     *float64 `cbor:"6,keyasint,omitempty"`
	TEchoSendByChild *float64 `cbor:"7,keyasint,omitempty"`
	TRecvByParent    *float64 `cbor:"8,keyasint,omitempty"`
}

// MessageKind returns the envelope's kind.
func (e *BeaconEnvelope) MessageKind() Kind { return e.Kind }

func (*BeaconEnvelope) isMessage() {}

// Validate checks that exactly the timestamps relevant to the envelope's
// position in the exchange are populated.
func (e *BeaconEnvelope) Validate() error {
	if !e.Kind.IsBeacon() {
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, e.Kind)
	}
	if e.ParentID == "" {
		return fmt.Errorf("%w: parentId", ErrMissingField)
	}
	if e.TSendByParent == nil {
		return fmt.Errorf("%w: tSendByParent", ErrMissingField)
	}

	wantChild := e.Kind != KindBeacon
	if wantChild && e.ChildID == "" {
		return fmt.Errorf("%w: childId", ErrMissingField)
	}

	wantEcho := e.Kind == KindEcho || e.Kind == KindFollowUp
	if err := checkTimestamp("tRecvByChild", e.TRecvByChild, wantEcho); err != nil {
		return err
	}
	if err := checkTimestamp("tEchoSendByChild", e.TEchoSendByChild, wantEcho); err != nil {
		return err
	}
	return checkTimestamp("tRecvByParent", e.TRecvByParent, e.Kind == KindFollowUp)
}

func checkTimestamp(name string, ts *float64, want bool) error {
	switch {
	case want && ts == nil:
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	case !want && ts != nil:
		return fmt.Errorf("%w: %s", ErrUnexpectedTimestamp, name)
	}
	return nil
}

// Timestamps returns T1..T4, with zero for absent values.
func (e *BeaconEnvelope) Timestamps() (t1, t2, t3, t4 float64) {
	return deref(e.TSendByParent), deref(e.TRecvByChild), deref(e.TEchoSendByChild), deref(e.TRecvByParent)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Seconds returns a pointer to v, for populating optional timestamps.
func Seconds(v float64) *float64 {
	return &v
}

// Sync opens a coordinated-start probe. T1 is in master ticks.
type Sync struct {
	Kind Kind  `cbor:"1,keyasint"`
	T1   int64 `cbor:"2,keyasint"`
}

// MessageKind returns KindSync.
func (*Sync) MessageKind() Kind { return KindSync }

// Validate always succeeds; every field is required by construction.
func (*Sync) Validate() error { return nil }

func (*Sync) isMessage() {}

// SyncFollowUp is the child's reply to Sync. T2 and T3 are in child ticks.
type SyncFollowUp struct {
	Kind Kind  `cbor:"1,keyasint"`
	T1   int64 `cbor:"2,keyasint"`
	T2   int64 `cbor:"3,keyasint"`
	T3   int64 `cbor:"4,keyasint"`
}

// MessageKind returns KindSyncFollowUp.
func (*SyncFollowUp) MessageKind() Kind { return KindSyncFollowUp }

// Validate rejects a reply sent before it was received.
func (m *SyncFollowUp) Validate() error {
	if m.T3 < m.T2 {
		return fmt.Errorf("%w: t3 before t2", ErrMalformed)
	}
	return nil
}

func (*SyncFollowUp) isMessage() {}

// Offset carries the master-computed offset (ticks) to a child.
type Offset struct {
	Kind   Kind  `cbor:"1,keyasint"`
	Offset int64 `cbor:"2,keyasint"`
}

// MessageKind returns KindOffset.
func (*Offset) MessageKind() Kind { return KindOffset }

// Validate always succeeds.
func (*Offset) Validate() error { return nil }

func (*Offset) isMessage() {}

// Start schedules the synchronized action at Target master ticks.
type Start struct {
	Kind   Kind  `cbor:"1,keyasint"`
	Target int64 `cbor:"2,keyasint"`
}

// MessageKind returns KindStart.
func (*Start) MessageKind() Kind { return KindStart }

// Validate always succeeds.
func (*Start) Validate() error { return nil }

func (*Start) isMessage() {}

// ControlMessage represents a transport-level control message.
// These are separate from the sync protocol messages.
type ControlMessage struct {
	Kind     Kind   `cbor:"1,keyasint"`
	Sequence uint32 `cbor:"2,keyasint,omitempty"`
}

// MessageKind returns the control kind.
func (m *ControlMessage) MessageKind() Kind { return m.Kind }

// Validate checks the kind is a control kind.
func (m *ControlMessage) Validate() error {
	if !m.Kind.IsControl() {
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, m.Kind)
	}
	return nil
}

func (*ControlMessage) isMessage() {}

// Compile-time interface satisfaction checks.
var (
	_ Message = (*BeaconEnvelope)(nil)
	_ Message = (*Sync)(nil)
	_ Message = (*SyncFollowUp)(nil)
	_ Message = (*Offset)(nil)
	_ Message = (*Start)(nil)
	_ Message = (*ControlMessage)(nil)
)
