package log

import (
	"testing"
	"time"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 10, 15, 10, 15, 32, 123456789, time.UTC)
	original := Event{
		Timestamp:    ts,
		ConnectionID: "abc12345-def6-7890-abcd-ef1234567890",
		Direction:    DirectionOut,
		Layer:        LayerSync,
		Category:     CategoryMessage,
		LocalRole:    RoleParent,
		RemoteAddr:   "192.168.1.100:7400",
		LocalID:      "stage-left",
		PeerID:       "booth",
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.ConnectionID != original.ConnectionID {
		t.Errorf("ConnectionID: got %q, want %q", decoded.ConnectionID, original.ConnectionID)
	}
	if decoded.Direction != original.Direction {
		t.Errorf("Direction: got %v, want %v", decoded.Direction, original.Direction)
	}
	if decoded.Layer != original.Layer {
		t.Errorf("Layer: got %v, want %v", decoded.Layer, original.Layer)
	}
	if decoded.LocalRole != original.LocalRole {
		t.Errorf("LocalRole: got %v, want %v", decoded.LocalRole, original.LocalRole)
	}
	if decoded.LocalID != original.LocalID || decoded.PeerID != original.PeerID {
		t.Errorf("ids: got %q/%q, want %q/%q", decoded.LocalID, decoded.PeerID, original.LocalID, original.PeerID)
	}
}

func TestPayloadEventsCBORRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, got Event)
	}{
		{
			name: "frame",
			event: Event{
				Layer: LayerTransport,
				Frame: &FrameEvent{Size: 64, Data: []byte{0xFF, 0x01}, Chunked: true},
			},
			check: func(t *testing.T, got Event) {
				if got.Frame == nil || got.Frame.Size != 64 || !got.Frame.Chunked {
					t.Errorf("Frame: got %+v", got.Frame)
				}
			},
		},
		{
			name: "estimate",
			event: Event{
				Layer:    LayerSync,
				Category: CategoryEstimate,
				Estimate: &EstimateEvent{Measured: 0.0125, RTT: 0.004, Offset: 0.0124, Drift: 1e-6, Gated: true, Threshold: 0.003},
			},
			check: func(t *testing.T, got Event) {
				if got.Estimate == nil {
					t.Fatal("Estimate is nil")
				}
				if got.Estimate.Measured != 0.0125 || got.Estimate.Drift != 1e-6 || !got.Estimate.Gated {
					t.Errorf("Estimate: got %+v", got.Estimate)
				}
			},
		},
		{
			name: "message",
			event: Event{
				Layer:   LayerSchedule,
				Message: &MessageEvent{Kind: wire.KindSyncFollowUp, Ticks: []int64{1000, 1050, 1060}},
			},
			check: func(t *testing.T, got Event) {
				if got.Message == nil || got.Message.Kind != wire.KindSyncFollowUp || len(got.Message.Ticks) != 3 {
					t.Errorf("Message: got %+v", got.Message)
				}
			},
		},
		{
			name: "state",
			event: Event{
				Category:    CategoryState,
				StateChange: &StateChangeEvent{Entity: StateEntityStart, OldState: "PENDING", NewState: "FIRED"},
			},
			check: func(t *testing.T, got Event) {
				if got.StateChange == nil || got.StateChange.NewState != "FIRED" {
					t.Errorf("StateChange: got %+v", got.StateChange)
				}
			},
		},
		{
			name: "error",
			event: Event{
				Category: CategoryError,
				Error:    &ErrorEventData{Layer: LayerChunk, Message: "unsupported chunk version", Context: "reassemble"},
			},
			check: func(t *testing.T, got Event) {
				if got.Error == nil || got.Error.Layer != LayerChunk {
					t.Errorf("Error: got %+v", got.Error)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.Timestamp = time.Now()
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}
			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestNewMessageEvent(t *testing.T) {
	env := &wire.BeaconEnvelope{
		Kind:             wire.KindEcho,
		ParentID:         "p",
		ChildID:          "c",
		Seq:              9,
		TSendByParent:    wire.Seconds(1),
		TRecvByChild:     wire.Seconds(2),
		TEchoSendByChild: wire.Seconds(2),
	}
	ev := NewMessageEvent(env)
	if ev.Kind != wire.KindEcho || ev.Seq != 9 {
		t.Errorf("got %+v", ev)
	}
	if len(ev.Seconds) != 3 {
		t.Errorf("Seconds: got %v, want 3 values", ev.Seconds)
	}

	ev = NewMessageEvent(&wire.Start{Target: 2000})
	if ev.Kind != wire.KindStart || len(ev.Ticks) != 1 || ev.Ticks[0] != 2000 {
		t.Errorf("got %+v", ev)
	}
}

func TestEnumStrings(t *testing.T) {
	if LayerSchedule.String() != "SCHEDULE" || Layer(9).String() != "UNKNOWN" {
		t.Error("layer strings")
	}
	if CategoryEstimate.String() != "ESTIMATE" || Category(9).String() != "UNKNOWN" {
		t.Error("category strings")
	}
	if RoleChild.String() != "CHILD" || DirectionLocal.String() != "LOCAL" {
		t.Error("role/direction strings")
	}

	for _, name := range []string{"TRANSPORT", "CHUNK", "SYNC", "SCHEDULE"} {
		l, ok := ParseLayer(name)
		if !ok || l.String() != name {
			t.Errorf("ParseLayer(%q) = %v, %v", name, l, ok)
		}
	}
	if _, ok := ParseCategory("nope"); ok {
		t.Error("ParseCategory accepted an unknown name")
	}
}
