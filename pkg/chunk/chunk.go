// Package chunk splits messages into fixed-header chunks for transports with
// a small maximum payload, and reassembles them on the receiving side.
//
// Frame layout (all multi-byte fields big-endian):
//
//	[0xFF][version=0x01][kind=0x01][16-byte message id][u16 index][u16 count][payload...]
//
// A CBOR-encoded message never starts with 0xFF, so any inbound buffer whose
// first byte is the marker is a chunk frame.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Header constants.
const (
	Marker      byte = 0xFF
	Version     byte = 0x01
	KindMessage byte = 0x01

	// HeaderLen is marker + version + kind + id + index + count.
	HeaderLen = 1 + 1 + 1 + 16 + 2 + 2

	// MaxChunks is the largest count representable in the header.
	MaxChunks = 0xFFFF
)

// Chunk errors.
var (
	ErrNoRoom          = errors.New("max payload leaves no room after chunk header")
	ErrTooManyChunks   = errors.New("message needs more chunks than the header can count")
	ErrShortFrame      = errors.New("chunk frame shorter than header")
	ErrNotChunk        = errors.New("frame does not start with chunk marker")
	ErrBadVersion      = errors.New("unsupported chunk version")
	ErrBadKind         = errors.New("unsupported chunk kind")
	ErrIndexOutOfRange = errors.New("chunk index out of range")
)

// Header is a decoded chunk header.
type Header struct {
	ID    uuid.UUID
	Index uint16
	Count uint16
}

// IsChunk reports whether frame is a chunk frame.
func IsChunk(frame []byte) bool {
	return len(frame) > 0 && frame[0] == Marker
}

// Split returns msg as-is when it fits in maxPayload, otherwise a sequence of
// chunk frames that each fit. All chunks share a freshly generated id.
func Split(msg []byte, maxPayload int) ([][]byte, error) {
	if len(msg) <= maxPayload {
		return [][]byte{msg}, nil
	}
	room := maxPayload - HeaderLen
	if room <= 0 {
		return nil, fmt.Errorf("%w: max payload %d", ErrNoRoom, maxPayload)
	}

	count := (len(msg) + room - 1) / room
	if count > MaxChunks {
		return nil, fmt.Errorf("%w: %d", ErrTooManyChunks, count)
	}

	id := uuid.New()
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * room
		end := min(start+room, len(msg))

		frame := make([]byte, HeaderLen+end-start)
		putHeader(frame, Header{ID: id, Index: uint16(i), Count: uint16(count)})
		copy(frame[HeaderLen:], msg[start:end])
		frames = append(frames, frame)
	}
	return frames, nil
}

func putHeader(frame []byte, h Header) {
	frame[0] = Marker
	frame[1] = Version
	frame[2] = KindMessage
	copy(frame[3:19], h.ID[:])
	binary.BigEndian.PutUint16(frame[19:21], h.Index)
	binary.BigEndian.PutUint16(frame[21:23], h.Count)
}

// ParseHeader validates and decodes the header of a chunk frame, returning
// the header and the payload slice.
func ParseHeader(frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderLen {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	if frame[0] != Marker {
		return Header{}, nil, ErrNotChunk
	}
	if frame[1] != Version {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBadVersion, frame[1])
	}
	if frame[2] != KindMessage {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrBadKind, frame[2])
	}

	var h Header
	copy(h.ID[:], frame[3:19])
	h.Index = binary.BigEndian.Uint16(frame[19:21])
	h.Count = binary.BigEndian.Uint16(frame[21:23])
	if h.Count == 0 || h.Index >= h.Count {
		return Header{}, nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, h.Index, h.Count)
	}
	return h, frame[HeaderLen:], nil
}
