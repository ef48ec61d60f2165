package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize bounds stream frames. Scheduler messages are a
	// few dozen bytes; anything near this limit is a corrupt prefix.
	DefaultMaxMessageSize = 16 * 1024

	// MaxLogFrameDataSize is the maximum frame data size included in logs.
	MaxLogFrameDataSize = 1024
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// frameLog carries optional protocol logging for a framer.
type frameLog struct {
	logger log.Logger
	connID string
	peer   wire.PeerID
}

func (fl *frameLog) log(data []byte, dir log.Direction) {
	if fl.logger == nil {
		return
	}
	logged, truncated := data, false
	if len(data) > MaxLogFrameDataSize {
		logged, truncated = data[:MaxLogFrameDataSize], true
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		PeerID:       fl.peer,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      logged,
			Truncated: truncated,
		},
	})
}

// FrameWriter writes length-prefixed frames. Safe for concurrent use.
type FrameWriter struct {
	w       io.Writer
	maxSize uint32
	mu      sync.Mutex
	frameLog
}

// NewFrameWriter creates a frame writer. maxSize 0 selects the default.
func NewFrameWriter(w io.Writer, maxSize uint32) *FrameWriter {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameWriter{w: w, maxSize: maxSize}
}

// WriteFrame writes the prefix and payload in a single write.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > fw.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	fw.log(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames. Not safe for concurrent use.
type FrameReader struct {
	r       io.Reader
	maxSize uint32
	prefix  [LengthPrefixSize]byte
	frameLog
}

// NewFrameReader creates a frame reader. maxSize 0 selects the default.
func NewFrameReader(r io.Reader, maxSize uint32) *FrameReader {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameReader{r: r, maxSize: maxSize}
}

// ReadFrame returns the next frame payload. A clean end of stream between
// frames returns io.EOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.prefix[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.prefix[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	fr.log(payload, log.DirectionIn)
	return payload, nil
}

// Framer combines frame reading and writing on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer. maxSize 0 selects the default.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw, maxSize),
		FrameWriter: NewFrameWriter(rw, maxSize),
	}
}

// SetLogger enables protocol logging for both directions. Pass nil to
// disable.
func (f *Framer) SetLogger(logger log.Logger, connID string, peer wire.PeerID) {
	fl := frameLog{logger: logger, connID: connID, peer: peer}
	f.FrameReader.frameLog = fl
	f.FrameWriter.mu.Lock()
	f.FrameWriter.frameLog = fl
	f.FrameWriter.mu.Unlock()
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
