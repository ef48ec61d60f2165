package log

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a protocol log file. Writes are buffered;
// Flush or Close makes them durable. Safe for concurrent use.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *cbor.Encoder
	failed uint64
	closed bool
}

// NewFileLogger opens path for appending, creating it with a header if it
// is new or empty. An existing file must be a protocol log.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() > 0 {
		err = readHeader(io.NewSectionReader(f, 0, int64(headerLen)))
	} else {
		err = writeHeader(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	buf := bufio.NewWriter(f)
	return &FileLogger{file: f, buf: buf, enc: eventEnc.NewEncoder(buf)}, nil
}

// Log buffers one event. Events that fail to encode are counted, not
// reported; logging after Close is ignored.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.failed++
	}
}

// Failed returns the number of events that could not be written.
func (l *FileLogger) Failed() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Flush writes buffered events to the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.buf.Flush()
}

// Close flushes and closes the file. Later calls return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Join(l.buf.Flush(), l.file.Close())
}

var _ Logger = (*FileLogger)(nil)

// Reader streams events from a protocol log file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens path and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path and reads the events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	if err := readHeader(br); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{file: f, dec: eventDec.NewDecoder(br), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var ev Event
		if err := r.dec.Decode(&ev); err != nil {
			return Event{}, err
		}
		if r.filter.Matches(ev) {
			return ev, nil
		}
	}
}

// All yields the remaining matching events. Iteration stops at the end of
// the file or after yielding a decode error.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
