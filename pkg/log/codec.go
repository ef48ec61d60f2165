package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A protocol log file starts with a five byte header, "CLOG" and the
// format version, followed by a sequence of CBOR-encoded events.
const (
	fileMagic = "CLOG"

	// FileVersion is the format version written by FileLogger.
	FileVersion byte = 1

	headerLen = len(fileMagic) + 1
)

// File format errors.
var (
	ErrNotProtocolLog     = errors.New("not a cuesync protocol log")
	ErrUnsupportedVersion = errors.New("unsupported protocol log version")
)

var (
	eventEnc = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
		TimeTag:       cbor.EncTagRequired,
	})
	eventDec = mustDecMode(cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyQuiet,
		MaxNestedLevels: 16,
		TimeTag:         cbor.DecTagOptional,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: event encoder: %v", err))
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: event decoder: %v", err))
	}
	return m
}

// EncodeEvent encodes one event.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(event)
}

// DecodeEvent decodes one event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := eventDec.Unmarshal(data, &event)
	return event, err
}

func writeHeader(w io.Writer) error {
	_, err := w.Write(append([]byte(fileMagic), FileVersion))
	return err
}

func readHeader(r io.Reader) error {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrNotProtocolLog
		}
		return err
	}
	if !bytes.Equal(hdr[:len(fileMagic)], []byte(fileMagic)) {
		return ErrNotProtocolLog
	}
	if v := hdr[len(fileMagic)]; v != FileVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return nil
}
