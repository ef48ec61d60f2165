package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readAll(t *testing.T, path string) []Event {
	t.Helper()
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	var got []Event
	for ev, err := range r.All() {
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		got = append(got, ev)
	}
	return got
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	ts := time.Date(2026, 10, 15, 9, 30, 0, 123456789, time.UTC)
	logger.Log(Event{Timestamp: ts, PeerID: "parent", Frame: &FrameEvent{Size: 10}})
	logger.Log(Event{Timestamp: ts, PeerID: "parent", Category: CategoryEstimate, Estimate: &EstimateEvent{Offset: 0.5}})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := readAll(t, path)
	if len(got) != 2 {
		t.Fatalf("read %d events, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, ts)
	}
	if got[1].Estimate == nil || got[1].Estimate.Offset != 0.5 {
		t.Errorf("second event: got %+v", got[1])
	}
	if logger.Failed() != 0 {
		t.Errorf("Failed = %d", logger.Failed())
	}
}

func TestFileLoggerAppendsWithOneHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.clog")
	for range 2 {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now()})
		logger.Close()
	}
	if n := len(readAll(t, path)); n != 2 {
		t.Errorf("read %d events, want 2", n)
	}
}

func TestFileLoggerFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Log(Event{Timestamp: time.Now(), PeerID: "p"})
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n := len(readAll(t, path)); n != 1 {
		t.Errorf("read %d events after flush, want 1", n)
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	logger.Log(Event{Timestamp: time.Now()})
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(headerLen) {
		t.Errorf("file size = %d, want header only (%d)", info.Size(), headerLen)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				logger.Log(Event{Timestamp: time.Now(), Frame: &FrameEvent{Size: i}})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if n := len(readAll(t, path)); n != 400 {
		t.Errorf("read %d events, want 400", n)
	}
}

func TestFileHeaderChecks(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{"empty", nil, ErrNotProtocolLog},
		{"short", []byte("CL"), ErrNotProtocolLog},
		{"foreign", []byte("RIFF\x01"), ErrNotProtocolLog},
		{"future version", []byte("CLOG\x07"), ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".clog")
			if err := os.WriteFile(path, tt.content, 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := NewReader(path); !errors.Is(err, tt.want) {
				t.Errorf("NewReader error = %v, want %v", err, tt.want)
			}
			if len(tt.content) == 0 {
				return
			}
			if _, err := NewFileLogger(path); !errors.Is(err, tt.want) {
				t.Errorf("NewFileLogger error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReaderTruncatedEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.clog")
	data, err := EncodeEvent(Event{Timestamp: time.Now(), PeerID: "p"})
	if err != nil {
		t.Fatal(err)
	}
	content := append([]byte("CLOG\x01"), data[:len(data)-2]...)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Next error = %v, want a decode error", err)
	}
}
