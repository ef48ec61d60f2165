package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func writeEvents(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, PeerID: "a", Layer: LayerSync, Category: CategoryMessage, Direction: DirectionIn},
		{Timestamp: base.Add(time.Second), PeerID: "a", Layer: LayerSync, Category: CategoryEstimate, Direction: DirectionLocal},
		{Timestamp: base.Add(2 * time.Second), PeerID: "b", Layer: LayerSchedule, Category: CategoryMessage, Direction: DirectionOut},
		{Timestamp: base.Add(3 * time.Second), PeerID: "b", Layer: LayerChunk, Category: CategoryError, ConnectionID: "conn-1"},
	}
	path := writeEvents(t, events)

	layer := LayerSync
	category := CategoryMessage
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"peer", Filter{PeerID: "a"}, 2},
		{"layer", Filter{Layer: &layer}, 2},
		{"category", Filter{Category: &category}, 2},
		{"connection", Filter{ConnectionID: "conn-1"}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{PeerID: "a", Layer: &layer, Category: &category}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer r.Close()

			n := 0
			for {
				_, err := r.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				n++
			}
			if n != tt.want {
				t.Errorf("got %d events, want %d", n, tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.clog")); err == nil {
		t.Error("expected error for missing file")
	}
}
