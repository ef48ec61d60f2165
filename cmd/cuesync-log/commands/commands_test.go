package commands

import (
	"bytes"
	"encoding/csv"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 250000000, time.UTC)

func sampleEvents() []log.Event {
	return []log.Event{
		{
			Timestamp: base,
			Direction: log.DirectionOut,
			Layer:     log.LayerSync,
			Category:  log.CategoryMessage,
			LocalRole: log.RoleParent,
			LocalID:   "parent",
			PeerID:    "child-a",
			Message:   &log.MessageEvent{Kind: wire.KindBeacon, Seq: 7, Seconds: []float64{12.5}},
		},
		{
			Timestamp: base.Add(10 * time.Millisecond),
			Direction: log.DirectionIn,
			Layer:     log.LayerChunk,
			Category:  log.CategoryMessage,
			LocalID:   "child-a",
			PeerID:    "parent",
			Frame:     &log.FrameEvent{Size: 35, Data: []byte{0xff, 0x01, 0x01}, Chunked: true},
		},
		{
			Timestamp: base.Add(20 * time.Millisecond),
			Direction: log.DirectionLocal,
			Layer:     log.LayerSync,
			Category:  log.CategoryEstimate,
			LocalID:   "child-a",
			PeerID:    "parent",
			Estimate:  &log.EstimateEvent{Measured: 0.0102, RTT: 0.004, Offset: 0.01, Drift: 1e-6},
		},
		{
			Timestamp: base.Add(30 * time.Millisecond),
			Direction: log.DirectionLocal,
			Layer:     log.LayerSync,
			Category:  log.CategoryEstimate,
			LocalID:   "child-a",
			PeerID:    "parent",
			Estimate:  &log.EstimateEvent{Measured: 0.2, RTT: 0.5, Offset: 0.01, Gated: true, Threshold: 0.006},
		},
		{
			Timestamp: base.Add(40 * time.Millisecond),
			Direction: log.DirectionIn,
			Layer:     log.LayerSync,
			Category:  log.CategoryMessage,
			LocalID:   "child-a",
			PeerID:    "parent",
			Message:   &log.MessageEvent{Kind: wire.KindFollowUp, Seq: 6, Dropped: "stale"},
		},
		{
			Timestamp:    base.Add(50 * time.Millisecond),
			ConnectionID: "c0ffee00-1111-2222-3333-444455556666",
			Direction:    log.DirectionLocal,
			Layer:        log.LayerSchedule,
			Category:     log.CategoryState,
			LocalID:      "child-a",
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntityStart, OldState: "SCHEDULED", NewState: "FIRED"},
		},
		{
			Timestamp: base.Add(60 * time.Millisecond),
			Direction: log.DirectionIn,
			Layer:     log.LayerChunk,
			Category:  log.CategoryError,
			LocalID:   "child-a",
			PeerID:    "parent",
			Error:     &log.ErrorEventData{Layer: log.LayerChunk, Message: "bad header", Context: "reassembly"},
		},
	}
}

func writeLog(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.clog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, ev := range events {
		logger.Log(ev)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestFormatEvents(t *testing.T) {
	tests := []struct {
		name  string
		event log.Event
		want  []string
	}{
		{"beacon", sampleEvents()[0], []string{"2026-03-14T09:00:00.250000Z OUT", "SYNC", "BEACON", "parent -> child-a", "seq=7 t1=12.500000"}},
		{"chunk frame", sampleEvents()[1], []string{"CHUNK", "Chunk", "child-a <- parent", "size=35 data=ff0101"}},
		{"estimate", sampleEvents()[2], []string{"Estimate", "child-a @ parent", "z=+0.010200s", "offset=+0.010000s"}},
		{"gated estimate", sampleEvents()[3], []string{"gated=rtt>0.006000s"}},
		{"dropped", sampleEvents()[4], []string{"FOLLOW_UP", "seq=6", `dropped="stale"`}},
		{"state", sampleEvents()[5], []string{"conn=c0ffee00", "START SCHEDULED->FIRED"}},
		{"error", sampleEvents()[6], []string{"stage=reassembly", `msg="bad header"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			formatEvent(&buf, tt.event)
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestSelectionFilter(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var sel Selection
	sel.Bind(fs)
	err := fs.Parse([]string{"-layer", "Schedule", "-direction", "LOCAL", "-category", "estimate",
		"-peer", "parent", "-since", "2026-03-14T09:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}

	f, err := sel.Filter()
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if f.Layer == nil || *f.Layer != log.LayerSchedule {
		t.Errorf("layer = %v", f.Layer)
	}
	if f.Direction == nil || *f.Direction != log.DirectionLocal {
		t.Errorf("direction = %v", f.Direction)
	}
	if f.Category == nil || *f.Category != log.CategoryEstimate {
		t.Errorf("category = %v", f.Category)
	}
	if f.PeerID != "parent" || f.TimeStart == nil || f.TimeEnd != nil {
		t.Errorf("filter = %+v", f)
	}

	for _, bad := range []Selection{{Layer: "wire"}, {Direction: "sideways"}, {Category: "snapshot"}, {Until: "yesterday"}} {
		if _, err := bad.Filter(); err == nil {
			t.Errorf("%+v should fail", bad)
		}
	}
}

func TestRunViewFilters(t *testing.T) {
	path := writeLog(t, sampleEvents())

	cat := log.CategoryEstimate
	var buf bytes.Buffer
	if err := RunView(path, log.Filter{Category: &cat}, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	if got := strings.Count(buf.String(), " Estimate "); got != 2 {
		t.Errorf("estimate events = %d, want 2\n%s", got, buf.String())
	}

	buf.Reset()
	if err := RunView(path, log.Filter{PeerID: "child-a"}, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	if !strings.Contains(buf.String(), "BEACON") || strings.Contains(buf.String(), "FOLLOW_UP") {
		t.Errorf("peer filter output:\n%s", buf.String())
	}
}

func TestExportCSV(t *testing.T) {
	path := writeLog(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunExport(path, "csv", log.Filter{}, &buf); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != len(sampleEvents())+1 {
		t.Fatalf("rows = %d, want %d", len(rows), len(sampleEvents())+1)
	}
	if rows[0][9] != "offset" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][8] != "7" {
		t.Errorf("beacon seq column = %q", rows[1][8])
	}
	if rows[3][9] != "0.010000000" || rows[3][11] != "false" {
		t.Errorf("estimate row = %v", rows[3])
	}
	if rows[2][9] != "" {
		t.Errorf("frame row has an offset: %v", rows[2])
	}
}

func TestExportSelectedJSONL(t *testing.T) {
	path := writeLog(t, sampleEvents())

	cat := log.CategoryEstimate
	var buf bytes.Buffer
	if err := RunExport(path, "jsonl", log.Filter{Category: &cat}, &buf); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := writeLog(t, sampleEvents())
	var buf bytes.Buffer
	err := RunExport(path, "xml", log.Filter{}, &buf)
	if err == nil || !strings.Contains(err.Error(), "csv or jsonl") {
		t.Errorf("err = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q for an unknown format", buf.String())
	}
}

func TestRunFilter(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.clog")

	layer := log.LayerChunk
	n, err := RunFilter(path, out, log.Filter{Layer: &layer})
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if n != 2 {
		t.Errorf("filtered = %d, want 2", n)
	}

	stats, err := Collect(out)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EventsByLayer[log.LayerChunk] != 2 || stats.TotalEvents != 2 {
		t.Errorf("filtered file stats = %+v", stats.EventsByLayer)
	}

	if _, err := RunFilter(path, path, log.Filter{}); err == nil {
		t.Error("filtering a file onto itself should fail")
	}
}

func TestMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.clog")
	if err := RunView(missing, log.Filter{}, &bytes.Buffer{}); err == nil {
		t.Error("view of a missing file should fail")
	}
	if _, err := Collect(missing); err == nil {
		t.Error("stats of a missing file should fail")
	}
}

func TestStats(t *testing.T) {
	path := writeLog(t, sampleEvents())

	stats, err := Collect(path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 7 || stats.Errors != 1 {
		t.Errorf("total=%d errors=%d", stats.TotalEvents, stats.Errors)
	}
	parent := stats.Peers["parent"]
	if parent == nil {
		t.Fatal("no stats for parent")
	}
	if parent.Updates != 1 || parent.Gated != 1 || parent.LastOffset != 0.01 {
		t.Errorf("parent stats = %+v", parent)
	}
	if stats.Dropped["stale"] != 1 {
		t.Errorf("dropped = %v", stats.Dropped)
	}

	var buf bytes.Buffer
	printStats(&buf, stats)
	for _, want := range []string{"Total Events: 7", "Peers: 2", "1 applied, 1 gated", "stale:", "Errors: 1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("stats output missing %q:\n%s", want, buf.String())
		}
	}
}
