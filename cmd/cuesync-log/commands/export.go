package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/cuesync/cuesync-go/pkg/log"
)

// column is one CSV column. Cells are empty when the event lacks the value.
type column struct {
	name string
	cell func(log.Event) string
}

func seconds(v float64) string { return strconv.FormatFloat(v, 'f', 9, 64) }

// csvColumns flattens an event for plotting. Estimate events carry the
// offset trace.
var csvColumns = []column{
	{"timestamp", func(e log.Event) string { return e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z") }},
	{"local_id", func(e log.Event) string { return string(e.LocalID) }},
	{"peer_id", func(e log.Event) string { return string(e.PeerID) }},
	{"connection_id", func(e log.Event) string { return e.ConnectionID }},
	{"direction", func(e log.Event) string { return e.Direction.String() }},
	{"layer", func(e log.Event) string { return e.Layer.String() }},
	{"category", func(e log.Event) string { return e.Category.String() }},
	{"type", eventLabel},
	{"seq", func(e log.Event) string {
		if e.Message == nil || !e.Message.Kind.IsBeacon() {
			return ""
		}
		return strconv.FormatUint(e.Message.Seq, 10)
	}},
	{"offset", estimateCell(func(s *log.EstimateEvent) string { return seconds(s.Offset) })},
	{"rtt", estimateCell(func(s *log.EstimateEvent) string { return seconds(s.RTT) })},
	{"gated", estimateCell(func(s *log.EstimateEvent) string { return strconv.FormatBool(s.Gated) })},
}

func estimateCell(fn func(*log.EstimateEvent) string) func(log.Event) string {
	return func(e log.Event) string {
		if e.Estimate == nil {
			return ""
		}
		return fn(e.Estimate)
	}
}

// sink receives exported events. finish is called once after the last.
type sink struct {
	write  func(log.Event) error
	finish func() error
}

var formats = map[string]func(io.Writer) (sink, error){
	"jsonl": jsonlSink,
	"csv":   csvSink,
}

func jsonlSink(w io.Writer) (sink, error) {
	enc := json.NewEncoder(w)
	return sink{
		write:  func(e log.Event) error { return enc.Encode(e) },
		finish: func() error { return nil },
	}, nil
}

func csvSink(w io.Writer) (sink, error) {
	cw := csv.NewWriter(w)
	header := make([]string, len(csvColumns))
	for i, c := range csvColumns {
		header[i] = c.name
	}
	if err := cw.Write(header); err != nil {
		return sink{}, err
	}
	row := make([]string, len(csvColumns))
	return sink{
		write: func(e log.Event) error {
			for i, c := range csvColumns {
				row[i] = c.cell(e)
			}
			return cw.Write(row)
		},
		finish: func() error {
			cw.Flush()
			return cw.Error()
		},
	}, nil
}

// Formats lists the export formats.
func Formats() []string {
	return slices.Sorted(maps.Keys(formats))
}

// RunExport writes the events of path matching f to w in format.
func RunExport(path, format string, f log.Filter, w io.Writer) error {
	open, ok := formats[format]
	if !ok {
		return fmt.Errorf("unknown format %q (want %s)", format, strings.Join(Formats(), " or "))
	}
	out, err := open(w)
	if err != nil {
		return err
	}
	if err := each(path, f, out.write); err != nil {
		return err
	}
	return out.finish()
}
