// Package commands implements the cuesync-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cuesync/cuesync-go/pkg/log"
)

// each calls fn for every event of path matching f.
func each(path string, f log.Filter, fn func(log.Event) error) error {
	r, err := log.NewFilteredReader(path, f)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer r.Close()
	for ev, err := range r.All() {
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

// RunView prints the events of path matching f to w.
func RunView(path string, f log.Filter, w io.Writer) error {
	return each(path, f, func(ev log.Event) error {
		formatEvent(w, ev)
		return nil
	})
}

const viewTime = "2006-01-02T15:04:05.000000Z"

// eventLabel names the payload an event carries.
func eventLabel(e log.Event) string {
	switch {
	case e.Frame != nil && e.Frame.Chunked:
		return "Chunk"
	case e.Frame != nil:
		return "Frame"
	case e.Message != nil:
		return e.Message.Kind.String()
	case e.Estimate != nil:
		return "Estimate"
	case e.StateChange != nil:
		return "State"
	case e.ControlMsg != nil:
		return e.ControlMsg.Type.String()
	case e.Error != nil:
		return "Error"
	}
	return "?"
}

// formatEvent writes one header line and one indented detail line.
//
//	2026-03-14T09:00:00.250000Z OUT   SYNC      BEACON   parent -> child-a
//	    seq=7 t1=12.500000
func formatEvent(w io.Writer, e log.Event) {
	fmt.Fprintf(w, "%s %-5s %-9s %-8s %s\n",
		e.Timestamp.UTC().Format(viewTime), e.Direction, e.Layer, eventLabel(e), route(e))
	if d := details(e); len(d) > 0 {
		fmt.Fprintf(w, "    %s\n", strings.Join(d, " "))
	}
}

// route renders who talked to whom, with a shortened connection ID.
func route(e log.Event) string {
	local := string(e.LocalID)
	if local == "" {
		local = "-"
	}
	s := local
	if e.PeerID != "" {
		arrow := " <- "
		switch e.Direction {
		case log.DirectionOut:
			arrow = " -> "
		case log.DirectionLocal:
			arrow = " @ "
		}
		s += arrow + string(e.PeerID)
	}
	if e.ConnectionID != "" {
		s += " conn=" + shortConnID(e.ConnectionID)
	}
	return s
}

func shortConnID(id string) string {
	return id[:min(8, len(id))]
}

func details(e log.Event) []string {
	var d []string
	kv := func(k, v string) { d = append(d, k+"="+v) }
	switch {
	case e.Frame != nil:
		kv("size", strconv.Itoa(e.Frame.Size))
		if len(e.Frame.Data) > 0 {
			kv("data", hex.EncodeToString(e.Frame.Data))
		}
		if e.Frame.Truncated {
			d = append(d, "(truncated)")
		}

	case e.Message != nil:
		m := e.Message
		if m.Kind.IsBeacon() || m.Seq != 0 {
			kv("seq", strconv.FormatUint(m.Seq, 10))
		}
		for i, s := range m.Seconds {
			kv("t"+strconv.Itoa(i+1), strconv.FormatFloat(s, 'f', 6, 64))
		}
		if len(m.Ticks) > 0 {
			kv("ticks", fmt.Sprint(m.Ticks))
		}
		if m.Dropped != "" {
			kv("dropped", strconv.Quote(m.Dropped))
		}

	case e.Estimate != nil:
		s := e.Estimate
		kv("z", fmt.Sprintf("%+.6fs", s.Measured))
		kv("rtt", fmt.Sprintf("%.6fs", s.RTT))
		kv("offset", fmt.Sprintf("%+.6fs", s.Offset))
		kv("drift", fmt.Sprintf("%+.3g", s.Drift))
		if s.Gated {
			kv("gated", fmt.Sprintf("rtt>%.6fs", s.Threshold))
		}

	case e.StateChange != nil:
		c := e.StateChange
		from := c.OldState
		if from == "" {
			from = "-"
		}
		d = append(d, c.Entity.String(), from+"->"+c.NewState)
		if c.Reason != "" {
			kv("reason", strconv.Quote(c.Reason))
		}

	case e.ControlMsg != nil:
		if e.ControlMsg.Sequence != 0 {
			kv("seq", strconv.FormatUint(uint64(e.ControlMsg.Sequence), 10))
		}

	case e.Error != nil:
		kv("layer", e.Error.Layer.String())
		if e.Error.Context != "" {
			kv("stage", e.Error.Context)
		}
		kv("msg", strconv.Quote(e.Error.Message))
	}
	return d
}
