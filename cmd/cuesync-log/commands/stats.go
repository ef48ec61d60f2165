package commands

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Peers             map[wire.PeerID]*PeerStats
	Dropped           map[string]int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// PeerStats holds statistics for one remote peer.
type PeerStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int

	// Estimator steps seen for this peer.
	Updates    int
	Gated      int
	LastOffset float64
	MinRTT     float64
	MaxRTT     float64
}

// Collect aggregates every event of path.
func Collect(path string) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Peers:             make(map[wire.PeerID]*PeerStats),
		Dropped:           make(map[string]int),
	}
	err := each(path, log.Filter{}, func(ev log.Event) error {
		stats.add(ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.Error != nil {
		s.Errors++
	}
	if event.Message != nil && event.Message.Dropped != "" {
		s.Dropped[event.Message.Dropped]++
	}

	if event.PeerID == "" {
		return
	}
	peer, ok := s.Peers[event.PeerID]
	if !ok {
		peer = &PeerStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Peers[event.PeerID] = peer
	}
	peer.Events++
	if event.Timestamp.After(peer.LastSeen) {
		peer.LastSeen = event.Timestamp
	}

	est := event.Estimate
	if est == nil {
		return
	}
	if est.Gated {
		peer.Gated++
		return
	}
	if peer.Updates == 0 || est.RTT < peer.MinRTT {
		peer.MinRTT = est.RTT
	}
	if est.RTT > peer.MaxRTT {
		peer.MaxRTT = est.RTT
	}
	peer.Updates++
	peer.LastOffset = est.Offset
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== cuesync Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerChunk, log.LayerSync, log.LayerSchedule} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryEstimate, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut, log.DirectionLocal} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Peers: %d\n", len(stats.Peers))
	ids := make([]wire.PeerID, 0, len(stats.Peers))
	for id := range stats.Peers {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b wire.PeerID) int { return cmp.Compare(a, b) })
	for _, id := range ids {
		p := stats.Peers[id]
		fmt.Fprintf(w, "  [%s] %d events over %s\n", id, p.Events, p.LastSeen.Sub(p.FirstSeen).Round(time.Millisecond))
		if p.Updates > 0 || p.Gated > 0 {
			fmt.Fprintf(w, "      estimates: %d applied, %d gated, offset %+.6fs, rtt %.6fs..%.6fs\n",
				p.Updates, p.Gated, p.LastOffset, p.MinRTT, p.MaxRTT)
		}
	}

	if len(stats.Dropped) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Dropped Messages:")
		reasons := make([]string, 0, len(stats.Dropped))
		for r := range stats.Dropped {
			reasons = append(reasons, r)
		}
		slices.Sort(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-12s %d\n", r+":", stats.Dropped[r])
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
