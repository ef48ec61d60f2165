package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/estimator"
	"github.com/cuesync/cuesync-go/pkg/schedule"
	"github.com/cuesync/cuesync-go/pkg/session"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Status prints the countdown to a pending start, or the beacon offsets
// when nothing is scheduled.
type Status struct {
	engine *session.Engine
	clock  clock.Clock

	mu  sync.Mutex
	out io.Writer
}

// NewStatus creates a Status writing to out.
func NewStatus(engine *session.Engine, clk clock.Clock, out io.Writer) *Status {
	return &Status{engine: engine, clock: clk, out: out}
}

// Fired announces a start.
func (s *Status) Fired(st schedule.ScheduledStart) {
	s.println(fmt.Sprintf("GO (target %d, offset %d ticks, waited %s)", st.Target, st.Offset, st.Delay))
}

// Run prints a status line every period until ctx is done.
func (s *Status) Run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.println(s.line())
		}
	}
}

func (s *Status) line() string {
	pending, ok := s.engine.Client().Pending()
	est := s.engine.Child().Estimator()
	peers := est.Peers()
	snaps := make(map[wire.PeerID]estimator.Snapshot, len(peers))
	for _, id := range peers {
		if snap, ok := est.Snapshot(id); ok {
			snaps[id] = snap
		}
	}
	return formatStatus(s.clock.Ticks(), s.clock.Now(), s.clock.Timebase(), pending, ok, snaps, peers)
}

func (s *Status) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

// formatStatus renders one status line. order fixes the peer order.
func formatStatus(ticks int64, now float64, tb clock.Timebase, pending schedule.ScheduledStart, scheduled bool,
	snaps map[wire.PeerID]estimator.Snapshot, order []wire.PeerID) string {
	if scheduled {
		left := tb.ToDuration(max(0, pending.FireTicks-ticks))
		return fmt.Sprintf("T-%.1fs", left.Seconds())
	}
	if len(order) == 0 {
		return "waiting for beacons"
	}
	parts := make([]string, 0, len(order))
	for _, id := range order {
		snap, ok := snaps[id]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %+.3fms (%d updates)", id, snap.Predict(now)*1e3, snap.Updates))
	}
	return "offset " + strings.Join(parts, ", ")
}
