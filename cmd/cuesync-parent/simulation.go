package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/cuesync/cuesync-go/internal/node"
	"github.com/cuesync/cuesync-go/pkg/beacon"
	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/config"
	"github.com/cuesync/cuesync-go/pkg/schedule"
	"github.com/cuesync/cuesync-go/pkg/transport"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// SimulationConfig configures in-process children.
type SimulationConfig struct {
	// Parent is the parent configuration the children mirror.
	Parent *config.Config

	Hub   *transport.MemHub
	Count int

	// Skew is added per child: child i reads i*Skew ahead of Clock.
	Skew time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
	Out    io.Writer
}

type simChild struct {
	node  *node.Node
	clock *clock.Offset
}

// Simulation runs children over a MemHub, each with a skewed clock and a
// loopback schedule listener.
type Simulation struct {
	cfg      SimulationConfig
	children []*simChild

	outMu sync.Mutex
}

// StartSimulation starts cfg.Count children.
func StartSimulation(ctx context.Context, cfg SimulationConfig) (*Simulation, error) {
	s := &Simulation{cfg: cfg}
	for i := 1; i <= cfg.Count; i++ {
		if err := s.spawn(ctx, i); err != nil {
			return nil, errors.Join(err, s.Close())
		}
	}
	return s, nil
}

func (s *Simulation) spawn(ctx context.Context, i int) error {
	p := s.cfg.Parent
	ccfg := config.Default()
	ccfg.Role = config.RoleChild
	ccfg.ID = fmt.Sprintf("sim-%d", i)
	ccfg.Session = p.Session
	ccfg.Transport.Kind = config.TransportMem
	ccfg.Transport.MaxPayload = p.Transport.MaxPayload
	ccfg.Beacon = p.Beacon
	ccfg.Schedule.Listen = "127.0.0.1:0"
	ccfg.Log.Level = p.Log.Level

	clk := clock.WithOffset(s.cfg.Clock, time.Duration(i)*s.cfg.Skew)
	n, err := node.New(ccfg, node.Options{
		Clock:  clk,
		Hub:    s.cfg.Hub,
		Logger: s.cfg.Logger.With("sim", ccfg.ID),
	})
	if err != nil {
		return err
	}
	c := &simChild{node: n, clock: clk}
	s.children = append(s.children, c)

	if err := n.Start(ctx); err != nil {
		return err
	}
	id := ccfg.ID
	return n.Engine().OnStart(func(st schedule.ScheduledStart) {
		s.printf("[%s] GO at local tick %d (target %d, offset %d ticks)\n", id, clk.Ticks(), st.Target, st.Offset)
	})
}

func (s *Simulation) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.cfg.Out, format, args...)
}

// Children returns the schedule listener of every child.
func (s *Simulation) Children() []config.PeerAddr {
	out := make([]config.PeerAddr, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, config.PeerAddr{
			ID:   c.node.Config().ID,
			Addr: c.node.Engine().ScheduleAddr().String(),
		})
	}
	return out
}

// Report prints each child's beacon estimate next to its true offset.
func (s *Simulation) Report(w io.Writer, parent wire.PeerID) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHILD\tTRUE\tESTIMATE\tERROR\tAPPLIED\tGATED")
	for _, c := range s.children {
		e := c.node.Engine()
		truth := -c.clock.Delta().Seconds()
		est := e.CurrentOffset(parent)
		fmt.Fprintf(tw, "%s\t%+.3fms\t%+.3fms\t%+.3fms\t%d\t%d\n",
			e.ID(), truth*1e3, est*1e3, (est-truth)*1e3,
			e.Child().Count(beacon.OutcomeApplied), e.Child().Count(beacon.OutcomeGated))
	}
	tw.Flush()
}

// SetLink changes the simulated link for every member of the hub.
func (s *Simulation) SetLink(loss float64, delay, jitter time.Duration) {
	s.cfg.Hub.SetLink(transport.LinkConfig{Loss: loss, Delay: delay, Jitter: jitter})
}

// Close stops every child.
func (s *Simulation) Close() error {
	var errs []error
	for _, c := range s.children {
		errs = append(errs, c.node.Close())
	}
	return errors.Join(errs...)
}
