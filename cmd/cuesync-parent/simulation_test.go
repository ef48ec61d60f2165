package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuesync/cuesync-go/internal/node"
	"github.com/cuesync/cuesync-go/pkg/beacon"
	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/config"
	"github.com/cuesync/cuesync-go/pkg/transport"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSimulation(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewSystem()
	logger := slog.New(slog.DiscardHandler)

	pcfg := config.Default()
	pcfg.Role = config.RoleParent
	pcfg.ID = "parent"
	pcfg.Transport.Kind = config.TransportMem
	pcfg.Beacon.Interval = config.Duration(10 * time.Millisecond)
	hub := transport.NewMemHub(node.LinkConfig(pcfg))

	var out lockedBuffer
	sim, err := StartSimulation(ctx, SimulationConfig{
		Parent: pcfg,
		Hub:    hub,
		Count:  2,
		Skew:   20 * time.Millisecond,
		Clock:  clk,
		Logger: logger,
		Out:    &out,
	})
	require.NoError(t, err)
	defer sim.Close()

	children := sim.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "sim-1", children[0].ID)
	assert.Equal(t, "sim-2", children[1].ID)

	pcfg.Schedule.Children = children
	parent, err := node.New(pcfg, node.Options{Clock: clk, Hub: hub, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, parent.Start(ctx))
	defer parent.Close()

	for _, c := range sim.children {
		c := c
		require.Eventually(t, func() bool {
			return c.node.Engine().Child().Count(beacon.OutcomeApplied) >= 5
		}, 5*time.Second, 10*time.Millisecond)
		assert.InDelta(t, -c.clock.Delta().Seconds(), c.node.Engine().CurrentOffset("parent"), 0.01)
	}

	var report bytes.Buffer
	sim.Report(&report, "parent")
	assert.Contains(t, report.String(), "sim-1")
	assert.Contains(t, report.String(), "sim-2")
	assert.Contains(t, report.String(), "-20.000ms")

	require.Eventually(t, func() bool {
		return len(parent.Engine().Master().Offsets()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	plan, err := parent.Engine().ScheduleSynchronizedStart(20*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Children, 2)

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "GO at local tick") == 2
	}, 5*time.Second, 10*time.Millisecond)
}
