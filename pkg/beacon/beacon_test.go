package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/estimator"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

type mockOutbox struct {
	mock.Mock
}

func (m *mockOutbox) Send(peer wire.PeerID, msg wire.Message) error {
	return m.Called(peer, msg).Error(0)
}

func (m *mockOutbox) Broadcast(msg wire.Message) error {
	return m.Called(msg).Error(0)
}

// captureOutbox records everything sent.
type captureOutbox struct {
	mu    sync.Mutex
	sent  []sent
	bcast []wire.Message
}

type sent struct {
	peer wire.PeerID
	msg  wire.Message
}

func (c *captureOutbox) Send(peer wire.PeerID, msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{peer, msg})
	return nil
}

func (c *captureOutbox) Broadcast(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bcast = append(c.bcast, msg)
	return nil
}

func (c *captureOutbox) broadcasts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bcast)
}

func followUp(child wire.PeerID, seq uint64, t1, t2, t3, t4 float64) *wire.BeaconEnvelope {
	return &wire.BeaconEnvelope{
		Kind:             wire.KindFollowUp,
		ParentID:         "parent",
		ChildID:          child,
		Seq:              seq,
		TSendByParent:    wire.Seconds(t1),
		TRecvByChild:     wire.Seconds(t2),
		TEchoSendByChild: wire.Seconds(t3),
		TRecvByParent:    wire.Seconds(t4),
	}
}

func TestMeasure(t *testing.T) {
	tests := []struct {
		name           string
		t1, t2, t3, t4 float64
		wantZ, wantRTT float64
	}{
		{"symmetric", 10.0, 5.01, 5.01, 10.02, 5.0, 0.02},
		{"turnaround", 1.0, 1.5, 1.6, 1.3, -0.4, 0.2},
		{"negative rtt", 2.0, 1.0, 1.5, 2.1, 1.0, -0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, rtt := Measure(followUp("c", 1, tt.t1, tt.t2, tt.t3, tt.t4))
			assert.InDelta(t, tt.wantRTT, rtt, 1e-9)
			assert.InDelta(t, tt.wantZ, z, 1e-9)
		})
	}
}

func TestParentEmitIncrementsSequence(t *testing.T) {
	clk := clock.NewManual(3 * time.Second)
	out := &mockOutbox{}
	out.On("Broadcast", mock.AnythingOfType("*wire.BeaconEnvelope")).Return(nil)

	p := NewParent(ParentConfig{ID: "parent", Clock: clk, Out: out})
	for i := uint64(1); i <= 3; i++ {
		env, err := p.Emit()
		require.NoError(t, err)
		assert.Equal(t, i, env.Seq)
		assert.Equal(t, wire.KindBeacon, env.Kind)
		assert.NoError(t, env.Validate())
		assert.InDelta(t, clk.Now(), *env.TSendByParent, 1e-12)
		clk.Advance(50 * time.Millisecond)
	}
	assert.Equal(t, uint64(3), p.Seq())
	out.AssertNumberOfCalls(t, "Broadcast", 3)
}

func TestParentEmitReportsFailureButAdvances(t *testing.T) {
	out := &mockOutbox{}
	out.On("Broadcast", mock.Anything).Return(errors.New("no peers"))

	p := NewParent(ParentConfig{ID: "parent", Clock: clock.NewManual(0), Out: out})
	_, err := p.Emit()
	assert.Error(t, err)
	env, _ := p.Emit()
	assert.Equal(t, uint64(2), env.Seq, "sequence never reused")
}

func TestParentRunEmitsOnInterval(t *testing.T) {
	clk := clock.NewManual(0)
	out := &captureOutbox{}
	p := NewParent(ParentConfig{ID: "parent", Clock: clk, Out: out, Interval: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
		clk.Advance(50 * time.Millisecond)
		want := i
		require.Eventually(t, func() bool { return out.broadcasts() == want }, time.Second, time.Millisecond)
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, clk.Pending(), "timer stopped on exit")
}

func TestParentEchoProducesFollowUp(t *testing.T) {
	clk := clock.NewManual(10 * time.Second)
	out := &mockOutbox{}
	p := NewParent(ParentConfig{ID: "parent", Clock: clk, Out: out})

	echo := &wire.BeaconEnvelope{
		Kind:             wire.KindEcho,
		ParentID:         "parent",
		ChildID:          "child-1",
		Seq:              7,
		TSendByParent:    wire.Seconds(9.98),
		TRecvByChild:     wire.Seconds(4.5),
		TEchoSendByChild: wire.Seconds(4.5),
	}
	out.On("Send", wire.PeerID("link-1"), mock.MatchedBy(func(m wire.Message) bool {
		f, ok := m.(*wire.BeaconEnvelope)
		return ok && f.Kind == wire.KindFollowUp && f.ChildID == "child-1" && f.Seq == 7 &&
			*f.TRecvByParent == 10.0 && f.Validate() == nil
	})).Return(nil).Once()

	require.NoError(t, p.HandleEcho("link-1", echo))
	out.AssertExpectations(t)

	echoes, ignored := p.Stats()
	assert.Equal(t, uint64(1), echoes)
	assert.Equal(t, uint64(0), ignored)
}

func TestParentIgnoresOtherRolesAndParents(t *testing.T) {
	out := &mockOutbox{}
	p := NewParent(ParentConfig{ID: "parent", Clock: clock.NewManual(0), Out: out})

	assert.NoError(t, p.Handle("x", &wire.BeaconEnvelope{Kind: wire.KindBeacon, ParentID: "parent", TSendByParent: wire.Seconds(1)}))
	assert.NoError(t, p.Handle("x", followUp("c", 1, 1, 2, 2, 3)))

	foreign := &wire.BeaconEnvelope{
		Kind: wire.KindEcho, ParentID: "other", ChildID: "c", Seq: 1,
		TSendByParent: wire.Seconds(1), TRecvByChild: wire.Seconds(1), TEchoSendByChild: wire.Seconds(1),
	}
	assert.NoError(t, p.Handle("x", foreign))

	_, ignored := p.Stats()
	assert.Equal(t, uint64(3), ignored)
	out.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestParentRejectsMalformedEcho(t *testing.T) {
	out := &mockOutbox{}
	p := NewParent(ParentConfig{ID: "parent", Clock: clock.NewManual(0), Out: out})

	err := p.HandleEcho("x", &wire.BeaconEnvelope{Kind: wire.KindEcho, ParentID: "parent", TSendByParent: wire.Seconds(1)})
	assert.ErrorIs(t, err, wire.ErrMissingField)
	out.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestChildEchoesBeacon(t *testing.T) {
	clk := clock.NewManual(2 * time.Second)
	out := &mockOutbox{}
	c := NewChild(ChildConfig{ID: "child-1", Clock: clk, Out: out})

	out.On("Send", wire.PeerID("uplink"), mock.MatchedBy(func(m wire.Message) bool {
		e, ok := m.(*wire.BeaconEnvelope)
		return ok && e.Kind == wire.KindEcho && e.ChildID == "child-1" && e.Seq == 4 &&
			*e.TSendByParent == 100 && *e.TRecvByChild == 2 && *e.TEchoSendByChild == 2 && e.Validate() == nil
	})).Return(nil).Once()

	beacon := &wire.BeaconEnvelope{Kind: wire.KindBeacon, ParentID: "parent", Seq: 4, TSendByParent: wire.Seconds(100)}
	require.NoError(t, c.Handle("uplink", beacon))
	out.AssertExpectations(t)
}

func TestChildParentFilter(t *testing.T) {
	out := &mockOutbox{}
	c := NewChild(ChildConfig{ID: "child-1", Parent: "parent", Clock: clock.NewManual(0), Out: out})

	beacon := &wire.BeaconEnvelope{Kind: wire.KindBeacon, ParentID: "impostor", Seq: 1, TSendByParent: wire.Seconds(1)}
	require.NoError(t, c.HandleBeacon("x", beacon))
	out.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	f := followUp("child-1", 1, 1, 2, 2, 3)
	f.ParentID = "impostor"
	outcome, err := c.HandleFollowUp("x", f)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestChildFollowUpNotAddressedNeverMutates(t *testing.T) {
	clk := clock.NewManual(5 * time.Second)
	c := NewChild(ChildConfig{ID: "child-1", Clock: clk, Out: &mockOutbox{}})

	for seq := uint64(1); seq <= 10; seq++ {
		outcome, err := c.HandleFollowUp("link", followUp("child-2", seq, 100, 1, 1, 100.01))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	}

	_, ok := c.Estimator().Snapshot("parent")
	assert.False(t, ok, "no estimator state created")
	assert.Equal(t, 0.0, c.Offset("parent"))
	assert.Equal(t, uint64(10), c.Count(OutcomeIgnored))

	// The guard was not consulted either: seq 1 is still fresh for us.
	outcome, err := c.HandleFollowUp("link", followUp("child-1", 1, 100, 1, 1, 100.01))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestChildSequenceGuard(t *testing.T) {
	clk := clock.NewManual(time.Second)
	c := NewChild(ChildConfig{ID: "child-1", Clock: clk, Out: &mockOutbox{}})

	var outcomes []Outcome
	for _, seq := range []uint64{1, 2, 2, 1, 3} {
		clk.Advance(50 * time.Millisecond)
		o, err := c.HandleFollowUp("link", followUp("child-1", seq, 0, 0, 0, 0.125))
		require.NoError(t, err)
		outcomes = append(outcomes, o)
	}
	assert.Equal(t, []Outcome{OutcomeApplied, OutcomeApplied, OutcomeStale, OutcomeStale, OutcomeApplied}, outcomes)

	snap, ok := c.Estimator().Snapshot("parent")
	require.True(t, ok)
	assert.Equal(t, 3, snap.Updates)
}

func TestChildConvergesThroughExchange(t *testing.T) {
	// Child clock runs 0.25 s behind the parent; each leg takes ~2 ms.
	// Dyadic timestamps keep every round trip bit-identical so none is gated.
	const skew = 0.25
	const leg = 1.0 / 512
	clk := clock.NewManual(10 * time.Second)
	c := NewChild(ChildConfig{ID: "child-1", Clock: clk, Out: &mockOutbox{}})

	for seq := uint64(1); seq <= 25; seq++ {
		clk.Advance(62500 * time.Microsecond)
		local := 10 + float64(seq)/16
		t2 := local
		t1 := local + skew - leg
		t4 := t2 + skew + leg
		_, err := c.HandleFollowUp("link", followUp("child-1", seq, t1, t2, t2, t4))
		require.NoError(t, err)
	}

	assert.InDelta(t, skew, c.Offset("parent"), 0.001)
	local := clk.Now()
	assert.InDelta(t, local+skew, c.Correct("parent", local), 0.001)
	assert.Equal(t, uint64(25), c.Count(OutcomeApplied))
}

func TestChildGatesOutlier(t *testing.T) {
	clk := clock.NewManual(time.Second)
	est := estimator.New(estimator.DefaultConfig())
	c := NewChild(ChildConfig{ID: "child-1", Clock: clk, Out: &mockOutbox{}, Estimator: est})

	seq := uint64(0)
	feed := func(rtt float64) Outcome {
		seq++
		clk.Advance(50 * time.Millisecond)
		o, err := c.HandleFollowUp("link", followUp("child-1", seq, 0, 0, 0, rtt))
		require.NoError(t, err)
		return o
	}
	for i := 0; i < 31; i++ {
		require.Equal(t, OutcomeApplied, feed(0.010))
	}
	before, _ := est.Snapshot("parent")
	assert.Equal(t, OutcomeGated, feed(0.500))
	after, _ := est.Snapshot("parent")
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(1), c.Count(OutcomeGated))
}

func TestChildIgnoresEchoAndReset(t *testing.T) {
	clk := clock.NewManual(time.Second)
	c := NewChild(ChildConfig{ID: "child-1", Clock: clk, Out: &mockOutbox{}})

	echo := &wire.BeaconEnvelope{
		Kind: wire.KindEcho, ParentID: "parent", ChildID: "child-1", Seq: 1,
		TSendByParent: wire.Seconds(1), TRecvByChild: wire.Seconds(1), TEchoSendByChild: wire.Seconds(1),
	}
	require.NoError(t, c.Handle("x", echo))
	assert.Equal(t, uint64(1), c.Count(OutcomeIgnored))

	_, err := c.HandleFollowUp("x", followUp("child-1", 5, 2, 1, 1, 2.01))
	require.NoError(t, err)
	assert.NotZero(t, c.Offset("parent"))

	c.Reset()
	assert.Zero(t, c.Offset("parent"))
	c.Reset()
	assert.Zero(t, c.Offset("parent"))

	o, err := c.HandleFollowUp("x", followUp("child-1", 1, 2, 1, 1, 2.01))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, o, "sequence history cleared")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "APPLIED", OutcomeApplied.String())
	assert.Equal(t, "UNKNOWN", Outcome(9).String())
}
