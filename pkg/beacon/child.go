package beacon

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/estimator"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/sequence"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// ChildConfig configures a Child.
type ChildConfig struct {
	// ID is the child's peer ID; FollowUps for other IDs are ignored.
	ID wire.PeerID

	// Parent, when set, restricts the child to one parent's beacons.
	Parent wire.PeerID

	Clock clock.Clock
	Out   Outbox

	// Estimator and Guard default to fresh instances.
	Estimator *estimator.Estimator
	Guard     *sequence.Guard

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Child answers beacons and turns FollowUps into offset estimates.
type Child struct {
	id     wire.PeerID
	parent wire.PeerID
	clock  clock.Clock
	out    Outbox
	est    *estimator.Estimator
	guard  *sequence.Guard
	logger *slog.Logger
	plog   protocolLog

	counts [OutcomeApplied + 1]atomic.Uint64
}

// NewChild creates a Child.
func NewChild(cfg ChildConfig) *Child {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = estimator.New(estimator.DefaultConfig())
	}
	if cfg.Guard == nil {
		cfg.Guard = sequence.NewGuard()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Child{
		id:     cfg.ID,
		parent: cfg.Parent,
		clock:  cfg.Clock,
		out:    cfg.Out,
		est:    cfg.Estimator,
		guard:  cfg.Guard,
		logger: logger,
		plog:   protocolLog{logger: log.OrNoop(cfg.ProtocolLogger), role: log.RoleChild, local: cfg.ID},
	}
}

// ID returns the child's peer ID.
func (c *Child) ID() wire.PeerID { return c.id }

// Estimator returns the estimator fed by this child.
func (c *Child) Estimator() *estimator.Estimator { return c.est }

// Handle dispatches an inbound envelope. Echoes are a parent's concern and
// are ignored.
func (c *Child) Handle(from wire.PeerID, env *wire.BeaconEnvelope) error {
	switch env.Kind {
	case wire.KindBeacon:
		return c.HandleBeacon(from, env)
	case wire.KindFollowUp:
		_, err := c.HandleFollowUp(from, env)
		return err
	default:
		c.counts[OutcomeIgnored].Add(1)
		c.plog.dropped(from, env, "role")
		return nil
	}
}

// HandleBeacon replies with an Echo stamped with the receive instant for
// both T2 and T3.
func (c *Child) HandleBeacon(from wire.PeerID, env *wire.BeaconEnvelope) error {
	now := c.clock.Now()
	if err := env.Validate(); err != nil {
		c.plog.dropped(from, env, "malformed")
		return err
	}
	if env.Kind != wire.KindBeacon || !c.accepts(env.ParentID) {
		c.counts[OutcomeIgnored].Add(1)
		c.plog.dropped(from, env, "not addressed")
		return nil
	}

	echo := &wire.BeaconEnvelope{
		Kind:             wire.KindEcho,
		ParentID:         env.ParentID,
		ChildID:          c.id,
		Seq:              env.Seq,
		TSendByParent:    env.TSendByParent,
		TRecvByChild:     wire.Seconds(now),
		TEchoSendByChild: wire.Seconds(now),
	}
	if err := c.out.Send(from, echo); err != nil {
		return fmt.Errorf("echo to %s: %w", from, err)
	}
	return nil
}

// HandleFollowUp applies a FollowUp addressed to this child. The estimator
// is keyed by the envelope's parent ID.
func (c *Child) HandleFollowUp(from wire.PeerID, env *wire.BeaconEnvelope) (Outcome, error) {
	now := c.clock.Now()
	if err := env.Validate(); err != nil {
		c.plog.dropped(from, env, "malformed")
		return OutcomeIgnored, err
	}
	if env.Kind != wire.KindFollowUp || env.ChildID != c.id || !c.accepts(env.ParentID) {
		c.counts[OutcomeIgnored].Add(1)
		c.plog.dropped(from, env, "not addressed")
		return OutcomeIgnored, nil
	}
	if !c.guard.Accept(env.ParentID, env.Seq) {
		c.counts[OutcomeStale].Add(1)
		c.plog.dropped(from, env, "stale")
		return OutcomeStale, nil
	}

	z, rtt := Measure(env)
	res := c.est.Update(env.ParentID, z, rtt, now)

	outcome := OutcomeApplied
	if res.Gated {
		outcome = OutcomeGated
		c.logger.Debug("measurement gated", "parent", env.ParentID, "rtt", rtt, "threshold", res.Threshold)
	}
	c.counts[outcome].Add(1)
	c.plog.emit(log.Event{
		Direction: log.DirectionLocal,
		Category:  log.CategoryEstimate,
		PeerID:    env.ParentID,
		Estimate: &log.EstimateEvent{
			Measured:  z,
			RTT:       rtt,
			Offset:    res.Snapshot.Offset,
			Drift:     res.Snapshot.Drift,
			Gated:     res.Gated,
			Threshold: res.Threshold,
		},
	})
	return outcome, nil
}

// Offset returns the predicted offset to parent now (0 when unknown).
func (c *Child) Offset(parent wire.PeerID) float64 {
	return c.est.Predict(parent, c.clock.Now())
}

// Correct maps a local instant (seconds) onto the parent's clock.
func (c *Child) Correct(parent wire.PeerID, local float64) float64 {
	return local + c.est.Predict(parent, local)
}

// Count returns how many FollowUps ended with outcome o.
func (c *Child) Count(o Outcome) uint64 {
	if int(o) >= len(c.counts) {
		return 0
	}
	return c.counts[o].Load()
}

// Reset discards estimates and sequence history for every parent.
func (c *Child) Reset() {
	c.est.Reset()
	c.guard.Reset()
}

func (c *Child) accepts(parent wire.PeerID) bool {
	return c.parent == "" || c.parent == parent
}
