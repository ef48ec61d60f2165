package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// ParentConfig configures a Parent.
type ParentConfig struct {
	// ID is the parent's peer ID, stamped on every envelope.
	ID wire.PeerID

	Clock clock.Clock
	Out   Outbox

	// Interval is the emission period for Run (0 = DefaultInterval).
	Interval time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Parent emits beacons and answers echoes.
type Parent struct {
	id       wire.PeerID
	clock    clock.Clock
	out      Outbox
	interval time.Duration
	logger   *slog.Logger
	plog     protocolLog

	// seq is the last emitted sequence; it only grows.
	seq     atomic.Uint64
	echoes  atomic.Uint64
	ignored atomic.Uint64
}

// NewParent creates a Parent.
func NewParent(cfg ParentConfig) *Parent {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parent{
		id:       cfg.ID,
		clock:    cfg.Clock,
		out:      cfg.Out,
		interval: cfg.Interval,
		logger:   logger,
		plog:     protocolLog{logger: log.OrNoop(cfg.ProtocolLogger), role: log.RoleParent, local: cfg.ID},
	}
}

// ID returns the parent's peer ID.
func (p *Parent) ID() wire.PeerID { return p.id }

// Seq returns the last emitted sequence number.
func (p *Parent) Seq() uint64 { return p.seq.Load() }

// Emit broadcasts the next Beacon.
func (p *Parent) Emit() (*wire.BeaconEnvelope, error) {
	env := &wire.BeaconEnvelope{
		Kind:          wire.KindBeacon,
		ParentID:      p.id,
		Seq:           p.seq.Add(1),
		TSendByParent: wire.Seconds(p.clock.Now()),
	}
	if err := p.out.Broadcast(env); err != nil {
		return env, fmt.Errorf("broadcast beacon %d: %w", env.Seq, err)
	}
	return env, nil
}

// Run emits a beacon every interval until ctx is done.
func (p *Parent) Run(ctx context.Context) error {
	tick := make(chan struct{}, 1)
	arm := func() clock.Timer {
		return p.clock.AfterFunc(p.interval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
	}

	timer := arm()
	defer func() { timer.Stop() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := p.Emit(); err != nil {
				p.logger.Debug("beacon not sent", "error", err)
			}
			timer = arm()
		}
	}
}

// Handle dispatches an inbound envelope. Only Echo concerns a parent.
func (p *Parent) Handle(from wire.PeerID, env *wire.BeaconEnvelope) error {
	if env.Kind != wire.KindEcho {
		p.ignored.Add(1)
		p.plog.dropped(from, env, "role")
		return nil
	}
	return p.HandleEcho(from, env)
}

// HandleEcho stamps T4 and replies with a FollowUp to the echoing child.
// Echoes of another parent's beacons are ignored.
func (p *Parent) HandleEcho(from wire.PeerID, env *wire.BeaconEnvelope) error {
	t4 := p.clock.Now()
	if err := env.Validate(); err != nil {
		p.plog.dropped(from, env, "malformed")
		return err
	}
	if env.Kind != wire.KindEcho || env.ParentID != p.id {
		p.ignored.Add(1)
		p.plog.dropped(from, env, "not addressed")
		return nil
	}
	p.echoes.Add(1)

	follow := &wire.BeaconEnvelope{
		Kind:             wire.KindFollowUp,
		ParentID:         p.id,
		ChildID:          env.ChildID,
		Seq:              env.Seq,
		TSendByParent:    env.TSendByParent,
		TRecvByChild:     env.TRecvByChild,
		TEchoSendByChild: env.TEchoSendByChild,
		TRecvByParent:    wire.Seconds(t4),
	}
	if err := p.out.Send(from, follow); err != nil {
		return fmt.Errorf("follow-up to %s: %w", from, err)
	}
	return nil
}

// Stats returns echoes answered and envelopes ignored.
func (p *Parent) Stats() (echoes, ignored uint64) {
	return p.echoes.Load(), p.ignored.Load()
}
