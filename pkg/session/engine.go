package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuesync/cuesync-go/pkg/beacon"
	"github.com/cuesync/cuesync-go/pkg/chunk"
	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/estimator"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/schedule"
	"github.com/cuesync/cuesync-go/pkg/transport"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// maxLoggedFrame bounds the bytes copied into a frame event.
const maxLoggedFrame = 64

// Engine is one sync node.
type Engine struct {
	id     wire.PeerID
	role   Role
	clock  clock.Clock
	tr     transport.Transport
	inbox  int
	stale  float64
	logger *slog.Logger
	plog   log.Logger

	parent   *beacon.Parent
	master   *schedule.Master
	child    *beacon.Child
	client   *schedule.Client
	listener *schedule.Listener

	mu     sync.Mutex
	state  State
	peers  map[wire.PeerID]*peer
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates an Engine for cfg.Role.
func New(cfg Config) (*Engine, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if cfg.Role != RoleParent && cfg.Role != RoleChild {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidConfig, cfg.Role)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("node", cfg.ID, "role", cfg.Role.String())

	e := &Engine{
		id:     cfg.ID,
		role:   cfg.Role,
		clock:  cfg.Clock,
		tr:     cfg.Transport,
		inbox:  cfg.InboxSize,
		stale:  cfg.ReassemblyTimeout.Seconds(),
		logger: logger,
		plog:   log.OrNoop(cfg.ProtocolLogger),
		peers:  make(map[wire.PeerID]*peer),
	}

	if cfg.Role == RoleParent {
		e.parent = beacon.NewParent(beacon.ParentConfig{
			ID:             cfg.ID,
			Clock:          cfg.Clock,
			Out:            e,
			Interval:       cfg.BeaconInterval,
			Logger:         logger,
			ProtocolLogger: cfg.ProtocolLogger,
		})
		mcfg := cfg.Master
		mcfg.Clock = cfg.Clock
		if mcfg.Logger == nil {
			mcfg.Logger = logger
		}
		if mcfg.ProtocolLogger == nil {
			mcfg.ProtocolLogger = cfg.ProtocolLogger
		}
		e.master = schedule.NewMaster(mcfg)
		return e, nil
	}

	e.child = beacon.NewChild(beacon.ChildConfig{
		ID:             cfg.ID,
		Parent:         cfg.Parent,
		Clock:          cfg.Clock,
		Out:            e,
		Estimator:      estimator.New(cfg.Estimator),
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	e.client = schedule.NewClient(schedule.ClientConfig{
		Clock:          cfg.Clock,
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if cfg.ScheduleListen != "" {
		e.listener = schedule.NewListener(schedule.ListenerConfig{
			Address: cfg.ScheduleListen,
			Conn:    cfg.ScheduleConn,
			Logger:  logger,
		}, e.client)
	}
	return e, nil
}

// ID returns the node's peer ID.
func (e *Engine) ID() wire.PeerID { return e.id }

// Role returns the node's role.
func (e *Engine) Role() Role { return e.role }

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start installs the engine as transport handler and starts the peer
// actors, the beacon emitter and the master's probe loop (parent) or the
// schedule listener (child).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateRunning:
		e.mu.Unlock()
		return ErrAlreadyStarted
	case StateStopped:
		e.mu.Unlock()
		return ErrStopped
	}

	if e.listener != nil {
		if err := e.listener.Start(ctx); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("schedule listener: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	e.ctx, e.cancel, e.group = gctx, cancel, g
	e.state = StateRunning

	// Keeps the group open for actors spawned while running.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	for _, p := range e.peers {
		e.spawnLocked(p)
	}
	if e.role == RoleParent {
		g.Go(func() error { return ignoreCanceled(e.parent.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(e.master.Run(gctx)) })
	}
	e.mu.Unlock()

	e.tr.SetHandler(e)
	e.logState("IDLE", "RUNNING", "")
	e.logger.Info("engine started")
	return nil
}

// Stop stops every goroutine, closes the scheduling links and discards
// queued frames. It is safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	prev := e.state
	if prev == StateStopped {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopped
	cancel, g := e.cancel, e.group
	e.mu.Unlock()

	var errs []error
	if prev == StateRunning {
		e.tr.SetHandler(nil)
		cancel()
		errs = append(errs, g.Wait())
	}
	if e.listener != nil && prev == StateRunning {
		errs = append(errs, e.listener.Stop())
	}
	if e.master != nil {
		errs = append(errs, e.master.Close())
	}
	for _, p := range e.snapshotPeers() {
		p.queue.Clear()
	}

	e.logState(prev.String(), "STOPPED", "")
	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// peerFor returns the actor for id, creating it when the transport has a
// channel to id.
func (e *Engine) peerFor(id wire.PeerID) (*peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.peers[id]; ok {
		return p, nil
	}
	ch, ok := e.tr.Channel(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownPeer, id)
	}
	p := newPeer(ch, e.inbox, e.stale, e.sendFrame)
	e.peers[id] = p
	if e.state == StateRunning {
		e.spawnLocked(p)
	}
	return p, nil
}

func (e *Engine) spawnLocked(p *peer) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ctx := e.ctx
	e.group.Go(func() error { return p.run(ctx, e.handleFrame) })
}

func (e *Engine) snapshotPeers() []*peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*peer, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *peer) int { return cmp.Compare(a.id, b.id) })
	return out
}

// OnData implements transport.Handler. Frames are queued to the sender's
// actor; a full inbox drops the frame.
func (e *Engine) OnData(from wire.PeerID, data []byte) {
	if e.State() != StateRunning {
		return
	}
	p, err := e.peerFor(from)
	if err != nil {
		e.logger.Debug("frame from unknown peer", "peer", from)
		return
	}
	if !p.offer(data) {
		e.logger.Debug("inbox full, frame dropped", "peer", from)
	}
}

// OnReady implements transport.Handler.
func (e *Engine) OnReady(to wire.PeerID) {
	e.mu.Lock()
	p, ok := e.peers[to]
	e.mu.Unlock()
	if ok {
		p.signalReady()
	}
}

// handleFrame runs on the peer's actor goroutine.
func (e *Engine) handleFrame(p *peer, data []byte) {
	e.logFrame(log.DirectionIn, p.id, data)

	msg := data
	if chunk.IsChunk(data) {
		full, done, err := p.reasm.Accept(data, e.clock.Now())
		if err != nil {
			e.logError(p.id, log.LayerChunk, err, "reassembly")
			return
		}
		if !done {
			return
		}
		msg = full
	}

	kind, err := wire.PeekKind(msg)
	if err != nil {
		e.logError(p.id, log.LayerSync, err, "classify")
		return
	}
	if !kind.IsBeacon() {
		e.logger.Debug("unexpected message on beacon transport", "peer", p.id, "kind", kind)
		return
	}
	env, err := wire.DecodeEnvelope(msg)
	if err != nil {
		e.logError(p.id, log.LayerSync, err, "decode")
		return
	}

	if e.role == RoleParent {
		err = e.parent.Handle(p.id, env)
	} else {
		err = e.child.Handle(p.id, env)
	}
	if err != nil {
		e.logger.Debug("beacon dropped", "peer", p.id, "kind", kind, "error", err)
	}
}

func (e *Engine) sendFrame(p *peer, frame []byte) bool {
	if !p.ch.Send(frame) {
		return false
	}
	e.logFrame(log.DirectionOut, p.id, frame)
	return true
}

// Send encodes msg, splits it to the peer's payload limit and queues it.
func (e *Engine) Send(to wire.PeerID, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	p, err := e.peerFor(to)
	if err != nil {
		return err
	}
	return e.enqueue(p, data)
}

// Broadcast sends msg to every peer the transport knows.
func (e *Engine) Broadcast(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	var errs []error
	for _, ch := range e.tr.Channels() {
		p, err := e.peerFor(ch.Peer())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.enqueue(p, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) enqueue(p *peer, data []byte) error {
	frames, err := chunk.Split(data, p.ch.MaxPayload())
	if err != nil {
		return fmt.Errorf("send to %s: %w", p.id, err)
	}
	p.queue.Enqueue(frames...)
	return nil
}

// CurrentOffset returns the predicted offset to parentID in seconds, or 0
// when none is known. A parent always reports 0.
func (e *Engine) CurrentOffset(parentID wire.PeerID) float64 {
	if e.child == nil {
		return 0
	}
	return e.child.Offset(parentID)
}

// Correct maps a local instant onto parentID's clock.
func (e *Engine) Correct(parentID wire.PeerID, local float64) float64 {
	if e.child == nil {
		return local
	}
	return e.child.Correct(parentID, local)
}

// Reset discards every piece of per-peer state: estimates, sequence
// history, inbound frames not yet handled, partial messages, queued frames
// and a child's pending start. It waits for frames being handled to finish
// first. The parent's beacon sequence keeps counting.
func (e *Engine) Reset() {
	peers := e.snapshotPeers()
	for _, p := range peers {
		p.handling.Lock()
	}
	if e.child != nil {
		e.child.Reset()
		e.client.Reset()
	}
	for _, p := range peers {
		p.discardInbox()
		p.reasm.Reset()
		p.queue.Clear()
	}
	for _, p := range peers {
		p.handling.Unlock()
	}
	e.logState("", "RESET", "")
	e.logger.Info("session reset")
}

// ScheduleSynchronizedStart asks every measured child to fire at now+delay
// and runs fn locally at the same instant. Parent only.
func (e *Engine) ScheduleSynchronizedStart(delay time.Duration, fn func()) (schedule.StartPlan, error) {
	if e.master == nil {
		return schedule.StartPlan{}, ErrWrongRole
	}
	return e.master.ScheduleSynchronizedStart(delay, fn)
}

// OnStart sets the callback a child runs when a scheduled start fires.
func (e *Engine) OnStart(fn func(schedule.ScheduledStart)) error {
	if e.client == nil {
		return ErrWrongRole
	}
	e.client.OnStart(fn)
	return nil
}

// AddChild connects the scheduling master to a child's schedule listener.
// Parent only; the engine must be running.
func (e *Engine) AddChild(id wire.PeerID, addr string) error {
	if e.master == nil {
		return ErrWrongRole
	}
	e.mu.Lock()
	ctx, state := e.ctx, e.state
	e.mu.Unlock()
	if state != StateRunning {
		return ErrNotStarted
	}
	return e.master.AddChild(ctx, id, addr)
}

// Peers returns the status of every peer actor, ordered by ID.
func (e *Engine) Peers() []PeerStatus {
	peers := e.snapshotPeers()
	out := make([]PeerStatus, len(peers))
	for i, p := range peers {
		out[i] = p.status()
	}
	return out
}

// Parent returns the beacon parent, or nil for a child.
func (e *Engine) Parent() *beacon.Parent { return e.parent }

// Child returns the beacon child, or nil for a parent.
func (e *Engine) Child() *beacon.Child { return e.child }

// Master returns the scheduling master, or nil for a child.
func (e *Engine) Master() *schedule.Master { return e.master }

// Client returns the scheduling client, or nil for a parent.
func (e *Engine) Client() *schedule.Client { return e.client }

// ScheduleAddr returns the child's schedule listener address, or nil.
func (e *Engine) ScheduleAddr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *Engine) logRole() log.Role {
	if e.role == RoleParent {
		return log.RoleParent
	}
	return log.RoleChild
}

func (e *Engine) emit(ev log.Event) {
	ev.Timestamp = time.Now()
	ev.LocalRole = e.logRole()
	ev.LocalID = e.id
	e.plog.Log(ev)
}

func (e *Engine) logFrame(dir log.Direction, peer wire.PeerID, data []byte) {
	fe := &log.FrameEvent{Size: len(data), Chunked: chunk.IsChunk(data)}
	if len(data) > maxLoggedFrame {
		fe.Data = slices.Clone(data[:maxLoggedFrame])
		fe.Truncated = true
	} else {
		fe.Data = slices.Clone(data)
	}
	layer := log.LayerTransport
	if fe.Chunked {
		layer = log.LayerChunk
	}
	e.emit(log.Event{
		Direction: dir,
		Layer:     layer,
		Category:  log.CategoryMessage,
		PeerID:    peer,
		Frame:     fe,
	})
}

func (e *Engine) logError(peer wire.PeerID, layer log.Layer, err error, stage string) {
	e.logger.Debug("frame dropped", "peer", peer, "stage", stage, "error", err)
	e.emit(log.Event{
		Direction: log.DirectionIn,
		Layer:     layer,
		Category:  log.CategoryError,
		PeerID:    peer,
		Error:     &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: stage},
	})
}

func (e *Engine) logState(old, state, reason string) {
	e.emit(log.Event{
		Direction:   log.DirectionLocal,
		Layer:       log.LayerSync,
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: old, NewState: state, Reason: reason},
	})
}

// Compile-time interface satisfaction checks.
var (
	_ transport.Handler = (*Engine)(nil)
	_ beacon.Outbox     = (*Engine)(nil)
)
