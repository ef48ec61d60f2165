package schedule

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/connection"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/transport"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// DefaultProbeInterval is how often Run re-measures every child.
const DefaultProbeInterval = time.Second

// MasterConfig configures a Master.
type MasterConfig struct {
	Clock clock.Clock

	// ProbeInterval is the Run period (0 = DefaultProbeInterval).
	ProbeInterval time.Duration

	// Conn is the template for child connections. OnMessage, OnClose and
	// Peer are set per child.
	Conn transport.ConnConfig

	// Redial configures reconnection of lost children.
	Redial connection.Config

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultMasterConfig returns the default master configuration.
func DefaultMasterConfig() MasterConfig {
	return MasterConfig{
		ProbeInterval: DefaultProbeInterval,
		Conn:          transport.DefaultConnConfig(),
		Redial:        connection.DefaultConfig(),
	}
}

// ChildStatus describes one child as the master sees it.
type ChildStatus struct {
	ID        wire.PeerID
	Addr      string
	Connected bool
	ConnID    string

	// Offset is valid when Known.
	Offset int64
	Known  bool
}

// StartPlan is the result of ScheduleSynchronizedStart.
type StartPlan struct {
	// Target is the deadline in master ticks.
	Target int64

	// Children received the Start, ordered by ID.
	Children []wire.PeerID
}

type child struct {
	id     wire.PeerID
	addr   string
	link   Link
	offset int64
	known  bool

	mgr    *connection.Manager
	cancel context.CancelFunc
}

// Master measures child offsets and broadcasts Start.
type Master struct {
	cfg    MasterConfig
	clock  clock.Clock
	logger *slog.Logger
	plog   protocolLog

	mu       sync.Mutex
	children map[wire.PeerID]*child
	local    clock.Timer
	closed   bool

	wg sync.WaitGroup
}

// NewMaster creates a Master.
func NewMaster(cfg MasterConfig) *Master {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Redial.Logger == nil {
		cfg.Redial.Logger = logger
	}
	return &Master{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logger,
		plog:     protocolLog{logger: log.OrNoop(cfg.ProtocolLogger), role: log.RoleParent},
		children: make(map[wire.PeerID]*child),
	}
}

// AddChild dials the child at addr in the background and keeps redialing
// with backoff whenever the link fails. The child takes part in Start only
// while connected with a measured offset.
func (m *Master) AddChild(ctx context.Context, id wire.PeerID, addr string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.children[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("child %s already added", id)
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := &child{id: id, addr: addr, cancel: cancel}
	ch.mgr = connection.NewManager(string(id), func(dctx context.Context) error {
		return m.dial(dctx, ch)
	}, m.cfg.Redial)
	m.children[id] = ch
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = ch.mgr.Run(ctx)
	}()
	return nil
}

func (m *Master) dial(ctx context.Context, ch *child) error {
	cfg := m.cfg.Conn
	cfg.Peer = ch.id
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = m.cfg.ProtocolLogger
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.OnMessage = func(c *transport.Conn, data []byte) {
		m.HandleFrame(ch.id, c, data)
	}
	cfg.OnClose = func(c *transport.Conn, err error) {
		m.Detach(ch.id, c)
		ch.mgr.NotifyConnectionLost()
	}

	conn, err := transport.Dial(ctx, ch.addr, cfg)
	if err != nil {
		return err
	}
	if err := m.Attach(ch.id, conn); err != nil {
		conn.Close()
		return err
	}
	// The link may have died before Attach saw it.
	select {
	case <-conn.Done():
		m.Detach(ch.id, conn)
	default:
	}
	return nil
}

// Attach makes link the child's current connection and probes it at once.
// Any offset measured on an earlier link is discarded.
func (m *Master) Attach(id wire.PeerID, link Link) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	ch, ok := m.children[id]
	if !ok {
		ch = &child{id: id}
		m.children[id] = ch
	}
	ch.link = link
	ch.offset, ch.known = 0, false
	m.mu.Unlock()

	m.logger.Info("child connected", "child", id, "conn", link.ID())
	return m.probe(id, link)
}

// Detach forgets link if it is still the child's current connection.
func (m *Master) Detach(id wire.PeerID, link Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.children[id]
	if !ok || ch.link == nil || ch.link.ID() != link.ID() {
		return
	}
	ch.link = nil
	ch.offset, ch.known = 0, false
	m.logger.Info("child disconnected", "child", id, "conn", link.ID())
}

// RemoveChild stops redialing the child and closes its link.
func (m *Master) RemoveChild(id wire.PeerID) error {
	m.mu.Lock()
	ch, ok := m.children[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChild, id)
	}
	delete(m.children, id)
	m.mu.Unlock()

	m.shutdown(ch)
	return nil
}

func (m *Master) shutdown(ch *child) {
	if ch.cancel != nil {
		ch.cancel()
	}
	if ch.mgr != nil {
		ch.mgr.Close()
	}
	m.mu.Lock()
	link := ch.link
	m.mu.Unlock()
	if c, ok := link.(io.Closer); ok {
		_ = c.Close()
	}
}

// Probe sends Sync to every connected child.
func (m *Master) Probe() {
	for _, ch := range m.connected(false) {
		if err := m.probe(ch.id, ch.link); err != nil {
			m.logger.Debug("probe failed", "child", ch.id, "error", err)
		}
	}
}

func (m *Master) probe(id wire.PeerID, link Link) error {
	msg := &wire.Sync{Kind: wire.KindSync, T1: m.clock.Ticks()}
	m.plog.message(log.DirectionOut, id, link.ID(), msg, "")
	return link.SendMessage(msg)
}

// Run probes every child each ProbeInterval until ctx is done.
func (m *Master) Run(ctx context.Context) error {
	tick := make(chan struct{}, 1)
	arm := func() clock.Timer {
		return m.clock.AfterFunc(m.cfg.ProbeInterval, func() {
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
			m.Probe()
			timer = arm()
		}
	}
}

// HandleFrame decodes one frame from a child link.
func (m *Master) HandleFrame(id wire.PeerID, link Link, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		m.logger.Debug("undecodable frame", "child", id, "error", err)
		return
	}
	fu, ok := msg.(*wire.SyncFollowUp)
	if !ok {
		m.plog.message(log.DirectionIn, id, link.ID(), msg, "role")
		return
	}
	if _, err := m.HandleFollowUp(id, link, fu); err != nil {
		m.logger.Debug("follow-up dropped", "child", id, "error", err)
	}
}

// HandleFollowUp stamps t4, stores the child's offset against link and
// sends it back as Offset. Replies from a link that is no longer current
// are dropped.
func (m *Master) HandleFollowUp(id wire.PeerID, link Link, msg *wire.SyncFollowUp) (int64, error) {
	t4 := m.clock.Ticks()
	if err := msg.Validate(); err != nil {
		m.plog.message(log.DirectionIn, id, link.ID(), msg, "malformed")
		return 0, err
	}

	m.mu.Lock()
	ch, ok := m.children[id]
	if !ok || ch.link == nil || ch.link.ID() != link.ID() {
		m.mu.Unlock()
		m.plog.message(log.DirectionIn, id, link.ID(), msg, "stale link")
		return 0, fmt.Errorf("%w: %s", ErrNoLink, id)
	}
	offset := ComputeOffset(msg.T1, msg.T2, msg.T3, t4)
	ch.offset, ch.known = offset, true
	m.mu.Unlock()

	m.plog.message(log.DirectionIn, id, link.ID(), msg, "")
	reply := &wire.Offset{Kind: wire.KindOffset, Offset: offset}
	m.plog.message(log.DirectionOut, id, link.ID(), reply, "")
	if err := link.SendMessage(reply); err != nil {
		return offset, fmt.Errorf("offset to %s: %w", id, err)
	}
	return offset, nil
}

// Offsets returns the known offsets by child.
func (m *Master) Offsets() map[wire.PeerID]int64 {
	out := make(map[wire.PeerID]int64)
	for _, ch := range m.connected(true) {
		out[ch.id] = ch.offset
	}
	return out
}

// Children returns the status of every added or attached child, ordered
// by ID.
func (m *Master) Children() []ChildStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChildStatus, 0, len(m.children))
	for _, ch := range m.children {
		st := ChildStatus{ID: ch.id, Addr: ch.addr, Offset: ch.offset, Known: ch.known}
		if ch.link != nil {
			st.Connected = true
			st.ConnID = ch.link.ID()
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b ChildStatus) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ScheduleSynchronizedStart sends Start{now + delay} to every connected
// child with a known offset and runs fn locally after delay. A pending
// local callback from an earlier call is cancelled. Children whose send
// fails are left out of the plan.
func (m *Master) ScheduleSynchronizedStart(delay time.Duration, fn func()) (StartPlan, error) {
	delay = max(delay, 0)
	target := m.clock.Ticks() + m.clock.Timebase().FromDuration(delay)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return StartPlan{}, ErrClosed
	}
	if m.local != nil {
		if m.local.Stop() {
			m.plog.start("SCHEDULED", "SUPERSEDED", "new start")
		}
	}
	if fn != nil {
		m.local = m.clock.AfterFunc(delay, func() {
			m.plog.start("SCHEDULED", "FIRED", "")
			fn()
		})
	} else {
		m.local = nil
	}
	m.mu.Unlock()
	m.plog.start("", "SCHEDULED", fmt.Sprintf("target %d", target))

	plan := StartPlan{Target: target}
	msg := &wire.Start{Kind: wire.KindStart, Target: target}
	for _, ch := range m.connected(true) {
		m.plog.message(log.DirectionOut, ch.id, ch.link.ID(), msg, "")
		if err := ch.link.SendMessage(msg); err != nil {
			m.logger.Warn("start not delivered", "child", ch.id, "error", err)
			continue
		}
		plan.Children = append(plan.Children, ch.id)
	}
	return plan, nil
}

// connected snapshots children with a link, optionally only those with a
// known offset, ordered by ID.
func (m *Master) connected(knownOnly bool) []child {
	m.mu.Lock()
	out := make([]child, 0, len(m.children))
	for _, ch := range m.children {
		if ch.link == nil || (knownOnly && !ch.known) {
			continue
		}
		out = append(out, child{id: ch.id, link: ch.link, offset: ch.offset, known: ch.known})
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b child) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Close stops redialing, closes every link and cancels the local callback.
func (m *Master) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	children := make([]*child, 0, len(m.children))
	for _, ch := range m.children {
		children = append(children, ch)
	}
	if m.local != nil {
		m.local.Stop()
	}
	m.mu.Unlock()

	for _, ch := range children {
		m.shutdown(ch)
	}
	m.wg.Wait()
	return nil
}
