package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Clock clock.Clock

	// OnStart runs when a scheduled start fires.
	OnStart func(ScheduledStart)

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

type pendingStart struct {
	ScheduledStart
	timer clock.Timer
}

// Client answers the master's probes and fires Start locally.
type Client struct {
	clock  clock.Clock
	logger *slog.Logger
	plog   protocolLog

	mu         sync.Mutex
	offset     int64
	known      bool
	offsetLink string
	pending    *pendingStart
	onStart    func(ScheduledStart)

	fired atomic.Uint64
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		clock:   cfg.Clock,
		logger:  logger,
		plog:    protocolLog{logger: log.OrNoop(cfg.ProtocolLogger), role: log.RoleChild},
		onStart: cfg.OnStart,
	}
}

// OnStart replaces the fire callback.
func (c *Client) OnStart(fn func(ScheduledStart)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStart = fn
}

// HandleFrame decodes one frame from the master's link and dispatches it.
func (c *Client) HandleFrame(link Link, data []byte) error {
	recv := c.clock.Ticks()
	msg, err := wire.Decode(data)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *wire.Sync:
		return c.reply(link, m, recv)
	case *wire.Offset:
		c.HandleOffset(link, m)
		return nil
	case *wire.Start:
		c.plog.message(log.DirectionIn, "", link.ID(), m, "")
		c.HandleStart(m)
		return nil
	default:
		c.plog.message(log.DirectionIn, "", link.ID(), msg, "role")
		return nil
	}
}

// reply answers a probe with t2 = recv and t3 = reply ticks.
func (c *Client) reply(link Link, msg *wire.Sync, recv int64) error {
	c.plog.message(log.DirectionIn, "", link.ID(), msg, "")
	fu := &wire.SyncFollowUp{Kind: wire.KindSyncFollowUp, T1: msg.T1, T2: recv}
	fu.T3 = max(c.clock.Ticks(), recv)
	c.plog.message(log.DirectionOut, "", link.ID(), fu, "")
	if err := link.SendMessage(fu); err != nil {
		return fmt.Errorf("sync follow-up: %w", err)
	}
	return nil
}

// HandleOffset stores the master-computed offset for link's lifetime.
func (c *Client) HandleOffset(link Link, msg *wire.Offset) {
	c.plog.message(log.DirectionIn, "", link.ID(), msg, "")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset, c.known, c.offsetLink = msg.Offset, true, link.ID()
}

// HandleStart schedules the local fire for msg, cancelling any pending one.
// Without a known offset the target is used as-is.
func (c *Client) HandleStart(msg *wire.Start) ScheduledStart {
	now := c.clock.Ticks()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known {
		c.logger.Warn("start without offset", "target", msg.Target)
	}
	fire := FireTicks(msg.Target, c.offset)
	st := ScheduledStart{
		Target:    msg.Target,
		Offset:    c.offset,
		FireTicks: fire,
		Delay:     FireDelay(fire, now, c.clock.Timebase()),
	}

	if c.pending != nil {
		c.pending.timer.Stop()
		c.plog.start("SCHEDULED", "SUPERSEDED", fmt.Sprintf("target %d", c.pending.Target))
	}
	p := &pendingStart{ScheduledStart: st}
	p.timer = c.clock.AfterFunc(st.Delay, func() { c.fire(p) })
	c.pending = p
	c.plog.start("", "SCHEDULED", fmt.Sprintf("fire %d in %s", fire, st.Delay))
	return st
}

func (c *Client) fire(p *pendingStart) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	fn := c.onStart
	c.mu.Unlock()

	c.fired.Add(1)
	c.plog.start("SCHEDULED", "FIRED", "")
	if fn != nil {
		fn(p.ScheduledStart)
	}
}

// Pending returns the scheduled start that has not fired yet.
func (c *Client) Pending() (ScheduledStart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ScheduledStart{}, false
	}
	return c.pending.ScheduledStart, true
}

// Offset returns the current offset from the master.
func (c *Client) Offset() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.known
}

// Fired returns the number of starts that fired.
func (c *Client) Fired() uint64 { return c.fired.Load() }

// LinkClosed drops the offset measured on link.
func (c *Client) LinkClosed(link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known && c.offsetLink == link.ID() {
		c.offset, c.known, c.offsetLink = 0, false, ""
	}
}

// Reset cancels any pending start and forgets the offset.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.timer.Stop()
		c.pending = nil
	}
	c.offset, c.known, c.offsetLink = 0, false, ""
}
