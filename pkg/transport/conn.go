package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	// StateConnected indicates an active connection.
	StateConnected ConnState = iota
	// StateClosing indicates graceful close in progress.
	StateClosing
	// StateClosed indicates the connection is gone.
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnConfig configures a stream connection.
type ConnConfig struct {
	// MaxMessageSize bounds frames (default DefaultMaxMessageSize).
	MaxMessageSize uint32

	// KeepAlive configures liveness probing.
	KeepAlive KeepAliveConfig

	// DisableKeepAlive turns liveness probing off (tests).
	DisableKeepAlive bool

	// WriteTimeout bounds each frame write (0 = none).
	WriteTimeout time.Duration

	// CloseTimeout bounds the wait for the peer's close acknowledgement.
	CloseTimeout time.Duration

	// Peer labels the remote end in protocol logs, if known.
	Peer wire.PeerID

	// ProtocolLogger receives frame and control events (optional).
	ProtocolLogger log.Logger

	// Logger is the operational logger (nil = discard).
	Logger *slog.Logger

	// OnMessage is called from the read loop with each non-control frame.
	OnMessage func(c *Conn, data []byte)

	// OnClose is called once when the connection ends. err is nil for a
	// clean close.
	OnClose func(c *Conn, err error)
}

// DefaultConnConfig returns the default connection configuration.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxMessageSize: DefaultMaxMessageSize,
		KeepAlive:      DefaultKeepAliveConfig(),
		WriteTimeout:   2 * time.Second,
		CloseTimeout:   time.Second,
	}
}

// Conn is a framed TCP connection with control-message handling.
type Conn struct {
	id     string
	cfg    ConnConfig
	nc     net.Conn
	framer *Framer
	logger *slog.Logger

	keepAlive *KeepAlive
	state     atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	ackCh     chan struct{}
	done      chan struct{}
	err       error
}

// Dial connects to address and starts the connection's read loop.
func Dial(ctx context.Context, address string, cfg ConnConfig) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	c := newConn(nc, cfg)
	c.start(context.WithoutCancel(ctx))
	return c, nil
}

func newConn(nc net.Conn, cfg ConnConfig) *Conn {
	def := DefaultConnConfig()
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Conn{
		id:     uuid.New().String(),
		cfg:    cfg,
		nc:     nc,
		framer: NewFramer(nc, cfg.MaxMessageSize),
		logger: logger,
		ackCh:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	if cfg.ProtocolLogger != nil {
		c.framer.SetLogger(cfg.ProtocolLogger, c.id, cfg.Peer)
	}
	return c
}

func (c *Conn) start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logState("", StateConnected, "")

	if !c.cfg.DisableKeepAlive {
		c.keepAlive = NewKeepAlive(c.cfg.KeepAlive,
			func(seq uint32) error {
				return c.sendControl(wire.KindPing, seq)
			},
			func() {
				c.logger.Warn("keep-alive timeout", "conn", c.id, "remote", c.RemoteAddr())
				c.finish(ErrKeepAliveTimeout)
			},
		)
		c.keepAlive.Start(c.ctx)
	}

	go c.readLoop()
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// State returns the current state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, once Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// KeepAliveStats returns liveness statistics, or false with keep-alive off.
func (c *Conn) KeepAliveStats() (KeepAliveStats, bool) {
	if c.keepAlive == nil {
		return KeepAliveStats{}, false
	}
	return c.keepAlive.Stats(), true
}

// Send writes one frame.
func (c *Conn) Send(data []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.framer.WriteFrame(data)
}

// SendMessage encodes and writes a protocol message.
func (c *Conn) SendMessage(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (c *Conn) sendControl(kind wire.Kind, seq uint32) error {
	c.logControl(kind, seq, log.DirectionOut)
	return c.SendMessage(&wire.ControlMessage{Kind: kind, Sequence: seq})
}

// Close sends a close request and waits up to CloseTimeout for the peer's
// acknowledgement before tearing the connection down.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		<-c.done
		return nil
	}
	c.logState(StateConnected.String(), StateClosing, "local close")

	if err := c.sendControl(wire.KindClose, 0); err == nil {
		select {
		case <-c.ackCh:
		case <-c.done:
		case <-time.After(c.cfg.CloseTimeout):
		}
	}
	c.finish(nil)
	return nil
}

// finish tears down the connection exactly once.
func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		old := c.State()
		c.state.Store(int32(StateClosed))
		c.err = err
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.nc.Close()

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		c.logState(old.String(), StateClosed, reason)
		close(c.done)

		if c.cfg.OnClose != nil {
			c.cfg.OnClose(c, err)
		}
	})
}

func (c *Conn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if c.State() != StateConnected || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.finish(nil)
				return
			}
			c.logger.Debug("read failed", "conn", c.id, "error", err)
			c.finish(fmt.Errorf("read: %w", err))
			return
		}

		if kind, err := wire.PeekKind(data); err == nil && kind.IsControl() {
			if msg, err := wire.DecodeControlMessage(data); err == nil {
				c.handleControl(msg)
				continue
			}
		}

		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(c, data)
		}
	}
}

func (c *Conn) handleControl(msg *wire.ControlMessage) {
	c.logControl(msg.Kind, msg.Sequence, log.DirectionIn)

	switch msg.Kind {
	case wire.KindPing:
		_ = c.sendControl(wire.KindPong, msg.Sequence)

	case wire.KindPong:
		if c.keepAlive != nil {
			c.keepAlive.PongReceived(msg.Sequence)
		}

	case wire.KindClose:
		if c.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
			// Peer initiated: acknowledge, then drop the link.
			_ = c.sendControl(wire.KindClose, 0)
			c.finish(nil)
			return
		}
		// Acknowledgement of our own close.
		select {
		case <-c.ackCh:
		default:
			close(c.ackCh)
		}
	}
}

func (c *Conn) logControl(kind wire.Kind, seq uint32, dir log.Direction) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	var t log.ControlMsgType
	switch kind {
	case wire.KindPing:
		t = log.ControlMsgPing
	case wire.KindPong:
		t = log.ControlMsgPong
	case wire.KindClose:
		t = log.ControlMsgClose
	default:
		return
	}
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		PeerID:       c.cfg.Peer,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   c.nc.RemoteAddr().String(),
		ControlMsg:   &log.ControlMsgEvent{Type: t, Sequence: seq},
	})
}

func (c *Conn) logState(old string, to ConnState, reason string) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		PeerID:       c.cfg.Peer,
		Direction:    log.DirectionLocal,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.nc.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old,
			NewState: to.String(),
			Reason:   reason,
		},
	})
}
