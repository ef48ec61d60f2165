// Package node assembles a session engine, its transport, protocol logging
// and discovery from a configuration file. The cuesync commands share it.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/config"
	"github.com/cuesync/cuesync-go/pkg/discovery"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/session"
	"github.com/cuesync/cuesync-go/pkg/transport"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Options supply what a configuration file cannot.
type Options struct {
	// Clock defaults to the system clock.
	Clock clock.Clock

	// Hub is joined when the transport kind is "mem". A private hub is
	// created from the configured link when nil.
	Hub *transport.MemHub

	// Logger defaults to discarding.
	Logger *slog.Logger

	// ProtocolLoggers are added next to the configured protocol file.
	// Protocol events are also mirrored into Logger when it has debug
	// enabled.
	ProtocolLoggers []log.Logger
}

// Node is a configured, runnable cuesync node.
type Node struct {
	cfg    *config.Config
	logger *slog.Logger

	engine *session.Engine
	tr     transport.Transport
	udp    *transport.UDPTransport

	file *log.FileLogger

	adv    *discovery.Advertiser
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// NewLogger returns a text logger writing to w at the configured level.
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// LinkConfig converts the configured link impairments for a MemHub.
func LinkConfig(cfg *config.Config) transport.LinkConfig {
	l := cfg.Transport.Link
	return transport.LinkConfig{
		MaxPayload: cfg.Transport.MaxPayload,
		Loss:       l.Loss,
		Dup:        l.Dup,
		Reorder:    l.Reorder,
		Delay:      l.Delay.Std(),
		Jitter:     l.Jitter.Std(),
	}
}

// New builds the node. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		l, err := NewLogger(cfg, io.Discard)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	role, err := session.ParseRole(cfg.Role)
	if err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			n.release()
		}
	}()

	plog, err := n.protocolLogger(opts.ProtocolLoggers)
	if err != nil {
		return nil, err
	}
	if err := n.openTransport(opts.Hub); err != nil {
		return nil, err
	}

	scfg := session.DefaultConfig()
	scfg.ID = wire.PeerID(cfg.ID)
	scfg.Role = role
	scfg.Transport = n.tr
	scfg.Clock = clk
	scfg.BeaconInterval = cfg.Beacon.Interval.Std()
	scfg.ReassemblyTimeout = cfg.Transport.ReassemblyTimeout.Std()
	scfg.Logger = logger
	scfg.ProtocolLogger = plog
	if role == session.RoleChild {
		scfg.ScheduleListen = cfg.Schedule.Listen
	}

	n.engine, err = session.New(scfg)
	if err != nil {
		return nil, err
	}
	ok = true
	return n, nil
}

func (n *Node) protocolLogger(extra []log.Logger) (log.Logger, error) {
	loggers := append([]log.Logger(nil), extra...)
	if n.logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(n.logger))
	}
	if path := n.cfg.Log.ProtocolFile; path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		n.file = fl
		loggers = append(loggers, fl)
	}
	return log.Tee(loggers...), nil
}

func (n *Node) openTransport(hub *transport.MemHub) error {
	id := wire.PeerID(n.cfg.ID)
	switch n.cfg.Transport.Kind {
	case config.TransportMem:
		if hub == nil {
			hub = transport.NewMemHub(LinkConfig(n.cfg))
		}
		mt, err := hub.Join(id)
		if err != nil {
			return err
		}
		n.tr = mt

	default:
		ut, err := transport.ListenUDP(transport.UDPConfig{
			Listen:     n.cfg.Transport.Listen,
			MaxPayload: n.cfg.Transport.MaxPayload,
			Logger:     n.logger,
		})
		if err != nil {
			return err
		}
		n.tr, n.udp = ut, ut
		for _, p := range n.cfg.Peers {
			if err := ut.AddPeer(wire.PeerID(p.ID), p.Addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// Engine returns the session engine.
func (n *Node) Engine() *session.Engine { return n.engine }

// Config returns the node configuration.
func (n *Node) Config() *config.Config { return n.cfg }

// BeaconAddr returns the UDP socket address, or nil for an in-memory node.
func (n *Node) BeaconAddr() *net.UDPAddr {
	if n.udp == nil {
		return nil
	}
	return n.udp.LocalAddr()
}

// Start runs the engine, connects the configured children and, when
// enabled, advertises the node and browses for its counterparts.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.group, ctx = errgroup.WithContext(ctx)

	if err := n.engine.Start(ctx); err != nil {
		return err
	}
	if n.engine.Role() == session.RoleParent {
		for _, c := range n.cfg.Schedule.Children {
			if err := n.engine.AddChild(wire.PeerID(c.ID), c.Addr); err != nil {
				return fmt.Errorf("add child %s: %w", c.ID, err)
			}
		}
	}

	if !n.cfg.Discovery.Enabled {
		return nil
	}
	if n.udp == nil {
		n.logger.Warn("discovery needs the udp transport, skipping")
		return nil
	}
	return n.startDiscovery(ctx)
}

func (n *Node) startDiscovery(ctx context.Context) error {
	info := &discovery.Info{
		ID:      wire.PeerID(n.cfg.ID),
		Role:    discovery.Role(n.cfg.Role),
		Session: n.cfg.Session,
		Port:    uint16(n.udp.LocalAddr().Port),
	}
	if addr, ok := n.engine.ScheduleAddr().(*net.TCPAddr); ok {
		info.SchedulePort = uint16(addr.Port)
	}

	n.adv = discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Interface: n.cfg.Discovery.Interface,
		TTL:       discovery.DefaultTTL,
		Logger:    n.logger,
	})
	if err := n.adv.Advertise(ctx, info); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}

	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Interface: n.cfg.Discovery.Interface,
		Logger:    n.logger,
	})
	found, err := browser.Browse(ctx, n.cfg.Session)
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}

	want := discovery.RoleChild
	if n.engine.Role() == session.RoleChild {
		want = discovery.RoleParent
	}
	n.group.Go(func() error {
		for svc := range found {
			if svc.Role != want || svc.ID == info.ID {
				continue
			}
			n.adopt(svc)
		}
		return nil
	})
	return nil
}

// adopt registers a discovered counterpart. Services already registered
// are ignored.
func (n *Node) adopt(svc *discovery.Service) {
	if len(svc.Addresses) == 0 {
		return
	}
	host := svc.Addresses[0]
	beaconAddr := net.JoinHostPort(host, strconv.Itoa(int(svc.Port)))
	if err := n.udp.AddPeer(svc.ID, beaconAddr); err != nil {
		if !errors.Is(err, transport.ErrDuplicatePeer) {
			n.logger.Warn("cannot add discovered peer", "peer", svc.ID, "error", err)
		}
		return
	}
	n.logger.Info("discovered peer", "peer", svc.ID, "role", svc.Role, "addr", beaconAddr)

	if n.engine.Role() != session.RoleParent || svc.SchedulePort == 0 {
		return
	}
	schedAddr := net.JoinHostPort(host, strconv.Itoa(int(svc.SchedulePort)))
	if err := n.engine.AddChild(svc.ID, schedAddr); err != nil {
		n.logger.Warn("cannot schedule discovered child", "peer", svc.ID, "error", err)
	}
}

// Close stops discovery and the engine, then releases the transport and
// the protocol log.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		var errs []error
		if n.adv != nil {
			n.adv.Stop()
		}
		if n.cancel != nil {
			n.cancel()
		}
		if n.group != nil {
			errs = append(errs, n.group.Wait())
		}
		errs = append(errs, n.engine.Stop(), n.release())
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}

func (n *Node) release() error {
	var errs []error
	if n.tr != nil {
		errs = append(errs, n.tr.Close())
	}
	if n.file != nil {
		errs = append(errs, n.file.Close())
	}
	return errors.Join(errs...)
}
