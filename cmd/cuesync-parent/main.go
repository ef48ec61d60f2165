// Command cuesync-parent runs the authoritative clock of a cuesync session.
//
// The parent emits timestamp beacons so children can track its clock and
// acts as scheduling master: it measures each child's offset over a direct
// connection and broadcasts synchronized starts.
//
// Usage:
//
//	cuesync-parent [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-id string            Node ID (default "parent")
//	-session string       Session name advertised over mDNS (default "default")
//	-listen string        Beacon UDP listen address (default ":7400")
//	-peer id=addr         Child beacon address (repeatable)
//	-child id=addr        Child schedule listener address (repeatable)
//	-interval duration    Beacon interval (default 50ms)
//	-discover             Find children over mDNS
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write protocol events to this file
//	-interactive          Run the interactive console (default true)
//	-simulate int         Run this many in-process children
//
// Examples:
//
//	# Parent with one child on the LAN
//	cuesync-parent -peer kid=192.168.1.20:7400 -child kid=192.168.1.20:7401
//
//	# Let mDNS find the children
//	cuesync-parent -discover -session stage-left
//
//	# Three simulated children, 20ms apart, over a lossy link
//	cuesync-parent -simulate 3 -sim-skew 20ms -sim-loss 0.05 -sim-delay 3ms
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuesync/cuesync-go/internal/node"
	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/config"
	"github.com/cuesync/cuesync-go/pkg/transport"
)

// Flags holds the command line.
type Flags struct {
	ConfigFile  string
	ID          string
	Session     string
	Listen      string
	Peers       node.PeerList
	Children    node.PeerList
	Interval    time.Duration
	Discover    bool
	LogLevel    string
	ProtocolLog string
	Interactive bool

	Simulate  int
	SimSkew   time.Duration
	SimLoss   float64
	SimDelay  time.Duration
	SimJitter time.Duration
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.ID, "id", "parent", "Node ID")
	flag.StringVar(&flags.Session, "session", "default", "Session name advertised over mDNS")
	flag.StringVar(&flags.Listen, "listen", ":7400", "Beacon UDP listen address")
	flag.Var(&flags.Peers, "peer", "Child beacon address as id=addr (repeatable)")
	flag.Var(&flags.Children, "child", "Child schedule listener as id=addr (repeatable)")
	flag.DurationVar(&flags.Interval, "interval", 50*time.Millisecond, "Beacon interval")
	flag.BoolVar(&flags.Discover, "discover", false, "Find children over mDNS")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.BoolVar(&flags.Interactive, "interactive", true, "Run the interactive console")

	flag.IntVar(&flags.Simulate, "simulate", 0, "Run this many in-process children")
	flag.DurationVar(&flags.SimSkew, "sim-skew", 25*time.Millisecond, "Clock skew added per simulated child")
	flag.Float64Var(&flags.SimLoss, "sim-loss", 0, "Simulated beacon loss probability")
	flag.DurationVar(&flags.SimDelay, "sim-delay", 2*time.Millisecond, "Simulated one-way beacon latency")
	flag.DurationVar(&flags.SimJitter, "sim-jitter", time.Millisecond, "Simulated latency jitter")
}

func main() {
	flag.Parse()

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var console *Console
	out := io.Writer(os.Stderr)
	if flags.Interactive {
		console, err = NewConsole()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start console: %v\n", err)
			os.Exit(1)
		}
		out = console.Stdout()
	}

	logger, err := node.NewLogger(cfg, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	fmt.Fprintln(out, "cuesync parent")
	fmt.Fprintln(out, "==============")
	fmt.Fprintf(out, "ID: %s  Session: %s  Interval: %s\n", cfg.ID, cfg.Session, cfg.Beacon.Interval.Std())

	clk := clock.NewSystem()
	opts := node.Options{Clock: clk, Logger: logger}

	var sim *Simulation
	if flags.Simulate > 0 {
		cfg.Transport.Kind = config.TransportMem
		cfg.Transport.Link = config.LinkConfig{
			Loss:   flags.SimLoss,
			Delay:  config.Duration(flags.SimDelay),
			Jitter: config.Duration(flags.SimJitter),
		}
		opts.Hub = transport.NewMemHub(node.LinkConfig(cfg))
		sim, err = StartSimulation(ctx, SimulationConfig{
			Parent: cfg,
			Hub:    opts.Hub,
			Count:  flags.Simulate,
			Skew:   flags.SimSkew,
			Clock:  clk,
			Logger: logger,
			Out:    out,
		})
		if err != nil {
			logger.Error("simulation failed", "error", err)
			os.Exit(1)
		}
		cfg.Schedule.Children = append(cfg.Schedule.Children, sim.Children()...)
		fmt.Fprintf(out, "Simulating %d children (skew step %s, loss %.2f)\n", flags.Simulate, flags.SimSkew, flags.SimLoss)
	}

	n, err := node.New(cfg, opts)
	if err != nil {
		logger.Error("failed to create node", "error", err)
		os.Exit(1)
	}
	if err := n.Start(ctx); err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}
	if addr := n.BeaconAddr(); addr != nil {
		logger.Info("beacons on", "addr", addr)
	}

	if console != nil {
		console.Attach(n, sim)
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	fmt.Fprintln(out, "Shutting down...")
	if err := n.Close(); err != nil {
		logger.Warn("error stopping node", "error", err)
	}
	if sim != nil {
		if err := sim.Close(); err != nil {
			logger.Warn("error stopping simulation", "error", err)
		}
	}
	fmt.Fprintln(out, "Goodbye!")
}

// buildConfig loads the configuration file and applies the flags that were
// set explicitly on top of it.
func buildConfig() (*config.Config, error) {
	cfg, err := node.LoadConfig(flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Role = config.RoleParent
	if flags.ConfigFile == "" {
		cfg.ID = flags.ID
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.ID = flags.ID
		case "session":
			cfg.Session = flags.Session
		case "listen":
			cfg.Transport.Listen = flags.Listen
		case "peer":
			cfg.Peers = append(cfg.Peers, flags.Peers...)
		case "child":
			cfg.Schedule.Children = append(cfg.Schedule.Children, flags.Children...)
		case "interval":
			cfg.Beacon.Interval = config.Duration(flags.Interval)
		case "discover":
			cfg.Discovery.Enabled = flags.Discover
		case "log-level":
			cfg.Log.Level = flags.LogLevel
		case "protocol-log":
			cfg.Log.ProtocolFile = flags.ProtocolLog
		}
	})
	return cfg, cfg.Validate()
}
