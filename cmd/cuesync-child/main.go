// Command cuesync-child follows a cuesync parent's clock.
//
// The child tracks the parent's beacons to keep a corrected view of the
// parent's time and accepts the parent's scheduling connection so a
// synchronized start fires here at the same instant as everywhere else.
//
// Usage:
//
//	cuesync-child [flags]
//
// Flags:
//
//	-config string           Configuration file path
//	-id string               Node ID (default: host name)
//	-session string          Session name (default "default")
//	-listen string           Beacon UDP listen address (default ":7400")
//	-parent id=addr          Parent beacon address
//	-schedule-listen string  Schedule listener address (default ":7401")
//	-discover                Find the parent over mDNS
//	-status duration         Status line period (default 1s, 0 = off)
//	-log-level string        Log level: debug, info, warn, error (default "info")
//	-protocol-log string     Write protocol events to this file
//
// Examples:
//
//	# Child with a known parent
//	cuesync-child -id kid -parent parent=192.168.1.10:7400
//
//	# Find the parent over mDNS and record the protocol
//	cuesync-child -discover -session stage-left -protocol-log kid.clog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuesync/cuesync-go/internal/node"
	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/config"
)

// Flags holds the command line.
type Flags struct {
	ConfigFile     string
	ID             string
	Session        string
	Listen         string
	Parent         node.PeerList
	ScheduleListen string
	Discover       bool
	Status         time.Duration
	LogLevel       string
	ProtocolLog    string
}

var flags Flags

func init() {
	host, _ := os.Hostname()
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.ID, "id", host, "Node ID")
	flag.StringVar(&flags.Session, "session", "default", "Session name")
	flag.StringVar(&flags.Listen, "listen", ":7400", "Beacon UDP listen address")
	flag.Var(&flags.Parent, "parent", "Parent beacon address as id=addr")
	flag.StringVar(&flags.ScheduleListen, "schedule-listen", ":7401", "Schedule listener address")
	flag.BoolVar(&flags.Discover, "discover", false, "Find the parent over mDNS")
	flag.DurationVar(&flags.Status, "status", time.Second, "Status line period (0 = off)")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
}

func main() {
	flag.Parse()

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := node.NewLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("cuesync child")
	fmt.Println("=============")
	fmt.Printf("ID: %s  Session: %s\n", cfg.ID, cfg.Session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewSystem()
	n, err := node.New(cfg, node.Options{Clock: clk, Logger: logger})
	if err != nil {
		logger.Error("failed to create node", "error", err)
		os.Exit(1)
	}
	if err := n.Start(ctx); err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}
	logger.Info("listening", "beacon", n.BeaconAddr(), "schedule", n.Engine().ScheduleAddr())

	status := NewStatus(n.Engine(), clk, os.Stdout)
	if err := n.Engine().OnStart(status.Fired); err != nil {
		logger.Error("cannot watch starts", "error", err)
		os.Exit(1)
	}
	if flags.Status > 0 {
		go status.Run(ctx, flags.Status)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal", "signal", sig)

	fmt.Println("Shutting down...")
	cancel()
	if err := n.Close(); err != nil {
		logger.Warn("error stopping node", "error", err)
	}
	fmt.Println("Goodbye!")
}

// buildConfig loads the configuration file and applies the flags that were
// set explicitly on top of it.
func buildConfig() (*config.Config, error) {
	cfg, err := node.LoadConfig(flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Role = config.RoleChild
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
		case "parent":
			cfg.Peers = append(cfg.Peers, flags.Parent...)
		case "schedule-listen":
			cfg.Schedule.Listen = flags.ScheduleListen
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
