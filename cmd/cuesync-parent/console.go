package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/cuesync/cuesync-go/internal/node"
	"github.com/cuesync/cuesync-go/pkg/session"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// DefaultStartDelay is used by "start" without an argument.
const DefaultStartDelay = 3 * time.Second

// Console is the parent's interactive command line.
type Console struct {
	rl     *readline.Instance
	engine *session.Engine
	sim    *Simulation
}

// NewConsole creates the console. Attach must be called before Run.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "parent> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Attach binds the running node and the optional simulation.
func (c *Console) Attach(n *node.Node, sim *Simulation) {
	c.engine = n.Engine()
	c.sim = sim
}

// Stdout returns a writer that keeps log output clear of the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "start", "s":
			c.cmdStart(args)

		case "children", "c":
			c.cmdChildren()

		case "peers", "p":
			c.cmdPeers()

		case "add":
			c.cmdAdd(args)

		case "remove", "rm":
			c.cmdRemove(args)

		case "reset":
			c.engine.Reset()
			fmt.Fprintln(c.rl.Stdout(), "Session state cleared")

		case "sim":
			c.cmdSim()

		case "link":
			c.cmdLink(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help')\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `
Commands:
  start [delay]        Schedule a synchronized start (default 3s)
  children, c          Show scheduling links and measured offsets
  peers, p             Show beacon peer queues
  add <id> <addr>      Connect to a child's schedule listener
  remove <id>          Drop a child from scheduling
  reset                Clear all session state
  sim                  Compare simulated children with their true offsets
  link <loss> [delay] [jitter]
                       Change the simulated link
  help, ?              Show this help
  quit, q              Exit
`)
}

func (c *Console) cmdStart(args []string) {
	out := c.rl.Stdout()
	delay := DefaultStartDelay
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(out, "Invalid delay: %v\n", err)
			return
		}
		delay = d
	}

	began := time.Now()
	plan, err := c.engine.ScheduleSynchronizedStart(delay, func() {
		fmt.Fprintf(out, "GO (parent, %s after request)\n", time.Since(began).Round(time.Millisecond))
	})
	if err != nil {
		fmt.Fprintf(out, "Start failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Start scheduled at tick %d for %d children: %v\n", plan.Target, len(plan.Children), plan.Children)
}

func (c *Console) cmdChildren() {
	out := c.rl.Stdout()
	children := c.engine.Master().Children()
	if len(children) == 0 {
		fmt.Fprintln(out, "No children")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHILD\tADDR\tLINK\tOFFSET")
	for _, ch := range children {
		link := "down"
		if ch.Connected {
			link = shortConnID(ch.ConnID)
		}
		offset := "unknown"
		if ch.Known {
			offset = strconv.FormatInt(ch.Offset, 10) + " ticks"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch.ID, ch.Addr, link, offset)
	}
	tw.Flush()
}

func (c *Console) cmdPeers() {
	out := c.rl.Stdout()
	peers := c.engine.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(out, "No beacon peers")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tRECEIVED\tDROPPED\tSENT\tQUEUED\tREFUSED")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", p.ID, p.Received, p.Dropped, p.Sent, p.Queued, p.Refused)
	}
	tw.Flush()
}

func (c *Console) cmdAdd(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: add <id> <addr>")
		return
	}
	if err := c.engine.AddChild(wire.PeerID(args[0]), args[1]); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Add failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Connecting to %s at %s\n", args[0], args[1])
}

func (c *Console) cmdRemove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: remove <id>")
		return
	}
	if err := c.engine.Master().RemoveChild(wire.PeerID(args[0])); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Remove failed: %v\n", err)
	}
}

func (c *Console) cmdSim() {
	if c.sim == nil {
		fmt.Fprintln(c.rl.Stdout(), "Not simulating (start with -simulate N)")
		return
	}
	c.sim.Report(c.rl.Stdout(), c.engine.ID())
}

func (c *Console) cmdLink(args []string) {
	out := c.rl.Stdout()
	if c.sim == nil {
		fmt.Fprintln(out, "Not simulating (start with -simulate N)")
		return
	}
	if len(args) == 0 {
		fmt.Fprintln(out, "Usage: link <loss> [delay] [jitter]")
		return
	}
	loss, err := strconv.ParseFloat(args[0], 64)
	if err != nil || loss < 0 || loss > 1 {
		fmt.Fprintf(out, "Invalid loss %q (want 0..1)\n", args[0])
		return
	}
	var durs [2]time.Duration
	for i, a := range args[1:min(len(args), 3)] {
		d, err := time.ParseDuration(a)
		if err != nil {
			fmt.Fprintf(out, "Invalid duration: %v\n", err)
			return
		}
		durs[i] = d
	}
	c.sim.SetLink(loss, durs[0], durs[1])
	fmt.Fprintf(out, "Link: loss %.2f delay %s jitter %s\n", loss, durs[0], durs[1])
}

func shortConnID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
