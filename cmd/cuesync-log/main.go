// Command cuesync-log views and analyzes cuesync protocol log files.
//
// Log files are written by cuesync-parent and cuesync-child when started
// with -protocol-log (or log.protocol_file in the config file).
//
// Usage:
//
//	cuesync-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     Print events in human-readable form
//	export   Export events as csv or jsonl
//	filter   Copy the selected events into a new log file
//	stats    Summarize a log file
//
// view, export and filter accept the selection flags -peer, -conn-id,
// -layer, -direction, -category, -since and -until.
//
// Examples:
//
//	# View all events
//	cuesync-log view child.clog
//
//	# View only estimator steps
//	cuesync-log view -category estimate child.clog
//
//	# Export the offset trace of one parent to CSV
//	cuesync-log export -format csv -category estimate -peer parent -o trace.csv child.clog
//
//	# Keep only the scheduling handshake
//	cuesync-log filter -layer schedule -o schedule.clog parent.clog
//
//	# Show statistics
//	cuesync-log stats child.clog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuesync/cuesync-go/cmd/cuesync-log/commands"
	"github.com/cuesync/cuesync-go/pkg/log"
)

// command is one subcommand. flags registers its own flags and returns the
// action to run once they are parsed. filters adds the selection flags.
type command struct {
	name    string
	summary string
	flags   func(fs *flag.FlagSet) func(path string, f log.Filter) error
	filters bool
}

var commandList = []command{
	{
		name:    "view",
		summary: "Print events in human-readable form",
		filters: true,
		flags: func(*flag.FlagSet) func(string, log.Filter) error {
			return func(path string, f log.Filter) error {
				return commands.RunView(path, f, os.Stdout)
			}
		},
	},
	{
		name:    "export",
		summary: "Export events as " + strings.Join(commands.Formats(), " or "),
		filters: true,
		flags: func(fs *flag.FlagSet) func(string, log.Filter) error {
			format := fs.String("format", "jsonl", "Output format: "+strings.Join(commands.Formats(), ", "))
			output := fs.String("o", "", "Output file (default: stdout)")
			return func(path string, f log.Filter) error {
				return writeTo(*output, func(w io.Writer) error {
					return commands.RunExport(path, *format, f, w)
				})
			}
		},
	},
	{
		name:    "filter",
		summary: "Copy the selected events into a new log file",
		filters: true,
		flags: func(fs *flag.FlagSet) func(string, log.Filter) error {
			output := fs.String("o", "", "Output file (required)")
			return func(path string, f log.Filter) error {
				if *output == "" {
					return fmt.Errorf("output file (-o) required")
				}
				n, err := commands.RunFilter(path, *output, f)
				if err != nil {
					return err
				}
				fmt.Printf("Filtered %d events to %s\n", n, *output)
				return nil
			}
		},
	},
	{
		name:    "stats",
		summary: "Summarize a log file",
		flags: func(*flag.FlagSet) func(string, log.Filter) error {
			return func(path string, _ log.Filter) error {
				return commands.RunStats(path, os.Stdout)
			}
		},
	},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "cuesync-log - cuesync protocol log analyzer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:\n  cuesync-log <command> [flags] <file.clog>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commandList {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, `Use "cuesync-log <command> -help" for the flags of a command.`)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return
	}
	for _, c := range commandList {
		if c.name == name {
			if err := c.exec(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	usage(os.Stderr)
	os.Exit(1)
}

func (c command) exec(args []string) error {
	fs := flag.NewFlagSet(c.name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "cuesync-log %s - %s\n\nUsage:\n  cuesync-log %s [flags] <file.clog>\n\nFlags:\n",
			c.name, c.summary, c.name)
		fs.PrintDefaults()
	}
	var sel commands.Selection
	if c.filters {
		sel.Bind(fs)
	}
	run := c.flags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one log file, got %d arguments", fs.NArg())
	}
	f, err := sel.Filter()
	if err != nil {
		return err
	}
	return run(fs.Arg(0), f)
}

// writeTo runs fn against path, or stdout when path is empty.
func writeTo(path string, fn func(io.Writer) error) (err error) {
	if path == "" {
		return fn(os.Stdout)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(out)
}
