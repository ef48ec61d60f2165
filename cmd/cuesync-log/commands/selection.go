package commands

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Selection holds the event selection flags shared by the commands. Empty
// fields select everything.
type Selection struct {
	Peer      string
	ConnID    string
	Layer     string
	Direction string
	Category  string
	Since     string
	Until     string
}

// Bind registers the selection flags on fs.
func (s *Selection) Bind(fs *flag.FlagSet) {
	fs.StringVar(&s.Peer, "peer", "", "Only events exchanged with this peer ID")
	fs.StringVar(&s.ConnID, "conn-id", "", "Only events of this connection ID")
	fs.StringVar(&s.Layer, "layer", "", "Only this layer: "+names(layerChoices))
	fs.StringVar(&s.Direction, "direction", "", "Only this direction: "+names(directionChoices))
	fs.StringVar(&s.Category, "category", "", "Only this category: "+names(categoryChoices))
	fs.StringVar(&s.Since, "since", "", "Only events at or after this RFC 3339 time")
	fs.StringVar(&s.Until, "until", "", "Only events before this RFC 3339 time")
}

var (
	layerChoices     = []string{"transport", "chunk", "sync", "schedule"}
	directionChoices = []string{"in", "out", "local"}
	categoryChoices  = []string{"message", "control", "state", "estimate", "error"}
)

func names(choices []string) string { return strings.Join(choices, ", ") }

// Filter converts the selection to a log filter.
func (s Selection) Filter() (log.Filter, error) {
	f := log.Filter{ConnectionID: s.ConnID, PeerID: wire.PeerID(s.Peer)}
	var err error
	if f.Layer, err = parseOpt("layer", s.Layer, log.ParseLayer, layerChoices); err != nil {
		return f, err
	}
	if f.Direction, err = parseOpt("direction", s.Direction, log.ParseDirection, directionChoices); err != nil {
		return f, err
	}
	if f.Category, err = parseOpt("category", s.Category, log.ParseCategory, categoryChoices); err != nil {
		return f, err
	}
	if f.TimeStart, err = parseTime("since", s.Since); err != nil {
		return f, err
	}
	if f.TimeEnd, err = parseTime("until", s.Until); err != nil {
		return f, err
	}
	return f, nil
}

// parseOpt parses a case-insensitive name. Empty input yields nil.
func parseOpt[T any](flagName, s string, parse func(string) (T, bool), choices []string) (*T, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := parse(strings.ToUpper(s))
	if !ok {
		return nil, fmt.Errorf("-%s %q: want one of %s", flagName, s, names(choices))
	}
	return &v, nil
}

func parseTime(flagName, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", flagName, err)
	}
	return &t, nil
}
