// Package config loads node configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuesync/cuesync-go/pkg/chunk"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Role values.
const (
	RoleParent = "parent"
	RoleChild  = "child"
)

// Transport kinds.
const (
	TransportUDP = "udp"
	TransportMem = "mem"
)

// Duration is a time.Duration written as a Go duration string ("50ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is a node configuration file.
type Config struct {
	Role    string `yaml:"role"`
	ID      string `yaml:"id"`
	Session string `yaml:"session"`

	Transport TransportConfig `yaml:"transport"`
	Beacon    BeaconConfig    `yaml:"beacon"`
	Schedule  ScheduleConfig  `yaml:"schedule"`

	// Peers are datagram peers registered by address (parent: children,
	// child: the parent).
	Peers []PeerAddr `yaml:"peers,omitempty"`

	Log       LogConfig       `yaml:"log"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// PeerAddr names a peer and its address.
type PeerAddr struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// TransportConfig selects the beacon transport.
type TransportConfig struct {
	Kind       string `yaml:"kind"`
	Listen     string `yaml:"listen"`
	MaxPayload int    `yaml:"max_payload"`

	// ReassemblyTimeout drops a partial chunked message after this long
	// without a new chunk. Zero keeps the default.
	ReassemblyTimeout Duration `yaml:"reassembly_timeout,omitempty"`

	// Link models the in-memory link when Kind is "mem".
	Link LinkConfig `yaml:"link,omitempty"`
}

// LinkConfig describes simulated link impairments.
type LinkConfig struct {
	Loss    float64  `yaml:"loss,omitempty"`
	Dup     float64  `yaml:"dup,omitempty"`
	Reorder float64  `yaml:"reorder,omitempty"`
	Delay   Duration `yaml:"delay,omitempty"`
	Jitter  Duration `yaml:"jitter,omitempty"`
}

// BeaconConfig configures the parent's emitter.
type BeaconConfig struct {
	Interval Duration `yaml:"interval"`
}

// ScheduleConfig configures the scheduling links.
type ScheduleConfig struct {
	// Listen is the child's listener address.
	Listen string `yaml:"listen,omitempty"`

	// Children are dialed by the parent.
	Children []PeerAddr `yaml:"children,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level        string `yaml:"level"`
	ProtocolFile string `yaml:"protocol_file,omitempty"`
}

// DiscoveryConfig configures mDNS.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface,omitempty"`
}

// Default returns a child configuration with every default filled in.
func Default() *Config {
	return &Config{
		Role:    RoleChild,
		Session: "default",
		Transport: TransportConfig{
			Kind:       TransportUDP,
			Listen:     ":7400",
			MaxPayload: 1200,
		},
		Beacon: BeaconConfig{Interval: Duration(50 * time.Millisecond)},
		Schedule: ScheduleConfig{
			Listen: ":7401",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and validates the file at path. Missing keys keep their
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML bytes.
func Parse(data []byte) (*Config, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads YAML from r over the defaults and validates the result.
// Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Role != RoleParent && c.Role != RoleChild {
		bad("role %q (want %s or %s)", c.Role, RoleParent, RoleChild)
	}
	if c.ID == "" {
		bad("id is required")
	}

	switch c.Transport.Kind {
	case TransportUDP:
		if c.Transport.Listen == "" {
			bad("transport.listen is required for udp")
		}
	case TransportMem:
	default:
		bad("transport.kind %q (want %s or %s)", c.Transport.Kind, TransportUDP, TransportMem)
	}
	if c.Transport.MaxPayload <= chunk.HeaderLen {
		bad("transport.max_payload %d must exceed the %d byte chunk header", c.Transport.MaxPayload, chunk.HeaderLen)
	}
	if c.Transport.ReassemblyTimeout < 0 {
		bad("transport.reassembly_timeout must not be negative")
	}
	for name, p := range map[string]float64{
		"loss":    c.Transport.Link.Loss,
		"dup":     c.Transport.Link.Dup,
		"reorder": c.Transport.Link.Reorder,
	} {
		if p < 0 || p > 1 {
			bad("transport.link.%s %v outside [0, 1]", name, p)
		}
	}
	if c.Transport.Link.Delay < 0 || c.Transport.Link.Jitter < 0 {
		bad("transport.link delay and jitter must not be negative")
	}

	if c.Beacon.Interval <= 0 {
		bad("beacon.interval must be positive")
	}
	if c.Role == RoleChild && c.Schedule.Listen == "" {
		bad("schedule.listen is required for a child")
	}

	errs = append(errs, validatePeers("schedule.children", c.Schedule.Children)...)
	errs = append(errs, validatePeers("peers", c.Peers)...)

	if _, err := c.SlogLevel(); err != nil {
		bad("log.level %q", c.Log.Level)
	}
	return errors.Join(errs...)
}

func validatePeers(field string, peers []PeerAddr) []error {
	var errs []error
	seen := make(map[string]bool, len(peers))
	for i, p := range peers {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("%w: %s[%d].id is required", ErrInvalid, field, i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("%w: %s[%d].id %q repeated", ErrInvalid, field, i, p.ID))
		}
		seen[p.ID] = true
		if p.Addr == "" {
			errs = append(errs, fmt.Errorf("%w: %s[%d].addr is required", ErrInvalid, field, i))
		}
	}
	return errs
}

// SlogLevel parses Log.Level ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	err := lvl.UnmarshalText([]byte(c.Log.Level))
	return lvl, err
}
