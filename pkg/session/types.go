package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/estimator"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/schedule"
	"github.com/cuesync/cuesync-go/pkg/transport"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Engine errors.
var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrStopped        = errors.New("engine stopped")
	ErrWrongRole      = errors.New("operation not available in this role")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Role selects what an Engine does.
type Role uint8

const (
	// RoleChild follows a parent clock.
	RoleChild Role = iota

	// RoleParent is the reference clock and scheduling master.
	RoleParent
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleParent:
		return "parent"
	case RoleChild:
		return "child"
	default:
		return "unknown"
	}
}

// ParseRole converts "parent" or "child" to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "parent":
		return RoleParent, nil
	case "child":
		return RoleChild, nil
	default:
		return 0, fmt.Errorf("%w: role %q", ErrInvalidConfig, s)
	}
}

// State is the engine lifecycle state.
type State uint8

const (
	// StateIdle - engine created but not started.
	StateIdle State = iota

	// StateRunning - actors and periodic loops are running.
	StateRunning

	// StateStopped - engine has stopped and cannot be restarted.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DefaultInboxSize is the per-peer inbound frame buffer.
const DefaultInboxSize = 256

// Config configures an Engine.
type Config struct {
	// ID is this node's peer ID.
	ID wire.PeerID

	Role Role

	// Transport carries beacon traffic. The engine installs itself as the
	// handler but does not close it.
	Transport transport.Transport

	Clock clock.Clock

	// Parent, for a child, restricts beacons to one parent.
	Parent wire.PeerID

	// BeaconInterval is the parent's emission period.
	BeaconInterval time.Duration

	Estimator estimator.Config

	// Master configures the scheduling master (parent only). Its Clock is
	// replaced by the engine clock.
	Master schedule.MasterConfig

	// ScheduleListen is the address a child accepts the master on. Empty
	// disables the listener.
	ScheduleListen string

	// ScheduleConn configures the child's accepted schedule connections.
	ScheduleConn transport.ConnConfig

	// InboxSize bounds queued inbound frames per peer (0 = DefaultInboxSize).
	// Frames beyond it are dropped.
	InboxSize int

	// ReassemblyTimeout discards a partial chunked message after this long
	// without a new chunk (0 = chunk.DefaultStaleAfter).
	ReassemblyTimeout time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultConfig returns a child configuration with default settings.
func DefaultConfig() Config {
	return Config{
		Role:         RoleChild,
		Estimator:    estimator.DefaultConfig(),
		Master:       schedule.DefaultMasterConfig(),
		ScheduleConn: transport.DefaultConnConfig(),
		InboxSize:    DefaultInboxSize,
	}
}

// PeerStatus describes one peer actor.
type PeerStatus struct {
	ID wire.PeerID

	// Received and Dropped count inbound frames.
	Received uint64
	Dropped  uint64

	// Queued frames wait for the transport; Sent and Refused count send
	// attempts.
	Queued  int
	Sent    uint64
	Refused uint64

	// Partial is the number of messages awaiting more chunks.
	Partial int
}
