package discovery

import (
	"errors"
	"time"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

const (
	// ServiceType is the DNS-SD service type of sync nodes.
	ServiceType = "_cuesync._udp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default beacon port.
	DefaultPort = 7400

	// DefaultTTL is the advertised record TTL.
	DefaultTTL = 120 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyRole         = "role"
	TXTKeyID           = "id"
	TXTKeySession      = "sess"
	TXTKeySchedulePort = "sp"
)

// Role is the advertised role of a node.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// Discovery errors.
var (
	ErrInvalidTXTRecord = errors.New("invalid TXT record")
	ErrMissingRequired  = errors.New("missing required field")
	ErrNotFound         = errors.New("service not found")
)

// Info describes the local node for advertising.
type Info struct {
	ID      wire.PeerID
	Role    Role
	Session string

	// Port is the beacon port.
	Port uint16

	// SchedulePort is the scheduling listener port (0 = none).
	SchedulePort uint16
}

// Service is a node found by browsing.
type Service struct {
	Instance string
	Host     string

	ID      wire.PeerID
	Role    Role
	Session string

	// Addresses from every interface the service was seen on.
	Addresses []string

	Port         uint16
	SchedulePort uint16
}
