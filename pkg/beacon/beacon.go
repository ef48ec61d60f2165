package beacon

import (
	"time"

	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// DefaultInterval is the parent's beacon period.
const DefaultInterval = 50 * time.Millisecond

// Outbox delivers messages to peers. Sends never block on the network.
type Outbox interface {
	// Send queues msg for one peer.
	Send(peer wire.PeerID, msg wire.Message) error

	// Broadcast queues msg for every connected peer.
	Broadcast(msg wire.Message) error
}

// Outcome reports what a child did with a FollowUp.
type Outcome uint8

const (
	// OutcomeIgnored: not addressed to this child or wrong role.
	OutcomeIgnored Outcome = iota

	// OutcomeStale: sequence not newer than the last accepted one.
	OutcomeStale

	// OutcomeGated: RTT outlier, estimator unchanged.
	OutcomeGated

	// OutcomeApplied: the estimator took the measurement.
	OutcomeApplied
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "IGNORED"
	case OutcomeStale:
		return "STALE"
	case OutcomeGated:
		return "GATED"
	case OutcomeApplied:
		return "APPLIED"
	default:
		return "UNKNOWN"
	}
}

// Measure derives the offset measurement and round trip from a complete
// FollowUp. A negative round trip (clock step during the exchange) yields
// a zero one-way delay.
func Measure(env *wire.BeaconEnvelope) (z, rtt float64) {
	t1, t2, t3, t4 := env.Timestamps()
	rtt = (t4 - t1) - (t3 - t2)
	oneWay := max(0, rtt/2)
	return (t1 + oneWay) - t2, rtt
}

// protocolLog carries the fields shared by every event a role emits.
type protocolLog struct {
	logger log.Logger
	role   log.Role
	local  wire.PeerID
}

func (p protocolLog) emit(ev log.Event) {
	ev.Timestamp = time.Now()
	ev.Layer = log.LayerSync
	ev.LocalRole = p.role
	ev.LocalID = p.local
	p.logger.Log(ev)
}

func (p protocolLog) dropped(peer wire.PeerID, env *wire.BeaconEnvelope, reason string) {
	msg := log.NewMessageEvent(env)
	msg.Dropped = reason
	p.emit(log.Event{
		Direction: log.DirectionIn,
		Category:  log.CategoryMessage,
		PeerID:    peer,
		Message:   msg,
	})
}
