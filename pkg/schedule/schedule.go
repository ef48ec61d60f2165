package schedule

import (
	"errors"
	"time"

	"github.com/cuesync/cuesync-go/pkg/clock"
	"github.com/cuesync/cuesync-go/pkg/log"
	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Scheduler errors.
var (
	ErrUnknownChild = errors.New("unknown child")
	ErrNoLink       = errors.New("child not connected")
	ErrClosed       = errors.New("scheduler closed")
)

// Link is one direct connection to a peer. transport.Conn implements it.
type Link interface {
	// ID identifies the connection; offsets are keyed by it.
	ID() string

	// SendMessage encodes and sends msg.
	SendMessage(msg wire.Message) error
}

// ComputeOffset returns the child's tick offset from one Sync exchange.
// Integer division truncates toward zero.
func ComputeOffset(t1, t2, t3, t4 int64) int64 {
	return ((t2 - t1) + (t3 - t4)) / 2
}

// FireTicks returns the local tick at which a Start for target fires.
func FireTicks(target, offset int64) int64 {
	return target - offset
}

// FireDelay converts the ticks remaining until fire into a duration,
// never negative.
func FireDelay(fire, now int64, tb clock.Timebase) time.Duration {
	return tb.ToDuration(max(0, fire-now))
}

// ScheduledStart is a pending local fire.
type ScheduledStart struct {
	// Target is the master-tick deadline carried by Start.
	Target int64

	// Offset is the tick offset applied.
	Offset int64

	// FireTicks is the local tick deadline.
	FireTicks int64

	// Delay is the wait computed when the Start arrived.
	Delay time.Duration
}

type protocolLog struct {
	logger log.Logger
	role   log.Role
}

func (p protocolLog) emit(ev log.Event) {
	ev.Timestamp = time.Now()
	ev.Layer = log.LayerSchedule
	ev.LocalRole = p.role
	p.logger.Log(ev)
}

func (p protocolLog) message(dir log.Direction, peer wire.PeerID, connID string, msg wire.Message, dropped string) {
	ev := log.NewMessageEvent(msg)
	ev.Dropped = dropped
	p.emit(log.Event{
		Direction:    dir,
		Category:     log.CategoryMessage,
		PeerID:       peer,
		ConnectionID: connID,
		Message:      ev,
	})
}

func (p protocolLog) start(old, state, reason string) {
	p.emit(log.Event{
		Direction: log.DirectionLocal,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityStart,
			OldState: old,
			NewState: state,
			Reason:   reason,
		},
	})
}
