package log

import (
	"time"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	ConnectionID string
	PeerID       wire.PeerID

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func matchOpt[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

func matchStr[T ~string](want, got T) bool {
	return want == "" || want == got
}

// Matches reports whether event passes every criterion.
func (f *Filter) Matches(event Event) bool {
	switch {
	case !matchStr(f.ConnectionID, event.ConnectionID),
		!matchStr(f.PeerID, event.PeerID),
		!matchOpt(f.Direction, event.Direction),
		!matchOpt(f.Layer, event.Layer),
		!matchOpt(f.Category, event.Category):
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}
