package log

import (
	"context"
	"log/slog"
	"strings"
)

// SlogAdapter mirrors protocol events into an slog.Logger. Error events
// are written at ErrorLevel, everything else at Level.
type SlogAdapter struct {
	logger *slog.Logger

	Level      slog.Level
	ErrorLevel slog.Level
}

// NewSlogAdapter returns an adapter logging at debug level, with error
// events raised to warn.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, Level: slog.LevelDebug, ErrorLevel: slog.LevelWarn}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	lvl := a.Level
	if event.Error != nil {
		lvl = a.ErrorLevel
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, lvl) {
		return
	}
	a.logger.LogAttrs(ctx, lvl, event.summary(), event.attrs()...)
}

// summary is the log message: the layer followed by what happened.
func (e Event) summary() string {
	what := e.Category.String()
	switch {
	case e.Message != nil:
		what = e.Message.Kind.String()
	case e.ControlMsg != nil:
		what = e.ControlMsg.Type.String()
	case e.StateChange != nil:
		what = e.StateChange.Entity.String() + " " + e.StateChange.NewState
	}
	return e.Layer.String() + " " + what
}

func (e Event) attrs() []slog.Attr {
	out := []slog.Attr{slog.String("dir", e.Direction.String())}
	for _, kv := range [...][2]string{
		{"local", string(e.LocalID)},
		{"peer", string(e.PeerID)},
		{"conn", e.ConnectionID},
		{"remote", e.RemoteAddr},
	} {
		if kv[1] != "" {
			out = append(out, slog.String(kv[0], kv[1]))
		}
	}
	if v, ok := e.payload(); ok {
		out = append(out, slog.Attr{Key: strings.ToLower(e.Category.String()), Value: v})
	}
	return out
}

// payload renders the event payload as a group value.
func (e Event) payload() (slog.Value, bool) {
	switch {
	case e.Frame != nil:
		f := e.Frame
		return slog.GroupValue(
			slog.Int("size", f.Size),
			slog.Bool("chunked", f.Chunked),
			slog.Bool("truncated", f.Truncated),
		), true

	case e.Message != nil:
		m := e.Message
		as := make([]slog.Attr, 0, 4)
		if m.Seq != 0 {
			as = append(as, slog.Uint64("seq", m.Seq))
		}
		if len(m.Seconds) > 0 {
			as = append(as, slog.Any("t", m.Seconds))
		}
		if len(m.Ticks) > 0 {
			as = append(as, slog.Any("ticks", m.Ticks))
		}
		if m.Dropped != "" {
			as = append(as, slog.String("dropped", m.Dropped))
		}
		return slog.GroupValue(as...), len(as) > 0

	case e.Estimate != nil:
		s := e.Estimate
		return slog.GroupValue(
			slog.Float64("z", s.Measured),
			slog.Float64("rtt", s.RTT),
			slog.Float64("offset", s.Offset),
			slog.Float64("drift", s.Drift),
			slog.Bool("gated", s.Gated),
		), true

	case e.StateChange != nil:
		c := e.StateChange
		return slog.GroupValue(
			slog.String("from", c.OldState),
			slog.String("to", c.NewState),
			slog.String("reason", c.Reason),
		), true

	case e.ControlMsg != nil:
		return slog.GroupValue(slog.Uint64("seq", uint64(e.ControlMsg.Sequence))), true

	case e.Error != nil:
		x := e.Error
		return slog.GroupValue(
			slog.String("layer", x.Layer.String()),
			slog.String("msg", x.Message),
			slog.String("stage", x.Context),
		), true
	}
	return slog.Value{}, false
}

var _ Logger = (*SlogAdapter)(nil)
