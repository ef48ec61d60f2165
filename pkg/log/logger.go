package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use and should not block.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f.
func (f LoggerFunc) Log(event Event) { f(event) }

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}

// Tee returns a Logger that forwards every event to each non-nil logger in
// order. It returns nil when none are given.
func Tee(loggers ...Logger) Logger {
	var out tee
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
	_ Logger = tee(nil)
)
