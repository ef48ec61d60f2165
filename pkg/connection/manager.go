package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrManagerClosed is returned by Run after Close.
var ErrManagerClosed = errors.New("connection manager closed")

// DefaultAttemptTimeout bounds a single dial.
const DefaultAttemptTimeout = 10 * time.Second

// State is the link state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the link. A nil error means the link is up until
// NotifyConnectionLost is called.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	Backoff BackoffConfig

	// AttemptTimeout bounds each ConnectFunc call.
	AttemptTimeout time.Duration

	// OnStateChange is called on every transition, outside the lock.
	OnStateChange func(from, to State)

	// Logger is the operational logger (nil = discard).
	Logger *slog.Logger

	// after waits between attempts; tests replace it.
	after func(time.Duration) <-chan time.Time
}

// DefaultConfig returns the default redial configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:        DefaultBackoffConfig(),
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Manager keeps one link up, redialing with backoff after failures and
// losses.
type Manager struct {
	name    string
	connect ConnectFunc
	cfg     Config
	logger  *slog.Logger
	backoff *Backoff

	mu    sync.RWMutex
	state State

	lost   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewManager creates a Manager for the link called name.
func NewManager(name string, connect ConnectFunc, cfg Config) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.after == nil {
		cfg.after = time.After
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		name:    name,
		connect: connect,
		cfg:     cfg,
		logger:  logger.With("link", name),
		backoff: NewBackoffWithConfig(cfg.Backoff),
		lost:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns the number of failed dials since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// NotifyConnectionLost reports that the current link went down.
func (m *Manager) NotifyConnectionLost() {
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// Close stops Run. It is idempotent.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.closed) })
}

// Run dials and redials until ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateClosed)

	next := StateConnecting
	for {
		// A loss reported for an earlier link must not end the next one.
		select {
		case <-m.lost:
		default:
		}

		m.setState(next)
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		err := m.connect(attemptCtx)
		cancel()

		if err == nil {
			m.backoff.Reset()
			m.setState(StateConnected)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.closed:
				return ErrManagerClosed
			case <-m.lost:
			}
			m.logger.Info("link lost")
		} else {
			m.logger.Debug("dial failed", "error", err, "attempt", m.backoff.Attempts()+1)
		}

		next = StateReconnecting
		m.setState(next)
		delay := m.backoff.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return ErrManagerClosed
		case <-m.cfg.after(delay):
		}
	}
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	m.logger.Debug("link state", "from", from, "to", to)
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, to)
	}
}
