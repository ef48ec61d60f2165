package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cuesync/cuesync-go/pkg/clock"
)

// Keep-alive defaults.
const (
	DefaultPingInterval   = 2 * time.Second
	DefaultPongTimeout    = 1 * time.Second
	DefaultMaxMissedPongs = 3

	// MaxDetectionDelay is the detection delay of the defaults. A child
	// that dies is out of the Start population within it.
	MaxDetectionDelay = DefaultPingInterval*DefaultMaxMissedPongs + DefaultPongTimeout
)

// KeepAliveConfig configures liveness probing on a scheduling link.
type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int

	// Clock drives the probe timer (nil = system clock).
	Clock clock.Clock
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest a dead peer goes unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAliveStats describes the probe state of a link.
type KeepAliveStats struct {
	// Seq is the last ping sequence sent.
	Seq uint32

	// Missed counts consecutive unanswered pings.
	Missed int

	// Pongs counts answered pings.
	Pongs uint64

	// RTT is the round trip of the last answered ping.
	RTT time.Duration
}

// KeepAlive pings a link every PingInterval and declares it dead once
// MaxMissedPongs pings in a row went unanswered for PongTimeout. A ping
// whose send fails stays outstanding and is counted like a lost one.
type KeepAlive struct {
	cfg   KeepAliveConfig
	clock clock.Clock
	ping  func(seq uint32) error
	dead  func()

	mu          sync.Mutex
	onPong      func(seq uint32, rtt time.Duration)
	stats       KeepAliveStats
	outstanding bool
	sentAt      float64
	timer       clock.Timer
	stopCtx     func() bool
	running     bool
}

// NewKeepAlive creates a prober. ping sends one probe; dead is called once
// when the link is declared dead.
func NewKeepAlive(cfg KeepAliveConfig, ping func(seq uint32) error, dead func()) *KeepAlive {
	def := DefaultKeepAliveConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = def.MaxMissedPongs
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &KeepAlive{cfg: cfg, clock: clk, ping: ping, dead: dead}
}

// OnPong sets a callback for answered pings.
func (ka *KeepAlive) OnPong(fn func(seq uint32, rtt time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPong = fn
}

// Start sends the first ping and keeps probing until Stop, ctx is done, or
// the link is declared dead.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCtx = context.AfterFunc(ctx, ka.Stop)
	ka.mu.Unlock()

	ka.tick()
}

// Stop ends probing. It is safe to call more than once.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.haltLocked()
}

func (ka *KeepAlive) haltLocked() {
	if !ka.running {
		return
	}
	ka.running = false
	if ka.timer != nil {
		ka.timer.Stop()
		ka.timer = nil
	}
	if ka.stopCtx != nil {
		ka.stopCtx()
	}
}

// Running reports whether probing is active.
func (ka *KeepAlive) Running() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns the current probe state.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.stats
}

// tick checks the outstanding ping, then sends the next one.
func (ka *KeepAlive) tick() {
	ka.mu.Lock()
	if !ka.running {
		ka.mu.Unlock()
		return
	}
	if ka.outstanding && ka.elapsedLocked() >= ka.cfg.PongTimeout {
		ka.outstanding = false
		ka.stats.Missed++
		if ka.stats.Missed >= ka.cfg.MaxMissedPongs {
			ka.haltLocked()
			ka.mu.Unlock()
			if ka.dead != nil {
				ka.dead()
			}
			return
		}
	}

	ka.stats.Seq++
	seq := ka.stats.Seq
	ka.outstanding = true
	ka.sentAt = ka.clock.Now()
	ka.timer = ka.clock.AfterFunc(ka.cfg.PingInterval, ka.tick)
	ka.mu.Unlock()

	_ = ka.ping(seq)
}

func (ka *KeepAlive) elapsedLocked() time.Duration {
	return time.Duration((ka.clock.Now() - ka.sentAt) * float64(time.Second))
}

// PongReceived records the answer to a ping. Pongs for anything but the
// outstanding ping are ignored.
func (ka *KeepAlive) PongReceived(seq uint32) {
	ka.mu.Lock()
	if !ka.outstanding || seq != ka.stats.Seq {
		ka.mu.Unlock()
		return
	}
	rtt := ka.elapsedLocked()
	ka.outstanding = false
	ka.stats.Missed = 0
	ka.stats.Pongs++
	ka.stats.RTT = rtt
	fn := ka.onPong
	ka.mu.Unlock()

	if fn != nil {
		fn(seq, rtt)
	}
}
