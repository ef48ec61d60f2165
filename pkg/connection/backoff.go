package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Redial schedule defaults.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the largest jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// BackoffConfig describes an exponential redial schedule. Zero fields
// take the defaults and a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	// Seed makes the jitter reproducible (0 = random).
	Seed uint64
}

// DefaultBackoffConfig returns the redial schedule for child links.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.Initial <= 0 {
		c.Initial = def.Initial
	}
	if c.Max <= 0 {
		c.Max = def.Max
	}
	c.Max = max(c.Max, c.Initial)
	if c.Multiplier <= 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter == 0 {
		c.Jitter = def.Jitter
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// Base returns the delay before redial number attempt (0-based), without
// jitter.
func (c BackoffConfig) Base(attempt int) time.Duration {
	c = c.normalized()
	d := float64(c.Initial)
	for range attempt {
		d *= c.Multiplier
		if d >= float64(c.Max) {
			return c.Max
		}
	}
	return time.Duration(d)
}

// Backoff walks a BackoffConfig schedule. It is safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu      sync.Mutex
	attempt int
	rng     *rand.Rand
}

// NewBackoff creates a Backoff with the default schedule.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig creates a Backoff walking cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	cfg = cfg.normalized()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Backoff{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns the next delay, jittered upwards by at most Jitter of its
// base.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.cfg.Base(b.attempt)
	b.attempt++
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * b.rng.Float64())
	}
	return d
}

// Current returns the base delay of the next call to Next.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Base(b.attempt)
}

// Attempts counts Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Reset restarts the schedule.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
