package estimator

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// Default filter parameters.
const (
	DefaultOffsetNoise      = 1e-6
	DefaultDriftNoise       = 1e-9
	DefaultMinVariance      = 2.5e-5
	DefaultInitialOffsetVar = 1.0
	DefaultInitialDriftVar  = 1e-4
	DefaultWindowSize       = 32
	DefaultGatePercentile   = 0.95
)

// Config holds filter tuning.
type Config struct {
	// OffsetNoise and DriftNoise scale the process noise per second.
	OffsetNoise float64
	DriftNoise  float64

	// MinVariance is the measurement variance floor.
	MinVariance float64

	// InitialOffsetVar and InitialDriftVar seed the covariance diagonal.
	InitialOffsetVar float64
	InitialDriftVar  float64

	// WindowSize is the RTT ring capacity used for gating.
	WindowSize int

	// GatePercentile is the RTT percentile above which samples are gated.
	GatePercentile float64
}

// DefaultConfig returns the standard filter tuning.
func DefaultConfig() Config {
	return Config{
		OffsetNoise:      DefaultOffsetNoise,
		DriftNoise:       DefaultDriftNoise,
		MinVariance:      DefaultMinVariance,
		InitialOffsetVar: DefaultInitialOffsetVar,
		InitialDriftVar:  DefaultInitialDriftVar,
		WindowSize:       DefaultWindowSize,
		GatePercentile:   DefaultGatePercentile,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OffsetNoise <= 0 {
		c.OffsetNoise = d.OffsetNoise
	}
	if c.DriftNoise <= 0 {
		c.DriftNoise = d.DriftNoise
	}
	if c.MinVariance <= 0 {
		c.MinVariance = d.MinVariance
	}
	if c.InitialOffsetVar <= 0 {
		c.InitialOffsetVar = d.InitialOffsetVar
	}
	if c.InitialDriftVar <= 0 {
		c.InitialDriftVar = d.InitialDriftVar
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.GatePercentile <= 0 || c.GatePercentile > 1 {
		c.GatePercentile = d.GatePercentile
	}
	return c
}

// Snapshot is a consistent view of a filter's published state.
type Snapshot struct {
	Offset     float64
	Drift      float64
	LastUpdate float64
	Updates    int
	Variance   float64
}

// Predict extrapolates the offset to now. Times before the last update do
// not extrapolate backwards.
func (s Snapshot) Predict(now float64) float64 {
	if s.Updates == 0 {
		return 0
	}
	return s.Offset + s.Drift*math.Max(0, now-s.LastUpdate)
}

// Result describes the outcome of one measurement.
type Result struct {
	// Gated is true when the measurement was discarded as a latency outlier.
	Gated bool

	// Threshold is the RTT gate in effect; zero with an empty window.
	Threshold float64

	// Innovation is z minus the predicted offset. Zero when gated.
	Innovation float64

	// Snapshot is the state after the measurement.
	Snapshot Snapshot
}

// Filter is the Kalman state for one peer.
type Filter struct {
	cfg Config

	mu          sync.Mutex
	offset      float64
	drift       float64
	p00, p01    float64
	p10, p11    float64
	last        float64
	updates     int
	rtts        []float64
	rttHead     int
	initialized bool

	snap atomic.Pointer[Snapshot]
}

// NewFilter creates a filter with initial state [0, 0].
func NewFilter(cfg Config) *Filter {
	cfg = cfg.withDefaults()
	f := &Filter{
		cfg:  cfg,
		p00:  cfg.InitialOffsetVar,
		p11:  cfg.InitialDriftVar,
		rtts: make([]float64, 0, cfg.WindowSize),
	}
	f.publish()
	return f
}

// Snapshot returns the last published state.
func (f *Filter) Snapshot() Snapshot {
	return *f.snap.Load()
}

// Predict returns offset + drift·max(0, now − last) without mutating state.
func (f *Filter) Predict(now float64) float64 {
	return f.Snapshot().Predict(now)
}

// Threshold returns the current RTT gate and whether the window is non-empty.
func (f *Filter) Threshold() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thresholdLocked()
}

func (f *Filter) thresholdLocked() (float64, bool) {
	if len(f.rtts) == 0 {
		return 0, false
	}
	return percentile(f.rtts, f.cfg.GatePercentile), true
}

// Update feeds a measured offset z with its round-trip time, both in seconds,
// taken at local time now.
func (f *Filter) Update(z, rtt, now float64) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	threshold, ok := f.thresholdLocked()
	if ok && rtt > threshold {
		return Result{Gated: true, Threshold: threshold, Snapshot: f.Snapshot()}
	}

	dt := 0.0
	if f.initialized {
		dt = math.Max(0, now-f.last)
	}

	// Predict.
	offset := f.offset + dt*f.drift
	drift := f.drift
	p00 := f.p00 + dt*(f.p10+f.p01) + dt*dt*f.p11 + f.cfg.OffsetNoise*dt
	p01 := f.p01 + dt*f.p11
	p10 := f.p10 + dt*f.p11
	p11 := f.p11 + f.cfg.DriftNoise*dt

	// Update with H = [1, 0].
	r := math.Max((rtt/2)*(rtt/2), f.cfg.MinVariance)
	s := p00 + r
	k0 := p00 / s
	k1 := p10 / s
	y := z - offset

	f.offset = offset + k0*y
	f.drift = drift + k1*y
	f.p00 = (1 - k0) * p00
	f.p01 = (1 - k0) * p01
	f.p10 = p10 - k1*p00
	f.p11 = p11 - k1*p01

	f.pushRTT(rtt)
	f.last = now
	f.initialized = true
	f.updates++
	f.publish()

	return Result{Threshold: threshold, Innovation: y, Snapshot: f.Snapshot()}
}

func (f *Filter) pushRTT(rtt float64) {
	if len(f.rtts) < f.cfg.WindowSize {
		f.rtts = append(f.rtts, rtt)
		return
	}
	f.rtts[f.rttHead] = rtt
	f.rttHead = (f.rttHead + 1) % f.cfg.WindowSize
}

func (f *Filter) publish() {
	f.snap.Store(&Snapshot{
		Offset:     f.offset,
		Drift:      f.drift,
		LastUpdate: f.last,
		Updates:    f.updates,
		Variance:   f.p00,
	})
}

// percentile returns the linearly interpolated p-quantile of samples.
func percentile(samples []float64, p float64) float64 {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
