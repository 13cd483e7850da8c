// Package simrange provides a deterministic in-process stand-in for the
// serial rangefinder/laser head, for demos and tests that run without
// hardware.
package simrange

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

// Head simulates a target at a configurable distance. Echo round-trips are
// derived from the true acoustic geometry with seeded Gaussian timing noise,
// so repeated runs with the same seed reproduce the same measurements.
type Head struct {
	mu sync.Mutex

	rng        *rand.Rand
	distanceM  float64
	speedMps   float64
	jitter     time.Duration
	dropEvery  int
	pingCount  int
	emitted    [][]byte
	lastPower  float64
	lastScheme core.ModulationScheme
}

// Option tweaks the simulated head.
type Option func(*Head)

// WithJitter adds Gaussian timing noise with the given standard deviation to
// every echo.
func WithJitter(sigma time.Duration) Option {
	return func(h *Head) { h.jitter = sigma }
}

// WithDropEvery makes every nth ping time out, simulating a flaky echo path.
func WithDropEvery(n int) Option {
	return func(h *Head) { h.dropEvery = n }
}

// WithPropagationSpeed overrides the propagation speed used to synthesize
// round-trips. Defaults to the speed of sound in default conditions.
func WithPropagationSpeed(speedMps float64) Option {
	return func(h *Head) { h.speedMps = speedMps }
}

// New builds a simulated head with a target at distanceM.
func New(seed int64, distanceM float64, opts ...Option) *Head {
	h := &Head{
		rng:       rand.New(rand.NewSource(seed)),
		distanceM: distanceM,
		speedMps:  core.PropagationSpeedMps(core.DefaultConditions()),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetDistance moves the simulated target.
func (h *Head) SetDistance(distanceM float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.distanceM = distanceM
}

// Ping implements core.RangeHardware.
func (h *Head) Ping(ctx context.Context, timeout time.Duration) (core.EchoReturn, error) {
	if err := ctx.Err(); err != nil {
		return core.EchoReturn{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pingCount++
	if h.dropEvery > 0 && h.pingCount%h.dropEvery == 0 {
		return core.EchoReturn{}, core.ErrSensorTimeout
	}

	roundTrip := time.Duration(2 * h.distanceM / h.speedMps * float64(time.Second))
	if h.jitter > 0 {
		roundTrip += time.Duration(h.rng.NormFloat64() * float64(h.jitter))
		if roundTrip < 0 {
			roundTrip = 0
		}
	}
	// Echo strength falls off with distance, floored so the echo never
	// vanishes entirely.
	strength := math.Max(0.1, 1-h.distanceM/2000)
	return core.EchoReturn{RoundTrip: roundTrip, SignalStrength: strength}, nil
}

// Transmit implements core.LaserEmitter by recording the frame.
func (h *Head) Transmit(ctx context.Context, frame []byte, powerMW float64, scheme core.ModulationScheme) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := make([]byte, len(frame))
	copy(copied, frame)
	h.emitted = append(h.emitted, copied)
	h.lastPower = powerMW
	h.lastScheme = scheme
	return nil
}

// EmittedFrames returns the frames transmitted so far.
func (h *Head) EmittedFrames() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.emitted))
	copy(out, h.emitted)
	return out
}

// LastEmission reports the power and scheme of the most recent frame.
func (h *Head) LastEmission() (float64, core.ModulationScheme) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPower, h.lastScheme
}

// AlignmentFeed produces synthetic pointing feedback converging toward lock:
// each sample's error shrinks geometrically with seeded noise. Useful for
// demos that need the tracker to acquire on its own.
type AlignmentFeed struct {
	mu       sync.Mutex
	rng      *rand.Rand
	errDeg   float64
	decay    float64
	noiseDeg float64
}

// NewAlignmentFeed starts at initialErrDeg combined error, shrinking by
// decay per sample with Gaussian noise of noiseDeg.
func NewAlignmentFeed(seed int64, initialErrDeg, decay, noiseDeg float64) *AlignmentFeed {
	return &AlignmentFeed{
		rng:      rand.New(rand.NewSource(seed)),
		errDeg:   initialErrDeg,
		decay:    decay,
		noiseDeg: noiseDeg,
	}
}

// Next returns the next pointing sample.
func (f *AlignmentFeed) Next(now time.Time) core.AlignmentSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errDeg *= f.decay
	az := f.errDeg/math.Sqrt2 + f.rng.NormFloat64()*f.noiseDeg
	el := f.errDeg/math.Sqrt2 + f.rng.NormFloat64()*f.noiseDeg
	return core.AlignmentSample{AzimuthErrorDeg: az, ElevationErrorDeg: el, Timestamp: now}
}
