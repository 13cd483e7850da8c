package core

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// AlignmentState is the beam-pointing lifecycle state.
type AlignmentState string

const (
	AlignmentUnlocked  AlignmentState = "unlocked"
	AlignmentSearching AlignmentState = "searching"
	AlignmentLocked    AlignmentState = "locked"
	AlignmentLost      AlignmentState = "lost"
	AlignmentShutdown  AlignmentState = "shutdown"
)

// AlignmentSample is one pointing-feedback reading: the angular error between
// the beam axis and the remote terminal, in degrees.
type AlignmentSample struct {
	AzimuthErrorDeg   float64   `json:"AzimuthErrorDeg"`
	ElevationErrorDeg float64   `json:"ElevationErrorDeg"`
	Timestamp         time.Time `json:"Timestamp"`
}

// errorMagnitude is the combined angular error of a sample.
func (s AlignmentSample) errorMagnitude() float64 {
	return math.Hypot(s.AzimuthErrorDeg, s.ElevationErrorDeg)
}

// AlignmentStatus is a point-in-time snapshot of the tracker.
type AlignmentStatus struct {
	State             AlignmentState `json:"State"`
	IsAligned         bool           `json:"IsAligned"`
	AzimuthErrorDeg   float64        `json:"AzimuthErrorDeg"`
	ElevationErrorDeg float64        `json:"ElevationErrorDeg"`
	LockDuration      time.Duration  `json:"LockDuration"`
	LastSample        time.Time      `json:"LastSample"`
}

// AlignmentConfig tunes the lock hysteresis. The loss tolerance must exceed
// the lock tolerance so that jitter at the lock boundary does not flap the
// state machine.
type AlignmentConfig struct {
	// LockToleranceDeg is the combined error below which lock can be
	// acquired.
	LockToleranceDeg float64 `yaml:"lockToleranceDeg"`
	// LossToleranceDeg is the combined error above which an existing lock
	// is declared lost.
	LossToleranceDeg float64 `yaml:"lossToleranceDeg"`
	// MinDwell is how long the error must stay within the lock tolerance
	// before lock is granted.
	MinDwell time.Duration `yaml:"minDwell"`
	// FeedbackTimeout declares the lock lost when no sample arrives for
	// this long.
	FeedbackTimeout time.Duration `yaml:"feedbackTimeout"`
}

// DefaultAlignmentConfig returns the tuning used by the stock trackers:
// 0.5° lock, 1.5° loss, 300 ms dwell, 2 s feedback timeout.
func DefaultAlignmentConfig() AlignmentConfig {
	return AlignmentConfig{
		LockToleranceDeg: 0.5,
		LossToleranceDeg: 1.5,
		MinDwell:         300 * time.Millisecond,
		FeedbackTimeout:  2 * time.Second,
	}
}

// Validate checks the hysteresis ordering and that times are positive.
func (c AlignmentConfig) Validate() error {
	if c.LockToleranceDeg <= 0 {
		return fmt.Errorf("lock tolerance must be positive, got %.3f", c.LockToleranceDeg)
	}
	if c.LossToleranceDeg <= c.LockToleranceDeg {
		return fmt.Errorf("loss tolerance %.3f must exceed lock tolerance %.3f",
			c.LossToleranceDeg, c.LockToleranceDeg)
	}
	if c.MinDwell <= 0 || c.FeedbackTimeout <= 0 {
		return fmt.Errorf("dwell and feedback timeout must be positive")
	}
	return nil
}

// AlignmentTracker runs the pointing state machine. Safe for concurrent use;
// feedback arrives through OfferSample and readers poll Status.
type AlignmentTracker struct {
	cfg  AlignmentConfig
	sink EventSink
	now  func() time.Time

	mu         sync.Mutex
	state      AlignmentState
	last       AlignmentSample
	hasSample  bool
	dwellStart time.Time
	dwelling   bool
	lockedAt   time.Time
}

// NewAlignmentTracker builds a tracker in the Unlocked state. A nil sink
// discards events.
func NewAlignmentTracker(cfg AlignmentConfig, sink EventSink) (*AlignmentTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &AlignmentTracker{
		cfg:   cfg,
		sink:  sink,
		now:   time.Now,
		state: AlignmentUnlocked,
	}, nil
}

// BeginSearch starts (or restarts) acquisition. Valid from any state except
// Shutdown; restarting from Locked abandons the lock.
func (t *AlignmentTracker) BeginSearch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == AlignmentShutdown {
		return fmt.Errorf("alignment tracker is shut down")
	}
	t.transition(AlignmentSearching, "search started")
	t.dwelling = false
	t.hasSample = false
	return nil
}

// OfferSample feeds one pointing-feedback reading into the state machine.
// The error fields always record the latest sample; the state machine ignores
// samples in Unlocked and the tracker ignores them entirely in Shutdown.
func (t *AlignmentTracker) OfferSample(s AlignmentSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == AlignmentShutdown {
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = t.now()
	}
	t.expireLocked(s.Timestamp)

	t.last = s
	t.hasSample = true
	if t.state == AlignmentUnlocked {
		return
	}
	mag := s.errorMagnitude()

	// Feedback arriving in Lost restarts acquisition; Locked is only ever
	// entered from Searching.
	if t.state == AlignmentLost {
		t.transition(AlignmentSearching, "feedback resumed, reacquiring")
		t.dwelling = false
	}

	switch t.state {
	case AlignmentSearching:
		if mag >= t.cfg.LockToleranceDeg {
			t.dwelling = false
			return
		}
		if !t.dwelling {
			t.dwelling = true
			t.dwellStart = s.Timestamp
			return
		}
		if s.Timestamp.Sub(t.dwellStart) >= t.cfg.MinDwell {
			t.lockedAt = s.Timestamp
			t.transition(AlignmentLocked, "dwell satisfied")
			t.dwelling = false
		}
	case AlignmentLocked:
		// Hysteresis: errors between the two tolerances keep the lock.
		if mag > t.cfg.LossToleranceDeg {
			t.transition(AlignmentLost, "error exceeded loss tolerance")
			t.dwelling = false
		}
	}
}

// Status reports the current snapshot. A stale feedback stream (no sample
// within FeedbackTimeout) demotes Locked to Lost before reporting.
func (t *AlignmentTracker) Status() AlignmentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expireLocked(t.now())

	st := AlignmentStatus{
		State:     t.state,
		IsAligned: t.state == AlignmentLocked,
	}
	if t.hasSample {
		st.AzimuthErrorDeg = t.last.AzimuthErrorDeg
		st.ElevationErrorDeg = t.last.ElevationErrorDeg
		st.LastSample = t.last.Timestamp
	}
	if t.state == AlignmentLocked {
		st.LockDuration = t.now().Sub(t.lockedAt)
	}
	return st
}

// Shutdown moves the tracker to its terminal state. Idempotent.
func (t *AlignmentTracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == AlignmentShutdown {
		return
	}
	t.transition(AlignmentShutdown, "shutdown requested")
}

// expireLocked demotes a lock whose feedback stream has gone silent.
// Caller holds mu.
func (t *AlignmentTracker) expireLocked(now time.Time) {
	if t.state != AlignmentLocked || !t.hasSample {
		return
	}
	if now.Sub(t.last.Timestamp) > t.cfg.FeedbackTimeout {
		t.transition(AlignmentLost, "feedback timeout")
		t.dwelling = false
	}
}

// transition records a state change and emits an event. Caller holds mu.
func (t *AlignmentTracker) transition(next AlignmentState, reason string) {
	prev := t.state
	if prev == next {
		return
	}
	t.state = next
	t.sink.Publish(Event{
		Type:      EventAlignmentTransition,
		Timestamp: t.now(),
		Message:   reason,
		Attrs: map[string]string{
			"from": string(prev),
			"to":   string(next),
		},
	})
}
