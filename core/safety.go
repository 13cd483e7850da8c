package core

import (
	"fmt"
	"sync"
	"time"
)

// SafetyMonitor enforces the two hardware safety limits of the link: a
// per-burst eye-safe power ceiling derived from the emitter's laser class,
// and an emitted-energy budget over the life of the link. Every transmission
// reports its power and duration here; once the accumulated energy exceeds
// the budget the monitor latches an emergency stop and further emission is
// refused until Reset.
type SafetyMonitor struct {
	budgetJoules float64
	ceilingMW    float64
	sink         EventSink

	mu            sync.Mutex
	emittedJoules float64
	violations    int
	stopped       bool
}

// DefaultEnergyBudgetJoules is the stock emission budget.
const DefaultEnergyBudgetJoules = 1000.0

// EyeSafeMarginFactor scales the bare Class-2/Class-1 exposure limits up to
// the commanded-power ceiling, crediting beam divergence and the short
// burst lengths the transmit path produces.
const EyeSafeMarginFactor = 10.0

// EyeSafeCeilingMW returns the base eye-safe exposure limit for one laser
// type in milliwatts, before the margin factor. Visible wavelengths carry the
// Class-2 1 mW blink-reflex limit; infrared gets no blink protection but a
// larger retinal spot, ultraviolet is capped hardest.
func EyeSafeCeilingMW(t LaserType) float64 {
	switch t {
	case LaserInfrared:
		return 10
	case LaserUltraviolet:
		return 0.5
	default:
		return 1
	}
}

// NewSafetyMonitor builds a monitor with the given budget in joules for an
// emitter of the given laser type. A non-positive budget selects the
// default. A nil sink discards events.
func NewSafetyMonitor(budgetJoules float64, laser LaserType, sink EventSink) *SafetyMonitor {
	if budgetJoules <= 0 {
		budgetJoules = DefaultEnergyBudgetJoules
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &SafetyMonitor{
		budgetJoules: budgetJoules,
		ceilingMW:    EyeSafeCeilingMW(laser) * EyeSafeMarginFactor,
		sink:         sink,
	}
}

// PowerCeilingMW reports the commanded-power ceiling this monitor enforces.
func (s *SafetyMonitor) PowerCeilingMW() float64 { return s.ceilingMW }

// CheckPower verifies a commanded power against the eye-safe ceiling and the
// emergency-stop latch. A power above the ceiling counts as a violation and
// is rejected with ErrHardwarePowerExceeded.
func (s *SafetyMonitor) CheckPower(powerMW float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("emission stopped by safety monitor")
	}
	if powerMW > s.ceilingMW {
		s.violations++
		s.sink.Publish(Event{
			Type:      EventSafety,
			Timestamp: time.Now(),
			Message:   "commanded power above eye-safe ceiling",
			Attrs: map[string]string{
				"power_mw":   fmt.Sprintf("%.3f", powerMW),
				"ceiling_mw": fmt.Sprintf("%.3f", s.ceilingMW),
			},
		})
		return fmt.Errorf("%w: %.2f mW exceeds eye-safe ceiling %.2f mW",
			ErrHardwarePowerExceeded, powerMW, s.ceilingMW)
	}
	return nil
}

// Allowed reports whether emission may proceed.
func (s *SafetyMonitor) Allowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// RecordEmission accounts one emission burst: energy = power × duration.
// Crossing the budget latches the emergency stop and returns an error; the
// burst that crossed is still accounted.
func (s *SafetyMonitor) RecordEmission(powerMW float64, d time.Duration) error {
	if powerMW < 0 || d < 0 {
		return fmt.Errorf("emission power and duration must be non-negative")
	}
	joules := powerMW / 1000 * d.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.emittedJoules += joules
	if s.emittedJoules <= s.budgetJoules {
		return nil
	}

	s.violations++
	if !s.stopped {
		s.stopped = true
		s.sink.Publish(Event{
			Type:      EventSafety,
			Timestamp: time.Now(),
			Message:   "energy budget exceeded, emission stopped",
			Attrs: map[string]string{
				"emitted_joules": fmt.Sprintf("%.3f", s.emittedJoules),
				"budget_joules":  fmt.Sprintf("%.3f", s.budgetJoules),
			},
		})
	}
	return fmt.Errorf("emitted %.3f J exceeds budget %.3f J", s.emittedJoules, s.budgetJoules)
}

// Snapshot reports accumulated energy, violation count, and stop state.
func (s *SafetyMonitor) Snapshot() (emittedJoules float64, violations int, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emittedJoules, s.violations, s.stopped
}

// Reset clears accumulated energy and releases the emergency stop. Intended
// for operator intervention after inspecting the violation.
func (s *SafetyMonitor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasStopped := s.stopped
	s.emittedJoules = 0
	s.stopped = false
	if wasStopped {
		s.sink.Publish(Event{
			Type:      EventSafety,
			Timestamp: time.Now(),
			Message:   "safety monitor reset by operator",
		})
	}
}
