package core

import "errors"

// Sentinel error kinds for the link control loop. Callers are expected to
// match these with errors.Is; wrapped messages carry the last-known context
// (distance, alignment, power) needed to decide between retry, abort, or a
// fixed-configuration fallback.
var (
	// ErrInvalidConditions marks an environmental snapshot that violates the
	// documented operating ranges. The previously accepted conditions remain
	// in effect.
	ErrInvalidConditions = errors.New("invalid environmental conditions")

	// ErrSensorTimeout is returned when no echo arrives within the bounded
	// listening window.
	ErrSensorTimeout = errors.New("range sensor timeout")

	// ErrSensorFault is returned on a hardware-reported ranging error.
	ErrSensorFault = errors.New("range sensor fault")

	// ErrInsufficientSamples is returned when an averaged measurement is
	// requested with fewer than one sample, or when outlier rejection leaves
	// no usable samples.
	ErrInsufficientSamples = errors.New("insufficient range samples")

	// ErrAlignmentRequired is returned by the power controller when asked to
	// compute link parameters against an unlocked alignment state.
	ErrAlignmentRequired = errors.New("alignment lock required")

	// ErrLinkNotReady is returned by the transmission path when send-time
	// revalidation finds the link unusable (lock lost, no parameters, or an
	// engaged safety stop).
	ErrLinkNotReady = errors.New("link not ready")

	// ErrStaleParameters is returned when the stored link parameters have
	// outlived the staleness window without a fresh adaptation tick.
	ErrStaleParameters = errors.New("stale link parameters")

	// ErrLinkBusy is returned when a send is rejected because another send
	// holds the transmitter and queueing is disabled.
	ErrLinkBusy = errors.New("link busy")

	// ErrHardwarePowerExceeded is returned when a commanded power would
	// exceed the hardware or eye-safety ceiling. This is a hard failure; no
	// degraded substitute is invented.
	ErrHardwarePowerExceeded = errors.New("hardware power ceiling exceeded")
)
