package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RangeCategory is a coarse classification of measured distance used to pick
// power profiles and modulation defaults.
type RangeCategory string

const (
	RangeNear    RangeCategory = "near"
	RangeMedium  RangeCategory = "medium"
	RangeFar     RangeCategory = "far"
	RangeExtreme RangeCategory = "extreme"
)

// RangeThresholds defines the ordered, non-overlapping category boundaries in
// metres. A distance exactly at a boundary belongs to the farther band.
type RangeThresholds struct {
	NearMaxM   float64 `json:"NearMaxM" yaml:"nearMaxM"`
	MediumMaxM float64 `json:"MediumMaxM" yaml:"mediumMaxM"`
	FarMaxM    float64 `json:"FarMaxM" yaml:"farMaxM"`
}

// DefaultRangeThresholds returns the documented default partition:
// Near < 10 m, Medium < 100 m, Far < 1000 m, Extreme beyond.
func DefaultRangeThresholds() RangeThresholds {
	return RangeThresholds{NearMaxM: 10, MediumMaxM: 100, FarMaxM: 1000}
}

// Validate checks that the boundaries are positive and strictly ordered.
func (t RangeThresholds) Validate() error {
	if t.NearMaxM <= 0 || t.MediumMaxM <= t.NearMaxM || t.FarMaxM <= t.MediumMaxM {
		return fmt.Errorf("range thresholds must be positive and strictly ordered, got %.1f/%.1f/%.1f",
			t.NearMaxM, t.MediumMaxM, t.FarMaxM)
	}
	return nil
}

// Categorize maps a non-negative distance onto exactly one category.
// Boundary values map to the farther band.
func (t RangeThresholds) Categorize(distanceM float64) RangeCategory {
	switch {
	case distanceM < t.NearMaxM:
		return RangeNear
	case distanceM < t.MediumMaxM:
		return RangeMedium
	case distanceM < t.FarMaxM:
		return RangeFar
	default:
		return RangeExtreme
	}
}

// EchoReturn is the raw result of one ranging pulse as reported by hardware.
type EchoReturn struct {
	// RoundTrip is the measured pulse round-trip time.
	RoundTrip time.Duration
	// SignalStrength is the normalized echo strength in [0, 1].
	SignalStrength float64
}

// RangeHardware abstracts the ranging transducer. Ping emits a pulse and
// blocks, up to timeout, for the echo. Implementations report
// ErrSensorTimeout when no echo arrives in time and ErrSensorFault on a
// device-reported error; they never fabricate a return.
type RangeHardware interface {
	Ping(ctx context.Context, timeout time.Duration) (EchoReturn, error)
}

// RangeMeasurement is a single corrected distance estimate. Read-only once
// created.
type RangeMeasurement struct {
	DistanceM     float64       `json:"DistanceM"`
	UncertaintyM  float64       `json:"UncertaintyM"`
	SignalQuality float64       `json:"SignalQuality"`
	Timestamp     time.Time     `json:"Timestamp"`
	Category      RangeCategory `json:"Category"`
}

// RangeSensorConfig carries the explicit tuning surface of the sensor.
// Zero values are replaced by documented defaults.
type RangeSensorConfig struct {
	// TimingResolution is the hardware timestamping resolution; it sets the
	// floor of the per-measurement uncertainty.
	TimingResolution time.Duration `yaml:"timingResolution"`
	// EchoTimeout bounds the wait for a single echo.
	EchoTimeout time.Duration `yaml:"echoTimeout"`
	// OutlierSigma is the number of standard deviations from the sample
	// median beyond which a sample is discarded during averaging.
	OutlierSigma float64 `yaml:"outlierSigma"`
	// Thresholds is the range-category partition.
	Thresholds RangeThresholds `yaml:"thresholds"`
}

func (c RangeSensorConfig) withDefaults() RangeSensorConfig {
	if c.TimingResolution <= 0 {
		c.TimingResolution = time.Microsecond
	}
	if c.EchoTimeout <= 0 {
		c.EchoTimeout = 1200 * time.Millisecond
	}
	if c.OutlierSigma <= 0 {
		c.OutlierSigma = 2.0
	}
	if c.Thresholds == (RangeThresholds{}) {
		c.Thresholds = DefaultRangeThresholds()
	}
	return c
}

// RangeSensor performs time-of-flight measurements corrected by the
// environmental model.
type RangeSensor struct {
	cfg RangeSensorConfig
	hw  RangeHardware
	env *EnvironmentModel

	now func() time.Time
}

// NewRangeSensor builds a sensor over the given hardware and environment
// model.
func NewRangeSensor(hw RangeHardware, env *EnvironmentModel, cfg RangeSensorConfig) (*RangeSensor, error) {
	if hw == nil {
		return nil, fmt.Errorf("range sensor requires hardware")
	}
	if env == nil {
		return nil, fmt.Errorf("range sensor requires an environment model")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	return &RangeSensor{cfg: cfg, hw: hw, env: env, now: time.Now}, nil
}

// MeasureOnce emits a single pulse and converts the echo round-trip into a
// corrected distance: distance = corrected_speed × elapsed / 2. The
// uncertainty derives from the timing resolution widened by the current
// attenuation estimate, so poor visibility reports wider error bars.
// Hardware failures are surfaced, never defaulted.
func (s *RangeSensor) MeasureOnce(ctx context.Context) (RangeMeasurement, error) {
	echo, err := s.hw.Ping(ctx, s.cfg.EchoTimeout)
	if err != nil {
		return RangeMeasurement{}, fmt.Errorf("range ping: %w", err)
	}

	speed := s.env.PropagationSpeedMps()
	distance := speed * echo.RoundTrip.Seconds() / 2
	atten := s.env.AttenuationDB(distance)

	uncertainty := s.cfg.TimingResolution.Seconds() * speed / 2
	uncertainty *= 1 + atten/10

	quality := echo.SignalStrength
	if quality < 0 {
		quality = 0
	} else if quality > 1 {
		quality = 1
	}

	return RangeMeasurement{
		DistanceM:     distance,
		UncertaintyM:  uncertainty,
		SignalQuality: quality,
		Timestamp:     s.now(),
		Category:      s.cfg.Thresholds.Categorize(distance),
	}, nil
}

// MeasureAveraged takes samples single measurements, discards statistical
// outliers (beyond OutlierSigma standard deviations from the sample median),
// and averages the survivors. SignalQuality reports the fraction of samples
// retained. At least one sample must survive; a hardware failure on any
// single measurement aborts the averaged measurement and is surfaced as-is.
func (s *RangeSensor) MeasureAveraged(ctx context.Context, samples int) (RangeMeasurement, error) {
	if samples < 1 {
		return RangeMeasurement{}, fmt.Errorf("%w: requested %d samples", ErrInsufficientSamples, samples)
	}

	distances := make([]float64, 0, samples)
	uncertainties := make([]float64, 0, samples)
	var last RangeMeasurement
	for i := 0; i < samples; i++ {
		m, err := s.MeasureOnce(ctx)
		if err != nil {
			return RangeMeasurement{}, fmt.Errorf("sample %d of %d: %w", i+1, samples, err)
		}
		distances = append(distances, m.DistanceM)
		uncertainties = append(uncertainties, m.UncertaintyM)
		last = m
	}

	kept := rejectOutliers(distances, s.cfg.OutlierSigma)
	if len(kept) == 0 {
		return RangeMeasurement{}, fmt.Errorf("%w: all %d samples rejected as outliers", ErrInsufficientSamples, samples)
	}

	mean := stat.Mean(kept, nil)
	meanUncertainty := stat.Mean(uncertainties, nil) / math.Sqrt(float64(len(kept)))

	return RangeMeasurement{
		DistanceM:     mean,
		UncertaintyM:  meanUncertainty,
		SignalQuality: float64(len(kept)) / float64(samples),
		Timestamp:     last.Timestamp,
		Category:      s.cfg.Thresholds.Categorize(mean),
	}, nil
}

// rejectOutliers returns the samples within sigma standard deviations of the
// sample median. The median sample itself always survives, so a non-empty
// input yields a non-empty result.
func rejectOutliers(samples []float64, sigma float64) []float64 {
	if len(samples) < 3 {
		return samples
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	sd := stat.StdDev(samples, nil)
	if sd == 0 || math.IsNaN(sd) {
		return samples
	}

	kept := samples[:0:0]
	for _, v := range samples {
		if math.Abs(v-median) <= sigma*sd {
			kept = append(kept, v)
		}
	}
	return kept
}
