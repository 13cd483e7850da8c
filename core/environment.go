package core

import (
	"fmt"
	"math"
	"sync/atomic"
)

// EnvironmentalConditions is an immutable snapshot of ambient conditions used
// for propagation-speed correction and attenuation estimates. Snapshots are
// replaced wholesale on update, never partially mutated.
type EnvironmentalConditions struct {
	TemperatureC float64 `json:"TemperatureC"`
	HumidityPct  float64 `json:"HumidityPct"`
	PressureHPa  float64 `json:"PressureHPa"`
	WindSpeedMps float64 `json:"WindSpeedMps"`
	VisibilityM  float64 `json:"VisibilityM"`
}

// DefaultConditions returns standard clear-air conditions at 20°C.
func DefaultConditions() EnvironmentalConditions {
	return EnvironmentalConditions{
		TemperatureC: 20.0,
		HumidityPct:  50.0,
		PressureHPa:  1013.25,
		WindSpeedMps: 0.0,
		VisibilityM:  10000.0,
	}
}

// Validate rejects conditions outside the documented operating ranges.
// Values are never clamped; an invalid snapshot is refused in full.
func (c EnvironmentalConditions) Validate() error {
	for name, v := range map[string]float64{
		"temperature": c.TemperatureC,
		"humidity":    c.HumidityPct,
		"pressure":    c.PressureHPa,
		"wind speed":  c.WindSpeedMps,
		"visibility":  c.VisibilityM,
	} {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: %s is NaN", ErrInvalidConditions, name)
		}
	}
	if c.TemperatureC < -60 || c.TemperatureC > 85 {
		return fmt.Errorf("%w: temperature %.1f°C outside [-60, 85]", ErrInvalidConditions, c.TemperatureC)
	}
	if c.HumidityPct < 0 || c.HumidityPct > 100 {
		return fmt.Errorf("%w: humidity %.1f%% outside [0, 100]", ErrInvalidConditions, c.HumidityPct)
	}
	if c.PressureHPa <= 0 {
		return fmt.Errorf("%w: pressure %.1f hPa must be positive", ErrInvalidConditions, c.PressureHPa)
	}
	if c.VisibilityM < 0 {
		return fmt.Errorf("%w: visibility %.1f m must be non-negative", ErrInvalidConditions, c.VisibilityM)
	}
	return nil
}

// PropagationSpeedMps converts ambient conditions into a corrected speed of
// sound in metres per second. The base dependence is linear in temperature
// (331.3 + 0.606·T); humidity contributes a small multiplicative increase,
// pressure a second-order multiplicative term, and wind a small additive
// component along the beam.
func PropagationSpeedMps(c EnvironmentalConditions) float64 {
	base := 331.3 + 0.606*c.TemperatureC
	humidity := 1.0 + 0.000012*c.HumidityPct*math.Sqrt(c.HumidityPct)
	pressure := math.Sqrt(c.PressureHPa / 1013.25)
	return base*humidity*pressure + 0.001*c.WindSpeedMps
}

// AttenuationDB estimates atmospheric attenuation over distanceM metres for a
// carrier at wavelengthNm, using the Kruse empirical visibility model:
//
//	α = (3.91 / V_km) · (λ / 550 nm)^−q  [dB/km]
//
// where q depends on the visibility band. Attenuation grows with distance and
// shrinks with visibility; fog and rain (visibility under ~1 km) produce a
// materially higher figure that downstream components use to reject marginal
// link parameters.
func AttenuationDB(c EnvironmentalConditions, distanceM, wavelengthNm float64) float64 {
	if distanceM <= 0 {
		return 0
	}
	visKm := c.VisibilityM / 1000.0
	if visKm < 0.05 {
		visKm = 0.05 // below ~50 m visibility the model is off the charts anyway
	}
	var q float64
	switch {
	case visKm > 50:
		q = 1.6
	case visKm > 6:
		q = 1.3
	default:
		q = 0.585 * math.Cbrt(visKm)
	}
	perKm := (3.91 / visKm) * math.Pow(wavelengthNm/550.0, -q)
	return perKm * distanceM / 1000.0
}

// EnvironmentModel holds the active environmental snapshot for one link and
// derives propagation and attenuation corrections from it. Updates replace
// the snapshot atomically; a rejected update leaves the previous snapshot in
// effect.
type EnvironmentModel struct {
	wavelengthNm float64
	current      atomic.Pointer[EnvironmentalConditions]
}

// NewEnvironmentModel seeds the model with default conditions for a carrier
// at the given wavelength.
func NewEnvironmentModel(wavelengthNm float64) *EnvironmentModel {
	m := &EnvironmentModel{wavelengthNm: wavelengthNm}
	cond := DefaultConditions()
	m.current.Store(&cond)
	return m
}

// Update validates and atomically installs a new conditions snapshot.
// On validation failure the previous conditions remain the effective ones.
func (m *EnvironmentModel) Update(c EnvironmentalConditions) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.current.Store(&c)
	return nil
}

// Current returns the active conditions snapshot.
func (m *EnvironmentModel) Current() EnvironmentalConditions {
	return *m.current.Load()
}

// PropagationSpeedMps returns the corrected propagation speed under the
// active conditions.
func (m *EnvironmentModel) PropagationSpeedMps() float64 {
	return PropagationSpeedMps(m.Current())
}

// AttenuationDB returns the attenuation estimate over distanceM under the
// active conditions at the model's carrier wavelength.
func (m *EnvironmentModel) AttenuationDB(distanceM float64) float64 {
	return AttenuationDB(m.Current(), distanceM, m.wavelengthNm)
}
