package core

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestComputeProperties(t *testing.T) {
	laser, err := LaserPreset(LaserInfrared)
	if err != nil {
		t.Fatalf("LaserPreset: %v", err)
	}
	env := NewEnvironmentModel(laser.Type.WavelengthNm())
	ctrl, err := NewPowerController(laser, env, DefaultControllerConfig())
	if err != nil {
		t.Fatalf("NewPowerController: %v", err)
	}
	cfg := DefaultControllerConfig()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("commanded power never exceeds the emitter rating", prop.ForAll(
		func(distance float64) bool {
			params, err := ctrl.Compute(measurementAt(distance), alignedStatus(), "", time.Now())
			if err != nil {
				return false
			}
			return params.CommandedPowerMW > 0 && params.CommandedPowerMW <= laser.MaxPowerMW+1e-9
		},
		gen.Float64Range(0.5, 10000),
	))

	properties.Property("feasible results hold exactly the configured margin", prop.ForAll(
		func(distance float64) bool {
			params, err := ctrl.Compute(measurementAt(distance), alignedStatus(), "", time.Now())
			if err != nil {
				return false
			}
			if params.Degraded {
				return params.PredictedMarginDB < cfg.MinMarginDB
			}
			return math.Abs(params.PredictedMarginDB-cfg.MinMarginDB) < 1e-6
		},
		gen.Float64Range(0.5, 10000),
	))

	properties.Property("commanded power is monotone in distance", prop.ForAll(
		func(distance float64) bool {
			closer, err := ctrl.Compute(measurementAt(distance), alignedStatus(), "", time.Now())
			if err != nil {
				return false
			}
			farther, err := ctrl.Compute(measurementAt(distance*1.5), alignedStatus(), "", time.Now())
			if err != nil {
				return false
			}
			return farther.CommandedPowerMW >= closer.CommandedPowerMW-1e-12
		},
		gen.Float64Range(1, 5000),
	))

	properties.TestingRun(t)
}
