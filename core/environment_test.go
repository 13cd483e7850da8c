package core

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultConditionsValidate(t *testing.T) {
	if err := DefaultConditions().Validate(); err != nil {
		t.Fatalf("default conditions should validate, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeConditions(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*EnvironmentalConditions)
	}{
		{"temperature below range", func(c *EnvironmentalConditions) { c.TemperatureC = -80 }},
		{"temperature above range", func(c *EnvironmentalConditions) { c.TemperatureC = 120 }},
		{"negative humidity", func(c *EnvironmentalConditions) { c.HumidityPct = -1 }},
		{"humidity above 100", func(c *EnvironmentalConditions) { c.HumidityPct = 101 }},
		{"zero pressure", func(c *EnvironmentalConditions) { c.PressureHPa = 0 }},
		{"negative visibility", func(c *EnvironmentalConditions) { c.VisibilityM = -5 }},
		{"NaN temperature", func(c *EnvironmentalConditions) { c.TemperatureC = math.NaN() }},
		{"NaN humidity", func(c *EnvironmentalConditions) { c.HumidityPct = math.NaN() }},
		{"NaN pressure", func(c *EnvironmentalConditions) { c.PressureHPa = math.NaN() }},
		{"NaN wind speed", func(c *EnvironmentalConditions) { c.WindSpeedMps = math.NaN() }},
		{"NaN visibility", func(c *EnvironmentalConditions) { c.VisibilityM = math.NaN() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConditions()
			tc.mut(&c)
			err := c.Validate()
			if !errors.Is(err, ErrInvalidConditions) {
				t.Fatalf("Validate() = %v, want ErrInvalidConditions", err)
			}
		})
	}
}

func TestPropagationSpeedAtDefaultConditions(t *testing.T) {
	speed := PropagationSpeedMps(DefaultConditions())
	if speed < 340 || speed > 350 {
		t.Fatalf("speed at 20°C = %.2f m/s, want roughly 345", speed)
	}
}

func TestPropagationSpeedIncreasesWithTemperature(t *testing.T) {
	cold := DefaultConditions()
	cold.TemperatureC = -10
	warm := DefaultConditions()
	warm.TemperatureC = 35

	if PropagationSpeedMps(cold) >= PropagationSpeedMps(warm) {
		t.Fatalf("speed should increase with temperature: cold=%.2f warm=%.2f",
			PropagationSpeedMps(cold), PropagationSpeedMps(warm))
	}
}

func TestPropagationSpeedIncreasesWithHumidity(t *testing.T) {
	dry := DefaultConditions()
	dry.HumidityPct = 0
	humid := DefaultConditions()
	humid.HumidityPct = 100

	if PropagationSpeedMps(dry) >= PropagationSpeedMps(humid) {
		t.Fatalf("speed should increase with humidity")
	}
}

func TestAttenuationGrowsWithDistanceAndFog(t *testing.T) {
	clear := DefaultConditions()
	fog := DefaultConditions()
	fog.VisibilityM = 200

	nearLoss := AttenuationDB(clear, 10, 532)
	farLoss := AttenuationDB(clear, 1000, 532)
	if nearLoss >= farLoss {
		t.Fatalf("attenuation should grow with distance: near=%.3f far=%.3f", nearLoss, farLoss)
	}

	clearLoss := AttenuationDB(clear, 100, 532)
	fogLoss := AttenuationDB(fog, 100, 532)
	if clearLoss >= fogLoss {
		t.Fatalf("fog should attenuate more than clear air: clear=%.3f fog=%.3f", clearLoss, fogLoss)
	}
}

func TestAttenuationZeroAtZeroDistance(t *testing.T) {
	if got := AttenuationDB(DefaultConditions(), 0, 650); got != 0 {
		t.Fatalf("attenuation at zero distance = %.3f, want 0", got)
	}
}

func TestAttenuationLongerWavelengthPenetratesFog(t *testing.T) {
	fog := DefaultConditions()
	fog.VisibilityM = 500
	ir := AttenuationDB(fog, 200, 980)
	uv := AttenuationDB(fog, 200, 405)
	if ir >= uv {
		t.Fatalf("infrared should attenuate less than ultraviolet in fog: ir=%.3f uv=%.3f", ir, uv)
	}
}

func TestEnvironmentModelRejectedUpdateKeepsPrevious(t *testing.T) {
	model := NewEnvironmentModel(532)

	good := DefaultConditions()
	good.TemperatureC = 30
	if err := model.Update(good); err != nil {
		t.Fatalf("valid update failed: %v", err)
	}

	bad := DefaultConditions()
	bad.TemperatureC = 200
	if err := model.Update(bad); !errors.Is(err, ErrInvalidConditions) {
		t.Fatalf("invalid update error = %v, want ErrInvalidConditions", err)
	}

	if got := model.Current().TemperatureC; got != 30 {
		t.Fatalf("rejected update should keep previous conditions, temperature = %.1f", got)
	}
}

func TestEnvironmentModelStartsFromDefaults(t *testing.T) {
	model := NewEnvironmentModel(650)
	if got := model.Current(); got != DefaultConditions() {
		t.Fatalf("fresh model conditions = %+v, want defaults", got)
	}
	if math.Abs(model.PropagationSpeedMps()-PropagationSpeedMps(DefaultConditions())) > 1e-9 {
		t.Fatalf("model speed should match free function at same conditions")
	}
}
