package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

// Duration wraps time.Duration so config files can say "300ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the linkd daemon configuration, loaded from YAML.
type Config struct {
	// Hardware selects the head driver: "serial" or "sim".
	Hardware string `yaml:"hardware"`
	// SerialDevice is the head's device path when Hardware is "serial".
	SerialDevice string `yaml:"serialDevice"`
	// SimDistanceM places the simulated target when Hardware is "sim".
	SimDistanceM float64 `yaml:"simDistanceM"`
	// SimSeed seeds the simulated head for reproducible runs.
	SimSeed int64 `yaml:"simSeed"`

	// MetricsAddr is the Prometheus /metrics listen address. Empty
	// disables the metrics server.
	MetricsAddr string `yaml:"metricsAddr"`
	// AuditPath is the SQLite audit log location. Empty disables the
	// audit trail.
	AuditPath string `yaml:"auditPath"`

	// Environment overrides the default clear-air conditions at startup.
	// Omitted fields fall back to the defaults.
	Environment *EnvironmentConfig `yaml:"environment"`

	Link LinkConfig `yaml:"link"`
}

// EnvironmentConfig is the optional atmospheric-conditions block.
type EnvironmentConfig struct {
	TemperatureC *float64 `yaml:"temperatureC"`
	HumidityPct  *float64 `yaml:"humidityPct"`
	PressureHPa  *float64 `yaml:"pressureHPa"`
	WindSpeedMps *float64 `yaml:"windSpeedMps"`
	VisibilityM  *float64 `yaml:"visibilityM"`
}

// Conditions merges the block over the stock defaults.
func (e *EnvironmentConfig) Conditions() core.EnvironmentalConditions {
	c := core.DefaultConditions()
	if e == nil {
		return c
	}
	if e.TemperatureC != nil {
		c.TemperatureC = *e.TemperatureC
	}
	if e.HumidityPct != nil {
		c.HumidityPct = *e.HumidityPct
	}
	if e.PressureHPa != nil {
		c.PressureHPa = *e.PressureHPa
	}
	if e.WindSpeedMps != nil {
		c.WindSpeedMps = *e.WindSpeedMps
	}
	if e.VisibilityM != nil {
		c.VisibilityM = *e.VisibilityM
	}
	return c
}

// LinkConfig mirrors core.LinkProfile with config-file friendly durations.
type LinkConfig struct {
	Laser struct {
		Type          string   `yaml:"type"`
		Modulations   []string `yaml:"modulations"`
		MaxPowerMW    float64  `yaml:"maxPowerMW"`
		NominalRangeM float64  `yaml:"nominalRangeM"`
	} `yaml:"laser"`
	Sensor struct {
		TimingResolution Duration `yaml:"timingResolution"`
		EchoTimeout      Duration `yaml:"echoTimeout"`
		OutlierSigma     float64  `yaml:"outlierSigma"`
		Thresholds       struct {
			NearMaxM   float64 `yaml:"nearMaxM"`
			MediumMaxM float64 `yaml:"mediumMaxM"`
			FarMaxM    float64 `yaml:"farMaxM"`
		} `yaml:"thresholds"`
	} `yaml:"sensor"`
	Alignment struct {
		LockToleranceDeg float64  `yaml:"lockToleranceDeg"`
		LossToleranceDeg float64  `yaml:"lossToleranceDeg"`
		MinDwell         Duration `yaml:"minDwell"`
		FeedbackTimeout  Duration `yaml:"feedbackTimeout"`
	} `yaml:"alignment"`
	Controller struct {
		MinMarginDB  float64 `yaml:"minMarginDB"`
		SystemGainDB float64 `yaml:"systemGainDB"`
		SpreadRefDB  float64 `yaml:"spreadRefDB"`
	} `yaml:"controller"`

	TickInterval       Duration `yaml:"tickInterval"`
	StalenessWindow    Duration `yaml:"stalenessWindow"`
	SampleCount        int      `yaml:"sampleCount"`
	QueueSends         bool     `yaml:"queueSends"`
	EnergyBudgetJoules float64  `yaml:"energyBudgetJoules"`
}

// DefaultConfig returns a configuration that runs the simulated head with
// the green laser preset.
func DefaultConfig() Config {
	cfg := Config{
		Hardware:     "sim",
		SimDistanceM: 50,
		SimSeed:      1,
		MetricsAddr:  ":9465",
		AuditPath:    "linkd-audit.db",
	}
	cfg.Link.Laser.Type = string(core.LaserGreen)
	return cfg
}

// LoadConfig reads path, layering its YAML over the defaults. An empty path
// returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the core constructors cannot.
func (c Config) Validate() error {
	switch c.Hardware {
	case "serial":
		if c.SerialDevice == "" {
			return fmt.Errorf("serial hardware requires serialDevice")
		}
	case "sim":
		if c.SimDistanceM <= 0 {
			return fmt.Errorf("sim hardware requires a positive simDistanceM")
		}
	default:
		return fmt.Errorf("unknown hardware %q (want serial or sim)", c.Hardware)
	}
	if core.LaserType(c.Link.Laser.Type).WavelengthNm() == 0 {
		return fmt.Errorf("unknown laser type %q", c.Link.Laser.Type)
	}
	return nil
}

// Profile converts the file representation into the core link profile.
// A laser section without modulations selects the type's preset.
func (c Config) Profile() (core.LinkProfile, error) {
	laserType := core.LaserType(c.Link.Laser.Type)
	var laser core.LaserConfiguration
	var err error
	if len(c.Link.Laser.Modulations) == 0 {
		laser, err = core.LaserPreset(laserType)
	} else {
		schemes := make([]core.ModulationScheme, 0, len(c.Link.Laser.Modulations))
		for _, s := range c.Link.Laser.Modulations {
			schemes = append(schemes, core.ModulationScheme(s))
		}
		laser, err = core.NewLaserConfiguration(laserType, schemes, c.Link.Laser.MaxPowerMW, c.Link.Laser.NominalRangeM)
	}
	if err != nil {
		return core.LinkProfile{}, err
	}

	return core.LinkProfile{
		Laser: laser,
		Sensor: core.RangeSensorConfig{
			TimingResolution: c.Link.Sensor.TimingResolution.Std(),
			EchoTimeout:      c.Link.Sensor.EchoTimeout.Std(),
			OutlierSigma:     c.Link.Sensor.OutlierSigma,
			Thresholds: core.RangeThresholds{
				NearMaxM:   c.Link.Sensor.Thresholds.NearMaxM,
				MediumMaxM: c.Link.Sensor.Thresholds.MediumMaxM,
				FarMaxM:    c.Link.Sensor.Thresholds.FarMaxM,
			},
		},
		Alignment: core.AlignmentConfig{
			LockToleranceDeg: c.Link.Alignment.LockToleranceDeg,
			LossToleranceDeg: c.Link.Alignment.LossToleranceDeg,
			MinDwell:         c.Link.Alignment.MinDwell.Std(),
			FeedbackTimeout:  c.Link.Alignment.FeedbackTimeout.Std(),
		},
		Controller: core.ControllerConfig{
			MinMarginDB:  c.Link.Controller.MinMarginDB,
			SystemGainDB: c.Link.Controller.SystemGainDB,
			SpreadRefDB:  c.Link.Controller.SpreadRefDB,
		},
		TickInterval:       c.Link.TickInterval.Std(),
		StalenessWindow:    c.Link.StalenessWindow.Std(),
		SampleCount:        c.Link.SampleCount,
		QueueSends:         c.Link.QueueSends,
		EnergyBudgetJoules: c.Link.EnergyBudgetJoules,
	}, nil
}
