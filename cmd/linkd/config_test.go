package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "link.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Hardware != "sim" {
		t.Fatalf("default hardware = %q, want sim", cfg.Hardware)
	}
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Laser.Type != core.LaserGreen {
		t.Fatalf("default laser = %s, want green", profile.Laser.Type)
	}
	if len(profile.Laser.Modulations) == 0 {
		t.Fatalf("default laser should pick up the preset modulations")
	}
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeConfig(t, `
hardware: sim
simDistanceM: 30
link:
  laser:
    type: red
  alignment:
    lockToleranceDeg: 0.4
    lossToleranceDeg: 1.2
    minDwell: 250ms
    feedbackTimeout: 3s
  tickInterval: 1500ms
  stalenessWindow: 8s
  sampleCount: 7
  queueSends: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.TickInterval != 1500*time.Millisecond {
		t.Fatalf("tick interval = %s, want 1.5s", profile.TickInterval)
	}
	if profile.StalenessWindow != 8*time.Second {
		t.Fatalf("staleness window = %s, want 8s", profile.StalenessWindow)
	}
	if profile.Alignment.MinDwell != 250*time.Millisecond {
		t.Fatalf("min dwell = %s, want 250ms", profile.Alignment.MinDwell)
	}
	if profile.SampleCount != 7 || !profile.QueueSends {
		t.Fatalf("sampleCount/queueSends = %d/%t, want 7/true", profile.SampleCount, profile.QueueSends)
	}
	if profile.Laser.Type != core.LaserRed {
		t.Fatalf("laser = %s, want red", profile.Laser.Type)
	}
}

func TestLoadConfigExplicitModulations(t *testing.T) {
	path := writeConfig(t, `
hardware: serial
serialDevice: /dev/ttyUSB0
link:
  laser:
    type: infrared
    modulations: [ook, fsk]
    maxPowerMW: 80
    nominalRangeM: 1500
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if len(profile.Laser.Modulations) != 2 || profile.Laser.MaxPowerMW != 80 {
		t.Fatalf("laser = %+v, want the two listed schemes at 80 mW", profile.Laser)
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
hardware: sim
simDistanceM: 25
environment:
  temperatureC: -5
  visibilityM: 800
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	c := cfg.Environment.Conditions()
	if c.TemperatureC != -5 || c.VisibilityM != 800 {
		t.Fatalf("conditions = %+v, want overridden temperature and visibility", c)
	}
	// Omitted fields keep the clear-air defaults.
	if c.PressureHPa != 1013.25 || c.HumidityPct != 50 {
		t.Fatalf("conditions = %+v, want default pressure and humidity", c)
	}
}

func TestEnvironmentConfigNilGivesDefaults(t *testing.T) {
	var e *EnvironmentConfig
	if c := e.Conditions(); c != core.DefaultConditions() {
		t.Fatalf("nil block should yield the defaults, got %+v", c)
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown hardware", "hardware: carrier-pigeon\n"},
		{"serial without device", "hardware: serial\n"},
		{"unknown laser", "hardware: sim\nsimDistanceM: 10\nlink:\n  laser:\n    type: maser\n"},
		{"bad duration", "hardware: sim\nsimDistanceM: 10\nlink:\n  tickInterval: soon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("LoadConfig should reject %s", tc.name)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing file should error")
	}
}

func TestProfileRejectsUnknownModulation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Link.Laser.Modulations = []string{"semaphore"}
	cfg.Link.Laser.MaxPowerMW = 5
	if _, err := cfg.Profile(); err == nil {
		t.Fatalf("Profile should reject unknown modulation schemes")
	}
}
