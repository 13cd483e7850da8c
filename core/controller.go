package core

import (
	"fmt"
	"math"
	"time"
)

// LaserType identifies the emitter diode family.
type LaserType string

const (
	LaserRed         LaserType = "red"
	LaserGreen       LaserType = "green"
	LaserBlue        LaserType = "blue"
	LaserInfrared    LaserType = "infrared"
	LaserUltraviolet LaserType = "ultraviolet"
)

// WavelengthNm returns the nominal emission wavelength of the laser type.
func (t LaserType) WavelengthNm() float64 {
	switch t {
	case LaserRed:
		return 650
	case LaserGreen:
		return 532
	case LaserBlue:
		return 450
	case LaserInfrared:
		return 980
	case LaserUltraviolet:
		return 405
	default:
		return 0
	}
}

// ModulationScheme is an on-air encoding the emitter supports. Schemes are
// ordered by robustness: later schemes tolerate a weaker received signal but
// cost more link budget in processing overhead.
type ModulationScheme string

const (
	ModulationOOK          ModulationScheme = "ook"
	ModulationPWM          ModulationScheme = "pwm"
	ModulationFSK          ModulationScheme = "fsk"
	ModulationManchester   ModulationScheme = "manchester"
	ModulationQRProjection ModulationScheme = "qr_projection"
)

// FrameSize returns the payload bytes carried per frame under the scheme.
func (m ModulationScheme) FrameSize() int {
	switch m {
	case ModulationOOK:
		return 32
	case ModulationPWM:
		return 48
	case ModulationFSK:
		return 64
	case ModulationManchester:
		return 96
	case ModulationQRProjection:
		return 256
	default:
		return 0
	}
}

// receiverSensitivityDBm is the minimum received power at which the scheme
// still decodes.
func (m ModulationScheme) receiverSensitivityDBm() (float64, bool) {
	switch m {
	case ModulationOOK:
		return -30, true
	case ModulationPWM:
		return -33, true
	case ModulationFSK:
		return -36, true
	case ModulationManchester:
		return -39, true
	case ModulationQRProjection:
		return -45, true
	default:
		return 0, false
	}
}

// overheadDB is the extra transmit budget the scheme's coding and symbol
// shaping consume.
func (m ModulationScheme) overheadDB() float64 {
	switch m {
	case ModulationPWM:
		return 4
	case ModulationFSK:
		return 8
	case ModulationManchester:
		return 12
	case ModulationQRProjection:
		return 20
	default:
		return 0
	}
}

// robustness orders schemes by how weak a signal they tolerate.
func (m ModulationScheme) robustness() int {
	switch m {
	case ModulationOOK:
		return 0
	case ModulationPWM:
		return 1
	case ModulationFSK:
		return 2
	case ModulationManchester:
		return 3
	case ModulationQRProjection:
		return 4
	default:
		return -1
	}
}

// LaserConfiguration describes the installed emitter hardware.
type LaserConfiguration struct {
	Type        LaserType          `json:"Type" yaml:"type"`
	Modulations []ModulationScheme `json:"Modulations" yaml:"modulations"`
	MaxPowerMW  float64            `json:"MaxPowerMW" yaml:"maxPowerMW"`
	// NominalRangeM is the advertised working distance at full power in
	// clear air, used for diagnostics only.
	NominalRangeM float64 `json:"NominalRangeM" yaml:"nominalRangeM"`
}

// NewLaserConfiguration validates and returns an emitter description. At
// least one modulation scheme is required and every scheme must be known.
func NewLaserConfiguration(t LaserType, modulations []ModulationScheme, maxPowerMW, nominalRangeM float64) (LaserConfiguration, error) {
	if t.WavelengthNm() == 0 {
		return LaserConfiguration{}, fmt.Errorf("unknown laser type %q", t)
	}
	if maxPowerMW <= 0 {
		return LaserConfiguration{}, fmt.Errorf("max power must be positive, got %.2f mW", maxPowerMW)
	}
	if len(modulations) == 0 {
		return LaserConfiguration{}, fmt.Errorf("at least one modulation scheme is required")
	}
	for _, m := range modulations {
		if _, ok := m.receiverSensitivityDBm(); !ok {
			return LaserConfiguration{}, fmt.Errorf("unknown modulation scheme %q", m)
		}
	}
	return LaserConfiguration{
		Type:          t,
		Modulations:   modulations,
		MaxPowerMW:    maxPowerMW,
		NominalRangeM: nominalRangeM,
	}, nil
}

// LaserPreset returns the stock emitter description for a laser type.
func LaserPreset(t LaserType) (LaserConfiguration, error) {
	switch t {
	case LaserRed:
		return NewLaserConfiguration(t, []ModulationScheme{ModulationOOK, ModulationPWM, ModulationManchester}, 5, 100)
	case LaserGreen:
		return NewLaserConfiguration(t, []ModulationScheme{ModulationOOK, ModulationPWM, ModulationFSK, ModulationManchester}, 20, 500)
	case LaserBlue:
		return NewLaserConfiguration(t, []ModulationScheme{ModulationOOK, ModulationFSK, ModulationQRProjection}, 50, 800)
	case LaserInfrared:
		return NewLaserConfiguration(t, []ModulationScheme{ModulationOOK, ModulationPWM, ModulationFSK, ModulationManchester, ModulationQRProjection}, 100, 2000)
	case LaserUltraviolet:
		return NewLaserConfiguration(t, []ModulationScheme{ModulationOOK, ModulationManchester}, 2, 50)
	default:
		return LaserConfiguration{}, fmt.Errorf("unknown laser type %q", t)
	}
}

// LinkParameters is one computed operating point for the link. Immutable
// once produced; the adaptive loop swaps whole snapshots.
type LinkParameters struct {
	CommandedPowerMW  float64          `json:"CommandedPowerMW"`
	ActiveModulation  ModulationScheme `json:"ActiveModulation"`
	PredictedMarginDB float64          `json:"PredictedMarginDB"`
	DataRateBps       int              `json:"DataRateBps"`
	Degraded          bool             `json:"Degraded"`
	RangeCategory     RangeCategory    `json:"RangeCategory"`
	ComputedAt        time.Time        `json:"ComputedAt"`
}

// PowerProfile bounds one range category: the commanded-power ceiling the
// category permits and the data rate the link runs there.
type PowerProfile struct {
	MaxPowerMW  float64 `yaml:"maxPowerMW"`
	DataRateBps int     `yaml:"dataRateBps"`
}

// DefaultPowerProfiles returns the stock per-category bounds. Nearby targets
// cap power hard and run fast; distant ones may draw the full emitter rating
// at drastically reduced rates.
func DefaultPowerProfiles() map[RangeCategory]PowerProfile {
	return map[RangeCategory]PowerProfile{
		RangeNear:    {MaxPowerMW: 5, DataRateBps: 115200},
		RangeMedium:  {MaxPowerMW: 50, DataRateBps: 57600},
		RangeFar:     {MaxPowerMW: 500, DataRateBps: 9600},
		RangeExtreme: {MaxPowerMW: 1000, DataRateBps: 1200},
	}
}

// ControllerConfig tunes the link-budget computation.
type ControllerConfig struct {
	// MinMarginDB is the margin reserved above receiver sensitivity.
	MinMarginDB float64 `yaml:"minMarginDB"`
	// SystemGainDB aggregates transmit collimation and receive aperture
	// gain.
	SystemGainDB float64 `yaml:"systemGainDB"`
	// SpreadRefDB is the geometric spreading loss at the 1 m reference
	// distance.
	SpreadRefDB float64 `yaml:"spreadRefDB"`
	// Profiles caps power and sets the data rate per range category.
	// Nil selects DefaultPowerProfiles.
	Profiles map[RangeCategory]PowerProfile `yaml:"-"`
}

// DefaultControllerConfig returns the stock tuning: 3 dB margin, 40 dB
// system gain, 30 dB reference spreading loss, default power profiles.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinMarginDB:  3,
		SystemGainDB: 40,
		SpreadRefDB:  30,
		Profiles:     DefaultPowerProfiles(),
	}
}

// PowerController computes operating points from range, environment, and
// alignment inputs. Compute is pure: identical inputs yield identical
// outputs, so the adaptive loop can re-run it freely.
type PowerController struct {
	cfg   ControllerConfig
	laser LaserConfiguration
	env   *EnvironmentModel
}

// NewPowerController builds a controller for the given emitter.
func NewPowerController(laser LaserConfiguration, env *EnvironmentModel, cfg ControllerConfig) (*PowerController, error) {
	if env == nil {
		return nil, fmt.Errorf("power controller requires an environment model")
	}
	if cfg.MinMarginDB < 0 || cfg.SystemGainDB < 0 {
		return nil, fmt.Errorf("controller margins and gains must be non-negative")
	}
	if len(laser.Modulations) == 0 {
		return nil, fmt.Errorf("laser configuration has no modulation schemes")
	}
	return &PowerController{cfg: cfg, laser: laser, env: env}, nil
}

// Laser reports the emitter configuration this controller was built for.
func (p *PowerController) Laser() LaserConfiguration { return p.laser }

// Compute derives the operating point for the given measurement and
// alignment snapshot. It requires an aligned link: an unaligned status yields
// ErrAlignmentRequired. Among the feasible schemes it picks the one needing
// the least transmit power, preferring the currently active scheme on ties;
// when nothing is feasible at full power it falls back to the most robust
// supported scheme at maximum power and flags the result Degraded.
func (p *PowerController) Compute(m RangeMeasurement, align AlignmentStatus, active ModulationScheme, now time.Time) (LinkParameters, error) {
	if !align.IsAligned {
		return LinkParameters{}, fmt.Errorf("cannot compute link parameters: %w", ErrAlignmentRequired)
	}
	if m.DistanceM <= 0 {
		return LinkParameters{}, fmt.Errorf("non-positive distance %.2f m", m.DistanceM)
	}

	pathLoss := p.pathLossDB(m.DistanceM)
	pointing := pointingLossDB(align)
	profile := p.profileFor(m.Category)
	capMW := math.Min(p.laser.MaxPowerMW, profile.MaxPowerMW)

	type candidate struct {
		scheme  ModulationScheme
		powerMW float64
	}
	var best *candidate

	// Iterate the active scheme first so a strict comparison resolves
	// power ties in its favor.
	for _, scheme := range p.orderedSchemes(active) {
		sens, ok := scheme.receiverSensitivityDBm()
		if !ok {
			continue
		}
		requiredDBm := sens + scheme.overheadDB() + p.cfg.MinMarginDB + pathLoss + pointing - p.cfg.SystemGainDB
		powerMW := dbmToMilliwatts(requiredDBm)
		if powerMW > capMW {
			continue
		}
		if best == nil || powerMW < best.powerMW {
			best = &candidate{scheme: scheme, powerMW: powerMW}
		}
	}

	if best != nil {
		margin := milliwattsToDBm(best.powerMW) + p.cfg.SystemGainDB - pathLoss - pointing
		sens, _ := best.scheme.receiverSensitivityDBm()
		return LinkParameters{
			CommandedPowerMW:  best.powerMW,
			ActiveModulation:  best.scheme,
			PredictedMarginDB: margin - (sens + best.scheme.overheadDB()),
			DataRateBps:       profile.DataRateBps,
			Degraded:          false,
			RangeCategory:     m.Category,
			ComputedAt:        now,
		}, nil
	}

	// Nothing closes the budget: run the most robust scheme at full power
	// and report the (negative) residual margin.
	fallback := p.mostRobust()
	sens, _ := fallback.receiverSensitivityDBm()
	received := milliwattsToDBm(capMW) + p.cfg.SystemGainDB - pathLoss - pointing
	return LinkParameters{
		CommandedPowerMW:  capMW,
		ActiveModulation:  fallback,
		PredictedMarginDB: received - (sens + fallback.overheadDB()),
		DataRateBps:       profile.DataRateBps,
		Degraded:          true,
		RangeCategory:     m.Category,
		ComputedAt:        now,
	}, nil
}

// profileFor resolves the power profile for a range category, falling back
// to the default table when the configured map omits it.
func (p *PowerController) profileFor(cat RangeCategory) PowerProfile {
	if prof, ok := p.cfg.Profiles[cat]; ok {
		return prof
	}
	if prof, ok := DefaultPowerProfiles()[cat]; ok {
		return prof
	}
	return PowerProfile{MaxPowerMW: p.laser.MaxPowerMW, DataRateBps: 9600}
}

// pathLossDB is geometric spreading plus atmospheric attenuation at the
// controller's wavelength.
func (p *PowerController) pathLossDB(distanceM float64) float64 {
	spread := p.cfg.SpreadRefDB
	if distanceM > 1 {
		spread += 20 * math.Log10(distanceM)
	}
	return spread + AttenuationDB(p.env.Current(), distanceM, p.laser.Type.WavelengthNm())
}

// orderedSchemes yields the supported schemes with the active one first.
func (p *PowerController) orderedSchemes(active ModulationScheme) []ModulationScheme {
	out := make([]ModulationScheme, 0, len(p.laser.Modulations))
	for _, s := range p.laser.Modulations {
		if s == active {
			out = append(out, s)
		}
	}
	for _, s := range p.laser.Modulations {
		if s != active {
			out = append(out, s)
		}
	}
	return out
}

// mostRobust returns the supported scheme tolerating the weakest signal.
func (p *PowerController) mostRobust() ModulationScheme {
	best := p.laser.Modulations[0]
	for _, s := range p.laser.Modulations[1:] {
		if s.robustness() > best.robustness() {
			best = s
		}
	}
	return best
}

// pointingLossDB penalizes residual angular error inside the lock band.
// Quadratic in the combined error, about 1.5 dB at half a degree.
func pointingLossDB(align AlignmentStatus) float64 {
	mag := math.Hypot(align.AzimuthErrorDeg, align.ElevationErrorDeg)
	return 6 * mag * mag
}

func dbmToMilliwatts(dbm float64) float64 { return math.Pow(10, dbm/10) }

func milliwattsToDBm(mw float64) float64 { return 10 * math.Log10(mw) }
