package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("short-range-real-gibberlink/core")

// LinkState is the coarse lifecycle of a laser link. A link is Adapting once
// parameters exist, whether they come from the adaptive loop or an operator.
type LinkState string

const (
	LinkInitialized  LinkState = "initialized"
	LinkAdapting     LinkState = "adapting"
	LinkTransmitting LinkState = "transmitting"
	LinkShutdown     LinkState = "shutdown"
)

// LinkProfile is the full configuration surface of one link.
type LinkProfile struct {
	Laser      LaserConfiguration `yaml:"laser"`
	Sensor     RangeSensorConfig  `yaml:"sensor"`
	Alignment  AlignmentConfig    `yaml:"alignment"`
	Controller ControllerConfig   `yaml:"controller"`

	// TickInterval is the adaptive-loop cadence.
	TickInterval time.Duration `yaml:"tickInterval"`
	// StalenessWindow bounds the age of adaptive parameters used for a
	// send. Operator-fixed parameters are exempt.
	StalenessWindow time.Duration `yaml:"stalenessWindow"`
	// SampleCount is how many pings each adaptive measurement averages.
	SampleCount int `yaml:"sampleCount"`
	// QueueSends makes concurrent Send calls wait for the link rather
	// than fail fast with ErrLinkBusy.
	QueueSends bool `yaml:"queueSends"`
	// EnergyBudgetJoules caps lifetime emitted energy.
	EnergyBudgetJoules float64 `yaml:"energyBudgetJoules"`
}

func (p LinkProfile) withDefaults() LinkProfile {
	if p.TickInterval <= 0 {
		p.TickInterval = 2 * time.Second
	}
	if p.StalenessWindow <= 0 {
		p.StalenessWindow = 10 * time.Second
	}
	if p.SampleCount <= 0 {
		p.SampleCount = 5
	}
	if p.Alignment == (AlignmentConfig{}) {
		p.Alignment = DefaultAlignmentConfig()
	}
	if p.Controller.MinMarginDB == 0 && p.Controller.SystemGainDB == 0 {
		p.Controller = DefaultControllerConfig()
	} else if p.Controller.Profiles == nil {
		p.Controller.Profiles = DefaultPowerProfiles()
	}
	return p
}

// paramSnapshot pairs the operating point with whether an operator pinned it.
type paramSnapshot struct {
	params LinkParameters
	fixed  bool
}

// LinkDiagnostics is an operator-facing snapshot of link health.
type LinkDiagnostics struct {
	ID              string          `json:"ID"`
	State           LinkState       `json:"State"`
	Adaptive        bool            `json:"Adaptive"`
	Params          *LinkParameters `json:"Params,omitempty"`
	FixedParams     bool            `json:"FixedParams"`
	Alignment       AlignmentStatus `json:"Alignment"`
	LastMeasurement *RangeMeasurement `json:"LastMeasurement,omitempty"`
	EmittedJoules   float64         `json:"EmittedJoules"`
	SafetyStopped   bool            `json:"SafetyStopped"`
}

// Link ties the environment model, range sensor, alignment tracker, power
// controller, and transmission path into one adaptive control loop. The
// adaptive loop is the single writer of the parameter snapshot; senders only
// load it, so adaptation never blocks a transmission.
type Link struct {
	id      string
	profile LinkProfile

	env        *EnvironmentModel
	sensor     *RangeSensor
	align      *AlignmentTracker
	controller *PowerController
	path       *TransmissionPath
	safety     *SafetyMonitor
	sink       EventSink

	snapshot atomic.Pointer[paramSnapshot]
	lastMeas atomic.Pointer[RangeMeasurement]

	sendMu sync.Mutex

	mu       sync.Mutex
	state    LinkState
	adaptive bool
	stopTick chan struct{}
	tickDone chan struct{}

	now func() time.Time
}

// NewLink assembles a link from its collaborators. A nil sink discards
// events; a nil encoder sends raw frames.
func NewLink(profile LinkProfile, hw RangeHardware, emitter LaserEmitter, encoder FrameEncoder, sink EventSink) (*Link, error) {
	profile = profile.withDefaults()
	if sink == nil {
		sink = NoopSink{}
	}

	env := NewEnvironmentModel(profile.Laser.Type.WavelengthNm())
	sensor, err := NewRangeSensor(hw, env, profile.Sensor)
	if err != nil {
		return nil, fmt.Errorf("build range sensor: %w", err)
	}
	align, err := NewAlignmentTracker(profile.Alignment, sink)
	if err != nil {
		return nil, fmt.Errorf("build alignment tracker: %w", err)
	}
	controller, err := NewPowerController(profile.Laser, env, profile.Controller)
	if err != nil {
		return nil, fmt.Errorf("build power controller: %w", err)
	}
	path, err := NewTransmissionPath(emitter, encoder, align, sink)
	if err != nil {
		return nil, fmt.Errorf("build transmission path: %w", err)
	}

	return &Link{
		id:         uuid.NewString(),
		profile:    profile,
		env:        env,
		sensor:     sensor,
		align:      align,
		controller: controller,
		path:       path,
		safety:     NewSafetyMonitor(profile.EnergyBudgetJoules, profile.Laser.Type, sink),
		sink:       sink,
		state:      LinkInitialized,
		now:        time.Now,
	}, nil
}

// ID returns the link's stable identifier.
func (l *Link) ID() string { return l.id }

// Environment exposes the link's environment model for condition updates.
func (l *Link) Environment() *EnvironmentModel { return l.env }

// Alignment exposes the tracker so feedback sources can feed samples.
func (l *Link) Alignment() *AlignmentTracker { return l.align }

// Safety exposes the emission budget monitor.
func (l *Link) Safety() *SafetyMonitor { return l.safety }

// UpdateEnvironmentalConditions validates and applies new atmospheric
// conditions. The next adaptation tick computes against them; an invalid set
// is rejected and the previous conditions stay in force.
func (l *Link) UpdateEnvironmentalConditions(c EnvironmentalConditions) error {
	return l.env.Update(c)
}

// OfferAlignmentSample forwards one pointing-feedback sample to the tracker.
func (l *Link) OfferAlignmentSample(s AlignmentSample) {
	l.align.OfferSample(s)
}

// EnableAdaptiveMode starts the background adaptation loop. The first tick
// runs immediately; thereafter the loop re-measures on TickInterval.
// Enabling clears any operator-fixed parameters. No-op when already enabled.
func (l *Link) EnableAdaptiveMode(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkShutdown {
		return fmt.Errorf("link %s is shut down", l.id)
	}
	if l.adaptive {
		return nil
	}
	l.adaptive = true
	l.stopTick = make(chan struct{})
	l.tickDone = make(chan struct{})
	if snap := l.snapshot.Load(); snap != nil && snap.fixed {
		l.snapshot.Store(nil)
	}

	go l.runAdaptive(ctx, l.stopTick, l.tickDone)
	return nil
}

// DisableAdaptiveMode stops the adaptation loop. The last computed
// parameters remain available until they age out of the staleness window.
func (l *Link) DisableAdaptiveMode() {
	l.mu.Lock()
	if !l.adaptive {
		l.mu.Unlock()
		return
	}
	l.adaptive = false
	stop, done := l.stopTick, l.tickDone
	l.mu.Unlock()

	close(stop)
	<-done
}

func (l *Link) runAdaptive(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.profile.TickInterval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one adaptation cycle: measure range, recompute the operating
// point, and atomically publish it. Any failure keeps the previous snapshot
// in place and surfaces through the event sink; a sick sensor must degrade
// the link gracefully, not crash the loop.
func (l *Link) tick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "link.adaptation_tick")
	defer span.End()
	span.SetAttributes(attribute.String("link.id", l.id))
	started := l.now()

	m, err := l.sensor.MeasureAveraged(ctx, l.profile.SampleCount)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		l.sink.Publish(Event{
			Type:      EventSensorError,
			Timestamp: l.now(),
			Message:   err.Error(),
			Attrs:     map[string]string{"link_id": l.id},
		})
		return
	}
	l.lastMeas.Store(&m)

	status := l.align.Status()
	active := ModulationScheme("")
	if snap := l.snapshot.Load(); snap != nil {
		active = snap.params.ActiveModulation
	}
	params, err := l.controller.Compute(m, status, active, l.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		l.sink.Publish(Event{
			Type:      EventAdaptation,
			Timestamp: l.now(),
			Message:   fmt.Sprintf("adaptation skipped: %v", err),
			Attrs:     map[string]string{"link_id": l.id},
		})
		return
	}

	prev := l.snapshot.Load()
	l.snapshot.Store(&paramSnapshot{params: params})
	l.markAdapting()

	span.SetAttributes(
		attribute.Float64("link.distance_m", m.DistanceM),
		attribute.Float64("link.power_mw", params.CommandedPowerMW),
		attribute.String("link.modulation", string(params.ActiveModulation)),
		attribute.Bool("link.degraded", params.Degraded),
	)

	attrs := map[string]string{
		"link_id":     l.id,
		"power_mw":    fmt.Sprintf("%.4f", params.CommandedPowerMW),
		"modulation":  string(params.ActiveModulation),
		"category":    string(params.RangeCategory),
		"degraded":    fmt.Sprintf("%t", params.Degraded),
		"distance_m":  fmt.Sprintf("%.3f", m.DistanceM),
		"margin_db":   fmt.Sprintf("%.3f", params.PredictedMarginDB),
		"duration_ms": fmt.Sprintf("%.3f", float64(l.now().Sub(started).Microseconds())/1000),
	}
	msg := "parameters adapted"
	if prev != nil && prev.params.ActiveModulation != params.ActiveModulation {
		msg = fmt.Sprintf("modulation switched from %s to %s",
			prev.params.ActiveModulation, params.ActiveModulation)
	}
	l.sink.Publish(Event{Type: EventAdaptation, Timestamp: l.now(), Message: msg, Attrs: attrs})
}

// SetFixedParameters pins an operator-chosen operating point, bypassing
// adaptation and the staleness window. The commanded power must not exceed
// the emitter's rating, and the scheme must be one the emitter supports.
func (l *Link) SetFixedParameters(params LinkParameters) error {
	if params.CommandedPowerMW <= 0 {
		return fmt.Errorf("commanded power must be positive, got %.4f mW", params.CommandedPowerMW)
	}
	if params.CommandedPowerMW > l.profile.Laser.MaxPowerMW {
		return fmt.Errorf("%w: %.2f mW exceeds emitter rating %.2f mW",
			ErrHardwarePowerExceeded, params.CommandedPowerMW, l.profile.Laser.MaxPowerMW)
	}
	if err := l.safety.CheckPower(params.CommandedPowerMW); err != nil {
		return err
	}
	supported := false
	for _, s := range l.profile.Laser.Modulations {
		if s == params.ActiveModulation {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("emitter does not support modulation %q", params.ActiveModulation)
	}

	params.ComputedAt = l.now()
	l.snapshot.Store(&paramSnapshot{params: params, fixed: true})
	l.markAdapting()
	l.sink.Publish(Event{
		Type:      EventAdaptation,
		Timestamp: l.now(),
		Message:   "parameters fixed by operator",
		Attrs: map[string]string{
			"link_id":    l.id,
			"power_mw":   fmt.Sprintf("%.4f", params.CommandedPowerMW),
			"modulation": string(params.ActiveModulation),
		},
	})
	return nil
}

// Send transmits payload using the current parameter snapshot. Requirements,
// checked in order: the safety monitor permits emission, the link is not
// shut down, parameters exist and (unless fixed) are fresher than the
// staleness window. Concurrent sends either queue or fail fast with
// ErrLinkBusy depending on the profile.
func (l *Link) Send(ctx context.Context, payload []byte) (TransmissionReport, error) {
	ctx, span := tracer.Start(ctx, "link.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("link.id", l.id),
		attribute.Int("link.payload_bytes", len(payload)),
	)

	if !l.safety.Allowed() {
		span.SetStatus(codes.Error, "safety stop")
		return TransmissionReport{}, fmt.Errorf("link %s: emission stopped by safety monitor", l.id)
	}

	if l.profile.QueueSends {
		l.sendMu.Lock()
	} else if !l.sendMu.TryLock() {
		return TransmissionReport{}, fmt.Errorf("link %s: %w", l.id, ErrLinkBusy)
	}
	defer l.sendMu.Unlock()

	if err := l.beginTransmit(); err != nil {
		return TransmissionReport{}, err
	}
	defer l.endTransmit()

	snap := l.snapshot.Load()
	if snap == nil {
		return TransmissionReport{}, fmt.Errorf("link %s: %w: no parameters computed yet", l.id, ErrLinkNotReady)
	}
	if !snap.fixed {
		if age := l.now().Sub(snap.params.ComputedAt); age > l.profile.StalenessWindow {
			return TransmissionReport{}, fmt.Errorf("link %s: %w: parameters are %s old",
				l.id, ErrStaleParameters, age.Round(time.Millisecond))
		}
	}
	if err := l.safety.CheckPower(snap.params.CommandedPowerMW); err != nil {
		return TransmissionReport{}, fmt.Errorf("link %s: %w", l.id, err)
	}
	if !l.align.Status().IsAligned {
		return TransmissionReport{}, fmt.Errorf("link %s: %w", l.id, ErrLinkNotReady)
	}

	report, err := l.path.Send(ctx, payload, snap.params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("link.frames_sent", report.FramesSent))
	if report.Duration > 0 {
		if serr := l.safety.RecordEmission(snap.params.CommandedPowerMW, report.Duration); serr != nil && err == nil {
			err = serr
		}
	}

	l.sink.Publish(Event{
		Type:      EventTransmission,
		Timestamp: l.now(),
		Message:   "transmission finished",
		Attrs: map[string]string{
			"link_id":            l.id,
			"transmission_id":    report.ID,
			"bytes_sent":         fmt.Sprintf("%d", report.BytesSent),
			"frames_sent":        fmt.Sprintf("%d", report.FramesSent),
			"frames_undelivered": fmt.Sprintf("%d", report.FramesUndelivered),
		},
	})
	return report, err
}

// Diagnostics returns an operator-facing health snapshot.
func (l *Link) Diagnostics() LinkDiagnostics {
	l.mu.Lock()
	state := l.state
	adaptive := l.adaptive
	l.mu.Unlock()

	d := LinkDiagnostics{
		ID:        l.id,
		State:     state,
		Adaptive:  adaptive,
		Alignment: l.align.Status(),
	}
	if snap := l.snapshot.Load(); snap != nil {
		p := snap.params
		d.Params = &p
		d.FixedParams = snap.fixed
	}
	if m := l.lastMeas.Load(); m != nil {
		mm := *m
		d.LastMeasurement = &mm
	}
	d.EmittedJoules, _, d.SafetyStopped = l.safety.Snapshot()
	return d
}

// Shutdown stops adaptation, shuts the alignment tracker, and moves the link
// to its terminal state. Idempotent; in-flight sends finish their current
// frame and then observe the lost alignment.
func (l *Link) Shutdown() {
	l.mu.Lock()
	if l.state == LinkShutdown {
		l.mu.Unlock()
		return
	}
	var stop chan struct{}
	var done chan struct{}
	if l.adaptive {
		l.adaptive = false
		stop, done = l.stopTick, l.tickDone
	}
	prev := l.state
	l.state = LinkShutdown
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	l.align.Shutdown()
	l.sink.Publish(Event{
		Type:      EventLinkTransition,
		Timestamp: l.now(),
		Message:   "link shut down",
		Attrs:     map[string]string{"link_id": l.id, "from": string(prev), "to": string(LinkShutdown)},
	})
}

func (l *Link) beginTransmit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case LinkShutdown:
		return fmt.Errorf("link %s is shut down", l.id)
	case LinkInitialized:
		return fmt.Errorf("link %s: %w: no parameters computed yet", l.id, ErrLinkNotReady)
	}
	l.setStateLocked(LinkTransmitting)
	return nil
}

func (l *Link) endTransmit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkTransmitting {
		l.setStateLocked(LinkAdapting)
	}
}

// markAdapting promotes an initialized link once parameters exist.
func (l *Link) markAdapting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkInitialized {
		l.setStateLocked(LinkAdapting)
	}
}

func (l *Link) setStateLocked(next LinkState) {
	prev := l.state
	if prev == next {
		return
	}
	l.state = next
	l.sink.Publish(Event{
		Type:      EventLinkTransition,
		Timestamp: l.now(),
		Attrs:     map[string]string{"link_id": l.id, "from": string(prev), "to": string(next)},
	})
}
