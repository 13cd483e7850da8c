package observability

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

// LinkCollector bundles Prometheus metrics for a laser link and doubles as a
// core.EventSink, so wiring it into a link's event fan-out is all the
// instrumentation a deployment needs.
type LinkCollector struct {
	gatherer prometheus.Gatherer

	Events               *prometheus.CounterVec
	AlignmentTransitions *prometheus.CounterVec
	LinkTransitions      *prometheus.CounterVec
	SensorErrors         prometheus.Counter
	SafetyEvents         prometheus.Counter

	CommandedPowerMW  prometheus.Gauge
	MeasuredDistanceM prometheus.Gauge
	PredictedMarginDB prometheus.Gauge
	Degraded          prometheus.Gauge
	AdaptationSeconds prometheus.Histogram
	BytesSent         prometheus.Counter
	FramesSent        prometheus.Counter
	FramesUndelivered prometheus.Counter
}

// NewLinkCollector registers link Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewLinkCollector(reg prometheus.Registerer) (*LinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "link_events_total",
		Help: "Total operational events emitted by the link, labeled by type.",
	}, []string{"type"})
	events, err := registerCounterVec(reg, events, "link_events_total")
	if err != nil {
		return nil, err
	}

	alignTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alignment_transitions_total",
		Help: "Alignment state machine transitions, labeled by source and destination state.",
	}, []string{"from", "to"})
	alignTransitions, err = registerCounterVec(reg, alignTransitions, "alignment_transitions_total")
	if err != nil {
		return nil, err
	}

	linkTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "link_transitions_total",
		Help: "Link lifecycle transitions, labeled by source and destination state.",
	}, []string{"from", "to"})
	linkTransitions, err = registerCounterVec(reg, linkTransitions, "link_transitions_total")
	if err != nil {
		return nil, err
	}

	sensorErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "range_sensor_errors_total",
		Help: "Failed range measurements observed by the adaptive loop.",
	}), "range_sensor_errors_total")
	if err != nil {
		return nil, err
	}
	safetyEvents, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safety_events_total",
		Help: "Safety monitor events, including budget violations and resets.",
	}), "safety_events_total")
	if err != nil {
		return nil, err
	}

	power, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "link_commanded_power_milliwatts",
		Help: "Most recently commanded transmit power.",
	}), "link_commanded_power_milliwatts")
	if err != nil {
		return nil, err
	}
	distance, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "link_measured_distance_meters",
		Help: "Most recent averaged range measurement.",
	}), "link_measured_distance_meters")
	if err != nil {
		return nil, err
	}
	margin, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "link_predicted_margin_decibels",
		Help: "Predicted link margin of the current operating point. Negative when degraded.",
	}), "link_predicted_margin_decibels")
	if err != nil {
		return nil, err
	}
	degraded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "link_degraded",
		Help: "1 when the link budget cannot close and the link runs in fallback, 0 otherwise.",
	}), "link_degraded")
	if err != nil {
		return nil, err
	}
	adaptSeconds, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "link_adaptation_duration_seconds",
		Help:    "Wall time of one adaptation cycle, measurement included.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}), "link_adaptation_duration_seconds")
	if err != nil {
		return nil, err
	}

	bytesSent, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "link_payload_bytes_sent_total",
		Help: "Payload bytes delivered over the link.",
	}), "link_payload_bytes_sent_total")
	if err != nil {
		return nil, err
	}
	framesSent, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_sent_total",
		Help: "Frames emitted over the link.",
	}), "link_frames_sent_total")
	if err != nil {
		return nil, err
	}
	framesUndelivered, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_undelivered_total",
		Help: "Frames abandoned by interrupted transmissions.",
	}), "link_frames_undelivered_total")
	if err != nil {
		return nil, err
	}

	return &LinkCollector{
		gatherer:             gatherer,
		Events:               events,
		AlignmentTransitions: alignTransitions,
		LinkTransitions:      linkTransitions,
		SensorErrors:         sensorErrors,
		SafetyEvents:         safetyEvents,
		CommandedPowerMW:     power,
		MeasuredDistanceM:    distance,
		PredictedMarginDB:    margin,
		Degraded:             degraded,
		AdaptationSeconds:    adaptSeconds,
		BytesSent:            bytesSent,
		FramesSent:           framesSent,
		FramesUndelivered:    framesUndelivered,
	}, nil
}

// Publish implements core.EventSink, translating operational events into
// metric updates. Unknown or malformed attributes are ignored rather than
// dropped with the event, so a partially populated event still counts.
func (c *LinkCollector) Publish(e core.Event) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case core.EventAlignmentTransition:
		c.AlignmentTransitions.WithLabelValues(e.Attrs["from"], e.Attrs["to"]).Inc()
	case core.EventLinkTransition:
		c.LinkTransitions.WithLabelValues(e.Attrs["from"], e.Attrs["to"]).Inc()
	case core.EventSensorError:
		c.SensorErrors.Inc()
	case core.EventSafety:
		c.SafetyEvents.Inc()
	case core.EventAdaptation:
		if v, err := strconv.ParseFloat(e.Attrs["power_mw"], 64); err == nil {
			c.CommandedPowerMW.Set(v)
		}
		if v, err := strconv.ParseFloat(e.Attrs["distance_m"], 64); err == nil {
			c.MeasuredDistanceM.Set(v)
		}
		if v, err := strconv.ParseFloat(e.Attrs["margin_db"], 64); err == nil {
			c.PredictedMarginDB.Set(v)
		}
		if v, err := strconv.ParseFloat(e.Attrs["duration_ms"], 64); err == nil && v >= 0 {
			c.AdaptationSeconds.Observe(v / 1000)
		}
		if e.Attrs["degraded"] == "true" {
			c.Degraded.Set(1)
		} else if e.Attrs["degraded"] == "false" {
			c.Degraded.Set(0)
		}
	case core.EventTransmission:
		addCounter(c.BytesSent, e.Attrs["bytes_sent"])
		addCounter(c.FramesSent, e.Attrs["frames_sent"])
		addCounter(c.FramesUndelivered, e.Attrs["frames_undelivered"])
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LinkCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func addCounter(counter prometheus.Counter, attr string) {
	if v, err := strconv.ParseFloat(attr, 64); err == nil && v > 0 {
		counter.Add(v)
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
