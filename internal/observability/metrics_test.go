package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

func TestPublishCountsEventsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}

	collector.Publish(core.Event{Type: core.EventSensorError, Timestamp: time.Now()})
	collector.Publish(core.Event{Type: core.EventSensorError, Timestamp: time.Now()})
	collector.Publish(core.Event{Type: core.EventSafety, Timestamp: time.Now()})

	if got := testutil.ToFloat64(collector.Events.WithLabelValues("sensor_error")); got != 2 {
		t.Fatalf("link_events_total{type=sensor_error} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.SensorErrors); got != 2 {
		t.Fatalf("range_sensor_errors_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.SafetyEvents); got != 1 {
		t.Fatalf("safety_events_total = %v, want 1", got)
	}
}

func TestPublishTracksTransitionLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}

	collector.Publish(core.Event{
		Type:  core.EventAlignmentTransition,
		Attrs: map[string]string{"from": "searching", "to": "locked"},
	})
	collector.Publish(core.Event{
		Type:  core.EventLinkTransition,
		Attrs: map[string]string{"from": "initialized", "to": "adapting"},
	})

	if got := testutil.ToFloat64(collector.AlignmentTransitions.WithLabelValues("searching", "locked")); got != 1 {
		t.Fatalf("alignment_transitions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.LinkTransitions.WithLabelValues("initialized", "adapting")); got != 1 {
		t.Fatalf("link_transitions_total = %v, want 1", got)
	}
}

func TestPublishAdaptationUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}

	collector.Publish(core.Event{
		Type: core.EventAdaptation,
		Attrs: map[string]string{
			"power_mw":    "12.5000",
			"distance_m":  "48.250",
			"margin_db":   "-2.100",
			"duration_ms": "14.000",
			"degraded":    "true",
		},
	})

	if got := testutil.ToFloat64(collector.CommandedPowerMW); got != 12.5 {
		t.Fatalf("link_commanded_power_milliwatts = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(collector.MeasuredDistanceM); got != 48.25 {
		t.Fatalf("link_measured_distance_meters = %v, want 48.25", got)
	}
	if got := testutil.ToFloat64(collector.PredictedMarginDB); got != -2.1 {
		t.Fatalf("link_predicted_margin_decibels = %v, want -2.1", got)
	}
	if got := testutil.ToFloat64(collector.Degraded); got != 1 {
		t.Fatalf("link_degraded = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(collector.AdaptationSeconds); got != 1 {
		t.Fatalf("link_adaptation_duration_seconds series = %d, want 1", got)
	}

	collector.Publish(core.Event{
		Type:  core.EventAdaptation,
		Attrs: map[string]string{"power_mw": "not-a-number", "degraded": "false"},
	})
	if got := testutil.ToFloat64(collector.CommandedPowerMW); got != 12.5 {
		t.Fatalf("malformed power attr should leave gauge untouched, got %v", got)
	}
	if got := testutil.ToFloat64(collector.Degraded); got != 0 {
		t.Fatalf("link_degraded = %v, want 0", got)
	}
}

func TestPublishTransmissionAccumulatesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}

	collector.Publish(core.Event{
		Type: core.EventTransmission,
		Attrs: map[string]string{
			"bytes_sent":         "100",
			"frames_sent":        "4",
			"frames_undelivered": "0",
		},
	})
	collector.Publish(core.Event{
		Type: core.EventTransmission,
		Attrs: map[string]string{
			"bytes_sent":         "64",
			"frames_sent":        "2",
			"frames_undelivered": "3",
		},
	})

	if got := testutil.ToFloat64(collector.BytesSent); got != 164 {
		t.Fatalf("link_payload_bytes_sent_total = %v, want 164", got)
	}
	if got := testutil.ToFloat64(collector.FramesSent); got != 6 {
		t.Fatalf("link_frames_sent_total = %v, want 6", got)
	}
	if got := testutil.ToFloat64(collector.FramesUndelivered); got != 3 {
		t.Fatalf("link_frames_undelivered_total = %v, want 3", got)
	}
}

func TestMetricsHandlerExposesLinkMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}
	collector.Publish(core.Event{
		Type:  core.EventAdaptation,
		Attrs: map[string]string{"power_mw": "5.0", "degraded": "false"},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"link_events_total",
		"link_commanded_power_milliwatts",
		"link_measured_distance_meters",
		"link_predicted_margin_decibels",
		"link_adaptation_duration_seconds",
		"link_degraded",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestNewLinkCollectorTolerantOfReregistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("first NewLinkCollector: %v", err)
	}
	second, err := NewLinkCollector(reg)
	if err != nil {
		t.Fatalf("second NewLinkCollector: %v", err)
	}
	first.Publish(core.Event{Type: core.EventSensorError})
	second.Publish(core.Event{Type: core.EventSensorError})
	if got := testutil.ToFloat64(second.SensorErrors); got != 2 {
		t.Fatalf("re-registered collector should share counters, got %v", got)
	}
}
