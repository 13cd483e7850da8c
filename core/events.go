package core

import "time"

// EventType names the kinds of operational events the link emits.
type EventType string

const (
	EventAlignmentTransition EventType = "alignment_transition"
	EventLinkTransition      EventType = "link_transition"
	EventAdaptation          EventType = "adaptation"
	EventTransmission        EventType = "transmission"
	EventSensorError         EventType = "sensor_error"
	EventSafety              EventType = "safety"
)

// Event is one operational occurrence. Attrs carries small string facts;
// anything numeric worth graphing goes through the metrics sink instead.
type Event struct {
	Type      EventType         `json:"Type"`
	Timestamp time.Time         `json:"Timestamp"`
	Message   string            `json:"Message"`
	Attrs     map[string]string `json:"Attrs,omitempty"`
}

// EventSink receives operational events. Publish must not block for long;
// sinks that do slow work should buffer internally.
type EventSink interface {
	Publish(Event)
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Publish(Event) {}

// FanOutSink delivers each event to every child sink in order.
type FanOutSink struct {
	sinks []EventSink
}

// NewFanOutSink builds a sink over the given children, skipping nils.
func NewFanOutSink(sinks ...EventSink) *FanOutSink {
	out := &FanOutSink{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (f *FanOutSink) Publish(e Event) {
	for _, s := range f.sinks {
		s.Publish(e)
	}
}
