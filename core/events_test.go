package core

import (
	"sync"
	"testing"
	"time"
)

// recordingSink captures published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	stored []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, e)
}

func (r *recordingSink) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.stored))
	copy(out, r.stored)
	return out
}

func (r *recordingSink) countByType(typ EventType) int {
	n := 0
	for _, e := range r.events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestFanOutDeliversToAllSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	fan := NewFanOutSink(first, nil, second)

	fan.Publish(Event{Type: EventSafety, Timestamp: time.Now()})
	fan.Publish(Event{Type: EventAdaptation, Timestamp: time.Now()})

	if len(first.events()) != 2 || len(second.events()) != 2 {
		t.Fatalf("fan-out delivered %d/%d events, want 2/2", len(first.events()), len(second.events()))
	}
}

func TestNoopSinkDiscards(t *testing.T) {
	// Just must not panic.
	NoopSink{}.Publish(Event{Type: EventSensorError})
}
