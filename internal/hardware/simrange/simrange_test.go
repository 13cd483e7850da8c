package simrange

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

func TestPingMatchesConfiguredDistance(t *testing.T) {
	head := New(1, 75)
	echo, err := head.Ping(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	speed := core.PropagationSpeedMps(core.DefaultConditions())
	distance := speed * echo.RoundTrip.Seconds() / 2
	if math.Abs(distance-75) > 0.01 {
		t.Fatalf("implied distance = %.4f m, want 75", distance)
	}
	if echo.SignalStrength <= 0 || echo.SignalStrength > 1 {
		t.Fatalf("signal strength = %.3f, want (0, 1]", echo.SignalStrength)
	}
}

func TestSameSeedReproducesEchoes(t *testing.T) {
	a := New(42, 30, WithJitter(50*time.Microsecond))
	b := New(42, 30, WithJitter(50*time.Microsecond))

	for i := 0; i < 5; i++ {
		ea, err := a.Ping(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Ping a: %v", err)
		}
		eb, err := b.Ping(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Ping b: %v", err)
		}
		if ea.RoundTrip != eb.RoundTrip {
			t.Fatalf("seeded heads diverged at ping %d: %s vs %s", i, ea.RoundTrip, eb.RoundTrip)
		}
	}
}

func TestDropEverySimulatesTimeouts(t *testing.T) {
	head := New(1, 20, WithDropEvery(3))
	var timeouts int
	for i := 0; i < 9; i++ {
		if _, err := head.Ping(context.Background(), time.Second); errors.Is(err, core.ErrSensorTimeout) {
			timeouts++
		}
	}
	if timeouts != 3 {
		t.Fatalf("got %d timeouts over 9 pings with dropEvery=3, want 3", timeouts)
	}
}

func TestSetDistanceMovesTarget(t *testing.T) {
	head := New(1, 10)
	head.SetDistance(400)
	echo, err := head.Ping(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	speed := core.PropagationSpeedMps(core.DefaultConditions())
	distance := speed * echo.RoundTrip.Seconds() / 2
	if math.Abs(distance-400) > 0.01 {
		t.Fatalf("implied distance = %.4f m, want 400", distance)
	}
}

func TestTransmitRecordsFrames(t *testing.T) {
	head := New(1, 10)
	frame := []byte{0x01, 0x02, 0x03}
	if err := head.Transmit(context.Background(), frame, 4.2, core.ModulationPWM); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	frames := head.EmittedFrames()
	if len(frames) != 1 || len(frames[0]) != 3 {
		t.Fatalf("recorded frames = %v", frames)
	}
	power, scheme := head.LastEmission()
	if power != 4.2 || scheme != core.ModulationPWM {
		t.Fatalf("last emission = %.2f/%s, want 4.2/pwm", power, scheme)
	}
}

func TestHeadWorksWithRangeSensor(t *testing.T) {
	head := New(9, 60, WithJitter(10*time.Microsecond))
	env := core.NewEnvironmentModel(532)
	sensor, err := core.NewRangeSensor(head, env, core.RangeSensorConfig{})
	if err != nil {
		t.Fatalf("NewRangeSensor: %v", err)
	}
	m, err := sensor.MeasureAveraged(context.Background(), 5)
	if err != nil {
		t.Fatalf("MeasureAveraged: %v", err)
	}
	if math.Abs(m.DistanceM-60) > 1 {
		t.Fatalf("measured %.2f m, want close to 60", m.DistanceM)
	}
	if m.Category != core.RangeMedium {
		t.Fatalf("category = %s, want medium", m.Category)
	}
}

func TestAlignmentFeedConverges(t *testing.T) {
	feed := NewAlignmentFeed(3, 5.0, 0.5, 0.001)
	base := time.Now()
	var last core.AlignmentSample
	for i := 0; i < 20; i++ {
		last = feed.Next(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if mag := math.Hypot(last.AzimuthErrorDeg, last.ElevationErrorDeg); mag > 0.1 {
		t.Fatalf("feed should converge toward zero error, final magnitude %.4f", mag)
	}
}
