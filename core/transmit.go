package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FrameEncoder prepares a payload chunk for the air: forward error
// correction, scrambling, preamble insertion. The identity encoder is used
// when a deployment runs raw frames.
type FrameEncoder interface {
	EncodeFrame(payload []byte) ([]byte, error)
}

// NopFrameEncoder passes frames through untouched.
type NopFrameEncoder struct{}

func (NopFrameEncoder) EncodeFrame(payload []byte) ([]byte, error) { return payload, nil }

// LaserEmitter drives the optical head for one frame at the commanded power
// and scheme. Transmit blocks until the frame is on the air or fails.
type LaserEmitter interface {
	Transmit(ctx context.Context, frame []byte, powerMW float64, scheme ModulationScheme) error
}

// TransmissionReport summarizes one Send call, including partial progress
// when the send was cut short.
type TransmissionReport struct {
	ID                string         `json:"ID"`
	BytesSent         int            `json:"BytesSent"`
	FramesSent        int            `json:"FramesSent"`
	FramesUndelivered int            `json:"FramesUndelivered"`
	Duration          time.Duration  `json:"Duration"`
	Params            LinkParameters `json:"Params"`
	CompletedAt       time.Time      `json:"CompletedAt"`
}

// TransmissionPath frames a payload and walks it through the emitter one
// frame at a time, revalidating alignment between frames so a lock lost
// mid-send stops emission promptly.
type TransmissionPath struct {
	emitter LaserEmitter
	encoder FrameEncoder
	align   *AlignmentTracker
	sink    EventSink
	now     func() time.Time
}

// NewTransmissionPath builds a path. A nil encoder selects the identity
// encoder; a nil sink discards events.
func NewTransmissionPath(emitter LaserEmitter, encoder FrameEncoder, align *AlignmentTracker, sink EventSink) (*TransmissionPath, error) {
	if emitter == nil {
		return nil, fmt.Errorf("transmission path requires an emitter")
	}
	if align == nil {
		return nil, fmt.Errorf("transmission path requires an alignment tracker")
	}
	if encoder == nil {
		encoder = NopFrameEncoder{}
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &TransmissionPath{
		emitter: emitter,
		encoder: encoder,
		align:   align,
		sink:    sink,
		now:     time.Now,
	}, nil
}

// Send transmits payload under the given parameters. An unaligned tracker at
// entry fails with ErrLinkNotReady. The payload is split into frames of the
// active scheme's frame size; each frame is encoded and emitted in order.
// Alignment is rechecked between frames: losing lock mid-send aborts
// remaining frames and returns a partial report with a nil error. Context cancellation also stops between frames,
// returning the partial report alongside the context error. BytesSent counts
// payload bytes, not encoded on-air bytes.
func (p *TransmissionPath) Send(ctx context.Context, payload []byte, params LinkParameters) (TransmissionReport, error) {
	report := TransmissionReport{
		ID:     uuid.NewString(),
		Params: params,
	}
	frameSize := params.ActiveModulation.FrameSize()
	if frameSize <= 0 {
		return report, fmt.Errorf("modulation %q has no frame size", params.ActiveModulation)
	}

	if !p.align.Status().IsAligned {
		return report, fmt.Errorf("%w: alignment not locked", ErrLinkNotReady)
	}

	frames := chunkPayload(payload, frameSize)
	report.FramesUndelivered = len(frames)
	start := p.now()
	defer func() {
		report.Duration = p.now().Sub(start)
		report.CompletedAt = p.now()
	}()

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !p.align.Status().IsAligned {
			p.sink.Publish(Event{
				Type:      EventTransmission,
				Timestamp: p.now(),
				Message:   "alignment lost mid-transmission",
				Attrs: map[string]string{
					"transmission_id":    report.ID,
					"frames_sent":        fmt.Sprintf("%d", report.FramesSent),
					"frames_undelivered": fmt.Sprintf("%d", report.FramesUndelivered),
				},
			})
			return report, nil
		}

		encoded, err := p.encoder.EncodeFrame(frame)
		if err != nil {
			return report, fmt.Errorf("encode frame %d: %w", report.FramesSent, err)
		}
		if err := p.emitter.Transmit(ctx, encoded, params.CommandedPowerMW, params.ActiveModulation); err != nil {
			return report, fmt.Errorf("emit frame %d: %w", report.FramesSent, err)
		}
		report.FramesSent++
		report.FramesUndelivered--
		report.BytesSent += len(frame)
	}
	return report, nil
}

// chunkPayload splits payload into frames of at most size bytes, preserving
// order. The final frame may be short. An empty payload yields no frames.
func chunkPayload(payload []byte, size int) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > size {
		frames = append(frames, payload[:size])
		payload = payload[size:]
	}
	return append(frames, payload)
}
