// Package serialrange drives a combined rangefinder/laser head attached over
// a serial line. The head speaks a small framed protocol: every exchange
// starts with a sync byte, a command byte, and a command-specific body.
package serialrange

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/zedarvates/short-range-real-gibberlink/core"
)

const (
	syncByte = 0x5A

	cmdPing     = 'P'
	cmdTransmit = 'T'

	respEcho  = 'E'
	respAck   = 'A'
	respFault = 'F'
)

// schemeCodes maps modulation schemes onto the head's one-byte wire codes.
var schemeCodes = map[core.ModulationScheme]byte{
	core.ModulationOOK:          0x01,
	core.ModulationPWM:          0x02,
	core.ModulationFSK:          0x03,
	core.ModulationManchester:   0x04,
	core.ModulationQRProjection: 0x05,
}

// Port is the subset of a serial port the driver needs. Satisfied by
// go.bug.st/serial.Port and by in-memory fakes in tests.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Driver implements core.RangeHardware and core.LaserEmitter over one serial
// head. Calls are serialized by the caller; the head handles one exchange at
// a time.
type Driver struct {
	port Port
}

// Open opens the head at the given device path.
func Open(path string) (*Driver, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial head %s: %w", path, err)
	}
	return New(port), nil
}

// New wraps an already-open port.
func New(port Port) *Driver { return &Driver{port: port} }

// Close releases the serial port.
func (d *Driver) Close() error { return d.port.Close() }

// Ping emits one ranging pulse and waits, up to timeout, for the echo
// report. The head answers with the round-trip time in microseconds and an
// echo strength byte.
func (d *Driver) Ping(ctx context.Context, timeout time.Duration) (core.EchoReturn, error) {
	if err := ctx.Err(); err != nil {
		return core.EchoReturn{}, err
	}
	if err := d.port.SetReadTimeout(timeout); err != nil {
		return core.EchoReturn{}, fmt.Errorf("set read timeout: %w", err)
	}
	if _, err := d.port.Write([]byte{syncByte, cmdPing}); err != nil {
		return core.EchoReturn{}, fmt.Errorf("%w: write ping: %v", core.ErrSensorFault, err)
	}

	header, err := d.readFull(2)
	if err != nil {
		return core.EchoReturn{}, err
	}
	if header[0] != syncByte {
		return core.EchoReturn{}, fmt.Errorf("%w: bad sync byte 0x%02x", core.ErrSensorFault, header[0])
	}
	switch header[1] {
	case respEcho:
		body, err := d.readFull(5)
		if err != nil {
			return core.EchoReturn{}, err
		}
		micros := binary.BigEndian.Uint32(body[:4])
		return core.EchoReturn{
			RoundTrip:      time.Duration(micros) * time.Microsecond,
			SignalStrength: float64(body[4]) / 255,
		}, nil
	case respFault:
		body, err := d.readFull(1)
		if err != nil {
			return core.EchoReturn{}, err
		}
		return core.EchoReturn{}, fmt.Errorf("%w: head fault code 0x%02x", core.ErrSensorFault, body[0])
	default:
		return core.EchoReturn{}, fmt.Errorf("%w: unexpected response 0x%02x", core.ErrSensorFault, header[1])
	}
}

// Transmit hands one encoded frame to the head for emission at the commanded
// power. The body carries the power in hundredths of a milliwatt, the scheme
// code, and the length-prefixed frame.
func (d *Driver) Transmit(ctx context.Context, frame []byte, powerMW float64, scheme core.ModulationScheme) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	code, ok := schemeCodes[scheme]
	if !ok {
		return fmt.Errorf("head does not speak modulation %q", scheme)
	}
	if len(frame) > 0xFFFF {
		return fmt.Errorf("frame of %d bytes exceeds wire limit", len(frame))
	}
	if powerMW < 0 || powerMW*100 > 0xFFFF {
		return fmt.Errorf("%w: %.2f mW outside the wire range 0-655.35 mW", core.ErrHardwarePowerExceeded, powerMW)
	}
	centiMW := uint16(powerMW * 100)

	msg := make([]byte, 0, 7+len(frame))
	msg = append(msg, syncByte, cmdTransmit, code)
	msg = binary.BigEndian.AppendUint16(msg, centiMW)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(frame)))
	msg = append(msg, frame...)
	if _, err := d.port.Write(msg); err != nil {
		return fmt.Errorf("write transmit frame: %w", err)
	}

	header, err := d.readFull(2)
	if err != nil {
		return err
	}
	if header[0] != syncByte {
		return fmt.Errorf("bad sync byte 0x%02x in transmit ack", header[0])
	}
	switch header[1] {
	case respAck:
		return nil
	case respFault:
		body, err := d.readFull(1)
		if err != nil {
			return err
		}
		return fmt.Errorf("head refused frame, fault code 0x%02x", body[0])
	default:
		return fmt.Errorf("unexpected transmit response 0x%02x", header[1])
	}
}

// readFull reads exactly n bytes. go.bug.st/serial reports an expired read
// timeout as a zero-byte read, which maps to ErrSensorTimeout.
func (d *Driver) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		r, err := d.port.Read(buf[read:])
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", core.ErrSensorFault, err)
		}
		if r == 0 {
			return nil, fmt.Errorf("%w: no response from head", core.ErrSensorTimeout)
		}
		read += r
	}
	return buf, nil
}
