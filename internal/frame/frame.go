// Package frame implements the binary wire protocol spoken by the motion
// control board: fixed-size telemetry and command frames delimited by
// header/tail bytes and protected by an XOR block check character (BCC).
//
// Encoding and decoding are pure functions over byte slices. Stream
// accumulation and resynchronisation policy live with the caller; Scan
// provides the building block by reporting exactly how many bytes it
// consumed.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Header and Tail delimit every frame in both directions.
	Header byte = 0x7B
	Tail   byte = 0x7D

	// TelemetrySize is the fixed length of an inbound telemetry frame.
	TelemetrySize = 24

	// CommandSize is the fixed length of an outbound velocity command frame.
	CommandSize = 11
)

// ErrIncomplete reports that the buffer does not yet hold a complete frame.
// The caller should wait for more bytes rather than treat this as corruption.
var ErrIncomplete = errors.New("frame: incomplete")

// FramingError reports a frame whose header or tail byte is not at the
// position the protocol requires.
type FramingError struct {
	Offset int
	Got    byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("frame: bad framing byte 0x%02X at offset %d", e.Got, e.Offset)
}

// ChecksumError reports a BCC mismatch between the computed checksum and the
// one carried by the frame.
type ChecksumError struct {
	Want byte // computed over the frame contents
	Got  byte // carried by the frame
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame: checksum mismatch: computed 0x%02X, frame carries 0x%02X", e.Want, e.Got)
}

// Telemetry holds the raw integer fields of one inbound frame, exactly as
// transmitted by the board. Unit conversion happens in the units package.
type Telemetry struct {
	Flag byte // board status flag, passed through unparsed

	VelX int16 // body linear velocity, mm/s
	VelY int16 // body linear velocity, mm/s
	VelZ int16 // body angular velocity, mrad/s

	AccelX int16 // raw accelerometer counts
	AccelY int16
	AccelZ int16

	GyroX int16 // raw gyroscope counts
	GyroY int16
	GyroZ int16

	Voltage uint16 // battery voltage, mV
}

// Command holds the raw integer fields of one outbound frame.
type Command struct {
	VelX int16 // mm/s
	VelY int16 // mm/s
	VelZ int16 // mrad/s
}

// Checksum computes the BCC over p: the XOR of every byte.
func Checksum(p []byte) byte {
	var bcc byte
	for _, b := range p {
		bcc ^= b
	}
	return bcc
}

// DecodeTelemetry decodes a single telemetry frame starting at buf[0].
// It returns ErrIncomplete when buf is shorter than TelemetrySize, a
// FramingError when the header or tail byte is wrong, and a ChecksumError
// when the BCC does not match.
func DecodeTelemetry(buf []byte) (Telemetry, error) {
	if len(buf) < TelemetrySize {
		return Telemetry{}, ErrIncomplete
	}
	if buf[0] != Header {
		return Telemetry{}, &FramingError{Offset: 0, Got: buf[0]}
	}
	if buf[TelemetrySize-1] != Tail {
		return Telemetry{}, &FramingError{Offset: TelemetrySize - 1, Got: buf[TelemetrySize-1]}
	}
	if bcc := Checksum(buf[:TelemetrySize-2]); bcc != buf[TelemetrySize-2] {
		return Telemetry{}, &ChecksumError{Want: bcc, Got: buf[TelemetrySize-2]}
	}

	be := binary.BigEndian
	return Telemetry{
		Flag:    buf[1],
		VelX:    int16(be.Uint16(buf[2:4])),
		VelY:    int16(be.Uint16(buf[4:6])),
		VelZ:    int16(be.Uint16(buf[6:8])),
		AccelX:  int16(be.Uint16(buf[8:10])),
		AccelY:  int16(be.Uint16(buf[10:12])),
		AccelZ:  int16(be.Uint16(buf[12:14])),
		GyroX:   int16(be.Uint16(buf[14:16])),
		GyroY:   int16(be.Uint16(buf[16:18])),
		GyroZ:   int16(be.Uint16(buf[18:20])),
		Voltage: be.Uint16(buf[20:22]),
	}, nil
}

// EncodeTelemetry produces the inbound frame the board would transmit for
// the given field values. The driver never sends telemetry itself; the
// encoder exists for the simulated port and for protocol tests.
func EncodeTelemetry(t Telemetry) []byte {
	out := make([]byte, TelemetrySize)
	out[0] = Header
	out[1] = t.Flag

	be := binary.BigEndian
	be.PutUint16(out[2:4], uint16(t.VelX))
	be.PutUint16(out[4:6], uint16(t.VelY))
	be.PutUint16(out[6:8], uint16(t.VelZ))
	be.PutUint16(out[8:10], uint16(t.AccelX))
	be.PutUint16(out[10:12], uint16(t.AccelY))
	be.PutUint16(out[12:14], uint16(t.AccelZ))
	be.PutUint16(out[14:16], uint16(t.GyroX))
	be.PutUint16(out[16:18], uint16(t.GyroY))
	be.PutUint16(out[18:20], uint16(t.GyroZ))
	be.PutUint16(out[20:22], t.Voltage)

	out[TelemetrySize-2] = Checksum(out[:TelemetrySize-2])
	out[TelemetrySize-1] = Tail
	return out
}

// Scan searches buf for the next telemetry frame and returns the decoded
// frame together with the number of bytes consumed from the front of buf.
//
// On ErrIncomplete the caller should retain buf[consumed:] and wait for more
// data: bytes before the first header are consumed as line noise, the header
// and any partial frame after it are kept. On FramingError or ChecksumError
// exactly one byte past the candidate header is consumed so that decoding
// resynchronises within a bounded number of subsequent bytes.
func Scan(buf []byte) (Telemetry, int, error) {
	start := bytes.IndexByte(buf, Header)
	if start < 0 {
		return Telemetry{}, len(buf), ErrIncomplete
	}
	if len(buf)-start < TelemetrySize {
		return Telemetry{}, start, ErrIncomplete
	}
	t, err := DecodeTelemetry(buf[start : start+TelemetrySize])
	if err != nil {
		return Telemetry{}, start + 1, err
	}
	return t, start + TelemetrySize, nil
}

// EncodeCommand produces the outbound frame for a velocity command. Bytes 1
// and 2 are reserved and transmitted as zero.
func EncodeCommand(cmd Command) []byte {
	out := make([]byte, CommandSize)
	out[0] = Header

	be := binary.BigEndian
	be.PutUint16(out[3:5], uint16(cmd.VelX))
	be.PutUint16(out[5:7], uint16(cmd.VelY))
	be.PutUint16(out[7:9], uint16(cmd.VelZ))

	out[CommandSize-2] = Checksum(out[:CommandSize-2])
	out[CommandSize-1] = Tail
	return out
}

// DecodeCommand is the inverse of EncodeCommand with the same validation
// rules as DecodeTelemetry. The board-side firmware performs the equivalent
// checks; keeping a decoder here lets tests close the loop.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) < CommandSize {
		return Command{}, ErrIncomplete
	}
	if buf[0] != Header {
		return Command{}, &FramingError{Offset: 0, Got: buf[0]}
	}
	if buf[CommandSize-1] != Tail {
		return Command{}, &FramingError{Offset: CommandSize - 1, Got: buf[CommandSize-1]}
	}
	if bcc := Checksum(buf[:CommandSize-2]); bcc != buf[CommandSize-2] {
		return Command{}, &ChecksumError{Want: bcc, Got: buf[CommandSize-2]}
	}

	be := binary.BigEndian
	return Command{
		VelX: int16(be.Uint16(buf[3:5])),
		VelY: int16(be.Uint16(buf[5:7])),
		VelZ: int16(be.Uint16(buf[7:9])),
	}, nil
}
