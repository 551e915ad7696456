package base

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal interface the worker needs from a serial device.
// The abstraction exists so the full read/decode/dispatch pipeline can run
// against an in-memory port in tests.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort is an optional extension: ports that support a bounded read
// let the worker observe a stop request even when no bytes arrive.
type TimeoutPort interface {
	Port
	SetReadTimeout(timeout time.Duration) error
}

// PortOptions describes the serial connection parameters used when opening a
// device.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies the board's defaults for any
// unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	return opts, nil
}

// SerialMode converts the options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// PortFactory opens serial ports. Injected into the controller so tests and
// the simulated dev mode run without hardware.
type PortFactory interface {
	Open(path string, opts PortOptions) (Port, error)
}

// SerialFactory opens real devices via go.bug.st/serial.
type SerialFactory struct{}

// Open opens the serial device at path with the given options.
func (SerialFactory) Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
