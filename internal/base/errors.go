package base

import (
	"errors"
	"fmt"
)

// ErrDeviceBusy is wrapped by the DeviceError returned when a second
// controller attempts to start on a device path that is already owned.
var ErrDeviceBusy = errors.New("device already owned by another controller")

// ErrNotRunning is wrapped by the DeviceError returned for operations that
// need a live serial session.
var ErrNotRunning = errors.New("controller is not running")

// DeviceError reports a failure of the serial device itself: open, read,
// write, or close. Device errors are fatal to the session; the controller
// moves to the Faulted state and stays there until an explicit Stop/Start
// cycle.
type DeviceError struct {
	Op   string // "open", "read", "write", "close", "claim", "command"
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
