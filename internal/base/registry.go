package base

import "sync"

// Exactly one controller may own a given device path at a time. The serial
// layer does not reliably report a busy device on every platform, so
// ownership is tracked explicitly per process.
var (
	devicesMu sync.Mutex
	devices   = make(map[string]struct{})
)

func claimDevice(path string) error {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if _, taken := devices[path]; taken {
		return &DeviceError{Op: "claim", Path: path, Err: ErrDeviceBusy}
	}
	devices[path] = struct{}{}
	return nil
}

func releaseDevice(path string) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	delete(devices, path)
}
