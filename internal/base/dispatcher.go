package base

import (
	"fmt"
	"sync"

	"github.com/LinFei83/tennis-robot/internal/monitoring"
)

// Handler signatures for the five event kinds the driver publishes.
type (
	OdometryHandler func(Odometry)
	IMUHandler      func(IMUSample)
	VoltageHandler  func(float64)
	ErrorHandler    func(error)
	InfoHandler     func(string)
)

// Dispatcher delivers decoded and derived results to registered handlers.
// It holds at most one handler per event kind; a new registration replaces
// the previous one. Handlers run synchronously on the worker goroutine so
// callback order matches decode order. A panicking handler is converted into
// an error notification at the dispatch boundary; it never terminates the
// worker loop.
type Dispatcher struct {
	mu       sync.Mutex
	odometry OdometryHandler
	imu      IMUHandler
	voltage  VoltageHandler
	err      ErrorHandler
	info     InfoHandler
}

// NewDispatcher returns a dispatcher with no handlers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnOdometry replaces the odometry handler. Pass nil to unregister.
func (d *Dispatcher) OnOdometry(h OdometryHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.odometry = h
}

// OnIMU replaces the IMU handler. Pass nil to unregister.
func (d *Dispatcher) OnIMU(h IMUHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.imu = h
}

// OnVoltage replaces the voltage handler. Pass nil to unregister.
func (d *Dispatcher) OnVoltage(h VoltageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voltage = h
}

// OnError replaces the error handler. Pass nil to unregister.
func (d *Dispatcher) OnError(h ErrorHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = h
}

// OnInfo replaces the info handler. Pass nil to unregister.
func (d *Dispatcher) OnInfo(h InfoHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = h
}

func (d *Dispatcher) dispatchOdometry(o Odometry) {
	d.mu.Lock()
	h := d.odometry
	d.mu.Unlock()
	if h == nil {
		return
	}
	d.guard("odometry", func() { h(o) })
}

func (d *Dispatcher) dispatchIMU(s IMUSample) {
	d.mu.Lock()
	h := d.imu
	d.mu.Unlock()
	if h == nil {
		return
	}
	d.guard("imu", func() { h(s) })
}

func (d *Dispatcher) dispatchVoltage(v float64) {
	d.mu.Lock()
	h := d.voltage
	d.mu.Unlock()
	if h == nil {
		return
	}
	d.guard("voltage", func() { h(v) })
}

func (d *Dispatcher) dispatchError(err error) {
	d.mu.Lock()
	h := d.err
	d.mu.Unlock()
	if h == nil {
		monitoring.Logf("base: %v", err)
		return
	}
	// The error handler is the last line of defence; if it panics there is
	// nowhere left to report, so log and carry on.
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("base: error handler panicked: %v", r)
		}
	}()
	h(err)
}

func (d *Dispatcher) dispatchInfo(msg string) {
	d.mu.Lock()
	h := d.info
	d.mu.Unlock()
	if h == nil {
		monitoring.Logf("base: %s", msg)
		return
	}
	d.guard("info", func() { h(msg) })
}

// guard runs a handler and converts a panic into an error notification.
func (d *Dispatcher) guard(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.dispatchError(fmt.Errorf("%s handler panicked: %v", kind, r))
		}
	}()
	fn()
}
