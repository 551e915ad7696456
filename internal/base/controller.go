// Package base drives a motion control board over a serial link. It owns the
// device for the duration of a session, turns the inbound byte stream into
// validated telemetry, fuses gyro samples into an orientation estimate,
// integrates body velocities into a world-frame pose, and exposes the result
// through a small thread-safe API plus per-kind callbacks.
package base

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LinFei83/tennis-robot/internal/attitude"
	"github.com/LinFei83/tennis-robot/internal/config"
	"github.com/LinFei83/tennis-robot/internal/monitoring"
	"github.com/LinFei83/tennis-robot/internal/odometry"
	"github.com/LinFei83/tennis-robot/internal/timeutil"
	"github.com/LinFei83/tennis-robot/internal/units"
)

// State is the controller lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Faulted
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stopTimeout bounds how long Stop waits for the worker to exit before
// closing the device anyway.
const stopTimeout = 2 * time.Second

// Controller is the public facade over the serial worker, the attitude
// estimator and the odometry integrator. All methods are safe for concurrent
// use.
type Controller struct {
	cfg     config.Config
	opts    PortOptions
	factory PortFactory
	clock   timeutil.Clock

	dispatcher *Dispatcher
	estimator  *attitude.Estimator
	integrator *odometry.Integrator
	scale      units.ScaleCorrection

	mu     sync.Mutex // serialises Start/Stop transitions
	state  atomic.Int32
	port   Port
	cancel context.CancelFunc
	done   chan struct{}

	snapMu sync.RWMutex
	snap   RobotState

	cmdMu      sync.Mutex
	pending    VelocityCommand
	hasPending bool

	writeMu sync.Mutex // serialises frames onto the port

	lastSample time.Time // read-loop only

	framesDecoded   atomic.Uint64
	framingErrors   atomic.Uint64
	checksumErrors  atomic.Uint64
	timingAnomalies atomic.Uint64
	commandsSent    atomic.Uint64
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithPortFactory replaces the real serial factory, for tests and the
// simulated dev mode.
func WithPortFactory(f PortFactory) Option {
	return func(c *Controller) { c.factory = f }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk timeutil.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// NewController validates cfg and returns a stopped controller. The config
// is never mutated afterwards.
func NewController(cfg config.Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		opts:       PortOptions{BaudRate: cfg.BaudRate},
		factory:    SerialFactory{},
		clock:      timeutil.RealClock{},
		dispatcher: NewDispatcher(),
		estimator:  attitude.NewEstimator(cfg.AttitudeTwoKp, cfg.AttitudeTwoKi),
		integrator: odometry.NewIntegrator(cfg.MaxOdomStepDuration()),
		scale: units.ScaleCorrection{
			X:         cfg.OdomXScale,
			Y:         cfg.OdomYScale,
			ZPositive: cfg.OdomZScalePositive,
			ZNegative: cfg.OdomZScaleNegative,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current lifecycle state without blocking.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start opens the device, resets per-session state and launches the worker.
// Calling Start while already running is a no-op. A faulted controller must
// be stopped before it can start again.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Running, Starting:
		return nil
	case Stopping:
		return &DeviceError{Op: "open", Path: c.cfg.Port, Err: errors.New("stop in progress")}
	case Faulted:
		return &DeviceError{Op: "open", Path: c.cfg.Port, Err: errors.New("controller faulted; call Stop first")}
	}

	if err := claimDevice(c.cfg.Port); err != nil {
		return err
	}
	c.state.Store(int32(Starting))

	port, err := c.factory.Open(c.cfg.Port, c.opts)
	if err != nil {
		releaseDevice(c.cfg.Port)
		c.state.Store(int32(Stopped))
		return &DeviceError{Op: "open", Path: c.cfg.Port, Err: err}
	}
	if tp, ok := port.(TimeoutPort); ok {
		if err := tp.SetReadTimeout(c.cfg.ReadTimeoutDuration()); err != nil {
			port.Close()
			releaseDevice(c.cfg.Port)
			c.state.Store(int32(Stopped))
			return &DeviceError{Op: "open", Path: c.cfg.Port, Err: err}
		}
	}

	// Fresh session: a restart behaves like first boot.
	c.estimator.Reset()
	c.integrator.Reset()
	c.lastSample = time.Time{}
	c.framesDecoded.Store(0)
	c.framingErrors.Store(0)
	c.checksumErrors.Store(0)
	c.timingAnomalies.Store(0)
	c.commandsSent.Store(0)
	c.cmdMu.Lock()
	c.pending, c.hasPending = VelocityCommand{}, false
	c.cmdMu.Unlock()
	c.snapMu.Lock()
	c.snap = RobotState{}
	c.snapMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.port = port
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state.Store(int32(Running))

	go c.run(ctx, port, c.done)

	c.dispatcher.dispatchInfo(fmt.Sprintf("serial session started on %s", c.cfg.Port))
	return nil
}

// Stop signals the worker to terminate, waits up to a bounded timeout for it
// to exit, sends a final halt command and closes the device. Safe to call
// repeatedly and from any state, including Faulted.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.State() {
	case Stopped:
		c.mu.Unlock()
		return nil
	case Stopping:
		done := c.done
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	wasRunning := c.State() == Running
	c.state.Store(int32(Stopping))
	cancel, done, port := c.cancel, c.done, c.port
	c.mu.Unlock()

	// Best-effort halt so the chassis does not keep executing its last
	// velocity after the link goes quiet.
	if wasRunning {
		if err := c.transmit(port, VelocityCommand{}); err != nil {
			monitoring.Logf("base: halt command failed: %v", err)
		}
	}

	cancel()

	timer := c.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C():
		monitoring.Logf("base: worker did not exit within %v, closing device anyway", stopTimeout)
	}

	closeErr := port.Close()
	releaseDevice(c.cfg.Port)

	c.mu.Lock()
	c.port = nil
	c.cancel = nil
	c.state.Store(int32(Stopped))
	c.mu.Unlock()

	c.dispatcher.dispatchInfo("serial session stopped")
	if closeErr != nil {
		return &DeviceError{Op: "close", Path: c.cfg.Port, Err: closeErr}
	}
	return nil
}

// SetVelocity validates and stores the target body velocity. It never blocks
// on I/O: the stored command is transmitted by the write path on its next
// tick, and rapid calls simply replace one another (last writer wins).
func (c *Controller) SetVelocity(linearX, linearY, angularZ float64) error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"linear x", linearX},
		{"linear y", linearY},
		{"angular z", angularZ},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("base: %s velocity must be finite, got %v", v.name, v.value)
		}
	}
	if max := c.cfg.MaxLinearVelocity; math.Abs(linearX) > max || math.Abs(linearY) > max {
		return fmt.Errorf("base: linear velocity (%v, %v) exceeds bound %v m/s", linearX, linearY, max)
	}
	if max := c.cfg.MaxAngularVelocity; math.Abs(angularZ) > max {
		return fmt.Errorf("base: angular velocity %v exceeds bound %v rad/s", angularZ, max)
	}

	if c.State() != Running {
		return &DeviceError{Op: "command", Path: c.cfg.Port, Err: ErrNotRunning}
	}

	c.cmdMu.Lock()
	c.pending = VelocityCommand{LinearX: linearX, LinearY: linearY, AngularZ: angularZ}
	c.hasPending = true
	c.cmdMu.Unlock()
	return nil
}

// Odometry returns an independent copy of the latest odometry snapshot.
func (c *Controller) Odometry() Odometry {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.Odometry
}

// IMUData returns an independent copy of the latest IMU snapshot.
func (c *Controller) IMUData() IMUSample {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.IMU
}

// Voltage returns the latest battery voltage in volts.
func (c *Controller) Voltage() float64 {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.Voltage
}

// Snapshot returns the full atomic state snapshot from the last cycle.
func (c *Controller) Snapshot() RobotState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// ResetOdometry re-anchors the odom frame at the current position without
// interrupting acquisition.
func (c *Controller) ResetOdometry() {
	c.integrator.Reset()
	c.dispatcher.dispatchInfo("odometry reset")
}

// Stats returns the per-session pipeline counters.
func (c *Controller) Stats() Stats {
	return Stats{
		FramesDecoded:   c.framesDecoded.Load(),
		FramingErrors:   c.framingErrors.Load(),
		ChecksumErrors:  c.checksumErrors.Load(),
		TimingAnomalies: c.timingAnomalies.Load(),
		CommandsSent:    c.commandsSent.Load(),
	}
}

// OnOdometry registers the odometry handler, replacing any previous one.
func (c *Controller) OnOdometry(h OdometryHandler) { c.dispatcher.OnOdometry(h) }

// OnIMU registers the IMU handler, replacing any previous one.
func (c *Controller) OnIMU(h IMUHandler) { c.dispatcher.OnIMU(h) }

// OnVoltage registers the voltage handler, replacing any previous one.
func (c *Controller) OnVoltage(h VoltageHandler) { c.dispatcher.OnVoltage(h) }

// OnError registers the error handler, replacing any previous one.
func (c *Controller) OnError(h ErrorHandler) { c.dispatcher.OnError(h) }

// OnInfo registers the info handler, replacing any previous one.
func (c *Controller) OnInfo(h InfoHandler) { c.dispatcher.OnInfo(h) }

// fault records an unrecoverable device error: the worker is cancelled, the
// state moves to Faulted and the error is reported exactly once. The device
// stays claimed until Stop releases it.
func (c *Controller) fault(err error) {
	c.mu.Lock()
	if c.State() != Running {
		c.mu.Unlock()
		return
	}
	c.state.Store(int32(Faulted))
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	monitoring.Logf("base: device fault: %v", err)
	c.dispatcher.dispatchError(err)
}
