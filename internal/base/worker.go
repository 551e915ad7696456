package base

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LinFei83/tennis-robot/internal/attitude"
	"github.com/LinFei83/tennis-robot/internal/frame"
	"github.com/LinFei83/tennis-robot/internal/monitoring"
	"github.com/LinFei83/tennis-robot/internal/units"
)

// run hosts the two I/O loops for one session. It exits when both loops have
// returned, which happens on context cancellation or on the first device
// error. The first error faults the controller, which cancels the context
// and unwinds the other loop.
func (c *Controller) run(ctx context.Context, port Port, done chan struct{}) {
	defer close(done)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- c.readLoop(ctx, port)
	}()
	go func() {
		defer wg.Done()
		errs <- c.writeLoop(ctx, port)
	}()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			c.fault(err)
		}
	}
	wg.Wait()
}

// readLoop pulls raw chunks off the port and feeds them through the frame
// scanner. A dedicated goroutine performs the blocking reads so the loop can
// observe cancellation; zero-byte reads are timeout polls and are ignored.
func (c *Controller) readLoop(ctx context.Context, port Port) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(chunks)
		buf := make([]byte, 256)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := port.Read(buf)
			if err != nil {
				select {
				case readErr <- err:
				case <-ctx.Done():
				}
				return
			}
			if n == 0 {
				continue
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	var acc []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return &DeviceError{Op: "read", Path: c.cfg.Port, Err: err}
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					return &DeviceError{Op: "read", Path: c.cfg.Port, Err: err}
				default:
					return nil
				}
			}
			acc = c.drain(append(acc, chunk...))
		}
	}
}

// drain decodes every complete frame in buf and returns the unconsumed
// remainder. Corrupt data advances one byte at a time past the false header
// so a valid frame that follows is still found.
func (c *Controller) drain(buf []byte) []byte {
	for {
		tele, n, err := frame.Scan(buf)
		buf = buf[n:]
		switch {
		case err == nil:
			c.framesDecoded.Add(1)
			c.process(tele)
		case errors.Is(err, frame.ErrIncomplete):
			if len(buf) == 0 {
				return nil
			}
			// Copy the partial frame so the accumulated backing array can
			// be collected.
			return append([]byte(nil), buf...)
		default:
			c.recordFrameError(err)
		}
	}
}

func (c *Controller) recordFrameError(err error) {
	var ce *frame.ChecksumError
	if errors.As(err, &ce) {
		c.checksumErrors.Add(1)
	} else {
		c.framingErrors.Add(1)
	}
	monitoring.Logf("base: resync: %v", err)
}

// process converts one validated telemetry frame into physical units, runs
// the estimation steps and publishes the results. It runs on the read loop
// goroutine, so handlers see events in decode order.
func (c *Controller) process(t frame.Telemetry) {
	now := c.clock.Now()

	vx := units.VelocityFromRaw(t.VelX)
	vy := units.VelocityFromRaw(t.VelY)
	wz := units.VelocityFromRaw(t.VelZ)

	ax := units.AccelFromRaw(t.AccelX)
	ay := units.AccelFromRaw(t.AccelY)
	az := units.AccelFromRaw(t.AccelZ)
	gx := units.GyroFromRaw(t.GyroX)
	gy := units.GyroFromRaw(t.GyroY)
	gz := units.GyroFromRaw(t.GyroZ)

	voltage := units.VoltageFromRaw(t.Voltage)

	cvx, cvy, cwz := c.scale.Apply(vx, vy, wz)

	var dt time.Duration
	if !c.lastSample.IsZero() {
		dt = now.Sub(c.lastSample)
	}
	c.lastSample = now

	// The first frame of a session has no reference interval and anchors
	// the clock without integrating.
	if dt != 0 {
		if err := c.integrator.Step(cvx, cvy, cwz, dt); err != nil {
			c.timingAnomalies.Add(1)
			c.dispatcher.dispatchInfo(err.Error())
		}
	}

	// The attitude step tolerates a bad interval by falling back to the
	// board's nominal sampling period.
	adt := dt.Seconds()
	if dt <= 0 || dt > c.cfg.MaxOdomStepDuration() {
		adt = 1.0 / c.cfg.SamplingFreq
	}
	orientation := c.estimator.Update(gx, gy, gz, ax, ay, az, adt)

	pose := c.integrator.Pose()
	odom := Odometry{
		Pose:        pose,
		Orientation: attitude.FromYaw(pose.Yaw),
		Linear:      Vector3{X: vx, Y: vy},
		Angular:     Vector3{Z: wz},
		Timestamp:   now,
	}
	imu := IMUSample{
		Orientation:        orientation,
		AngularVelocity:    Vector3{X: gx, Y: gy, Z: gz},
		LinearAcceleration: Vector3{X: ax, Y: ay, Z: az},
		Timestamp:          now,
	}
	state := RobotState{Odometry: odom, IMU: imu, Voltage: voltage, Timestamp: now}

	c.snapMu.Lock()
	c.snap = state
	c.snapMu.Unlock()

	c.dispatcher.dispatchOdometry(odom)
	c.dispatcher.dispatchIMU(imu)
	c.dispatcher.dispatchVoltage(voltage)
}

// writeLoop retransmits the most recent velocity command at a fixed cadence.
// The board treats a quiet link as a halt, so steady retransmission doubles
// as a keepalive.
func (c *Controller) writeLoop(ctx context.Context, port Port) error {
	ticker := c.clock.NewTicker(c.cfg.CommandIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			c.cmdMu.Lock()
			cmd, ok := c.pending, c.hasPending
			c.cmdMu.Unlock()
			if !ok {
				continue
			}
			if err := c.transmit(port, cmd); err != nil {
				return &DeviceError{Op: "write", Path: c.cfg.Port, Err: err}
			}
		}
	}
}

// transmit encodes and writes one command frame. Writes from the write loop
// and the final halt in Stop share a lock so frames never interleave.
func (c *Controller) transmit(port Port, cmd VelocityCommand) error {
	buf := frame.EncodeCommand(frame.Command{
		VelX: units.VelocityToRaw(cmd.LinearX),
		VelY: units.VelocityToRaw(cmd.LinearY),
		VelZ: units.VelocityToRaw(cmd.AngularZ),
	})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := port.Write(buf); err != nil {
		return err
	}
	c.commandsSent.Add(1)
	return nil
}
