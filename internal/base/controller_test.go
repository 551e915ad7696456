package base

import (
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinFei83/tennis-robot/internal/config"
	"github.com/LinFei83/tennis-robot/internal/frame"
	"github.com/LinFei83/tennis-robot/internal/timeutil"
)

const waitFor = 2 * time.Second

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	// Each test claims its own device path so the process-wide registry
	// never couples tests together.
	cfg.Port = "/dev/test-" + t.Name()
	return cfg
}

func newTestController(t *testing.T) (*Controller, *TestablePort, *timeutil.MockClock) {
	t.Helper()
	port := NewTestablePort()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	ctrl, err := NewController(testConfig(t),
		WithPortFactory(NewTestableFactory(port)),
		WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Stop() })
	return ctrl, port, clock
}

func telemetryFrame(velX, velY, velZ, gyroZ int16, voltageMillivolts uint16) []byte {
	return frame.EncodeTelemetry(frame.Telemetry{
		VelX:    velX,
		VelY:    velY,
		VelZ:    velZ,
		GyroZ:   gyroZ,
		Voltage: voltageMillivolts,
	})
}

// lastCommand decodes the most recent command frame written to the port.
func lastCommand(t *testing.T, port *TestablePort) frame.Command {
	t.Helper()
	data := port.WrittenData()
	require.GreaterOrEqual(t, len(data), frame.CommandSize)
	require.Zero(t, len(data)%frame.CommandSize)
	cmd, err := frame.DecodeCommand(data[len(data)-frame.CommandSize:])
	require.NoError(t, err)
	return cmd
}

func TestNewControllerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BaudRate = -1
	_, err := NewController(cfg)
	require.Error(t, err)
}

func TestControllerStartStop(t *testing.T) {
	ctrl, port, _ := newTestController(t)

	require.Equal(t, Stopped, ctrl.State())
	require.NoError(t, ctrl.Start())
	require.Equal(t, Running, ctrl.State())
	assert.Equal(t, 500*time.Millisecond, port.ReadTimeout())

	// Idempotent: a second Start must not reopen the device.
	require.NoError(t, ctrl.Start())
	require.Equal(t, Running, ctrl.State())

	require.NoError(t, ctrl.Stop())
	require.Equal(t, Stopped, ctrl.State())
	assert.True(t, port.Closed())

	// The teardown path sends a final halt so the chassis stops moving.
	cmd := lastCommand(t, port)
	assert.Equal(t, frame.Command{}, cmd)

	require.NoError(t, ctrl.Stop())
	require.Equal(t, Stopped, ctrl.State())
}

func TestControllerStartRecordsOpenParameters(t *testing.T) {
	port := NewTestablePort()
	factory := NewTestableFactory(port)
	cfg := testConfig(t)
	cfg.BaudRate = 57600
	ctrl, err := NewController(cfg, WithPortFactory(factory), WithClock(timeutil.NewMockClock(time.Unix(0, 0))))
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Stop() })

	require.NoError(t, ctrl.Start())
	calls := factory.OpenCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, cfg.Port, calls[0].Path)
	assert.Equal(t, 57600, calls[0].Opts.BaudRate)
}

func TestControllerDeviceExclusivity(t *testing.T) {
	ctrl1, _, _ := newTestController(t)
	require.NoError(t, ctrl1.Start())

	// Second controller on the same path must be refused while the first
	// holds the device.
	cfg := testConfig(t)
	ctrl2, err := NewController(cfg,
		WithPortFactory(NewTestableFactory(NewTestablePort())),
		WithClock(timeutil.NewMockClock(time.Unix(0, 0))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl2.Stop() })

	err = ctrl2.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceBusy)
	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, cfg.Port, de.Path)

	require.NoError(t, ctrl1.Stop())
	require.NoError(t, ctrl2.Start())
	require.Equal(t, Running, ctrl2.State())
}

func TestControllerOpenFailureReleasesDevice(t *testing.T) {
	port := NewTestablePort()
	factory := NewTestableFactory(port)
	factory.Err = errors.New("no such device")
	ctrl, err := NewController(testConfig(t), WithPortFactory(factory), WithClock(timeutil.NewMockClock(time.Unix(0, 0))))
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Stop() })

	err = ctrl.Start()
	require.Error(t, err)
	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "open", de.Op)
	require.Equal(t, Stopped, ctrl.State())

	// The path must be reclaimable after a failed open.
	factory.Err = nil
	require.NoError(t, ctrl.Start())
	require.Equal(t, Running, ctrl.State())
}

func TestControllerSetVelocityValidation(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	require.NoError(t, ctrl.Start())

	tests := []struct {
		name    string
		x, y, z float64
		wantErr bool
	}{
		{"zero", 0, 0, 0, false},
		{"within bounds", 1.5, -1.5, 3.9, false},
		{"at bounds", 2.0, 2.0, 4.0, false},
		{"linear x too fast", 2.01, 0, 0, true},
		{"linear y too fast", 0, -2.5, 0, true},
		{"angular too fast", 0, 0, 4.5, true},
		{"nan", math.NaN(), 0, 0, true},
		{"positive infinity", 0, math.Inf(1), 0, true},
		{"negative infinity", 0, 0, math.Inf(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ctrl.SetVelocity(tt.x, tt.y, tt.z)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestControllerSetVelocityWhileStopped(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	err := ctrl.SetVelocity(0.1, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestControllerTelemetryPipeline(t *testing.T) {
	ctrl, port, clock := newTestController(t)

	var mu sync.Mutex
	var order []string
	odomCh := make(chan Odometry, 16)
	imuCh := make(chan IMUSample, 16)
	voltCh := make(chan float64, 16)
	ctrl.OnOdometry(func(o Odometry) {
		mu.Lock()
		order = append(order, "odometry")
		mu.Unlock()
		odomCh <- o
	})
	ctrl.OnIMU(func(s IMUSample) {
		mu.Lock()
		order = append(order, "imu")
		mu.Unlock()
		imuCh <- s
	})
	ctrl.OnVoltage(func(v float64) {
		mu.Lock()
		order = append(order, "voltage")
		mu.Unlock()
		voltCh <- v
	})

	require.NoError(t, ctrl.Start())

	// First frame anchors the sample clock; the pose stays at the origin.
	port.AddReadData(telemetryFrame(200, 0, 0, 3753, 12400))
	o := waitFor1(t, odomCh)
	assert.InDelta(t, 0.0, o.Pose.X, 1e-12)
	assert.InDelta(t, 0.2, o.Linear.X, 1e-9)

	s := waitFor1(t, imuCh)
	assert.InDelta(t, 1.0, s.AngularVelocity.Z, 1e-3)
	assert.InDelta(t, 1.0, s.Orientation.Norm(), 1e-6)

	v := waitFor1(t, voltCh)
	assert.InDelta(t, 12.4, v, 1e-9)

	mu.Lock()
	assert.Equal(t, []string{"odometry", "imu", "voltage"}, order)
	mu.Unlock()

	// Second frame 50ms later: 0.2 m/s for 0.05s moves the pose 0.01m
	// forward.
	clock.Advance(50 * time.Millisecond)
	port.AddReadData(telemetryFrame(200, 0, 0, 3753, 12400))
	o = waitFor1(t, odomCh)
	assert.InDelta(t, 0.01, o.Pose.X, 1e-9)
	assert.InDelta(t, 0.0, o.Pose.Y, 1e-9)

	// Snapshot readers see the same cycle the callbacks saw.
	snap := ctrl.Snapshot()
	assert.Equal(t, o.Pose, snap.Odometry.Pose)
	assert.InDelta(t, 12.4, snap.Voltage, 1e-9)
	assert.InDelta(t, 12.4, ctrl.Voltage(), 1e-9)

	stats := ctrl.Stats()
	assert.Equal(t, uint64(2), stats.FramesDecoded)
	assert.Zero(t, stats.FramingErrors)
	assert.Zero(t, stats.ChecksumErrors)
}

func waitFor1[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func TestControllerResynchronisesAfterCorruptFrame(t *testing.T) {
	ctrl, port, _ := newTestController(t)
	require.NoError(t, ctrl.Start())

	corrupt := telemetryFrame(0, 0, 0, 0, 12400)
	corrupt[22] ^= 0xFF // bad checksum
	good := telemetryFrame(100, 0, 0, 0, 12400)
	port.AddReadData(append(corrupt, good...))

	require.Eventually(t, func() bool {
		s := ctrl.Stats()
		return s.FramesDecoded == 1 && s.ChecksumErrors == 1
	}, waitFor, 5*time.Millisecond)

	assert.InDelta(t, 0.1, ctrl.Odometry().Linear.X, 1e-9)
}

func TestControllerHandlesFrameSplitAcrossReads(t *testing.T) {
	ctrl, port, _ := newTestController(t)
	require.NoError(t, ctrl.Start())

	buf := telemetryFrame(300, 0, 0, 0, 12400)
	port.AddReadData(buf[:10])
	port.AddReadData(buf[10:])

	require.Eventually(t, func() bool {
		return ctrl.Stats().FramesDecoded == 1
	}, waitFor, 5*time.Millisecond)
	assert.InDelta(t, 0.3, ctrl.Odometry().Linear.X, 1e-9)
}

func TestControllerWritePathLastWriterWins(t *testing.T) {
	ctrl, port, clock := newTestController(t)
	require.NoError(t, ctrl.Start())

	interval := config.Default().CommandIntervalDuration()

	// No command yet: ticks transmit nothing.
	clock.Advance(interval)
	assert.Zero(t, ctrl.Stats().CommandsSent)

	// Two commands between ticks: only the newest goes on the wire.
	require.NoError(t, ctrl.SetVelocity(0.1, 0, 0))
	require.NoError(t, ctrl.SetVelocity(0.2, 0, -0.5))

	before := len(port.WrittenData())
	require.Eventually(t, func() bool {
		clock.Advance(interval)
		return len(port.WrittenData()) > before
	}, waitFor, 5*time.Millisecond)

	cmd := lastCommand(t, port)
	assert.Equal(t, int16(200), cmd.VelX)
	assert.Equal(t, int16(0), cmd.VelY)
	assert.Equal(t, int16(-500), cmd.VelZ)
	assert.GreaterOrEqual(t, ctrl.Stats().CommandsSent, uint64(1))
}

func TestControllerFaultOnReadError(t *testing.T) {
	ctrl, port, _ := newTestController(t)

	var errMu sync.Mutex
	var got []error
	ctrl.OnError(func(err error) {
		errMu.Lock()
		got = append(got, err)
		errMu.Unlock()
	})

	require.NoError(t, ctrl.Start())
	port.FailNextRead(io.ErrUnexpectedEOF)

	require.Eventually(t, func() bool {
		return ctrl.State() == Faulted
	}, waitFor, 5*time.Millisecond)

	errMu.Lock()
	require.Len(t, got, 1)
	var de *DeviceError
	require.ErrorAs(t, got[0], &de)
	assert.Equal(t, "read", de.Op)
	assert.ErrorIs(t, got[0], io.ErrUnexpectedEOF)
	errMu.Unlock()

	// Faulted controllers refuse commands and restarts until stopped.
	err := ctrl.SetVelocity(0.1, 0, 0)
	assert.ErrorIs(t, err, ErrNotRunning)
	require.Error(t, ctrl.Start())

	require.NoError(t, ctrl.Stop())
	require.Equal(t, Stopped, ctrl.State())
}

func TestControllerFaultOnWriteError(t *testing.T) {
	ctrl, port, clock := newTestController(t)
	require.NoError(t, ctrl.Start())
	require.NoError(t, ctrl.SetVelocity(0.5, 0, 0))

	port.FailNextWrite(errors.New("input/output error"))
	interval := config.Default().CommandIntervalDuration()
	require.Eventually(t, func() bool {
		clock.Advance(interval)
		return ctrl.State() == Faulted
	}, waitFor, 5*time.Millisecond)
}

func TestControllerRestartResetsSessionState(t *testing.T) {
	port := NewTestablePort()
	factory := NewTestableFactory(port)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	ctrl, err := NewController(testConfig(t), WithPortFactory(factory), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Stop() })
	require.NoError(t, ctrl.Start())

	port.AddReadData(telemetryFrame(500, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		return ctrl.Stats().FramesDecoded == 1
	}, waitFor, 5*time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	port.AddReadData(telemetryFrame(500, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		return ctrl.Odometry().Pose.X > 0.01
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, ctrl.Stop())

	// A restart opens a fresh device and behaves like first boot.
	factory.Port = NewTestablePort()
	require.NoError(t, ctrl.Start())

	assert.Zero(t, ctrl.Stats().FramesDecoded)
	assert.InDelta(t, 0.0, ctrl.Odometry().Pose.X, 1e-12)
}

func TestControllerResetOdometry(t *testing.T) {
	ctrl, port, clock := newTestController(t)
	require.NoError(t, ctrl.Start())

	port.AddReadData(telemetryFrame(1000, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		return ctrl.Stats().FramesDecoded == 1
	}, waitFor, 5*time.Millisecond)
	clock.Advance(200 * time.Millisecond)
	port.AddReadData(telemetryFrame(1000, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		return ctrl.Odometry().Pose.X > 0.1
	}, waitFor, 5*time.Millisecond)

	ctrl.ResetOdometry()

	clock.Advance(100 * time.Millisecond)
	port.AddReadData(telemetryFrame(0, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		return ctrl.Stats().FramesDecoded == 3
	}, waitFor, 5*time.Millisecond)
	assert.InDelta(t, 0.0, ctrl.Odometry().Pose.X, 1e-9)
}

func TestControllerTimingAnomalyCounter(t *testing.T) {
	ctrl, port, clock := newTestController(t)
	require.NoError(t, ctrl.Start())

	port.AddReadData(telemetryFrame(1000, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		return ctrl.Stats().FramesDecoded == 1
	}, waitFor, 5*time.Millisecond)

	// A 2s gap exceeds the default 1s ceiling: the frame is counted, the
	// pose is untouched and the anomaly is recorded.
	clock.Advance(2 * time.Second)
	port.AddReadData(telemetryFrame(1000, 0, 0, 0, 12400))
	require.Eventually(t, func() bool {
		s := ctrl.Stats()
		return s.FramesDecoded == 2 && s.TimingAnomalies == 1
	}, waitFor, 5*time.Millisecond)
	assert.InDelta(t, 0.0, ctrl.Odometry().Pose.X, 1e-12)
	require.Equal(t, Running, ctrl.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
	assert.Equal(t, "faulted", Faulted.String())
	assert.Equal(t, "state(99)", State(99).String())
}
