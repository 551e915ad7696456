package base

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/LinFei83/tennis-robot/internal/frame"
	"github.com/LinFei83/tennis-robot/internal/units"
)

// simVoltageMillivolts is the battery level the simulator reports.
const simVoltageMillivolts = 12400

// SimulatedPort fabricates telemetry without hardware. It echoes the last
// commanded velocities back as measured velocities and gyro rate, reports
// gravity on the vertical accelerometer axis and emits one frame per tick.
// Useful for developing against the full pipeline on a laptop.
type SimulatedPort struct {
	mu  sync.Mutex
	cmd frame.Command

	r    *io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

// NewSimulatedPort starts a generator emitting one telemetry frame per
// interval.
func NewSimulatedPort(interval time.Duration) *SimulatedPort {
	r, w := io.Pipe()
	p := &SimulatedPort{r: r, w: w, stop: make(chan struct{})}
	go p.generate(interval)
	return p
}

func (p *SimulatedPort) generate(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	gravityRaw := clampInt16(9.80665 * units.AccelRatio)
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			cmd := p.cmd
			p.mu.Unlock()

			t := frame.Telemetry{
				VelX:   cmd.VelX,
				VelY:   cmd.VelY,
				VelZ:   cmd.VelZ,
				AccelZ: gravityRaw,
				// Gyro z agrees with the commanded angular velocity so
				// the attitude estimate tracks the odometry yaw.
				GyroZ:   clampInt16(float64(cmd.VelZ) / 1000.0 / units.GyroRatio),
				Voltage: simVoltageMillivolts,
			}
			if _, err := p.w.Write(frame.EncodeTelemetry(t)); err != nil {
				return
			}
		}
	}
}

// Read returns generated telemetry bytes.
func (p *SimulatedPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Write accepts a command frame and stores its velocities for echoing.
// Malformed writes are swallowed, as a real board would ignore them.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	if cmd, err := frame.DecodeCommand(b); err == nil {
		p.mu.Lock()
		p.cmd = cmd
		p.mu.Unlock()
	}
	return len(b), nil
}

// Close stops the generator and releases the pipe.
func (p *SimulatedPort) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.w.Close()
		p.r.Close()
	})
	return nil
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// SimulatedFactory opens SimulatedPorts regardless of path, for dev mode.
type SimulatedFactory struct {
	// Interval between generated frames. Defaults to 50ms.
	Interval time.Duration
}

// Open returns a fresh simulated port.
func (f SimulatedFactory) Open(path string, opts PortOptions) (Port, error) {
	interval := f.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return NewSimulatedPort(interval), nil
}
