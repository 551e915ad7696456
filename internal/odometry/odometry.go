// Package odometry integrates corrected body-frame velocities into a pose in
// the world (odom) frame. The frame is anchored wherever the pose was last
// reset.
package odometry

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultMaxStep is the largest sample interval accepted for integration.
// Anything longer indicates a stalled link or a reconnect gap; integrating
// across it would teleport the pose.
const DefaultMaxStep = time.Second

// Pose is the accumulated planar position and heading.
type Pose struct {
	X   float64 `json:"x"`   // metres
	Y   float64 `json:"y"`   // metres
	Yaw float64 `json:"yaw"` // radians, wrapped to (-pi, pi]
}

// TimingAnomaly reports a sample interval that cannot be integrated: zero,
// negative, or beyond the sanity bound. The sample's velocities are still
// valid for reporting; only the integration step is skipped.
type TimingAnomaly struct {
	Dt  time.Duration
	Max time.Duration
}

func (e *TimingAnomaly) Error() string {
	if e.Dt <= 0 {
		return fmt.Sprintf("odometry: non-positive sample interval %v", e.Dt)
	}
	return fmt.Sprintf("odometry: sample interval %v exceeds bound %v", e.Dt, e.Max)
}

// Integrator accumulates pose from velocity samples. Safe for concurrent
// use: the worker steps it while API callers read the pose.
type Integrator struct {
	mu      sync.Mutex
	pose    Pose
	maxStep time.Duration
}

// NewIntegrator creates an integrator at the origin. maxStep bounds the
// accepted sample interval; zero or negative selects DefaultMaxStep.
func NewIntegrator(maxStep time.Duration) *Integrator {
	if maxStep <= 0 {
		maxStep = DefaultMaxStep
	}
	return &Integrator{maxStep: maxStep}
}

// Step advances the pose by one body-frame velocity sample (vx, vy in m/s,
// wz in rad/s) held for dt. A dt outside (0, maxStep] returns a
// TimingAnomaly and leaves the pose untouched.
func (i *Integrator) Step(vx, vy, wz float64, dt time.Duration) error {
	if dt <= 0 || dt > i.maxStep {
		return &TimingAnomaly{Dt: dt, Max: i.maxStep}
	}
	s := dt.Seconds()

	i.mu.Lock()
	defer i.mu.Unlock()

	sin, cos := math.Sincos(i.pose.Yaw)
	i.pose.X += (vx*cos - vy*sin) * s
	i.pose.Y += (vx*sin + vy*cos) * s
	i.pose.Yaw = WrapAngle(i.pose.Yaw + wz*s)
	return nil
}

// Pose returns a copy of the current pose.
func (i *Integrator) Pose() Pose {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pose
}

// Reset moves the pose back to the origin. Acquisition and velocity
// reporting are unaffected; only the accumulated pose is zeroed.
func (i *Integrator) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pose = Pose{}
}

// WrapAngle wraps a to (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}
