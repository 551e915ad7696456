// Package attitude maintains the robot's orientation estimate by integrating
// gyroscope samples, with optional accelerometer feedback in the style of a
// Mahony complementary filter. With zero feedback gains or no accelerometer
// sample the update reduces to plain first-order quaternion integration
// q ← normalize(q + dt·0.5·q⊗(0, ω)).
package attitude

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/num/quat"
)

// Feedback gains matching the board vendor's firmware defaults. A positive
// proportional gain lets gravity slowly correct roll/pitch drift; the
// integral term is disabled because the gyro bias on this IMU is negligible
// over a session.
const (
	DefaultTwoKp = 1.0
	DefaultTwoKi = 0.0
)

// Quaternion is an orientation in (w, x, y, z) order with unit norm.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the no-rotation quaternion.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// FromYaw builds the quaternion for a pure rotation about the vertical axis.
func FromYaw(yaw float64) Quaternion {
	half := yaw * 0.5
	return Quaternion{W: math.Cos(half), Z: math.Sin(half)}
}

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Estimator fuses angular-rate samples into an orientation quaternion.
// It is safe for concurrent use: the worker updates it while API callers
// read copies.
type Estimator struct {
	mu sync.Mutex
	q  quat.Number

	twoKp float64
	twoKi float64

	integralFBX float64
	integralFBY float64
	integralFBZ float64
}

// NewEstimator creates an estimator at the identity orientation with the
// given Mahony feedback gains.
func NewEstimator(twoKp, twoKi float64) *Estimator {
	return &Estimator{
		q:     quat.Number{Real: 1},
		twoKp: twoKp,
		twoKi: twoKi,
	}
}

// Update advances the orientation by one sample. gx, gy, gz are body
// angular rates in rad/s; ax, ay, az are accelerometer readings (any scale,
// only the direction is used; pass zeros to skip the feedback term); dt is
// the elapsed time in seconds. It returns the new orientation.
func (e *Estimator) Update(gx, gy, gz, ax, ay, az, dt float64) Quaternion {
	e.mu.Lock()
	defer e.mu.Unlock()

	q0, q1, q2, q3 := e.q.Real, e.q.Imag, e.q.Jmag, e.q.Kmag

	if ax != 0 || ay != 0 || az != 0 {
		norm := math.Sqrt(ax*ax + ay*ay + az*az)
		ax, ay, az = ax/norm, ay/norm, az/norm

		// Estimated gravity direction: third row of the rotation matrix,
		// halved.
		halfvx := q1*q3 - q0*q2
		halfvy := q0*q1 + q2*q3
		halfvz := q0*q0 - 0.5 + q3*q3

		// Error is the cross product between measured and estimated gravity.
		halfex := ay*halfvz - az*halfvy
		halfey := az*halfvx - ax*halfvz
		halfez := ax*halfvy - ay*halfvx

		if e.twoKi > 0 {
			e.integralFBX += e.twoKi * halfex * dt
			e.integralFBY += e.twoKi * halfey * dt
			e.integralFBZ += e.twoKi * halfez * dt
			gx += e.integralFBX
			gy += e.integralFBY
			gz += e.integralFBZ
		} else {
			e.integralFBX, e.integralFBY, e.integralFBZ = 0, 0, 0
		}

		gx += e.twoKp * halfex
		gy += e.twoKp * halfey
		gz += e.twoKp * halfez
	}

	// First-order integration of q' = 0.5·q⊗(0, ω), then renormalise to
	// bound the drift the truncated series introduces.
	rate := quat.Number{Imag: gx, Jmag: gy, Kmag: gz}
	e.q = quat.Add(e.q, quat.Scale(0.5*dt, quat.Mul(e.q, rate)))
	e.q = quat.Scale(1/quat.Abs(e.q), e.q)

	return Quaternion{W: e.q.Real, X: e.q.Imag, Y: e.q.Jmag, Z: e.q.Kmag}
}

// Orientation returns a copy of the current estimate.
func (e *Estimator) Orientation() Quaternion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Quaternion{W: e.q.Real, X: e.q.Imag, Y: e.q.Jmag, Z: e.q.Kmag}
}

// Reset returns the estimator to the identity orientation and clears the
// integral feedback state.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.q = quat.Number{Real: 1}
	e.integralFBX, e.integralFBY, e.integralFBZ = 0, 0, 0
}
