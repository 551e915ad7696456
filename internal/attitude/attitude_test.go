package attitude

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEstimatorStartsAtIdentity(t *testing.T) {
	e := NewEstimator(DefaultTwoKp, DefaultTwoKi)
	q := e.Orientation()
	assert.Equal(t, Identity(), q)
}

func TestUpdateKeepsUnitNorm(t *testing.T) {
	e := NewEstimator(DefaultTwoKp, DefaultTwoKi)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 10000; i++ {
		gx := (rng.Float64() - 0.5) * 10
		gy := (rng.Float64() - 0.5) * 10
		gz := (rng.Float64() - 0.5) * 10
		ax := (rng.Float64() - 0.5) * 20
		ay := (rng.Float64() - 0.5) * 20
		az := (rng.Float64() - 0.5) * 20

		q := e.Update(gx, gy, gz, ax, ay, az, 0.05)
		if math.Abs(q.Norm()-1) > 1e-6 {
			t.Fatalf("norm drifted to %v after %d updates", q.Norm(), i+1)
		}
	}
}

// A constant yaw rate integrated in small steps must accumulate the expected
// total rotation. Accelerometer input is zero so the update is pure gyro
// integration.
func TestUpdateIntegratesYawRate(t *testing.T) {
	e := NewEstimator(DefaultTwoKp, DefaultTwoKi)

	const (
		rate  = math.Pi / 2 // rad/s
		dt    = 0.005
		steps = 200 // 1 second total
	)
	for i := 0; i < steps; i++ {
		e.Update(0, 0, rate, 0, 0, 0, dt)
	}

	q := e.Orientation()
	want := FromYaw(math.Pi / 2)
	assert.InDelta(t, want.W, q.W, 1e-3)
	assert.InDelta(t, want.Z, q.Z, 1e-3)
	assert.InDelta(t, 0, q.X, 1e-6)
	assert.InDelta(t, 0, q.Y, 1e-6)
}

func TestUpdateZeroRatesLeaveOrientation(t *testing.T) {
	e := NewEstimator(0, 0)
	for i := 0; i < 100; i++ {
		e.Update(0, 0, 0, 0, 0, 0, 0.05)
	}
	q := e.Orientation()
	assert.InDelta(t, 1, q.W, 1e-12)
	assert.InDelta(t, 0, q.X, 1e-12)
	assert.InDelta(t, 0, q.Y, 1e-12)
	assert.InDelta(t, 0, q.Z, 1e-12)
}

// With proportional feedback enabled, a steady gravity vector pulls the
// estimate toward level even when the gyro reports a small bias.
func TestAccelFeedbackCorrectsTilt(t *testing.T) {
	e := NewEstimator(DefaultTwoKp, DefaultTwoKi)

	// Small constant roll-rate bias with gravity straight down the body
	// Z axis: pure integration would tilt forever, feedback must hold the
	// estimate near level.
	for i := 0; i < 2000; i++ {
		e.Update(0.01, 0, 0, 0, 0, 9.8, 0.05)
	}

	q := e.Orientation()
	roll := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	assert.Less(t, math.Abs(roll), 0.05, "feedback should bound the roll drift")
}

func TestOrientationReturnsCopy(t *testing.T) {
	e := NewEstimator(DefaultTwoKp, DefaultTwoKi)
	q1 := e.Orientation()
	e.Update(0, 0, 1, 0, 0, 0, 0.1)
	q2 := e.Orientation()

	require.Equal(t, Identity(), q1, "earlier copy must not change")
	assert.NotEqual(t, q1, q2)
}

func TestReset(t *testing.T) {
	e := NewEstimator(DefaultTwoKp, 0.1)
	for i := 0; i < 50; i++ {
		e.Update(0.5, -0.2, 1.0, 0.1, 0.2, 9.7, 0.05)
	}
	require.NotEqual(t, Identity(), e.Orientation())

	e.Reset()
	assert.Equal(t, Identity(), e.Orientation())
}

func TestFromYaw(t *testing.T) {
	tests := []struct {
		yaw  float64
		want Quaternion
	}{
		{0, Quaternion{W: 1}},
		{math.Pi, Quaternion{W: math.Cos(math.Pi / 2), Z: math.Sin(math.Pi / 2)}},
		{-math.Pi / 2, Quaternion{W: math.Cos(math.Pi / 4), Z: -math.Sin(math.Pi / 4)}},
	}

	for _, tt := range tests {
		got := FromYaw(tt.yaw)
		assert.InDelta(t, tt.want.W, got.W, 1e-12)
		assert.InDelta(t, tt.want.Z, got.Z, 1e-12)
		assert.Zero(t, got.X)
		assert.Zero(t, got.Y)
		assert.InDelta(t, 1, got.Norm(), 1e-12)
	}
}
