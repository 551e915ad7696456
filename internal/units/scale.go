package units

// ScaleCorrection holds the per-axis odometry correction factors measured
// during chassis calibration. The yaw rate uses a different factor per
// rotation direction because drivetrain backlash biases the two directions
// unequally.
type ScaleCorrection struct {
	X         float64
	Y         float64
	ZPositive float64
	ZNegative float64
}

// IdentityScale performs no correction.
func IdentityScale() ScaleCorrection {
	return ScaleCorrection{X: 1, Y: 1, ZPositive: 1, ZNegative: 1}
}

// Apply corrects a body-frame velocity sample.
func (s ScaleCorrection) Apply(vx, vy, wz float64) (float64, float64, float64) {
	if wz >= 0 {
		wz *= s.ZPositive
	} else {
		wz *= s.ZNegative
	}
	return vx * s.X, vy * s.Y, wz
}
