// Package units converts the raw integer fields of the wire protocol into
// physical SI units and back. All ratios are fixed properties of the board
// firmware and its IMU; they are not configurable.
package units

import "math"

const (
	// velocityScale converts between mm/s (and mrad/s) on the wire and
	// m/s (rad/s) in the API.
	velocityScale = 1000.0

	// AccelRatio is the accelerometer sensitivity: raw counts per m/s².
	AccelRatio = 1671.84

	// GyroRatio is the gyroscope sensitivity: rad/s per raw count.
	GyroRatio = 0.00026644

	// voltageScale converts between mV on the wire and V in the API.
	voltageScale = 1000.0
)

// VelocityFromRaw converts a wire velocity (mm/s or mrad/s) to m/s or rad/s.
func VelocityFromRaw(raw int16) float64 {
	return float64(raw) / velocityScale
}

// VelocityToRaw converts a physical velocity to wire units, rounding to the
// nearest count and saturating at the int16 range instead of wrapping.
func VelocityToRaw(v float64) int16 {
	scaled := math.Round(v * velocityScale)
	switch {
	case scaled > math.MaxInt16:
		return math.MaxInt16
	case scaled < math.MinInt16:
		return math.MinInt16
	}
	return int16(scaled)
}

// AccelFromRaw converts raw accelerometer counts to m/s².
func AccelFromRaw(raw int16) float64 {
	return float64(raw) / AccelRatio
}

// GyroFromRaw converts raw gyroscope counts to rad/s.
func GyroFromRaw(raw int16) float64 {
	return float64(raw) * GyroRatio
}

// VoltageFromRaw converts a wire voltage (mV) to volts.
func VoltageFromRaw(raw uint16) float64 {
	return float64(raw) / voltageScale
}
