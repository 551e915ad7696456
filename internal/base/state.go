package base

import (
	"time"

	"github.com/LinFei83/tennis-robot/internal/attitude"
	"github.com/LinFei83/tennis-robot/internal/odometry"
)

// Vector3 is a plain 3-component vector used for velocities and
// accelerations.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// VelocityCommand is a target body velocity in physical units.
type VelocityCommand struct {
	LinearX  float64 `json:"linear_x"`  // m/s, forward
	LinearY  float64 `json:"linear_y"`  // m/s, left
	AngularZ float64 `json:"angular_z"` // rad/s, counter-clockwise
}

// Odometry is one snapshot of the integrated pose together with the body
// velocities that produced it. Reported velocities are the board's values
// after unit conversion but before scale correction, matching what the
// wheels actually measured.
type Odometry struct {
	Pose        odometry.Pose       `json:"pose"`
	Orientation attitude.Quaternion `json:"orientation"` // planar, derived from yaw
	Linear      Vector3             `json:"linear_velocity"`
	Angular     Vector3             `json:"angular_velocity"`
	Timestamp   time.Time           `json:"timestamp"`
}

// IMUSample is one converted inertial sample with the fused orientation.
type IMUSample struct {
	Orientation        attitude.Quaternion `json:"orientation"`
	AngularVelocity    Vector3             `json:"angular_velocity"`    // rad/s
	LinearAcceleration Vector3             `json:"linear_acceleration"` // m/s²
	Timestamp          time.Time           `json:"timestamp"`
}

// RobotState is the atomic snapshot published after each update cycle.
// Readers always see pose, orientation and voltage from the same cycle,
// never a torn combination.
type RobotState struct {
	Odometry  Odometry  `json:"odometry"`
	IMU       IMUSample `json:"imu"`
	Voltage   float64   `json:"voltage"` // volts
	Timestamp time.Time `json:"timestamp"`
}

// Stats counts per-session pipeline events. Framing and checksum errors are
// expected background noise on a hot-plugged serial link; they recover
// locally and only surface here.
type Stats struct {
	FramesDecoded   uint64 `json:"frames_decoded"`
	FramingErrors   uint64 `json:"framing_errors"`
	ChecksumErrors  uint64 `json:"checksum_errors"`
	TimingAnomalies uint64 `json:"timing_anomalies"`
	CommandsSent    uint64 `json:"commands_sent"`
}
