// Package telemetrydb records drive telemetry to SQLite for later analysis.
// Recording is strictly optional: the driver runs fine without a database,
// and a recorder failure never interrupts acquisition.
package telemetrydb

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/LinFei83/tennis-robot/internal/base"
)

// schema.sql defines the session and sample tables.
//
//go:embed schema.sql
var schemaSQL string

// TelemetryDB wraps the SQLite handle with typed recording methods.
type TelemetryDB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*TelemetryDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply telemetry schema: %w", err)
	}
	return &TelemetryDB{db}, nil
}

// StartSession creates a new session row and returns its identifier.
func (tdb *TelemetryDB) StartSession(device, notes string) (string, error) {
	id := uuid.NewString()
	_, err := tdb.Exec(
		`INSERT INTO drive_sessions (id, device, notes) VALUES (?, ?, ?)`,
		id, device, notes,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (tdb *TelemetryDB) EndSession(sessionID string) error {
	_, err := tdb.Exec(
		`UPDATE drive_sessions SET end_timestamp = UNIXEPOCH('subsec') WHERE id = ?`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordOdometry stores one odometry sample.
func (tdb *TelemetryDB) RecordOdometry(sessionID string, o base.Odometry) error {
	_, err := tdb.Exec(
		`INSERT INTO odometry_samples
			(session_id, sample_timestamp_ns, x, y, yaw, linear_x, linear_y, angular_z)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, o.Timestamp.UnixNano(),
		o.Pose.X, o.Pose.Y, o.Pose.Yaw,
		o.Linear.X, o.Linear.Y, o.Angular.Z,
	)
	if err != nil {
		return fmt.Errorf("failed to insert odometry sample: %w", err)
	}
	return nil
}

// RecordIMU stores one inertial sample.
func (tdb *TelemetryDB) RecordIMU(sessionID string, s base.IMUSample) error {
	_, err := tdb.Exec(
		`INSERT INTO imu_samples
			(session_id, sample_timestamp_ns, qw, qx, qy, qz,
			 gyro_x, gyro_y, gyro_z, accel_x, accel_y, accel_z)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.Timestamp.UnixNano(),
		s.Orientation.W, s.Orientation.X, s.Orientation.Y, s.Orientation.Z,
		s.AngularVelocity.X, s.AngularVelocity.Y, s.AngularVelocity.Z,
		s.LinearAcceleration.X, s.LinearAcceleration.Y, s.LinearAcceleration.Z,
	)
	if err != nil {
		return fmt.Errorf("failed to insert imu sample: %w", err)
	}
	return nil
}

// RecordVoltage stores one battery voltage reading.
func (tdb *TelemetryDB) RecordVoltage(sessionID string, volts float64) error {
	_, err := tdb.Exec(
		`INSERT INTO voltage_samples (session_id, volts) VALUES (?, ?)`,
		sessionID, volts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert voltage sample: %w", err)
	}
	return nil
}

// SessionStats summarises one recorded session.
type SessionStats struct {
	SessionID     string `json:"session_id"`
	Device        string `json:"device"`
	OdometryCount int64  `json:"odometry_count"`
	IMUCount      int64  `json:"imu_count"`
	VoltageCount  int64  `json:"voltage_count"`
}

// Stats returns sample counts for the given session.
func (tdb *TelemetryDB) Stats(sessionID string) (SessionStats, error) {
	stats := SessionStats{SessionID: sessionID}
	err := tdb.QueryRow(
		`SELECT
			(SELECT device FROM drive_sessions WHERE id = ?),
			(SELECT COUNT(*) FROM odometry_samples WHERE session_id = ?),
			(SELECT COUNT(*) FROM imu_samples WHERE session_id = ?),
			(SELECT COUNT(*) FROM voltage_samples WHERE session_id = ?)`,
		sessionID, sessionID, sessionID, sessionID,
	).Scan(&stats.Device, &stats.OdometryCount, &stats.IMUCount, &stats.VoltageCount)
	if err != nil {
		return SessionStats{}, fmt.Errorf("failed to query session stats: %w", err)
	}
	return stats, nil
}

// LastPose returns the most recent recorded pose for the session, or false
// when the session has no odometry samples.
func (tdb *TelemetryDB) LastPose(sessionID string) (x, y, yaw float64, ok bool, err error) {
	err = tdb.QueryRow(
		`SELECT x, y, yaw FROM odometry_samples
		WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	).Scan(&x, &y, &yaw)
	if err == sql.ErrNoRows {
		return 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("failed to query last pose: %w", err)
	}
	return x, y, yaw, true, nil
}
