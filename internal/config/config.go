// Package config loads and validates the base driver configuration.
// Construction fails fast: a Config that does not validate never reaches the
// controller, so there is no partially started session to unwind.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Config holds everything the driver needs to own a chassis. Fields omitted
// from a JSON file keep their defaults, so partial configs are safe.
type Config struct {
	// Port is the serial device path of the motion control board.
	Port string `json:"port"`

	// BaudRate for the serial link.
	BaudRate int `json:"baud_rate"`

	// Odometry scale correction factors measured during calibration.
	// The yaw rate has separate factors per rotation direction.
	OdomXScale         float64 `json:"odom_x_scale"`
	OdomYScale         float64 `json:"odom_y_scale"`
	OdomZScalePositive float64 `json:"odom_z_scale_positive"`
	OdomZScaleNegative float64 `json:"odom_z_scale_negative"`

	// SamplingFreq is the board's nominal telemetry rate in Hz. Used as the
	// attitude integration step when a measured interval is unusable.
	SamplingFreq float64 `json:"sampling_freq"`

	// Velocity bounds enforced on SetVelocity, in m/s and rad/s.
	MaxLinearVelocity  float64 `json:"max_linear_velocity"`
	MaxAngularVelocity float64 `json:"max_angular_velocity"`

	// CommandInterval is the cadence of the command write path, as a
	// duration string like "50ms".
	CommandInterval string `json:"command_interval"`

	// ReadTimeout bounds each serial read so the worker can observe a stop
	// request even when no bytes arrive.
	ReadTimeout string `json:"read_timeout"`

	// MaxOdomStep is the largest sample interval the odometry integrator
	// accepts; longer gaps are reported as timing anomalies and skipped.
	MaxOdomStep string `json:"max_odom_step"`

	// Mahony feedback gains for the attitude estimator.
	AttitudeTwoKp float64 `json:"attitude_two_kp"`
	AttitudeTwoKi float64 `json:"attitude_two_ki"`
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// Default returns the configuration matching the vendor's stock chassis
// setup.
func Default() Config {
	return Config{
		Port:               "/dev/wheeltec_controller",
		BaudRate:           115200,
		OdomXScale:         1.0,
		OdomYScale:         1.0,
		OdomZScalePositive: 1.0,
		OdomZScaleNegative: 1.0,
		SamplingFreq:       20.0,
		MaxLinearVelocity:  2.0,
		MaxAngularVelocity: 4.0,
		CommandInterval:    "50ms",
		ReadTimeout:        "500ms",
		MaxOdomStep:        "1s",
		AttitudeTwoKp:      1.0,
		AttitudeTwoKi:      0.0,
	}
}

// Load reads a JSON config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, &ConfigError{Field: "path", Reason: fmt.Sprintf("config file must have .json extension, got %q", ext)}
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field and returns a ConfigError for the first
// violation found.
func (c Config) Validate() error {
	if c.Port == "" {
		return &ConfigError{Field: "port", Reason: "must not be empty"}
	}
	if c.BaudRate <= 0 {
		return &ConfigError{Field: "baud_rate", Reason: fmt.Sprintf("must be positive, got %d", c.BaudRate)}
	}

	scales := []struct {
		name  string
		value float64
	}{
		{"odom_x_scale", c.OdomXScale},
		{"odom_y_scale", c.OdomYScale},
		{"odom_z_scale_positive", c.OdomZScalePositive},
		{"odom_z_scale_negative", c.OdomZScaleNegative},
	}
	for _, s := range scales {
		if s.value <= 0 || math.IsNaN(s.value) || math.IsInf(s.value, 0) {
			return &ConfigError{Field: s.name, Reason: fmt.Sprintf("must be a positive finite number, got %v", s.value)}
		}
	}

	if c.SamplingFreq <= 0 {
		return &ConfigError{Field: "sampling_freq", Reason: fmt.Sprintf("must be positive, got %v", c.SamplingFreq)}
	}
	if c.MaxLinearVelocity <= 0 {
		return &ConfigError{Field: "max_linear_velocity", Reason: fmt.Sprintf("must be positive, got %v", c.MaxLinearVelocity)}
	}
	if c.MaxAngularVelocity <= 0 {
		return &ConfigError{Field: "max_angular_velocity", Reason: fmt.Sprintf("must be positive, got %v", c.MaxAngularVelocity)}
	}

	durations := []struct {
		name  string
		value string
	}{
		{"command_interval", c.CommandInterval},
		{"read_timeout", c.ReadTimeout},
		{"max_odom_step", c.MaxOdomStep},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return &ConfigError{Field: d.name, Reason: fmt.Sprintf("invalid duration %q", d.value)}
		}
		if parsed <= 0 {
			return &ConfigError{Field: d.name, Reason: fmt.Sprintf("must be positive, got %v", parsed)}
		}
	}

	if c.AttitudeTwoKp < 0 || math.IsNaN(c.AttitudeTwoKp) {
		return &ConfigError{Field: "attitude_two_kp", Reason: "must be non-negative"}
	}
	if c.AttitudeTwoKi < 0 || math.IsNaN(c.AttitudeTwoKi) {
		return &ConfigError{Field: "attitude_two_ki", Reason: "must be non-negative"}
	}
	return nil
}

// CommandIntervalDuration returns the parsed write cadence. Call Validate
// first; an unparseable value falls back to the default.
func (c Config) CommandIntervalDuration() time.Duration {
	return c.durationOrDefault(c.CommandInterval, 50*time.Millisecond)
}

// ReadTimeoutDuration returns the parsed serial read timeout.
func (c Config) ReadTimeoutDuration() time.Duration {
	return c.durationOrDefault(c.ReadTimeout, 500*time.Millisecond)
}

// MaxOdomStepDuration returns the parsed odometry step bound.
func (c Config) MaxOdomStepDuration() time.Duration {
	return c.durationOrDefault(c.MaxOdomStep, time.Second)
}

func (c Config) durationOrDefault(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
