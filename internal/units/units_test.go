package units

import (
	"math"
	"testing"
)

func TestVelocityConversion(t *testing.T) {
	tests := []struct {
		name     string
		raw      int16
		expected float64
	}{
		{"zero", 0, 0.0},
		{"forward 200 mm/s", 200, 0.2},
		{"reverse 1500 mm/s", -1500, -1.5},
		{"one count", 1, 0.001},
		{"max", 32767, 32.767},
		{"min", -32768, -32.768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VelocityFromRaw(tt.raw); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("VelocityFromRaw(%d) = %f, want %f", tt.raw, got, tt.expected)
			}
		})
	}
}

// Raw -> physical -> raw must be lossless; physical -> raw -> physical may
// lose at most one wire count to quantisation.
func TestVelocityRoundTrip(t *testing.T) {
	for _, raw := range []int16{-32768, -1000, -1, 0, 1, 200, 999, 32767} {
		if got := VelocityToRaw(VelocityFromRaw(raw)); got != raw {
			t.Errorf("round trip of %d gave %d", raw, got)
		}
	}

	for _, v := range []float64{0, 0.2, -0.35, 1.9995, -2.0004} {
		back := VelocityFromRaw(VelocityToRaw(v))
		if math.Abs(back-v) > 0.001 {
			t.Errorf("round trip of %f gave %f, off by more than one count", v, back)
		}
	}
}

func TestVelocityToRawSaturates(t *testing.T) {
	if got := VelocityToRaw(100.0); got != math.MaxInt16 {
		t.Errorf("VelocityToRaw(100.0) = %d, want %d", got, math.MaxInt16)
	}
	if got := VelocityToRaw(-100.0); got != math.MinInt16 {
		t.Errorf("VelocityToRaw(-100.0) = %d, want %d", got, math.MinInt16)
	}
}

func TestAccelConversion(t *testing.T) {
	// 1g upright on the Z axis reads roughly 16384 counts on this IMU.
	got := AccelFromRaw(16384)
	if math.Abs(got-9.8) > 0.1 {
		t.Errorf("AccelFromRaw(16384) = %f, want about 9.8", got)
	}
	if AccelFromRaw(0) != 0 {
		t.Error("AccelFromRaw(0) should be 0")
	}
	if AccelFromRaw(-16384) >= 0 {
		t.Error("AccelFromRaw must preserve sign")
	}
}

func TestGyroConversion(t *testing.T) {
	tests := []struct {
		raw      int16
		expected float64
	}{
		{0, 0},
		{1, 0.00026644},
		{-1, -0.00026644},
		{1000, 0.26644},
	}

	for _, tt := range tests {
		if got := GyroFromRaw(tt.raw); math.Abs(got-tt.expected) > 1e-12 {
			t.Errorf("GyroFromRaw(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestVoltageConversion(t *testing.T) {
	if got := VoltageFromRaw(12400); math.Abs(got-12.4) > 1e-9 {
		t.Errorf("VoltageFromRaw(12400) = %f, want 12.4", got)
	}
	if got := VoltageFromRaw(0); got != 0 {
		t.Errorf("VoltageFromRaw(0) = %f, want 0", got)
	}
}

func TestScaleCorrection(t *testing.T) {
	tests := []struct {
		name       string
		scale      ScaleCorrection
		vx, vy, wz float64
		wantX      float64
		wantY      float64
		wantZ      float64
	}{
		{
			name:  "identity",
			scale: IdentityScale(),
			vx:    0.2, vy: -0.1, wz: 0.5,
			wantX: 0.2, wantY: -0.1, wantZ: 0.5,
		},
		{
			name:  "linear axes",
			scale: ScaleCorrection{X: 1.1, Y: 0.9, ZPositive: 1, ZNegative: 1},
			vx:    1.0, vy: 1.0, wz: 0,
			wantX: 1.1, wantY: 0.9, wantZ: 0,
		},
		{
			name:  "positive yaw uses positive factor",
			scale: ScaleCorrection{X: 1, Y: 1, ZPositive: 1.05, ZNegative: 0.95},
			wz:    1.0,
			wantZ: 1.05,
		},
		{
			name:  "negative yaw uses negative factor",
			scale: ScaleCorrection{X: 1, Y: 1, ZPositive: 1.05, ZNegative: 0.95},
			wz:    -1.0,
			wantZ: -0.95,
		},
		{
			name:  "zero yaw counts as non-negative",
			scale: ScaleCorrection{X: 1, Y: 1, ZPositive: 2, ZNegative: 3},
			wz:    0,
			wantZ: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gx, gy, gz := tt.scale.Apply(tt.vx, tt.vy, tt.wz)
			if math.Abs(gx-tt.wantX) > 1e-9 || math.Abs(gy-tt.wantY) > 1e-9 || math.Abs(gz-tt.wantZ) > 1e-9 {
				t.Errorf("Apply(%f, %f, %f) = (%f, %f, %f), want (%f, %f, %f)",
					tt.vx, tt.vy, tt.wz, gx, gy, gz, tt.wantX, tt.wantY, tt.wantZ)
			}
		})
	}
}
