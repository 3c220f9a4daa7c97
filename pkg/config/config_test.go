package config

import (
	"testing"

	"github.com/js-god/printipi/pkg/errors"
)

func TestDefaultKosselValid(t *testing.T) {
	cfg := DefaultKossel()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MachineConfig)
	}{
		{"zero radius", func(c *MachineConfig) { c.Geometry.R = 0 }},
		{"negative rod", func(c *MachineConfig) { c.Geometry.L = -1 }},
		{"zero home height", func(c *MachineConfig) { c.Geometry.H = 0 }},
		{"build radius beyond towers", func(c *MachineConfig) { c.Geometry.BuildRadius = c.Geometry.R + 1 }},
		{"rod too short for envelope", func(c *MachineConfig) {
			c.Geometry.R = 200000
			c.Geometry.BuildRadius = 100000
			c.Geometry.L = 50000
		}},
		{"zero steps", func(c *MachineConfig) { c.StepsPerM[AxisB] = 0 }},
		{"zero accel", func(c *MachineConfig) { c.MaxAccel = 0 }},
		{"zero home rate", func(c *MachineConfig) { c.HomeRate = 0 }},
		{"zero pulse width", func(c *MachineConfig) { c.PulseWidthMicros = 0 }},
		{"dma without frames", func(c *MachineConfig) {
			c.Sched.Mode = ModeDMA
			c.Sched.RingFrames = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultKossel()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, errors.ErrConfigInvalid) {
				t.Errorf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}

func TestBedLevelIdentity(t *testing.T) {
	m := Identity()
	x, y, z := m.Apply(123.5, -40.25, 7.0)
	if x != 123.5 || y != -40.25 || z != 7.0 {
		t.Errorf("identity changed position: (%g, %g, %g)", x, y, z)
	}
}

func TestBedLevelTilt(t *testing.T) {
	// Small rotation about Y, from the reference machine's calibration.
	m := BedLevelMatrix{
		{999948988, 0, -10100494},
		{0, 1000000000, 0},
		{10100494, 0, 999948988},
	}
	x, y, z := m.Apply(100, 0, 0)
	if y != 0 {
		t.Errorf("tilt about Y moved y: %g", y)
	}
	if x >= 100 || x < 99.9 {
		t.Errorf("x not slightly shortened: %g", x)
	}
	if z <= 0 {
		t.Errorf("z not lifted by tilt: %g", z)
	}
}

func TestAxisString(t *testing.T) {
	want := map[Axis]string{AxisA: "a", AxisB: "b", AxisC: "c", AxisE: "e"}
	for axis, s := range want {
		if axis.String() != s {
			t.Errorf("Axis(%d).String() = %q, want %q", axis, axis.String(), s)
		}
	}
}
