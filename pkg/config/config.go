// Package config holds the runtime machine configuration for the
// printipi motion core: delta geometry, step densities, rate and
// acceleration caps, pin assignment, thermistor constants, and
// scheduler options. The geometry constants that the reference machine
// resolved at compile time are plain struct fields here.
package config

import (
	"github.com/js-god/printipi/pkg/errors"
)

// Axis identifies one of the four step-generating axes.
type Axis int

const (
	AxisA Axis = iota // tower A carriage
	AxisB             // tower B carriage
	AxisC             // tower C carriage
	AxisE             // extruder
	NumAxes
)

func (a Axis) String() string {
	switch a {
	case AxisA:
		return "a"
	case AxisB:
		return "b"
	case AxisC:
		return "c"
	case AxisE:
		return "e"
	default:
		return "?"
	}
}

// BedLevelDenom is the fixed-point denominator of the bed-level matrix.
const BedLevelDenom = 1000000000

// BedLevelMatrix is a 3x3 integer affine correction applied to Cartesian
// positions before the tower transform. Entries are numerators over
// BedLevelDenom.
type BedLevelMatrix [3][3]int64

// Identity returns the identity bed-level matrix.
func Identity() BedLevelMatrix {
	return BedLevelMatrix{
		{BedLevelDenom, 0, 0},
		{0, BedLevelDenom, 0},
		{0, 0, BedLevelDenom},
	}
}

// Apply transforms (x, y, z) by the matrix. Units are preserved.
func (m BedLevelMatrix) Apply(x, y, z float64) (float64, float64, float64) {
	d := float64(BedLevelDenom)
	xp := (float64(m[0][0])*x + float64(m[0][1])*y + float64(m[0][2])*z) / d
	yp := (float64(m[1][0])*x + float64(m[1][1])*y + float64(m[1][2])*z) / d
	zp := (float64(m[2][0])*x + float64(m[2][1])*y + float64(m[2][2])*z) / d
	return xp, yp, zp
}

// DeltaGeometry holds the linear-delta machine constants, in micrometers.
type DeltaGeometry struct {
	// R is the horizontal distance from platform center to each tower.
	R float64

	// L is the length of each connecting rod.
	L float64

	// H is the homing Z of the carriages.
	H float64

	// BuildRadius is the maximum allowed XY radius.
	BuildRadius float64
}

// PinConfig assigns GPIO lines (board pin numbering of the reference
// machine) to the machine's IO. A value of -1 leaves the line
// unconnected (null pin).
type PinConfig struct {
	StepA, DirA int
	StepB, DirB int
	StepC, DirC int
	StepE, DirE int

	// Enable is shared by all four drivers, active low.
	Enable int

	EndstopA, EndstopB, EndstopC int

	// ThermSense is the RC-discharge thermistor sense line.
	ThermSense int

	Hotend int
	Fan    int
}

// ThermistorConfig holds the RC-discharge thermistor constants.
type ThermistorConfig struct {
	RaOhms       float64 // series resistance
	CapPicoF     float64 // discharge capacitor, picofarads
	VccMilliV    float64 // supply voltage, millivolts
	ThreshMilliV float64 // input high threshold, millivolts
	T0Celsius    float64 // reference temperature
	R0Ohms       float64 // resistance at T0
	Beta         float64 // beta model constant
}

// PIDConfig holds hotend PID gains over a fixed denominator, plus the
// low-pass RC applied to the derivative term.
type PIDConfig struct {
	Kp, Ki, Kd float64
	Denom      float64
	LowPassRC  float64 // seconds
}

// SchedulerMode selects how GPIO transitions are emitted.
type SchedulerMode int

const (
	// ModeDirect busy-waits to each deadline and writes GPIO directly.
	// This is the default.
	ModeDirect SchedulerMode = iota

	// ModeDMA rasterizes transitions into the DMA GPIO ring.
	ModeDMA
)

// SchedulerConfig holds event-loop and DMA-ring options.
type SchedulerConfig struct {
	Mode SchedulerMode

	// DmaChannel is the DMA channel driving the GPIO ring.
	DmaChannel int

	// RingFrames is the number of {GPSET0, GPCLR0} frames in the ring.
	RingFrames int

	// FramePeriodMicros is the DREQ-paced spacing between frames.
	FramePeriodMicros int

	// LongSleepThresholdMicros selects nanosleep over busy-wait for
	// far-off deadlines in direct mode.
	LongSleepThresholdMicros int64

	// SlackMicros is the minimum lead the scheduler cursor keeps over
	// the DMA read cursor.
	SlackMicros int64
}

// MachineConfig is the complete runtime configuration.
type MachineConfig struct {
	Geometry DeltaGeometry

	// StepsPerM is the step density of each axis, steps per meter of
	// carriage (or filament) travel.
	StepsPerM [NumAxes]float64

	// MaxAccel is the acceleration cap, micrometers/s^2.
	MaxAccel float64

	// Rate caps, mm/s.
	MaxMoveRate    float64
	MaxExtrudeRate float64
	HomeRate       float64

	BedLevel BedLevelMatrix

	Pins PinConfig

	Thermistor ThermistorConfig

	HotendPID PIDConfig

	// HotendPWMPeriod is the heater PWM period in seconds (5 Hz cartridge).
	HotendPWMPeriod float64

	// FanPWMPeriod is the fan PWM period in seconds.
	FanPWMPeriod float64

	// TempFaultLimit is the number of consecutive bad thermistor
	// samples that forces the heater off.
	TempFaultLimit int

	// HomeBeforeFirstMovement makes any move trigger an implicit home
	// if no home has occurred yet.
	HomeBeforeFirstMovement bool

	// Step pulse shaping, microseconds.
	PulseWidthMicros      int64
	DirSetupMicros        int64
	MinPulseSpacingMicros int64

	Sched SchedulerConfig
}

// DefaultKossel returns the reference delta machine configuration.
func DefaultKossel() MachineConfig {
	return MachineConfig{
		Geometry: DeltaGeometry{
			R:           111000,
			L:           221000,
			H:           467330,
			BuildRadius: 85000,
		},
		StepsPerM: [NumAxes]float64{
			AxisA: 6265 * 4,
			AxisB: 6265 * 4,
			AxisC: 6265 * 4,
			AxisE: 10000 * 8,
		},
		MaxAccel:       1200000,
		MaxMoveRate:    50,
		MaxExtrudeRate: 60,
		HomeRate:       10,
		BedLevel:       Identity(),
		Pins: PinConfig{
			StepA: 22, DirA: 23,
			StepB: 19, DirB: 21,
			StepC: 13, DirC: 15,
			StepE: 3, DirE: 5,
			Enable:     16,
			EndstopA:   18,
			EndstopB:   24,
			EndstopC:   26,
			ThermSense: 7,
			Hotend:     10,
			Fan:        8,
		},
		Thermistor: ThermistorConfig{
			RaOhms:       665,
			CapPicoF:     2200000,
			VccMilliV:    3300,
			ThreshMilliV: 1600,
			T0Celsius:    25,
			R0Ohms:       100000,
			Beta:         3950,
		},
		HotendPID: PIDConfig{
			Kp: 18000, Ki: 250, Kd: 1000,
			Denom:     1000000,
			LowPassRC: 3.0,
		},
		HotendPWMPeriod:         0.2,
		FanPWMPeriod:            0.01,
		TempFaultLimit:          4,
		HomeBeforeFirstMovement: true,
		PulseWidthMicros:        2,
		DirSetupMicros:          1,
		MinPulseSpacingMicros:   2,
		Sched: SchedulerConfig{
			Mode:                     ModeDirect,
			DmaChannel:               5,
			RingFrames:               8192,
			FramePeriodMicros:        1,
			LongSleepThresholdMicros: 200,
			SlackMicros:              500,
		},
	}
}

// Validate checks the machine invariants. It returns a CONFIG_INVALID
// error describing the first violation found.
func (c *MachineConfig) Validate() error {
	g := c.Geometry
	if g.R <= 0 || g.L <= 0 || g.H <= 0 {
		return errors.ConfigInvalid("geometry constants must be positive (R=%g L=%g H=%g)", g.R, g.L, g.H)
	}
	if g.BuildRadius > g.R {
		return errors.ConfigInvalid("build radius %g exceeds delta radius %g", g.BuildRadius, g.R)
	}
	if d := g.R - g.BuildRadius; g.L*g.L < d*d {
		return errors.ConfigInvalid("rod length %g cannot reach the build envelope edge", g.L)
	}
	for axis, s := range c.StepsPerM {
		if s <= 0 {
			return errors.ConfigInvalid("steps_per_m[%s] must be positive", Axis(axis))
		}
	}
	if c.MaxAccel <= 0 {
		return errors.ConfigInvalid("max_accel must be positive")
	}
	if c.MaxMoveRate <= 0 || c.MaxExtrudeRate <= 0 || c.HomeRate <= 0 {
		return errors.ConfigInvalid("rate caps must be positive")
	}
	if c.PulseWidthMicros <= 0 {
		return errors.ConfigInvalid("step pulse width must be positive")
	}
	if c.Sched.Mode == ModeDMA {
		if c.Sched.RingFrames <= 0 || c.Sched.FramePeriodMicros <= 0 {
			return errors.ConfigInvalid("DMA ring requires positive frame count and period")
		}
		if c.Sched.SlackMicros <= 0 {
			return errors.ConfigInvalid("DMA slack must be positive")
		}
	}
	return nil
}
