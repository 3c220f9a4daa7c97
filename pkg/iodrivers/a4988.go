// A4988-class stepper driver: STEP, DIR, and a (possibly shared)
// ENABLE line. The driver owns level translation and direction state;
// pulse timing belongs to the scheduler, which drives the step pin
// through the events produced by the axis steppers.
package iodrivers

import "github.com/js-god/printipi/pkg/iopin"

// StepDirection is the direction of carriage (or filament) travel.
type StepDirection int

const (
	StepBackward StepDirection = -1
	StepForward  StepDirection = 1
)

// A4988Config holds pulse shaping parameters, microseconds.
type A4988Config struct {
	// PulseWidth is the STEP high time.
	PulseWidth int64

	// DirSetup is how long DIR must be stable before the rising edge.
	DirSetup int64
}

// A4988 drives one stepper through STEP/DIR/ENABLE pins.
type A4988 struct {
	step   *iopin.Pin
	dir    *iopin.Pin
	enable *iopin.Pin
	cfg    A4988Config

	curDir  StepDirection
	haveDir bool
}

// NewA4988 returns a driver over the three pins. The pins are
// configured as outputs in their inactive state.
func NewA4988(step, dir, enable *iopin.Pin, cfg A4988Config) *A4988 {
	if cfg.PulseWidth <= 0 {
		cfg.PulseWidth = 2
	}
	if cfg.DirSetup <= 0 {
		cfg.DirSetup = 1
	}
	step.MakeDigitalOutput(iopin.Low)
	dir.MakeDigitalOutput(iopin.Low)
	enable.MakeDigitalOutput(iopin.Low)
	return &A4988{step: step, dir: dir, enable: enable, cfg: cfg}
}

// Enable drives the ENABLE line. Active-low drivers are handled by
// write inversion on the pin.
func (d *A4988) Enable(on bool) {
	d.enable.DigitalWrite(iopin.Level(on))
}

// DirLevel maps a direction to the logical DIR line level.
func DirLevel(dir StepDirection) iopin.Level {
	return iopin.Level(dir == StepForward)
}

// LatchDirection records the direction without touching the line.
// Returns true if the direction changed. Used when the DIR transition
// itself is scheduled (DMA emission).
func (d *A4988) LatchDirection(dir StepDirection) bool {
	if d.haveDir && dir == d.curDir {
		return false
	}
	d.curDir = dir
	d.haveDir = true
	return true
}

// SetDirection latches DIR for subsequent step pulses and drives the
// line. Returns true if the line changed, in which case the caller
// must honor the DIR setup time before the next rising edge.
func (d *A4988) SetDirection(dir StepDirection) bool {
	if !d.LatchDirection(dir) {
		return false
	}
	d.dir.DigitalWrite(DirLevel(dir))
	return true
}

// DirPin returns the DIR pin for scheduled transitions.
func (d *A4988) DirPin() *iopin.Pin { return d.dir }

// StepPin returns the STEP pin for pulse scheduling.
func (d *A4988) StepPin() *iopin.Pin { return d.step }

// PulseWidth returns the STEP high time in microseconds.
func (d *A4988) PulseWidth() int64 { return d.cfg.PulseWidth }

// DirSetup returns the DIR setup time in microseconds.
func (d *A4988) DirSetup() int64 { return d.cfg.DirSetup }
