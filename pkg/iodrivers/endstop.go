// Package iodrivers contains the hardware drivers built on the pin
// facility: endstops, the RC-discharge thermistor, A4988 stepper
// drivers, the fan, and the hotend temperature controller.
package iodrivers

import "github.com/js-god/printipi/pkg/iopin"

// Endstop reads a lever switch on an input pin. The physical lever is
// assumed clean; no software hysteresis is applied.
type Endstop struct {
	name        string
	pin         *iopin.Pin
	activeLevel iopin.Level
}

// EndstopConfig holds endstop construction options.
type EndstopConfig struct {
	Name        string
	Pull        iopin.Pull
	ActiveLevel iopin.Level
}

// NewEndstop configures the pin as an input with pull and returns the
// endstop.
func NewEndstop(pin *iopin.Pin, cfg EndstopConfig) *Endstop {
	pin.MakeDigitalInput(cfg.Pull)
	return &Endstop{
		name:        cfg.Name,
		pin:         pin,
		activeLevel: cfg.ActiveLevel,
	}
}

// Name returns the endstop name.
func (e *Endstop) Name() string { return e.name }

// IsTriggered samples the pin and compares against the active level.
func (e *Endstop) IsTriggered() bool {
	return e.pin.DigitalRead() == e.activeLevel
}
