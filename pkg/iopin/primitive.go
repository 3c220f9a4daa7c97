// Package iopin provides the typed, inversion-aware, exit-safe pin
// facility every hardware driver goes through. A primitive pin is one
// raw line; the Pin wrapper adds inversion, default-state discipline,
// and membership in the process-wide living-pin registry that the
// deactivate-all exit path walks.
package iopin

import "github.com/js-god/printipi/pkg/bcm"

// Level is a digital line level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Invert returns the opposite level.
func (l Level) Invert() Level { return !l }

// Pull selects the input pull resistor.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// PrimitiveIoPin is mode and level control on one hardware line.
// A distinguished null value exists; all operations on it are no-ops.
// Concurrent access to the same line is disallowed.
type PrimitiveIoPin interface {
	// IsNull reports whether this is the null pin.
	IsNull() bool

	// PinNumber returns the BCM GPIO line, or -1 for the null pin.
	PinNumber() int

	// MakeDigitalOutput configures the line as an output already
	// driven to the given level, so it is never in an undefined state.
	MakeDigitalOutput(lev Level)

	// MakeDigitalInput configures the line as an input with pull.
	MakeDigitalInput(pull Pull)

	// DigitalRead samples the line.
	DigitalRead() Level

	// DigitalWrite drives the line.
	DigitalWrite(lev Level)
}

// nullPin ignores writes and reads idle low.
type nullPin struct{}

func (nullPin) IsNull() bool            { return true }
func (nullPin) PinNumber() int          { return -1 }
func (nullPin) MakeDigitalOutput(Level) {}
func (nullPin) MakeDigitalInput(Pull)   {}
func (nullPin) DigitalRead() Level      { return Low }
func (nullPin) DigitalWrite(Level)      {}

// Null returns the null primitive pin.
func Null() PrimitiveIoPin { return nullPin{} }

// bcmPin drives one BCM GPIO line through the mapped peripherals.
type bcmPin struct {
	periph *bcm.Peripherals
	line   int
}

// NewBcmPin returns a primitive pin on the given P1-header pin number.
// Header pins without a GPIO function yield the null pin.
func NewBcmPin(periph *bcm.Peripherals, headerPin int) PrimitiveIoPin {
	line := bcm.BoardToBCM(headerPin)
	if line < 0 || periph == nil {
		return Null()
	}
	return &bcmPin{periph: periph, line: line}
}

func (p *bcmPin) IsNull() bool   { return false }
func (p *bcmPin) PinNumber() int { return p.line }

func (p *bcmPin) MakeDigitalOutput(lev Level) {
	p.periph.WritePin(p.line, bool(lev))
	p.periph.SetPinMode(p.line, bcm.ModeOutput)
	p.periph.WritePin(p.line, bool(lev))
}

func (p *bcmPin) MakeDigitalInput(pull Pull) {
	p.periph.SetPinMode(p.line, bcm.ModeInput)
	switch pull {
	case PullUp:
		p.periph.SetPull(p.line, bcm.PullUp)
	case PullDown:
		p.periph.SetPull(p.line, bcm.PullDown)
	default:
		p.periph.SetPull(p.line, bcm.PullNone)
	}
}

func (p *bcmPin) DigitalRead() Level {
	return Level(p.periph.ReadPin(p.line))
}

func (p *bcmPin) DigitalWrite(lev Level) {
	p.periph.WritePin(p.line, bool(lev))
}
