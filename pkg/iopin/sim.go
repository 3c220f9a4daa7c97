package iopin

import "sync"

// SimPin is an in-memory primitive pin used by tests and by dry runs
// on machines without mapped peripherals. It records its mode and
// level and lets a test script the input value.
type SimPin struct {
	mu sync.Mutex

	id       int
	isOutput bool
	pull     Pull
	level    Level
	input    Level
	writes   int
}

// NewSimPin returns a simulated pin with the given line id.
func NewSimPin(id int) *SimPin {
	return &SimPin{id: id}
}

func (p *SimPin) IsNull() bool   { return false }
func (p *SimPin) PinNumber() int { return p.id }

func (p *SimPin) MakeDigitalOutput(lev Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isOutput = true
	p.level = lev
}

func (p *SimPin) MakeDigitalInput(pull Pull) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isOutput = false
	p.pull = pull
}

func (p *SimPin) DigitalRead() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isOutput {
		return p.level
	}
	return p.input
}

func (p *SimPin) DigitalWrite(lev Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = lev
	p.writes++
}

// SetInput scripts the level an input read will observe.
func (p *SimPin) SetInput(lev Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = lev
}

// Level returns the last driven level.
func (p *SimPin) Level() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// IsOutput reports whether the pin is configured as an output.
func (p *SimPin) IsOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOutput
}

// Writes returns the number of DigitalWrite calls observed.
func (p *SimPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}
