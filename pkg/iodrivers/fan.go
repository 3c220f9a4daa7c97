package iodrivers

import (
	"sync"

	"github.com/js-god/printipi/pkg/iopin"
)

// Fan is a PWM-driven cooling fan. The duty cycle is held here; the
// scheduler turns it into edge events each PWM period.
type Fan struct {
	mu   sync.Mutex
	pin  *iopin.Pin
	duty float64
}

// NewFan returns a fan on the given pin, initially off.
func NewFan(pin *iopin.Pin) *Fan {
	pin.MakeDigitalOutput(iopin.Low)
	return &Fan{pin: pin}
}

// SetDuty sets the requested duty cycle, clamped to [0, 1].
func (f *Fan) SetDuty(duty float64) {
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	f.mu.Lock()
	f.duty = duty
	f.mu.Unlock()
}

// Duty returns the requested duty cycle.
func (f *Fan) Duty() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duty
}

// Pin returns the output pin for edge scheduling.
func (f *Fan) Pin() *iopin.Pin { return f.pin }
