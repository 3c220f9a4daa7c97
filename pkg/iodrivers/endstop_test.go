package iodrivers

import (
	"testing"

	"github.com/js-god/printipi/pkg/iopin"
)

func TestEndstopTriggered(t *testing.T) {
	tests := []struct {
		name        string
		activeLevel iopin.Level
		input       iopin.Level
		want        bool
	}{
		{"active high, line high", iopin.High, iopin.High, true},
		{"active high, line low", iopin.High, iopin.Low, false},
		{"active low, line low", iopin.Low, iopin.Low, true},
		{"active low, line high", iopin.Low, iopin.High, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := iopin.NewSimPin(24)
			pin := iopin.New(sim, iopin.Config{Default: iopin.DefaultHighImpedance})
			defer pin.Close()

			es := NewEndstop(pin, EndstopConfig{
				Name:        "endstop_a",
				Pull:        iopin.PullDown,
				ActiveLevel: tt.activeLevel,
			})
			sim.SetInput(tt.input)
			if got := es.IsTriggered(); got != tt.want {
				t.Errorf("IsTriggered() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndstopReadInversion(t *testing.T) {
	// The reference machine wires its endstops through read-inverting
	// pins: line high means triggered, driver reads logical low.
	sim := iopin.NewSimPin(18)
	pin := iopin.New(sim, iopin.Config{InvertReads: true})
	defer pin.Close()

	es := NewEndstop(pin, EndstopConfig{Name: "endstop_a", ActiveLevel: iopin.Low})
	sim.SetInput(iopin.High)
	if !es.IsTriggered() {
		t.Errorf("inverted endstop should trigger on a high line")
	}
	sim.SetInput(iopin.Low)
	if es.IsTriggered() {
		t.Errorf("inverted endstop should be open on a low line")
	}
}
