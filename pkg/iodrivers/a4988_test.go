package iodrivers

import (
	"testing"

	"github.com/js-god/printipi/pkg/iopin"
)

func newTestA4988(t *testing.T) (*A4988, *iopin.SimPin, *iopin.SimPin, *iopin.SimPin) {
	t.Helper()
	stepSim, dirSim, enSim := iopin.NewSimPin(25), iopin.NewSimPin(11), iopin.NewSimPin(23)
	step := iopin.New(stepSim, iopin.Config{Default: iopin.DefaultLow})
	dir := iopin.New(dirSim, iopin.Config{Default: iopin.DefaultLow})
	// Shared enable is active low on the reference machine.
	enable := iopin.New(enSim, iopin.Config{InvertWrites: true, Default: iopin.DefaultHigh})
	t.Cleanup(func() {
		step.Close()
		dir.Close()
		enable.Close()
	})
	return NewA4988(step, dir, enable, A4988Config{}), stepSim, dirSim, enSim
}

func TestA4988Defaults(t *testing.T) {
	d, _, _, _ := newTestA4988(t)
	if d.PulseWidth() != 2 {
		t.Errorf("default pulse width %d, want 2", d.PulseWidth())
	}
	if d.DirSetup() != 1 {
		t.Errorf("default dir setup %d, want 1", d.DirSetup())
	}
}

func TestA4988Enable(t *testing.T) {
	d, _, _, enSim := newTestA4988(t)

	d.Enable(true)
	if enSim.Level() != iopin.Low {
		t.Errorf("active-low enable should drive the line low when on")
	}
	d.Enable(false)
	if enSim.Level() != iopin.High {
		t.Errorf("active-low enable should drive the line high when off")
	}
}

func TestA4988Direction(t *testing.T) {
	d, _, dirSim, _ := newTestA4988(t)

	if !d.SetDirection(StepForward) {
		t.Errorf("first direction latch must report a change")
	}
	if dirSim.Level() != iopin.High {
		t.Errorf("forward should drive DIR high")
	}
	if d.SetDirection(StepForward) {
		t.Errorf("repeated direction must not report a change")
	}
	if !d.SetDirection(StepBackward) {
		t.Errorf("direction reversal must report a change")
	}
	if dirSim.Level() != iopin.Low {
		t.Errorf("backward should drive DIR low")
	}
}
