package iopin

import "testing"

func TestInversionLaws(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantLow   Level
		wantHigh  Level
		wantDuty  float64
	}{
		{"no inversion", Config{}, Low, High, 0.2},
		{"invert reads only", Config{InvertReads: true}, Low, High, 0.2},
		{"invert writes only", Config{InvertWrites: true}, High, Low, 0.8},
		{"invert both", Config{InvertReads: true, InvertWrites: true}, High, Low, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Null(), tt.cfg)
			defer p.Close()
			if got := p.TranslateWrite(Low); got != tt.wantLow {
				t.Errorf("TranslateWrite(Low) = %v, want %v", got, tt.wantLow)
			}
			if got := p.TranslateWrite(High); got != tt.wantHigh {
				t.Errorf("TranslateWrite(High) = %v, want %v", got, tt.wantHigh)
			}
			if got := p.TranslateDuty(0.2); got != tt.wantDuty {
				t.Errorf("TranslateDuty(0.2) = %v, want %v", got, tt.wantDuty)
			}
		})
	}
}

func TestReadInversion(t *testing.T) {
	sim := NewSimPin(4)
	sim.MakeDigitalInput(PullUp)
	sim.SetInput(High)

	plain := New(sim, Config{})
	defer plain.Close()
	if plain.DigitalRead() != High {
		t.Errorf("plain read inverted")
	}

	inv := New(sim, Config{InvertReads: true})
	defer inv.Close()
	if inv.DigitalRead() != Low {
		t.Errorf("inverted read not inverted")
	}
}

func TestWriteInversionReachesLine(t *testing.T) {
	sim := NewSimPin(25)
	p := New(sim, Config{InvertWrites: true})
	defer p.Close()

	p.MakeDigitalOutput(Low)
	if sim.Level() != High {
		t.Errorf("inverted output-low drove line %v, want High", sim.Level())
	}
	p.DigitalWrite(High)
	if sim.Level() != Low {
		t.Errorf("inverted write-high drove line %v, want Low", sim.Level())
	}
}

func TestNullPinIsSilent(t *testing.T) {
	p := New(Null(), Config{Default: DefaultLow})
	defer p.Close()

	if !p.IsNull() {
		t.Fatalf("null pin not null")
	}
	// None of these may panic or have any effect.
	p.MakeDigitalOutput(High)
	p.DigitalWrite(High)
	p.MakeDigitalInput(PullDown)
	if p.DigitalRead() != Low {
		t.Errorf("null pin must read a defined idle level")
	}
}

func TestCloseDrivesDefaultState(t *testing.T) {
	tests := []struct {
		name  string
		state DefaultState
		check func(t *testing.T, sim *SimPin)
	}{
		{"default low", DefaultLow, func(t *testing.T, sim *SimPin) {
			if !sim.IsOutput() || sim.Level() != Low {
				t.Errorf("pin not output-low: output=%v level=%v", sim.IsOutput(), sim.Level())
			}
		}},
		{"default high", DefaultHigh, func(t *testing.T, sim *SimPin) {
			if !sim.IsOutput() || sim.Level() != High {
				t.Errorf("pin not output-high: output=%v level=%v", sim.IsOutput(), sim.Level())
			}
		}},
		{"high impedance", DefaultHighImpedance, func(t *testing.T, sim *SimPin) {
			if sim.IsOutput() {
				t.Errorf("pin still an output")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSimPin(11)
			p := New(sim, Config{Default: tt.state})
			p.MakeDigitalOutput(High)
			p.DigitalWrite(High)
			p.Close()
			tt.check(t, sim)
		})
	}
}

func TestDeactivateAll(t *testing.T) {
	sims := make([]*SimPin, 4)
	pins := make([]*Pin, 4)
	for i := range sims {
		sims[i] = NewSimPin(i)
		pins[i] = New(sims[i], Config{Default: DefaultLow})
		pins[i].MakeDigitalOutput(High)
	}
	defer func() {
		for _, p := range pins {
			p.Close()
		}
	}()

	DeactivateAll()

	for i, sim := range sims {
		if sim.Level() != Low {
			t.Errorf("pin %d not driven low by DeactivateAll", i)
		}
	}
}

func TestReleaseTransfersOwnership(t *testing.T) {
	sim := NewSimPin(9)
	before := LivingPinCount()

	src := New(sim, Config{InvertWrites: true, Default: DefaultHigh})
	moved := src.Release()
	defer moved.Close()

	if !src.IsNull() {
		t.Errorf("source still owns the line after Release")
	}
	if moved.IsNull() {
		t.Errorf("moved pin is null")
	}
	if LivingPinCount() != before+1 {
		t.Errorf("registry count %d, want %d", LivingPinCount(), before+1)
	}

	// Settings travel with the line.
	moved.DigitalWrite(High)
	if sim.Level() != Low {
		t.Errorf("inversion lost across Release")
	}
	// Writes through the abandoned source are silent.
	writes := sim.Writes()
	src.DigitalWrite(High)
	if sim.Writes() != writes {
		t.Errorf("abandoned source still drives the line")
	}
}
