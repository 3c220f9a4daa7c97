package iopin

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/js-god/printipi/pkg/log"
)

// DefaultState is the state a pin is driven to when it is closed or
// when the process exits. Low and High name the level on the line
// itself; write inversion does not apply to them.
type DefaultState int

const (
	// DefaultNone leaves the line untouched on shutdown.
	DefaultNone DefaultState = iota
	DefaultLow
	DefaultHigh
	DefaultHighImpedance
)

// Config selects the wrapper behavior of a Pin.
type Config struct {
	InvertReads  bool
	InvertWrites bool
	Default      DefaultState
}

// Pin wraps a primitive pin with inversion and default-state
// discipline. At most one live Pin references any hardware line; a
// live pin is a member of the living-pin registry until closed.
type Pin struct {
	prim         PrimitiveIoPin
	invertReads  bool
	invertWrites bool
	defaultState DefaultState
}

var (
	registryMu sync.Mutex
	livingPins = make(map[*Pin]struct{})
	exitOnce   sync.Once

	logger = log.GetLogger("iopin")
)

// New wraps a primitive pin. The pin joins the living-pin registry,
// and the first construction installs the deactivate-all exit handler.
func New(prim PrimitiveIoPin, cfg Config) *Pin {
	p := &Pin{
		prim:         prim,
		invertReads:  cfg.InvertReads,
		invertWrites: cfg.InvertWrites,
		defaultState: cfg.Default,
	}
	registryMu.Lock()
	livingPins[p] = struct{}{}
	registryMu.Unlock()
	exitOnce.Do(installExitHandler)
	return p
}

// IsNull reports whether the pin currently owns no hardware line.
func (p *Pin) IsNull() bool { return p.prim.IsNull() }

// Primitive returns the underlying primitive pin.
func (p *Pin) Primitive() PrimitiveIoPin { return p.prim }

// SetDefaultState overrides the shutdown state.
func (p *Pin) SetDefaultState(state DefaultState) { p.defaultState = state }

// TranslateWrite maps a logical level to the level driven on the line.
func (p *Pin) TranslateWrite(lev Level) Level {
	if p.invertWrites {
		return lev.Invert()
	}
	return lev
}

// TranslateDuty maps a logical duty cycle to the duty driven on the line.
func (p *Pin) TranslateDuty(duty float64) float64 {
	if p.invertWrites {
		return 1 - duty
	}
	return duty
}

// MakeDigitalOutput configures the line as an output at the logical level.
func (p *Pin) MakeDigitalOutput(lev Level) {
	p.prim.MakeDigitalOutput(p.TranslateWrite(lev))
}

// MakeDigitalInput configures the line as an input with pull.
func (p *Pin) MakeDigitalInput(pull Pull) {
	p.prim.MakeDigitalInput(pull)
}

// DigitalRead samples the logical level of the line.
func (p *Pin) DigitalRead() Level {
	lev := p.prim.DigitalRead()
	if p.invertReads {
		return lev.Invert()
	}
	return lev
}

// DigitalWrite drives the logical level onto the line.
func (p *Pin) DigitalWrite(lev Level) {
	p.prim.DigitalWrite(p.TranslateWrite(lev))
}

// SetToDefault drives the line to its configured safe state.
func (p *Pin) SetToDefault() {
	if p.prim.IsNull() {
		return
	}
	switch p.defaultState {
	case DefaultLow:
		p.prim.MakeDigitalOutput(Low)
	case DefaultHigh:
		p.prim.MakeDigitalOutput(High)
	case DefaultHighImpedance:
		p.MakeDigitalInput(PullNone)
	}
}

// Release transfers ownership of the hardware line to a new Pin with
// the same settings, leaving the receiver as null. The registry is
// updated under one lock so the exit handler never sees both.
func (p *Pin) Release() *Pin {
	next := &Pin{
		prim:         p.prim,
		invertReads:  p.invertReads,
		invertWrites: p.invertWrites,
		defaultState: p.defaultState,
	}
	registryMu.Lock()
	p.prim = Null()
	livingPins[next] = struct{}{}
	delete(livingPins, p)
	registryMu.Unlock()
	return next
}

// Close drives the line to its default state and leaves the registry.
func (p *Pin) Close() {
	p.SetToDefault()
	registryMu.Lock()
	delete(livingPins, p)
	registryMu.Unlock()
	p.prim = Null()
}

// DeactivateAll drives every living pin to its default state. It is
// the process exit handler and the emergency-stop path.
func DeactivateAll() {
	registryMu.Lock()
	pins := make([]*Pin, 0, len(livingPins))
	for p := range livingPins {
		pins = append(pins, p)
	}
	registryMu.Unlock()

	logger.Info("deactivating %d pins", len(pins))
	for _, p := range pins {
		p.SetToDefault()
	}
}

// LivingPinCount returns the current registry size.
func LivingPinCount() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(livingPins)
}

// installExitHandler arranges for DeactivateAll to run on SIGINT and
// SIGTERM. A clean shutdown path calls DeactivateAll itself.
func installExitHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		logger.Warn("signal %v, driving pins to safe state", sig)
		DeactivateAll()
		os.Exit(1)
	}()
}
