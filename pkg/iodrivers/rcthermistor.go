// RC-discharge thermistor. The board has no ADC; temperature is read
// by discharging a capacitor through the sense line, releasing the
// line to high impedance, and timing how long the thermistor takes to
// charge it back above the input threshold.
package iodrivers

import (
	"math"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/errors"
	"github.com/js-god/printipi/pkg/iopin"
	"github.com/js-god/printipi/pkg/log"
)

// Temperature clamp bounds, Celsius.
const (
	MinPlausibleTemp = -50
	MaxPlausibleTemp = 500
)

// thermState is the sampling state machine phase.
type thermState int

const (
	thermIdle thermState = iota
	thermDischarging
	thermReading
)

// RCThermistorConfig holds the electrical constants plus the sampling
// cadence.
type RCThermistorConfig struct {
	config.ThermistorConfig

	// DischargeMicros is how long the sense line is held low before
	// the timing read starts.
	DischargeMicros uint64

	// FaultLimit is the number of consecutive out-of-bounds samples
	// that surfaces a sensor fault.
	FaultLimit int
}

// RCThermistor times RC charge cycles on one sense pin.
type RCThermistor struct {
	pin *iopin.Pin
	cfg RCThermistorConfig
	log *log.Logger

	state      thermState
	phaseStart uint64

	lastTemp float64
	haveTemp bool
	faults   int
}

// NewRCThermistor returns a thermistor on the given sense pin.
func NewRCThermistor(pin *iopin.Pin, cfg RCThermistorConfig) *RCThermistor {
	if cfg.DischargeMicros == 0 {
		cfg.DischargeMicros = 100000
	}
	if cfg.FaultLimit == 0 {
		cfg.FaultLimit = 4
	}
	return &RCThermistor{
		pin: pin,
		cfg: cfg,
		log: log.GetLogger("therm"),
	}
}

// chargeFactor is ln(Vcc / (Vcc - Vthresh)), the RC charge ratio at
// the threshold crossing.
func (t *RCThermistor) chargeFactor() float64 {
	vcc := t.cfg.VccMilliV
	return math.Log(vcc / (vcc - t.cfg.ThreshMilliV))
}

// ExpectedMicros is the charge time expected at the reference
// temperature; samples beyond five times this are discarded.
func (t *RCThermistor) ExpectedMicros() uint64 {
	capF := t.cfg.CapPicoF * 1e-12
	sec := t.cfg.R0Ohms * capF * t.chargeFactor() / t.cfg.RaOhms
	return uint64(sec * 1e6)
}

// StartSample begins a discharge cycle at the given timer value.
func (t *RCThermistor) StartSample(nowMicros uint64) {
	t.pin.MakeDigitalOutput(iopin.Low)
	t.state = thermDischarging
	t.phaseStart = nowMicros
}

// Poll advances the state machine. It returns (temp, true, nil) when a
// sample completes, and a TEMP_SENSOR_FAULT error once FaultLimit
// consecutive samples have been discarded.
func (t *RCThermistor) Poll(nowMicros uint64) (float64, bool, error) {
	switch t.state {
	case thermIdle:
		t.StartSample(nowMicros)
		return 0, false, nil

	case thermDischarging:
		if nowMicros-t.phaseStart < t.cfg.DischargeMicros {
			return 0, false, nil
		}
		// Release the line; the thermistor now charges the capacitor.
		t.pin.MakeDigitalInput(iopin.PullNone)
		t.state = thermReading
		t.phaseStart = nowMicros
		return 0, false, nil

	case thermReading:
		elapsed := nowMicros - t.phaseStart
		if t.pin.DigitalRead() == iopin.High {
			t.state = thermIdle
			return t.finishSample(elapsed)
		}
		if elapsed > 5*t.ExpectedMicros() {
			t.state = thermIdle
			return t.recordFault()
		}
		return 0, false, nil
	}
	return 0, false, nil
}

func (t *RCThermistor) finishSample(elapsedMicros uint64) (float64, bool, error) {
	if elapsedMicros == 0 || elapsedMicros > 5*t.ExpectedMicros() {
		return t.recordFault()
	}
	t.faults = 0
	temp := t.TempFromElapsed(elapsedMicros)
	t.lastTemp = temp
	t.haveTemp = true
	return temp, true, nil
}

func (t *RCThermistor) recordFault() (float64, bool, error) {
	t.faults++
	t.log.Warn("discarded thermistor sample (%d consecutive)", t.faults)
	if t.faults >= t.cfg.FaultLimit {
		return 0, false, errors.TempSensorFault("hotend", t.faults)
	}
	return 0, false, nil
}

// TempFromElapsed converts a threshold-crossing time to Celsius using
// the RC constant and the beta equation, clamped to plausible bounds.
func (t *RCThermistor) TempFromElapsed(elapsedMicros uint64) float64 {
	capF := t.cfg.CapPicoF * 1e-12
	dt := float64(elapsedMicros) * 1e-6
	r := t.cfg.RaOhms * dt / (capF * t.chargeFactor())

	t0K := t.cfg.T0Celsius + 273.15
	invTK := 1/t0K + math.Log(r/t.cfg.R0Ohms)/t.cfg.Beta
	temp := 1/invTK - 273.15

	return math.Max(MinPlausibleTemp, math.Min(MaxPlausibleTemp, temp))
}

// LastTemp returns the most recent good sample.
func (t *RCThermistor) LastTemp() (float64, bool) {
	return t.lastTemp, t.haveTemp
}
