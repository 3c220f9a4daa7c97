// Hotend temperature control: PID with a low-pass filter on the
// derivative term, producing a heater duty cycle once per PWM period.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package iodrivers

import (
	"math"
	"sync"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/iopin"
)

// LowPassFilter is a single-pole RC low-pass filter.
type LowPassFilter struct {
	rc     float64 // seconds
	value  float64
	seeded bool
}

// NewLowPassFilter returns a filter with the given RC time constant.
func NewLowPassFilter(rc float64) *LowPassFilter {
	return &LowPassFilter{rc: rc}
}

// Update feeds one sample taken dt seconds after the previous one and
// returns the filtered value.
func (f *LowPassFilter) Update(sample, dt float64) float64 {
	if !f.seeded || f.rc <= 0 {
		f.value = sample
		f.seeded = true
		return f.value
	}
	alpha := dt / (f.rc + dt)
	f.value += alpha * (sample - f.value)
	return f.value
}

// Value returns the current filtered value.
func (f *LowPassFilter) Value() float64 { return f.value }

// TempControl turns thermistor samples into a heater duty cycle.
type TempControl struct {
	mu sync.Mutex

	pin *iopin.Pin

	kp, ki, kd float64
	lpf        *LowPassFilter

	target float64

	lastTemp float64
	lastTime float64
	integ    float64
	seeded   bool

	duty    float64
	faulted bool
}

// NewTempControl returns a controller driving the given heater pin.
func NewTempControl(pin *iopin.Pin, cfg config.PIDConfig) *TempControl {
	pin.MakeDigitalOutput(iopin.Low)
	denom := cfg.Denom
	if denom == 0 {
		denom = 1
	}
	return &TempControl{
		pin: pin,
		kp:  cfg.Kp / denom,
		ki:  cfg.Ki / denom,
		kd:  cfg.Kd / denom,
		lpf: NewLowPassFilter(cfg.LowPassRC),
	}
}

// SetTarget sets the target temperature in Celsius. A zero target
// turns the heater off.
func (tc *TempControl) SetTarget(celsius float64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.target = celsius
	if celsius == 0 {
		tc.duty = 0
		tc.integ = 0
	}
}

// Target returns the current target temperature.
func (tc *TempControl) Target() float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.target
}

// Update runs one PID step for a sample taken at timeSec and returns
// the new duty cycle in [0, 1].
func (tc *TempControl) Update(timeSec, temp float64) float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.faulted || tc.target == 0 {
		tc.lastTemp, tc.lastTime = temp, timeSec
		tc.seeded = true
		tc.duty = 0
		return 0
	}

	if !tc.seeded {
		tc.lastTemp, tc.lastTime = temp, timeSec
		tc.seeded = true
		return tc.duty
	}

	dt := timeSec - tc.lastTime
	if dt <= 0 {
		return tc.duty
	}

	err := tc.target - temp
	deriv := tc.lpf.Update((temp-tc.lastTemp)/dt, dt)

	integ := tc.integ + err*dt
	if tc.ki > 0 {
		// Anti-windup: keep the integral's contribution within range.
		limit := 1 / tc.ki
		integ = math.Max(-limit, math.Min(limit, integ))
	}

	out := tc.kp*err + tc.ki*integ - tc.kd*deriv
	duty := math.Max(0, math.Min(1, out))
	if out == duty {
		tc.integ = integ
	}

	tc.lastTemp, tc.lastTime = temp, timeSec
	tc.duty = duty
	return duty
}

// Duty returns the duty cycle from the last update.
func (tc *TempControl) Duty() float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.duty
}

// LastTemp returns the most recent sample fed to the controller.
func (tc *TempControl) LastTemp() float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.lastTemp
}

// Fault forces the heater output to zero until cleared.
func (tc *TempControl) Fault() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.faulted = true
	tc.duty = 0
	tc.pin.DigitalWrite(iopin.Low)
}

// ClearFault re-enables the controller.
func (tc *TempControl) ClearFault() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.faulted = false
}

// Faulted reports whether the controller is latched off.
func (tc *TempControl) Faulted() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.faulted
}

// Pin returns the heater output pin for edge scheduling.
func (tc *TempControl) Pin() *iopin.Pin { return tc.pin }
