package sched

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/dma"
	"github.com/js-god/printipi/pkg/errors"
	"github.com/js-god/printipi/pkg/iodrivers"
	"github.com/js-god/printipi/pkg/iopin"
	"github.com/js-god/printipi/pkg/motion"
)

// rig wires a full scheduler over simulated pins.
type rig struct {
	cfg     config.MachineConfig
	clock   *SimClock
	planner *motion.Planner
	s       *Scheduler

	stepSims    map[config.Axis]*iopin.SimPin
	endstopSims map[config.Axis]*iopin.SimPin
	thermSim    *iopin.SimPin
	hotendSim   *iopin.SimPin
	fanSim      *iopin.SimPin
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		cfg:         config.DefaultKossel(),
		clock:       NewSimClock(1000000),
		stepSims:    make(map[config.Axis]*iopin.SimPin),
		endstopSims: make(map[config.Axis]*iopin.SimPin),
	}

	m := motion.NewDeltaCoordMap(&r.cfg)
	r.planner = motion.NewPlanner(&r.cfg, m)

	var pins []*iopin.Pin
	newPin := func(sim *iopin.SimPin, cfg iopin.Config) *iopin.Pin {
		p := iopin.New(sim, cfg)
		pins = append(pins, p)
		return p
	}
	t.Cleanup(func() {
		for _, p := range pins {
			p.Close()
		}
	})

	enable := newPin(iopin.NewSimPin(23), iopin.Config{InvertWrites: true, Default: iopin.DefaultHigh})

	steppers := make(map[config.Axis]*iodrivers.A4988)
	for i, axis := range []config.Axis{config.AxisA, config.AxisB, config.AxisC, config.AxisE} {
		stepSim := iopin.NewSimPin(40 + i*2)
		dirSim := iopin.NewSimPin(41 + i*2)
		r.stepSims[axis] = stepSim
		steppers[axis] = iodrivers.NewA4988(
			newPin(stepSim, iopin.Config{Default: iopin.DefaultLow}),
			newPin(dirSim, iopin.Config{Default: iopin.DefaultLow}),
			enable,
			iodrivers.A4988Config{PulseWidth: r.cfg.PulseWidthMicros, DirSetup: r.cfg.DirSetupMicros},
		)
	}

	endstops := make(map[config.Axis]*iodrivers.Endstop)
	for i, axis := range []config.Axis{config.AxisA, config.AxisB, config.AxisC} {
		sim := iopin.NewSimPin(60 + i)
		r.endstopSims[axis] = sim
		endstops[axis] = iodrivers.NewEndstop(
			newPin(sim, iopin.Config{Default: iopin.DefaultHighImpedance}),
			iodrivers.EndstopConfig{Name: "endstop_" + axis.String(), Pull: iopin.PullDown, ActiveLevel: iopin.High},
		)
	}

	r.thermSim = iopin.NewSimPin(4)
	r.thermSim.SetInput(iopin.High) // sensor charges promptly
	therm := iodrivers.NewRCThermistor(
		newPin(r.thermSim, iopin.Config{Default: iopin.DefaultHighImpedance}),
		iodrivers.RCThermistorConfig{ThermistorConfig: r.cfg.Thermistor, FaultLimit: r.cfg.TempFaultLimit},
	)

	r.hotendSim = iopin.NewSimPin(15)
	hotend := iodrivers.NewTempControl(
		newPin(r.hotendSim, iopin.Config{InvertWrites: true, Default: iopin.DefaultHigh}),
		r.cfg.HotendPID,
	)

	r.fanSim = iopin.NewSimPin(14)
	fan := iodrivers.NewFan(newPin(r.fanSim, iopin.Config{Default: iopin.DefaultLow}))

	r.s = New(&r.cfg, r.clock, r.planner, Hardware{
		Steppers: steppers,
		Endstops: endstops,
		Therm:    therm,
		Hotend:   hotend,
		Fan:      fan,
	})
	return r
}

// run starts the scheduler and returns a join function.
func (r *rig) run(t *testing.T) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.s.Run(ctx) }()
	return func() error {
		r.s.Abort()
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("scheduler did not stop")
			return nil
		}
	}
}

// waitFor polls cond with a real-time bound.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHomingCompletes(t *testing.T) {
	r := newRig(t)
	// Carriages already at the top: every endstop reads triggered.
	for _, sim := range r.endstopSims {
		sim.SetInput(iopin.High)
	}
	join := r.run(t)

	r.s.Submit(func(p *motion.Planner) { p.QueueHome() })
	waitFor(t, "homing", r.planner.Homed)
	if err := join(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := r.s.GetStatus()
	if !st.Homed {
		t.Errorf("status not homed")
	}
	if math.Abs(st.X) > 1e-6 || math.Abs(st.Y) > 1e-6 || st.Z <= 0 {
		t.Errorf("home position (%.3f, %.3f, %.3f)", st.X, st.Y, st.Z)
	}
}

func TestMoveEmitsStepPulses(t *testing.T) {
	r := newRig(t)
	join := r.run(t)

	r.s.Submit(func(p *motion.Planner) {
		p.FinishHome()
		p.QueueMove(10, 5, 100, 0, 50)
	})

	waitFor(t, "step pulses", func() bool {
		return r.stepSims[config.AxisA].Writes() >= 10 &&
			r.stepSims[config.AxisB].Writes() >= 10 &&
			r.stepSims[config.AxisC].Writes() >= 10
	})
	if err := join(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every pulse opened was closed: an even number of writes ending low.
	for axis, sim := range r.stepSims {
		if axis == config.AxisE {
			continue
		}
		if sim.Level() != iopin.Low {
			t.Errorf("axis %v step pin left high", axis)
		}
	}
}

func TestEndstopMidMoveAborts(t *testing.T) {
	r := newRig(t)
	// Endstop already pressed while a normal move runs.
	r.endstopSims[config.AxisB].SetInput(iopin.High)
	join := r.run(t)

	r.s.Submit(func(p *motion.Planner) {
		p.FinishHome()
		p.QueueMove(10, 5, 100, 0, 50)
	})

	waitFor(t, "abort", func() bool { return r.s.Err() != nil })
	join()

	if !errors.Is(r.s.Err(), errors.ErrEndstopMidMove) {
		t.Fatalf("Err() = %v, want ENDSTOP_MID_MOVE", r.s.Err())
	}
	// The abort drove every pin to its default state.
	for axis, sim := range r.stepSims {
		if sim.Level() != iopin.Low {
			t.Errorf("axis %v step pin not at default after abort", axis)
		}
	}
}

func TestSetTempAndFanApply(t *testing.T) {
	r := newRig(t)
	join := r.run(t)

	r.s.Submit(func(p *motion.Planner) {
		p.QueueSetTemp(motion.ChannelHotend, 210)
		p.QueueFan(0.5)
	})

	waitFor(t, "hotend target", func() bool { return r.s.GetStatus().HotendTarget == 210 })
	waitFor(t, "fan edges", func() bool { return r.fanSim.Writes() >= 4 })
	if err := join(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.s.GetStatus().FanDuty != 0.5 {
		t.Errorf("fan duty %v", r.s.GetStatus().FanDuty)
	}
}

func TestDwellAdvancesClock(t *testing.T) {
	r := newRig(t)
	start := r.clock.NowMicros()
	join := r.run(t)

	const dwell = 500000
	r.s.Submit(func(p *motion.Planner) {
		p.QueueDwell(dwell)
		p.QueueSetTemp(motion.ChannelHotend, 50)
	})

	// The temperature change is sequenced behind the dwell.
	waitFor(t, "dwell then set-temp", func() bool { return r.s.GetStatus().HotendTarget == 50 })
	if err := join(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := r.clock.NowMicros(); got < start+dwell {
		t.Errorf("clock advanced only %d us across a %d us dwell", got-start, dwell)
	}
}

func TestDmaModeRasterizesPulses(t *testing.T) {
	r := newRig(t)

	pages := [][]dma.Frame{make([]dma.Frame, 4096), make([]dma.Frame, 4096)}
	raster := dma.NewRaster(pages, 1, r.clock.NowMicros())
	raster.ZeroAll()
	slack := uint64(r.cfg.Sched.SlackMicros)
	r.s.EnableDMA(raster, func() uint64 {
		now := r.clock.NowMicros()
		if now < 2*slack {
			return 0
		}
		return now - 2*slack
	})

	join := r.run(t)
	r.s.Submit(func(p *motion.Planner) {
		p.FinishHome()
		p.QueueMove(5, 0, 90, 0, 50)
	})

	waitFor(t, "move planned", func() bool {
		x, _, _, _ := r.planner.Position()
		return x == 5
	})
	waitFor(t, "batches drained", func() bool { return r.s.GetStatus().Pending == 0 })
	time.Sleep(100 * time.Millisecond)
	if err := join(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Direct writes must not have happened; the edges live in frames.
	stepWrites := 0
	for axis, sim := range r.stepSims {
		if axis != config.AxisE {
			stepWrites += sim.Writes()
		}
	}
	if stepWrites != 0 {
		t.Errorf("DMA mode performed %d direct step writes", stepWrites)
	}

	bits := 0
	for _, pg := range pages {
		for _, f := range pg {
			if f.Set != 0 {
				bits++
			}
		}
	}
	if bits == 0 {
		t.Errorf("no step edges rasterized into the ring")
	}
}
