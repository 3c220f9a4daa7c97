package sched

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/errors"
	"github.com/js-god/printipi/pkg/iodrivers"
	"github.com/js-god/printipi/pkg/iopin"
	"github.com/js-god/printipi/pkg/log"
	"github.com/js-god/printipi/pkg/motion"
)

// Polling cadences, microseconds.
const (
	thermPollMicros   = 1000
	endstopPollMicros = 1000

	// batchStartDelayMicros gives the first step events of a batch
	// room ahead of "now".
	batchStartDelayMicros = 2000

	// busyWaitMarginMicros is spent spinning after the coarse sleep.
	busyWaitMarginMicros = 50
)

// commandQueueDepth bounds the parser-to-planner queue; a full queue
// blocks the producer.
const commandQueueDepth = 64

// Hardware bundles the devices the scheduler drives.
type Hardware struct {
	Steppers map[config.Axis]*iodrivers.A4988
	Endstops map[config.Axis]*iodrivers.Endstop
	Therm    *iodrivers.RCThermistor
	Hotend   *iodrivers.TempControl
	Fan      *iodrivers.Fan
}

// GpioRaster is the DMA ring surface the scheduler rasterizes GPIO
// transitions into when running in DMA mode.
type GpioRaster interface {
	AddEdge(t uint64, bcmLine int, high bool) error
	Cursor() uint64
	Window() uint64
}

// pwm channel ids.
const (
	pwmHotend = iota
	pwmFan
	pwmChannels
)

type pwmChannel struct {
	pin          *iopin.Pin
	periodMicros uint64
	duty         func() float64
}

// Scheduler is the single-threaded cooperative event loop.
type Scheduler struct {
	cfg     *config.MachineConfig
	clock   Clock
	planner *motion.Planner
	hw      Hardware
	log     *log.Logger

	commands chan func(*motion.Planner)

	heap eventHeap
	seq  uint64

	// Active batch state.
	sources     []motion.StepSource
	sourceAxis  []config.Axis
	sourceDone  []bool
	canceled    []bool
	motionLive  int
	activeBatch bool
	homing      bool
	triggered   map[config.Axis]bool

	waitingTemp bool
	waitTol     float64
	tempFaulted bool

	pwm [pwmChannels]pwmChannel

	// DMA mode.
	raster      GpioRaster
	readCursor  func() uint64
	checkFault  func() error
	rebuildRing func(baseMicros uint64) GpioRaster
	rasterOps   uint64
	underruns   uint64

	aborted atomic.Bool
	errMu   sync.Mutex
	runErr  error
}

// New creates a scheduler over the planner and hardware set.
func New(cfg *config.MachineConfig, clock Clock, planner *motion.Planner, hw Hardware) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		clock:     clock,
		planner:   planner,
		hw:        hw,
		log:       log.GetLogger("sched"),
		commands:  make(chan func(*motion.Planner), commandQueueDepth),
		triggered: make(map[config.Axis]bool),
	}
	if hw.Hotend != nil {
		s.pwm[pwmHotend] = pwmChannel{
			pin:          hw.Hotend.Pin(),
			periodMicros: uint64(cfg.HotendPWMPeriod * 1e6),
			duty:         hw.Hotend.Duty,
		}
	}
	if hw.Fan != nil {
		s.pwm[pwmFan] = pwmChannel{
			pin:          hw.Fan.Pin(),
			periodMicros: uint64(cfg.FanPWMPeriod * 1e6),
			duty:         hw.Fan.Duty,
		}
	}
	return s
}

// EnableDMA switches GPIO emission into the given raster. readCursor
// reports the hardware read position on the same timeline.
func (s *Scheduler) EnableDMA(raster GpioRaster, readCursor func() uint64) {
	s.raster = raster
	s.readCursor = readCursor
}

// SetFaultHandler wires DMA bus-fault detection and recovery: check is
// polled periodically from the emission path; on error the ring is
// rebuilt from the current deadline and emission continues.
func (s *Scheduler) SetFaultHandler(check func() error, rebuild func(baseMicros uint64) GpioRaster) {
	s.checkFault = check
	s.rebuildRing = rebuild
}

// Submit hands a planner operation to the scheduler thread. It blocks
// when the queue is full (producer backpressure).
func (s *Scheduler) Submit(fn func(*motion.Planner)) {
	s.commands <- fn
}

// Abort requests loop termination; pending events are not applied.
func (s *Scheduler) Abort() {
	s.aborted.Store(true)
}

// Err returns the error that stopped the loop, if any.
func (s *Scheduler) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.runErr
}

// Underruns returns the count of GPIO edges (step, direction and PWM)
// dropped in DMA mode.
func (s *Scheduler) Underruns() uint64 { return atomic.LoadUint64(&s.underruns) }

func (s *Scheduler) push(ev *Event) {
	s.seq++
	ev.seq = s.seq
	heap.Push(&s.heap, ev)
}

func (s *Scheduler) pop() *Event {
	return heap.Pop(&s.heap).(*Event)
}

// Run executes the event loop until the context ends, Abort is called,
// or a fatal condition stops motion.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.clock.NowMicros()
	if s.hw.Therm != nil {
		s.hw.Therm.StartSample(now)
		s.push(&Event{Kind: KindThermSample, Deadline: now + thermPollMicros})
	}
	for c := 0; c < pwmChannels; c++ {
		if s.pwm[c].pin != nil {
			s.push(&Event{Kind: KindTempControl, Deadline: now + s.pwm[c].periodMicros, Channel: c})
		}
	}

	for {
		if ctx.Err() != nil || s.aborted.Load() {
			break
		}
		s.drainCommands()
		s.startBatches()

		if len(s.heap) == 0 {
			// Nothing scheduled at all: block briefly on the command
			// queue rather than spinning.
			select {
			case fn := <-s.commands:
				fn(s.planner)
			case <-ctx.Done():
				return s.runErr
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		ev := s.pop()
		if s.raster != nil && isGpioKind(ev.Kind) {
			s.rasterize(ev)
			continue
		}
		s.waitUntil(ev.Deadline)
		s.apply(ev)
	}
	return s.runErr
}

func isGpioKind(k EventKind) bool {
	return k == KindPulseStart || k == KindPulseEnd || k == KindPwmEdge
}

// drainCommands runs a bounded number of queued planner operations.
func (s *Scheduler) drainCommands() {
	for i := 0; i < commandQueueDepth; i++ {
		select {
		case fn := <-s.commands:
			fn(s.planner)
		default:
			return
		}
	}
}

// startBatches dispatches planner batches until one occupies the
// scheduler (motion, dwell, or a temperature wait).
func (s *Scheduler) startBatches() {
	for !s.activeBatch && !s.waitingTemp {
		b, ok := s.planner.NextBatch()
		if !ok {
			return
		}
		now := s.clock.NowMicros()
		switch b.Kind {
		case motion.BatchMove, motion.BatchHome:
			s.startMotion(b, now)
		case motion.BatchDwell:
			s.push(&Event{Kind: KindNoOp, Deadline: now + b.DwellMicros})
			s.activeBatch = true
		case motion.BatchSetTemp:
			if s.hw.Hotend != nil {
				s.hw.Hotend.SetTarget(b.Temp)
				s.log.Info("hotend target %.1fC", b.Temp)
			}
		case motion.BatchWaitForTemp:
			if s.hw.Hotend != nil {
				s.waitingTemp = true
				s.waitTol = b.Tolerance
			}
		case motion.BatchFan:
			if s.hw.Fan != nil {
				s.hw.Fan.SetDuty(b.Duty)
			}
		}
	}
}

func (s *Scheduler) startMotion(b *motion.Batch, now uint64) {
	sources := b.Build(now + batchStartDelayMicros)
	if len(sources) == 0 {
		return
	}

	s.sources = sources
	s.sourceAxis = make([]config.Axis, len(sources))
	s.sourceDone = make([]bool, len(sources))
	s.canceled = make([]bool, len(sources))
	s.motionLive = 0
	s.homing = b.Kind == motion.BatchHome
	s.triggered = make(map[config.Axis]bool)

	for _, drv := range s.hw.Steppers {
		drv.Enable(true)
	}

	for i, src := range sources {
		s.sourceAxis[i] = src.Axis()
		s.pullSource(i)
	}
	if s.motionLive == 0 {
		// Zero-length batch.
		s.finishMotion()
		return
	}
	s.activeBatch = true
	s.push(&Event{Kind: KindEndstopPoll, Deadline: now + endstopPollMicros})
}

// pullSource fetches the next step from source i and schedules its
// rising edge. The direction line is latched here, well ahead of the
// DIR setup time.
func (s *Scheduler) pullSource(i int) {
	if s.canceled[i] || s.sourceDone[i] {
		s.sourceDone[i] = true
		return
	}
	ev, ok := s.sources[i].Next()
	if !ok {
		s.sourceDone[i] = true
		return
	}

	drv := s.hw.Steppers[ev.Axis]
	if drv == nil {
		s.sourceDone[i] = true
		return
	}
	dir := iodrivers.StepForward
	if ev.Dir == motion.DirBackward {
		dir = iodrivers.StepBackward
	}
	if s.raster != nil {
		// The step edge executes up to a ring window after it is
		// rasterized; the DIR transition must ride the ring too, one
		// setup time ahead of the rising edge.
		if drv.LatchDirection(dir) {
			s.push(&Event{
				Kind:     KindPwmEdge,
				Deadline: ev.TimeMicros - uint64(drv.DirSetup()),
				Pin:      drv.DirPin(),
				Level:    iodrivers.DirLevel(dir),
			})
		}
	} else {
		drv.SetDirection(dir)
	}

	s.motionLive++
	s.push(&Event{
		Kind:     KindPulseStart,
		Deadline: ev.TimeMicros,
		Pin:      drv.StepPin(),
		Axis:     ev.Axis,
		Source:   i,
	})
}

func (s *Scheduler) apply(ev *Event) {
	switch ev.Kind {
	case KindPulseStart:
		s.motionLive--
		if s.canceled[ev.Source] {
			s.sourceDone[ev.Source] = true
			s.checkMotionDone()
			return
		}
		ev.Pin.DigitalWrite(iopin.High)
		s.motionLive++
		s.push(&Event{
			Kind:     KindPulseEnd,
			Deadline: ev.Deadline + uint64(s.cfg.PulseWidthMicros),
			Pin:      ev.Pin,
			Axis:     ev.Axis,
			Source:   -1,
		})
		s.pullSource(ev.Source)

	case KindPulseEnd:
		s.motionLive--
		ev.Pin.DigitalWrite(iopin.Low)
		s.checkMotionDone()

	case KindPwmEdge:
		ev.Pin.DigitalWrite(ev.Level)

	case KindThermSample:
		s.applyThermSample(ev)

	case KindTempControl:
		s.applyPwmTick(ev)

	case KindEndstopPoll:
		s.applyEndstopPoll(ev)

	case KindNoOp:
		s.activeBatch = false
	}
}

// checkMotionDone closes the batch once every source is exhausted and
// every scheduled pulse has been applied.
func (s *Scheduler) checkMotionDone() {
	if !s.activeBatch || s.motionLive > 0 {
		return
	}
	for _, done := range s.sourceDone {
		if !done {
			return
		}
	}
	s.finishMotion()
}

func (s *Scheduler) finishMotion() {
	wasHoming := s.homing
	s.activeBatch = false
	s.homing = false
	s.sources = nil

	if wasHoming {
		if len(s.triggered) == 3 {
			s.planner.FinishHome()
		} else {
			s.fail(fmt.Errorf("homing exhausted its travel budget with %d/3 endstops triggered", len(s.triggered)))
		}
	}
}

func (s *Scheduler) applyThermSample(ev *Event) {
	now := s.clock.NowMicros()
	temp, done, err := s.hw.Therm.Poll(now)
	if err != nil && !s.tempFaulted {
		s.tempFaulted = true
		s.hw.Hotend.Fault()
		s.log.WithError(err).Error("thermistor fault, heater forced off")
	}
	if done {
		if s.tempFaulted {
			s.tempFaulted = false
			s.hw.Hotend.ClearFault()
			s.log.Info("thermistor recovered")
		}
		s.hw.Hotend.Update(float64(now)/1e6, temp)
		if s.waitingTemp && math.Abs(temp-s.hw.Hotend.Target()) <= s.waitTol {
			s.waitingTemp = false
		}
		s.hw.Therm.StartSample(now)
	}
	s.push(&Event{Kind: KindThermSample, Deadline: ev.Deadline + thermPollMicros})
}

// applyPwmTick opens one PWM period: a rising edge at the period start
// and a falling edge after the duty fraction.
func (s *Scheduler) applyPwmTick(ev *Event) {
	ch := s.pwm[ev.Channel]
	duty := ch.duty()
	start := ev.Deadline

	if duty > 0 {
		s.push(&Event{Kind: KindPwmEdge, Deadline: start, Pin: ch.pin, Level: iopin.High, Channel: ev.Channel})
	}
	if duty < 1 {
		off := start + uint64(duty*float64(ch.periodMicros))
		s.push(&Event{Kind: KindPwmEdge, Deadline: off, Pin: ch.pin, Level: iopin.Low, Channel: ev.Channel})
	}
	s.push(&Event{Kind: KindTempControl, Deadline: start + ch.periodMicros, Channel: ev.Channel})
}

func (s *Scheduler) applyEndstopPoll(ev *Event) {
	if !s.activeBatch || s.sources == nil {
		return
	}
	for axis, es := range s.hw.Endstops {
		if !es.IsTriggered() {
			continue
		}
		if s.homing {
			if !s.triggered[axis] {
				s.triggered[axis] = true
				s.cancelAxis(axis)
				s.log.Info("endstop %s triggered", es.Name())
			}
			continue
		}
		err := errors.EndstopMidMove(es.Name())
		s.log.WithError(err).Error("aborting move, driving pins to safe state")
		s.fail(err)
		iopin.DeactivateAll()
		return
	}
	s.push(&Event{Kind: KindEndstopPoll, Deadline: ev.Deadline + endstopPollMicros})
}

// cancelAxis retracts the remaining homing steps of one axis. Events
// already in the heap are skipped when popped; a started pulse still
// closes.
func (s *Scheduler) cancelAxis(axis config.Axis) {
	for i, a := range s.sourceAxis {
		if a == axis {
			s.canceled[i] = true
		}
	}
}

func (s *Scheduler) fail(err error) {
	s.errMu.Lock()
	if s.runErr == nil {
		s.runErr = err
	}
	s.errMu.Unlock()
	s.aborted.Store(true)
}

// waitUntil sleeps coarsely toward the deadline, then busy-waits the
// remainder. Clocks owning their own strategy (simulation) override.
func (s *Scheduler) waitUntil(deadline uint64) {
	if sl, ok := s.clock.(Sleeper); ok {
		sl.SleepUntil(deadline)
		return
	}
	for {
		now := s.clock.NowMicros()
		if now >= deadline {
			return
		}
		delta := deadline - now
		if delta > uint64(s.cfg.Sched.LongSleepThresholdMicros) {
			time.Sleep(time.Duration(delta-busyWaitMarginMicros) * time.Microsecond)
			continue
		}
		for s.clock.NowMicros() < deadline {
		}
		return
	}
}

// rasterize emits one GPIO event into the DMA ring. Late step edges
// inside the missed window are dropped, never rescheduled; a late
// pulse-end is written at the resynchronized cursor so the pulse is
// not stranded open.
func (s *Scheduler) rasterize(ev *Event) {
	// Periodic bus-fault check; a latched DEBUG error rebuilds the
	// ring from the current deadline.
	s.rasterOps++
	if s.checkFault != nil && s.rasterOps%1024 == 0 {
		if err := s.checkFault(); err != nil {
			s.log.WithError(err).Error("DMA bus fault, rebuilding ring")
			s.raster = s.rebuildRing(ev.Deadline)
		}
	}

	read := s.readCursor()
	slack := uint64(s.cfg.Sched.SlackMicros)
	deadline := ev.Deadline

	// Keep writes inside the ring window; wait when too far ahead.
	horizon := read + s.raster.Window() - slack
	for deadline > horizon {
		s.waitUntil(deadline - s.raster.Window()/2)
		read = s.readCursor()
		horizon = read + s.raster.Window() - slack
	}

	if deadline < read+slack {
		if ev.Kind == KindPulseEnd {
			// Close the pulse at the resync point rather than drop it.
			deadline = read + slack
		} else {
			atomic.AddUint64(&s.underruns, 1)
			s.log.WithError(errors.DmaUnderrun(s.raster.Cursor(), read)).
				Warn("dropped %s in missed window", ev.Kind)
			s.afterGpio(ev, false)
			return
		}
	}
	if deadline < s.raster.Cursor() {
		deadline = s.raster.Cursor()
	}

	line := ev.Pin.Primitive().PinNumber()
	if line >= 0 {
		level := ev.Level
		if ev.Kind == KindPulseStart {
			level = iopin.High
		} else if ev.Kind == KindPulseEnd {
			level = iopin.Low
		}
		hw := bool(ev.Pin.TranslateWrite(level))
		if err := s.raster.AddEdge(deadline, line, hw); err != nil {
			atomic.AddUint64(&s.underruns, 1)
			s.log.WithError(err).Warn("raster rejected %s", ev.Kind)
		}
	}
	s.afterGpio(ev, true)
}

// afterGpio runs the post-application bookkeeping shared by the direct
// and DMA paths. emitted is false for dropped edges.
func (s *Scheduler) afterGpio(ev *Event, emitted bool) {
	switch ev.Kind {
	case KindPulseStart:
		s.motionLive--
		if s.canceled[ev.Source] {
			s.sourceDone[ev.Source] = true
			s.checkMotionDone()
			return
		}
		if emitted {
			s.motionLive++
			s.push(&Event{
				Kind:     KindPulseEnd,
				Deadline: ev.Deadline + uint64(s.cfg.PulseWidthMicros),
				Pin:      ev.Pin,
				Axis:     ev.Axis,
				Source:   -1,
			})
		}
		s.pullSource(ev.Source)
		s.checkMotionDone()
	case KindPulseEnd:
		s.motionLive--
		s.checkMotionDone()
	}
}

// Status is a snapshot for the status server.
type Status struct {
	X, Y, Z, E   float64
	Homed        bool
	HotendTemp   float64
	HotendTarget float64
	HotendDuty   float64
	FanDuty      float64
	Pending      int
	Underruns    uint64
	TempFault    bool
}

// GetStatus returns a point-in-time snapshot. Safe to call from other
// goroutines: every touched component guards its own state.
func (s *Scheduler) GetStatus() Status {
	st := Status{
		Pending:   s.planner.PendingBatches(),
		Underruns: atomic.LoadUint64(&s.underruns),
	}
	st.X, st.Y, st.Z, st.E = s.planner.Position()
	st.Homed = s.planner.Homed()
	if s.hw.Hotend != nil {
		st.HotendTemp = s.hw.Hotend.LastTemp()
		st.HotendTarget = s.hw.Hotend.Target()
		st.HotendDuty = s.hw.Hotend.Duty()
		st.TempFault = s.hw.Hotend.Faulted()
	}
	if s.hw.Fan != nil {
		st.FanDuty = s.hw.Fan.Duty()
	}
	return st
}
