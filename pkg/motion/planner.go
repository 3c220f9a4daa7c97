package motion

import (
	"math"
	"sync"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/log"
)

// BatchKind tags what a queued batch asks of the scheduler.
type BatchKind int

const (
	BatchMove BatchKind = iota
	BatchHome
	BatchDwell
	BatchSetTemp
	BatchWaitForTemp
	BatchFan
)

// TempChannel identifies a temperature-controlled output.
type TempChannel int

const (
	ChannelHotend TempChannel = iota
)

// Batch is one planner work item. Step sources are instantiated when
// the scheduler actually starts the batch, so their deadlines are
// anchored to the real start time.
type Batch struct {
	Kind BatchKind

	// Build creates the batch's step sources anchored at startMicros.
	// Nil for batches without motion.
	Build func(startMicros uint64) []StepSource

	// DwellMicros is the dwell duration for BatchDwell.
	DwellMicros uint64

	// Temperature fields for BatchSetTemp / BatchWaitForTemp.
	Channel   TempChannel
	Temp      float64
	Tolerance float64

	// Duty for BatchFan.
	Duty float64
}

// Planner accepts higher-level commands and turns each into a batch of
// per-axis step sources. It is consumed from the scheduler thread;
// position state is guarded for status readers.
type Planner struct {
	mu sync.Mutex

	cfg *config.MachineConfig
	m   *DeltaCoordMap
	log *log.Logger

	queue []*Batch

	pos        [3]float64 // planned Cartesian position, mm
	posE       float64
	homed      bool
	homeQueued bool
}

// NewPlanner returns a planner over the given coordinate map.
func NewPlanner(cfg *config.MachineConfig, m *DeltaCoordMap) *Planner {
	return &Planner{
		cfg: cfg,
		m:   m,
		log: log.GetLogger("planner"),
	}
}

// accelMM returns the acceleration cap in mm/s^2.
func (p *Planner) accelMM() float64 { return p.cfg.MaxAccel / 1000 }

// QueueMove queues a linear move to (x, y, z, e) mm at the requested
// feedrate (mm/s). Out-of-envelope targets are rejected; the planner
// keeps running.
func (p *Planner) QueueMove(x, y, z, e float64, feedrate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.m.CheckEnvelope(x, y, z); err != nil {
		p.log.WithError(err).Warn("move rejected")
		return err
	}
	if _, err := p.m.CarriageHeights(x, y, z); err != nil {
		p.log.WithError(err).Warn("move rejected")
		return err
	}

	if !p.homed && !p.homeQueued && p.cfg.HomeBeforeFirstMovement {
		p.queue = append(p.queue, p.homeBatch())
		p.homeQueued = true
	}

	start := p.pos
	startE := p.posE
	dx, dy, dz := x-start[0], y-start[1], z-start[2]
	de := e - startE
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if dist == 0 && de == 0 {
		return nil
	}

	vc := math.Min(feedrate, p.cfg.MaxMoveRate)
	if dist == 0 || de < 0 {
		// Pure extrusion and retraction run under the extruder cap.
		vc = math.Min(feedrate, p.cfg.MaxExtrudeRate)
	}
	if vc <= 0 {
		vc = p.cfg.MaxMoveRate
	}

	profileDist := dist
	if profileDist == 0 {
		profileDist = math.Abs(de)
	}

	accel := p.accelMM()
	end := [3]float64{x, y, z}
	minSpacing := p.cfg.MinPulseSpacingMicros
	m := p.m

	batch := &Batch{
		Kind: BatchMove,
		Build: func(startMicros uint64) []StepSource {
			profile := NewAccelProfile(profileDist, vc, 0, 0, accel)
			var sources []StepSource
			if dist > 0 {
				for tower, axis := range []config.Axis{config.AxisA, config.AxisB, config.AxisC} {
					sources = append(sources,
						NewDeltaStepper(m, tower, axis, profile, start, end, startMicros, minSpacing))
				}
			}
			if de != 0 {
				sources = append(sources,
					NewExtruderStepper(m, profile, profileDist, startE, e, startMicros, minSpacing))
			}
			return sources
		},
	}
	p.queue = append(p.queue, batch)

	p.pos = end
	p.posE = e
	return nil
}

// homeBatch drives all three carriages upward at the homing rate until
// their endstops trigger. The step budget bounds runaway travel.
func (p *Planner) homeBatch() *Batch {
	cfg := p.cfg
	m := p.m
	return &Batch{
		Kind: BatchHome,
		Build: func(startMicros uint64) []StepSource {
			var sources []StepSource
			for _, axis := range []config.Axis{config.AxisA, config.AxisB, config.AxisC} {
				spmm := m.StepsPerMM(axis)
				interval := uint64(1e6 / (cfg.HomeRate * spmm))
				if interval == 0 {
					interval = 1
				}
				maxSteps := int64(m.HomeHeight() * spmm * 1.2)
				sources = append(sources,
					NewUniformStepper(axis, DirForward, startMicros, interval, maxSteps))
			}
			return sources
		},
	}
}

// QueueHome queues an explicit homing cycle.
func (p *Planner) QueueHome() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, p.homeBatch())
	p.homeQueued = true
}

// QueueDwell queues a pause of the given duration.
func (p *Planner) QueueDwell(micros uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, &Batch{Kind: BatchDwell, DwellMicros: micros})
}

// QueueSetTemp queues a target-temperature change.
func (p *Planner) QueueSetTemp(ch TempChannel, celsius float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, &Batch{Kind: BatchSetTemp, Channel: ch, Temp: celsius})
}

// QueueWaitForTemp queues a wait until the channel is within tolerance
// of its target.
func (p *Planner) QueueWaitForTemp(ch TempChannel, tolerance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, &Batch{Kind: BatchWaitForTemp, Channel: ch, Tolerance: tolerance})
}

// QueueFan queues a fan duty change.
func (p *Planner) QueueFan(duty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, &Batch{Kind: BatchFan, Duty: duty})
}

// NextBatch pops the next queued batch.
func (p *Planner) NextBatch() (*Batch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b, true
}

// PendingBatches returns the queue depth.
func (p *Planner) PendingBatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// FinishHome records that all carriages reached their endstops: the
// carriages sit at the homing height and the effector position follows
// from the inverse transform.
func (p *Planner) FinishHome() {
	p.mu.Lock()
	defer p.mu.Unlock()
	x, y, z := p.m.HomePosition()
	p.pos = [3]float64{x, y, z}
	p.homed = true
	p.homeQueued = false
	p.log.Info("homed: effector at (%.3f, %.3f, %.3f)", x, y, z)
}

// Homed reports whether a homing cycle has completed.
func (p *Planner) Homed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.homed
}

// Position returns the planned Cartesian+extruder position.
func (p *Planner) Position() (x, y, z, e float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos[0], p.pos[1], p.pos[2], p.posE
}
