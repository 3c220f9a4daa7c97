package motion

import (
	"math"

	"github.com/js-god/printipi/pkg/config"
)

// StepDir is the direction of one step event.
type StepDir int

const (
	DirBackward StepDir = -1
	DirForward  StepDir = 1
)

// StepEvent is one motor increment: axis, direction, and the absolute
// time on the 1 MHz system timer at which the step edge is due.
type StepEvent struct {
	Axis       config.Axis
	Dir        StepDir
	TimeMicros uint64
}

// StepSource lazily produces the step events of one axis over one
// motion segment. Sources are pulled from the scheduler thread only.
type StepSource interface {
	// Axis returns the axis this source steps.
	Axis() config.Axis

	// Next returns the next step event, or ok=false when the segment
	// is exhausted.
	Next() (StepEvent, bool)
}

// rootEps separates a found crossing from the search start so the same
// root is not returned twice.
const rootEps = 1e-9

// deltaStepper generates step events for one tower carriage by solving
// for the times at which the carriage height crosses successive step
// boundaries along the (bed-leveled) linear path. The path is
// parameterized by Cartesian distance; the acceleration profile warps
// distance into real time.
type deltaStepper struct {
	axis  config.Axis
	tower int
	m     *DeltaCoordMap

	profile     *AccelProfile
	startMicros uint64

	// Bed-leveled segment geometry relative to the tower.
	px, py float64 // start offset from tower, mm
	vx, vy float64 // direction per mm of Cartesian distance
	z0, vz float64
	dist   float64

	spm        float64
	curStep    int64
	sPos       float64
	lastMicros uint64
	minSpacing int64
	started    bool
}

// NewDeltaStepper builds the step source of one tower for a segment
// from start to end (Cartesian mm, unleveled), sharing the given
// acceleration profile.
func NewDeltaStepper(m *DeltaCoordMap, tower int, axis config.Axis,
	profile *AccelProfile, start, end [3]float64,
	startMicros uint64, minSpacingMicros int64) StepSource {

	dx := end[0] - start[0]
	dy := end[1] - start[1]
	dz := end[2] - start[2]
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

	x0, y0, z0 := m.Transform(start[0], start[1], start[2])
	x1, y1, z1 := m.Transform(end[0], end[1], end[2])

	tx, ty := m.Tower(tower)
	ds := &deltaStepper{
		axis:        axis,
		tower:       tower,
		m:           m,
		profile:     profile,
		startMicros: startMicros,
		px:          x0 - tx,
		py:          y0 - ty,
		z0:          z0,
		dist:        dist,
		spm:         m.StepsPerMM(axis),
		minSpacing:  minSpacingMicros,
	}
	if dist > 0 {
		ds.vx = (x1 - x0) / dist
		ds.vy = (y1 - y0) / dist
		ds.vz = (z1 - z0) / dist
	}

	h0 := z0 + math.Sqrt(m.arm2-ds.px*ds.px-ds.py*ds.py)
	ds.curStep = int64(math.Round(h0 * ds.spm))
	return ds
}

func (ds *deltaStepper) Axis() config.Axis { return ds.axis }

// height returns the carriage height at distance s along the segment.
func (ds *deltaStepper) height(s float64) float64 {
	ax := ds.px + ds.vx*s
	ay := ds.py + ds.vy*s
	return ds.z0 + ds.vz*s + math.Sqrt(ds.m.arm2-ax*ax-ay*ay)
}

// crossing returns the earliest distance past sPos at which the
// carriage height equals target, if any. The crossing condition
// squares to a quadratic in s; roots where the carriage would sit
// below the effector are rejected.
func (ds *deltaStepper) crossing(target float64) (float64, bool) {
	q := target - ds.z0
	a := ds.vz*ds.vz + ds.vx*ds.vx + ds.vy*ds.vy
	b := -2*q*ds.vz + 2*(ds.px*ds.vx+ds.py*ds.vy)
	c := q*q + ds.px*ds.px + ds.py*ds.py - ds.m.arm2

	disc := b*b - 4*a*c
	if disc < 0 || a == 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	for _, root := range []float64{(-b - sq) / (2 * a), (-b + sq) / (2 * a)} {
		if root <= ds.sPos+rootEps || root > ds.dist {
			continue
		}
		if q-ds.vz*root < 0 {
			continue
		}
		return root, true
	}
	return 0, false
}

func (ds *deltaStepper) Next() (StepEvent, bool) {
	if ds.dist <= 0 {
		return StepEvent{}, false
	}

	// Candidate boundaries: halfway between the current step and its
	// neighbors, matching the rounding of absolute step positions.
	upS, upOK := ds.crossing((float64(ds.curStep) + 0.5) / ds.spm)
	downS, downOK := ds.crossing((float64(ds.curStep) - 0.5) / ds.spm)

	var s float64
	var dir StepDir
	switch {
	case upOK && (!downOK || upS <= downS):
		s, dir = upS, DirForward
	case downOK:
		s, dir = downS, DirBackward
	default:
		return StepEvent{}, false
	}

	t := ds.startMicros + uint64(math.Round(ds.profile.TimeAtDistance(s)*1e6))
	if ds.started && t < ds.lastMicros+uint64(ds.minSpacing) {
		t = ds.lastMicros + uint64(ds.minSpacing)
	}
	ds.started = true
	ds.lastMicros = t
	ds.sPos = s
	ds.curStep += int64(dir)

	return StepEvent{Axis: ds.axis, Dir: dir, TimeMicros: t}, true
}

// extruderStepper distributes the extruder's steps along the segment:
// extrusion advances linearly with Cartesian distance, so each step
// boundary maps to a closed-form distance along the move.
type extruderStepper struct {
	profile     *AccelProfile
	startMicros uint64

	dist       float64
	e0, e1     float64
	spm        float64
	dir        StepDir
	total      int64
	emitted    int64
	baseStep   int64
	lastMicros uint64
	minSpacing int64
	started    bool
}

// NewExtruderStepper builds the extruder step source for a segment of
// the given Cartesian distance (mm) moving the filament from e0 to e1.
// For pure-extrusion moves, dist is |e1-e0|.
func NewExtruderStepper(m *DeltaCoordMap, profile *AccelProfile,
	dist, e0, e1 float64, startMicros uint64, minSpacingMicros int64) StepSource {

	spm := m.StepsPerMM(config.AxisE)
	s0 := int64(math.Round(e0 * spm))
	s1 := int64(math.Round(e1 * spm))
	dir := DirForward
	if s1 < s0 {
		dir = DirBackward
	}
	total := s1 - s0
	if total < 0 {
		total = -total
	}
	return &extruderStepper{
		profile:     profile,
		startMicros: startMicros,
		dist:        dist,
		e0:          e0,
		e1:          e1,
		spm:         spm,
		dir:         dir,
		total:       total,
		baseStep:    s0,
		minSpacing:  minSpacingMicros,
	}
}

func (es *extruderStepper) Axis() config.Axis { return config.AxisE }

func (es *extruderStepper) Next() (StepEvent, bool) {
	if es.emitted >= es.total || es.dist <= 0 || es.e1 == es.e0 {
		return StepEvent{}, false
	}
	es.emitted++

	// e-value at the boundary of the emitted-th step.
	boundary := (float64(es.baseStep) + float64(es.dir)*(float64(es.emitted)-0.5)) / es.spm
	s := es.dist * (boundary - es.e0) / (es.e1 - es.e0)
	if s < 0 {
		s = 0
	} else if s > es.dist {
		s = es.dist
	}

	t := es.startMicros + uint64(math.Round(es.profile.TimeAtDistance(s)*1e6))
	if es.started && t < es.lastMicros+uint64(es.minSpacing) {
		t = es.lastMicros + uint64(es.minSpacing)
	}
	es.started = true
	es.lastMicros = t

	return StepEvent{Axis: config.AxisE, Dir: es.dir, TimeMicros: t}, true
}

// uniformStepper emits evenly spaced steps in one direction; homing
// drives each carriage upward with one of these until its endstop
// triggers.
type uniformStepper struct {
	axis           config.Axis
	dir            StepDir
	intervalMicros uint64
	nextMicros     uint64
	remaining      int64
}

// NewUniformStepper returns a source of maxSteps steps spaced
// intervalMicros apart, starting one interval after startMicros.
func NewUniformStepper(axis config.Axis, dir StepDir, startMicros, intervalMicros uint64, maxSteps int64) StepSource {
	return &uniformStepper{
		axis:           axis,
		dir:            dir,
		intervalMicros: intervalMicros,
		nextMicros:     startMicros + intervalMicros,
		remaining:      maxSteps,
	}
}

func (us *uniformStepper) Axis() config.Axis { return us.axis }

func (us *uniformStepper) Next() (StepEvent, bool) {
	if us.remaining <= 0 {
		return StepEvent{}, false
	}
	us.remaining--
	ev := StepEvent{Axis: us.axis, Dir: us.dir, TimeMicros: us.nextMicros}
	us.nextMicros += us.intervalMicros
	return ev, true
}
