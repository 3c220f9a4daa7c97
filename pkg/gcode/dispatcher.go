package gcode

import (
	"fmt"

	"github.com/js-god/printipi/pkg/errors"
	"github.com/js-god/printipi/pkg/log"
	"github.com/js-god/printipi/pkg/motion"
	"github.com/js-god/printipi/pkg/sched"
)

// defaultWaitTolerance is the settle band for M109, Celsius.
const defaultWaitTolerance = 3.0

// Dispatcher executes parsed commands against the scheduler. It runs
// on the transport goroutine; planner mutations travel through the
// scheduler's bounded queue.
type Dispatcher struct {
	sched *sched.Scheduler
	log   *log.Logger

	// feedrate persists across moves, mm/s.
	feedrate float64

	// EmergencyStop is invoked for M112.
	EmergencyStop func()
}

// NewDispatcher returns a dispatcher bound to the scheduler.
func NewDispatcher(s *sched.Scheduler) *Dispatcher {
	return &Dispatcher{
		sched:    s,
		log:      log.GetLogger("gcode"),
		feedrate: 25,
	}
}

// Execute parses and runs one command line, returning the reply text.
func (d *Dispatcher) Execute(line string) (string, error) {
	cmd, err := Parse(line)
	if err != nil {
		return "", err
	}
	if cmd == nil {
		return "ok", nil
	}

	switch {
	case cmd.Letter == 'G' && (cmd.Number == 0 || cmd.Number == 1):
		return d.move(cmd)
	case cmd.Letter == 'G' && cmd.Number == 28:
		d.sched.Submit(func(p *motion.Planner) { p.QueueHome() })
		return "ok", nil
	case cmd.Letter == 'G' && cmd.Number == 4:
		ms := cmd.ArgOr('P', 0)
		d.sched.Submit(func(p *motion.Planner) { p.QueueDwell(uint64(ms * 1000)) })
		return "ok", nil
	case cmd.Letter == 'M' && cmd.Number == 104:
		temp := cmd.ArgOr('S', 0)
		d.sched.Submit(func(p *motion.Planner) { p.QueueSetTemp(motion.ChannelHotend, temp) })
		return "ok", nil
	case cmd.Letter == 'M' && cmd.Number == 109:
		temp := cmd.ArgOr('S', 0)
		d.sched.Submit(func(p *motion.Planner) {
			p.QueueSetTemp(motion.ChannelHotend, temp)
			p.QueueWaitForTemp(motion.ChannelHotend, defaultWaitTolerance)
		})
		return "ok", nil
	case cmd.Letter == 'M' && cmd.Number == 105:
		st := d.sched.GetStatus()
		return fmt.Sprintf("ok T:%.1f /%.1f", st.HotendTemp, st.HotendTarget), nil
	case cmd.Letter == 'M' && cmd.Number == 106:
		duty := cmd.ArgOr('S', 255) / 255
		d.sched.Submit(func(p *motion.Planner) { p.QueueFan(duty) })
		return "ok", nil
	case cmd.Letter == 'M' && cmd.Number == 107:
		d.sched.Submit(func(p *motion.Planner) { p.QueueFan(0) })
		return "ok", nil
	case cmd.Letter == 'M' && cmd.Number == 112:
		d.log.Error("emergency stop")
		if d.EmergencyStop != nil {
			d.EmergencyStop()
		}
		return "ok", nil
	case cmd.Letter == 'M' && cmd.Number == 114:
		st := d.sched.GetStatus()
		return fmt.Sprintf("ok X:%.3f Y:%.3f Z:%.3f E:%.3f", st.X, st.Y, st.Z, st.E), nil
	default:
		return "", errors.GCodeParse(cmd.Raw, "unsupported command")
	}
}

// move queues a G0/G1. Coordinates are absolute millimeters; F is
// mm/min and persists.
func (d *Dispatcher) move(cmd *Command) (string, error) {
	if f, ok := cmd.Arg('F'); ok && f > 0 {
		d.feedrate = f / 60
	}
	feedrate := d.feedrate

	x, hasX := cmd.Arg('X')
	y, hasY := cmd.Arg('Y')
	z, hasZ := cmd.Arg('Z')
	e, hasE := cmd.Arg('E')
	if !hasX && !hasY && !hasZ && !hasE {
		return "ok", nil
	}

	d.sched.Submit(func(p *motion.Planner) {
		cx, cy, cz, ce := p.Position()
		if hasX {
			cx = x
		}
		if hasY {
			cy = y
		}
		if hasZ {
			cz = z
		}
		if hasE {
			ce = e
		}
		if err := p.QueueMove(cx, cy, cz, ce, feedrate); err != nil {
			d.log.WithError(err).Warn("move rejected: %s", cmd.Raw)
		}
	})
	return "ok", nil
}
