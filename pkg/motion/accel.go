package motion

import "math"

// AccelProfile is a constant-acceleration (trapezoidal) velocity
// profile over one segment: accelerate from vEntry to a peak, cruise,
// decelerate to vExit. If the segment is too short for the requested
// cruise velocity the profile degenerates to a triangle.
//
// The axis steppers compute step times against distance-along-segment;
// TimeAtDistance is the time warp that places them on the real clock.
type AccelProfile struct {
	distance float64 // mm
	accel    float64 // mm/s^2

	vEntry, vExit, vPeak float64

	tAccel, tCruise, tDecel float64
	dAccel, dCruise         float64
}

// NewAccelProfile computes the profile for a segment of the given
// length (mm) with the requested cruise velocity (mm/s), entry and
// exit velocities, and acceleration cap (mm/s^2).
func NewAccelProfile(distance, vCruise, vEntry, vExit, accel float64) *AccelProfile {
	p := &AccelProfile{
		distance: distance,
		accel:    accel,
		vEntry:   vEntry,
		vExit:    vExit,
	}

	// Peak velocity so that the accelerate and decelerate phases fit
	// within the segment.
	vTri := math.Sqrt((2*accel*distance + vEntry*vEntry + vExit*vExit) / 2)
	p.vPeak = math.Min(vCruise, vTri)

	p.tAccel = (p.vPeak - vEntry) / accel
	p.dAccel = (p.vPeak*p.vPeak - vEntry*vEntry) / (2 * accel)
	dDecel := (p.vPeak*p.vPeak - vExit*vExit) / (2 * accel)
	p.tDecel = (p.vPeak - vExit) / accel

	p.dCruise = distance - p.dAccel - dDecel
	if p.dCruise < 0 {
		p.dCruise = 0
	}
	if p.vPeak > 0 {
		p.tCruise = p.dCruise / p.vPeak
	}
	return p
}

// Distance returns the segment length, mm.
func (p *AccelProfile) Distance() float64 { return p.distance }

// PeakVelocity returns the achieved cruise velocity, mm/s.
func (p *AccelProfile) PeakVelocity() float64 { return p.vPeak }

// Duration returns the total segment time in seconds.
func (p *AccelProfile) Duration() float64 {
	return p.tAccel + p.tCruise + p.tDecel
}

// VelocityAt returns the velocity at time t from segment start.
func (p *AccelProfile) VelocityAt(t float64) float64 {
	switch {
	case t <= 0:
		return p.vEntry
	case t < p.tAccel:
		return p.vEntry + p.accel*t
	case t < p.tAccel+p.tCruise:
		return p.vPeak
	case t < p.Duration():
		return p.vPeak - p.accel*(t-p.tAccel-p.tCruise)
	default:
		return p.vExit
	}
}

// DistanceAt returns the distance traveled by time t.
func (p *AccelProfile) DistanceAt(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t < p.tAccel:
		return p.vEntry*t + p.accel*t*t/2
	case t < p.tAccel+p.tCruise:
		return p.dAccel + p.vPeak*(t-p.tAccel)
	case t < p.Duration():
		td := t - p.tAccel - p.tCruise
		return p.dAccel + p.dCruise + p.vPeak*td - p.accel*td*td/2
	default:
		return p.distance
	}
}

// TimeAtDistance inverts DistanceAt: the time at which the move has
// covered s millimeters.
func (p *AccelProfile) TimeAtDistance(s float64) float64 {
	switch {
	case s <= 0:
		return 0
	case s < p.dAccel:
		// s = vEntry*t + a*t^2/2
		return (-p.vEntry + math.Sqrt(p.vEntry*p.vEntry+2*p.accel*s)) / p.accel
	case s < p.dAccel+p.dCruise:
		return p.tAccel + (s-p.dAccel)/p.vPeak
	case s < p.distance:
		// remaining deceleration distance from s to the end
		sd := s - p.dAccel - p.dCruise
		disc := p.vPeak*p.vPeak - 2*p.accel*sd
		if disc < 0 {
			disc = 0
		}
		return p.tAccel + p.tCruise + (p.vPeak-math.Sqrt(disc))/p.accel
	default:
		return p.Duration()
	}
}
