// Package motion turns Cartesian motion requests into per-axis step
// events: the linear-delta coordinate map, the constant-acceleration
// profile, the per-axis step generators, and the planner that binds
// them to incoming commands.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/errors"
)

// Tower angles for the three vertical towers, degrees.
var towerAngles = [3]float64{90, 210, 330}

// DeltaCoordMap is the bijection between Cartesian+extruder space and
// per-axis step counts for a linear-delta machine, including the
// bed-level affine correction. Internal units are millimeters.
type DeltaCoordMap struct {
	radius      float64 // center to tower, mm
	armLength   float64 // rod length, mm
	arm2        float64
	homeHeight  float64 // carriage homing Z, mm
	buildRadius float64 // max XY radius, mm

	stepsPerMM [config.NumAxes]float64
	bedLevel   config.BedLevelMatrix

	towers [3][2]float64 // tower XY positions
}

// NewDeltaCoordMap builds the coordinate map from the machine
// configuration (geometry in micrometers, step densities per meter).
func NewDeltaCoordMap(cfg *config.MachineConfig) *DeltaCoordMap {
	m := &DeltaCoordMap{
		radius:      cfg.Geometry.R / 1000,
		armLength:   cfg.Geometry.L / 1000,
		homeHeight:  cfg.Geometry.H / 1000,
		buildRadius: cfg.Geometry.BuildRadius / 1000,
		bedLevel:    cfg.BedLevel,
	}
	m.arm2 = m.armLength * m.armLength
	for axis := config.Axis(0); axis < config.NumAxes; axis++ {
		m.stepsPerMM[axis] = cfg.StepsPerM[axis] / 1000
	}
	for i, angle := range towerAngles {
		rad := angle * math.Pi / 180
		m.towers[i] = [2]float64{
			math.Cos(rad) * m.radius,
			math.Sin(rad) * m.radius,
		}
	}
	return m
}

// StepsPerMM returns the step density of an axis, steps per mm.
func (m *DeltaCoordMap) StepsPerMM(axis config.Axis) float64 {
	return m.stepsPerMM[axis]
}

// Tower returns the XY position of tower i.
func (m *DeltaCoordMap) Tower(i int) (float64, float64) {
	return m.towers[i][0], m.towers[i][1]
}

// HomeHeight returns the carriage homing Z, mm.
func (m *DeltaCoordMap) HomeHeight() float64 { return m.homeHeight }

// Transform applies the bed-level correction to a Cartesian position.
func (m *DeltaCoordMap) Transform(x, y, z float64) (float64, float64, float64) {
	return m.bedLevel.Apply(x, y, z)
}

// CheckEnvelope rejects positions outside the build radius.
func (m *DeltaCoordMap) CheckEnvelope(x, y, z float64) error {
	if x*x+y*y > m.buildRadius*m.buildRadius {
		return errors.OutOfEnvelope(x, y, z)
	}
	return nil
}

// CarriageHeight returns the carriage Z of tower i for the bed-leveled
// position (xp, yp, zp). A negative radicand means the rods cannot
// reach the position.
func (m *DeltaCoordMap) CarriageHeight(i int, xp, yp, zp float64) (float64, error) {
	dx := xp - m.towers[i][0]
	dy := yp - m.towers[i][1]
	radicand := m.arm2 - dx*dx - dy*dy
	if radicand < 0 {
		return 0, errors.OutOfEnvelope(xp, yp, zp)
	}
	return zp + math.Sqrt(radicand), nil
}

// CarriageHeights returns all three carriage heights for a Cartesian
// position, applying the bed-level correction and envelope check.
func (m *DeltaCoordMap) CarriageHeights(x, y, z float64) ([3]float64, error) {
	var h [3]float64
	if err := m.CheckEnvelope(x, y, z); err != nil {
		return h, err
	}
	xp, yp, zp := m.Transform(x, y, z)
	for i := 0; i < 3; i++ {
		hi, err := m.CarriageHeight(i, xp, yp, zp)
		if err != nil {
			return h, err
		}
		h[i] = hi
	}
	return h, nil
}

// StepPositions returns the rounded step counts of all four axes for a
// Cartesian+extruder position.
func (m *DeltaCoordMap) StepPositions(x, y, z, e float64) ([config.NumAxes]int64, error) {
	var steps [config.NumAxes]int64
	h, err := m.CarriageHeights(x, y, z)
	if err != nil {
		return steps, err
	}
	for i := 0; i < 3; i++ {
		steps[i] = int64(math.Round(h[i] * m.stepsPerMM[i]))
	}
	steps[config.AxisE] = int64(math.Round(e * m.stepsPerMM[config.AxisE]))
	return steps, nil
}

// CartesianFromCarriages inverts the tower transform: the effector sits
// at the lower intersection of the three spheres centered at the rod
// tops. Used to recover the end-effector position after homing.
func (m *DeltaCoordMap) CartesianFromCarriages(h [3]float64) (float64, float64, float64) {
	s1 := [3]float64{m.towers[0][0], m.towers[0][1], h[0]}
	s2 := [3]float64{m.towers[1][0], m.towers[1][1], h[1]}
	s3 := [3]float64{m.towers[2][0], m.towers[2][1], h[2]}

	s21 := sub(s2, s1)
	s31 := sub(s3, s1)

	d := math.Sqrt(dot(s21, s21))
	ex := scale(s21, 1/d)
	i := dot(ex, s31)
	ey := sub(s31, scale(ex, i))
	ey = scale(ey, 1/math.Sqrt(dot(ey, ey)))
	ez := cross(ex, ey)
	j := dot(ey, s31)

	x := (d * d) / (2 * d)
	y := (-x*x + (x-i)*(x-i) + j*j) / (2 * j)
	z := -math.Sqrt(m.arm2 - x*x - y*y)

	return s1[0] + ex[0]*x + ey[0]*y + ez[0]*z,
		s1[1] + ex[1]*x + ey[1]*y + ez[1]*z,
		s1[2] + ex[2]*x + ey[2]*y + ez[2]*z
}

// HomePosition returns the effector position with all carriages at the
// homing height.
func (m *DeltaCoordMap) HomePosition() (float64, float64, float64) {
	return m.CartesianFromCarriages([3]float64{m.homeHeight, m.homeHeight, m.homeHeight})
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
