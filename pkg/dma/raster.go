// Package dma implements the DMA GPIO engine: a closed ring of
// {GPSET0, GPCLR0} source frames copied into the GPIO registers by a
// DMA channel paced by the PWM peripheral's DREQ line, and the
// rasterization of scheduled pin transitions into those frames.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

import "github.com/js-god/printipi/pkg/errors"

// Frame is one ring entry: the words written to GPSET0 and GPCLR0.
type Frame struct {
	Set uint32
	Clr uint32
}

// FramesPerPage is how many frames pair with one page of control
// blocks (one control block per frame).
const FramesPerPage = 4096 / 32

// Raster maps deadline-tagged pin transitions onto ring frames. The
// write cursor advances monotonically; every frame between the old and
// new cursor is zeroed exactly once per lap before reuse, so a frame
// the hardware consumed never replays stale edges.
type Raster struct {
	pages       [][]Frame
	frameCount  int
	framePeriod uint64 // us between frames
	base        uint64 // time of frame index 0, first lap
	cursor      uint64 // next frame time not yet finalized
}

// NewRaster builds a raster over the given frame pages. base is the
// timer value corresponding to the first frame.
func NewRaster(pages [][]Frame, framePeriodMicros int, baseMicros uint64) *Raster {
	count := 0
	for _, pg := range pages {
		count += len(pg)
	}
	return &Raster{
		pages:       pages,
		frameCount:  count,
		framePeriod: uint64(framePeriodMicros),
		base:        baseMicros,
		cursor:      baseMicros,
	}
}

// FrameCount returns the ring size in frames.
func (r *Raster) FrameCount() int { return r.frameCount }

// FramePeriod returns the frame spacing in microseconds.
func (r *Raster) FramePeriod() uint64 { return r.framePeriod }

// Cursor returns the deadline corresponding to the next frame to be
// rewritten.
func (r *Raster) Cursor() uint64 { return r.cursor }

// Window is how far ahead of a consumed frame the raster may write
// before aliasing onto unconsumed frames.
func (r *Raster) Window() uint64 {
	return uint64(r.frameCount-1) * r.framePeriod
}

// FrameIndex maps an absolute time to its ring frame.
func (r *Raster) FrameIndex(t uint64) int {
	return int((t - r.base) / r.framePeriod % uint64(r.frameCount))
}

// FrameTime quantizes an absolute time to its frame's deadline.
func (r *Raster) FrameTime(t uint64) uint64 {
	return t - (t-r.base)%r.framePeriod
}

func (r *Raster) frame(idx int) *Frame {
	for _, pg := range r.pages {
		if idx < len(pg) {
			return &pg[idx]
		}
		idx -= len(pg)
	}
	return nil
}

// ZeroAll clears every frame.
func (r *Raster) ZeroAll() {
	for _, pg := range r.pages {
		for i := range pg {
			pg[i] = Frame{}
		}
	}
}

// AddEdge rasterizes one pin transition at absolute time t. Deadlines
// must arrive in non-decreasing order. The cursor frame is the open
// frame; each frame is zeroed once as the cursor reaches it on a new
// lap, so a consumed frame never replays stale edges. Transitions
// sharing a frame are OR'd together and execute simultaneously in
// hardware.
func (r *Raster) AddEdge(t uint64, bcmLine int, high bool) error {
	ft := r.FrameTime(t)
	if ft < r.cursor {
		return errors.DmaUnderrun(r.cursor, ft)
	}
	for r.cursor < ft {
		r.cursor += r.framePeriod
		*r.frame(r.FrameIndex(r.cursor)) = Frame{}
	}

	f := r.frame(r.FrameIndex(ft))
	if high {
		f.Set |= 1 << uint(bcmLine)
	} else {
		f.Clr |= 1 << uint(bcmLine)
	}
	return nil
}

// FrameAt returns a copy of the frame holding time t.
func (r *Raster) FrameAt(t uint64) Frame {
	return *r.frame(r.FrameIndex(t))
}
