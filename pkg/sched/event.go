// Package sched is the deadline-driven event engine: a single-threaded
// loop over a min-heap of tagged events that interleaves step pulses,
// thermistor sampling, endstop polling, and PWM transitions, emitting
// GPIO transitions either directly (busy-wait to deadline) or through
// the DMA GPIO ring.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sched

import (
	"container/heap"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/iopin"
)

// EventKind tags a scheduler event. Declaration order is the tie-break
// priority for events sharing a deadline: an endstop observation beats
// closing a pulse, which beats opening one, so a pulse is never
// stranded open.
type EventKind int

const (
	KindEndstopPoll EventKind = iota
	KindPulseEnd
	KindPulseStart
	KindPwmEdge
	KindThermSample
	KindTempControl
	KindNoOp
)

func (k EventKind) String() string {
	switch k {
	case KindEndstopPoll:
		return "endstop-poll"
	case KindPulseEnd:
		return "pulse-end"
	case KindPulseStart:
		return "pulse-start"
	case KindPwmEdge:
		return "pwm-edge"
	case KindThermSample:
		return "therm-sample"
	case KindTempControl:
		return "temp-control"
	case KindNoOp:
		return "no-op"
	default:
		return "unknown"
	}
}

// Event is one deadline-tagged work item.
type Event struct {
	Kind     EventKind
	Deadline uint64 // absolute us on the system timer

	// Pin and Level for GPIO transitions.
	Pin   *iopin.Pin
	Level iopin.Level

	// Axis for step pulses (direction handling and homing cancel).
	Axis config.Axis

	// Source indexes the step source to pull after a pulse start;
	// -1 for events without a producer.
	Source int

	// Channel identifies the PWM generator for KindPwmEdge ticks.
	Channel int

	seq uint64 // FIFO order among full ties
}

// eventHeap orders by deadline, then kind priority, then insertion.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	if h[i].Kind != h[j].Kind {
		return h[i].Kind < h[j].Kind
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*Event))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

var _ heap.Interface = (*eventHeap)(nil)
