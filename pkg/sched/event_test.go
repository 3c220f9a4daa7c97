package sched

import (
	"container/heap"
	"testing"
)

func popAll(h *eventHeap) []*Event {
	var out []*Event
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(*Event))
	}
	return out
}

func TestHeapDeadlineOrder(t *testing.T) {
	var h eventHeap
	seq := uint64(0)
	push := func(kind EventKind, deadline uint64) {
		seq++
		heap.Push(&h, &Event{Kind: kind, Deadline: deadline, seq: seq})
	}

	push(KindPulseStart, 3000)
	push(KindPulseStart, 1000)
	push(KindPulseStart, 2000)

	got := popAll(&h)
	for i, want := range []uint64{1000, 2000, 3000} {
		if got[i].Deadline != want {
			t.Errorf("pop %d deadline %d, want %d", i, got[i].Deadline, want)
		}
	}
}

func TestHeapTieBreakByKind(t *testing.T) {
	// Same deadline: endstop > pulse-end > pulse-start > pwm > therm >
	// control, so a pulse is never stranded open.
	var h eventHeap
	seq := uint64(0)
	push := func(kind EventKind) {
		seq++
		heap.Push(&h, &Event{Kind: kind, Deadline: 1000, seq: seq})
	}

	push(KindTempControl)
	push(KindPulseStart)
	push(KindThermSample)
	push(KindEndstopPoll)
	push(KindPwmEdge)
	push(KindPulseEnd)

	want := []EventKind{
		KindEndstopPoll,
		KindPulseEnd,
		KindPulseStart,
		KindPwmEdge,
		KindThermSample,
		KindTempControl,
	}
	got := popAll(&h)
	for i, kind := range want {
		if got[i].Kind != kind {
			t.Errorf("pop %d kind %v, want %v", i, got[i].Kind, kind)
		}
	}
}

func TestHeapScenarioOrdering(t *testing.T) {
	// A pulse start and an endstop poll at t=1000: the poll fires
	// first; a pulse end at t=1002 beats any later event.
	var h eventHeap
	heap.Push(&h, &Event{Kind: KindPulseStart, Deadline: 1000, seq: 1})
	heap.Push(&h, &Event{Kind: KindEndstopPoll, Deadline: 1000, seq: 2})
	heap.Push(&h, &Event{Kind: KindThermSample, Deadline: 1500, seq: 3})
	heap.Push(&h, &Event{Kind: KindPulseEnd, Deadline: 1002, seq: 4})

	got := popAll(&h)
	wantKinds := []EventKind{KindEndstopPoll, KindPulseStart, KindPulseEnd, KindThermSample}
	for i, kind := range wantKinds {
		if got[i].Kind != kind {
			t.Errorf("pop %d = %v, want %v", i, got[i].Kind, kind)
		}
	}
}

func TestHeapStableWithinFullTie(t *testing.T) {
	var h eventHeap
	for i := uint64(1); i <= 5; i++ {
		heap.Push(&h, &Event{Kind: KindPwmEdge, Deadline: 100, Channel: int(i), seq: i})
	}
	got := popAll(&h)
	for i, ev := range got {
		if ev.Channel != i+1 {
			t.Errorf("pop %d channel %d, want %d", i, ev.Channel, i+1)
		}
	}
}
