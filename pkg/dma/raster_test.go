package dma

import (
	"testing"

	"github.com/js-god/printipi/pkg/errors"
)

func newTestRaster(frames int, period int, base uint64) *Raster {
	// Two pages to exercise cross-page indexing.
	half := frames / 2
	pages := [][]Frame{make([]Frame, half), make([]Frame, frames-half)}
	r := NewRaster(pages, period, base)
	r.ZeroAll()
	return r
}

func TestFrameIndexing(t *testing.T) {
	r := newTestRaster(256, 1, 1000)

	if r.FrameCount() != 256 {
		t.Fatalf("frame count %d", r.FrameCount())
	}
	tests := []struct {
		t    uint64
		want int
	}{
		{1000, 0},
		{1001, 1},
		{1255, 255},
		{1256, 0}, // wraps
		{1300, 44},
	}
	for _, tt := range tests {
		if got := r.FrameIndex(tt.t); got != tt.want {
			t.Errorf("FrameIndex(%d) = %d, want %d", tt.t, got, tt.want)
		}
	}
}

func TestAddEdgeSetsBits(t *testing.T) {
	r := newTestRaster(256, 1, 0)

	if err := r.AddEdge(10, 25, true); err != nil {
		t.Fatal(err)
	}
	if err := r.AddEdge(12, 25, false); err != nil {
		t.Fatal(err)
	}

	set := r.FrameAt(10)
	if set.Set != 1<<25 || set.Clr != 0 {
		t.Errorf("rising frame = %+v", set)
	}
	clr := r.FrameAt(12)
	if clr.Clr != 1<<25 || clr.Set != 0 {
		t.Errorf("falling frame = %+v", clr)
	}
}

func TestCoincidentEdgesShareFrame(t *testing.T) {
	r := newTestRaster(256, 1, 0)

	// Two pins transition at the same deadline: both land in the same
	// frame and the hardware applies them simultaneously.
	if err := r.AddEdge(50, 11, true); err != nil {
		t.Fatal(err)
	}
	if err := r.AddEdge(50, 8, false); err != nil {
		t.Fatal(err)
	}

	f := r.FrameAt(50)
	if f.Set != 1<<11 || f.Clr != 1<<8 {
		t.Errorf("coincident frame = %+v", f)
	}
}

func TestLateEdgeIsRejected(t *testing.T) {
	r := newTestRaster(256, 1, 0)

	if err := r.AddEdge(100, 25, true); err != nil {
		t.Fatal(err)
	}
	err := r.AddEdge(99, 25, false)
	if !errors.Is(err, errors.ErrDmaUnderrun) {
		t.Errorf("late edge error = %v, want DMA_UNDERRUN", err)
	}
}

func TestLapReuseZeroesFrames(t *testing.T) {
	r := newTestRaster(64, 1, 0)

	// First lap: an edge in frame 5.
	if err := r.AddEdge(5, 25, true); err != nil {
		t.Fatal(err)
	}
	// Second lap: the cursor passes frame 5 again; the stale edge must
	// be gone once the frame is reopened.
	if err := r.AddEdge(64+7, 8, true); err != nil {
		t.Fatal(err)
	}
	if f := r.FrameAt(64 + 5); f.Set != 0 || f.Clr != 0 {
		t.Errorf("reused frame not zeroed: %+v", f)
	}
	if f := r.FrameAt(64 + 7); f.Set != 1<<8 {
		t.Errorf("second lap frame = %+v", f)
	}
}

func TestFrameQuantization(t *testing.T) {
	r := newTestRaster(256, 10, 0)

	// Edges within the same 10 us frame period share a frame.
	if err := r.AddEdge(103, 25, true); err != nil {
		t.Fatal(err)
	}
	if err := r.AddEdge(109, 8, true); err != nil {
		t.Fatal(err)
	}
	f := r.FrameAt(100)
	if f.Set != 1<<25|1<<8 {
		t.Errorf("quantized frame = %+v", f)
	}
	if r.Cursor() != 100 {
		t.Errorf("cursor %d, want 100", r.Cursor())
	}
}

func TestWindow(t *testing.T) {
	r := newTestRaster(128, 2, 0)
	if got := r.Window(); got != 127*2 {
		t.Errorf("window %d, want %d", got, 127*2)
	}
}
