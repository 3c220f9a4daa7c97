// DMA channel bring-up: the control block ring, pacing, teardown, and
// bus-fault recovery. Each page of control blocks pairs with a page of
// source frames; the last block's NEXTCONBK closes the ring.
package dma

import (
	"time"
	"unsafe"

	"github.com/js-god/printipi/pkg/bcm"
	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/errors"
	"github.com/js-god/printipi/pkg/log"
)

// frameBytes is the size of one {GPSET0, GPCLR0} source frame.
const frameBytes = 8

// Engine owns the DMA channel and the page-locked ring memory.
type Engine struct {
	periph *bcm.Peripherals
	ch     *bcm.DmaChannel
	log    *log.Logger

	framePages []*bcm.PhysPage
	cbPages    []*bcm.PhysPage

	raster      *Raster
	framePeriod int
	pairs       int
}

// NewEngine allocates the ring memory for the configured frame count
// and builds the control blocks. The ring is not started yet.
func NewEngine(periph *bcm.Peripherals, cfg config.SchedulerConfig) (*Engine, error) {
	pairs := (cfg.RingFrames + FramesPerPage - 1) / FramesPerPage
	if pairs < 1 {
		pairs = 1
	}

	e := &Engine{
		periph:      periph,
		ch:          periph.Channel(cfg.DmaChannel),
		log:         log.GetLogger("dma"),
		framePeriod: cfg.FramePeriodMicros,
		pairs:       pairs,
	}

	for i := 0; i < pairs; i++ {
		fp, err := bcm.AllocPhysPage()
		if err != nil {
			e.freePages()
			return nil, err
		}
		e.framePages = append(e.framePages, fp)
		cp, err := bcm.AllocPhysPage()
		if err != nil {
			e.freePages()
			return nil, err
		}
		e.cbPages = append(e.cbPages, cp)
	}

	e.buildControlBlocks()
	e.log.Info("ring: %d frames over %d page pairs, %d us/frame",
		pairs*FramesPerPage, pairs, e.framePeriod)
	return e, nil
}

// buildControlBlocks fills every control block page: block k copies
// frame k's 8 bytes to GPSET0/GPCLR0, gated by the PWM DREQ.
func (e *Engine) buildControlBlocks() {
	for pg := 0; pg < e.pairs; pg++ {
		cbs := unsafe.Slice((*bcm.ControlBlock)(unsafe.Pointer(&e.cbPages[pg].Bytes()[0])), FramesPerPage)
		for i := 0; i < FramesPerPage; i++ {
			nextPg, nextIdx := pg, i+1
			if nextIdx == FramesPerPage {
				nextPg, nextIdx = (pg+1)%e.pairs, 0
			}
			cbs[i] = bcm.ControlBlock{
				TI:        bcm.DmaTiSrcInc | bcm.DmaTiDestDreq | bcm.DmaTiPermapPWM | bcm.DmaTiNoWideBursts,
				SourceAd:  e.framePages[pg].BusAddr(i * frameBytes),
				DestAd:    bcm.GpsetBusAddr,
				TxfrLen:   frameBytes,
				NextConbk: e.cbPages[nextPg].BusAddr(nextIdx * bcm.ControlBlockBytes),
			}
		}
	}
}

// framePageViews exposes the frame pages as Frame slices.
func (e *Engine) framePageViews() [][]Frame {
	views := make([][]Frame, 0, e.pairs)
	for _, fp := range e.framePages {
		views = append(views,
			unsafe.Slice((*Frame)(unsafe.Pointer(&fp.Bytes()[0])), FramesPerPage))
	}
	return views
}

// Start configures the pacer, zeroes the ring, and activates the
// channel. baseMicros anchors frame 0 on the system timer.
func (e *Engine) Start(baseMicros uint64) *Raster {
	e.raster = NewRaster(e.framePageViews(), e.framePeriod, baseMicros)
	e.raster.ZeroAll()

	e.periph.ConfigurePacer(e.framePeriod)
	e.ch.Reset()
	e.ch.ClearDebug()
	e.ch.Start(e.cbPages[0].BusAddr(0))
	return e.raster
}

// Raster returns the active raster.
func (e *Engine) Raster() *Raster { return e.raster }

// ReadFrameIndex locates the frame the channel is currently sourcing.
func (e *Engine) ReadFrameIndex() int {
	src := e.ch.SourceAd()
	for pg, fp := range e.framePages {
		base := fp.BusAddr(0)
		if src >= base && src < base+FramesPerPage*frameBytes {
			return pg*FramesPerPage + int(src-base)/frameBytes
		}
	}
	return 0
}

// ReadCursorMicros resolves the hardware read cursor to an absolute
// time: the lap is chosen as the nearest frame time at or below the
// raster's write cursor (the hardware always trails the writer).
func (e *Engine) ReadCursorMicros() uint64 {
	idx := e.ReadFrameIndex()
	r := e.raster

	t := r.FrameTime(r.Cursor())
	cursorIdx := r.FrameIndex(t)
	diff := (cursorIdx - idx + r.FrameCount()) % r.FrameCount()
	back := uint64(diff) * r.FramePeriod()
	if back > t {
		return 0
	}
	return t - back
}

// CheckFault inspects the DEBUG register; a latched read or FIFO error
// surfaces as a BUS_FAULT.
func (e *Engine) CheckFault() error {
	if flags := e.ch.DebugErrors(); flags != 0 {
		return errors.BusFault(flags)
	}
	return nil
}

// Rebuild recovers from a bus fault: reset the channel and restart the
// ring from the given deadline.
func (e *Engine) Rebuild(baseMicros uint64) *Raster {
	e.log.Warn("rebuilding DMA ring after bus fault")
	e.ch.Reset()
	e.ch.ClearDebug()
	e.buildControlBlocks()
	return e.Start(baseMicros)
}

// Stop writes zero frames for one full ring period so any queued
// transitions flush as no-ops, then halts the channel and releases the
// ring memory.
func (e *Engine) Stop() {
	if e.raster != nil {
		e.raster.ZeroAll()
		time.Sleep(time.Duration(uint64(e.raster.FrameCount())*e.raster.FramePeriod()) * time.Microsecond)
	}
	e.ch.Reset()
	e.periph.StopPacer()
	e.freePages()
}

func (e *Engine) freePages() {
	for _, p := range e.framePages {
		p.Free()
	}
	for _, p := range e.cbPages {
		p.Free()
	}
	e.framePages, e.cbPages = nil, nil
}
