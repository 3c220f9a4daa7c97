// DMA controller register access and the control block layout.
//
// Register and flag layout follows the BCM2835 peripheral manual
// (pg 38ff); only CS, CONBLK_AD, and DEBUG of a channel, plus the
// channel's bit in the global ENABLE register, are written directly; all
// other transfer state lives in control blocks chained through RAM.
package bcm

import "time"

// Per-channel register word indexes. Channels are spaced 0x100 apart.
const (
	dmaCS       = 0x00 / 4
	dmaConblkAd = 0x04 / 4
	dmaSourceAd = 0x0C / 4
	dmaDebug    = 0x20 / 4

	dmaChannelStride = 0x100 / 4
	dmaEnableReg     = 0xFF0 / 4
)

// CS flags.
const (
	DmaCsActive = 1 << 0
	DmaCsEnd    = 1 << 1
	DmaCsReset  = 1 << 31
)

// DEBUG error flags; any of these indicates a bus fault.
const (
	DmaDebugReadLastNotSet = 1 << 0
	DmaDebugFifoError      = 1 << 1
	DmaDebugReadError      = 1 << 2

	DmaDebugErrorMask = DmaDebugReadLastNotSet | DmaDebugFifoError | DmaDebugReadError
)

// Control block TI flags.
const (
	DmaTiDestInc      = 1 << 4
	DmaTiDestDreq     = 1 << 6
	DmaTiSrcInc       = 1 << 8
	DmaTiNoWideBursts = 1 << 26
)

// DmaTiPermapPWM routes the PWM peripheral's DREQ into the transfer.
const DmaTiPermapPWM = 5 << 16

// ControlBlock mirrors the 256-bit-aligned DMA control block layout.
// SOURCE_AD, DEST_AD and NEXTCONBK hold bus addresses.
type ControlBlock struct {
	TI        uint32
	SourceAd  uint32
	DestAd    uint32
	TxfrLen   uint32
	Stride    uint32
	NextConbk uint32
	_         [2]uint32
}

// ControlBlockBytes is the size of one control block in RAM.
const ControlBlockBytes = 32

// DmaChannel wraps the register set of one DMA channel.
type DmaChannel struct {
	p   *Peripherals
	idx int
}

// Channel returns a handle on DMA channel idx and enables it in the
// global enable register.
func (p *Peripherals) Channel(idx int) *DmaChannel {
	p.mu.Lock()
	p.dma[dmaEnableReg] |= 1 << uint(idx)
	p.mu.Unlock()
	return &DmaChannel{p: p, idx: idx}
}

func (ch *DmaChannel) reg(word int) *uint32 {
	return &ch.p.dma[ch.idx*dmaChannelStride+word]
}

// Reset stops the channel and clears its state.
func (ch *DmaChannel) Reset() {
	*ch.reg(dmaCS) = DmaCsReset
	time.Sleep(100 * time.Microsecond)
}

// ClearDebug clears the DEBUG error flags.
func (ch *DmaChannel) ClearDebug() {
	*ch.reg(dmaDebug) = DmaDebugErrorMask
}

// DebugErrors returns the currently latched DEBUG error flags.
func (ch *DmaChannel) DebugErrors() uint32 {
	return *ch.reg(dmaDebug) & DmaDebugErrorMask
}

// Start points the channel at the first control block (bus address)
// and activates it.
func (ch *DmaChannel) Start(firstBlockBus uint32) {
	*ch.reg(dmaConblkAd) = firstBlockBus
	*ch.reg(dmaCS) = DmaCsActive
}

// Active reports whether the channel is running.
func (ch *DmaChannel) Active() bool {
	return *ch.reg(dmaCS)&DmaCsActive != 0
}

// SourceAd returns the bus address the channel is currently reading
// from. The ring logic uses this as the hardware read cursor.
func (ch *DmaChannel) SourceAd() uint32 {
	return *ch.reg(dmaSourceAd)
}
