// PWM pacer configuration. The PWM peripheral is not used to generate
// output here; its FIFO consumption rate, advertised on the DREQ line,
// clocks the DMA GPIO ring at the frame rate.
package bcm

import "time"

// PWM register word indexes.
const (
	pwmCTL  = 0x00 / 4
	pwmSTA  = 0x04 / 4
	pwmDMAC = 0x08 / 4
	pwmRNG1 = 0x10 / 4
	pwmFIF1 = 0x18 / 4
)

// PwmFifoBusAddr is the bus address of the PWM FIFO register.
const PwmFifoBusAddr = BusBase + pwmOffset + 0x18

const (
	pwmCtlPwen1 = 1 << 0
	pwmCtlUsef1 = 1 << 5
	pwmCtlClrf1 = 1 << 6

	pwmDmacEnab = 1 << 31
)

// Clock manager registers for the PWM clock.
const (
	cmPWMCTL = 0xA0 / 4
	cmPWMDIV = 0xA4 / 4

	cmPasswd  = 0x5A000000
	cmEnab    = 1 << 4
	cmKill    = 1 << 5
	cmBusy    = 1 << 7
	cmSrcPLLD = 6 // 500 MHz
)

// pllDFreqMHz is the PLLD source frequency fed to the PWM clock.
const pllDFreqMHz = 500

// ConfigurePacer programs the PWM peripheral to pulse DREQ once per
// framePeriodMicros. The PWM clock runs at 100 MHz from PLLD; the
// range register stretches each FIFO word over one frame period.
func (p *Peripherals) ConfigurePacer(framePeriodMicros int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Stop PWM and its clock before reprogramming.
	p.pwm[pwmCTL] = 0
	p.clk[cmPWMCTL] = cmPasswd | cmKill
	for p.clk[cmPWMCTL]&cmBusy != 0 {
		time.Sleep(time.Microsecond)
	}

	// 500 MHz / 5 = 100 MHz PWM clock.
	const divi = 5
	p.clk[cmPWMDIV] = cmPasswd | divi<<12
	p.clk[cmPWMCTL] = cmPasswd | cmEnab | cmSrcPLLD
	for p.clk[cmPWMCTL]&cmBusy == 0 {
		time.Sleep(time.Microsecond)
	}

	ticksPerFrame := uint32(pllDFreqMHz / divi * framePeriodMicros)
	p.pwm[pwmRNG1] = ticksPerFrame

	// DREQ/PANIC thresholds: request another word as soon as the FIFO
	// has room, panic priority when nearly empty.
	p.pwm[pwmDMAC] = pwmDmacEnab | 7<<8 | 7

	// FIFO mode so that consumption is gated by RNG1.
	p.pwm[pwmCTL] = pwmCtlClrf1
	time.Sleep(time.Microsecond)
	p.pwm[pwmCTL] = pwmCtlUsef1 | pwmCtlPwen1
}

// StopPacer disables the PWM pacer.
func (p *Peripherals) StopPacer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pwm[pwmCTL] = 0
	p.clk[cmPWMCTL] = cmPasswd | cmKill
}
