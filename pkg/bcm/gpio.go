// GPIO register access and the board-header to BCM line mapping.
package bcm

import "time"

// GPIO register word indexes within the mapped page.
const (
	gpfsel0   = 0x00 / 4 // function select, 6 registers, 10 pins each
	gpset0    = 0x1C / 4 // output set
	gpclr0    = 0x28 / 4 // output clear
	gplev0    = 0x34 / 4 // pin level
	gppud     = 0x94 / 4 // pull-up/down control
	gppudclk0 = 0x98 / 4
)

// GpsetBusAddr is the bus address of GPSET0, the destination of the
// DMA GPIO ring's 8-byte {GPSET0, GPCLR0} writes.
const GpsetBusAddr = BusBase + gpioOffset + 0x1C

// PinMode selects the function of a GPIO line.
type PinMode uint32

const (
	ModeInput  PinMode = 0
	ModeOutput PinMode = 1
)

// Pull selects the input pull resistor.
type Pull uint32

const (
	PullNone Pull = 0
	PullDown Pull = 1
	PullUp   Pull = 2
)

// SetPinMode configures the function of one BCM GPIO line.
func (p *Peripherals) SetPinMode(bcmPin int, mode PinMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg := gpfsel0 + bcmPin/10
	shift := uint((bcmPin % 10) * 3)
	cur := p.gpio[reg]
	p.gpio[reg] = (cur &^ (0x7 << shift)) | (uint32(mode) << shift)
}

// SetPull configures the pull resistor of one BCM GPIO line. The
// PUD/PUDCLK sequence needs short settle delays to clock in.
func (p *Peripherals) SetPull(bcmPin int, pull Pull) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clkReg := gppudclk0 + bcmPin/32
	shift := uint(bcmPin % 32)

	p.gpio[gppud] = uint32(pull)
	time.Sleep(time.Microsecond)
	p.gpio[clkReg] = 1 << shift
	time.Sleep(time.Microsecond)
	p.gpio[gppud] = 0
	p.gpio[clkReg] = 0
}

// WritePin drives one output line high or low via GPSET/GPCLR.
func (p *Peripherals) WritePin(bcmPin int, high bool) {
	reg := gpset0
	if !high {
		reg = gpclr0
	}
	p.gpio[reg+bcmPin/32] = 1 << uint(bcmPin%32)
}

// ReadPin samples the level of one line.
func (p *Peripherals) ReadPin(bcmPin int) bool {
	return p.gpio[gplev0+bcmPin/32]&(1<<uint(bcmPin%32)) != 0
}

// boardToBCM maps P1-header pin numbers (rev 2 board) to BCM GPIO
// lines. The reference machine's configuration uses header numbering.
var boardToBCM = map[int]int{
	3:  2,
	5:  3,
	7:  4,
	8:  14,
	10: 15,
	11: 17,
	12: 18,
	13: 27,
	15: 22,
	16: 23,
	18: 24,
	19: 10,
	21: 9,
	22: 25,
	23: 11,
	24: 8,
	26: 7,
}

// BoardToBCM translates a P1-header pin number to its BCM GPIO line.
// Returns -1 for header pins with no GPIO function (power, ground).
func BoardToBCM(headerPin int) int {
	if bcm, ok := boardToBCM[headerPin]; ok {
		return bcm
	}
	return -1
}
