// Package bcm provides memory-mapped access to the BCM283x peripherals
// used by the motion core: GPIO, the 1 MHz system timer, the PWM pacer,
// the clock manager, and the DMA controller. The peripheral pages are
// opened once, mapped once, and shared; writes go through component
// wrappers that own disjoint register subsets.
package bcm

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/js-god/printipi/pkg/errors"
	"github.com/js-god/printipi/pkg/log"
)

// PageSize is the granularity of peripheral mappings and DMA pages.
const PageSize = 4096

// Peripheral offsets from the SoC peripheral base.
const (
	timerOffset = 0x003000
	dmaOffset   = 0x007000
	clkOffset   = 0x101000
	gpioOffset  = 0x200000
	pwmOffset   = 0x20C000
)

// BusBase is the bus address of the peripheral window as seen by the
// DMA engine. Control block DEST_AD values must use bus addresses.
const BusBase = 0x7E000000

// pi1PeripheralBase is the physical peripheral base on the original
// Raspberry Pi; newer boards report theirs in the device tree.
const pi1PeripheralBase = 0x20000000

var logger = log.GetLogger("bcm")

// Peripherals owns the mapped peripheral pages.
type Peripherals struct {
	mu sync.Mutex

	gpio  []uint32
	timer []uint32
	dma   []uint32
	pwm   []uint32
	clk   []uint32

	raw [][]byte // underlying mappings, for munmap
}

// Open maps the peripheral pages from /dev/mem. It requires root.
func Open() (*Peripherals, error) {
	base := peripheralBase()
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.PeripheralMap("/dev/mem", err)
	}
	defer unix.Close(fd)

	p := &Peripherals{}
	for _, m := range []struct {
		name   string
		offset int64
		length int
		dst    *[]uint32
	}{
		{"gpio", gpioOffset, PageSize, &p.gpio},
		{"timer", timerOffset, PageSize, &p.timer},
		{"dma", dmaOffset, PageSize, &p.dma},
		{"pwm", pwmOffset, PageSize, &p.pwm},
		{"clk", clkOffset, PageSize, &p.clk},
	} {
		mem, err := unix.Mmap(fd, base+m.offset, m.length,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			p.Close()
			return nil, errors.PeripheralMap(m.name, err)
		}
		p.raw = append(p.raw, mem)
		*m.dst = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), m.length/4)
	}
	logger.Info("peripherals mapped at 0x%x", base)
	return p, nil
}

// Close unmaps all peripheral pages.
func (p *Peripherals) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, mem := range p.raw {
		if err := unix.Munmap(mem); err != nil && first == nil {
			first = err
		}
	}
	p.raw = nil
	p.gpio, p.timer, p.dma, p.pwm, p.clk = nil, nil, nil, nil, nil
	return first
}

// peripheralBase reads /proc/device-tree/soc/ranges to determine the
// physical peripheral base, falling back to the Pi 1 address.
func peripheralBase() int64 {
	f, err := os.Open("/proc/device-tree/soc/ranges")
	if err != nil {
		return pi1PeripheralBase
	}
	defer f.Close()
	b := make([]byte, 4)
	if n, err := f.ReadAt(b, 4); n != 4 || err != nil {
		return pi1PeripheralBase
	}
	var out uint32
	if err := binary.Read(bytes.NewReader(b), binary.BigEndian, &out); err != nil || out == 0 {
		return pi1PeripheralBase
	}
	return int64(out)
}
