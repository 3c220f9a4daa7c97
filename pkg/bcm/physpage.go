// Page-locked DMA memory. The DMA engine addresses physical RAM, so
// ring pages are allocated, forced resident, locked, and translated
// through the kernel's pagemap.
package bcm

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/js-god/printipi/pkg/errors"
)

// busRAMUncached is OR'd into physical RAM addresses to form the
// uncached bus alias the DMA engine reads through.
const busRAMUncached = 0xC0000000

const pagemapEntryBytes = 8

// PhysPage is one page of RAM with a known, locked physical address.
type PhysPage struct {
	mem  []byte
	phys uint64
}

// AllocPhysPage allocates one page, forces it into RAM, locks it, and
// resolves its physical address from /proc/self/pagemap.
func AllocPhysPage() (*PhysPage, error) {
	mem, err := unix.Mmap(-1, 0, PageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS|unix.MAP_LOCKED)
	if err != nil {
		return nil, errors.PeripheralMap("dma page", err)
	}

	// Touch the page so a physical frame is assigned, then pin it.
	mem[0] = 1
	if err := unix.Mlock(mem); err != nil {
		unix.Munmap(mem)
		return nil, errors.PeripheralMap("dma page mlock", err)
	}
	mem[0] = 0

	phys, err := physAddrOf(uintptr(unsafe.Pointer(&mem[0])))
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return &PhysPage{mem: mem, phys: phys}, nil
}

// Bytes returns the virtual view of the page.
func (p *PhysPage) Bytes() []byte {
	return p.mem
}

// Words returns the page as 32-bit words.
func (p *PhysPage) Words() []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&p.mem[0])), PageSize/4)
}

// PhysAddr returns the physical address of the page.
func (p *PhysPage) PhysAddr() uint64 {
	return p.phys
}

// BusAddr returns the uncached bus alias of an offset into the page,
// suitable for DMA control block SOURCE_AD/NEXTCONBK fields.
func (p *PhysPage) BusAddr(offset int) uint32 {
	return (uint32(p.phys) + uint32(offset)) | busRAMUncached
}

// Free unlocks and unmaps the page.
func (p *PhysPage) Free() {
	if p.mem != nil {
		unix.Munlock(p.mem)
		unix.Munmap(p.mem)
		p.mem = nil
	}
}

// physAddrOf reads the page frame number for a virtual address from
// the kernel pagemap.
func physAddrOf(virt uintptr) (uint64, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return 0, errors.PeripheralMap("pagemap", err)
	}
	defer f.Close()

	entry := make([]byte, pagemapEntryBytes)
	off := int64(virt/PageSize) * pagemapEntryBytes
	if _, err := f.ReadAt(entry, off); err != nil {
		return 0, errors.PeripheralMap("pagemap read", err)
	}

	val := uint64(0)
	for i := pagemapEntryBytes - 1; i >= 0; i-- {
		val = val<<8 | uint64(entry[i])
	}
	if val&(1<<63) == 0 {
		return 0, errors.New(errors.ErrPeripheralMap, "dma page not present in RAM")
	}
	pfn := val & ((1 << 55) - 1)
	return pfn * PageSize, nil
}
