package synth

import (
	"encoding/binary"
	"fmt"

	"gomemflow/memory"
)

const (
	pagePresent  = 1 << 0
	pageWritable = 1 << 1
	pageUser     = 1 << 2
	pageLarge    = 1 << 7

	pageSize  = 0x1000
	largeSize = 0x200000
	addrMask  = 0x000FFFFFFFFFF000
)

// physical is a bump allocated physical image.
type physical struct {
	data []byte
	next uint64
}

func (p *physical) frame() (uint64, error) {
	if p.next+pageSize > uint64(len(p.data)) {
		return 0, fmt.Errorf("synthetic image of %d bytes is full: %w", len(p.data), memory.ErrOutOfBounds)
	}
	pa := p.next
	p.next += pageSize
	return pa, nil
}

// frames returns n physically contiguous frames.
func (p *physical) frames(n int) (uint64, error) {
	first, err := p.frame()
	if err != nil {
		return 0, err
	}
	for i := 1; i < n; i++ {
		if _, err := p.frame(); err != nil {
			return 0, err
		}
	}
	return first, nil
}

func (p *physical) put64(pa, v uint64) {
	binary.LittleEndian.PutUint64(p.data[pa:], v)
}

func (p *physical) get64(pa uint64) uint64 {
	return binary.LittleEndian.Uint64(p.data[pa:])
}

// pageTables is one x86-64 4-level hierarchy inside the image.
type pageTables struct {
	mem  *physical
	pml4 uint64
}

func newPageTables(mem *physical) (*pageTables, error) {
	root, err := mem.frame()
	if err != nil {
		return nil, err
	}
	return &pageTables{mem: mem, pml4: root}, nil
}

// table returns the next level table behind entry slot, creating it.
func (pt *pageTables) table(slot uint64, flags uint64) (uint64, error) {
	e := pt.mem.get64(slot)
	if e&pagePresent != 0 {
		return e & addrMask, nil
	}
	t, err := pt.mem.frame()
	if err != nil {
		return 0, err
	}
	pt.mem.put64(slot, t|pagePresent|pageWritable|flags)
	return t, nil
}

func index(va uint64, shift uint) uint64 {
	return (va >> shift) & 0x1FF
}

// map4K maps the 4K page at va to pa.
func (pt *pageTables) map4K(va, pa, flags uint64) error {
	pdpt, err := pt.table(pt.pml4+index(va, 39)*8, flags)
	if err != nil {
		return err
	}
	pd, err := pt.table(pdpt+index(va, 30)*8, flags)
	if err != nil {
		return err
	}
	ptab, err := pt.table(pd+index(va, 21)*8, flags)
	if err != nil {
		return err
	}
	pt.mem.put64(ptab+index(va, 12)*8, pa&addrMask|pagePresent|pageWritable|flags)
	return nil
}

// map2M maps the 2M page at va to pa; both must be 2M aligned.
func (pt *pageTables) map2M(va, pa, flags uint64) error {
	if va%largeSize != 0 || pa%largeSize != 0 {
		return fmt.Errorf("2M mapping %#x -> %#x is misaligned: %w", va, pa, memory.ErrArgument)
	}
	pdpt, err := pt.table(pt.pml4+index(va, 39)*8, flags)
	if err != nil {
		return err
	}
	pd, err := pt.table(pdpt+index(va, 30)*8, flags)
	if err != nil {
		return err
	}
	pt.mem.put64(pd+index(va, 21)*8, pa|pagePresent|pageWritable|pageLarge|flags)
	return nil
}

// shareKernel copies the upper half PML4 entries of kernel into pt.
func (pt *pageTables) shareKernel(kernel *pageTables) {
	for i := uint64(256); i < 512; i++ {
		pt.mem.put64(pt.pml4+i*8, kernel.mem.get64(kernel.pml4+i*8))
	}
}
