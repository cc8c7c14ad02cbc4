package mmu

import (
	"gomemflow/arch"
	"gomemflow/memory"
)

const (
	x86Present = 1 << 0
	x86PS      = 1 << 7

	x64AddrMask = 0x000FFFFFFFFFF000
	x64Mask2M   = 0x000FFFFFFFE00000
	x64Mask1G   = 0x000FFFFFC0000000

	// bits that must be clear in large page entries (PAT sits in bit 12)
	x64Reserved2M = 0x00000000001FE000
	x64Reserved1G = 0x000000003FFFE000
)

// X64 walks x86-64 4-level page tables (PML4, PDPT, PD, PT).
type X64 struct{}

func (X64) Arch() arch.Ident { return arch.X86_64 }

func (X64) Walk(mem PhysReader, dtb memory.PhysicalAddress, va memory.Address) (Translation, error) {
	v := uint64(va)
	// bits 63:47 must all match
	if top := v >> 47; top != 0 && top != 0x1FFFF {
		return Translation{}, fault(va, 0, 0, "is not canonical")
	}

	table := uint64(dtb) & x64AddrMask
	for level, shift := range []uint{39, 30, 21, 12} {
		idx := (v >> shift) & 0x1FF
		e, err := readEntry64(mem, table+idx*8, level)
		if err != nil {
			return Translation{}, err
		}
		if e&x86Present == 0 {
			return Translation{}, unmapped(va, level)
		}

		switch {
		case level == 0 && e&x86PS != 0:
			return Translation{}, fault(va, level, e, "has the page size bit set")
		case level == 1 && e&x86PS != 0:
			if e&x64Reserved1G != 0 {
				return Translation{}, fault(va, level, e, "has reserved bits set")
			}
			return Translation{Phys: memory.PhysicalAddress(e&x64Mask1G | v&uint64(page1G-1)), PageSize: page1G}, nil
		case level == 2 && e&x86PS != 0:
			if e&x64Reserved2M != 0 {
				return Translation{}, fault(va, level, e, "has reserved bits set")
			}
			return Translation{Phys: memory.PhysicalAddress(e&x64Mask2M | v&uint64(page2M-1)), PageSize: page2M}, nil
		case level == 3:
			return Translation{Phys: memory.PhysicalAddress(e&x64AddrMask | v&uint64(page4K-1)), PageSize: page4K}, nil
		}
		table = e & x64AddrMask
	}
	// unreachable: level 3 always returns
	return Translation{}, fault(va, 3, 0, "walk did not terminate")
}
