package mmu

import (
	"gomemflow/arch"
	"gomemflow/memory"
)

const (
	a64Valid     = 1 << 0
	a64Table     = 1 << 1
	a64AddrMask  = 0x0000FFFFFFFFF000
	a64Mask2M    = 0x0000FFFFFFE00000
	a64Mask1G    = 0x0000FFFFC0000000
	a64VAddrBits = 48
)

// AArch64 walks 4K granule, 48-bit stage 1 translation tables. The caller
// passes the TTBR value matching the half of the address space va lives in.
type AArch64 struct{}

func (AArch64) Arch() arch.Ident { return arch.AArch64 }

func (AArch64) Walk(mem PhysReader, dtb memory.PhysicalAddress, va memory.Address) (Translation, error) {
	v := uint64(va)
	if top := v >> a64VAddrBits; top != 0 && top != 0xFFFF {
		return Translation{}, fault(va, 0, 0, "is outside the 48-bit range")
	}

	table := uint64(dtb) & a64AddrMask
	for level, shift := range []uint{39, 30, 21, 12} {
		idx := (v >> shift) & 0x1FF
		d, err := readEntry64(mem, table+idx*8, level)
		if err != nil {
			return Translation{}, err
		}
		if d&a64Valid == 0 {
			return Translation{}, unmapped(va, level)
		}

		isTable := d&a64Table != 0
		switch level {
		case 0:
			if !isTable {
				return Translation{}, fault(va, level, d, "is a block at level 0")
			}
		case 1:
			if !isTable {
				return Translation{Phys: memory.PhysicalAddress(d&a64Mask1G | v&uint64(page1G-1)), PageSize: page1G}, nil
			}
		case 2:
			if !isTable {
				return Translation{Phys: memory.PhysicalAddress(d&a64Mask2M | v&uint64(page2M-1)), PageSize: page2M}, nil
			}
		case 3:
			if !isTable {
				return Translation{}, fault(va, level, d, "is a reserved level 3 descriptor")
			}
			return Translation{Phys: memory.PhysicalAddress(d&a64AddrMask | v&uint64(page4K-1)), PageSize: page4K}, nil
		}
		table = d & a64AddrMask
	}
	return Translation{}, fault(va, 3, 0, "walk did not terminate")
}
