package mmu

import (
	"gomemflow/arch"
	"gomemflow/memory"
)

const (
	paePDPTMask = 0xFFFFFFE0
	// bits 2:1 and 8:5 of a PAE PDPTE are reserved
	paePDPTReserved = 0x1E6

	x86Mask4M     = 0xFFC00000
	x86Reserved4M = 0x003FE000
	x86AddrMask   = 0xFFFFF000
)

// X86PAE walks 32-bit PAE page tables (PDPT, PD, PT).
type X86PAE struct{}

func (X86PAE) Arch() arch.Ident { return arch.X86PAE }

func (X86PAE) Walk(mem PhysReader, dtb memory.PhysicalAddress, va memory.Address) (Translation, error) {
	v := uint64(va)
	if v > 0xFFFFFFFF {
		return Translation{}, fault(va, 0, 0, "exceeds 32 bits")
	}

	pdpte, err := readEntry64(mem, uint64(dtb)&paePDPTMask+((v>>30)&3)*8, 0)
	if err != nil {
		return Translation{}, err
	}
	if pdpte&x86Present == 0 {
		return Translation{}, unmapped(va, 0)
	}
	if pdpte&paePDPTReserved != 0 {
		return Translation{}, fault(va, 0, pdpte, "has reserved bits set")
	}

	pde, err := readEntry64(mem, pdpte&x64AddrMask+((v>>21)&0x1FF)*8, 1)
	if err != nil {
		return Translation{}, err
	}
	if pde&x86Present == 0 {
		return Translation{}, unmapped(va, 1)
	}
	if pde&x86PS != 0 {
		if pde&x64Reserved2M != 0 {
			return Translation{}, fault(va, 1, pde, "has reserved bits set")
		}
		return Translation{Phys: memory.PhysicalAddress(pde&x64Mask2M | v&uint64(page2M-1)), PageSize: page2M}, nil
	}

	pte, err := readEntry64(mem, pde&x64AddrMask+((v>>12)&0x1FF)*8, 2)
	if err != nil {
		return Translation{}, err
	}
	if pte&x86Present == 0 {
		return Translation{}, unmapped(va, 2)
	}
	return Translation{Phys: memory.PhysicalAddress(pte&x64AddrMask | v&uint64(page4K-1)), PageSize: page4K}, nil
}

// X86 walks classic 32-bit two-level page tables with PSE 4M pages.
type X86 struct{}

func (X86) Arch() arch.Ident { return arch.X86 }

func (X86) Walk(mem PhysReader, dtb memory.PhysicalAddress, va memory.Address) (Translation, error) {
	v := uint64(va)
	if v > 0xFFFFFFFF {
		return Translation{}, fault(va, 0, 0, "exceeds 32 bits")
	}

	pde, err := readEntry32(mem, uint64(dtb)&x86AddrMask+(v>>22)*4, 0)
	if err != nil {
		return Translation{}, err
	}
	if pde&x86Present == 0 {
		return Translation{}, unmapped(va, 0)
	}
	if pde&x86PS != 0 {
		if pde&x86Reserved4M != 0 {
			return Translation{}, fault(va, 0, uint64(pde), "has reserved bits set")
		}
		return Translation{Phys: memory.PhysicalAddress(uint64(pde&x86Mask4M) | v&uint64(page4M-1)), PageSize: page4M}, nil
	}

	pte, err := readEntry32(mem, uint64(pde&x86AddrMask)+((v>>12)&0x3FF)*4, 1)
	if err != nil {
		return Translation{}, err
	}
	if pte&x86Present == 0 {
		return Translation{}, unmapped(va, 1)
	}
	return Translation{Phys: memory.PhysicalAddress(uint64(pte&x86AddrMask) | v&uint64(page4K-1)), PageSize: page4K}, nil
}
