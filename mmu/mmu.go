// Package mmu walks architecture page tables to translate virtual addresses
// into physical addresses, and serves virtual reads and writes on top of a
// connector.
package mmu

import (
	"encoding/binary"
	"fmt"

	"gomemflow/arch"
	"gomemflow/memory"
)

// PhysReader reads physical memory; connectors satisfy it.
type PhysReader interface {
	ReadPhys(addr memory.PhysicalAddress, size memory.Size) ([]byte, error)
}

// Translation is the result of a page walk.
type Translation struct {
	// Phys is the translated physical address
	Phys memory.PhysicalAddress

	// PageSize is the size of the page that maps the address
	PageSize memory.Size
}

// PageBase returns the physical base of the mapping page.
func (t Translation) PageBase() memory.PhysicalAddress {
	return t.Phys &^ memory.PhysicalAddress(t.PageSize-1)
}

// Walker translates one address by walking the page tables rooted at dtb.
type Walker interface {
	Arch() arch.Ident
	Walk(mem PhysReader, dtb memory.PhysicalAddress, va memory.Address) (Translation, error)
}

// ForArch returns the walker for an architecture.
func ForArch(a arch.Ident) (Walker, error) {
	switch a {
	case arch.X86_64:
		return X64{}, nil
	case arch.X86PAE:
		return X86PAE{}, nil
	case arch.X86:
		return X86{}, nil
	case arch.AArch64:
		return AArch64{}, nil
	}
	return nil, fmt.Errorf("no page table walker for %q: %w", a, memory.ErrUnsupported)
}

const (
	page4K = memory.Size(0x1000)
	page2M = memory.Size(0x200000)
	page4M = memory.Size(0x400000)
	page1G = memory.Size(0x40000000)
)

func readEntry64(mem PhysReader, addr uint64, level int) (uint64, error) {
	data, err := mem.ReadPhys(memory.PhysicalAddress(addr), 8)
	if err != nil {
		return 0, fmt.Errorf("level %d entry at %#x: %w", level, addr, err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("level %d entry at %#x: %w", level, addr, memory.ErrSizeMismatch)
	}
	return binary.LittleEndian.Uint64(data), nil
}

func readEntry32(mem PhysReader, addr uint64, level int) (uint32, error) {
	data, err := mem.ReadPhys(memory.PhysicalAddress(addr), 4)
	if err != nil {
		return 0, fmt.Errorf("level %d entry at %#x: %w", level, addr, err)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("level %d entry at %#x: %w", level, addr, memory.ErrSizeMismatch)
	}
	return binary.LittleEndian.Uint32(data), nil
}

func unmapped(va memory.Address, level int) error {
	return fmt.Errorf("%s not present at level %d: %w", va, level, memory.ErrUnmappedPage)
}

func fault(va memory.Address, level int, entry uint64, why string) error {
	return fmt.Errorf("%s level %d entry %#x %s: %w", va, level, entry, why, memory.ErrTranslationFault)
}
