// Package arch identifies target architectures and their basic parameters.
package arch

import (
	"fmt"
	"strings"

	"gomemflow/memory"
)

// Ident names a target architecture and paging mode.
type Ident string

const (
	X86_64  Ident = "x86_64"  // 4-level paging, 8-byte entries
	X86PAE  Ident = "x86_pae" // 3-level paging, 8-byte entries
	X86     Ident = "x86"     // 2-level paging, 4-byte entries
	AArch64 Ident = "aarch64" // 4K granule, 48-bit virtual addresses
)

// Architectures lists every supported identifier.
var Architectures = []Ident{X86_64, X86PAE, X86, AArch64}

// Parse accepts an identifier or one of its common aliases.
func Parse(s string) (Ident, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86_64", "x64", "amd64", "x86-64":
		return X86_64, nil
	case "x86_pae", "pae", "x86pae":
		return X86PAE, nil
	case "x86", "i386", "386", "x86_32":
		return X86, nil
	case "aarch64", "arm64":
		return AArch64, nil
	}
	return "", fmt.Errorf("architecture %q: %w", s, memory.ErrArgument)
}

// Bits returns the width of a general purpose register.
func (a Ident) Bits() int {
	switch a {
	case X86, X86PAE:
		return 32
	default:
		return 64
	}
}

// PointerWidth returns the size of a pointer in bytes.
func (a Ident) PointerWidth() int {
	return a.Bits() / 8
}

// PageSize returns the smallest page size of the paging mode.
func (a Ident) PageSize() memory.Size {
	return 0x1000
}

// AddressMask clamps a virtual address to the architecture's width.
func (a Ident) AddressMask() memory.Address {
	if a.Bits() == 32 {
		return 0xFFFFFFFF
	}
	return 0xFFFFFFFFFFFFFFFF
}

// LittleEndian reports the byte order of the targets this module supports.
func (a Ident) LittleEndian() bool {
	return true
}

func (a Ident) String() string {
	return string(a)
}

// Valid reports whether a is a known identifier.
func (a Ident) Valid() bool {
	for _, known := range Architectures {
		if a == known {
			return true
		}
	}
	return false
}
