package memory

import (
	"fmt"
	"math"
)

// Address is a virtual address inside some address space.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Add returns a offset by off bytes.
func (a Address) Add(off Size) Address {
	return a + Address(off)
}

// AlignDown rounds a down to a multiple of align, which must be a power of two.
func (a Address) AlignDown(align Size) Address {
	return a &^ Address(align-1)
}

// PhysicalAddress is an address inside a connector's physical range.
type PhysicalAddress uint64

func (p PhysicalAddress) String() string {
	return fmt.Sprintf("0x%X", uint64(p))
}

// Size is a length in bytes.
type Size uint64

func (s Size) String() string {
	return fmt.Sprintf("%d bytes", uint64(s))
}

// Range is a half open interval [Start, Start+Size).
type Range struct {
	Start Address
	Size  Size
}

// End returns the first address past the range.
func (r Range) End() Address {
	return r.Start.Add(r.Size)
}

// Contains reports whether addr lies inside the range.
func (r Range) Contains(addr Address) bool {
	return addr >= r.Start && addr < r.End()
}

// CheckSpan fails with ErrOutOfBounds when [addr, addr+size) wraps past the
// top of the address space or size cannot be held in one slice. A range
// ending exactly at the top is allowed.
func CheckSpan(addr Address, size Size) error {
	end := uint64(addr) + uint64(size)
	if uint64(size) > math.MaxInt || (end < uint64(addr) && end != 0) {
		return fmt.Errorf("range %s+%#x: %w", addr, uint64(size), ErrOutOfBounds)
	}
	return nil
}
