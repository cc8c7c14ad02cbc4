// Package connector defines the physical memory source every os layer reads
// through, along with bounds checking, lifetime tracking and batching helpers
// shared by the concrete connectors.
package connector

import (
	"fmt"

	"gomemflow/memory"
)

// Metadata describes the physical range a connector exposes.
type Metadata struct {
	// MaxAddress is the exclusive upper bound of addressable physical memory
	MaxAddress memory.PhysicalAddress `json:"max_address"`

	// RealSize is the number of bytes actually backed by the source
	RealSize memory.Size `json:"real_size"`

	ReadOnly bool `json:"readonly"`

	// IdealBatchSize is the preferred number of bytes per transaction. It is
	// a hint; callers never depend on it for correctness.
	IdealBatchSize memory.Size `json:"ideal_batch_size"`
}

// PhysReadOp is one element of a batched physical read.
type PhysReadOp struct {
	Addr memory.PhysicalAddress
	Buf  []byte
	Err  error
}

// Connector is a byte addressable physical memory source.
type Connector interface {
	// ReadPhys reads size bytes at addr
	ReadPhys(addr memory.PhysicalAddress, size memory.Size) ([]byte, error)

	// WritePhys writes data at addr
	WritePhys(addr memory.PhysicalAddress, data []byte) error

	// ReadPhysList serves every op as one logical transaction, filling each
	// op's Buf and Err, and returns the first op error
	ReadPhysList(ops []PhysReadOp) error

	// Metadata returns the declared range and capabilities
	Metadata() Metadata

	// Alive reports whether the connector has not been closed yet
	Alive() bool

	// Close releases the backing source
	Close() error
}

// CheckBounds validates that [addr, addr+size) lies inside the declared range.
func CheckBounds(md Metadata, addr memory.PhysicalAddress, size memory.Size) error {
	end := uint64(addr) + uint64(size)
	if end < uint64(addr) || addr >= md.MaxAddress || end > uint64(md.MaxAddress) {
		return fmt.Errorf("physical range %s+%#x exceeds %s: %w", addr, uint64(size), md.MaxAddress, memory.ErrOutOfBounds)
	}
	return nil
}

// CheckWrite validates a write against the declared range and read-only flag.
func CheckWrite(md Metadata, addr memory.PhysicalAddress, size memory.Size) error {
	if md.ReadOnly {
		return fmt.Errorf("write at %s: %w", addr, memory.ErrReadOnly)
	}
	return CheckBounds(md, addr, size)
}

// ReadSerial serves ops one at a time through read. Connectors without a
// cheaper batch primitive use it to implement ReadPhysList.
func ReadSerial(ops []PhysReadOp, read func(memory.PhysicalAddress, []byte) error) error {
	var first error
	for i := range ops {
		ops[i].Err = read(ops[i].Addr, ops[i].Buf)
		if ops[i].Err != nil && first == nil {
			first = ops[i].Err
		}
	}
	return first
}
