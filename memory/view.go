package memory

import "fmt"

// View is a byte addressable address space.
type View interface {
	// ReadMemory reads size bytes starting at addr
	ReadMemory(addr Address, size Size) ([]byte, error)

	// WriteMemory writes data starting at addr
	WriteMemory(addr Address, data []byte) error
}

// ReadOp is one element of a batched read. Buf is filled in place and Err
// reports the outcome of this element alone.
type ReadOp struct {
	Addr Address
	Buf  []byte
	Err  error
}

// BatchView is a View that serves many reads as one transaction.
type BatchView interface {
	View

	// ReadMemoryList fills every op, returning the first op error.
	ReadMemoryList(ops []ReadOp) error
}

// ReadList fills ops through v, using a single batch when v supports it.
func ReadList(v View, ops []ReadOp) error {
	if bv, ok := v.(BatchView); ok {
		return bv.ReadMemoryList(ops)
	}

	var first error
	for i := range ops {
		data, err := v.ReadMemory(ops[i].Addr, Size(len(ops[i].Buf)))
		if err == nil && len(data) != len(ops[i].Buf) {
			err = fmt.Errorf("read %d of %d bytes at %s: %w", len(data), len(ops[i].Buf), ops[i].Addr, ErrSizeMismatch)
		}
		ops[i].Err = err
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		copy(ops[i].Buf, data)
	}
	return first
}
