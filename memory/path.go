package memory

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// SizeOf returns the in-memory size of T.
func SizeOf[T any]() Size {
	var t T
	return Size(unsafe.Sizeof(t))
}

// Read reads a single value of type T from addr. T must be plain data laid
// out the way the target stores it (little endian, no Go pointers).
func Read[T any](v View, addr Address) (T, error) {
	var t T
	size := SizeOf[T]()
	if size == 0 {
		return t, nil
	}

	data, err := v.ReadMemory(addr, size)
	if err != nil {
		return t, err
	}
	if Size(len(data)) != size {
		return t, fmt.Errorf("read %d bytes for a %d byte value at %s: %w", len(data), size, addr, ErrSizeMismatch)
	}

	copyTo(&t, data)
	return t, nil
}

// Write stores val at addr using its in-memory layout.
func Write[T any](v View, addr Address, val T) error {
	size := int(unsafe.Sizeof(val))
	if size == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&val)), size)
	buf := make([]byte, size)
	copy(buf, src)
	return v.WriteMemory(addr, buf)
}

func copyTo[T any](dst *T, src []byte) {
	size := int(unsafe.Sizeof(*dst))
	dstBytes := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	copy(dstBytes, src)
}

// ReadPointer reads a little endian pointer of width bytes (4 or 8) at addr.
func ReadPointer(v View, addr Address, width int) (Address, error) {
	switch width {
	case 4:
		data, err := v.ReadMemory(addr, 4)
		if err != nil {
			return 0, err
		}
		if len(data) != 4 {
			return 0, fmt.Errorf("pointer at %s: %w", addr, ErrSizeMismatch)
		}
		return Address(binary.LittleEndian.Uint32(data)), nil
	case 8:
		data, err := v.ReadMemory(addr, 8)
		if err != nil {
			return 0, err
		}
		if len(data) != 8 {
			return 0, fmt.Errorf("pointer at %s: %w", addr, ErrSizeMismatch)
		}
		return Address(binary.LittleEndian.Uint64(data)), nil
	default:
		return 0, fmt.Errorf("pointer width %d: %w", width, ErrArgument)
	}
}

// ReadPath follows a pointer path and returns the final address. It starts
// at base, adds the first offset, reads a pointer, adds the next offset and
// so on. The last offset is added to the final pointer without dereferencing.
func ReadPath(v View, width int, base Address, offsets ...Size) (Address, error) {
	current := base
	for i := 0; i < len(offsets)-1; i++ {
		ptrAddr := current.Add(offsets[i])
		ptr, err := ReadPointer(v, ptrAddr, width)
		if err != nil {
			return 0, fmt.Errorf("pointer at offset %d (addr %s): %w", i, ptrAddr, err)
		}
		if ptr == 0 {
			return 0, fmt.Errorf("pointer at offset %d (addr %s) is null: %w", i, ptrAddr, ErrUnmappedPage)
		}
		current = ptr
	}
	if len(offsets) > 0 {
		current = current.Add(offsets[len(offsets)-1])
	}
	return current, nil
}

// ReadPathT follows a pointer path like ReadPath and reads a T at its end.
func ReadPathT[T any](v View, width int, base Address, offsets ...Size) (T, error) {
	addr, err := ReadPath(v, width, base, offsets...)
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := Read[T](v, addr)
	if err != nil {
		return val, fmt.Errorf("final value at %s: %w", addr, err)
	}
	return val, nil
}
