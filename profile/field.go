package profile

import (
	"encoding/binary"
	"fmt"

	"gomemflow/memory"
)

// defaultStringLen applies to string fields that give no Size.
const defaultStringLen = 256

// maxUnicodeString bounds the byte length taken from a UNICODE_STRING.
const maxUnicodeString = 0x1000

func (f Field) addr(base memory.Address) memory.Address {
	return base.Add(memory.Size(f.Offset))
}

func (f Field) maxLen() memory.Size {
	if f.Size == 0 {
		return defaultStringLen
	}
	return memory.Size(f.Size)
}

// ReadUint reads an integer or pointer field of the element at base.
func (f Field) ReadUint(v memory.View, base memory.Address, ptrWidth int) (uint64, error) {
	switch f.Kind {
	case U32:
		n, err := memory.Read[uint32](v, f.addr(base))
		return uint64(n), err
	case U64:
		return memory.Read[uint64](v, f.addr(base))
	case Ptr:
		a, err := memory.ReadPointer(v, f.addr(base), ptrWidth)
		return uint64(a), err
	}
	return 0, fmt.Errorf("field kind %q is not an integer: %w", f.Kind, memory.ErrArgument)
}

// ReadString reads a string field of the element at base.
func (f Field) ReadString(v memory.View, base memory.Address, ptrWidth int) (string, error) {
	switch f.Kind {
	case CStr:
		return memory.ReadCString(v, f.addr(base), f.maxLen())
	case CStrPtr, WStrPtr:
		p, err := memory.ReadPointer(v, f.addr(base), ptrWidth)
		if err != nil {
			return "", err
		}
		if p == 0 {
			return "", nil
		}
		if f.Kind == CStrPtr {
			return memory.ReadCString(v, p, f.maxLen())
		}
		return memory.ReadWideString(v, p, f.maxLen())
	case UnicodeString:
		// 32-bit layout puts the buffer right after the two lengths
		hdrSize := 4 + ptrWidth
		if ptrWidth == 8 {
			hdrSize = 16
		}
		hdr, err := v.ReadMemory(f.addr(base), memory.Size(hdrSize))
		if err != nil {
			return "", err
		}
		if len(hdr) != hdrSize {
			return "", fmt.Errorf("unicode string header at %s: %w", f.addr(base), memory.ErrSizeMismatch)
		}
		length := memory.Size(binary.LittleEndian.Uint16(hdr))
		if length == 0 {
			return "", nil
		}
		length = min(length, maxUnicodeString)
		var buf memory.Address
		if ptrWidth == 4 {
			buf = memory.Address(binary.LittleEndian.Uint32(hdr[4:]))
		} else {
			buf = memory.Address(binary.LittleEndian.Uint64(hdr[8:]))
		}
		data, err := v.ReadMemory(buf, length&^1)
		if err != nil {
			return "", err
		}
		return memory.DecodeUTF16(data), nil
	}
	return "", fmt.Errorf("field kind %q is not a string: %w", f.Kind, memory.ErrArgument)
}
