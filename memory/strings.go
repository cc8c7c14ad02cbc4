package memory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// stringChunk bounds each read so a terminator close to the end of a mapped
// page does not turn into a fault on the following page.
const stringChunk = 0x1000

// ReadCString reads a NUL terminated byte string of at most maxLen bytes.
// A string without a terminator inside maxLen is returned truncated.
func ReadCString(v View, addr Address, maxLen Size) (string, error) {
	var out []byte
	for Size(len(out)) < maxLen {
		cur := addr.Add(Size(len(out)))
		n := Size(stringChunk) - Size(uint64(cur)%stringChunk)
		if remaining := maxLen - Size(len(out)); n > remaining {
			n = remaining
		}
		data, err := v.ReadMemory(cur, n)
		if err != nil {
			return "", err
		}
		if Size(len(data)) != n {
			return "", fmt.Errorf("string at %s: got %d of %d bytes: %w", cur, len(data), uint64(n), ErrSizeMismatch)
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			out = append(out, data[:i]...)
			return string(out), nil
		}
		out = append(out, data...)
	}
	return string(out), nil
}

// ReadWideString reads a NUL terminated UTF-16LE string of at most maxChars
// code units.
func ReadWideString(v View, addr Address, maxChars Size) (string, error) {
	var units []uint16
	for Size(len(units)) < maxChars {
		cur := addr.Add(Size(len(units)) * 2)
		n := (Size(stringChunk) - Size(uint64(cur)%stringChunk)) / 2
		if n == 0 {
			n = 1
		}
		if remaining := maxChars - Size(len(units)); n > remaining {
			n = remaining
		}
		data, err := v.ReadMemory(cur, n*2)
		if err != nil {
			return "", err
		}
		if Size(len(data)) != n*2 {
			return "", fmt.Errorf("wide string at %s: got %d of %d bytes: %w", cur, len(data), uint64(n*2), ErrSizeMismatch)
		}
		for i := 0; i+1 < len(data); i += 2 {
			u := binary.LittleEndian.Uint16(data[i:])
			if u == 0 {
				return string(utf16.Decode(units)), nil
			}
			units = append(units, u)
		}
	}
	return string(utf16.Decode(units)), nil
}

// DecodeUTF16 decodes a UTF-16LE byte slice, stopping at the first NUL.
func DecodeUTF16(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u := binary.LittleEndian.Uint16(data[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// EncodeUTF16 encodes s as UTF-16LE without a terminator.
func EncodeUTF16(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}
