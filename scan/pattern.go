// Package scan searches address spaces for byte patterns with wildcards.
package scan

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"gomemflow/memory"
)

// Pattern is an array of bytes where each byte is compared under its mask.
// A zero mask byte is a full wildcard.
type Pattern struct {
	Bytes []byte
	Mask  []byte
}

// NewPattern pairs bytes with a mask of the same length. A nil mask means
// an exact match.
func NewPattern(b, mask []byte) (Pattern, error) {
	if len(b) == 0 {
		return Pattern{}, fmt.Errorf("empty pattern: %w", memory.ErrArgument)
	}
	if mask == nil {
		mask = make([]byte, len(b))
		for i := range mask {
			mask[i] = 0xff
		}
	}
	if len(mask) != len(b) {
		return Pattern{}, fmt.Errorf("mask length (%d) doesn't match pattern length (%d): %w", len(mask), len(b), memory.ErrArgument)
	}
	return Pattern{Bytes: b, Mask: mask}, nil
}

// ParsePattern reads patterns such as "48 8B ?? 05", "48,8b,?,05" or
// "488b??05". A nibble may be a wildcard on its own, as in "4?".
func ParsePattern(s string) (Pattern, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})

	var b, mask []byte
	for _, part := range parts {
		if part == "?" {
			part = "??"
		}
		if len(part)%2 != 0 {
			return Pattern{}, fmt.Errorf("pattern %q: odd token %q: %w", s, part, memory.ErrArgument)
		}
		for i := 0; i < len(part); i += 2 {
			v, m, err := parseByte(part[i : i+2])
			if err != nil {
				return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
			}
			b = append(b, v)
			mask = append(mask, m)
		}
	}
	return NewPattern(b, mask)
}

func parseByte(tok string) (byte, byte, error) {
	var v, m byte
	for i, c := range []byte(tok) {
		shift := uint(4 * (1 - i))
		if c == '?' {
			continue
		}
		n, err := strconv.ParseUint(string(c), 16, 8)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid hex byte %q: %w", tok, memory.ErrArgument)
		}
		v |= byte(n) << shift
		m |= 0xf << shift
	}
	return v, m, nil
}

func (p Pattern) Len() int {
	return len(p.Bytes)
}

// String renders p the way ParsePattern reads it.
func (p Pattern) String() string {
	var sb strings.Builder
	for i := range p.Bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		h := hex.EncodeToString(p.Bytes[i : i+1])
		switch p.Mask[i] {
		case 0xff:
			sb.WriteString(h)
		case 0xf0:
			sb.WriteString(h[:1] + "?")
		case 0x0f:
			sb.WriteString("?" + h[1:])
		default:
			sb.WriteString("??")
		}
	}
	return sb.String()
}

// MatchAt reports whether p matches data at offset i.
func (p Pattern) MatchAt(data []byte, i int) bool {
	if i < 0 || i+len(p.Bytes) > len(data) {
		return false
	}
	for j, m := range p.Mask {
		if data[i+j]&m != p.Bytes[j]&m {
			return false
		}
	}
	return true
}

// FindAll returns every offset in data where p matches.
func (p Pattern) FindAll(data []byte) []int {
	var matches []int
	for i := 0; i+len(p.Bytes) <= len(data); i++ {
		if p.MatchAt(data, i) {
			matches = append(matches, i)
		}
	}
	return matches
}
