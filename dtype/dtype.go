// Package dtype describes C shaped data (scalars, pointers, fixed arrays and
// structures) at run time, and converts between target memory and Go values.
//
// Values decode to:
//
//	Byte int8, UByte uint8, Char byte, WideChar rune,
//	Short int16, UShort uint16, Int int32, UInt uint32,
//	Long int64, ULong uint64, LongLong int64, ULongLong uint64,
//	Float float32, Double float64, Pointer memory.Address,
//	Array []any, Struct map[string]any
//
// Sizes follow LP64. All encodings are little endian.
package dtype

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gomemflow/memory"
)

// ErrMissingField is returned when a structure is encoded from a value that
// lacks one of its fields.
var ErrMissingField = errors.New("missing field")

// Kind enumerates descriptor shapes.
type Kind int

const (
	KindByte Kind = iota
	KindUByte
	KindChar
	KindWideChar
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindLong
	KindULong
	KindLongLong
	KindULongLong
	KindFloat
	KindDouble
	KindLongDouble
	KindPointer
	KindArray
	KindStruct
)

var kindNames = [...]string{
	KindByte:       "byte",
	KindUByte:      "ubyte",
	KindChar:       "char",
	KindWideChar:   "wchar",
	KindShort:      "short",
	KindUShort:     "ushort",
	KindInt:        "int",
	KindUInt:       "uint",
	KindLong:       "long",
	KindULong:      "ulong",
	KindLongLong:   "longlong",
	KindULongLong:  "ulonglong",
	KindFloat:      "float",
	KindDouble:     "double",
	KindLongDouble: "longdouble",
	KindPointer:    "pointer",
	KindArray:      "array",
	KindStruct:     "struct",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var scalarSizes = [...]int{
	KindByte:       1,
	KindUByte:      1,
	KindChar:       1,
	KindWideChar:   2,
	KindShort:      2,
	KindUShort:     2,
	KindInt:        4,
	KindUInt:       4,
	KindLong:       8,
	KindULong:      8,
	KindLongLong:   8,
	KindULongLong:  8,
	KindFloat:      4,
	KindDouble:     8,
	KindLongDouble: 16,
}

// Type is an immutable descriptor.
type Type struct {
	kind   Kind
	size   int
	elem   *Type
	length int
	fields []Field
}

// Field is one member of a structure.
type Field struct {
	Name   string
	Offset int
	Type   *Type

	explicit bool
}

// Seq is a field placed right after the previous sequential field.
func Seq(name string, t *Type) Field {
	return Field{Name: name, Type: t}
}

// At is a field at a fixed offset. A sequential field of the same name is
// replaced in place; otherwise the field is appended.
func At(offset int, name string, t *Type) Field {
	return Field{Name: name, Offset: offset, Type: t, explicit: true}
}

func scalar(k Kind) *Type {
	return &Type{kind: k, size: scalarSizes[k]}
}

var (
	Byte       = scalar(KindByte)
	UByte      = scalar(KindUByte)
	Char       = scalar(KindChar)
	WideChar   = scalar(KindWideChar)
	Short      = scalar(KindShort)
	UShort     = scalar(KindUShort)
	Int        = scalar(KindInt)
	UInt       = scalar(KindUInt)
	Long       = scalar(KindLong)
	ULong      = scalar(KindULong)
	LongLong   = scalar(KindLongLong)
	ULongLong  = scalar(KindULongLong)
	Float      = scalar(KindFloat)
	Double     = scalar(KindDouble)
	LongDouble = scalar(KindLongDouble)
)

// Pointer is an address of width bytes, 1 through 8.
func Pointer(width int) (*Type, error) {
	if width < 1 || width > 8 {
		return nil, fmt.Errorf("pointer width %d: %w", width, memory.ErrArgument)
	}
	return &Type{kind: KindPointer, size: width}, nil
}

// Array is n consecutive elements.
func Array(elem *Type, n int) (*Type, error) {
	if elem == nil || n < 0 {
		return nil, fmt.Errorf("array of %d: %w", n, memory.ErrArgument)
	}
	if n != 0 && elem.size > math.MaxInt/n {
		return nil, fmt.Errorf("array of %d x %d bytes: %w", n, elem.size, memory.ErrArgument)
	}
	return &Type{kind: KindArray, size: elem.size * n, elem: elem, length: n}, nil
}

// fieldEnd is off+size, failing when the sum does not fit an int.
func fieldEnd(name string, off, size int) (int, error) {
	if off > math.MaxInt-size {
		return 0, fmt.Errorf("struct field %q at %d of %d bytes: %w", name, off, size, memory.ErrArgument)
	}
	return off + size, nil
}

// Struct lays out fields. Sequential fields are packed with no padding in
// the order given; explicit fields sit where they say. Its size is the
// furthest field end.
func Struct(fields ...Field) (*Type, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("struct without fields: %w", memory.ErrArgument)
	}

	var out []Field
	index := map[string]int{}
	next := 0
	for _, f := range fields {
		if f.Name == "" || f.Type == nil {
			return nil, fmt.Errorf("struct field %q: %w", f.Name, memory.ErrArgument)
		}
		if !f.explicit {
			if _, dup := index[f.Name]; dup {
				return nil, fmt.Errorf("struct field %q repeated: %w", f.Name, memory.ErrArgument)
			}
			f.Offset = next
			end, err := fieldEnd(f.Name, next, f.Type.size)
			if err != nil {
				return nil, err
			}
			next = end
			index[f.Name] = len(out)
			out = append(out, f)
		}
	}
	for _, f := range fields {
		if !f.explicit {
			continue
		}
		if f.Offset < 0 {
			return nil, fmt.Errorf("struct field %q at %d: %w", f.Name, f.Offset, memory.ErrArgument)
		}
		if _, err := fieldEnd(f.Name, f.Offset, f.Type.size); err != nil {
			return nil, err
		}
		if i, ok := index[f.Name]; ok {
			out[i] = f
			continue
		}
		index[f.Name] = len(out)
		out = append(out, f)
	}

	size := 0
	for i := range out {
		out[i].explicit = false
		size = max(size, out[i].Offset+out[i].Type.size)
	}
	return &Type{kind: KindStruct, size: size, fields: out}, nil
}

func (t *Type) Kind() Kind {
	return t.kind
}

// Size is the encoded length in bytes.
func (t *Type) Size() int {
	return t.size
}

// Elem is the element type of an array, nil otherwise.
func (t *Type) Elem() *Type {
	return t.elem
}

// Len is the element count of an array.
func (t *Type) Len() int {
	return t.length
}

// Fields returns a copy of a structure's fields in declaration order.
func (t *Type) Fields() []Field {
	return append([]Field(nil), t.fields...)
}

// String renders t in the syntax Parse accepts.
func (t *Type) String() string {
	switch t.kind {
	case KindPointer:
		return fmt.Sprintf("ptr%d", t.size*8)
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.length, t.elem)
	case KindStruct:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, f := range t.fields {
			if i > 0 {
				sb.WriteString("; ")
			}
			fmt.Fprintf(&sb, "%s@%#x: %s", f.Name, f.Offset, f.Type)
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return t.kind.String()
}

// Read decodes a t at addr.
func Read(v memory.View, addr memory.Address, t *Type) (any, error) {
	data, err := v.ReadMemory(addr, memory.Size(t.size))
	if err != nil {
		return nil, err
	}
	return t.Decode(data)
}

// Write encodes val as a t at addr.
func Write(v memory.View, addr memory.Address, t *Type, val any) error {
	data, err := t.Encode(val)
	if err != nil {
		return err
	}
	return v.WriteMemory(addr, data)
}
