package dtype

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"gomemflow/memory"
)

var scalarNames = map[string]*Type{
	"i8":         Byte,
	"byte":       Byte,
	"u8":         UByte,
	"ubyte":      UByte,
	"char":       Char,
	"wchar":      WideChar,
	"i16":        Short,
	"short":      Short,
	"u16":        UShort,
	"ushort":     UShort,
	"i32":        Int,
	"int":        Int,
	"u32":        UInt,
	"uint":       UInt,
	"long":       Long,
	"ulong":      ULong,
	"i64":        LongLong,
	"longlong":   LongLong,
	"u64":        ULongLong,
	"ulonglong":  ULongLong,
	"f32":        Float,
	"float":      Float,
	"f64":        Double,
	"double":     Double,
	"f128":       LongDouble,
	"longdouble": LongDouble,
}

// Parse builds a descriptor from its short form:
//
//	u32                      scalar (see the names below)
//	ptr, ptr32, ptr64        pointer, ptr is 64 bits
//	[4]u16                   array
//	{a: u32; b: [8]char}     structure with sequential fields
//	{a: u32; c@0x10: ptr}    explicit field offset
//
// Scalars: i8 byte, u8 ubyte, char, wchar, i16 short, u16 ushort, i32 int,
// u32 uint, long, ulong, i64 longlong, u64 ulonglong, f32 float, f64 double,
// f128 longdouble.
func Parse(s string) (*Type, error) {
	p := &parser{src: s}
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	p.space()
	if !p.done() {
		return nil, p.fail("trailing input")
	}
	return t, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) *Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src string
	pos int
}

func (p *parser) done() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) space() {
	for !p.done() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) fail(what string) error {
	return fmt.Errorf("type %q at %d: %s: %w", p.src, p.pos, what, memory.ErrArgument)
}

func (p *parser) expect(c byte) error {
	p.space()
	if p.peek() != c {
		return p.fail(fmt.Sprintf("want %q", c))
	}
	p.pos++
	return nil
}

func (p *parser) word() string {
	p.space()
	start := p.pos
	for !p.done() {
		c := p.src[p.pos]
		if c != '_' && !unicode.IsLetter(rune(c)) && !unicode.IsDigit(rune(c)) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) number() (int, error) {
	w := p.word()
	n, err := strconv.ParseInt(w, 0, 32)
	if err != nil || n < 0 {
		return 0, p.fail(fmt.Sprintf("bad number %q", w))
	}
	return int(n), nil
}

func (p *parser) typ() (*Type, error) {
	p.space()
	switch p.peek() {
	case '[':
		p.pos++
		n, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		elem, err := p.typ()
		if err != nil {
			return nil, err
		}
		return Array(elem, n)
	case '{':
		p.pos++
		return p.structure()
	}

	name := strings.ToLower(p.word())
	if t, ok := scalarNames[name]; ok {
		return t, nil
	}
	if bits, ok := strings.CutPrefix(name, "ptr"); ok {
		if bits == "" {
			return Pointer(8)
		}
		n, err := strconv.Atoi(bits)
		if err != nil || n%8 != 0 {
			return nil, p.fail(fmt.Sprintf("bad pointer %q", name))
		}
		return Pointer(n / 8)
	}
	if name == "" {
		return nil, p.fail("want a type")
	}
	return nil, p.fail(fmt.Sprintf("unknown type %q", name))
}

func (p *parser) structure() (*Type, error) {
	var fields []Field
	for {
		p.space()
		if p.peek() == '}' {
			p.pos++
			break
		}
		name := p.word()
		if name == "" {
			return nil, p.fail("want a field name")
		}
		offset, explicit := 0, false
		p.space()
		if p.peek() == '@' {
			p.pos++
			n, err := p.number()
			if err != nil {
				return nil, err
			}
			offset, explicit = n, true
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		t, err := p.typ()
		if err != nil {
			return nil, err
		}
		if explicit {
			fields = append(fields, At(offset, name, t))
		} else {
			fields = append(fields, Seq(name, t))
		}

		p.space()
		switch p.peek() {
		case ';':
			p.pos++
		case '}':
		default:
			return nil, p.fail("want ';' or '}'")
		}
	}
	return Struct(fields...)
}
