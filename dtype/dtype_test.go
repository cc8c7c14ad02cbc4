package dtype

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gomemflow/connector"
	"gomemflow/connector_blob"
	"gomemflow/memory"
)

func TestSizes(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"char", 1},
		{"wchar", 2},
		{"short", 2},
		{"int", 4},
		{"long", 8},
		{"longlong", 8},
		{"float", 4},
		{"double", 8},
		{"longdouble", 16},
		{"ptr", 8},
		{"ptr32", 4},
		{"[4]u16", 8},
		{"[0]u32", 0},
		{"[2][3]u8", 6},
		{"{a: u8; b: u32}", 5},
		{"{a: u32; b@0x10: u64}", 0x18},
		{"{a: u64; a@0: u8}", 1},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			typ, err := Parse(tt.src)
			if err != nil {
				t.Fatal(err)
			}
			if typ.Size() != tt.want {
				t.Errorf("size = %d, want %d", typ.Size(), tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"u33",
		"ptr12",
		"ptr0",
		"[x]u8",
		"[4",
		"{}",
		"{a u8}",
		"{a: u8; a: u16}",
		"{a: u8",
		"u8 u8",
		"[2147483647][2147483647][2147483647]u64",
		"{a: [1073741823][1073741823]u64; b: [1073741823][1073741823]u64}",
	} {
		if _, err := Parse(src); !errors.Is(err, memory.ErrArgument) {
			t.Errorf("Parse(%q) = %v, want ErrArgument", src, err)
		}
	}
}

func TestSizeOverflow(t *testing.T) {
	big, err := Array(ULongLong, math.MaxInt/16)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Array(big, 3); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("Array overflow = %v, want ErrArgument", err)
	}
	if _, err := Struct(Seq("a", big), Seq("b", big), Seq("c", big)); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("sequential overflow = %v, want ErrArgument", err)
	}
	if _, err := Struct(At(math.MaxInt-4, "a", ULongLong)); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("explicit offset overflow = %v, want ErrArgument", err)
	}
}

func TestStructLayout(t *testing.T) {
	typ, err := Struct(
		Seq("a", UByte),
		Seq("b", UInt),
		At(0x10, "c", LongLong),
		At(0, "a", UShort),
	)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	var offsets []int
	for _, f := range typ.Fields() {
		got = append(got, f.Name+":"+f.Type.String())
		offsets = append(offsets, f.Offset)
	}
	if diff := cmp.Diff([]string{"a:ushort", "b:uint", "c:longlong"}, got); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
	// b keeps the offset from the original sequential layout
	if diff := cmp.Diff([]int{0, 1, 0x10}, offsets); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if typ.Size() != 0x18 {
		t.Errorf("size = %#x", typ.Size())
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		src  string
		data []byte
		want any
	}{
		{"i8", []byte{0xff}, int8(-1)},
		{"u8", []byte{0xff}, uint8(0xff)},
		{"char", []byte{'A'}, byte('A')},
		{"wchar", []byte{0x3b, 0x04}, rune(0x43b)},
		{"i16", []byte{0xfe, 0xff}, int16(-2)},
		{"u32", []byte{1, 2, 3, 4}, uint32(0x04030201)},
		{"i64", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, int64(-1)},
		{"ptr32", []byte{0x00, 0x10, 0x00, 0x80}, memory.Address(0x80001000)},
		{"f32", []byte{0, 0, 0x80, 0x3f}, float32(1)},
		{"[3]u8", []byte{7, 8, 9}, []any{uint8(7), uint8(8), uint8(9)}},
		{
			"{len: u16; tag@4: char}",
			[]byte{0x10, 0, 0, 0, 'x'},
			map[string]any{"len": uint16(0x10), "tag": byte('x')},
		},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := MustParse(tt.src).Decode(tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decode (-want +got):\n%s", diff)
			}
		})
	}

	f, err := Double.Decode([]byte{0x18, 0x2d, 0x44, 0x54, 0xfb, 0x21, 0x09, 0x40})
	if err != nil || f.(float64) != math.Pi {
		t.Errorf("double = %v, %v", f, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := UInt.Decode([]byte{1, 2}); !errors.Is(err, memory.ErrSizeMismatch) {
		t.Errorf("short buffer: %v", err)
	}
	if _, err := LongDouble.Decode(make([]byte, 16)); !errors.Is(err, memory.ErrUnsupported) {
		t.Errorf("long double: %v", err)
	}
	if _, err := LongDouble.Encode(1.5); !errors.Is(err, memory.ErrUnsupported) {
		t.Errorf("long double encode: %v", err)
	}
}

func TestEncode(t *testing.T) {
	typ := MustParse("{id: u32; flags: [2]u8; next@8: ptr}")
	got, err := typ.Encode(map[string]any{
		"id":    1234,
		"flags": []int{1, 2},
		"next":  memory.Address(0xdeadbeef),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xd2, 0x04, 0, 0, 1, 2, 0, 0, 0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encode (-want +got):\n%s", diff)
	}

	if _, err := typ.Encode(map[string]any{"id": 1, "flags": []int{1, 2}}); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing field: %v", err)
	}
	if _, err := typ.Encode(map[string]any{"id": 1, "flags": []int{1}, "next": 0}); !errors.Is(err, memory.ErrSizeMismatch) {
		t.Errorf("short array: %v", err)
	}
	if _, err := typ.Encode(map[string]any{"id": "x", "flags": []int{1, 2}, "next": 0}); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("string for integer: %v", err)
	}
	if _, err := UInt.Encode(struct{}{}); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("struct for integer: %v", err)
	}
}

func TestReadWrite(t *testing.T) {
	blob := connector_blob.New(make([]byte, 0x100))
	view := connector.PhysView{Conn: blob}
	typ := MustParse("{pid: u32; name: [4]char}")

	val := map[string]any{"pid": uint32(42), "name": []byte("init")}
	if err := Write(view, 0x40, typ, val); err != nil {
		t.Fatal(err)
	}
	got, err := Read(view, 0x40, typ)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"pid": uint32(42), "name": []any{byte('i'), byte('n'), byte('i'), byte('t')}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("read back (-want +got):\n%s", diff)
	}
	if s := Format(typ, got); s != `{pid: 42, name: ['i' 'n' 'i' 't']}` {
		t.Errorf("format = %s", s)
	}

	if _, err := Read(view, 0xfe, typ); !errors.Is(err, memory.ErrOutOfBounds) {
		t.Errorf("read past the end: %v", err)
	}
}

func TestString(t *testing.T) {
	typ := MustParse("{a: u8; b@0x8: [2]ptr32}")
	if got := typ.String(); got != "{a@0x0: ubyte; b@0x8: [2]ptr32}" {
		t.Errorf("String = %s", got)
	}
	again, err := Parse(typ.String())
	if err != nil {
		t.Fatal(err)
	}
	if again.Size() != typ.Size() {
		t.Errorf("reparsed size %d, want %d", again.Size(), typ.Size())
	}
}
