package pod

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gomemflow/connector"
	"gomemflow/connector_blob"
	"gomemflow/memory"
)

type header struct {
	Magic uint32
	Flags uint16
	Pad   uint16
	Next  uint64  `pod:"valid_pointer"`
	Name  [8]byte `pod:"char_array"`
}

type node struct {
	Value uint32
	Pad   uint32
	Next  *node `pod:"valid_pointer"`
}

type strictNode struct {
	Value uint32
	Pad   uint32
	Next  *strictNode `pod:"valid_pointer,err_failure"`
}

type required struct {
	Ptr uint64 `pod:"valid_pointer,required"`
}

func view(size int) connector.PhysView {
	return connector.PhysView{Conn: connector_blob.New(make([]byte, size))}
}

func TestReadWriteT(t *testing.T) {
	v := view(0x1000)
	in := header{Magic: 0xfeedface, Flags: 3, Next: 0xdead0000, Name: [8]byte{'a', 'b', 'c', 0, 'z', 'z'}}
	if err := WriteT(v, 0x80, in); err != nil {
		t.Fatal(err)
	}
	got, err := ReadT[header](v, 0x80)
	if err != nil {
		t.Fatal(err)
	}
	want := header{Magic: 0xfeedface, Flags: 3, Name: [8]byte{'a', 'b', 'c'}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}

	in.Next = 0x200
	if err := WriteT(v, 0x80, in); err != nil {
		t.Fatal(err)
	}
	got, err = ReadT[header](v, 0x80)
	if err != nil {
		t.Fatal(err)
	}
	if got.Next != 0x200 {
		t.Errorf("valid pointer nulled: %#x", got.Next)
	}

	if _, err := ReadT[struct{ S string }](v, 0); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("string field: %v", err)
	}
	if err := WriteT(v, 0, struct{ P *int }{}); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("pointer field: %v", err)
	}
	if _, err := ReadT[header](v, 0xff0); !errors.Is(err, memory.ErrOutOfBounds) {
		t.Errorf("read past the end: %v", err)
	}
}

func TestReadSliceT(t *testing.T) {
	v := view(0x100)
	for i, val := range []uint32{10, 20, 30} {
		if err := WriteT(v, memory.Address(0x10+4*i), val); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ReadSliceT[uint32](v, 0x10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{10, 20, 30}, got); diff != "" {
		t.Errorf("slice (-want +got):\n%s", diff)
	}
	empty, err := ReadSliceT[uint32](v, 0x10, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty = %v, %v", empty, err)
	}
	if _, err := ReadSliceT[uint32](v, 0x10, -1); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("negative count: %v", err)
	}
}

func TestReadStruct(t *testing.T) {
	v := view(0x1000)
	type raw struct {
		Value uint32
		Pad   uint32
		Next  uint64
	}
	if err := WriteT(v, 0x100, raw{Value: 1, Next: 0x200}); err != nil {
		t.Fatal(err)
	}
	if err := WriteT(v, 0x200, raw{Value: 2}); err != nil {
		t.Fatal(err)
	}

	var n node
	if err := ReadStruct(v, 0x100, &n); err != nil {
		t.Fatal(err)
	}
	if n.Value != 1 || n.Next == nil || n.Next.Value != 2 || n.Next.Next != nil {
		t.Errorf("chain = %+v", n)
	}

	if err := WriteT(v, 0x200, raw{Value: 2, Next: 0x7fff0000}); err != nil {
		t.Fatal(err)
	}
	n = node{}
	if err := ReadStruct(v, 0x100, &n); err != nil {
		t.Fatal(err)
	}
	if n.Next == nil || n.Next.Next != nil {
		t.Errorf("dangling pointer followed: %+v", n.Next)
	}

	var s strictNode
	if err := ReadStruct(v, 0x100, &s); !errors.Is(err, memory.ErrUnmappedPage) {
		t.Errorf("strict dangling pointer: %v", err)
	}
	if err := ReadStruct(v, 0x100, n); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("non pointer: %v", err)
	}
}

func TestValidate(t *testing.T) {
	v := view(0x100)
	tests := []struct {
		ptr  uint64
		want error
	}{
		{0x10, nil},
		{0, memory.ErrArgument},
		{0x1000, memory.ErrUnmappedPage},
	}
	for _, tt := range tests {
		err := Validate(v, &required{Ptr: tt.ptr})
		if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
			t.Errorf("Validate(%#x) = %v, want %v", tt.ptr, err, tt.want)
		}
	}
}

func TestReadPointerList(t *testing.T) {
	v := view(0x100)
	for i, p := range []uint64{0x10, 0, 0xffffff00, 0x20} {
		if err := WriteT(v, memory.Address(0x80+8*i), p); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ReadPointerList(v, 0x80, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]memory.Address{0x10, 0x20}, got); diff != "" {
		t.Errorf("pointers (-want +got):\n%s", diff)
	}
}
