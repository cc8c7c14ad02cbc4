package connector_blob

import (
	"errors"
	"testing"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/memory"

	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	c, err := Open(args.MustParse("size=64KiB"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if got := c.Metadata().MaxAddress; got != 64*1024 {
		t.Fatalf("MaxAddress = %s", got)
	}

	want := []byte{1, 2, 3, 4, 5}
	if err := c.WritePhys(0x1000, want); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadPhys(0x1000, 5)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadPhys mismatch (-want +got):\n%s", diff)
	}
}

func TestBounds(t *testing.T) {
	c := New(make([]byte, 0x2000))

	tests := []struct {
		name string
		addr memory.PhysicalAddress
		size memory.Size
		err  error
	}{
		{"inside", 0x1ff0, 0x10, nil},
		{"at max", 0x2000, 1, memory.ErrOutOfBounds},
		{"past max", 0x3000, 1, memory.ErrOutOfBounds},
		{"straddles max", 0x1ff8, 0x10, memory.ErrOutOfBounds},
		{"overflow", 0xFFFFFFFFFFFFFFFF, 2, memory.ErrOutOfBounds},
		{"huge", 0, 1 << 62, memory.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ReadPhys(tt.addr, tt.size)
			if !errors.Is(err, tt.err) {
				t.Errorf("ReadPhys(%s, %d) = %v, want %v", tt.addr, tt.size, err, tt.err)
			}
		})
	}
}

func TestReadOnly(t *testing.T) {
	c, err := Open(args.MustParse("size=4096,readonly=true"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Metadata().ReadOnly {
		t.Fatal("expected read-only metadata")
	}
	if err := c.WritePhys(0, []byte{1}); !errors.Is(err, memory.ErrReadOnly) {
		t.Fatalf("WritePhys = %v, want ErrReadOnly", err)
	}
}

func TestClosed(t *testing.T) {
	c := New(make([]byte, 16))
	c.Close()
	if c.Alive() {
		t.Fatal("Alive after Close")
	}
	if _, err := c.ReadPhys(0, 1); !errors.Is(err, memory.ErrDetachedProcess) {
		t.Fatalf("ReadPhys after Close = %v", err)
	}
	// second close is a no-op
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadPhysList(t *testing.T) {
	data := make([]byte, 0x100)
	for i := range data {
		data[i] = byte(i)
	}
	c := NewReadOnly(data)

	ops := []connector.PhysReadOp{
		{Addr: 0x10, Buf: make([]byte, 2)},
		{Addr: 0x200, Buf: make([]byte, 2)},
		{Addr: 0xfe, Buf: make([]byte, 2)},
	}
	err := c.ReadPhysList(ops)
	if !errors.Is(err, memory.ErrOutOfBounds) {
		t.Fatalf("ReadPhysList = %v, want ErrOutOfBounds", err)
	}
	if ops[0].Err != nil || ops[2].Err != nil {
		t.Fatalf("unexpected op errors: %v %v", ops[0].Err, ops[2].Err)
	}
	if diff := cmp.Diff([]byte{0x10, 0x11}, ops[0].Buf); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]byte{0xfe, 0xff}, ops[2].Buf); diff != "" {
		t.Error(diff)
	}
}

func TestOpenErrors(t *testing.T) {
	for _, s := range []string{
		"size=0",
		"size=lots",
		"size=0xFFFFFFFFFFFFFFFF",
		"size=0x2000000000",
		"bogus=1",
		"readonly=maybe",
	} {
		if _, err := Open(args.MustParse(s)); !errors.Is(err, memory.ErrArgument) {
			t.Errorf("Open(%q) = %v, want ErrArgument", s, err)
		}
	}
}

func TestBatcher(t *testing.T) {
	data := make([]byte, 0x10000)
	for i := range data {
		data[i] = byte(i >> 8)
	}
	c := New(data)

	b := connector.NewBatcher(c)
	bufs := make([][]byte, 16)
	for i := range bufs {
		bufs[i] = make([]byte, 4)
		b.Read(memory.PhysicalAddress(i*0x1000), bufs[i])
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	for i, buf := range bufs {
		if buf[0] != byte(i*0x10) {
			t.Errorf("buf %d = %x", i, buf)
		}
	}
}
