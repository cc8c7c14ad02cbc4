package memory_map

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseProcMaps(t *testing.T) {
	f, err := os.Open("testdata/maps")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := ParseProcMaps(f)
	if err != nil {
		t.Fatal(err)
	}
	want := []MemoryMapItem{
		{Address: 0x400000, Size: 0x1af000, Perms: "r-xp", Path: "/bin/snet"},
		{Address: 0x7fa392342000, Size: 0x1000, Perms: "rw-p", Offset: 0x28000, Path: "/lib/x86_64-linux-gnu/ld-2.27.so"},
		{Address: 0x7fa392343000, Size: 0x1000, Perms: "rw-p"},
		{Address: 0x7ffc1e9f0000, Size: 0x21000, Perms: "rw-p", Path: "[stack]"},
		{Address: 0xffffffffff600000, Size: 0x1000, Perms: "r-xp", Path: "[vsyscall]"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseProcMaps mismatch (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	mm := []MemoryMapItem{
		{Address: 0x3000, Size: 0x1000, Perms: "r--p"},
		{Address: 0x1000, Size: 0x1000, Perms: "rw-p"},
	}
	Sort(mm)

	tests := []struct {
		name string
		addr uint64
		want uint64
		ok   bool
	}{
		{name: "start of first", addr: 0x1000, want: 0x1000, ok: true},
		{name: "end of first", addr: 0x1fff, want: 0x1000, ok: true},
		{name: "gap", addr: 0x2000},
		{name: "second", addr: 0x3800, want: 0x3000, ok: true},
		{name: "past end", addr: 0x4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := Find(tt.addr, mm)
			if (item != nil) != tt.ok {
				t.Fatalf("Find(%#x) = %v, want found=%v", tt.addr, item, tt.ok)
			}
			if item != nil && item.Address != tt.want {
				t.Errorf("Find(%#x) = %#x, want %#x", tt.addr, item.Address, tt.want)
			}
		})
	}

	if !Covers(0x1000, 0x1000, mm) {
		t.Error("Covers whole first region = false")
	}
	if Covers(0x1800, 0x1000, mm) {
		t.Error("Covers across gap = true")
	}
}

func TestLargest(t *testing.T) {
	mm := []MemoryMapItem{
		{Address: 0x1000, Size: 0x1000, Perms: "rw-p"},
		{Address: 0x2000, Size: 0x8000, Perms: "r--p"},
		{Address: 0xa000, Size: 0x4000, Perms: "rw-p"},
	}
	got := Largest(mm, MemoryMapItem.IsWritable)
	if got == nil || got.Address != 0xa000 {
		t.Fatalf("Largest writable = %v, want 0xa000", got)
	}
	if got := Largest(nil, nil); got != nil {
		t.Errorf("Largest(nil) = %v, want nil", got)
	}
}
