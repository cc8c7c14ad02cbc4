package connector_file

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"gomemflow/args"
	"gomemflow/memory"

	"github.com/google/go-cmp/cmp"
)

func writeImage(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "mem.raw")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadOnlyByDefault(t *testing.T) {
	path := writeImage(t, 0x2000)
	c, err := Open(args.MustParse(path))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	md := c.Metadata()
	if !md.ReadOnly || md.MaxAddress != 0x2000 {
		t.Fatalf("Metadata = %+v", md)
	}
	got, err := c.ReadPhys(0x1ffe, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xfe, 0xff}, got); diff != "" {
		t.Error(diff)
	}
	if err := c.WritePhys(0, []byte{1}); !errors.Is(err, memory.ErrReadOnly) {
		t.Errorf("WritePhys = %v, want ErrReadOnly", err)
	}
	if _, err := c.ReadPhys(0x2000, 1); !errors.Is(err, memory.ErrOutOfBounds) {
		t.Errorf("ReadPhys at max = %v, want ErrOutOfBounds", err)
	}
}

func TestReadWrite(t *testing.T) {
	path := writeImage(t, 0x1000)
	c, err := Open(args.MustParse("path=" + path + ",rw=true"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WritePhys(0x10, []byte("memflow")); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadPhys(0x10, 7)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "memflow" {
		t.Errorf("ReadPhys = %q", got)
	}
	c.Close()

	if _, err := c.ReadPhys(0, 1); !errors.Is(err, memory.ErrDetachedProcess) {
		t.Errorf("ReadPhys after Close = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[0x10:0x17]) != "memflow" {
		t.Errorf("image holds %q", data[0x10:0x17])
	}
}

func TestSizeOverride(t *testing.T) {
	path := writeImage(t, 0x2000)
	c, err := Open(args.MustParse(path + ",size=0x1000"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Metadata().MaxAddress != 0x1000 {
		t.Fatalf("MaxAddress = %s", c.Metadata().MaxAddress)
	}
	if _, err := c.ReadPhys(0x1000, 1); !errors.Is(err, memory.ErrOutOfBounds) {
		t.Errorf("ReadPhys past override = %v", err)
	}
	if _, err := c.ReadPhys(0, 1<<62); !errors.Is(err, memory.ErrOutOfBounds) {
		t.Errorf("ReadPhys(0, 1<<62) = %v", err)
	}

	if _, err := Open(args.MustParse(path + ",size=1MiB")); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("oversized override = %v, want ErrArgument", err)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(args.Args{}); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("no path = %v", err)
	}
	missing := filepath.Join(t.TempDir(), "missing.raw")
	if _, err := Open(args.MustParse(missing)); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file = %v", err)
	}
}
