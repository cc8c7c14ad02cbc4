package os_native

import (
	"errors"
	"os"
	"testing"

	"gomemflow/args"
	"gomemflow/guestos"
	"gomemflow/memory"
	"gomemflow/procfs"

	"github.com/google/go-cmp/cmp"
)

func fixture() *Native {
	return New(procfs.FS{Root: "../procfs/testdata/proc"})
}

func TestProcessList(t *testing.T) {
	n := fixture()
	list, err := n.ProcessInfoList()
	if err != nil {
		t.Fatal(err)
	}
	var pids []uint32
	for _, p := range list {
		pids = append(pids, p.PID)
	}
	if diff := cmp.Diff([]uint32{1, 42, 77}, pids); diff != "" {
		t.Errorf("pids (-want +got):\n%s", diff)
	}

	p, err := n.ProcessByName("qemu-system-x86_64")
	if err != nil {
		t.Fatal(err)
	}
	info := p.Info()
	if info.PID != 42 || info.Address != 42 || info.DTB != 0 {
		t.Errorf("info = %+v", info)
	}
	if info.CommandLine != "qemu-system-x86_64 -m 512" {
		t.Errorf("command line = %q", info.CommandLine)
	}

	if _, err := n.ProcessByPID(4242); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("missing pid: %v", err)
	}
}

func TestProcessModules(t *testing.T) {
	n := fixture()
	p, err := n.ProcessByPID(42)
	if err != nil {
		t.Fatal(err)
	}
	mods, err := p.ModuleInfoList()
	if err != nil {
		t.Fatal(err)
	}
	want := []guestos.ModuleInfo{
		{Address: 0x55d0c0a00000, Process: 42, Base: 0x55d0c0a00000, Size: 0x500000, Name: "qemu-system-x86_64", Path: "/usr/bin/qemu-system-x86_64", Arch: HostArch()},
		{Address: 0x7f0040000000, Process: 42, Base: 0x7f0040000000, Size: 0x180000, Name: "libc.so.6", Path: "/usr/lib/libc.so.6", Arch: HostArch()},
	}
	if diff := cmp.Diff(want, mods); diff != "" {
		t.Errorf("modules (-want +got):\n%s", diff)
	}

	primary, err := p.PrimaryModule()
	if err != nil {
		t.Fatal(err)
	}
	if primary.Name != "qemu-system-x86_64" {
		t.Errorf("primary = %s", primary.Name)
	}
	m, err := p.ModuleByAddress(0x7f0040100010)
	if err != nil || m.Name != "libc.so.6" {
		t.Errorf("by address = %v, %v", m.Name, err)
	}

	// pid 1 has no maps file
	p1, err := n.ProcessByPID(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p1.ModuleInfoList(); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("no maps: %v", err)
	}
}

func TestKernelModules(t *testing.T) {
	n := fixture()
	mods, err := n.ModuleInfoList()
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 2 || mods[0].Name != "nf_tables" || mods[1].Base != 0xffffffffc0800000 {
		t.Errorf("modules = %+v", mods)
	}
	if _, err := n.ReadMemory(0, 8); !errors.Is(err, memory.ErrUnsupported) {
		t.Errorf("os read: %v", err)
	}
}

func TestClose(t *testing.T) {
	n := fixture()
	p, err := n.ProcessByPID(42)
	if err != nil {
		t.Fatal(err)
	}
	n.Close()
	if _, err := n.ProcessInfoList(); !errors.Is(err, memory.ErrDetachedProcess) {
		t.Errorf("list after close: %v", err)
	}
	if _, err := p.ReadMemory(0x1000, 8); !errors.Is(err, memory.ErrDetachedProcess) {
		t.Errorf("read after close: %v", err)
	}
}

func TestOpenArgs(t *testing.T) {
	if _, err := Open(nil, args.MustParse("bogus=1")); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("unknown key: %v", err)
	}
	o, err := Open(nil, args.MustParse("root=../procfs/testdata/proc"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.ProcessByPID(77); err != nil {
		t.Error(err)
	}
}

func TestReadSelf(t *testing.T) {
	if _, err := os.Stat("/proc/self/maps"); err != nil {
		t.Skip("no procfs")
	}
	n := New(procfs.Default)
	p, err := n.ProcessByPID(uint32(os.Getpid()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ModuleInfoList(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ReadMemory(0xFFFFFFFFFFFFF000, 0x2000); !errors.Is(err, memory.ErrOutOfBounds) {
		t.Errorf("ReadMemory across the top = %v, want ErrOutOfBounds", err)
	}
	// the zero page is never mapped, so the first chunk fails
	if _, err := p.ReadMemory(0, 1<<62); err == nil {
		t.Error("ReadMemory(0, 1<<62) succeeded")
	}
}
