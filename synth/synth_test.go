package synth

import (
	"errors"
	"testing"

	"gomemflow/memory"
	"gomemflow/mmu"
)

func TestKernelListIsCircular(t *testing.T) {
	img, err := Build(Default())
	if err != nil {
		t.Fatal(err)
	}
	tr := mmu.NewTranslator(mmu.X64{}, img.Blob, 0)
	kernel := tr.Space(memory.PhysicalAddress(img.Profile.DTB))

	head := memory.Address(img.Profile.ProcessListHead)
	var pids []uint32
	for cur, err := memory.ReadPointer(kernel, head, 8); cur != head; cur, err = memory.ReadPointer(kernel, cur, 8) {
		if err != nil {
			t.Fatal(err)
		}
		pid, err := memory.Read[uint32](kernel, cur+0x10)
		if err != nil {
			t.Fatal(err)
		}
		pids = append(pids, pid)
		if len(pids) > 10 {
			t.Fatal("list does not return to its head")
		}
	}
	if len(pids) != 3 || pids[0] != 4 || pids[1] != 612 || pids[2] != 1337 {
		t.Errorf("pids = %v", pids)
	}

	// blink of the head points at the last element
	last, err := memory.ReadPointer(kernel, head+8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if last != img.Processes[2].Address {
		t.Errorf("head blink = %s, want %s", last, img.Processes[2].Address)
	}
}

func TestProcessSpaces(t *testing.T) {
	img, err := Build(Default())
	if err != nil {
		t.Fatal(err)
	}
	tr := mmu.NewTranslator(mmu.X64{}, img.Blob, 0)

	notepad := img.Processes[2]
	space := tr.Space(notepad.DTB)
	name, err := memory.ReadCString(space, 0x7FF700000000, 32)
	if err != nil {
		t.Fatal(err)
	}
	if name != "notepad.exe" {
		t.Errorf("module page holds %q", name)
	}

	// kernel half is shared
	if _, err := memory.Read[uint64](space, memory.Address(img.Profile.ProcessListHead)); err != nil {
		t.Errorf("kernel half not mapped in process space: %v", err)
	}

	// another process has no notepad image
	smss := tr.Space(img.Processes[1].DTB)
	if _, err := memory.Read[uint64](smss, 0x7FF700000000); !errors.Is(err, memory.ErrUnmappedPage) {
		t.Errorf("read foreign module = %v, want ErrUnmappedPage", err)
	}
}

func TestBuildTooSmall(t *testing.T) {
	if _, err := Build(Spec{MemSize: 1 << 20}); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("Build = %v, want ErrArgument", err)
	}
}
