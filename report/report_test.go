package report

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"gomemflow/arch"
	"gomemflow/guestos"
	"gomemflow/memory"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sess, err := s.NewSession("blob", "kernel")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(sess.ID); err != nil {
		t.Errorf("session id %q: %v", sess.ID, err)
	}

	procs := []guestos.ProcessInfo{
		{Address: 0xFFFFF80000101000, PID: 612, PPID: 4, Name: "smss.exe", Path: `\SystemRoot\smss.exe`, DTB: 0x700000, Arch: arch.X86_64},
		{Address: 0xFFFFF80000100000, PID: 4, Name: "System", DTB: 0x1000, Arch: arch.X86_64},
	}
	if err := s.AddProcesses(sess.ID, procs); err != nil {
		t.Fatal(err)
	}
	mods := []guestos.ModuleInfo{
		{Address: 0x20000, Process: procs[0].Address, Base: 0x7FFA10000000, Size: 0x1F0000, Name: "ntdll.dll", Arch: arch.X86_64},
		{Address: 0x10000, Process: procs[0].Address, Base: 0x7FF600000000, Size: 0x20000, Name: "smss.exe", Arch: arch.X86_64},
		{Address: 0xFFFFF80000200000, Base: 0xFFFFF80000400000, Size: 0x1000, Name: "ntoskrnl.exe", Arch: arch.X86_64},
	}
	if err := s.AddModules(sess.ID, mods); err != nil {
		t.Fatal(err)
	}

	got, err := s.Processes(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]guestos.ProcessInfo{procs[1], procs[0]}, got); diff != "" {
		t.Errorf("processes (-want +got):\n%s", diff)
	}

	gotMods, err := s.Modules(sess.ID, procs[0].Address)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]guestos.ModuleInfo{mods[1], mods[0]}, gotMods); diff != "" {
		t.Errorf("modules (-want +got):\n%s", diff)
	}
	kmods, err := s.Modules(sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(kmods) != 1 || kmods[0].Base != 0xFFFFF80000400000 {
		t.Errorf("kernel modules = %+v", kmods)
	}
}

func TestSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.NewSession("file", "kernel")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	// reopening keeps earlier sessions
	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	b, err := s.NewSession("qemu", "kernel")
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := s.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	if diff := cmp.Diff([]string{a.ID, b.ID}, ids); diff != "" {
		t.Errorf("sessions (-want +got):\n%s", diff)
	}
	if !sessions[0].Created.Equal(a.Created) {
		t.Errorf("created = %v, want %v", sessions[0].Created, a.Created)
	}

	if err := s.AddProcesses("missing", nil); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("unknown session: %v", err)
	}
	if _, err := s.Processes("missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("unknown session: %v", err)
	}
}
