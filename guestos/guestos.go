// Package guestos defines the OS and Process layers that sit on top of a
// connector, plus the lookups every implementation shares.
package guestos

import (
	"fmt"
	"iter"
	"strings"

	"gomemflow/arch"
	"gomemflow/memory"
)

// Info describes an OS instance.
type Info struct {
	Arch arch.Ident     `json:"arch"`
	Base memory.Address `json:"base"`
	Size memory.Size    `json:"size"`
}

// ProcessInfo identifies one process. It is a value snapshot taken while
// enumerating.
type ProcessInfo struct {
	// Address is the kernel object address; native OSes derive it from the pid
	Address     memory.Address         `json:"address"`
	PID         uint32                 `json:"pid"`
	PPID        uint32                 `json:"ppid"`
	Name        string                 `json:"name"`
	Path        string                 `json:"path"`
	CommandLine string                 `json:"command_line"`
	DTB         memory.PhysicalAddress `json:"dtb"`
	Arch        arch.Ident             `json:"arch"`
}

// ModuleInfo identifies one loaded module.
type ModuleInfo struct {
	Address memory.Address `json:"address"`
	// Process is the owning process address, 0 for kernel modules
	Process memory.Address `json:"process"`
	Base    memory.Address `json:"base"`
	Size    memory.Size    `json:"size"`
	Name    string         `json:"name"`
	Path    string         `json:"path"`
	Arch    arch.Ident     `json:"arch"`
}

// Contains reports whether addr lies inside the module image.
func (m ModuleInfo) Contains(addr memory.Address) bool {
	return addr >= m.Base && addr < m.Base.Add(m.Size)
}

// OS enumerates processes and kernel modules and accesses its own memory.
type OS interface {
	memory.View

	Info() Info

	// ProcessInfos walks the process list lazily. Every range over the
	// sequence walks the list again from the start.
	ProcessInfos() iter.Seq2[ProcessInfo, error]
	ProcessInfoList() ([]ProcessInfo, error)

	ProcessByInfo(info ProcessInfo) (Process, error)
	ProcessByAddress(addr memory.Address) (Process, error)
	ProcessByPID(pid uint32) (Process, error)
	// ProcessByName returns the first process in enumeration order whose
	// name matches, ignoring case
	ProcessByName(name string) (Process, error)

	ModuleInfoList() ([]ModuleInfo, error)
	ModuleByName(name string) (ModuleInfo, error)

	Close() error
}

// Process is a live view of one process's address space.
type Process interface {
	memory.BatchView

	Info() ProcessInfo
	ModuleInfoList() ([]ModuleInfo, error)
	ModuleByName(name string) (ModuleInfo, error)
	ModuleByAddress(addr memory.Address) (ModuleInfo, error)
	// PrimaryModule is the module named like the process, else the first
	PrimaryModule() (ModuleInfo, error)
}

// Translator is implemented by OSes that translate through page tables.
type Translator interface {
	Translate(dtb memory.PhysicalAddress, va memory.Address) (memory.PhysicalAddress, error)
	FlushTLB()
}

// CollectProcesses drains seq.
func CollectProcesses(seq iter.Seq2[ProcessInfo, error]) ([]ProcessInfo, error) {
	var out []ProcessInfo
	for info, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// FindProcess returns the first process accepted by match.
func FindProcess(seq iter.Seq2[ProcessInfo, error], what string, match func(ProcessInfo) bool) (ProcessInfo, error) {
	for info, err := range seq {
		if err != nil {
			return ProcessInfo{}, err
		}
		if match(info) {
			return info, nil
		}
	}
	return ProcessInfo{}, fmt.Errorf("process %s: %w", what, memory.ErrNotFound)
}

// FindByName matches process names ignoring case.
func FindByName(seq iter.Seq2[ProcessInfo, error], name string) (ProcessInfo, error) {
	return FindProcess(seq, fmt.Sprintf("named %q", name), func(info ProcessInfo) bool {
		return strings.EqualFold(info.Name, name)
	})
}

// FindByPID matches a pid.
func FindByPID(seq iter.Seq2[ProcessInfo, error], pid uint32) (ProcessInfo, error) {
	return FindProcess(seq, fmt.Sprintf("pid %d", pid), func(info ProcessInfo) bool {
		return info.PID == pid
	})
}

// FindByAddress matches the kernel object address.
func FindByAddress(seq iter.Seq2[ProcessInfo, error], addr memory.Address) (ProcessInfo, error) {
	return FindProcess(seq, "at "+addr.String(), func(info ProcessInfo) bool {
		return info.Address == addr
	})
}

// ProcessByNameUnique opens the only process named name. More than one
// match fails with memory.ErrAmbiguous.
func ProcessByNameUnique(o OS, name string) (Process, error) {
	var found []ProcessInfo
	for info, err := range o.ProcessInfos() {
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(info.Name, name) {
			found = append(found, info)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("process named %q: %w", name, memory.ErrNotFound)
	case 1:
		return o.ProcessByInfo(found[0])
	}
	return nil, fmt.Errorf("%d processes named %q: %w", len(found), name, memory.ErrAmbiguous)
}

// ModuleByName returns the first module in list whose name matches,
// ignoring case.
func ModuleByName(list []ModuleInfo, name string) (ModuleInfo, error) {
	for _, m := range list {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return ModuleInfo{}, fmt.Errorf("module %q: %w", name, memory.ErrNotFound)
}

// ModuleByAddress returns the module whose image contains addr.
func ModuleByAddress(list []ModuleInfo, addr memory.Address) (ModuleInfo, error) {
	for _, m := range list {
		if m.Contains(addr) {
			return m, nil
		}
	}
	return ModuleInfo{}, fmt.Errorf("module containing %s: %w", addr, memory.ErrNotFound)
}

// PrimaryModule picks the module named like the process, else the first.
func PrimaryModule(info ProcessInfo, list []ModuleInfo) (ModuleInfo, error) {
	if m, err := ModuleByName(list, info.Name); err == nil {
		return m, nil
	}
	if len(list) == 0 {
		return ModuleInfo{}, fmt.Errorf("process %d has no modules: %w", info.PID, memory.ErrNotFound)
	}
	return list[0], nil
}
