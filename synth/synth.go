// Package synth builds physical memory images holding real x86-64 page
// tables with a kernel process list and module lists, laid out per
// Profile(). Tests and the memflow synth command use them in place of a
// live machine.
package synth

import (
	"encoding/binary"
	"fmt"

	"gomemflow/arch"
	"gomemflow/connector_blob"
	"gomemflow/memory"
	"gomemflow/profile"
)

const (
	// KernelBase is the kernel virtual address of the kernel region.
	KernelBase = 0xFFFFF80000000000

	// KernelSize is the size of the 2M mapped kernel region.
	KernelSize = 4 << 20

	// UserHeap is where each process's user data starts.
	UserHeap = 0x10000

	// UserHeapSize is the 4K mapped size of each process's user data.
	UserHeapSize = 64 << 10

	kernelPhys   = 0x200000
	firstFrame   = kernelPhys + KernelSize
	minImageSize = 8 << 20

	processElemSize = 0x60
	moduleElemSize  = 0x40
	listEntrySize   = 16
)

// Profile returns the layout synthetic images are built with.
func Profile() *profile.Profile {
	f := func(off, size uint64, kind profile.Kind) profile.Field {
		return profile.Field{Offset: profile.Hex(off), Size: profile.Hex(size), Kind: kind}
	}
	return &profile.Profile{
		Name:       "synthetic-x64",
		Arch:       arch.X86_64,
		KernelBase: KernelBase,
		KernelSize: KernelSize,
		Process: profile.ProcessLayout{
			Links:       f(0x00, 0, profile.Ptr),
			PID:         f(0x10, 0, profile.U32),
			PPID:        f(0x14, 0, profile.U32),
			DTB:         f(0x18, 0, profile.U64),
			Name:        f(0x20, 16, profile.CStr),
			Path:        f(0x30, 256, profile.CStrPtr),
			CommandLine: f(0x38, 0, profile.UnicodeString),
			ModuleList:  f(0x48, 0, profile.Ptr),
		},
		Module: profile.ModuleLayout{
			Links: f(0x00, 0, profile.Ptr),
			Base:  f(0x10, 0, profile.Ptr),
			Size:  f(0x18, 0, profile.U64),
			Name:  f(0x20, 0, profile.UnicodeString),
			Path:  f(0x30, 256, profile.CStrPtr),
		},
	}
}

// Module describes one module to place in a list.
type Module struct {
	Name string
	Path string
	Base uint64
	Size uint64
}

// Process describes one process to place in the kernel process list.
type Process struct {
	PID         uint32
	PPID        uint32
	Name        string
	Path        string
	CommandLine string
	Modules     []Module
}

// Spec is the content of an image.
type Spec struct {
	// MemSize is the physical image size, at least 8MiB (default 16MiB)
	MemSize       int
	Processes     []Process
	KernelModules []Module
}

// BuiltProcess records where a process landed.
type BuiltProcess struct {
	Process
	Address    memory.Address // kernel element address
	DTB        memory.PhysicalAddress
	ModuleHead memory.Address // user address of the module list head
}

// Image is a built synthetic machine.
type Image struct {
	Blob      *connector_blob.Blob
	Profile   *profile.Profile
	Processes []BuiltProcess
}

// KernelPhys returns the physical address backing kernel address va.
func (img *Image) KernelPhys(va memory.Address) memory.PhysicalAddress {
	return memory.PhysicalAddress(uint64(va) - KernelBase + kernelPhys)
}

// region is a virtually and physically contiguous bump allocator.
type region struct {
	mem  *physical
	va   uint64
	pa   uint64
	size uint64
	used uint64
}

func (r *region) alloc(size uint64) (va, pa uint64, err error) {
	size = (size + 15) &^ 15
	if r.used+size > r.size {
		return 0, 0, fmt.Errorf("region at %#x exhausted: %w", r.va, memory.ErrOutOfBounds)
	}
	va, pa = r.va+r.used, r.pa+r.used
	r.used += size
	return va, pa, nil
}

func (r *region) phys(va uint64) uint64 {
	return va - r.va + r.pa
}

func (r *region) putBytes(va uint64, b []byte) {
	copy(r.mem.data[r.phys(va):], b)
}

func (r *region) put64(va, v uint64) {
	r.mem.put64(r.phys(va), v)
}

func (r *region) put32(va uint64, v uint32) {
	binary.LittleEndian.PutUint32(r.mem.data[r.phys(va):], v)
}

// cstr stores s NUL terminated and returns its address.
func (r *region) cstr(s string) (uint64, error) {
	va, _, err := r.alloc(uint64(len(s)) + 1)
	if err != nil {
		return 0, err
	}
	r.putBytes(va, append([]byte(s), 0))
	return va, nil
}

// unicodeString fills the 16 byte UNICODE_STRING at at with s.
func (r *region) unicodeString(at uint64, s string) error {
	enc := memory.EncodeUTF16(s)
	buf, _, err := r.alloc(uint64(len(enc)) + 2)
	if err != nil {
		return err
	}
	r.putBytes(buf, enc)
	var hdr [16]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(len(enc)))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(enc)+2))
	binary.LittleEndian.PutUint64(hdr[8:], buf)
	r.putBytes(at, hdr[:])
	return nil
}

// list builds a circular doubly linked list in r whose elements have their
// links at offset 0.
type list struct {
	r    *region
	head uint64
}

func newList(r *region) (*list, error) {
	head, _, err := r.alloc(listEntrySize)
	if err != nil {
		return nil, err
	}
	r.put64(head, head)
	r.put64(head+8, head)
	return &list{r: r, head: head}, nil
}

// pushBack links the entry at links before the head.
func (l *list) pushBack(links uint64) {
	last := l.r.mem.get64(l.r.phys(l.head + 8))
	l.r.put64(links, l.head)
	l.r.put64(links+8, last)
	l.r.put64(last, links)
	l.r.put64(l.head+8, links)
}

func (l *list) pushModule(m Module) error {
	elem, _, err := l.r.alloc(moduleElemSize)
	if err != nil {
		return err
	}
	l.r.put64(elem+0x10, m.Base)
	l.r.put64(elem+0x18, m.Size)
	if err := l.r.unicodeString(elem+0x20, m.Name); err != nil {
		return err
	}
	path, err := l.r.cstr(m.Path)
	if err != nil {
		return err
	}
	l.r.put64(elem+0x30, path)
	l.pushBack(elem)
	return nil
}

// Build lays spec out into a fresh image.
func Build(spec Spec) (*Image, error) {
	size := spec.MemSize
	if size == 0 {
		size = 16 << 20
	}
	if size < minImageSize {
		return nil, fmt.Errorf("synthetic image needs at least %d bytes: %w", minImageSize, memory.ErrArgument)
	}
	mem := &physical{data: make([]byte, size), next: firstFrame}

	kernel, err := newPageTables(mem)
	if err != nil {
		return nil, err
	}
	for off := uint64(0); off < KernelSize; off += largeSize {
		if err := kernel.map2M(KernelBase+off, kernelPhys+off, 0); err != nil {
			return nil, err
		}
	}
	kr := &region{mem: mem, va: KernelBase, pa: kernelPhys, size: KernelSize}

	prof := Profile()
	prof.DTB = profile.Hex(kernel.pml4)

	procs, err := newList(kr)
	if err != nil {
		return nil, err
	}
	prof.ProcessListHead = profile.Hex(procs.head)

	kmods, err := newList(kr)
	if err != nil {
		return nil, err
	}
	prof.ModuleListHead = profile.Hex(kmods.head)
	for _, m := range spec.KernelModules {
		if err := kmods.pushModule(m); err != nil {
			return nil, err
		}
	}

	img := &Image{Profile: prof}
	for _, p := range spec.Processes {
		built, err := buildProcess(mem, kernel, kr, procs, p)
		if err != nil {
			return nil, fmt.Errorf("process %d: %w", p.PID, err)
		}
		img.Processes = append(img.Processes, built)
	}

	img.Blob = connector_blob.New(mem.data)
	return img, nil
}

func buildProcess(mem *physical, kernel *pageTables, kr *region, procs *list, p Process) (BuiltProcess, error) {
	pt, err := newPageTables(mem)
	if err != nil {
		return BuiltProcess{}, err
	}

	heapPhys, err := mem.frames(UserHeapSize / pageSize)
	if err != nil {
		return BuiltProcess{}, err
	}
	for off := uint64(0); off < UserHeapSize; off += pageSize {
		if err := pt.map4K(UserHeap+off, heapPhys+off, pageUser); err != nil {
			return BuiltProcess{}, err
		}
	}
	ur := &region{mem: mem, va: UserHeap, pa: heapPhys, size: UserHeapSize}

	mods, err := newList(ur)
	if err != nil {
		return BuiltProcess{}, err
	}
	for _, m := range p.Modules {
		if err := mods.pushModule(m); err != nil {
			return BuiltProcess{}, err
		}
		// the first page of every module holds its name
		if m.Base != 0 && m.Base%pageSize == 0 {
			frame, err := mem.frame()
			if err != nil {
				return BuiltProcess{}, err
			}
			if err := pt.map4K(m.Base, frame, pageUser); err != nil {
				return BuiltProcess{}, err
			}
			copy(mem.data[frame:], m.Name)
		}
	}
	pt.shareKernel(kernel)

	elem, _, err := kr.alloc(processElemSize)
	if err != nil {
		return BuiltProcess{}, err
	}
	kr.put32(elem+0x10, p.PID)
	kr.put32(elem+0x14, p.PPID)
	kr.put64(elem+0x18, pt.pml4)
	name := []byte(p.Name)
	if len(name) > 15 {
		name = name[:15]
	}
	kr.putBytes(elem+0x20, name)
	path, err := kr.cstr(p.Path)
	if err != nil {
		return BuiltProcess{}, err
	}
	kr.put64(elem+0x30, path)
	if err := kr.unicodeString(elem+0x38, p.CommandLine); err != nil {
		return BuiltProcess{}, err
	}
	kr.put64(elem+0x48, mods.head)
	procs.pushBack(elem)

	return BuiltProcess{
		Process:    p,
		Address:    memory.Address(elem),
		DTB:        memory.PhysicalAddress(pt.pml4),
		ModuleHead: memory.Address(mods.head),
	}, nil
}

// Default is a small machine with three processes and two kernel modules.
func Default() Spec {
	return Spec{
		Processes: []Process{
			{PID: 4, Name: "System", Path: `\SystemRoot\System32\ntoskrnl.exe`, CommandLine: ""},
			{PID: 612, PPID: 4, Name: "smss.exe", Path: `C:\Windows\System32\smss.exe`, CommandLine: `\SystemRoot\System32\smss.exe`,
				Modules: []Module{
					{Name: "smss.exe", Path: `C:\Windows\System32\smss.exe`, Base: 0x7FF600000000, Size: 0x25000},
					{Name: "ntdll.dll", Path: `C:\Windows\System32\ntdll.dll`, Base: 0x7FFA10000000, Size: 0x1F8000},
				}},
			{PID: 1337, PPID: 612, Name: "notepad.exe", Path: `C:\Windows\notepad.exe`, CommandLine: `notepad.exe C:\notes.txt`,
				Modules: []Module{
					{Name: "notepad.exe", Path: `C:\Windows\notepad.exe`, Base: 0x7FF700000000, Size: 0x38000},
					{Name: "ntdll.dll", Path: `C:\Windows\System32\ntdll.dll`, Base: 0x7FFA10000000, Size: 0x1F8000},
					{Name: "KERNEL32.DLL", Path: `C:\Windows\System32\kernel32.dll`, Base: 0x7FFA0F000000, Size: 0xC2000},
				}},
		},
		KernelModules: []Module{
			{Name: "ntoskrnl.exe", Path: `\SystemRoot\system32\ntoskrnl.exe`, Base: 0xFFFFF80400000000, Size: 0x1046000},
			{Name: "hal.dll", Path: `\SystemRoot\system32\hal.dll`, Base: 0xFFFFF80401000000, Size: 0x6000},
		},
	}
}
