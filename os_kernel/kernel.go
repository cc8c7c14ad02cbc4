// Package os_kernel enumerates processes and modules of a guest kernel by
// walking the lists a profile points at, translating every access through
// the guest page tables.
package os_kernel

import (
	"fmt"
	"iter"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/guestos"
	"gomemflow/memory"
	"gomemflow/mmu"
	"gomemflow/profile"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DriverName is the inventory driver name of this OS.
const DriverName = "kernel"

// DefaultMaxList caps list walks so a looping list cannot hang enumeration.
const DefaultMaxList = 65536

// Options tune a Kernel beyond what the profile says.
type Options struct {
	// DTB overrides the profile's kernel page-table root when non-zero
	DTB memory.PhysicalAddress

	// MaxList caps the number of elements a list walk visits
	MaxList int

	// TLBEntries bounds the translation cache
	TLBEntries int
}

// Kernel is a profile driven OS over a connector it does not own.
type Kernel struct {
	life    connector.Lifetime
	conn    connector.Connector
	prof    *profile.Profile
	tr      *mmu.Translator
	space   *mmu.AddressSpace
	maxList int
	log     *logger.Logger
}

var (
	_ guestos.OS         = (*Kernel)(nil)
	_ guestos.Translator = (*Kernel)(nil)
)

// Open builds a Kernel from arguments.
//
// Accepted keys: profile (or the default value), dtb, maxlist, tlb.
func Open(c connector.Connector, a args.Args) (guestos.OS, error) {
	if err := a.Only("profile", "dtb", "maxlist", "tlb"); err != nil {
		return nil, err
	}
	path := a.DefaultOr("profile", "")
	if path == "" {
		return nil, fmt.Errorf("kernel os needs a profile: %w", memory.ErrArgument)
	}
	prof, err := profile.Load(path)
	if err != nil {
		return nil, err
	}

	dtb, err := a.GetUint("dtb", 0)
	if err != nil {
		return nil, err
	}
	maxList, err := a.GetUint("maxlist", DefaultMaxList)
	if err != nil {
		return nil, err
	}
	tlb, err := a.GetUint("tlb", mmu.DefaultTLBEntries)
	if err != nil {
		return nil, err
	}
	return New(c, prof, Options{DTB: memory.PhysicalAddress(dtb), MaxList: int(maxList), TLBEntries: int(tlb)})
}

// New builds a Kernel over c.
func New(c connector.Connector, prof *profile.Profile, opts Options) (*Kernel, error) {
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	walker, err := mmu.ForArch(prof.Arch)
	if err != nil {
		return nil, err
	}

	dtb := memory.PhysicalAddress(prof.DTB)
	if opts.DTB != 0 {
		dtb = opts.DTB
	}
	if opts.MaxList <= 0 {
		opts.MaxList = DefaultMaxList
	}

	tr := mmu.NewTranslator(walker, c, opts.TLBEntries)
	k := &Kernel{
		conn:    c,
		prof:    prof,
		tr:      tr,
		space:   tr.Space(dtb),
		maxList: opts.MaxList,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "kernel-"+prof.Name)),
	}

	// the list head must translate or nothing will
	if _, err := tr.Translate(dtb, memory.Address(prof.ProcessListHead)); err != nil {
		return nil, fmt.Errorf("process list head %#x: %w", uint64(prof.ProcessListHead), err)
	}
	k.log.Infoln("Kernel opened with profile", prof.Name, "dtb", dtb)
	return k, nil
}

// Profile returns the profile the kernel was opened with.
func (k *Kernel) Profile() *profile.Profile {
	return k.prof
}

func (k *Kernel) check() error {
	if err := k.life.Check("kernel os"); err != nil {
		return err
	}
	if !k.conn.Alive() {
		return fmt.Errorf("connector closed: %w", memory.ErrDetachedProcess)
	}
	return nil
}

func (k *Kernel) Info() guestos.Info {
	return guestos.Info{
		Arch: k.prof.Arch,
		Base: memory.Address(k.prof.KernelBase),
		Size: memory.Size(k.prof.KernelSize),
	}
}

func (k *Kernel) Translate(dtb memory.PhysicalAddress, va memory.Address) (memory.PhysicalAddress, error) {
	if err := k.check(); err != nil {
		return 0, err
	}
	return k.tr.Translate(dtb, va)
}

func (k *Kernel) FlushTLB() {
	k.tr.FlushTLB()
}

func (k *Kernel) ReadMemory(addr memory.Address, size memory.Size) ([]byte, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	return k.space.ReadMemory(addr, size)
}

func (k *Kernel) WriteMemory(addr memory.Address, data []byte) error {
	if err := k.check(); err != nil {
		return err
	}
	return k.space.WriteMemory(addr, data)
}

func (k *Kernel) ProcessInfos() iter.Seq2[guestos.ProcessInfo, error] {
	return func(yield func(guestos.ProcessInfo, error) bool) {
		if err := k.check(); err != nil {
			yield(guestos.ProcessInfo{}, err)
			return
		}

		var failed bool
		layout := k.prof.Process
		err := k.walk(k.space, memory.Address(k.prof.ProcessListHead), layout.Links, func(elem memory.Address) bool {
			info, err := k.readProcess(elem)
			if err != nil {
				failed = true
				yield(guestos.ProcessInfo{}, err)
				return false
			}
			return yield(info, nil)
		})
		if err != nil && !failed {
			yield(guestos.ProcessInfo{}, err)
		}
	}
}

func (k *Kernel) ProcessInfoList() ([]guestos.ProcessInfo, error) {
	return guestos.CollectProcesses(k.ProcessInfos())
}

func (k *Kernel) readProcess(elem memory.Address) (guestos.ProcessInfo, error) {
	layout := k.prof.Process
	width := k.prof.PointerWidth()

	pid, err := layout.PID.ReadUint(k.space, elem, width)
	if err != nil {
		return guestos.ProcessInfo{}, fmt.Errorf("pid of process at %s: %w", elem, err)
	}
	name, err := layout.Name.ReadString(k.space, elem, width)
	if err != nil {
		return guestos.ProcessInfo{}, fmt.Errorf("name of process at %s: %w", elem, err)
	}

	info := guestos.ProcessInfo{
		Address: elem,
		PID:     uint32(pid),
		Name:    name,
		DTB:     k.space.DTB(),
		Arch:    k.prof.Arch,
	}
	if layout.DTB.Present() {
		dtb, err := layout.DTB.ReadUint(k.space, elem, width)
		if err != nil {
			return guestos.ProcessInfo{}, fmt.Errorf("dtb of process %d: %w", pid, err)
		}
		info.DTB = memory.PhysicalAddress(dtb)
	}

	// optional fields may live in paged out memory
	if layout.PPID.Present() {
		if ppid, err := layout.PPID.ReadUint(k.space, elem, width); err == nil {
			info.PPID = uint32(ppid)
		} else {
			k.log.Debugln("Failed to read ppid of", pid, err)
		}
	}
	if layout.Path.Present() {
		if info.Path, err = layout.Path.ReadString(k.space, elem, width); err != nil {
			k.log.Debugln("Failed to read path of", pid, err)
		}
	}
	if layout.CommandLine.Present() {
		if info.CommandLine, err = layout.CommandLine.ReadString(k.space, elem, width); err != nil {
			k.log.Debugln("Failed to read command line of", pid, err)
		}
	}
	return info, nil
}

func (k *Kernel) ProcessByInfo(info guestos.ProcessInfo) (guestos.Process, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	return &Process{os: k, info: info, space: k.tr.Space(info.DTB)}, nil
}

func (k *Kernel) ProcessByAddress(addr memory.Address) (guestos.Process, error) {
	info, err := guestos.FindByAddress(k.ProcessInfos(), addr)
	if err != nil {
		return nil, err
	}
	return k.ProcessByInfo(info)
}

func (k *Kernel) ProcessByPID(pid uint32) (guestos.Process, error) {
	info, err := guestos.FindByPID(k.ProcessInfos(), pid)
	if err != nil {
		return nil, err
	}
	return k.ProcessByInfo(info)
}

func (k *Kernel) ProcessByName(name string) (guestos.Process, error) {
	info, err := guestos.FindByName(k.ProcessInfos(), name)
	if err != nil {
		return nil, err
	}
	return k.ProcessByInfo(info)
}

func (k *Kernel) ModuleInfoList() ([]guestos.ModuleInfo, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	if k.prof.ModuleListHead == 0 {
		return nil, nil
	}
	return k.modules(k.space, memory.Address(k.prof.ModuleListHead), 0)
}

func (k *Kernel) ModuleByName(name string) (guestos.ModuleInfo, error) {
	list, err := k.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.ModuleByName(list, name)
}

// modules walks a module list rooted at head inside space.
func (k *Kernel) modules(space memory.View, head memory.Address, owner memory.Address) ([]guestos.ModuleInfo, error) {
	layout := k.prof.Module
	width := k.prof.PointerWidth()

	var (
		out     []guestos.ModuleInfo
		readErr error
	)
	err := k.walk(space, head, layout.Links, func(elem memory.Address) bool {
		m := guestos.ModuleInfo{Address: elem, Process: owner, Arch: k.prof.Arch}
		base, err := layout.Base.ReadUint(space, elem, width)
		if err != nil {
			readErr = fmt.Errorf("base of module at %s: %w", elem, err)
			return false
		}
		m.Base = memory.Address(base)
		if m.Name, err = layout.Name.ReadString(space, elem, width); err != nil {
			readErr = fmt.Errorf("name of module at %s: %w", elem, err)
			return false
		}
		if layout.Size.Present() {
			if size, err := layout.Size.ReadUint(space, elem, width); err == nil {
				m.Size = memory.Size(size)
			}
		}
		if layout.Path.Present() {
			if m.Path, err = layout.Path.ReadString(space, elem, width); err != nil {
				k.log.Debugln("Failed to read path of module", m.Name, err)
			}
		}
		out = append(out, m)
		return true
	})
	if readErr != nil {
		return nil, readErr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (k *Kernel) Close() error {
	if k.life.MarkClosed() {
		k.tr.FlushTLB()
		k.log.Infoln("Kernel closed")
	}
	return nil
}
