package os_kernel

import (
	"fmt"

	"gomemflow/guestos"
	"gomemflow/memory"
	"gomemflow/mmu"
)

// Process reads and writes through its own page-table root using the
// parent kernel's translator and cache.
type Process struct {
	os    *Kernel
	info  guestos.ProcessInfo
	space *mmu.AddressSpace
}

var _ guestos.Process = (*Process)(nil)

func (p *Process) Info() guestos.ProcessInfo {
	return p.info
}

func (p *Process) ReadMemory(addr memory.Address, size memory.Size) ([]byte, error) {
	if err := p.os.check(); err != nil {
		return nil, err
	}
	return p.space.ReadMemory(addr, size)
}

func (p *Process) ReadMemoryList(ops []memory.ReadOp) error {
	if err := p.os.check(); err != nil {
		return err
	}
	return p.space.ReadMemoryList(ops)
}

func (p *Process) WriteMemory(addr memory.Address, data []byte) error {
	if err := p.os.check(); err != nil {
		return err
	}
	return p.space.WriteMemory(addr, data)
}

// moduleHead reads the user address of the module list head out of the
// kernel process object.
func (p *Process) moduleHead() (memory.Address, error) {
	field := p.os.prof.Process.ModuleList
	head, err := field.ReadUint(p.os.space, p.info.Address, p.os.prof.PointerWidth())
	if err != nil {
		return 0, fmt.Errorf("module list of process %d: %w", p.info.PID, err)
	}
	return memory.Address(head), nil
}

func (p *Process) ModuleInfoList() ([]guestos.ModuleInfo, error) {
	if err := p.os.check(); err != nil {
		return nil, err
	}
	if !p.os.prof.Process.ModuleList.Present() {
		return nil, nil
	}
	head, err := p.moduleHead()
	if err != nil {
		return nil, err
	}
	if head == 0 {
		// no user space, as for the idle and system processes
		return nil, nil
	}
	return p.os.modules(p.space, head, p.info.Address)
}

func (p *Process) ModuleByName(name string) (guestos.ModuleInfo, error) {
	list, err := p.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.ModuleByName(list, name)
}

func (p *Process) ModuleByAddress(addr memory.Address) (guestos.ModuleInfo, error) {
	list, err := p.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.ModuleByAddress(list, addr)
}

func (p *Process) PrimaryModule() (guestos.ModuleInfo, error) {
	list, err := p.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.PrimaryModule(p.info, list)
}
