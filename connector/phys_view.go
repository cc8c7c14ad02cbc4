package connector

import (
	"gomemflow/memory"
)

// PhysView exposes a connector as a memory.View with identity addressing, so
// typed helpers work directly on physical memory.
type PhysView struct {
	Conn Connector
}

var _ memory.BatchView = PhysView{}

func (v PhysView) ReadMemory(addr memory.Address, size memory.Size) ([]byte, error) {
	return v.Conn.ReadPhys(memory.PhysicalAddress(addr), size)
}

func (v PhysView) WriteMemory(addr memory.Address, data []byte) error {
	return v.Conn.WritePhys(memory.PhysicalAddress(addr), data)
}

func (v PhysView) ReadMemoryList(ops []memory.ReadOp) error {
	phys := make([]PhysReadOp, len(ops))
	for i := range ops {
		phys[i] = PhysReadOp{Addr: memory.PhysicalAddress(ops[i].Addr), Buf: ops[i].Buf}
	}
	err := v.Conn.ReadPhysList(phys)
	for i := range ops {
		ops[i].Err = phys[i].Err
	}
	return err
}
