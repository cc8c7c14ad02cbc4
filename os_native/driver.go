// Package os_native presents the host Linux system as an OS: processes come
// from procfs and process memory moves through process_vm_readv and
// process_vm_writev. It needs no connector.
package os_native

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gomemflow/arch"
	"gomemflow/guestos"
	"gomemflow/memory"
	"gomemflow/memory/memory_map"
)

// DriverName is the inventory driver name of this OS.
const DriverName = "native"

// HostArch maps the running GOARCH onto an architecture identifier.
func HostArch() arch.Ident {
	switch runtime.GOARCH {
	case "386":
		return arch.X86
	case "arm64":
		return arch.AArch64
	}
	return arch.X86_64
}

// groupModules folds the file backed mappings of a maps listing into one
// module per backing path, spanning from its lowest start to its highest end.
func groupModules(mm []memory_map.MemoryMapItem, owner memory.Address, a arch.Ident) []guestos.ModuleInfo {
	byPath := map[string]int{}
	var out []guestos.ModuleInfo
	for _, item := range mm {
		if item.IsAnonymous() || strings.HasSuffix(item.Path, " (deleted)") {
			continue
		}
		i, ok := byPath[item.Path]
		if !ok {
			byPath[item.Path] = len(out)
			out = append(out, guestos.ModuleInfo{
				Address: memory.Address(item.Address),
				Process: owner,
				Base:    memory.Address(item.Address),
				Size:    memory.Size(item.Size),
				Name:    filepath.Base(item.Path),
				Path:    item.Path,
				Arch:    a,
			})
			continue
		}
		m := &out[i]
		end := max(uint64(m.Base)+uint64(m.Size), item.End())
		if base := memory.Address(item.Address); base < m.Base {
			m.Base, m.Address = base, base
		}
		m.Size = memory.Size(end - uint64(m.Base))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}
