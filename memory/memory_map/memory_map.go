package memory_map

import (
	"fmt"
	"sort"
)

// MemoryMapItem represents a mapped region of an address space
type MemoryMapItem struct {
	Address uint64 `json:"address"` // The starting address of the region
	Size    uint64 `json:"size"`    // The size of the region in bytes
	Perms   string `json:"perms"`   // Permissions (e.g., "r-xp" for read, execute, private)
	Offset  uint64 `json:"offset,omitempty"`
	Path    string `json:"path,omitempty"` // Backing file, or pseudo name such as [heap]
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
}

// End returns the first address past the region
func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + mmItem.Size
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return len(mmItem.Perms) > 1 && mmItem.Perms[1] == 'w'
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return len(mmItem.Perms) > 2 && mmItem.Perms[2] == 'x'
}

// IsAnonymous reports whether the region has no backing file
func (mmItem MemoryMapItem) IsAnonymous() bool {
	return mmItem.Path == "" || mmItem.Path[0] == '['
}

// Sort orders the map by address, which Find requires
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// Find returns the region containing addr in a sorted map, or nil
func Find(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}
	return nil
}

// Covers reports whether [addr, addr+size) lies inside a single region of a
// sorted map
func Covers(addr, size uint64, memoryMap []MemoryMapItem) bool {
	item := Find(addr, memoryMap)
	return item != nil && addr+size <= item.End()
}

// Largest returns the largest region accepted by keep, or nil
func Largest(memoryMap []MemoryMapItem, keep func(MemoryMapItem) bool) *MemoryMapItem {
	var best *MemoryMapItem
	for i := range memoryMap {
		if keep != nil && !keep(memoryMap[i]) {
			continue
		}
		if best == nil || memoryMap[i].Size > best.Size {
			best = &memoryMap[i]
		}
	}
	return best
}
