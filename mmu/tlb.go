package mmu

import (
	"sync"

	"gomemflow/memory"
)

// DefaultTLBEntries bounds the translation cache when no size is given.
const DefaultTLBEntries = 4096

type tlbKey struct {
	dtb   memory.PhysicalAddress
	vpage memory.Address
}

type tlbEntry struct {
	ppage    memory.PhysicalAddress
	pageSize memory.Size
}

// tlb caches 4K slices of translations. When full it drops everything.
type tlb struct {
	mu      sync.Mutex
	entries map[tlbKey]tlbEntry
	limit   int
	hits    uint64
	misses  uint64
}

func newTLB(limit int) *tlb {
	if limit <= 0 {
		limit = DefaultTLBEntries
	}
	return &tlb{entries: make(map[tlbKey]tlbEntry), limit: limit}
}

func (c *tlb) lookup(dtb memory.PhysicalAddress, va memory.Address) (Translation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tlbKey{dtb, va.AlignDown(page4K)}]
	if !ok {
		c.misses++
		return Translation{}, false
	}
	c.hits++
	return Translation{Phys: e.ppage | memory.PhysicalAddress(uint64(va)&uint64(page4K-1)), PageSize: e.pageSize}, true
}

func (c *tlb) insert(dtb memory.PhysicalAddress, va memory.Address, t Translation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.limit {
		clear(c.entries)
	}
	c.entries[tlbKey{dtb, va.AlignDown(page4K)}] = tlbEntry{
		ppage:    t.Phys &^ memory.PhysicalAddress(page4K-1),
		pageSize: t.PageSize,
	}
}

func (c *tlb) flush() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

func (c *tlb) stats() (entries int, hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.hits, c.misses
}
