package mmu

import (
	"fmt"

	"gomemflow/connector"
	"gomemflow/memory"
)

// Translator translates and performs virtual memory I/O for any number of
// page-table roots over one connector, sharing a translation cache.
type Translator struct {
	walker Walker
	conn   connector.Connector
	cache  *tlb
}

// NewTranslator returns a Translator with a cache of at most tlbEntries
// entries (DefaultTLBEntries when <= 0).
func NewTranslator(w Walker, c connector.Connector, tlbEntries int) *Translator {
	return &Translator{walker: w, conn: c, cache: newTLB(tlbEntries)}
}

func (t *Translator) Walker() Walker { return t.walker }

// Translate returns the physical address of va under dtb.
func (t *Translator) Translate(dtb memory.PhysicalAddress, va memory.Address) (memory.PhysicalAddress, error) {
	tr, err := t.TranslatePage(dtb, va)
	if err != nil {
		return 0, err
	}
	return tr.Phys, nil
}

// TranslatePage returns the translation of va including the mapping page size.
func (t *Translator) TranslatePage(dtb memory.PhysicalAddress, va memory.Address) (Translation, error) {
	if tr, ok := t.cache.lookup(dtb, va); ok {
		return tr, nil
	}
	tr, err := t.walker.Walk(t.conn, dtb, va)
	if err != nil {
		return Translation{}, err
	}
	t.cache.insert(dtb, va, tr)
	return tr, nil
}

// FlushTLB drops every cached translation.
func (t *Translator) FlushTLB() {
	t.cache.flush()
}

// TLBStats reports the cache occupancy and hit counters.
func (t *Translator) TLBStats() (entries int, hits, misses uint64) {
	return t.cache.stats()
}

// span is a contiguous physical piece of one virtual op
type span struct {
	op   int
	phys memory.PhysicalAddress
	buf  []byte
}

// split translates [va, va+len(buf)) page by page, merging physically
// contiguous pages.
func (t *Translator) split(dtb memory.PhysicalAddress, va memory.Address, buf []byte, op int, out []span) ([]span, error) {
	first := len(out)
	for off := 0; off < len(buf); {
		cur := va.Add(memory.Size(off))
		phys, err := t.Translate(dtb, cur)
		if err != nil {
			return out[:first], err
		}
		n := int(page4K - memory.Size(uint64(cur)&uint64(page4K-1)))
		if n > len(buf)-off {
			n = len(buf) - off
		}
		if last := len(out) - 1; last >= first && out[last].phys+memory.PhysicalAddress(len(out[last].buf)) == phys {
			out[last].buf = buf[off-len(out[last].buf) : off+n]
		} else {
			out = append(out, span{op: op, phys: phys, buf: buf[off : off+n]})
		}
		off += n
	}
	return out, nil
}

// ReadList fills every op from the address space rooted at dtb in one
// ReadPhysList transaction. Each op reports its own error; the first error
// is returned.
func (t *Translator) ReadList(dtb memory.PhysicalAddress, ops []memory.ReadOp) error {
	var (
		spans []span
		first error
	)
	for i := range ops {
		ops[i].Err = nil
		var err error
		spans, err = t.split(dtb, ops[i].Addr, ops[i].Buf, i, spans)
		if err != nil {
			ops[i].Err = err
			if first == nil {
				first = err
			}
		}
	}
	if len(spans) == 0 {
		return first
	}

	phys := make([]connector.PhysReadOp, len(spans))
	for i, s := range spans {
		phys[i] = connector.PhysReadOp{Addr: s.phys, Buf: s.buf}
	}
	t.conn.ReadPhysList(phys)

	for i, s := range spans {
		if phys[i].Err != nil && ops[s.op].Err == nil {
			ops[s.op].Err = phys[i].Err
		}
	}
	// first error in op order
	for i := range ops {
		if ops[i].Err != nil {
			return ops[i].Err
		}
	}
	return nil
}

// Read reads size bytes at va under dtb.
func (t *Translator) Read(dtb memory.PhysicalAddress, va memory.Address, size memory.Size) ([]byte, error) {
	if err := memory.CheckSpan(va, size); err != nil {
		return nil, err
	}
	if err := t.mapped(dtb, va, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	ops := []memory.ReadOp{{Addr: va, Buf: buf}}
	if err := t.ReadList(dtb, ops); err != nil {
		return nil, err
	}
	return buf, nil
}

// mapped translates every page of [va, va+size), stepping by the size of
// each mapping, so Read fails before allocating for an unbacked range.
func (t *Translator) mapped(dtb memory.PhysicalAddress, va memory.Address, size memory.Size) error {
	for cur, left := va, size; left > 0; {
		tr, err := t.TranslatePage(dtb, cur)
		if err != nil {
			return err
		}
		page := tr.PageSize
		if page == 0 {
			page = page4K
		}
		step := page - memory.Size(uint64(cur)&uint64(page-1))
		if step >= left {
			return nil
		}
		left -= step
		cur = cur.Add(step)
	}
	return nil
}

// Write writes data at va under dtb. Every page is translated before any
// byte is written, and the cache is flushed afterwards since the write may
// have touched page tables.
func (t *Translator) Write(dtb memory.PhysicalAddress, va memory.Address, data []byte) error {
	spans, err := t.split(dtb, va, data, 0, nil)
	if err != nil {
		return err
	}
	defer t.cache.flush()
	for _, s := range spans {
		if err := t.conn.WritePhys(s.phys, s.buf); err != nil {
			return fmt.Errorf("write %s: %w", va, err)
		}
	}
	return nil
}

// Space returns the address space rooted at dtb as a memory.View.
func (t *Translator) Space(dtb memory.PhysicalAddress) *AddressSpace {
	return &AddressSpace{t: t, dtb: dtb}
}

// AddressSpace is one page-table root bound to a Translator.
type AddressSpace struct {
	t   *Translator
	dtb memory.PhysicalAddress
}

var _ memory.BatchView = (*AddressSpace)(nil)

func (s *AddressSpace) DTB() memory.PhysicalAddress { return s.dtb }

func (s *AddressSpace) ReadMemory(addr memory.Address, size memory.Size) ([]byte, error) {
	return s.t.Read(s.dtb, addr, size)
}

func (s *AddressSpace) WriteMemory(addr memory.Address, data []byte) error {
	return s.t.Write(s.dtb, addr, data)
}

func (s *AddressSpace) ReadMemoryList(ops []memory.ReadOp) error {
	return s.t.ReadList(s.dtb, ops)
}

func (s *AddressSpace) Translate(addr memory.Address) (memory.PhysicalAddress, error) {
	return s.t.Translate(s.dtb, addr)
}
