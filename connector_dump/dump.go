// Package connector_dump reads and writes physical memory snapshot
// directories: a metadata.json file plus one raw file per saved range.
package connector_dump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gomemflow/arch"
	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/memory"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
)

// DriverName is the inventory driver name of this connector.
const DriverName = "dump"

const metadataFile = "metadata.json"

// Range is one saved physical range.
type Range struct {
	Address memory.PhysicalAddress `json:"address"`
	Size    memory.Size            `json:"size"`
}

func (r Range) End() memory.PhysicalAddress {
	return r.Address + memory.PhysicalAddress(r.Size)
}

func (r Range) filename() string {
	return fmt.Sprintf("range_0x%x_%d.bin", uint64(r.Address), uint64(r.Size))
}

// Metadata is the content of metadata.json.
type Metadata struct {
	ID         string                 `json:"id"`
	Created    string                 `json:"created"`
	MaxAddress memory.PhysicalAddress `json:"max_address"`
	Arch       arch.Ident             `json:"arch,omitempty"`
	Ranges     []Range                `json:"ranges"`
}

// sortRanges returns a sorted copy of ranges. Empty, wrapping and
// overlapping ranges fail with memory.ErrArgument.
func sortRanges(ranges []Range) ([]Range, error) {
	out := slices.Clone(ranges)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	for i, r := range out {
		if r.Size == 0 {
			return nil, fmt.Errorf("empty range at %s: %w", r.Address, memory.ErrArgument)
		}
		if r.End() <= r.Address {
			return nil, fmt.Errorf("range %s+%#x wraps: %w", r.Address, uint64(r.Size), memory.ErrArgument)
		}
		if i > 0 && r.Address < out[i-1].End() {
			return nil, fmt.Errorf("range %s overlaps %s+%#x: %w", r.Address, out[i-1].Address, uint64(out[i-1].Size), memory.ErrArgument)
		}
	}
	return out, nil
}

type blob struct {
	Range
	data []byte
}

// Dump is a read-only connector over a loaded snapshot.
type Dump struct {
	connector.Lifetime

	meta  Metadata
	blobs []blob
	log   *logger.Logger
}

var _ connector.Connector = (*Dump)(nil)

// Open loads the snapshot named by the default value or dir=.
func Open(a args.Args) (connector.Connector, error) {
	if err := a.Only("dir"); err != nil {
		return nil, err
	}
	dir := a.DefaultOr("dir", "")
	if dir == "" {
		return nil, fmt.Errorf("dump connector needs a directory: %w", memory.ErrArgument)
	}
	return Load(dir)
}

// Load reads the snapshot in dirname.
func Load(dirname string) (*Dump, error) {
	raw, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	d := &Dump{
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dump-"+filepath.Base(dirname))),
	}
	if err := json.Unmarshal(raw, &d.meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %v: %w", err, memory.ErrArgument)
	}

	if d.meta.Ranges, err = sortRanges(d.meta.Ranges); err != nil {
		return nil, err
	}

	var total uint64
	for _, r := range d.meta.Ranges {
		if r.End() > d.meta.MaxAddress {
			return nil, fmt.Errorf("range %s+%#x exceeds max address %s: %w", r.Address, uint64(r.Size), d.meta.MaxAddress, memory.ErrArgument)
		}
		data, err := os.ReadFile(filepath.Join(dirname, r.filename()))
		if err != nil {
			return nil, fmt.Errorf("failed to read range %s: %w", r.filename(), err)
		}
		if memory.Size(len(data)) != r.Size {
			return nil, fmt.Errorf("range %s holds %d bytes, metadata says %d: %w", r.filename(), len(data), r.Size, memory.ErrSizeMismatch)
		}
		d.blobs = append(d.blobs, blob{Range: r, data: data})
		total += uint64(r.Size)
	}

	d.log.Infoln("Snapshot loaded", d.meta.ID, len(d.blobs), "ranges", humanize.IBytes(total))
	return d, nil
}

// Info returns the snapshot metadata.
func (d *Dump) Info() Metadata {
	return d.meta
}

func (d *Dump) Metadata() connector.Metadata {
	var backed memory.Size
	for _, b := range d.blobs {
		backed += b.Size
	}
	return connector.Metadata{
		MaxAddress:     d.meta.MaxAddress,
		RealSize:       backed,
		ReadOnly:       true,
		IdealBatchSize: backed,
	}
}

// find returns the index of the range holding addr, or -1
func (d *Dump) find(addr memory.PhysicalAddress) int {
	i := sort.Search(len(d.blobs), func(i int) bool {
		return d.blobs[i].End() > addr
	})
	if i < len(d.blobs) && d.blobs[i].Address <= addr {
		return i
	}
	return -1
}

// covered checks that [addr, addr+size) lies in saved ranges without holes.
func (d *Dump) covered(addr memory.PhysicalAddress, size memory.Size) error {
	if err := connector.CheckBounds(d.Metadata(), addr, size); err != nil {
		return err
	}
	end := addr + memory.PhysicalAddress(size)
	for cur := addr; cur < end; {
		i := d.find(cur)
		if i < 0 {
			return fmt.Errorf("physical %s is not in the snapshot: %w", cur, memory.ErrOutOfBounds)
		}
		cur = d.blobs[i].End()
	}
	return nil
}

func (d *Dump) read(addr memory.PhysicalAddress, buf []byte) error {
	if err := d.Check("dump"); err != nil {
		return err
	}
	if err := connector.CheckBounds(d.Metadata(), addr, memory.Size(len(buf))); err != nil {
		return err
	}

	// a read may run across adjacent ranges, but never across a hole
	for off := 0; off < len(buf); {
		cur := addr + memory.PhysicalAddress(off)
		i := d.find(cur)
		if i < 0 {
			return fmt.Errorf("physical %s is not in the snapshot: %w", cur, memory.ErrOutOfBounds)
		}
		b := d.blobs[i]
		off += copy(buf[off:], b.data[cur-b.Address:])
	}
	return nil
}

func (d *Dump) ReadPhys(addr memory.PhysicalAddress, size memory.Size) ([]byte, error) {
	if err := d.covered(addr, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := d.read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Dump) ReadPhysList(ops []connector.PhysReadOp) error {
	return connector.ReadSerial(ops, d.read)
}

func (d *Dump) WritePhys(addr memory.PhysicalAddress, data []byte) error {
	if err := d.Check("dump"); err != nil {
		return err
	}
	return connector.CheckWrite(d.Metadata(), addr, memory.Size(len(data)))
}

func (d *Dump) Close() error {
	if d.MarkClosed() {
		d.log.Infoln("Closing snapshot")
		d.blobs = nil
	}
	return nil
}
