// Package connector_blob serves physical memory from an in-memory buffer.
package connector_blob

import (
	"fmt"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/memory"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
)

// DriverName is the inventory driver name of this connector.
const DriverName = "blob"

// DefaultSize is the buffer size used when no size argument is given.
const DefaultSize = memory.Size(16 << 20)

// MaxSize bounds the size argument of Open.
const MaxSize = memory.Size(64 << 30)

// Blob is a zero based physical memory buffer.
type Blob struct {
	connector.Lifetime

	data     []byte
	readonly bool
	log      *logger.Logger
}

var _ connector.Connector = (*Blob)(nil)

// New returns a writable Blob over data. The buffer is used in place.
func New(data []byte) *Blob {
	return &Blob{
		data: data,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("blob-%s", humanize.IBytes(uint64(len(data)))))),
	}
}

// NewReadOnly returns a Blob over data that rejects writes.
func NewReadOnly(data []byte) *Blob {
	b := New(data)
	b.readonly = true
	return b
}

// Open builds a zero filled Blob from arguments.
//
// Accepted keys: size (bytes or humanized, default 16MiB), readonly.
func Open(a args.Args) (connector.Connector, error) {
	if err := a.Only("size", "readonly"); err != nil {
		return nil, err
	}
	size, err := a.GetSize("size", DefaultSize)
	if err != nil {
		return nil, err
	}
	if size == 0 || size > MaxSize {
		return nil, fmt.Errorf("blob size %d must be in 1..%d: %w", uint64(size), uint64(MaxSize), memory.ErrArgument)
	}
	readonly, err := a.GetBool("readonly", false)
	if err != nil {
		return nil, err
	}

	b := New(make([]byte, size))
	b.readonly = readonly
	b.log.Debugln("Blob created", humanize.IBytes(uint64(size)), "readonly:", readonly)
	return b, nil
}

// Data returns the backing buffer.
func (b *Blob) Data() []byte {
	return b.data
}

func (b *Blob) Metadata() connector.Metadata {
	return connector.Metadata{
		MaxAddress:     memory.PhysicalAddress(len(b.data)),
		RealSize:       memory.Size(len(b.data)),
		ReadOnly:       b.readonly,
		IdealBatchSize: memory.Size(len(b.data)),
	}
}

func (b *Blob) ReadPhys(addr memory.PhysicalAddress, size memory.Size) ([]byte, error) {
	if err := connector.CheckBounds(b.Metadata(), addr, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := b.read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *Blob) read(addr memory.PhysicalAddress, buf []byte) error {
	if err := b.Check("blob"); err != nil {
		return err
	}
	if err := connector.CheckBounds(b.Metadata(), addr, memory.Size(len(buf))); err != nil {
		return err
	}
	copy(buf, b.data[addr:])
	return nil
}

func (b *Blob) ReadPhysList(ops []connector.PhysReadOp) error {
	return connector.ReadSerial(ops, b.read)
}

func (b *Blob) WritePhys(addr memory.PhysicalAddress, data []byte) error {
	if err := b.Check("blob"); err != nil {
		return err
	}
	if err := connector.CheckWrite(b.Metadata(), addr, memory.Size(len(data))); err != nil {
		return err
	}
	copy(b.data[addr:], data)
	return nil
}

func (b *Blob) Close() error {
	if b.MarkClosed() {
		b.log.Debugln("Blob closed")
	}
	return nil
}
