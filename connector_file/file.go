// Package connector_file serves physical memory from a raw image file.
package connector_file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/memory"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
)

// DriverName is the inventory driver name of this connector.
const DriverName = "file"

const idealBatchSize = memory.Size(1 << 20)

// File reads physical memory from offset 0 of a raw image.
type File struct {
	connector.Lifetime

	f    *os.File
	size memory.Size
	rw   bool
	log  *logger.Logger
}

var _ connector.Connector = (*File)(nil)

// Open opens the image named by the default value or path=.
//
// Accepted keys: path, rw (open read-write), size (bound override, at most
// the file size).
func Open(a args.Args) (connector.Connector, error) {
	if err := a.Only("path", "rw", "size"); err != nil {
		return nil, err
	}
	path := a.DefaultOr("path", "")
	if path == "" {
		return nil, fmt.Errorf("file connector needs a path: %w", memory.ErrArgument)
	}
	rw, err := a.GetBool("rw", false)
	if err != nil {
		return nil, err
	}

	f, err := OpenPath(path, rw)
	if err != nil {
		return nil, err
	}

	if v, ok := a.Get("size"); ok {
		size, err := a.GetSize("size", 0)
		if err != nil {
			f.Close()
			return nil, err
		}
		if size == 0 || size > f.size {
			f.Close()
			return nil, fmt.Errorf("size=%s exceeds image of %s: %w", v, humanize.IBytes(uint64(f.size)), memory.ErrArgument)
		}
		f.size = size
	}
	return f, nil
}

// OpenPath opens the image at path.
func OpenPath(path string, rw bool) (*File, error) {
	flag := os.O_RDONLY
	if rw {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if !st.Mode().IsRegular() && st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("%s is not a sized regular file: %w", path, memory.ErrArgument)
	}

	result := &File{
		f:    f,
		size: memory.Size(st.Size()),
		rw:   rw,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "file-"+filepath.Base(path))),
	}
	result.log.Infoln("Image opened", path, humanize.IBytes(uint64(result.size)), "rw:", rw)
	return result, nil
}

func (c *File) Metadata() connector.Metadata {
	return connector.Metadata{
		MaxAddress:     memory.PhysicalAddress(c.size),
		RealSize:       c.size,
		ReadOnly:       !c.rw,
		IdealBatchSize: idealBatchSize,
	}
}

func (c *File) read(addr memory.PhysicalAddress, buf []byte) error {
	if err := c.Check("file"); err != nil {
		return err
	}
	if err := connector.CheckBounds(c.Metadata(), addr, memory.Size(len(buf))); err != nil {
		return err
	}
	n, err := c.f.ReadAt(buf, int64(addr))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return fmt.Errorf("read image at %s: %w", addr, err)
	}
	return nil
}

func (c *File) ReadPhys(addr memory.PhysicalAddress, size memory.Size) ([]byte, error) {
	if err := connector.CheckBounds(c.Metadata(), addr, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := c.read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *File) ReadPhysList(ops []connector.PhysReadOp) error {
	return connector.ReadSerial(ops, c.read)
}

func (c *File) WritePhys(addr memory.PhysicalAddress, data []byte) error {
	if err := c.Check("file"); err != nil {
		return err
	}
	if err := connector.CheckWrite(c.Metadata(), addr, memory.Size(len(data))); err != nil {
		return err
	}
	if _, err := c.f.WriteAt(data, int64(addr)); err != nil {
		return fmt.Errorf("write image at %s: %w", addr, err)
	}
	return nil
}

func (c *File) Close() error {
	if !c.MarkClosed() {
		return nil
	}
	c.log.Infoln("Closing image")
	return c.f.Close()
}
