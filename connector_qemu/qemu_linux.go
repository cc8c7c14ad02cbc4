package connector_qemu

import (
	"fmt"
	"strconv"
	"strings"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/memory"
	"gomemflow/memory/memory_map"
	"gomemflow/procfs"
	"gomemflow/vmio"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
)

const idealBatchSize = memory.Size(1 << 20)

// Qemu maps guest physical address p to host address base+p in the QEMU
// process.
type Qemu struct {
	connector.Lifetime

	pid  int
	base memory.Address
	size memory.Size
	ram  memory_map.MemoryMapItem
	log  *logger.Logger
}

var _ connector.Connector = (*Qemu)(nil)

// Open attaches to a QEMU process on the host.
//
// Accepted keys: pid (or a numeric default value), name (or a non-numeric
// default value), map (substring the guest RAM mapping path must contain).
func Open(a args.Args) (connector.Connector, error) {
	return OpenFS(procfs.Default, a)
}

// OpenFS is Open against an arbitrary procfs mount.
func OpenFS(fsys procfs.FS, a args.Args) (*Qemu, error) {
	if err := a.Only("pid", "name", "map"); err != nil {
		return nil, err
	}

	pid, err := findPID(fsys, a)
	if err != nil {
		return nil, err
	}

	mm, err := fsys.Maps(pid)
	if err != nil {
		return nil, fmt.Errorf("qemu pid %d: %w", pid, err)
	}

	filter, hasFilter := a.Get("map")
	ram := memory_map.Largest(mm, func(item memory_map.MemoryMapItem) bool {
		if !item.IsReadable() || !item.IsWritable() {
			return false
		}
		if hasFilter {
			return strings.Contains(item.Path, filter)
		}
		return item.Path == "" || strings.HasPrefix(item.Path, "/memfd:")
	})
	if ram == nil {
		return nil, fmt.Errorf("no guest ram mapping in pid %d: %w", pid, memory.ErrNotFound)
	}

	q := &Qemu{
		pid:  pid,
		base: memory.Address(ram.Address),
		size: memory.Size(ram.Size),
		ram:  *ram,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("qemu-%d", pid))),
	}
	q.log.Infoln("Guest ram at", q.base, humanize.IBytes(uint64(q.size)))
	return q, nil
}

func findPID(fsys procfs.FS, a args.Args) (int, error) {
	if v, ok := a.Get("pid"); ok {
		pid, err := strconv.Atoi(v)
		if err != nil || pid <= 0 {
			return 0, fmt.Errorf("pid=%q: %w", v, memory.ErrArgument)
		}
		if !fsys.Exists(pid) {
			return 0, fmt.Errorf("pid %d: %w", pid, memory.ErrNotFound)
		}
		return pid, nil
	}

	name := a.GetOr("name", "")
	if def := a.Default(); def != "" {
		if pid, err := strconv.Atoi(def); err == nil {
			if !fsys.Exists(pid) {
				return 0, fmt.Errorf("pid %d: %w", pid, memory.ErrNotFound)
			}
			return pid, nil
		}
		if name == "" {
			name = def
		}
	}
	if name == "" {
		name = DefaultProcessName
	}

	matches, err := fsys.ByName(name)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("no process named %q: %w", name, memory.ErrNotFound)
	}
	return matches[0].PID, nil
}

// PID returns the QEMU process id.
func (q *Qemu) PID() int {
	return q.pid
}

// Mapping returns the host mapping backing guest ram.
func (q *Qemu) Mapping() memory_map.MemoryMapItem {
	return q.ram
}

func (q *Qemu) Metadata() connector.Metadata {
	return connector.Metadata{
		MaxAddress:     memory.PhysicalAddress(q.size),
		RealSize:       q.size,
		IdealBatchSize: idealBatchSize,
	}
}

func (q *Qemu) host(addr memory.PhysicalAddress) memory.Address {
	return q.base.Add(memory.Size(addr))
}

func (q *Qemu) ReadPhys(addr memory.PhysicalAddress, size memory.Size) ([]byte, error) {
	if err := connector.CheckBounds(q.Metadata(), addr, size); err != nil {
		return nil, err
	}
	ops := []connector.PhysReadOp{{Addr: addr, Buf: make([]byte, size)}}
	if err := q.ReadPhysList(ops); err != nil {
		return nil, err
	}
	return ops[0].Buf, nil
}

// ReadPhysList issues every in-bounds op in one vectored read.
func (q *Qemu) ReadPhysList(ops []connector.PhysReadOp) error {
	if err := q.Check("qemu"); err != nil {
		return err
	}

	md := q.Metadata()
	host := make([]memory.ReadOp, 0, len(ops))
	index := make([]int, 0, len(ops))
	for i := range ops {
		ops[i].Err = connector.CheckBounds(md, ops[i].Addr, memory.Size(len(ops[i].Buf)))
		if ops[i].Err != nil {
			continue
		}
		host = append(host, memory.ReadOp{Addr: q.host(ops[i].Addr), Buf: ops[i].Buf})
		index = append(index, i)
	}

	if len(host) > 0 {
		vmio.ReadList(q.pid, host)
		for k, i := range index {
			ops[i].Err = host[k].Err
		}
	}

	for i := range ops {
		if ops[i].Err != nil {
			return ops[i].Err
		}
	}
	return nil
}

func (q *Qemu) WritePhys(addr memory.PhysicalAddress, data []byte) error {
	if err := q.Check("qemu"); err != nil {
		return err
	}
	if err := connector.CheckWrite(q.Metadata(), addr, memory.Size(len(data))); err != nil {
		return err
	}
	return vmio.Write(q.pid, q.host(addr), data)
}

func (q *Qemu) Close() error {
	if q.MarkClosed() {
		q.log.Infoln("Detached")
	}
	return nil
}
